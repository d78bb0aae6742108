// Command migrate-tokens seals provider tokens that were stored in plaintext.
//
// Accounts written before ENCRYPTION_KEY was configured carry encryption_version=0. This
// tool rewrites them with AES-256-GCM sealed tokens and encryption_version=1.
//
// Usage:
//
//	migrate-tokens [--dry-run] [--provider PROVIDER]
//
// Environment Variables:
//
//	DB_DSN: Database connection string (required)
//	ENCRYPTION_KEY: Base64-encoded 32-byte key (required)
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/onnwee/snapcast/crypto"
	"github.com/onnwee/snapcast/db"
)

type accountRow struct {
	ID           string
	UserID       string
	Provider     string
	AccessToken  string
	RefreshToken string
}

func main() {
	dryRun := flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	provider := flag.String("provider", "", "Migrate accounts of one provider only (default: all)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		slog.Error("DB_DSN environment variable is required")
		os.Exit(1)
	}
	key := os.Getenv("ENCRYPTION_KEY")
	if key == "" {
		slog.Error("ENCRYPTION_KEY environment variable is required for migration")
		os.Exit(1)
	}
	sealer, err := crypto.NewAESSealer(key)
	if err != nil {
		slog.Error("failed to initialize sealer", slog.Any("error", err))
		os.Exit(1)
	}

	database, err := db.Connect(dsn)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.PingContext(ctx); err != nil {
		slog.Error("failed to ping database", slog.Any("error", err))
		os.Exit(1)
	}
	if err := migrateAccounts(ctx, database, sealer, *dryRun, *provider); err != nil {
		slog.Error("migration failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := reportStatus(ctx, database); err != nil {
		slog.Warn("status report failed", slog.Any("error", err))
	}
	slog.Info("migration completed successfully")
}

// migrateAccounts seals every plaintext account row, optionally limited to one provider.
func migrateAccounts(ctx context.Context, database *sql.DB, sealer crypto.Sealer, dryRun bool, provider string) error {
	query := `SELECT id, user_id, provider, COALESCE(access_token,''), COALESCE(refresh_token,'')
		FROM accounts WHERE encryption_version = 0`
	var args []any
	if provider != "" {
		query += " AND provider = $1"
		args = append(args, provider)
	}
	query += " ORDER BY provider, user_id"

	rows, err := database.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query plaintext accounts: %w", err)
	}
	defer rows.Close()
	var accounts []accountRow
	for rows.Next() {
		var a accountRow
		if err := rows.Scan(&a.ID, &a.UserID, &a.Provider, &a.AccessToken, &a.RefreshToken); err != nil {
			return fmt.Errorf("scan account row: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate account rows: %w", err)
	}
	if len(accounts) == 0 {
		slog.Info("no plaintext accounts found to migrate")
		return nil
	}
	slog.Info("found plaintext accounts to migrate", slog.Int("count", len(accounts)), slog.Bool("dry_run", dryRun))

	migrated, failed := 0, 0
	for i, a := range accounts {
		logger := slog.With(
			slog.String("provider", a.Provider),
			slog.String("user_id", a.UserID),
			slog.Int("index", i+1),
			slog.Int("total", len(accounts)))
		if dryRun {
			logger.Info("would migrate account (dry-run)")
			migrated++
			continue
		}
		if err := sealAccount(ctx, database, sealer, a); err != nil {
			logger.Error("failed to migrate account", slog.Any("error", err))
			failed++
			continue
		}
		logger.Info("migrated account")
		migrated++
	}
	slog.Info("migration summary",
		slog.Int("total", len(accounts)),
		slog.Int("migrated", migrated),
		slog.Int("errors", failed),
		slog.Bool("dry_run", dryRun))
	if failed > 0 {
		return fmt.Errorf("migration completed with %d errors", failed)
	}
	return nil
}

func sealAccount(ctx context.Context, database *sql.DB, sealer crypto.Sealer, a accountRow) error {
	access, err := sealer.Seal(a.AccessToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	refresh, err := sealer.Seal(a.RefreshToken)
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}
	// The version guard skips rows another writer sealed since the scan.
	res, err := database.ExecContext(ctx, `UPDATE accounts
		SET access_token=$1, refresh_token=$2, encryption_version=1, updated_at=NOW()
		WHERE id=$3 AND encryption_version=0`, access, refresh, a.ID)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("expected 1 row updated, got %d (account may have been modified concurrently)", n)
	}
	return nil
}

// reportStatus logs how many accounts are stored under each encryption version.
func reportStatus(ctx context.Context, database *sql.DB) error {
	rows, err := database.QueryContext(ctx, `SELECT encryption_version, COUNT(*) FROM accounts GROUP BY encryption_version ORDER BY encryption_version`)
	if err != nil {
		return fmt.Errorf("query status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var version, count int
		if err := rows.Scan(&version, &count); err != nil {
			return fmt.Errorf("scan status row: %w", err)
		}
		desc := fmt.Sprintf("unknown version %d", version)
		switch version {
		case 0:
			desc = "plaintext"
		case 1:
			desc = "encrypted (AES-256-GCM)"
		}
		slog.Info("accounts by encryption version", slog.Int("encryption_version", version), slog.String("description", desc), slog.Int("count", count))
	}
	return rows.Err()
}
