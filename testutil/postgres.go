package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/onnwee/snapcast/db"
)

// SetupTestDB opens TEST_PG_DSN, applies the schema and empties every table.
// It skips the test if TEST_PG_DSN is not set.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	ctx := context.Background()
	if err := db.Migrate(ctx, database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	if _, err := database.ExecContext(ctx, `TRUNCATE videos, sessions, accounts, users`); err != nil {
		database.Close()
		t.Fatalf("failed to truncate tables: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

// InsertUser adds a user row for tests and returns its id.
func InsertUser(t *testing.T, database *sql.DB, id, name string) string {
	t.Helper()
	got, err := db.UpsertUser(context.Background(), database, db.User{ID: id, Name: name, Email: id + "@example.com"})
	if err != nil {
		t.Fatalf("insert user %s: %v", id, err)
	}
	return got
}
