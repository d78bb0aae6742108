package session

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"
)

// SQLStore keeps sessions in Postgres.
type SQLStore struct {
	DB *sql.DB
}

// Create inserts a session row.
func (s *SQLStore) Create(ctx context.Context, r Record) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO sessions(id, user_id, expires_at, ip_address, user_agent, created_at)
		VALUES($1,$2,$3,NULLIF($4,''),NULLIF($5,''),NOW())`, r.ID, r.UserID, r.ExpiresAt, r.IPAddress, r.UserAgent)
	return err
}

// Lookup joins a live session with its user.
func (s *SQLStore) Lookup(ctx context.Context, sessionID string, now time.Time) (*Identity, error) {
	var (
		id  Identity
		img sql.NullString
	)
	err := s.DB.QueryRowContext(ctx, `SELECT s.id, s.expires_at, u.id, u.name, u.email, u.image
		FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE s.id = $1 AND s.expires_at > $2`, sessionID, now).
		Scan(&id.SessionID, &id.ExpiresAt, &id.UserID, &id.Name, &id.Email, &img)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	id.Image = img.String
	return &id, nil
}

// Delete removes a session row.
func (s *SQLStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM sessions WHERE id=$1`, sessionID)
	return err
}

// PurgeExpired deletes sessions that expired before now and returns how many were removed.
func (s *SQLStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// StartPurger deletes expired sessions every interval until ctx is done.
func (s *SQLStore) StartPurger(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.PurgeExpired(ctx, time.Now())
				if err != nil {
					slog.Warn("session purge failed", slog.Any("err", err))
					continue
				}
				if n > 0 {
					slog.Info("expired sessions purged", slog.Int64("count", n))
				}
			}
		}
	}()
}
