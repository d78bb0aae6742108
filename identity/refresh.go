package identity

import (
	"context"
	"database/sql"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/snapcast/db"
)

// TokenRefresher obtains a fresh token from a refresh token. *Google satisfies it.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// StartRefresher launches a goroutine that periodically refreshes stored Google tokens
// whose expiry falls within window. It stops when ctx is done.
func StartRefresher(ctx context.Context, dbx *sql.DB, r TokenRefresher, interval, window time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval + jitter):
			}
			n, err := RefreshExpiring(ctx, dbx, r, time.Now().Add(window))
			if err != nil {
				slog.Warn("account refresh pass failed", slog.Any("err", err))
				continue
			}
			if n > 0 {
				slog.Info("accounts refreshed", slog.Int("count", n))
			}
		}
	}()
}

// RefreshExpiring refreshes every Google account expiring before cutoff and returns how many
// were updated. A failing account is logged and skipped.
func RefreshExpiring(ctx context.Context, dbx *sql.DB, r TokenRefresher, cutoff time.Time) (int, error) {
	users, err := db.ExpiringAccounts(ctx, dbx, Provider, cutoff)
	if err != nil {
		return 0, err
	}
	refreshed := 0
	for _, uid := range users {
		acct, err := db.GetAccount(ctx, dbx, uid, Provider)
		if err != nil {
			slog.Warn("load account failed", slog.String("user_id", uid), slog.Any("err", err))
			continue
		}
		ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
		tok, err := r.Refresh(ctx2, acct.RefreshToken)
		cancel()
		if err != nil {
			slog.Warn("token refresh failed", slog.String("user_id", uid), slog.Any("err", err))
			continue
		}
		acct.AccessToken = tok.AccessToken
		acct.RefreshToken = tok.RefreshToken
		acct.Expiry = tok.Expiry
		if err := db.UpsertAccount(ctx, dbx, *acct); err != nil {
			slog.Warn("token persist failed", slog.String("user_id", uid), slog.Any("err", err))
			continue
		}
		refreshed++
	}
	return refreshed, nil
}
