// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/onnwee/snapcast/config"
	dbpkg "github.com/onnwee/snapcast/db"
	"github.com/onnwee/snapcast/identity"
	"github.com/onnwee/snapcast/ratelimit"
	"github.com/onnwee/snapcast/session"
	"github.com/onnwee/snapcast/video"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
	oauthStateTTL  = 10 * time.Minute
)

// IdentityProvider runs the Google sign-in flow. *identity.Google satisfies it.
type IdentityProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Profile(ctx context.Context, tok *oauth2.Token) (*identity.Profile, error)
	Scope(tok *oauth2.Token) string
}

// EmailChecker refuses unusable sign-in addresses. *identity.EmailValidator satisfies it.
type EmailChecker interface {
	Validate(ctx context.Context, email string) error
}

// Accounts persists users and their provider links at sign-in.
type Accounts interface {
	UpsertUser(ctx context.Context, u dbpkg.User) (string, error)
	UpsertAccount(ctx context.Context, a dbpkg.Account) error
}

// sqlAccounts adapts the db package helpers to Accounts.
type sqlAccounts struct{ db *sql.DB }

func (s sqlAccounts) UpsertUser(ctx context.Context, u dbpkg.User) (string, error) {
	return dbpkg.UpsertUser(ctx, s.db, u)
}

func (s sqlAccounts) UpsertAccount(ctx context.Context, a dbpkg.Account) error {
	return dbpkg.UpsertAccount(ctx, s.db, a)
}

// Deps are the collaborators of the HTTP API. Google, Emails, SignInLimiter and Redis
// may be nil; Accounts defaults to the Postgres helpers on DB.
type Deps struct {
	DB            *sql.DB
	Redis         *redis.Client
	Config        *config.Config
	Videos        *video.Service
	Sessions      *session.Manager
	Google        IdentityProvider
	Emails        EmailChecker
	Accounts      Accounts
	SignInLimiter ratelimit.Limiter
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db         *sql.DB
	redis      *redis.Client
	ctx        context.Context
	cfg        *config.Config
	videos     *video.Service
	sessions   *session.Manager
	google     IdentityProvider
	emails     EmailChecker
	accounts   Accounts
	stateStore map[string]time.Time
	stateMu    sync.RWMutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, d Deps) *Handlers {
	cfg := d.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	accounts := d.Accounts
	if accounts == nil {
		accounts = sqlAccounts{db: d.DB}
	}
	return &Handlers{
		db:         d.DB,
		redis:      d.Redis,
		ctx:        ctx,
		cfg:        cfg,
		videos:     d.Videos,
		sessions:   d.Sessions,
		google:     d.Google,
		emails:     d.Emails,
		accounts:   accounts,
		stateStore: make(map[string]time.Time),
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState adds a new OAuth state to the store with cleanup if needed.
// It reports false when the store is full.
func (h *Handlers) addOAuthState(state string, expiry time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}

	// A full store fails the flow rather than growing without bound.
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}

	h.stateStore[state] = expiry
	return true
}

// consumeOAuthState removes state and reports whether it was issued and still valid.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	delete(h.stateStore, state)
	return ok && time.Now().Before(exp)
}
