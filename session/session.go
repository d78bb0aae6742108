// Package session issues and resolves sign-in sessions. A session is a row in the sessions
// table referenced by a signed token carried in a cookie or a Bearer header; deleting the
// row revokes the token even before it expires.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/onnwee/snapcast/telemetry"
)

// CookieName is the cookie carrying the session token.
const CookieName = "snapcast_session"

const issuer = "snapcast"

var (
	ErrNoSession    = errors.New("no session")
	ErrInvalidToken = errors.New("invalid session token")
)

// Identity is the signed-in user attached to a request.
type Identity struct {
	ExpiresAt time.Time `json:"expiresAt"`
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Image     string    `json:"image,omitempty"`
}

// Record is a new session row.
type Record struct {
	ExpiresAt time.Time
	ID        string
	UserID    string
	IPAddress string
	UserAgent string
}

// Store persists session rows.
type Store interface {
	Create(ctx context.Context, r Record) error
	// Lookup returns the identity of a live session or ErrNoSession.
	Lookup(ctx context.Context, sessionID string, now time.Time) (*Identity, error)
	Delete(ctx context.Context, sessionID string) error
}

// Manager signs tokens and resolves them against the Store.
type Manager struct {
	store  Store
	now    func() time.Time
	secret []byte
	ttl    time.Duration
	secure bool
}

// NewManager returns a Manager signing with secret. secure marks cookies Secure.
func NewManager(store Store, secret string, ttl time.Duration, secure bool) *Manager {
	return &Manager{store: store, secret: []byte(secret), ttl: ttl, secure: secure, now: time.Now}
}

// Issue creates a session row for userID and returns its signed token.
func (m *Manager) Issue(ctx context.Context, userID, ip, userAgent string) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.ttl)
	rec := Record{ID: uuid.New().String(), UserID: userID, ExpiresAt: exp, IPAddress: ip, UserAgent: userAgent}
	if err := m.store.Create(ctx, rec); err != nil {
		return "", time.Time{}, fmt.Errorf("create session: %w", err)
	}
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   userID,
		ID:        rec.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return token, exp, nil
}

func (m *Manager) parse(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Resolve verifies token and returns the identity of its live session.
func (m *Manager) Resolve(ctx context.Context, token string) (*Identity, error) {
	claims, err := m.parse(token)
	if err != nil {
		return nil, err
	}
	id, err := m.store.Lookup(ctx, claims.ID, m.now())
	if err != nil {
		return nil, err
	}
	if id.UserID != claims.Subject {
		return nil, ErrInvalidToken
	}
	return id, nil
}

// Revoke deletes the session behind token. Unknown or expired sessions are not an error.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	claims := &jwt.RegisteredClaims{}
	// Expired tokens may still be revoked, so only the signature is checked here.
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return m.store.Delete(ctx, claims.ID)
}

// TokenFromRequest returns the Bearer token, falling back to the session cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// SetCookie writes the session cookie.
func (m *Manager) SetCookie(w http.ResponseWriter, token string, exp time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Middleware attaches the identity of a valid session to the request context. Requests
// without a usable token continue anonymously.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := TokenFromRequest(r)
		if tok == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, err := m.Resolve(r.Context(), tok)
		if err != nil {
			if !errors.Is(err, ErrNoSession) && !errors.Is(err, ErrInvalidToken) {
				telemetry.LoggerWithCorr(r.Context()).Warn("session lookup failed", slog.Any("err", err))
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

type ctxKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity attached to ctx, if any.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(*Identity)
	return id, ok && id != nil
}

// UserID returns the signed-in user id or "" for anonymous requests.
func UserID(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok {
		return id.UserID
	}
	return ""
}
