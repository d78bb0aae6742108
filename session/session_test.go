package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/onnwee/snapcast/testutil"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type memStore struct {
	mu   sync.Mutex
	rows map[string]Record
}

func (s *memStore) Create(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows == nil {
		s.rows = map[string]Record{}
	}
	s.rows[r.ID] = r
	return nil
}

func (s *memStore) Lookup(_ context.Context, id string, now time.Time) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok || !r.ExpiresAt.After(now) {
		return nil, ErrNoSession
	}
	return &Identity{UserID: r.UserID, SessionID: r.ID, ExpiresAt: r.ExpiresAt, Name: "Test"}, nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func newTestManager() (*Manager, *memStore, *time.Time) {
	store := &memStore{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(store, testSecret, time.Hour, true)
	m.now = func() time.Time { return now }
	return m, store, &now
}

func TestIssueAndResolve(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	tok, exp, err := m.Issue(ctx, "user-1", "10.0.0.1", "test-agent")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.Equal(m.now().Add(time.Hour)) {
		t.Errorf("exp = %v", exp)
	}
	id, err := m.Resolve(ctx, tok)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.UserID != "user-1" || id.SessionID == "" {
		t.Fatalf("identity = %+v", id)
	}
}

func TestResolveRejects(t *testing.T) {
	m, _, now := newTestManager()
	ctx := context.Background()
	tok, _, err := m.Issue(ctx, "user-1", "", "")
	if err != nil {
		t.Fatal(err)
	}

	other := NewManager(&memStore{}, "another-secret-another-secret-xx", time.Hour, false)
	other.now = m.now
	if _, err := other.Resolve(ctx, tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong secret err = %v", err)
	}

	if _, err := m.Resolve(ctx, "not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage err = %v", err)
	}

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-1", ID: "x", Issuer: issuer}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := m.Resolve(ctx, none); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("alg none err = %v", err)
	}

	*now = now.Add(2 * time.Hour)
	if _, err := m.Resolve(ctx, tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired err = %v", err)
	}
}

func TestRevoke(t *testing.T) {
	m, store, _ := newTestManager()
	ctx := context.Background()
	tok, _, _ := m.Issue(ctx, "user-1", "", "")

	if err := m.Revoke(ctx, tok); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if len(store.rows) != 0 {
		t.Fatal("session row not deleted")
	}
	if _, err := m.Resolve(ctx, tok); !errors.Is(err, ErrNoSession) {
		t.Fatalf("resolve after revoke err = %v", err)
	}
}

func TestMiddlewareAttachesIdentity(t *testing.T) {
	m, _, _ := newTestManager()
	tok, exp, _ := m.Issue(context.Background(), "user-7", "", "")

	var seen string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
	}))

	tests := []struct {
		name  string
		setup func(*http.Request)
		want  string
	}{
		{"anonymous", func(*http.Request) {}, ""},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }, "user-7"},
		{"cookie", func(r *http.Request) {
			rec := httptest.NewRecorder()
			m.SetCookie(rec, tok, exp)
			r.AddCookie(rec.Result().Cookies()[0])
		}, "user-7"},
		{"bad token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer junk") }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = "unset"
			req := httptest.NewRequest(http.MethodGet, "/api/videos", nil)
			tt.setup(req)
			h.ServeHTTP(httptest.NewRecorder(), req)
			if seen != tt.want {
				t.Fatalf("user = %q, want %q", seen, tt.want)
			}
		})
	}
}

func TestCookies(t *testing.T) {
	m, _, _ := newTestManager()
	rec := httptest.NewRecorder()
	m.SetCookie(rec, "tok", time.Now().Add(time.Hour))
	c := rec.Result().Cookies()[0]
	if c.Name != CookieName || !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteLaxMode {
		t.Fatalf("cookie = %+v", c)
	}

	rec = httptest.NewRecorder()
	m.ClearCookie(rec)
	if c := rec.Result().Cookies()[0]; c.MaxAge >= 0 || c.Value != "" {
		t.Fatalf("cleared cookie = %+v", c)
	}
}

func TestSQLStore(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	uid := testutil.InsertUser(t, database, "sess-user", "Sess")

	store := &SQLStore{DB: database}
	m := NewManager(store, testSecret, time.Hour, false)

	tok, _, err := m.Issue(ctx, uid, "127.0.0.1", "go-test")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	id, err := m.Resolve(ctx, tok)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.UserID != uid || id.Name != "Sess" || id.Email != "sess-user@example.com" {
		t.Fatalf("identity = %+v", id)
	}

	n, err := store.PurgeExpired(ctx, time.Now().Add(2*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("PurgeExpired = %d, %v", n, err)
	}
	if _, err := m.Resolve(ctx, tok); !errors.Is(err, ErrNoSession) {
		t.Fatalf("resolve after purge err = %v", err)
	}
}
