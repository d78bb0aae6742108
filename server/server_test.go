package server

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/onnwee/snapcast/bunny"
	"github.com/onnwee/snapcast/config"
	"github.com/onnwee/snapcast/identity"
	"github.com/onnwee/snapcast/ratelimit"
	"github.com/onnwee/snapcast/session"
	"github.com/onnwee/snapcast/testutil"
	"github.com/onnwee/snapcast/video"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// memRepo is an in-memory video.Repository.
type memRepo struct {
	mu     sync.Mutex
	videos map[string]*video.Video
	users  map[string]video.Profile
}

func newMemRepo() *memRepo {
	return &memRepo{videos: map[string]*video.Video{}, users: map[string]video.Profile{}}
}

func (m *memRepo) addUser(id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = video.Profile{ID: id, Name: name, Email: id + "@example.com"}
}

func (m *memRepo) item(v *video.Video) video.Item {
	it := video.Item{Video: *v}
	if u, ok := m.users[v.UserID]; ok {
		it.User = &video.Owner{ID: u.ID, Name: u.Name}
	}
	return it
}

func (m *memRepo) sorted(keep func(*video.Video) bool) []video.Item {
	var out []video.Item
	for _, v := range m.videos {
		if keep(v) {
			out = append(out, m.item(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Video.ID < out[j].Video.ID })
	return out
}

func (m *memRepo) List(_ context.Context, viewerID string, p video.ListParams) (*video.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted(func(v *video.Video) bool {
		visible := v.Visibility == video.VisibilityPublic || (viewerID != "" && v.UserID == viewerID)
		return visible && strings.Contains(strings.ToLower(v.Title), strings.ToLower(p.Search))
	})
	off := video.Offset(p.Page, p.PageSize)
	page := []video.Item{}
	if off < len(all) {
		page = all[off:min(off+p.PageSize, len(all))]
	}
	return &video.Page{Videos: page, Pagination: video.Pagination{
		CurrentPage: p.Page,
		TotalPages:  video.TotalPages(len(all), p.PageSize),
		TotalVideos: len(all),
		PageSize:    p.PageSize,
	}}, nil
}

func (m *memRepo) Profile(_ context.Context, userID string) (*video.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, video.ErrNotFound
	}
	return &u, nil
}

func (m *memRepo) ListByOwner(_ context.Context, ownerID, viewerID, search string, _ video.SortKey) ([]video.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(v *video.Video) bool {
		return v.UserID == ownerID && (ownerID == viewerID || v.Visibility == video.VisibilityPublic) &&
			strings.Contains(strings.ToLower(v.Title), strings.ToLower(search))
	}), nil
}

func (m *memRepo) Get(_ context.Context, id string) (*video.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return nil, video.ErrNotFound
	}
	it := m.item(v)
	return &it, nil
}

func (m *memRepo) Insert(_ context.Context, v *video.Video) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	m.videos[v.ID] = &cp
	return nil
}

func (m *memRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.videos[id]; !ok {
		return video.ErrNotFound
	}
	delete(m.videos, id)
	return nil
}

func (m *memRepo) UpdateVisibility(_ context.Context, id string, vis video.Visibility, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return video.ErrNotFound
	}
	v.Visibility, v.UpdatedAt = vis, at
	return nil
}

func (m *memRepo) UpdateDetails(_ context.Context, id, title, description string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return video.ErrNotFound
	}
	v.Title, v.Description, v.UpdatedAt = title, description, at
	return nil
}

func (m *memRepo) IncrementViews(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.videos[id]; ok {
		v.Views++
		return nil
	}
	return video.ErrNotFound
}

func (m *memRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.videos)
}

// memSessions is an in-memory session.Store.
type memSessions struct {
	mu   sync.Mutex
	rows map[string]session.Record
}

func (s *memSessions) Create(_ context.Context, r session.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows == nil {
		s.rows = map[string]session.Record{}
	}
	s.rows[r.ID] = r
	return nil
}

func (s *memSessions) Lookup(_ context.Context, id string, now time.Time) (*session.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok || !r.ExpiresAt.After(now) {
		return nil, session.ErrNoSession
	}
	return &session.Identity{UserID: r.UserID, SessionID: r.ID, ExpiresAt: r.ExpiresAt, Name: "Name of " + r.UserID}, nil
}

func (s *memSessions) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

type testEnv struct {
	handler  http.Handler
	repo     *memRepo
	bunny    *testutil.MockBunnyServer
	sessions *session.Manager
	store    *memSessions
	google   *fakeGoogle
	accounts *fakeAccounts
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	m := testutil.NewMockBunnyServer(t)
	media := &bunny.Client{
		HTTPClient:     m.Client(),
		StreamBaseURL:  m.URL,
		StorageBaseURL: m.URL,
		CDNURL:         "https://cdn.example",
		EmbedURL:       "https://iframe.example/embed",
		LibraryID:      testutil.MockLibraryID,
		StreamKey:      testutil.MockStreamKey,
		StorageKey:     testutil.MockStorageKey,
	}
	cfg := &config.Config{
		BaseURL:          "http://app.example",
		MaxVideoSize:     1 << 20,
		MaxThumbnailSize: 1 << 20,
	}
	repo := newMemRepo()
	svc := &video.Service{
		Repo:             repo,
		Media:            media,
		Limiter:          ratelimit.NewMemory(ctx, ratelimit.Policy{Name: "upload", Limit: 2, Window: time.Minute}),
		MaxVideoSize:     cfg.MaxVideoSize,
		MaxThumbnailSize: cfg.MaxThumbnailSize,
	}
	store := &memSessions{}
	sessions := session.NewManager(store, testSecret, time.Hour, false)
	g := &fakeGoogle{profile: identity.Profile{ID: "g-1", Email: "ada@gmail.com", Name: "Ada", EmailVerified: true}}
	accounts := &fakeAccounts{}

	h := NewMux(ctx, Deps{
		DB:            closedDB(t),
		Config:        cfg,
		Videos:        svc,
		Sessions:      sessions,
		Google:        g,
		Emails:        identity.NewEmailValidator(nil, false),
		Accounts:      accounts,
		SignInLimiter: ratelimit.NewMemory(ctx, ratelimit.Policy{Name: "sign-in", Limit: 2, Window: 2 * time.Minute}),
	})
	return &testEnv{handler: h, repo: repo, bunny: m, sessions: sessions, store: store, google: g, accounts: accounts}
}

// closedDB returns a handle whose pings fail without a running server.
func closedDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("pgx", "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, _, err := e.sessions.Issue(context.Background(), userID, "", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func (e *testEnv) do(method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthzUnreachableDatabase(t *testing.T) {
	e := newTestEnv(t)
	rr := e.do(http.MethodGet, "/healthz", "", nil, "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	rr = e.do(http.MethodGet, "/readyz", "", nil, "")
	if rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), `"failed_check":"database"`) {
		t.Fatalf("readyz = %d %s", rr.Code, rr.Body.String())
	}
}

func TestHealthzOK(t *testing.T) {
	database := testutil.SetupTestDB(t)
	h := NewMux(context.Background(), Deps{DB: database, Config: &config.Config{
		BunnyLibraryID: "lib", BunnyStreamAccessKey: "k", BunnyStorageAccessKey: "k",
	}})

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d, body=%s", path, rr.Code, rr.Body.String())
		}
	}
}

func TestCorrelationIDHeader(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Fatalf("correlation header = %q", got)
	}

	rr = e.do(http.MethodGet, "/auth/session", "", nil, "")
	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Fatal("expected a generated correlation id")
	}
}

func TestStartAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Start(ctx, Deps{DB: closedDB(t)}, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestCORSConfig(t *testing.T) {
	tests := []struct {
		name              string
		permissive        bool
		allowed           []string
		origin            string
		expectAllowOrigin string
		expectCredentials bool
	}{
		{"permissive allows all", true, nil, "https://anything.example", "*", false},
		{"restricted allows listed", false, []string{"https://app.example"}, "https://app.example", "https://app.example", true},
		{"restricted blocks others", false, []string{"https://app.example"}, "https://evil.example", "", false},
		{"wildcard subdomain", false, []string{"*.example.com"}, "https://app.example.com", "https://app.example.com", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &corsConfig{permissive: tt.permissive, allowedOrigins: tt.allowed}
			handler := withCORSConfig(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}), cfg)
			req := httptest.NewRequest(http.MethodGet, "/api/videos", nil)
			req.Header.Set("Origin", tt.origin)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.expectAllowOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.expectAllowOrigin)
			}
			if creds := rr.Header().Get("Access-Control-Allow-Credentials") == "true"; creds != tt.expectCredentials {
				t.Errorf("Allow-Credentials = %v, want %v", creds, tt.expectCredentials)
			}
		})
	}
}

func TestCORSPreflightRequest(t *testing.T) {
	handler := withCORSConfig(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for OPTIONS request")
	}), &corsConfig{permissive: true})

	req := httptest.NewRequest(http.MethodOptions, "/api/videos", nil)
	req.Header.Set("Origin", "https://example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected 204 for OPTIONS, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Methods") == "" || rr.Header().Get("Access-Control-Allow-Headers") == "" {
		t.Error("expected Allow-Methods and Allow-Headers on OPTIONS response")
	}
}

func TestLoadCORSConfig(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("CORS_PERMISSIVE", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://example.com, https://app.example.com,")
	cfg := loadCORSConfig()
	if cfg.permissive {
		t.Error("production should default to restricted CORS")
	}
	if len(cfg.allowedOrigins) != 2 || cfg.allowedOrigins[1] != "https://app.example.com" {
		t.Errorf("allowed origins = %v", cfg.allowedOrigins)
	}

	t.Setenv("CORS_PERMISSIVE", "1")
	if !loadCORSConfig().permissive {
		t.Error("CORS_PERMISSIVE=1 should force permissive mode")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote, forwarded, want string
	}{
		{"10.0.0.1:5555", "", "10.0.0.1"},
		{"10.0.0.1", "", "10.0.0.1"},
		{"[2001:db8::1]:443", "", "2001:db8::1"},
		{"10.0.0.1:5555", "203.0.113.9, 10.0.0.2", "203.0.113.9"},
		{"10.0.0.1:5555", "203.0.113.7", "203.0.113.7"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		if tt.forwarded != "" {
			req.Header.Set("X-Forwarded-For", tt.forwarded)
		}
		if got := clientIP(req); got != tt.want {
			t.Errorf("clientIP(%q, %q) = %q, want %q", tt.remote, tt.forwarded, got, tt.want)
		}
	}
}

func TestStatusForKinds(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{video.ErrUnauthenticated, http.StatusUnauthorized},
		{video.ErrRateLimited, http.StatusTooManyRequests},
		{video.ErrValidationFailed, http.StatusBadRequest},
		{video.ErrUploadTargetUnavailable, http.StatusBadGateway},
		{&video.TransferError{Stage: video.StageThumbnail, Err: io.ErrUnexpectedEOF}, http.StatusBadGateway},
		{video.ErrPersistenceFailed, http.StatusInternalServerError},
		{video.ErrNotFound, http.StatusNotFound},
		{video.ErrForbidden, http.StatusForbidden},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(video.Classify(tt.err)); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
