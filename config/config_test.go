package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "DB_DSN", "SESSION_TTL", "MAX_VIDEO_SIZE", "UPLOAD_RATE_LIMIT", "UPLOAD_RATE_WINDOW", "BUNNY_STREAM_BASE_URL"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if !strings.HasPrefix(cfg.DBDsn, "postgres://") {
		t.Errorf("unexpected default DSN %q", cfg.DBDsn)
	}
	if cfg.SessionTTL != 7*24*time.Hour {
		t.Errorf("SessionTTL = %v, want 168h", cfg.SessionTTL)
	}
	if cfg.MaxVideoSize != defaultMaxVideoSize {
		t.Errorf("MaxVideoSize = %d, want %d", cfg.MaxVideoSize, defaultMaxVideoSize)
	}
	if cfg.UploadRateLimit != 2 || cfg.UploadRateWindow != time.Minute {
		t.Errorf("upload limit = %d/%v, want 2/1m", cfg.UploadRateLimit, cfg.UploadRateWindow)
	}
	if cfg.SignInRateLimit != 2 || cfg.SignInRateWindow != 2*time.Minute {
		t.Errorf("sign-in limit = %d/%v, want 2/2m", cfg.SignInRateLimit, cfg.SignInRateWindow)
	}
	if cfg.BunnyStreamBaseURL != "https://video.bunnycdn.com/library" {
		t.Errorf("BunnyStreamBaseURL = %q", cfg.BunnyStreamBaseURL)
	}
}

func TestLoadTrimsTrailingSlashes(t *testing.T) {
	t.Setenv("BUNNY_CDN_URL", "https://cdn.example.com/")
	t.Setenv("BASE_URL", "https://snapcast.example.com/")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.BunnyCDNURL != "https://cdn.example.com" {
		t.Errorf("BunnyCDNURL = %q", cfg.BunnyCDNURL)
	}
	if !cfg.CookieSecure {
		t.Errorf("expected secure cookies for https base url")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"SESSION_TTL", "forever"},
		{"MAX_VIDEO_SIZE", "-1"},
		{"UPLOAD_RATE_WINDOW", "0s"},
		{"BUNNY_API_RPS", "zero"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestDisposableDomainsParsed(t *testing.T) {
	t.Setenv("DISPOSABLE_EMAIL_DOMAINS", " Mailinator.com, ,tempmail.dev")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(cfg.DisposableEmailDomains) != 2 || cfg.DisposableEmailDomains[0] != "mailinator.com" {
		t.Errorf("DisposableEmailDomains = %v", cfg.DisposableEmailDomains)
	}
}

func TestValidateAuthReady(t *testing.T) {
	t.Setenv("GOOGLE_CLIENT_ID", "id")
	t.Setenv("GOOGLE_CLIENT_SECRET", "secret")
	t.Setenv("GOOGLE_REDIRECT_URI", "http://localhost:8080/auth/google/callback")
	t.Setenv("SESSION_SECRET", strings.Repeat("s", 32))
	cfg, _ := Load()
	if err := cfg.ValidateAuthReady(); err != nil {
		t.Errorf("expected valid auth config, got %v", err)
	}
	cfg.SessionSecret = "short"
	if err := cfg.ValidateAuthReady(); err == nil {
		t.Errorf("expected error for short session secret")
	}
	cfg.SessionSecret = strings.Repeat("s", 32)
	cfg.GoogleClientID = ""
	if err := cfg.ValidateAuthReady(); err == nil {
		t.Errorf("expected error when GOOGLE_CLIENT_ID missing")
	}
}

func TestValidateMediaReady(t *testing.T) {
	t.Setenv("BUNNY_LIBRARY_ID", "123")
	t.Setenv("BUNNY_STREAM_ACCESS_KEY", "stream")
	t.Setenv("BUNNY_STORAGE_ACCESS_KEY", "")
	cfg, _ := Load()
	if err := cfg.ValidateMediaReady(); err == nil {
		t.Errorf("expected error when storage key missing")
	}
	cfg.BunnyStorageAccessKey = "storage"
	if err := cfg.ValidateMediaReady(); err != nil {
		t.Errorf("expected valid media config, got %v", err)
	}
}
