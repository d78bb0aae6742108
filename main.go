// Command snapcast is the entrypoint for the SnapCast API.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Wires Redis (rate limits and listing cache), the Bunny media client, Google sign-in
//     and the session manager.
//   - Starts background jobs: expired session purge and optional Google token refresh.
//   - Serves the JSON API with /healthz, /readyz and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/snapcast/bunny"
	"github.com/onnwee/snapcast/cache"
	"github.com/onnwee/snapcast/config"
	"github.com/onnwee/snapcast/db"
	"github.com/onnwee/snapcast/identity"
	"github.com/onnwee/snapcast/ratelimit"
	"github.com/onnwee/snapcast/server"
	"github.com/onnwee/snapcast/session"
	"github.com/onnwee/snapcast/telemetry"
	"github.com/onnwee/snapcast/video"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("snapcast", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()
	if telemetry.IsTracingEnabled() {
		slog.Info("request and media spans are exported", slog.String("component", "telemetry"))
	}

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Versioned migrations first; the embedded idempotent schema covers databases that
	// predate the migration table.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("embedded SQL migration completed", slog.String("component", "db_migrate"))
	} else {
		slog.Info("versioned migrations completed successfully", slog.String("component", "db_migrate"))
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := connectRedis(ctx, cfg)
	if rdb != nil {
		defer func() {
			if err := rdb.Close(); err != nil {
				slog.Warn("failed to close redis", slog.Any("err", err))
			}
		}()
	}

	if err := cfg.ValidateMediaReady(); err != nil {
		slog.Warn("media host not configured, uploads will fail", slog.Any("err", err))
	}
	svc := &video.Service{
		Repo:             video.NewStore(database),
		Media:            bunny.New(cfg),
		Limiter:          ratelimit.New(ctx, rdb, ratelimit.Policy{Name: "upload", Limit: cfg.UploadRateLimit, Window: cfg.UploadRateWindow}),
		MaxVideoSize:     cfg.MaxVideoSize,
		MaxThumbnailSize: cfg.MaxThumbnailSize,
	}
	if rdb != nil {
		svc.Cache = cache.NewListing(rdb, cfg.ListingCacheTTL)
	}

	deps := server.Deps{
		DB:            database,
		Redis:         rdb,
		Config:        cfg,
		Videos:        svc,
		Emails:        identity.NewEmailValidator(cfg.DisposableEmailDomains, cfg.EmailMXCheck),
		SignInLimiter: ratelimit.New(ctx, rdb, ratelimit.Policy{Name: "sign-in", Limit: cfg.SignInRateLimit, Window: cfg.SignInRateWindow}),
	}
	sessionStore := &session.SQLStore{DB: database}
	sessionStore.StartPurger(ctx, time.Hour)
	if cfg.SessionSecret != "" {
		deps.Sessions = session.NewManager(sessionStore, cfg.SessionSecret, cfg.SessionTTL, cfg.CookieSecure)
	}
	if err := cfg.ValidateAuthReady(); err != nil {
		slog.Warn("google sign-in disabled", slog.Any("err", err))
	} else {
		google := identity.NewGoogle(cfg)
		deps.Google = google
		if cfg.AccountRefreshInterval > 0 {
			identity.StartRefresher(ctx, database, google, cfg.AccountRefreshInterval, 15*time.Minute)
		}
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	go func() {
		if err := server.Start(ctx, deps, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()
	slog.Info("http server listening", slog.String("addr", cfg.HTTPAddr))

	<-ctx.Done()
	slog.Info("shutting down")
}

// connectRedis returns a client for REDIS_ADDR, or nil when Redis is not configured or not
// reachable at startup; callers then fall back to in-process limiters and no listing cache.
func connectRedis(ctx context.Context, cfg *config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		slog.Info("redis not configured, using in-memory rate limits")
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		slog.Warn("redis unreachable, using in-memory rate limits", slog.String("addr", cfg.RedisAddr), slog.Any("err", err))
		_ = rdb.Close()
		return nil
	}
	slog.Info("redis connected", slog.String("addr", cfg.RedisAddr))
	return rdb
}
