// Package server exposes the HTTP API: sign-in, the video catalogue and the upload flow,
// plus health and metrics. It applies CORS, injects correlation IDs into request contexts
// for consistent logging and resolves the caller's session before routing.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/snapcast/telemetry"
)

// NewMux returns the HTTP handler with all routes.
func NewMux(ctx context.Context, d Deps) http.Handler {
	corsCfg := loadCORSConfig()
	handlers := NewHandlers(ctx, d)

	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", handlers.HandleHealthz)
	mux.HandleFunc("GET /readyz", handlers.HandleReadyz)

	// Only starting a sign-in spends the budget; the callback is bound to a state issued by start.
	mux.Handle("GET /auth/google/start", signInLimit(http.HandlerFunc(handlers.HandleGoogleStart), d.SignInLimiter))
	mux.HandleFunc("GET /auth/google/callback", handlers.HandleGoogleCallback)
	mux.HandleFunc("POST /auth/sign-out", handlers.HandleSignOut)
	mux.HandleFunc("GET /auth/session", handlers.HandleSession)

	// Catalogue
	mux.HandleFunc("GET /api/videos", handlers.HandleVideosList)
	mux.HandleFunc("GET /api/videos/{id}", handlers.HandleVideoGet)
	mux.HandleFunc("DELETE /api/videos/{id}", handlers.HandleVideoDelete)
	mux.HandleFunc("PATCH /api/videos/{id}", handlers.HandleVideoUpdate)
	mux.HandleFunc("PUT /api/videos/{id}/visibility", handlers.HandleVideoVisibility)
	mux.HandleFunc("GET /api/videos/{id}/status", handlers.HandleVideoStatus)
	mux.HandleFunc("GET /api/users/{id}/videos", handlers.HandleUserVideos)

	// Upload flow
	mux.HandleFunc("POST /api/videos/upload", handlers.HandleUpload)
	mux.HandleFunc("POST /api/videos/upload-url", handlers.HandleUploadURL)
	mux.HandleFunc("POST /api/videos/{externalId}/thumbnail-url", handlers.HandleThumbnailURL)
	mux.HandleFunc("POST /api/videos", handlers.HandleSaveDetails)

	var routed http.Handler = mux
	if d.Sessions != nil {
		routed = d.Sessions.Middleware(mux)
	}

	// Wrap with correlation ID injector and tracing middleware
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reuse corr header if provided else generate
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
			telemetry.HTTPURLAttr(r.URL.String()),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		wrappedWriter := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		routed.ServeHTTP(wrappedWriter, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, wrappedWriter.statusCode)
		telemetry.HTTPRequest(r.Method, wrappedWriter.statusCode)
	})
	return withCORSConfig(handler, corsCfg)
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, d Deps, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewMux(ctx, d),
		ReadHeaderTimeout: 5 * time.Second,
		// Uploads stream large multipart bodies to the media host.
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
