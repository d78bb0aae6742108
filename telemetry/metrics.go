// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	UploadsTotal      *prometheus.CounterVec // label: result (success or error code)
	RateLimitDenials  *prometheus.CounterVec // label: policy
	ListingCacheHits  prometheus.Counter
	ListingCacheMiss  prometheus.Counter
	ListingsFailed    prometheus.Counter
	MediaAPIRequests  *prometheus.CounterVec // labels: op, outcome
	SignInsTotal      *prometheus.CounterVec // label: result
	HTTPRequestsTotal *prometheus.CounterVec // labels: method, code

	// Histograms (seconds)
	UploadDuration  prometheus.Observer
	ListingDuration prometheus.Observer
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "snapcast_uploads_total", Help: "Upload pipeline runs by result"}, []string{"result"})
		RateLimitDenials = promauto.NewCounterVec(prometheus.CounterOpts{Name: "snapcast_rate_limit_denials_total", Help: "Requests rejected by a rate limit policy"}, []string{"policy"})
		ListingCacheHits = promauto.NewCounter(prometheus.CounterOpts{Name: "snapcast_listing_cache_hits_total", Help: "Listing pages served from cache"})
		ListingCacheMiss = promauto.NewCounter(prometheus.CounterOpts{Name: "snapcast_listing_cache_misses_total", Help: "Listing pages not found in cache"})
		ListingsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "snapcast_listings_failed_total", Help: "Listing queries that returned an error"})
		MediaAPIRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "snapcast_media_api_requests_total", Help: "Calls to the media host by operation and outcome"}, []string{"op", "outcome"})
		SignInsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "snapcast_sign_ins_total", Help: "Sign-in attempts by result"}, []string{"result"})
		HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "snapcast_http_requests_total", Help: "HTTP requests by method and status code"}, []string{"method", "code"})
		UploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "snapcast_upload_duration_seconds", Help: "Upload pipeline duration seconds", Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}})
		ListingDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "snapcast_listing_duration_seconds", Help: "Listing query duration seconds", Buckets: prometheus.DefBuckets})
	})
}

// ObserveUpload records one finished upload pipeline run. result is "success" or an error code.
func ObserveUpload(result string, d time.Duration) {
	if UploadsTotal != nil {
		UploadsTotal.WithLabelValues(result).Inc()
	}
	if UploadDuration != nil {
		UploadDuration.Observe(d.Seconds())
	}
}

// ObserveListing records a listing query.
func ObserveListing(d time.Duration, err error) {
	if err != nil && ListingsFailed != nil {
		ListingsFailed.Inc()
	}
	if ListingDuration != nil {
		ListingDuration.Observe(d.Seconds())
	}
}

// ObserveCache counts a listing cache lookup.
func ObserveCache(hit bool) {
	if hit {
		if ListingCacheHits != nil {
			ListingCacheHits.Inc()
		}
		return
	}
	if ListingCacheMiss != nil {
		ListingCacheMiss.Inc()
	}
}

// RateLimited counts a denial under the named policy.
func RateLimited(policy string) {
	if RateLimitDenials != nil {
		RateLimitDenials.WithLabelValues(policy).Inc()
	}
}

// MediaCall counts one media host API call.
func MediaCall(op string, err error) {
	if MediaAPIRequests == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	MediaAPIRequests.WithLabelValues(op, outcome).Inc()
}

// SignIn counts a sign-in attempt.
func SignIn(result string) {
	if SignInsTotal != nil {
		SignInsTotal.WithLabelValues(result).Inc()
	}
}

// HTTPRequest counts a served request by method and status code.
func HTTPRequest(method string, code int) {
	if HTTPRequestsTotal != nil {
		HTTPRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
