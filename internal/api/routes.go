package api

import (
	"log/slog"
	"net/http"

	"github.com/campfirehq/rosterly/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries every handler group plus the per-policy rate
// limiters applied in front of them.
type RouterConfig struct {
	Audit   *AuditHandlers
	DSR     *DSRHandlers
	Consent *ConsentHandlers
	Jobs    *JobsHandlers
	Cache   *CacheHandlers

	// Limiters guard the privileged endpoints; any nil limiter leaves
	// its group unguarded (used by tests).
	AuditLimiter   *middleware.RateLimiter
	PrivacyLimiter *middleware.RateLimiter
	ConsentLimiter *middleware.RateLimiter

	// Health responds on /health. Optional.
	Health http.Handler

	// MetricsRegistry exposes /metrics when set.
	MetricsRegistry *prometheus.Registry
}

// NewRouter builds the service mux. The caller wraps it with RequestID
// and Logging.
func NewRouter(cfg RouterConfig) *http.ServeMux {
	mux := http.NewServeMux()

	limit := func(limiter *middleware.RateLimiter, h http.HandlerFunc) http.Handler {
		if limiter == nil {
			return h
		}
		return middleware.RateLimit(limiter)(h)
	}

	// Audit log
	mux.Handle("GET /v1/audit/events", limit(cfg.AuditLimiter, cfg.Audit.QueryEvents))
	mux.Handle("GET /v1/audit/export.csv", limit(cfg.AuditLimiter, cfg.Audit.ExportCSV))

	// Data subject requests
	mux.Handle("POST /v1/privacy/requests", limit(cfg.PrivacyLimiter, cfg.DSR.CreateRequest))
	mux.Handle("GET /v1/privacy/requests/{id}", limit(cfg.PrivacyLimiter, cfg.DSR.GetRequest))
	mux.Handle("GET /v1/privacy/requests/{id}/download", limit(cfg.PrivacyLimiter, cfg.DSR.Download))
	mux.Handle("GET /v1/privacy/subjects/{id}/deletion-check", limit(cfg.PrivacyLimiter, cfg.DSR.DeletionCheck))

	// Consent
	mux.Handle("POST /v1/unsubscribe", limit(cfg.ConsentLimiter, cfg.Consent.Unsubscribe))

	// Scheduler-triggered jobs; authenticated by shared secret, not by
	// actor, so no rate limiter in front.
	mux.HandleFunc("POST /v1/internal/jobs/retention", cfg.Jobs.RunRetention)
	mux.HandleFunc("POST /v1/internal/jobs/cleanup", cfg.Jobs.RunCleanup)
	mux.HandleFunc("POST /v1/internal/jobs/maintenance", cfg.Jobs.RunMaintenance)
	mux.HandleFunc("POST /v1/internal/jobs/ageout", cfg.Jobs.RunAgeOut)

	// Cache invalidation
	mux.HandleFunc("POST /v1/internal/cache/invalidate", cfg.Cache.Invalidate)

	if cfg.Health != nil {
		mux.Handle("GET /health", cfg.Health)
	}
	if cfg.MetricsRegistry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsRegistry, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"rosterly-governance","version":"0.1.0"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	return mux
}
