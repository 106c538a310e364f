// Package health provides health check implementations for external dependencies.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Checker reports whether a dependency is reachable.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

const checkTimeout = 2 * time.Second

// Handler serves an aggregate health report over HTTP. Each named
// checker runs with a short timeout; any failure degrades the overall
// status to 503.
type Handler struct {
	checkers map[string]Checker
	logger   *slog.Logger
}

// NewHandler creates a health handler. Checkers may be nil-valued maps
// for a service with no external dependencies.
func NewHandler(checkers map[string]Checker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{checkers: checkers, logger: logger}
}

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rep := report{Status: "ok"}
	if len(h.checkers) > 0 {
		rep.Checks = make(map[string]string, len(h.checkers))
	}

	status := http.StatusOK
	for name, checker := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := checker.HealthCheck(ctx)
		cancel()
		if err != nil {
			h.logger.WarnContext(r.Context(), "health check failed", "check", name, "error", err)
			rep.Checks[name] = "unavailable"
			rep.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		rep.Checks[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		h.logger.Error("failed to write health response", "error", err)
	}
}
