package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/campfirehq/rosterly/internal/middleware"
	"github.com/campfirehq/rosterly/internal/retention"
)

// JobsHandlers holds dependencies for scheduler-triggered job endpoints.
// The external scheduler authenticates with a shared-secret bearer
// credential; anything but an exact match is rejected before any work
// begins.
type JobsHandlers struct {
	engine  *retention.Engine
	monitor *retention.Monitor
	secret  string
}

// NewJobsHandlers creates a new JobsHandlers instance.
func NewJobsHandlers(engine *retention.Engine, monitor *retention.Monitor, sharedSecret string) *JobsHandlers {
	return &JobsHandlers{engine: engine, monitor: monitor, secret: sharedSecret}
}

// authorize checks the bearer credential in constant time.
func (h *JobsHandlers) authorize(w http.ResponseWriter, r *http.Request) bool {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || h.secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) != 1 {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeUnauthorized)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeUnauthorized, "Valid scheduler credential required")
		return false
	}
	return true
}

// jobRunResponse is the structured breakdown of one engine run.
type jobRunResponse struct {
	Success bool                        `json:"success"`
	Results []retention.PolicyRunResult `json:"results"`
}

// RunRetention handles POST /v1/internal/jobs/retention
// Runs every registered retention policy and returns the per-policy
// breakdown.
func (h *JobsHandlers) RunRetention(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	success, results := h.engine.RunAll(r.Context())
	WriteJSON(w, r.Context(), http.StatusOK, jobRunResponse{Success: success, Results: results})
}

// RunCleanup handles POST /v1/internal/jobs/cleanup
// Runs the ephemeral-data policies on their tighter cadence.
func (h *JobsHandlers) RunCleanup(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	success, results := h.engine.CleanupTemporaryData(r.Context())
	WriteJSON(w, r.Context(), http.StatusOK, jobRunResponse{Success: success, Results: results})
}

// RunMaintenance handles POST /v1/internal/jobs/maintenance
// Runs retention and ephemeral cleanup with failure isolation, reporting
// both outcomes independently.
func (h *JobsHandlers) RunMaintenance(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	result := h.engine.RunDailyMaintenance(r.Context())
	WriteJSON(w, r.Context(), http.StatusOK, result)
}

// RunAgeOut handles POST /v1/internal/jobs/ageout
// Transitions subjects who have crossed the age threshold to standard
// data handling.
func (h *JobsHandlers) RunAgeOut(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	result, err := h.monitor.ProcessAgeOuts(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "age-out run failed", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Age-out run failed")
		return
	}
	WriteJSON(w, r.Context(), http.StatusOK, result)
}
