package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/campfirehq/rosterly/internal/audit"
	"github.com/campfirehq/rosterly/internal/middleware"
)

// AuditHandlers holds dependencies for the audit log HTTP handlers.
type AuditHandlers struct {
	store audit.Store
}

// NewAuditHandlers creates a new AuditHandlers instance.
func NewAuditHandlers(store audit.Store) *AuditHandlers {
	return &AuditHandlers{store: store}
}

// auditQueryResponse echoes the effective filters alongside the matched
// events.
type auditQueryResponse struct {
	Filters auditQueryFilters   `json:"filters"`
	Events  []*audit.AuditEvent `json:"events"`
}

type auditQueryFilters struct {
	ActorID      string    `json:"actorId,omitempty"`
	Action       string    `json:"action,omitempty"`
	ResourceType string    `json:"resourceType,omitempty"`
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	Limit        int       `json:"limit"`
	Offset       int       `json:"offset"`
}

// parseFilter builds an audit.Filter from query parameters, applying the
// default 30-day window when no range is given.
func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		ActorID:      q.Get("actorId"),
		Action:       audit.Action(q.Get("action")),
		ResourceType: q.Get("resourceType"),
	}

	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, err
		}
		f.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, err
		}
		f.To = t
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return f, err
		}
		f.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return f, err
		}
		f.Offset = n
	}

	return f.WithDefaults(time.Now().UTC()), nil
}

// requireAdmin checks the actor's role and, on failure, audits the attempt
// and writes the error response. Returns the actor ID and whether the
// caller may proceed.
func (h *AuditHandlers) requireAdmin(w http.ResponseWriter, r *http.Request, resource string) (string, bool) {
	actorID := middleware.GetActorID(r.Context())
	if actorID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeUnauthorized)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeUnauthorized, "Authentication required")
		return "", false
	}
	if middleware.GetActorRole(r.Context()) != middleware.RoleAdmin {
		audit.Record(r.Context(), h.store, audit.Entry{
			ActorID:      actorID,
			Action:       audit.ActionForbiddenAttempt,
			ResourceType: resource,
		})
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeForbidden)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "Elevated role required")
		return "", false
	}
	return actorID, true
}

// QueryEvents handles GET /v1/audit/events
// Returns matching audit events newest first, with an echo of the
// effective filters. Requires the admin role.
func (h *AuditHandlers) QueryEvents(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.requireAdmin(w, r, "audit_log")
	if !ok {
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Invalid query parameters: "+err.Error())
		return
	}

	events, err := h.store.Query(r.Context(), filter)
	if err != nil {
		slog.ErrorContext(r.Context(), "audit query failed", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to query audit log")
		return
	}
	if events == nil {
		events = []*audit.AuditEvent{}
	}

	audit.Record(r.Context(), h.store, audit.Entry{
		ActorID:      actorID,
		Action:       audit.ActionViewAuditLog,
		ResourceType: "audit_log",
	})

	WriteJSON(w, r.Context(), http.StatusOK, auditQueryResponse{
		Filters: auditQueryFilters{
			ActorID:      filter.ActorID,
			Action:       string(filter.Action),
			ResourceType: filter.ResourceType,
			From:         filter.From,
			To:           filter.To,
			Limit:        filter.Limit,
			Offset:       filter.Offset,
		},
		Events: events,
	})
}

// ExportCSV handles GET /v1/audit/export.csv
// Streams matching events as a CSV document whose filename encodes the
// query's date range. Requires the admin role.
func (h *AuditHandlers) ExportCSV(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.requireAdmin(w, r, "audit_log")
	if !ok {
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Invalid query parameters: "+err.Error())
		return
	}
	// Exports walk the full range, not one page.
	filter.Limit = 0
	filter.Offset = 0

	doc, err := audit.ExportCSV(r.Context(), h.store, filter)
	if err != nil {
		slog.ErrorContext(r.Context(), "audit export failed", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to export audit log")
		return
	}

	audit.Record(r.Context(), h.store, audit.Entry{
		ActorID:      actorID,
		Action:       audit.ActionExportAuditLog,
		ResourceType: "audit_log",
	})

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+audit.ExportFilename(filter.From, filter.To)+`"`)
	if _, err := w.Write(doc); err != nil {
		slog.ErrorContext(r.Context(), "failed to write audit export", "error", err)
	}
}
