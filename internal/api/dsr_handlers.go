package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/campfirehq/rosterly/internal/audit"
	"github.com/campfirehq/rosterly/internal/dsr"
	"github.com/campfirehq/rosterly/internal/middleware"
)

// DSRHandlers holds dependencies for the data-subject request handlers.
type DSRHandlers struct {
	service *dsr.Service
	store   audit.Store
}

// NewDSRHandlers creates a new DSRHandlers instance.
func NewDSRHandlers(service *dsr.Service, store audit.Store) *DSRHandlers {
	return &DSRHandlers{service: service, store: store}
}

// createRequestBody is the payload for POST /v1/privacy/requests.
type createRequestBody struct {
	Kind string `json:"kind"`
}

// CreateRequest handles POST /v1/privacy/requests
// Submits an export or deletion request for the authenticated subject.
// A duplicate in-flight request of the same kind coalesces onto the
// existing one with 200 instead of 201.
func (h *DSRHandlers) CreateRequest(w http.ResponseWriter, r *http.Request) {
	subjectID := middleware.GetActorID(r.Context())
	if subjectID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeUnauthorized)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeUnauthorized, "Authentication required")
		return
	}

	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid request body")
		return
	}

	kind := dsr.Kind(strings.ToLower(strings.TrimSpace(body.Kind)))
	if kind != dsr.KindExport && kind != dsr.KindDeletion {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, `Kind must be "export" or "deletion"`)
		return
	}

	req, created, err := h.service.Create(r.Context(), subjectID, kind)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create subject request", "error", err, "kind", kind)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to create request")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	WriteJSON(w, r.Context(), status, req)
}

// GetRequest handles GET /v1/privacy/requests/{id}
// Returns the request's current state. Only the requesting subject can
// see it; anyone else gets not-found.
func (h *DSRHandlers) GetRequest(w http.ResponseWriter, r *http.Request) {
	subjectID := middleware.GetActorID(r.Context())
	if subjectID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeUnauthorized)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeUnauthorized, "Authentication required")
		return
	}

	req, err := h.service.Get(r.Context(), r.PathValue("id"), subjectID)
	if err != nil {
		if errors.Is(err, dsr.ErrNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Request not found")
			return
		}
		slog.ErrorContext(r.Context(), "failed to load subject request", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load request")
		return
	}
	WriteJSON(w, r.Context(), http.StatusOK, requestView{
		DataSubjectRequest: req,
		DownloadURL:        h.service.DownloadURL(r.Context(), req),
	})
}

// requestView decorates a request with a presigned artifact link when
// the deployment stores export payloads in object storage.
type requestView struct {
	*dsr.DataSubjectRequest
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// Download handles GET /v1/privacy/requests/{id}/download
// Returns the export payload as a downloadable JSON document while the
// request is completed and unexpired. Not-ready, expired, and not-found
// outcomes are distinguishable by status and error code.
func (h *DSRHandlers) Download(w http.ResponseWriter, r *http.Request) {
	subjectID := middleware.GetActorID(r.Context())
	if subjectID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeUnauthorized)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeUnauthorized, "Authentication required")
		return
	}

	id := r.PathValue("id")
	payload, err := h.service.Download(r.Context(), id, subjectID)
	if err != nil {
		switch {
		case errors.Is(err, dsr.ErrNotFound):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Request not found")
		case errors.Is(err, dsr.ErrNotReady):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotReady)
			WriteError(w, ctx, http.StatusConflict, ErrCodeNotReady, "Export is not ready yet")
		case errors.Is(err, dsr.ErrExpired):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeExpired)
			WriteError(w, ctx, http.StatusGone, ErrCodeExpired, "Export download window has closed")
		default:
			slog.ErrorContext(r.Context(), "failed to download export", "error", err)
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to download export")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="export_`+id+`.json"`)
	if _, err := w.Write(payload); err != nil {
		slog.ErrorContext(r.Context(), "failed to write export payload", "error", err)
	}
}

// deletionCheckResponse reports residual data found for a subject.
type deletionCheckResponse struct {
	SubjectID string   `json:"subjectId"`
	Clean     bool     `json:"clean"`
	Residues  []string `json:"residues"`
}

// DeletionCheck handles GET /v1/privacy/subjects/{id}/deletion-check
// Re-scans every governed category for residual records. Requires the
// admin role; deletion across categories is not transactional, and this
// read-only check is the compensating control.
func (h *DSRHandlers) DeletionCheck(w http.ResponseWriter, r *http.Request) {
	if middleware.GetActorID(r.Context()) == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeUnauthorized)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeUnauthorized, "Authentication required")
		return
	}
	if middleware.GetActorRole(r.Context()) != middleware.RoleAdmin {
		audit.Record(r.Context(), h.store, audit.Entry{
			ActorID:      middleware.GetActorID(r.Context()),
			Action:       audit.ActionForbiddenAttempt,
			ResourceType: "deletion_check",
			ResourceID:   r.PathValue("id"),
		})
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeForbidden)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "Elevated role required")
		return
	}

	subjectID := r.PathValue("id")
	residues, err := h.service.VerifyDeletion(r.Context(), subjectID)
	if err != nil {
		slog.ErrorContext(r.Context(), "deletion verification failed", "error", err, "subject_id", subjectID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Deletion verification failed")
		return
	}
	if residues == nil {
		residues = []string{}
	}

	WriteJSON(w, r.Context(), http.StatusOK, deletionCheckResponse{
		SubjectID: subjectID,
		Clean:     len(residues) == 0,
		Residues:  residues,
	})
}
