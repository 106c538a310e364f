package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/campfirehq/rosterly/internal/audit"
	"github.com/campfirehq/rosterly/internal/cache"
	"github.com/campfirehq/rosterly/internal/middleware"
)

// CacheHandlers holds dependencies for the cache invalidation endpoint.
type CacheHandlers struct {
	cache      cache.Cache
	auditStore audit.Store
}

// NewCacheHandlers creates a new CacheHandlers instance.
func NewCacheHandlers(c cache.Cache, auditStore audit.Store) *CacheHandlers {
	return &CacheHandlers{cache: c, auditStore: auditStore}
}

// invalidateBody is the payload for POST /v1/internal/cache/invalidate.
type invalidateBody struct {
	Tags []string `json:"tags"`
}

// Invalidate handles POST /v1/internal/cache/invalidate
// Marks entries under the given tags stale. Unknown tags are a no-op.
// Requires the admin role.
func (h *CacheHandlers) Invalidate(w http.ResponseWriter, r *http.Request) {
	actorID := middleware.GetActorID(r.Context())
	if actorID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeUnauthorized)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeUnauthorized, "Authentication required")
		return
	}
	if middleware.GetActorRole(r.Context()) != middleware.RoleAdmin {
		audit.Record(r.Context(), h.auditStore, audit.Entry{
			ActorID:      actorID,
			Action:       audit.ActionForbiddenAttempt,
			ResourceType: "cache",
		})
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeForbidden)
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "Elevated role required")
		return
	}

	var body invalidateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid request body")
		return
	}
	if len(body.Tags) == 0 {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "At least one tag is required")
		return
	}

	if err := h.cache.Invalidate(r.Context(), body.Tags...); err != nil {
		slog.ErrorContext(r.Context(), "cache invalidation failed", "error", err, "tags", body.Tags)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Cache invalidation failed")
		return
	}

	audit.Record(r.Context(), h.auditStore, audit.Entry{
		ActorID:      actorID,
		Action:       audit.ActionCacheInvalidation,
		ResourceType: "cache",
		Metadata:     map[string]string{"tags": strings.Join(body.Tags, ",")},
	})

	WriteJSON(w, r.Context(), http.StatusOK, map[string]interface{}{"invalidated": body.Tags})
}
