package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/campfirehq/rosterly/internal/consent"
	"github.com/campfirehq/rosterly/internal/middleware"
)

// ConsentHandlers holds dependencies for the unsubscribe handler.
type ConsentHandlers struct {
	service *consent.Service
}

// NewConsentHandlers creates a new ConsentHandlers instance.
func NewConsentHandlers(service *consent.Service) *ConsentHandlers {
	return &ConsentHandlers{service: service}
}

// unsubscribeBody is the payload for POST /v1/unsubscribe.
type unsubscribeBody struct {
	Token    string `json:"token"`
	Category string `json:"category,omitempty"`
}

// Unsubscribe handles POST /v1/unsubscribe
// Accepts {token, category?}. The token is validated before any mutation;
// an omitted category disables every communication category. Safe to call
// twice with the same token.
func (h *ConsentHandlers) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var body unsubscribeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid request body")
		return
	}
	if body.Token == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Token is required")
		return
	}

	category, err := consent.ParseCategory(body.Category)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	conf, err := h.service.ApplyUnsubscribe(r.Context(), body.Token, category)
	if err != nil {
		switch {
		case errors.Is(err, consent.ErrTokenExpired):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeTokenExpired)
			WriteError(w, ctx, http.StatusGone, ErrCodeTokenExpired, "Unsubscribe link has expired")
		case errors.Is(err, consent.ErrTokenInvalid):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeTokenInvalid)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeTokenInvalid, "Unsubscribe link is not valid")
		case errors.Is(err, consent.ErrUnknownCategory):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		default:
			slog.ErrorContext(r.Context(), "unsubscribe failed", "error", err)
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to apply unsubscribe")
		}
		return
	}

	WriteJSON(w, r.Context(), http.StatusOK, conf)
}
