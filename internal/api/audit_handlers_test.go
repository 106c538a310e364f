package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/campfirehq/rosterly/internal/audit"
	"github.com/campfirehq/rosterly/internal/middleware"
)

func seedAuditEvent(t *testing.T, store audit.Store, actorID string, action audit.Action, meta map[string]string) {
	t.Helper()
	if _, err := store.Record(context.Background(), audit.Entry{
		ActorID:      actorID,
		Action:       action,
		ResourceType: "consent",
		Metadata:     meta,
	}); err != nil {
		t.Fatalf("failed to seed audit event: %v", err)
	}
}

func TestQueryEvents_AuthAndRole(t *testing.T) {
	store := audit.NewMemoryStore()
	h := NewAuditHandlers(store)

	t.Run("anonymous", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.QueryEvents(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/events", nil))

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
		if resp := decodeError(t, rec); resp.Error.Code != ErrCodeUnauthorized {
			t.Errorf("expected code %s, got %s", ErrCodeUnauthorized, resp.Error.Code)
		}
	})

	t.Run("member role", func(t *testing.T) {
		req := withActor(httptest.NewRequest(http.MethodGet, "/v1/audit/events", nil), "member-1", middleware.RoleMember)
		rec := httptest.NewRecorder()
		h.QueryEvents(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
		if resp := decodeError(t, rec); resp.Error.Code != ErrCodeForbidden {
			t.Errorf("expected code %s, got %s", ErrCodeForbidden, resp.Error.Code)
		}
		if n := countAction(t, store, audit.ActionForbiddenAttempt); n != 1 {
			t.Errorf("expected 1 forbidden_attempt event, got %d", n)
		}
	})
}

func TestQueryEvents_DefaultWindowAndEcho(t *testing.T) {
	store := audit.NewMemoryStore()
	h := NewAuditHandlers(store)

	seedAuditEvent(t, store, "member-1", audit.ActionUnsubscribe, nil)
	seedAuditEvent(t, store, "member-2", audit.ActionConsentChange, nil)

	req := withActor(httptest.NewRequest(http.MethodGet, "/v1/audit/events", nil), "admin-1", middleware.RoleAdmin)
	rec := httptest.NewRecorder()
	h.QueryEvents(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp auditQueryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Events) != 2 {
		t.Errorf("expected 2 events, got %d", len(resp.Events))
	}

	// No explicit range: the 30-day default window must be echoed back.
	window := resp.Filters.To.Sub(resp.Filters.From)
	if window < audit.DefaultQueryWindow-time.Minute || window > audit.DefaultQueryWindow+time.Minute {
		t.Errorf("expected default window of %v, got %v", audit.DefaultQueryWindow, window)
	}

	// The lookup itself must leave a trace.
	if n := countAction(t, store, audit.ActionViewAuditLog); n != 1 {
		t.Errorf("expected 1 view_audit_log event, got %d", n)
	}
}

func TestQueryEvents_InvalidParams(t *testing.T) {
	h := NewAuditHandlers(audit.NewMemoryStore())

	for _, query := range []string{"from=yesterday", "to=2026-13-99", "limit=abc", "offset=x"} {
		req := withActor(httptest.NewRequest(http.MethodGet, "/v1/audit/events?"+query, nil), "admin-1", middleware.RoleAdmin)
		rec := httptest.NewRecorder()
		h.QueryEvents(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("query %q: expected 400, got %d", query, rec.Code)
		}
		if resp := decodeError(t, rec); resp.Error.Code != ErrCodeValidation {
			t.Errorf("query %q: expected code %s, got %s", query, ErrCodeValidation, resp.Error.Code)
		}
	}
}

func TestExportCSV_DocumentAndHeaders(t *testing.T) {
	store := audit.NewMemoryStore()
	h := NewAuditHandlers(store)

	// Metadata with a delimiter and a quote must survive CSV encoding.
	seedAuditEvent(t, store, "member-1", audit.ActionUnsubscribe, map[string]string{
		"reason": `said "too many, too often"`,
	})

	from := time.Now().UTC().Add(-24 * time.Hour).Format(time.RFC3339)
	// RFC3339Nano keeps sub-second precision so the just-seeded event is
	// not floored out of the inclusive upper bound.
	to := time.Now().UTC().Format(time.RFC3339Nano)
	req := withActor(httptest.NewRequest(http.MethodGet, "/v1/audit/export.csv?from="+from+"&to="+to, nil), "admin-1", middleware.RoleAdmin)
	rec := httptest.NewRecorder()
	h.ExportCSV(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("expected text/csv content type, got %q", ct)
	}
	cd := rec.Header().Get("Content-Disposition")
	if !strings.Contains(cd, "attachment") || !strings.Contains(cd, "audit_") || !strings.Contains(cd, ".csv") {
		t.Errorf("unexpected content disposition %q", cd)
	}

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if lines[0] != "actor,action,resourceType,resourceId,timestamp,metadata" {
		t.Errorf("unexpected CSV header %q", lines[0])
	}
	if len(lines) != 2 {
		t.Fatalf("expected header plus 1 row, got %d lines", len(lines))
	}
	if !strings.Contains(rec.Body.String(), "unsubscribe") {
		t.Errorf("row missing action: %q", lines[1])
	}

	if n := countAction(t, store, audit.ActionExportAuditLog); n != 1 {
		t.Errorf("expected 1 export_audit_log event, got %d", n)
	}
}
