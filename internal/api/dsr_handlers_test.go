package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/campfirehq/rosterly/internal/audit"
	"github.com/campfirehq/rosterly/internal/dsr"
	"github.com/campfirehq/rosterly/internal/middleware"
)

// mapCategory is a governed data category backed by a map.
type mapCategory struct {
	mu   sync.Mutex
	name string
	data map[string]string
}

func (c *mapCategory) Name() string { return c.name }

func (c *mapCategory) Export(ctx context.Context, subjectID string) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[subjectID]
	if !ok {
		return json.RawMessage(`{}`), nil
	}
	return json.Marshal(map[string]string{"value": v})
}

func (c *mapCategory) Delete(ctx context.Context, subjectID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, subjectID)
	return nil
}

func (c *mapCategory) Scan(ctx context.Context, subjectID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[subjectID]
	return ok, nil
}

type dsrFixture struct {
	handlers *DSRHandlers
	service  *dsr.Service
	store    *audit.MemoryStore
	now      time.Time
	mu       sync.Mutex
}

func (f *dsrFixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newDSRFixture(t *testing.T) *dsrFixture {
	t.Helper()
	f := &dsrFixture{
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		store: audit.NewMemoryStore(),
	}
	f.service = dsr.NewService(dsr.ServiceConfig{
		Repo: dsr.NewMemoryRepository(),
		Categories: []dsr.Category{
			&mapCategory{name: "profile", data: map[string]string{"member-1": "Sam"}},
		},
		Audit: f.store,
		Now: func() time.Time {
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.now
		},
	})
	f.handlers = NewDSRHandlers(f.service, f.store)
	return f
}

func postCreateRequest(t *testing.T, h *DSRHandlers, subjectID, kind string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/privacy/requests", strings.NewReader(`{"kind":"`+kind+`"}`))
	if subjectID != "" {
		req = withActor(req, subjectID, middleware.RoleMember)
	}
	rec := httptest.NewRecorder()
	h.CreateRequest(rec, req)
	return rec
}

func TestCreateRequest(t *testing.T) {
	f := newDSRFixture(t)

	t.Run("anonymous", func(t *testing.T) {
		rec := postCreateRequest(t, f.handlers, "", "export")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("invalid kind", func(t *testing.T) {
		rec := postCreateRequest(t, f.handlers, "member-1", "subpoena")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if resp := decodeError(t, rec); resp.Error.Code != ErrCodeValidation {
			t.Errorf("expected code %s, got %s", ErrCodeValidation, resp.Error.Code)
		}
	})

	t.Run("new request then coalesced duplicate", func(t *testing.T) {
		rec := postCreateRequest(t, f.handlers, "member-1", "export")
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		var first dsr.DataSubjectRequest
		if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if first.Status != dsr.StatusPending {
			t.Errorf("expected pending status, got %s", first.Status)
		}

		rec = postCreateRequest(t, f.handlers, "member-1", "export")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 for duplicate, got %d", rec.Code)
		}
		var second dsr.DataSubjectRequest
		if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if second.ID != first.ID {
			t.Errorf("duplicate was not coalesced: %s vs %s", second.ID, first.ID)
		}
	})
}

func TestGetRequest_OwnerOnly(t *testing.T) {
	f := newDSRFixture(t)

	rec := postCreateRequest(t, f.handlers, "member-1", "export")
	var created dsr.DataSubjectRequest
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	get := func(subjectID string) *httptest.ResponseRecorder {
		req := withActor(httptest.NewRequest(http.MethodGet, "/v1/privacy/requests/"+created.ID, nil), subjectID, middleware.RoleMember)
		req.SetPathValue("id", created.ID)
		rec := httptest.NewRecorder()
		f.handlers.GetRequest(rec, req)
		return rec
	}

	if rec := get("member-1"); rec.Code != http.StatusOK {
		t.Errorf("owner: expected 200, got %d", rec.Code)
	}
	// Anyone else sees not-found, never forbidden, so request IDs leak
	// nothing about other subjects.
	if rec := get("member-2"); rec.Code != http.StatusNotFound {
		t.Errorf("foreign subject: expected 404, got %d", rec.Code)
	}
}

func TestDownload_OutcomeStatuses(t *testing.T) {
	f := newDSRFixture(t)

	rec := postCreateRequest(t, f.handlers, "member-1", "export")
	var created dsr.DataSubjectRequest
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	download := func(id, subjectID string) *httptest.ResponseRecorder {
		req := withActor(httptest.NewRequest(http.MethodGet, "/v1/privacy/requests/"+id+"/download", nil), subjectID, middleware.RoleMember)
		req.SetPathValue("id", id)
		rec := httptest.NewRecorder()
		f.handlers.Download(rec, req)
		return rec
	}

	t.Run("not ready while pending", func(t *testing.T) {
		rec := download(created.ID, "member-1")
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
		if resp := decodeError(t, rec); resp.Error.Code != ErrCodeNotReady {
			t.Errorf("expected code %s, got %s", ErrCodeNotReady, resp.Error.Code)
		}
	})

	if _, err := f.service.Process(context.Background(), created.ID); err != nil {
		t.Fatalf("failed to process request: %v", err)
	}

	t.Run("completed within window", func(t *testing.T) {
		rec := download(created.ID, "member-1")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "export_"+created.ID+".json") {
			t.Errorf("unexpected content disposition %q", cd)
		}
		if !json.Valid(rec.Body.Bytes()) {
			t.Error("export payload is not valid JSON")
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		rec := download("no-such-request", "member-1")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("foreign subject", func(t *testing.T) {
		rec := download(created.ID, "member-2")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("expired after window", func(t *testing.T) {
		f.advance(dsr.DefaultExportWindow + time.Hour)
		rec := download(created.ID, "member-1")
		if rec.Code != http.StatusGone {
			t.Fatalf("expected 410, got %d", rec.Code)
		}
		if resp := decodeError(t, rec); resp.Error.Code != ErrCodeExpired {
			t.Errorf("expected code %s, got %s", ErrCodeExpired, resp.Error.Code)
		}
	})
}

func TestDeletionCheck(t *testing.T) {
	f := newDSRFixture(t)

	check := func(subjectID, role, target string) *httptest.ResponseRecorder {
		req := withActor(httptest.NewRequest(http.MethodGet, "/v1/privacy/subjects/"+target+"/deletion-check", nil), subjectID, role)
		req.SetPathValue("id", target)
		rec := httptest.NewRecorder()
		f.handlers.DeletionCheck(rec, req)
		return rec
	}

	if rec := check("member-1", middleware.RoleMember, "member-1"); rec.Code != http.StatusForbidden {
		t.Errorf("member: expected 403, got %d", rec.Code)
	}
	if got := countAction(t, f.store, audit.ActionForbiddenAttempt); got != 1 {
		t.Errorf("forbidden_attempt audit events = %d, want 1", got)
	}

	rec := check("admin-1", middleware.RoleAdmin, "member-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp deletionCheckResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Clean {
		t.Error("expected residual data before deletion")
	}
	if len(resp.Residues) != 1 || resp.Residues[0] != "profile" {
		t.Errorf("expected [profile] residues, got %v", resp.Residues)
	}

	// After a deletion run the same check must come back clean.
	delRec := postCreateRequest(t, f.handlers, "member-1", "deletion")
	var delReq dsr.DataSubjectRequest
	if err := json.Unmarshal(delRec.Body.Bytes(), &delReq); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if _, err := f.service.Process(context.Background(), delReq.ID); err != nil {
		t.Fatalf("failed to process deletion: %v", err)
	}

	rec = check("admin-1", middleware.RoleAdmin, "member-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Clean || len(resp.Residues) != 0 {
		t.Errorf("expected clean subject, got residues %v", resp.Residues)
	}
}
