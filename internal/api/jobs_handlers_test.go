package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/campfirehq/rosterly/internal/retention"
)

type staticDirectory struct {
	minors []retention.Subject
}

func (d *staticDirectory) ListMinors(ctx context.Context) ([]retention.Subject, error) {
	return d.minors, nil
}

func (d *staticDirectory) SetClassification(ctx context.Context, subjectID string, c retention.Classification) error {
	return nil
}

func newJobsFixture(t *testing.T, secret string) (*JobsHandlers, *atomic.Int64) {
	t.Helper()
	var applied atomic.Int64

	engine := retention.NewEngine(retention.EngineConfig{})
	if err := engine.Register(retention.Policy{
		Name:     "session_purge",
		Category: "sessions",
		Action:   retention.ActionPurge,
		Select: func(ctx context.Context, now time.Time) ([]string, error) {
			return []string{"s1", "s2"}, nil
		},
		Apply: func(ctx context.Context, id string) error {
			applied.Add(1)
			return nil
		},
	}); err != nil {
		t.Fatalf("failed to register policy: %v", err)
	}

	monitor := retention.NewMonitor(retention.MonitorConfig{
		Directory: &staticDirectory{},
	})

	return NewJobsHandlers(engine, monitor, secret), &applied
}

func postJob(t *testing.T, h http.HandlerFunc, path, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestJobs_RejectBeforeAnyWork(t *testing.T) {
	h, applied := newJobsFixture(t, "scheduler-secret")

	tests := []struct {
		name   string
		bearer string
	}{
		{"missing credential", ""},
		{"wrong credential", "guess"},
		{"prefix of secret", "scheduler"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJob(t, h.RunRetention, "/v1/internal/jobs/retention", tt.bearer)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if resp := decodeError(t, rec); resp.Error.Code != ErrCodeUnauthorized {
				t.Errorf("expected code %s, got %s", ErrCodeUnauthorized, resp.Error.Code)
			}
		})
	}

	if n := applied.Load(); n != 0 {
		t.Errorf("policies ran despite rejected credentials: %d applications", n)
	}
}

func TestJobs_EmptyConfiguredSecretRejectsEverything(t *testing.T) {
	h, applied := newJobsFixture(t, "")

	rec := postJob(t, h.RunRetention, "/v1/internal/jobs/retention", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec = postJob(t, h.RunRetention, "/v1/internal/jobs/retention", "anything")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if n := applied.Load(); n != 0 {
		t.Errorf("policies ran with no secret configured: %d applications", n)
	}
}

func TestJobs_RunRetention(t *testing.T) {
	h, applied := newJobsFixture(t, "scheduler-secret")

	rec := postJob(t, h.RunRetention, "/v1/internal/jobs/retention", "scheduler-secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp jobRunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Success {
		t.Error("expected successful run")
	}
	if len(resp.Results) != 1 || resp.Results[0].PolicyName != "session_purge" {
		t.Errorf("unexpected results %+v", resp.Results)
	}
	if n := applied.Load(); n != 2 {
		t.Errorf("expected 2 records applied, got %d", n)
	}
}

func TestJobs_RunMaintenance(t *testing.T) {
	h, _ := newJobsFixture(t, "scheduler-secret")

	rec := postJob(t, h.RunMaintenance, "/v1/internal/jobs/maintenance", "scheduler-secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result retention.MaintenanceResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !result.Success {
		t.Error("expected successful maintenance run")
	}
}

func TestJobs_RunAgeOut(t *testing.T) {
	h, _ := newJobsFixture(t, "scheduler-secret")

	rec := postJob(t, h.RunAgeOut, "/v1/internal/jobs/ageout", "scheduler-secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result retention.AgeOutResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.Scanned != 0 || result.Transitioned != 0 {
		t.Errorf("expected empty scan, got %+v", result)
	}
}
