package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/campfirehq/rosterly/internal/audit"
	"github.com/campfirehq/rosterly/internal/middleware"
)

// withActor returns the request with an authenticated actor attached,
// the way the authentication middleware would.
func withActor(r *http.Request, actorID, role string) *http.Request {
	return r.WithContext(middleware.SetActor(r.Context(), actorID, role))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v (body %q)", err, rec.Body.String())
	}
	return resp
}

// countAction returns how many events with the given action the store holds.
func countAction(t *testing.T, store audit.Store, action audit.Action) int {
	t.Helper()
	events, err := store.Query(context.Background(), audit.Filter{
		Action: action,
		From:   time.Now().UTC().Add(-time.Hour),
		To:     time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("failed to query audit store: %v", err)
	}
	return len(events)
}
