package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestActorContext(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		wantID   string
		wantRole string
	}{
		{
			name:     "gateway identity forwarded",
			headers:  map[string]string{ActorIDHeader: "member-1", ActorRoleHeader: RoleAdmin},
			wantID:   "member-1",
			wantRole: RoleAdmin,
		},
		{
			name:    "no headers stays anonymous",
			headers: nil,
		},
		{
			name:    "role without identity stays anonymous",
			headers: map[string]string{ActorRoleHeader: RoleAdmin},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotID, gotRole string
			handler := ActorContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotID = GetActorID(r.Context())
				gotRole = GetActorRole(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/v1/audit/events", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if gotID != tt.wantID {
				t.Errorf("actor ID = %q, want %q", gotID, tt.wantID)
			}
			if gotRole != tt.wantRole {
				t.Errorf("actor role = %q, want %q", gotRole, tt.wantRole)
			}
		})
	}
}
