package middleware

import "net/http"

// Identity headers asserted by the authenticating gateway. The gateway
// terminates the session, strips any client-supplied copies, and
// forwards the verified identity; this service never authenticates on
// its own.
const (
	ActorIDHeader   = "X-Actor-ID"
	ActorRoleHeader = "X-Actor-Role"
)

// ActorContext lifts the gateway-asserted actor identity into the
// request context for the role checks downstream. Requests without the
// identity headers pass through anonymous and are rejected by the
// actor-gated handlers.
func ActorContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(ActorIDHeader); id != "" {
			ctx := SetActor(r.Context(), id, r.Header.Get(ActorRoleHeader))
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}
