package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitPolicy defines one named rate limit. Two independent counters
// are kept per request: one keyed by the acting subject and one keyed by
// the source address. A request is throttled when either ceiling is hit.
//
// MaxPerSource must be strictly greater than MaxPerSubject: shared
// infrastructure such as a NAT gateway carries many subjects' traffic, and
// must not be starved at the same rate as a single abusive subject.
type RateLimitPolicy struct {
	// Name scopes the counters; two policies never share a window.
	Name string
	// Window is the fixed counting window. Must be > 0.
	Window time.Duration
	// MaxPerSubject is the per-subject ceiling within a window. Must be > 0.
	MaxPerSubject int
	// MaxPerSource is the per-source-address ceiling within a window.
	// Must be > MaxPerSubject.
	MaxPerSource int
}

// Validate checks that the policy's values are usable.
func (p RateLimitPolicy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("rate limit policy needs a name")
	}
	if p.Window <= 0 {
		return fmt.Errorf("policy %s: Window must be > 0 (got %s)", p.Name, p.Window)
	}
	if p.MaxPerSubject <= 0 {
		return fmt.Errorf("policy %s: MaxPerSubject must be > 0 (got %d)", p.Name, p.MaxPerSubject)
	}
	if p.MaxPerSource <= p.MaxPerSubject {
		return fmt.Errorf("policy %s: MaxPerSource (%d) must be strictly greater than MaxPerSubject (%d)",
			p.Name, p.MaxPerSource, p.MaxPerSubject)
	}
	return nil
}

// DefaultPrivacyLimit guards the data-subject request endpoints.
func DefaultPrivacyLimit() RateLimitPolicy {
	return RateLimitPolicy{
		Name:          "privacy",
		Window:        time.Minute,
		MaxPerSubject: 10,
		MaxPerSource:  40,
	}
}

// DefaultUnsubscribeLimit guards the unsubscribe endpoint.
func DefaultUnsubscribeLimit() RateLimitPolicy {
	return RateLimitPolicy{
		Name:          "unsubscribe",
		Window:        time.Minute,
		MaxPerSubject: 15,
		MaxPerSource:  60,
	}
}

// DefaultAuditLimit guards the audit query and export endpoints.
func DefaultAuditLimit() RateLimitPolicy {
	return RateLimitPolicy{
		Name:          "audit",
		Window:        time.Minute,
		MaxPerSubject: 30,
		MaxPerSource:  120,
	}
}

// RateLimitStore holds the window counters. Take must be atomic: the
// increment and the read of the resulting count happen as one operation so
// parallel requests never undercount.
type RateLimitStore interface {
	// Take increments the counter for key within the fixed window and
	// returns the count after the increment plus the time remaining until
	// the window resets. A new or expired window restarts the count at 1.
	Take(ctx context.Context, key string, window time.Duration) (count int64, reset time.Duration, err error)
}

// bucket is one key's window counter.
type bucket struct {
	count     int64
	windowEnd time.Time
}

// InMemoryRateLimitStore implements RateLimitStore using an in-memory map
// with a fixed window counter. Thread-safe. Counters do not survive a
// process restart; use the Redis store when limits must be shared.
type InMemoryRateLimitStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewInMemoryRateLimitStore creates a new in-memory rate limit store.
func NewInMemoryRateLimitStore() *InMemoryRateLimitStore {
	return &InMemoryRateLimitStore{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// SetNow overrides the clock.
func (s *InMemoryRateLimitStore) SetNow(now func() time.Time) { s.now = now }

func (s *InMemoryRateLimitStore) Take(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b, exists := s.buckets[key]
	if !exists || !now.Before(b.windowEnd) {
		b = &bucket{count: 1, windowEnd: now.Add(window)}
		s.buckets[key] = b
		return 1, window, nil
	}
	b.count++
	return b.count, b.windowEnd.Sub(now), nil
}

// Cleanup removes expired buckets to prevent unbounded growth.
// Call periodically; an interval of a few times the longest configured
// window is enough.
func (s *InMemoryRateLimitStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, b := range s.buckets {
		if !now.Before(b.windowEnd) {
			delete(s.buckets, key)
		}
	}
}

// Decision is the rate limiter's verdict for one request.
type Decision struct {
	Allowed bool
	// RetryAfter is how long the caller should wait before retrying.
	// Zero when Allowed.
	RetryAfter time.Duration
	// Exceeded names which ceiling was hit: "subject" or "source".
	Exceeded string
}

// RateLimiter applies one policy's dual counters.
type RateLimiter struct {
	store  RateLimitStore
	policy RateLimitPolicy
	logger *slog.Logger
}

// NewRateLimiter creates a limiter for the policy. The policy must be
// valid.
func NewRateLimiter(store RateLimitStore, policy RateLimitPolicy, logger *slog.Logger) (*RateLimiter, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{store: store, policy: policy, logger: logger}, nil
}

// Check takes one unit from both counters and returns the verdict.
// A store failure fails open: availability of the guarded endpoint is
// worth more than a perfectly enforced ceiling.
func (l *RateLimiter) Check(ctx context.Context, subjectKey, sourceAddr string) Decision {
	subjectCount, subjectReset, err := l.store.Take(ctx, l.counterKey("subject", subjectKey), l.policy.Window)
	if err != nil {
		l.failOpen(ctx, err)
		return Decision{Allowed: true}
	}
	sourceCount, sourceReset, err := l.store.Take(ctx, l.counterKey("source", sourceAddr), l.policy.Window)
	if err != nil {
		l.failOpen(ctx, err)
		return Decision{Allowed: true}
	}

	if subjectCount > int64(l.policy.MaxPerSubject) {
		return Decision{RetryAfter: clampRetry(subjectReset), Exceeded: "subject"}
	}
	if sourceCount > int64(l.policy.MaxPerSource) {
		return Decision{RetryAfter: clampRetry(sourceReset), Exceeded: "source"}
	}
	return Decision{Allowed: true}
}

func (l *RateLimiter) counterKey(kind, value string) string {
	return "ratelimit:" + l.policy.Name + ":" + kind + ":" + value
}

func (l *RateLimiter) failOpen(ctx context.Context, err error) {
	l.logger.WarnContext(ctx, "rate limit store unavailable, failing open",
		"policy", l.policy.Name,
		"error", err,
	)
}

func clampRetry(reset time.Duration) time.Duration {
	if reset < time.Second {
		return time.Second
	}
	return reset
}

// SourceAddr extracts the client address for the per-source counter.
func SourceAddr(r *http.Request) string {
	// X-Forwarded-For carries the chain for proxied requests; the first
	// entry is the originating client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// SubjectKey identifies the acting subject for the per-subject counter,
// falling back to the source address for unauthenticated requests.
func SubjectKey(r *http.Request) string {
	if actorID := GetActorID(r.Context()); actorID != "" {
		return actorID
	}
	return SourceAddr(r)
}

// RateLimit is a middleware that applies the limiter before the handler
// runs. It returns HTTP 429 Too Many Requests with Retry-After and
// X-RateLimit-Reset headers when either ceiling is exceeded.
func RateLimit(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := limiter.Check(r.Context(), SubjectKey(r), SourceAddr(r))

			if !decision.Allowed {
				ctx := SetErrorCode(r.Context(), "rate_limited")
				r = r.WithContext(ctx)

				retryAfter := int(decision.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				resetTime := time.Now().Add(decision.RetryAfter).Unix()
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime, 10))
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
