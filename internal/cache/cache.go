// Package cache provides a tag-indexed read-through cache for derived
// read data. Writers that mutate governed entities invalidate the
// entity's tags as part of the same logical operation; invalidation marks
// entries stale so the next read recomputes them, it never recomputes
// eagerly.
package cache

import (
	"context"
	"time"
)

// ComputeFunc produces the value for a cache entry on miss or when the
// entry is stale.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Cache is a tag-indexed read-through cache.
//
// Invalidation is best-effort by contract: callers log a failed
// Invalidate and carry on, because staleness is bounded by each entry's
// TTL ceiling anyway. Invalidating a tag with no entries is a no-op,
// not an error.
type Cache interface {
	// GetOrCompute returns the cached value for key, computing and
	// storing it when the entry is missing, expired, or stale. The entry
	// is indexed under every given tag.
	GetOrCompute(ctx context.Context, key string, ttl time.Duration, tags []string, compute ComputeFunc) ([]byte, error)

	// Invalidate marks every entry associated with any of the tags as
	// stale.
	Invalidate(ctx context.Context, tags ...string) error
}
