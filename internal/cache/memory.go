package cache

import (
	"context"
	"sync"
	"time"
)

// memoryEntry is one cached value with its staleness state.
type memoryEntry struct {
	value     []byte
	tags      []string
	expiresAt time.Time
	stale     bool
}

// MemoryCache implements Cache with an in-process map and a tag index.
// Thread-safe. The compute callback runs outside the lock, so concurrent
// misses on the same key may compute more than once; last write wins.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	byTag   map[string]map[string]struct{}
	now     func() time.Time
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*memoryEntry),
		byTag:   make(map[string]map[string]struct{}),
		now:     time.Now,
	}
}

// SetNow overrides the clock.
func (c *MemoryCache) SetNow(now func() time.Time) { c.now = now }

func (c *MemoryCache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, tags []string, compute ComputeFunc) ([]byte, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && !e.stale && c.now().Before(e.expiresAt) {
		value := e.value
		c.mu.Unlock()
		return value, nil
	}
	c.mu.Unlock()

	value, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.entries[key]; ok {
		c.unindex(key, prev.tags)
	}
	c.entries[key] = &memoryEntry{
		value:     value,
		tags:      tags,
		expiresAt: c.now().Add(ttl),
	}
	for _, tag := range tags {
		keys, ok := c.byTag[tag]
		if !ok {
			keys = make(map[string]struct{})
			c.byTag[tag] = keys
		}
		keys[key] = struct{}{}
	}
	return value, nil
}

func (c *MemoryCache) Invalidate(ctx context.Context, tags ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tag := range tags {
		for key := range c.byTag[tag] {
			if e, ok := c.entries[key]; ok {
				e.stale = true
			}
		}
	}
	return nil
}

// unindex must be called with the lock held.
func (c *MemoryCache) unindex(key string, tags []string) {
	for _, tag := range tags {
		if keys, ok := c.byTag[tag]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.byTag, tag)
			}
		}
	}
}

// Sweep removes expired entries and their tag index references.
// Call periodically to bound memory growth.
func (c *MemoryCache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			c.unindex(key, e.tags)
			delete(c.entries, key)
		}
	}
}
