package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

// envelope is the stored form of one cache entry. CBOR keeps the stored
// value compact for payloads that are themselves serialized documents.
type envelope struct {
	Value    []byte    `cbor:"v"`
	Tags     []string  `cbor:"t"`
	StoredAt time.Time `cbor:"at"`
}

// tagSetTTL bounds how long a tag's key set outlives its entries. Must be
// at least as long as the longest entry TTL in use.
const tagSetTTL = 24 * time.Hour

// RedisCache implements Cache on a shared Redis instance so replicas see
// the same derived data and the same invalidations. Entries expire via
// Redis TTL; Invalidate deletes the affected keys, so the next read
// recomputes them.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache creates a Redis-backed cache.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func entryKey(key string) string { return "cache:entry:" + key }
func tagKey(tag string) string   { return "cache:tag:" + tag }

func (c *RedisCache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, tags []string, compute ComputeFunc) ([]byte, error) {
	raw, err := c.client.Get(ctx, entryKey(key)).Bytes()
	if err == nil {
		var env envelope
		if decodeErr := cbor.Unmarshal(raw, &env); decodeErr == nil {
			return env.Value, nil
		}
		// Undecodable entry: fall through and recompute over it.
	} else if err != redis.Nil {
		return nil, fmt.Errorf("cache read: %w", err)
	}

	value, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	encoded, err := cbor.Marshal(envelope{
		Value:    value,
		Tags:     tags,
		StoredAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("cache encode: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, entryKey(key), encoded, ttl)
	for _, tag := range tags {
		pipe.SAdd(ctx, tagKey(tag), entryKey(key))
		pipe.Expire(ctx, tagKey(tag), tagSetTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("cache store: %w", err)
	}
	return value, nil
}

func (c *RedisCache) Invalidate(ctx context.Context, tags ...string) error {
	for _, tag := range tags {
		keys, err := c.client.SMembers(ctx, tagKey(tag)).Result()
		if err != nil {
			return fmt.Errorf("cache invalidate %s: %w", tag, err)
		}
		if len(keys) == 0 {
			continue
		}
		if err := c.client.Del(ctx, append(keys, tagKey(tag))...).Err(); err != nil {
			return fmt.Errorf("cache invalidate %s: %w", tag, err)
		}
	}
	return nil
}
