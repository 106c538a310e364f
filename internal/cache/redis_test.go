package cache

import (
	"context"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient connects to a local Redis or skips the test.
func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping integration test")
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisCache_ReadThroughAndInvalidate(t *testing.T) {
	client := redisClient(t)
	c := NewRedisCache(client)
	ctx := context.Background()

	key := "itest-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	tag := key + ":tag"
	var computes atomic.Int64
	compute := func(ctx context.Context) ([]byte, error) {
		computes.Add(1)
		return []byte("derived"), nil
	}

	for i := 0; i < 2; i++ {
		got, err := c.GetOrCompute(ctx, key, time.Minute, []string{tag}, compute)
		if err != nil {
			t.Fatalf("GetOrCompute() error = %v", err)
		}
		if string(got) != "derived" {
			t.Errorf("GetOrCompute() = %q", got)
		}
	}
	if computes.Load() != 1 {
		t.Errorf("compute ran %d times, want 1", computes.Load())
	}

	if err := c.Invalidate(ctx, tag); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, err := c.GetOrCompute(ctx, key, time.Minute, []string{tag}, compute); err != nil {
		t.Fatalf("GetOrCompute() after invalidate error = %v", err)
	}
	if computes.Load() != 2 {
		t.Errorf("compute ran %d times after invalidate, want 2", computes.Load())
	}

	client.Del(ctx, entryKey(key), tagKey(tag))
}

func TestRedisCache_InvalidateUnknownTag(t *testing.T) {
	client := redisClient(t)
	c := NewRedisCache(client)
	if err := c.Invalidate(context.Background(), "itest-unknown-tag"); err != nil {
		t.Errorf("Invalidate() of unknown tag error = %v, want nil", err)
	}
}
