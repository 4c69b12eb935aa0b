package cache

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// TestMemoryFreshness tests TTL handling of the in-process cache.
func TestMemoryFreshness(t *testing.T) {
	t.Parallel()

	const url = "http://a.onion/"
	ctx := context.Background()

	t.Run("unknown url is not fresh", func(t *testing.T) {
		t.Parallel()

		c := NewMemory(time.Hour)
		ok, err := c.IsFresh(ctx, url)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			t.Error("expected unknown url to be stale")
		}
	})

	t.Run("finite ttl expires", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		c := NewMemory(time.Hour, WithClock(clock.Now))
		if err := c.MarkVisited(ctx, url, clock.Now()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		clock.Advance(59 * time.Minute)
		if ok, _ := c.IsFresh(ctx, url); !ok {
			t.Error("expected entry to be fresh before the ttl elapsed")
		}

		clock.Advance(time.Minute)
		if ok, _ := c.IsFresh(ctx, url); ok {
			t.Error("expected entry to be stale once the ttl elapsed")
		}
	})

	t.Run("infinite ttl never expires", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		c := NewMemory(Infinite, WithClock(clock.Now))
		if err := c.MarkVisited(ctx, url, clock.Now()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		clock.Advance(100 * 365 * 24 * time.Hour)
		if ok, _ := c.IsFresh(ctx, url); !ok {
			t.Error("expected entry to stay fresh with infinite ttl")
		}
	})

	t.Run("older timestamp does not overwrite newer", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		c := NewMemory(time.Hour, WithClock(clock.Now))
		_ = c.MarkVisited(ctx, url, clock.Now())
		_ = c.MarkVisited(ctx, url, clock.Now().Add(-2*time.Hour))

		if ok, _ := c.IsFresh(ctx, url); !ok {
			t.Error("expected newer visit time to be kept")
		}
		if c.Len() != 1 {
			t.Errorf("expected 1 entry, got %d", c.Len())
		}
	})
}

// TestRedisFreshness tests the Redis cache against a real server.
// It runs only when DARC_TEST_REDIS_ADDR is set.
func TestRedisFreshness(t *testing.T) {
	addr := os.Getenv("DARC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DARC_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	prefix := "darc:test:" + time.Now().Format("150405.000000") + ":"
	clock := newFakeClock()
	c := NewRedis(client, time.Hour, WithRedisPrefix(prefix), WithRedisClock(clock.Now))

	const url = "http://a.onion/"
	if ok, err := c.IsFresh(ctx, url); err != nil || ok {
		t.Fatalf("expected stale unknown url, got %v (err %v)", ok, err)
	}
	if err := c.MarkVisited(ctx, url, clock.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok, err := c.IsFresh(ctx, url); err != nil || !ok {
		t.Fatalf("expected fresh url, got %v (err %v)", ok, err)
	}

	clock.Advance(2 * time.Hour)
	if ok, err := c.IsFresh(ctx, url); err != nil || ok {
		t.Fatalf("expected expired url, got %v (err %v)", ok, err)
	}
}
