package frontier

import (
	"context"
	"crypto/rand"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
)

// TestRedisQueue runs the shared suite against a real Redis server.
// It is skipped unless DARC_TEST_REDIS_ADDR is set.
func TestRedisQueue(t *testing.T) {
	addr := os.Getenv("DARC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DARC_TEST_REDIS_ADDR is not set")
	}
	t.Parallel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	runQueueSuite(t, func(t *testing.T, opts ...Option) Queue {
		prefix := "darc:test:" + rand.Text() + ":"
		t.Cleanup(func() {
			ctx := context.Background()
			iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
			for iter.Next(ctx) {
				client.Del(ctx, iter.Val())
			}
		})
		return NewRedisQueue(client, []RedisOption{WithKeyPrefix(prefix)}, opts...)
	})
}
