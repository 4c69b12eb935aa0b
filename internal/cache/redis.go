package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nao1215/darc/internal/model"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix is prepended to every key written by Redis.
const DefaultRedisPrefix = "darc:fresh:"

// Redis is a Cache shared by every darc process that talks to the same server.
// Each entry is one string key holding the visit time in Unix milliseconds.
type Redis struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	now    func() time.Time
	closer func() error
}

// RedisOption configures a Redis cache.
type RedisOption func(*Redis)

// WithRedisPrefix overrides DefaultRedisPrefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// WithRedisClock replaces time.Now, mainly for tests.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(r *Redis) {
		r.now = now
	}
}

// NewRedis wraps an existing client. The caller keeps ownership of client.
func NewRedis(client redis.Cmdable, ttl time.Duration, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: DefaultRedisPrefix,
		ttl:    ttl,
		now:    time.Now,
		closer: func() error { return nil },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DialRedis connects to addr and verifies the connection with PING.
// Close on the returned cache closes the connection.
func DialRedis(ctx context.Context, addr string, ttl time.Duration, opts ...RedisOption) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	r := NewRedis(client, ttl, opts...)
	r.closer = client.Close
	return r, nil
}

func (r *Redis) key(url string) string {
	return r.prefix + model.Key(url)
}

// IsFresh implements Cache. The stored timestamp is checked against the
// current TTL, so shortening the TTL between runs takes effect at once.
func (r *Redis) IsFresh(ctx context.Context, url string) (bool, error) {
	raw, err := r.client.Get(ctx, r.key(url)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read freshness of %s: %w", url, err)
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, fmt.Errorf("corrupt freshness entry for %s: %w", url, err)
	}
	return fresh(time.UnixMilli(ms), r.now(), r.ttl), nil
}

// MarkVisited implements Cache.
func (r *Redis) MarkVisited(ctx context.Context, url string, at time.Time) error {
	var expiration time.Duration
	if r.ttl >= 0 {
		// Expire relative to the visit, not to the write.
		expiration = r.ttl - r.now().Sub(at)
		if expiration <= 0 {
			return nil
		}
	}

	if err := r.client.Set(ctx, r.key(url), at.UnixMilli(), expiration).Err(); err != nil {
		return fmt.Errorf("failed to mark %s visited: %w", url, err)
	}
	return nil
}

// Close implements Cache.
func (r *Redis) Close() error {
	return r.closer()
}
