package cache

import (
	"context"
	"time"
)

// Infinite is the TTL that keeps every entry fresh forever.
// Any negative TTL is treated the same way.
const Infinite time.Duration = -1

// Cache maps a normalized URL to the time of its last successful visit.
type Cache interface {
	// IsFresh reports whether url was visited within the TTL.
	IsFresh(ctx context.Context, url string) (bool, error)

	// MarkVisited records a successful visit at the given time.
	MarkVisited(ctx context.Context, url string, at time.Time) error

	// Close releases resources held by the cache.
	Close() error
}

// fresh applies the TTL rule to a stored visit time.
func fresh(visited, now time.Time, ttl time.Duration) bool {
	if ttl < 0 {
		return true
	}
	return now.Sub(visited) < ttl
}
