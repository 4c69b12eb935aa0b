package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Cache. Entries are lost when the process exits.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// MemoryOption configures a Memory cache.
type MemoryOption func(*Memory)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an empty in-process cache with the given TTL.
func NewMemory(ttl time.Duration, opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsFresh implements Cache.
func (m *Memory) IsFresh(_ context.Context, url string) (bool, error) {
	m.mu.RLock()
	visited, ok := m.entries[url]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return fresh(visited, m.now(), m.ttl), nil
}

// MarkVisited implements Cache. An older timestamp never overwrites a newer one.
func (m *Memory) MarkVisited(_ context.Context, url string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.entries[url]; ok && prev.After(at) {
		return nil
	}
	m.entries[url] = at
	return nil
}

// Len returns the number of entries, including expired ones.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close implements Cache.
func (m *Memory) Close() error {
	return nil
}
