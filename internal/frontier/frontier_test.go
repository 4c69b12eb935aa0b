package frontier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/darc/internal/cache"
	"github.com/nao1215/darc/internal/model"
)

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

// queueFactory builds an empty queue for one subtest.
type queueFactory func(t *testing.T, opts ...Option) Queue

var testPolicy = Policy{
	MaxRetries:    2,
	RetryBase:     time.Second,
	RetryMaxDelay: 10 * time.Second,
	LeaseTimeout:  time.Minute,
}

// runQueueSuite checks behavior every Queue implementation must share.
func runQueueSuite(t *testing.T, newQueue queueFactory) {
	t.Helper()
	ctx := context.Background()

	t.Run("enqueue deduplicates normalized urls", func(t *testing.T) {
		t.Parallel()

		q := newQueue(t)
		mustEnqueue(t, q, "http://a.onion/", true)
		mustEnqueue(t, q, "HTTP://A.ONION:80/#top", false)

		s, err := q.Stats(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s.Pending != 1 {
			t.Errorf("pending = %d, want 1", s.Pending)
		}
	})

	t.Run("enqueue rejects invalid urls", func(t *testing.T) {
		t.Parallel()

		q := newQueue(t)
		if _, err := q.Enqueue(ctx, "ftp://a.onion/"); !errors.Is(err, model.ErrUnsupportedScheme) {
			t.Errorf("expected ErrUnsupportedScheme, got %v", err)
		}
	})

	t.Run("dequeue is fifo", func(t *testing.T) {
		t.Parallel()

		q := newQueue(t)
		urls := []string{"http://a.onion/", "http://b.onion/", "http://c.onion/"}
		for _, u := range urls {
			mustEnqueue(t, q, u, true)
		}
		for _, want := range urls {
			c, err := q.Dequeue(ctx, "w")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.URL() != want {
				t.Errorf("dequeued %s, want %s", c.URL(), want)
			}
		}
		if _, err := q.Dequeue(ctx, "w"); !errors.Is(err, ErrEmpty) {
			t.Errorf("expected ErrEmpty, got %v", err)
		}
	})

	t.Run("each url is claimed once", func(t *testing.T) {
		t.Parallel()

		q := newQueue(t)
		const n = 50
		for i := range n {
			mustEnqueue(t, q, fmt.Sprintf("http://a.onion/%d", i), true)
		}

		var (
			mu   sync.Mutex
			seen = make(map[string]int)
			wg   sync.WaitGroup
		)
		for w := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					c, err := q.Dequeue(ctx, fmt.Sprintf("w%d", w))
					if err != nil {
						return
					}
					mu.Lock()
					seen[c.URL()]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if len(seen) != n {
			t.Errorf("claimed %d distinct urls, want %d", len(seen), n)
		}
		for u, count := range seen {
			if count != 1 {
				t.Errorf("%s claimed %d times", u, count)
			}
		}
	})

	t.Run("visited url is not enqueued again without a gate", func(t *testing.T) {
		t.Parallel()

		q := newQueue(t)
		visit(t, q, "http://a.onion/")
		mustEnqueue(t, q, "http://a.onion/", false)
	})

	t.Run("retry backs off and then kills", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		q := newQueue(t, WithPolicy(testPolicy), WithClock(clock.Now))
		mustEnqueue(t, q, "http://a.onion/", true)

		for attempt, wantDelay := range []time.Duration{time.Second, 2 * time.Second} {
			c := mustDequeue(t, q)
			status, err := q.Release(ctx, c, Verdict{Disposition: Retry, Reason: "timeout"})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if status != model.StatusPending {
				t.Fatalf("attempt %d: status = %s, want pending", attempt+1, status)
			}
			if _, err := q.Dequeue(ctx, "w"); !errors.Is(err, ErrEmpty) {
				t.Fatalf("attempt %d: expected delayed url, got %v", attempt+1, err)
			}
			clock.Advance(wantDelay)
		}

		c := mustDequeue(t, q)
		status, err := q.Release(ctx, c, Verdict{Disposition: Retry, Reason: "timeout"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != model.StatusDead {
			t.Errorf("status = %s, want dead", status)
		}

		rec, err := q.Get(ctx, "http://a.onion/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Attempts != 3 || rec.LastError != "timeout" {
			t.Errorf("record = %+v, want 3 attempts with last error", rec)
		}
		mustEnqueue(t, q, "http://a.onion/", false)
	})

	t.Run("min delay overrides shorter backoff", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		q := newQueue(t, WithPolicy(testPolicy), WithClock(clock.Now))
		mustEnqueue(t, q, "http://a.onion/", true)

		c := mustDequeue(t, q)
		if _, err := q.Release(ctx, c, Verdict{Disposition: Retry, MinDelay: 5 * time.Second}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		clock.Advance(2 * time.Second)
		if _, err := q.Dequeue(ctx, "w"); !errors.Is(err, ErrEmpty) {
			t.Fatalf("expected ErrEmpty before min delay, got %v", err)
		}
		clock.Advance(3 * time.Second)
		mustDequeue(t, q)
	})

	t.Run("expired lease is reclaimed", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		q := newQueue(t, WithPolicy(testPolicy), WithClock(clock.Now))
		mustEnqueue(t, q, "http://a.onion/", true)
		stale := mustDequeue(t, q)

		n, err := q.ReclaimExpired(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != 0 {
			t.Fatalf("reclaimed %d live leases", n)
		}

		clock.Advance(2 * time.Minute)
		n, err = q.ReclaimExpired(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != 1 {
			t.Fatalf("reclaimed %d, want 1", n)
		}

		if _, err := q.Release(ctx, stale, Verdict{Disposition: Visited}); !errors.Is(err, ErrLeaseLost) {
			t.Errorf("expected ErrLeaseLost, got %v", err)
		}
		rec, err := q.Get(ctx, "http://a.onion/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Status != model.StatusPending || rec.Attempts != 1 {
			t.Errorf("record = %+v, want pending with 1 attempt", rec)
		}

		clock.Advance(time.Second)
		fresh := mustDequeue(t, q)
		if fresh.Token == stale.Token {
			t.Error("expected a new lease token")
		}
	})

	t.Run("reset revives dead urls only", func(t *testing.T) {
		t.Parallel()

		q := newQueue(t)
		if err := q.Reset(ctx, "http://missing.onion/"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		mustEnqueue(t, q, "http://a.onion/", true)
		if err := q.Reset(ctx, "http://a.onion/"); !errors.Is(err, ErrNotDead) {
			t.Errorf("expected ErrNotDead, got %v", err)
		}

		c := mustDequeue(t, q)
		if _, err := q.Release(ctx, c, Verdict{Disposition: Dead, Reason: "404"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := q.Reset(ctx, "http://a.onion/"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		rec, err := q.Get(ctx, "http://a.onion/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Status != model.StatusPending || rec.Attempts != 0 {
			t.Errorf("record = %+v, want pending with 0 attempts", rec)
		}
	})

	t.Run("mark host reports first sighting", func(t *testing.T) {
		t.Parallel()

		q := newQueue(t)
		for i, want := range []bool{true, false} {
			got, err := q.MarkHost(ctx, "a.onion")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != want {
				t.Errorf("call %d: MarkHost() = %v, want %v", i+1, got, want)
			}
		}
	})

	t.Run("freshness gate", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name    string
			ttl     time.Duration
			advance time.Duration
			want    bool
		}{
			{name: "infinite ttl never revisits", ttl: cache.Infinite, advance: 24 * 365 * time.Hour, want: false},
			{name: "fresh visit is skipped", ttl: time.Hour, advance: time.Minute, want: false},
			{name: "stale visit is enqueued", ttl: time.Hour, advance: 2 * time.Hour, want: true},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()

				clock := newFakeClock()
				gate := cache.NewMemory(tt.ttl, cache.WithClock(clock.Now))
				q := newQueue(t, WithFreshness(gate), WithClock(clock.Now))

				visit(t, q, "http://a.onion/")
				if err := gate.MarkVisited(ctx, "http://a.onion/", clock.Now()); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				clock.Advance(tt.advance)
				mustEnqueue(t, q, "http://a.onion/", tt.want)
			})
		}
	})
}

func mustEnqueue(t *testing.T, q Queue, url string, want bool) {
	t.Helper()

	got, err := q.Enqueue(context.Background(), url)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Fatalf("Enqueue(%q) = %v, want %v", url, got, want)
	}
}

func mustDequeue(t *testing.T, q Queue) *Claim {
	t.Helper()

	c, err := q.Dequeue(context.Background(), "w")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func visit(t *testing.T, q Queue, url string) {
	t.Helper()

	mustEnqueue(t, q, url, true)
	c := mustDequeue(t, q)
	status, err := q.Release(context.Background(), c, Verdict{Disposition: Visited})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != model.StatusVisited {
		t.Fatalf("status = %s, want visited", status)
	}
}

// TestMemoryQueue runs the shared suite against MemoryQueue.
func TestMemoryQueue(t *testing.T) {
	t.Parallel()

	runQueueSuite(t, func(_ *testing.T, opts ...Option) Queue {
		return NewMemoryQueue(opts...)
	})
}

// TestPolicyBackoff tests the exponential retry delay.
func TestPolicyBackoff(t *testing.T) {
	t.Parallel()

	p := Policy{RetryBase: time.Second, RetryMaxDelay: 5 * time.Second}
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: 0, want: time.Second},
		{attempts: 1, want: time.Second},
		{attempts: 2, want: 2 * time.Second},
		{attempts: 3, want: 4 * time.Second},
		{attempts: 4, want: 5 * time.Second},
		{attempts: 40, want: 5 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Backoff(tt.attempts); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

// TestStatsDrained tests the drained predicate used to stop a crawl.
func TestStatsDrained(t *testing.T) {
	t.Parallel()

	if !(Stats{Visited: 3, Dead: 1}).Drained() {
		t.Error("expected stats without pending work to be drained")
	}
	if (Stats{Delayed: 1}).Drained() {
		t.Error("expected delayed work to keep the crawl alive")
	}
}
