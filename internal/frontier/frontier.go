package frontier

import (
	"context"
	"log/slog"
	"time"

	"github.com/nao1215/darc/internal/model"
)

// Queue is the shared work queue of the crawler.
type Queue interface {
	// Enqueue normalizes rawURL and inserts it as pending. It returns false
	// without error when the URL is already pending, in flight, dead, or
	// visited and still fresh.
	Enqueue(ctx context.Context, rawURL string) (bool, error)

	// Dequeue claims the oldest ready pending URL for workerID.
	// It returns ErrEmpty when nothing is ready.
	Dequeue(ctx context.Context, workerID string) (*Claim, error)

	// Release ends a claim with the given verdict and returns the resulting status.
	Release(ctx context.Context, claim *Claim, v Verdict) (model.Status, error)

	// ReclaimExpired returns expired in-flight claims to the queue and reports
	// how many were reclaimed.
	ReclaimExpired(ctx context.Context) (int, error)

	// Reset makes a dead URL pending again.
	Reset(ctx context.Context, rawURL string) error

	// MarkHost records host and reports whether it was seen for the first time.
	MarkHost(ctx context.Context, host string) (bool, error)

	// Get returns a snapshot of the record for rawURL.
	Get(ctx context.Context, rawURL string) (*model.URLRecord, error)

	// Stats returns counters per state.
	Stats(ctx context.Context) (Stats, error)

	// Close releases resources held by the queue.
	Close() error
}

// FreshnessGate decides whether a visited URL may be enqueued again.
// cache.Cache satisfies it.
type FreshnessGate interface {
	IsFresh(ctx context.Context, url string) (bool, error)
}

// Claim is a worker's exclusive, time-bounded hold on one URL.
type Claim struct {
	// Record is the URL record as it was when claimed.
	Record model.URLRecord

	// WorkerID identifies the owner.
	WorkerID string

	// Token distinguishes this claim from earlier claims of the same URL.
	Token string

	// LeaseExpiry is when the claim may be reclaimed by ReclaimExpired.
	LeaseExpiry time.Time
}

// URL is a shorthand for c.Record.URL.
func (c *Claim) URL() string {
	return c.Record.URL
}

// Disposition is what a worker wants to happen to a claimed URL.
type Disposition int

const (
	// Visited marks the URL visited.
	Visited Disposition = iota

	// Retry schedules another attempt with backoff, or kills the URL when its
	// retry budget is spent.
	Retry

	// Dead marks the URL dead at once.
	Dead
)

// String returns a readable name.
func (d Disposition) String() string {
	switch d {
	case Visited:
		return "visited"
	case Retry:
		return "retry"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Verdict is passed to Release.
type Verdict struct {
	// Disposition selects the transition.
	Disposition Disposition

	// Reason is stored as the record's last error for Retry and Dead.
	Reason string

	// MinDelay is a lower bound for the retry delay, for example from Retry-After.
	MinDelay time.Duration
}

// Stats counts records per state.
type Stats struct {
	Pending  int `json:"pending"`
	Delayed  int `json:"delayed"`
	InFlight int `json:"in_flight"`
	Visited  int `json:"visited"`
	Dead     int `json:"dead"`
	Hosts    int `json:"hosts"`
}

// Drained reports whether no work is pending, delayed or in flight.
func (s Stats) Drained() bool {
	return s.Pending == 0 && s.Delayed == 0 && s.InFlight == 0
}

// Default retry and lease settings.
const (
	DefaultMaxRetries    = 3
	DefaultRetryBase     = 30 * time.Second
	DefaultRetryMaxDelay = 30 * time.Minute
	DefaultLeaseTimeout  = 10 * time.Minute
)

// Policy controls retries and leases.
type Policy struct {
	// MaxRetries is how many times a failed URL is retried before it is dead.
	MaxRetries int

	// RetryBase is the delay before the first retry; later retries double it.
	RetryBase time.Duration

	// RetryMaxDelay caps the retry delay.
	RetryMaxDelay time.Duration

	// LeaseTimeout bounds how long a claim may stay in flight.
	LeaseTimeout time.Duration
}

// DefaultPolicy returns the default retry and lease settings.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    DefaultMaxRetries,
		RetryBase:     DefaultRetryBase,
		RetryMaxDelay: DefaultRetryMaxDelay,
		LeaseTimeout:  DefaultLeaseTimeout,
	}
}

// Backoff returns the delay before retry number attempts (1-based).
func (p Policy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := p.RetryBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= p.RetryMaxDelay {
			return p.RetryMaxDelay
		}
	}
	if p.RetryMaxDelay > 0 && delay > p.RetryMaxDelay {
		return p.RetryMaxDelay
	}
	return delay
}

// failure computes the state after a failed attempt.
// It returns the new attempt count, whether the record is now dead, and the
// time it becomes ready again.
func (p Policy) failure(prevAttempts int, now time.Time, minDelay time.Duration) (int, bool, time.Time) {
	attempts := prevAttempts + 1
	if attempts > p.MaxRetries {
		return attempts, true, time.Time{}
	}
	delay := max(p.Backoff(attempts), minDelay)
	return attempts, false, now.Add(delay)
}

// Option configures a Queue implementation.
type Option func(*options)

type options struct {
	policy Policy
	gate   FreshnessGate
	now    func() time.Time
	logger *slog.Logger
}

func newOptions(opts []Option) options {
	o := options{
		policy: DefaultPolicy(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithPolicy sets the retry and lease policy.
func WithPolicy(p Policy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithFreshness lets visited URLs be enqueued again once gate says they are stale.
// Without a gate a visited URL is never enqueued again.
func WithFreshness(gate FreshnessGate) Option {
	return func(o *options) {
		o.gate = gate
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// staleVisit asks the freshness gate whether a visited URL may be revived.
func (o options) staleVisit(ctx context.Context, url string) (bool, error) {
	if o.gate == nil {
		return false, nil
	}
	fresh, err := o.gate.IsFresh(ctx, url)
	if err != nil {
		return false, err
	}
	return !fresh, nil
}
