package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/nao1215/darc/internal/extract"
	"github.com/nao1215/darc/internal/fetch"
	"github.com/nao1215/darc/internal/frontier"
	"github.com/nao1215/darc/internal/model"
	"github.com/nao1215/darc/internal/tor"
	"golang.org/x/sync/errgroup"
)

// Freshness is the cache the scheduler consults and updates.
// cache.Cache satisfies it.
type Freshness interface {
	IsFresh(ctx context.Context, url string) (bool, error)
	MarkVisited(ctx context.Context, url string, at time.Time) error
}

// Store persists visit outcomes. *database.Store satisfies it.
type Store interface {
	InsertVisit(ctx context.Context, v *model.VisitOutcome) (int64, error)
	Exists(ctx context.Context, url string) (bool, error)
}

// Blobs stores page bodies and returns a reference to them.
// *database.BlobStore satisfies it.
type Blobs interface {
	Put(host, contentType string, body []byte) (string, error)
}

// Extractor finds outbound links in an HTML body. *extract.Extractor satisfies it.
type Extractor interface {
	Extract(body []byte, baseURL string) []string
	Keep(url string) bool
}

// Discoverer applies robots.txt and finds sitemap URLs of new hosts.
// *discover.Discoverer satisfies it.
type Discoverer interface {
	// Allowed returns an error when the rules could not be read this time;
	// the URL is then retried instead of being dropped.
	Allowed(ctx context.Context, rawURL string) (bool, error)
	Discover(ctx context.Context, rawURL string) []string
}

// Circuit tracks the Tor identity. *tor.CircuitManager satisfies it.
type Circuit interface {
	Current() *tor.Session
	RecordSuccess(s *tor.Session)
	RecordFailure(ctx context.Context, s *tor.Session) error
	RotateFrom(ctx context.Context, s *tor.Session) (*tor.Session, error)
}

// Publisher receives every persisted outcome. publish.Sink satisfies it.
type Publisher interface {
	Publish(ctx context.Context, v *model.VisitOutcome) error
}

// Defaults for the worker loop.
const (
	DefaultWorkers         = 4
	DefaultTimeout         = 2 * time.Minute
	DefaultIdleMin         = 100 * time.Millisecond
	DefaultIdleMax         = 5 * time.Second
	DefaultReclaimInterval = 30 * time.Second
	DefaultPersistAttempts = 5
	DefaultPersistBackoff  = 200 * time.Millisecond
)

// Scheduler runs a pool of crawl workers over a frontier.
type Scheduler struct {
	queue     frontier.Queue
	cache     Freshness
	fetcher   fetch.Fetcher
	store     Store
	blobs     Blobs
	extractor Extractor
	discover  Discoverer
	circuit   Circuit
	publisher Publisher

	workers         int
	prefix          string
	timeout         time.Duration
	ttl             time.Duration
	forever         bool
	idleMin         time.Duration
	idleMax         time.Duration
	reclaimInterval time.Duration
	persistAttempts int
	persistBackoff  time.Duration
	now             func() time.Time
	logger          *slog.Logger

	states []atomic.Int32
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers sets the number of workers.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		s.workers = n
	}
}

// WithWorkerPrefix sets the prefix of worker IDs. IDs must be unique across
// processes sharing a Redis frontier; the default is host name and pid.
func WithWorkerPrefix(prefix string) Option {
	return func(s *Scheduler) {
		s.prefix = prefix
	}
}

// WithTimeout sets the per-fetch timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithTTL tells the scheduler the cache TTL. With a negative TTL a URL that
// the store already holds an ok visit for is never fetched again, even if
// the cache was lost.
func WithTTL(ttl time.Duration) Option {
	return func(s *Scheduler) {
		s.ttl = ttl
	}
}

// WithForever keeps workers polling after the frontier drained.
func WithForever(forever bool) Option {
	return func(s *Scheduler) {
		s.forever = forever
	}
}

// WithIdleBackoff bounds the wait between polls of an empty frontier.
func WithIdleBackoff(minWait, maxWait time.Duration) Option {
	return func(s *Scheduler) {
		if minWait > 0 && maxWait >= minWait {
			s.idleMin, s.idleMax = minWait, maxWait
		}
	}
}

// WithReclaimInterval sets how often expired leases are reclaimed.
func WithReclaimInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.reclaimInterval = d
		}
	}
}

// WithPersistRetry sets how often persisting a visit is attempted and the
// delay before the first retry.
func WithPersistRetry(attempts int, backoff time.Duration) Option {
	return func(s *Scheduler) {
		if attempts > 0 {
			s.persistAttempts = attempts
		}
		if backoff >= 0 {
			s.persistBackoff = backoff
		}
	}
}

// WithBlobs stores page bodies in b.
func WithBlobs(b Blobs) Option {
	return func(s *Scheduler) {
		s.blobs = b
	}
}

// WithExtractor replaces the link extractor.
func WithExtractor(e Extractor) Option {
	return func(s *Scheduler) {
		s.extractor = e
	}
}

// WithDiscoverer enables robots.txt checks and sitemap discovery.
func WithDiscoverer(d Discoverer) Option {
	return func(s *Scheduler) {
		s.discover = d
	}
}

// WithCircuit reports proxy failures and blocks to c.
func WithCircuit(c Circuit) Option {
	return func(s *Scheduler) {
		s.circuit = c
	}
}

// WithPublisher forwards every persisted outcome to p.
func WithPublisher(p Publisher) Option {
	return func(s *Scheduler) {
		s.publisher = p
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// New creates a Scheduler. Without WithExtractor links are found with
// extract.New's defaults.
func New(queue frontier.Queue, cache Freshness, fetcher fetch.Fetcher, store Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		queue:           queue,
		cache:           cache,
		fetcher:         fetcher,
		store:           store,
		circuit:         noCircuit{},
		workers:         DefaultWorkers,
		timeout:         DefaultTimeout,
		ttl:             -1,
		idleMin:         DefaultIdleMin,
		idleMax:         DefaultIdleMax,
		reclaimInterval: DefaultReclaimInterval,
		persistAttempts: DefaultPersistAttempts,
		persistBackoff:  DefaultPersistBackoff,
		now:             time.Now,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.extractor == nil {
		s.extractor = extract.New(extract.WithLogger(s.logger))
	}
	if s.prefix == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "darc"
		}
		s.prefix = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	return s
}

// Run starts the workers and blocks until they stop.
//
// Workers stop when ctx is cancelled, or when the frontier is drained unless
// WithForever was given. A claim that is being processed when ctx is
// cancelled is finished first. A worker that loses the Tor control channel
// stops on its own; the others keep going, and Run returns that error once
// all of them are done.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.workers < 1 {
		return ErrNoWorkers
	}
	s.states = make([]atomic.Int32, s.workers)

	reclaimCtx, stopReclaim := context.WithCancel(ctx)
	reclaimed := make(chan struct{})
	go func() {
		defer close(reclaimed)
		s.reclaimLoop(reclaimCtx)
	}()

	s.logger.Info("starting workers", "workers", s.workers, "timeout", s.timeout, "forever", s.forever)
	start := s.now()

	// A plain group: one worker failing must not cancel the others.
	var g errgroup.Group
	for i := range s.workers {
		w := &worker{id: fmt.Sprintf("%s-%d", s.prefix, i+1), state: &s.states[i]}
		g.Go(func() error {
			defer w.set(Stopped)
			if err := s.loop(ctx, w); err != nil {
				s.logger.Error("worker stopped", "worker", w.id, "error", err)
				return fmt.Errorf("worker %s: %w", w.id, err)
			}
			return nil
		})
	}
	err := g.Wait()

	stopReclaim()
	<-reclaimed
	s.logger.Info("workers finished", "elapsed", s.now().Sub(start))
	return err
}

// States returns the current state of every worker. It is empty before Run.
func (s *Scheduler) States() []State {
	out := make([]State, len(s.states))
	for i := range s.states {
		out[i] = State(s.states[i].Load())
	}
	return out
}

type worker struct {
	id    string
	state *atomic.Int32
}

func (w *worker) set(st State) {
	w.state.Store(int32(st))
}

// loop is one worker's dequeue loop.
func (s *Scheduler) loop(ctx context.Context, w *worker) error {
	wait := s.idleMin
	for {
		if ctx.Err() != nil {
			return nil
		}

		w.set(Dequeuing)
		claim, err := s.queue.Dequeue(ctx, w.id)
		if err != nil {
			if !errors.Is(err, frontier.ErrEmpty) {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Warn("dequeue failed", "worker", w.id, "error", err)
			} else if !s.forever && s.drained(ctx) {
				s.logger.Debug("frontier drained", "worker", w.id)
				return nil
			}

			w.set(Idle)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			wait = min(wait*2, s.idleMax)
			continue
		}
		wait = s.idleMin

		// The claim is finished even if ctx is cancelled meanwhile; fetch and
		// persistence carry their own timeouts.
		if err := s.visit(context.WithoutCancel(ctx), w, claim); err != nil {
			return err
		}
		w.set(Idle)
	}
}

func (s *Scheduler) drained(ctx context.Context) bool {
	st, err := s.queue.Stats(ctx)
	if err != nil {
		s.logger.Warn("reading frontier stats failed", "error", err)
		return false
	}
	return st.Drained()
}

func (s *Scheduler) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(s.reclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.queue.ReclaimExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("reclaiming leases failed", "error", err)
				}
				continue
			}
			if n > 0 {
				s.logger.Info("reclaimed expired leases", "count", n)
			}
		}
	}
}

// noCircuit is used when no circuit manager is configured.
type noCircuit struct{}

func (noCircuit) Current() *tor.Session { return nil }

func (noCircuit) RecordSuccess(*tor.Session) {}

func (noCircuit) RecordFailure(context.Context, *tor.Session) error { return nil }

func (noCircuit) RotateFrom(context.Context, *tor.Session) (*tor.Session, error) { return nil, nil }
