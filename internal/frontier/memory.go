package frontier

import (
	"container/heap"
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/nao1215/darc/internal/model"
)

// MemoryQueue is an in-process Queue.
type MemoryQueue struct {
	opts options

	mu      sync.Mutex
	entries map[string]*entry
	ready   entryHeap
	hosts   map[string]struct{}
	seq     uint64
	pos     uint64
}

type entry struct {
	rec   model.URLRecord
	token string
	pos   uint64 // insertion order among pending entries
	index int    // position in the heap, -1 when not pending
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue returns an empty in-process queue.
func NewMemoryQueue(opts ...Option) *MemoryQueue {
	return &MemoryQueue{
		opts:    newOptions(opts),
		entries: make(map[string]*entry),
		hosts:   make(map[string]struct{}),
	}
}

// Enqueue implements Queue.
func (q *MemoryQueue) Enqueue(ctx context.Context, rawURL string) (bool, error) {
	url, err := model.NormalizeURL(rawURL)
	if err != nil {
		return false, err
	}

	q.mu.Lock()
	e, ok := q.entries[url]
	var status model.Status
	if ok {
		status = e.rec.Status
	}
	q.mu.Unlock()

	if ok {
		if status != model.StatusVisited {
			return false, nil
		}
		// The gate may hit the network, so ask it without holding the lock.
		stale, err := q.opts.staleVisit(ctx, url)
		if err != nil {
			return false, fmt.Errorf("check freshness of %s: %w", url, err)
		}
		if !stale {
			return false, nil
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.opts.now()
	if e, ok := q.entries[url]; ok {
		if e.rec.Status != model.StatusVisited {
			return false, nil
		}
		e.rec.Status = model.StatusPending
		e.rec.Attempts = 0
		e.rec.LastError = ""
		e.rec.ReadyAt = now
		q.push(e)
		return true, nil
	}

	q.seq++
	e = &entry{
		rec: model.URLRecord{
			URL:     url,
			Seq:     q.seq,
			Status:  model.StatusPending,
			ReadyAt: now,
		},
		index: -1,
	}
	q.entries[url] = e
	q.push(e)
	return true, nil
}

// Dequeue implements Queue.
func (q *MemoryQueue) Dequeue(_ context.Context, workerID string) (*Claim, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.opts.now()
	if len(q.ready) == 0 || q.ready[0].rec.ReadyAt.After(now) {
		return nil, ErrEmpty
	}
	e, ok := heap.Pop(&q.ready).(*entry)
	if !ok {
		return nil, ErrEmpty
	}

	e.token = rand.Text()
	e.rec.Status = model.StatusInFlight
	e.rec.Owner = workerID
	e.rec.LeaseExpiry = now.Add(q.opts.policy.LeaseTimeout)

	return &Claim{
		Record:      e.rec,
		WorkerID:    workerID,
		Token:       e.token,
		LeaseExpiry: e.rec.LeaseExpiry,
	}, nil
}

// Release implements Queue.
func (q *MemoryQueue) Release(_ context.Context, claim *Claim, v Verdict) (model.Status, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[claim.URL()]
	if !ok || e.rec.Status != model.StatusInFlight || e.token != claim.Token {
		return 0, ErrLeaseLost
	}

	e.token = ""
	e.rec.Owner = ""
	e.rec.LeaseExpiry = time.Time{}

	switch v.Disposition {
	case Visited:
		e.rec.Status = model.StatusVisited
		e.rec.Attempts = 0
		e.rec.LastError = ""
	case Dead:
		e.rec.Status = model.StatusDead
		e.rec.LastError = v.Reason
	default:
		q.fail(e, v.Reason, v.MinDelay)
	}
	return e.rec.Status, nil
}

// ReclaimExpired implements Queue.
func (q *MemoryQueue) ReclaimExpired(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.opts.now()
	n := 0
	for _, e := range q.entries {
		if e.rec.Status != model.StatusInFlight || e.rec.LeaseExpiry.After(now) {
			continue
		}
		q.opts.logger.Warn("lease expired", "url", e.rec.URL, "owner", e.rec.Owner)
		e.token = ""
		e.rec.Owner = ""
		e.rec.LeaseExpiry = time.Time{}
		q.fail(e, "lease expired", 0)
		n++
	}
	return n, nil
}

// Reset implements Queue.
func (q *MemoryQueue) Reset(_ context.Context, rawURL string) error {
	url, err := model.NormalizeURL(rawURL)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[url]
	if !ok {
		return ErrNotFound
	}
	if e.rec.Status != model.StatusDead {
		return fmt.Errorf("%w: %s is %s", ErrNotDead, url, e.rec.Status)
	}
	e.rec.Status = model.StatusPending
	e.rec.Attempts = 0
	e.rec.LastError = ""
	e.rec.ReadyAt = q.opts.now()
	q.push(e)
	return nil
}

// MarkHost implements Queue.
func (q *MemoryQueue) MarkHost(_ context.Context, host string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.hosts[host]; ok {
		return false, nil
	}
	q.hosts[host] = struct{}{}
	return true, nil
}

// Get implements Queue.
func (q *MemoryQueue) Get(_ context.Context, rawURL string) (*model.URLRecord, error) {
	url, err := model.NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[url]
	if !ok {
		return nil, ErrNotFound
	}
	rec := e.rec
	return &rec, nil
}

// Stats implements Queue.
func (q *MemoryQueue) Stats(_ context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.opts.now()
	s := Stats{Hosts: len(q.hosts)}
	for _, e := range q.entries {
		switch e.rec.Status {
		case model.StatusPending:
			if e.rec.ReadyAt.After(now) {
				s.Delayed++
			} else {
				s.Pending++
			}
		case model.StatusInFlight:
			s.InFlight++
		case model.StatusVisited:
			s.Visited++
		case model.StatusDead:
			s.Dead++
		}
	}
	return s, nil
}

// Close implements Queue.
func (q *MemoryQueue) Close() error {
	return nil
}

// fail applies a failed attempt to e. The caller holds q.mu.
func (q *MemoryQueue) fail(e *entry, reason string, minDelay time.Duration) {
	attempts, dead, readyAt := q.opts.policy.failure(e.rec.Attempts, q.opts.now(), minDelay)
	e.rec.Attempts = attempts
	e.rec.LastError = reason
	if dead {
		e.rec.Status = model.StatusDead
		return
	}
	e.rec.Status = model.StatusPending
	e.rec.ReadyAt = readyAt
	q.push(e)
}

// push adds e to the pending heap. The caller holds q.mu.
func (q *MemoryQueue) push(e *entry) {
	q.pos++
	e.pos = q.pos
	heap.Push(&q.ready, e)
}

// entryHeap orders pending entries by ready time, then by insertion order.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if !h[i].rec.ReadyAt.Equal(h[j].rec.ReadyAt) {
		return h[i].rec.ReadyAt.Before(h[j].rec.ReadyAt)
	}
	return h[i].pos < h[j].pos
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e, ok := x.(*entry)
	if !ok {
		return
	}
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
