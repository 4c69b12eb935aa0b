package tor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
)

// fakeController records NEWNYM signals and fails on demand.
type fakeController struct {
	mu         sync.Mutex
	versionErr error
	newnymErrs []error // consumed one per call; nil entries succeed
	newnyms    int
}

func (f *fakeController) Version(context.Context) (string, error) {
	if f.versionErr != nil {
		return "", f.versionErr
	}
	return "0.4.8.9", nil
}

func (f *fakeController) Newnym(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.newnyms++
	if len(f.newnymErrs) == 0 {
		return nil
	}
	err := f.newnymErrs[0]
	f.newnymErrs = f.newnymErrs[1:]
	return err
}

func (f *fakeController) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.newnyms
}

func newTestManager(t *testing.T, ctrl Controller, opts ...CircuitOption) *CircuitManager {
	t.Helper()

	opts = append([]CircuitOption{
		WithRotateBackoff(0),
		WithCircuitLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	m := NewCircuitManager(ctrl, opts...)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return m
}

// TestCircuitManagerInit tests that an unusable control port is fatal.
func TestCircuitManagerInit(t *testing.T) {
	t.Parallel()

	m := NewCircuitManager(&fakeController{versionErr: errors.New("connection refused")})
	if err := m.Init(context.Background()); !errors.Is(err, ErrControlChannel) {
		t.Errorf("expected ErrControlChannel, got %v", err)
	}
}

// TestCircuitManagerRotatesAtThreshold tests that consecutive proxy failures rotate once.
func TestCircuitManagerRotatesAtThreshold(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ctrl := &fakeController{}
	m := newTestManager(t, ctrl)
	first := m.Current()

	for i := 1; i <= 2; i++ {
		if err := m.RecordFailure(ctx, first); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ctrl.count() != 0 {
			t.Fatalf("rotated after %d failures", i)
		}
	}

	if err := m.RecordFailure(ctx, first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctrl.count() != 1 || m.Rotations() != 1 {
		t.Errorf("newnyms = %d, rotations = %d, want 1 and 1", ctrl.count(), m.Rotations())
	}
	if m.Current().ID != first.ID+1 {
		t.Errorf("session = %d, want %d", m.Current().ID, first.ID+1)
	}

	// late failures from requests on the old circuits do not count
	for range 3 {
		if err := m.RecordFailure(ctx, first); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ctrl.count() != 1 {
		t.Error("stale session triggered a rotation")
	}
}

// TestCircuitManagerSuccessResets tests that a success clears the failure count.
func TestCircuitManagerSuccessResets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ctrl := &fakeController{}
	m := newTestManager(t, ctrl, WithFailureThreshold(2))
	s := m.Current()

	for range 3 {
		if err := m.RecordFailure(ctx, s); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		m.RecordSuccess(s)
	}
	if ctrl.count() != 0 {
		t.Errorf("newnyms = %d, want 0", ctrl.count())
	}
}

// TestCircuitManagerConcurrentFailures tests that one burst of failures rotates once.
func TestCircuitManagerConcurrentFailures(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	m := newTestManager(t, ctrl)
	s := m.Current()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.RecordFailure(context.Background(), s)
		}()
	}
	wg.Wait()

	if ctrl.count() != 1 {
		t.Errorf("newnyms = %d, want 1", ctrl.count())
	}
}

// TestCircuitManagerRotateRetries tests bounded retries of NEWNYM.
func TestCircuitManagerRotateRetries(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")

	t.Run("recovers within the budget", func(t *testing.T) {
		t.Parallel()

		ctrl := &fakeController{newnymErrs: []error{boom, boom, nil}}
		m := newTestManager(t, ctrl)
		next, err := m.Rotate(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ctrl.count() != 3 || next.ID != 2 || m.Current() != next {
			t.Errorf("newnyms = %d, session = %d", ctrl.count(), next.ID)
		}
	})

	t.Run("gives up with ErrControlChannel", func(t *testing.T) {
		t.Parallel()

		ctrl := &fakeController{newnymErrs: []error{boom, boom, boom}}
		m := newTestManager(t, ctrl)
		_, err := m.Rotate(context.Background())
		if !errors.Is(err, ErrControlChannel) || !errors.Is(err, boom) {
			t.Errorf("expected ErrControlChannel wrapping the cause, got %v", err)
		}
		if m.Current().ID != 1 {
			t.Errorf("session = %d, want 1", m.Current().ID)
		}
	})
}
