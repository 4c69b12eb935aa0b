package tor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Circuit manager defaults.
const (
	DefaultFailureThreshold = 3
	DefaultRotateAttempts   = 3
	DefaultRotateBackoff    = 2 * time.Second
)

// Controller is the part of the control port the circuit manager needs.
// ControlClient satisfies it.
type Controller interface {
	Version(ctx context.Context) (string, error)
	Newnym(ctx context.Context) error
}

// Session identifies the circuit generation requests are sent on.
// A rotation starts a new session; clients built for an older session
// should be discarded.
type Session struct {
	// ID increases by one with every rotation.
	ID uint64

	// Created is when the session began.
	Created time.Time
}

// Key returns the session's SOCKS isolation key.
func (s *Session) Key() string {
	return strconv.FormatUint(s.ID, 10)
}

// CircuitManager counts proxy failures on the current session and rotates
// to new circuits once they reach a threshold.
type CircuitManager struct {
	ctrl      Controller
	threshold int
	attempts  int
	backoff   time.Duration
	logger    *slog.Logger
	now       func() time.Time

	rotateMu sync.Mutex // serializes rotations

	mu        sync.Mutex
	current   *Session
	failures  int
	rotations uint64
}

// CircuitOption configures a CircuitManager.
type CircuitOption func(*CircuitManager)

// WithFailureThreshold sets how many consecutive proxy failures trigger a rotation.
func WithFailureThreshold(n int) CircuitOption {
	return func(m *CircuitManager) {
		if n > 0 {
			m.threshold = n
		}
	}
}

// WithRotateAttempts sets how often a failed NEWNYM is retried.
func WithRotateAttempts(n int) CircuitOption {
	return func(m *CircuitManager) {
		if n > 0 {
			m.attempts = n
		}
	}
}

// WithRotateBackoff sets the delay after the first failed NEWNYM; it doubles per attempt.
func WithRotateBackoff(d time.Duration) CircuitOption {
	return func(m *CircuitManager) {
		m.backoff = d
	}
}

// WithCircuitLogger sets the logger.
func WithCircuitLogger(logger *slog.Logger) CircuitOption {
	return func(m *CircuitManager) {
		m.logger = logger
	}
}

// NewCircuitManager returns a manager for ctrl. Call Init before use.
func NewCircuitManager(ctrl Controller, opts ...CircuitOption) *CircuitManager {
	m := &CircuitManager{
		ctrl:      ctrl,
		threshold: DefaultFailureThreshold,
		attempts:  DefaultRotateAttempts,
		backoff:   DefaultRotateBackoff,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init checks the control channel and opens the first session.
// An unreachable or unauthenticated control port is reported as ErrControlChannel.
func (m *CircuitManager) Init(ctx context.Context) error {
	version, err := m.ctrl.Version(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrControlChannel, err)
	}
	m.logger.Info("connected to Tor control port", "version", version)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = &Session{ID: 1, Created: m.now()}
	m.failures = 0
	return nil
}

// Current returns the active session, creating session 1 if none exists yet.
func (m *CircuitManager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		m.current = &Session{ID: 1, Created: m.now()}
	}
	return m.current
}

// Rotations returns how many rotations have succeeded.
func (m *CircuitManager) Rotations() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rotations
}

// RecordSuccess clears the failure count if s is still current.
func (m *CircuitManager) RecordSuccess(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isCurrent(s) {
		m.failures = 0
	}
}

// RecordFailure counts a proxy failure observed on s and rotates once the
// threshold is reached. Failures on sessions that were already replaced are
// ignored.
func (m *CircuitManager) RecordFailure(ctx context.Context, s *Session) error {
	m.mu.Lock()
	if !m.isCurrent(s) {
		m.mu.Unlock()
		return nil
	}
	m.failures++
	failures := m.failures
	m.mu.Unlock()

	m.logger.Debug("proxy failure", "circuit", s.ID, "failures", failures, "threshold", m.threshold)
	if failures < m.threshold {
		return nil
	}
	_, err := m.RotateFrom(ctx, s)
	return err
}

// Rotate switches to new circuits unconditionally and returns the new session.
func (m *CircuitManager) Rotate(ctx context.Context) (*Session, error) {
	return m.RotateFrom(ctx, m.Current())
}

// RotateFrom rotates away from s and returns the session that replaced it.
// If another caller already rotated away from s, it returns the current
// session without signaling Tor again, so workers that saw the same block
// page cause a single rotation.
func (m *CircuitManager) RotateFrom(ctx context.Context, s *Session) (*Session, error) {
	m.rotateMu.Lock()
	defer m.rotateMu.Unlock()

	m.mu.Lock()
	if !m.isCurrent(s) {
		current := m.current
		m.mu.Unlock()
		return current, nil
	}
	m.mu.Unlock()

	var lastErr error
	delay := m.backoff
	for attempt := 1; attempt <= m.attempts; attempt++ {
		lastErr = m.ctrl.Newnym(ctx)
		if lastErr == nil {
			m.mu.Lock()
			m.current = &Session{ID: m.current.ID + 1, Created: m.now()}
			m.failures = 0
			m.rotations++
			next := m.current
			m.mu.Unlock()

			m.logger.Info("rotated Tor circuits", "circuit", next.ID, "previous", s.ID)
			return next, nil
		}

		m.logger.Warn("NEWNYM failed", "attempt", attempt, "error", lastErr)
		if attempt == m.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrControlChannel, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, fmt.Errorf("%w: rotation failed after %d attempts: %w", ErrControlChannel, m.attempts, lastErr)
}

// isCurrent must be called with m.mu held.
func (m *CircuitManager) isCurrent(s *Session) bool {
	return s != nil && m.current != nil && s.ID == m.current.ID
}
