package scheduler

import "errors"

var (
	// ErrNoWorkers is returned by Run when the worker count is not positive.
	ErrNoWorkers = errors.New("scheduler: worker count must be positive")

	// ErrPersist is wrapped around store and blob failures that survived
	// every persistence attempt.
	ErrPersist = errors.New("scheduler: persisting visit failed")
)
