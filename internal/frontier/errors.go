package frontier

import "errors"

var (
	// ErrEmpty is returned by Dequeue when no pending URL is ready.
	ErrEmpty = errors.New("frontier: no pending url is ready")

	// ErrLeaseLost is returned by Release when the claim no longer owns the URL,
	// typically because its lease expired and was reclaimed.
	ErrLeaseLost = errors.New("frontier: lease lost")

	// ErrNotFound is returned for URLs the frontier has never seen.
	ErrNotFound = errors.New("frontier: url not found")

	// ErrNotDead is returned by Reset for URLs that are not dead.
	ErrNotDead = errors.New("frontier: url is not dead")
)
