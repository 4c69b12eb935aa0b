package model

import "fmt"

// Status is the lifecycle state of a URL record in the frontier.
type Status int

const (
	// StatusPending means the URL waits to be claimed by a worker.
	StatusPending Status = iota

	// StatusInFlight means a worker holds a lease on the URL.
	StatusInFlight

	// StatusVisited means the URL was fetched and its outcome persisted.
	StatusVisited

	// StatusDead means the URL exhausted its retry budget or failed permanently.
	// Dead records are kept for inspection and never dequeued again.
	StatusDead
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInFlight:
		return "in-flight"
	case StatusVisited:
		return "visited"
	case StatusDead:
		return "dead"
	default:
		return "unknown"
	}
}

// ParseStatus converts a wire name back into a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "pending":
		return StatusPending, nil
	case "in-flight":
		return StatusInFlight, nil
	case "visited":
		return StatusVisited, nil
	case "dead":
		return StatusDead, nil
	default:
		return StatusPending, fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
}
