package model

import "time"

// URLRecord is the frontier's view of one URL.
// Its identity is the normalized URL; Seq is assigned once, on first discovery.
type URLRecord struct {
	// URL is the normalized absolute URL.
	URL string `json:"url"`

	// Seq is the monotonically increasing discovery sequence number.
	Seq uint64 `json:"seq"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// Attempts counts failed or abandoned fetches since the last success.
	Attempts int `json:"attempts"`

	// Owner is the worker that holds the lease while the record is in flight.
	Owner string `json:"owner,omitempty"`

	// LeaseExpiry is when an in-flight claim may be reclaimed.
	LeaseExpiry time.Time `json:"lease_expiry,omitzero"`

	// ReadyAt is the earliest time a pending record may be dequeued.
	// Retries push it into the future according to the backoff policy.
	ReadyAt time.Time `json:"ready_at,omitzero"`

	// LastError describes the most recent failure, if any.
	LastError string `json:"last_error,omitempty"`
}
