package model

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"
)

// OutcomeKind classifies the result of one visit.
type OutcomeKind string

const (
	// OutcomeOK is a successful fetch.
	OutcomeOK OutcomeKind = "ok"

	// OutcomeFetchError is a failed fetch that is not a timeout or a block.
	OutcomeFetchError OutcomeKind = "fetch-error"

	// OutcomeRenderRequired is a page that needs a browser but could not get one.
	OutcomeRenderRequired OutcomeKind = "render-required"

	// OutcomeTimeout is a fetch that ran out of time.
	OutcomeTimeout OutcomeKind = "timeout"

	// OutcomeBlocked is a page that refused us because of our identity.
	OutcomeBlocked OutcomeKind = "blocked"
)

// Successful reports whether the outcome counts as a successful visit.
// Only successful visits create freshness cache entries.
func (k OutcomeKind) Successful() bool {
	return k == OutcomeOK || k == OutcomeRenderRequired
}

// VisitOutcome is the durable record of one visit.
type VisitOutcome struct {
	// URL is the normalized URL that was claimed.
	URL string `json:"url"`

	// FinalURL is the URL after redirects; empty when equal to URL.
	FinalURL string `json:"final_url,omitempty"`

	// Seq is the discovery sequence number of the URL record.
	Seq uint64 `json:"seq"`

	// Kind classifies the outcome.
	Kind OutcomeKind `json:"kind"`

	// StatusCode is the HTTP status of the main document, 0 if none was received.
	StatusCode int `json:"status_code,omitempty"`

	// ContentType is the media type of the response.
	ContentType string `json:"content_type,omitempty"`

	// ContentRef identifies the stored body in the blob store.
	ContentRef string `json:"content_ref,omitempty"`

	// Headers holds the response headers.
	Headers http.Header `json:"headers,omitempty"`

	// Rendered is true when the body came from the browser.
	Rendered bool `json:"rendered"`

	// Links are the outbound URLs extracted from the body.
	Links []string `json:"links,omitempty"`

	// Error describes the failure for unsuccessful outcomes.
	Error string `json:"error,omitempty"`

	// Timestamp is when the visit finished.
	Timestamp time.Time `json:"timestamp"`
}

// ContentHash returns the hex SHA-256 digest of body, or "" for an empty body.
func ContentHash(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
