// Package scheduler runs the crawl workers.
//
// Each worker pulls a claim from the frontier, checks freshness, fetches the
// page through the current Tor circuit, extracts links, persists the visit
// and only then marks the URL fresh in the cache. Failures are turned into
// frontier verdicts: transient ones are retried with backoff, permanent ones
// mark the URL dead, and proxy failures feed the circuit manager.
//
// A worker walks through these states for every claim:
//
//	Idle -> Dequeuing -> Gating -> Fetching -> Extracting -> Persisting -> Idle
//
// Fetching and Persisting may end in Errored instead, which hands the claim
// back to the frontier's retry policy.
package scheduler
