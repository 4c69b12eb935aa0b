package scheduler

// State is where a worker is in its loop.
type State int32

const (
	// Idle means the worker waits before asking the frontier again.
	Idle State = iota

	// Dequeuing means the worker asks the frontier for a claim.
	Dequeuing

	// Gating means the worker checks freshness and robots.txt.
	Gating

	// Fetching means a fetch is in progress.
	Fetching

	// Extracting means links are extracted and enqueued.
	Extracting

	// Persisting means the visit is being written to the store.
	Persisting

	// Errored means the last claim failed and was handed back to the frontier.
	Errored

	// Stopped means the worker loop has returned.
	Stopped
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dequeuing:
		return "dequeuing"
	case Gating:
		return "gating"
	case Fetching:
		return "fetching"
	case Extracting:
		return "extracting"
	case Persisting:
		return "persisting"
	case Errored:
		return "errored"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}
