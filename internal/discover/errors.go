package discover

import "errors"

var (
	// ErrNoOrigin is returned for URLs without scheme or host.
	ErrNoOrigin = errors.New("url has no origin")

	// ErrRobotsUnavailable is returned when robots.txt could not be read
	// for a reason that may go away: a server error, rate limiting, a block
	// page or a network failure. The result is not cached.
	ErrRobotsUnavailable = errors.New("robots.txt unavailable")
)
