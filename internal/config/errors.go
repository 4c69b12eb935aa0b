package config

import "errors"

// Configuration validation errors returned by Config.Validate.
var (
	// ErrNoSeeds is returned when there is nothing to crawl: no seed URLs,
	// no seed file and no shared frontier that may already hold work.
	ErrNoSeeds = errors.New("no seeds: provide URLs, --seed-file or --redis")

	// ErrInvalidWorkers is returned when the worker count is not positive.
	ErrInvalidWorkers = errors.New("invalid worker count: must be positive")

	// ErrInvalidTimeout is returned when the fetch timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidTTL is returned for a negative TTL other than the infinite sentinel.
	ErrInvalidTTL = errors.New("invalid cache ttl: must be a duration, seconds or \"infinite\"")

	// ErrInvalidRenderWait is returned when the render wait is negative.
	ErrInvalidRenderWait = errors.New("invalid render wait: must be non-negative")

	// ErrInvalidMaxRenderers is returned when the renderer limit is not positive.
	ErrInvalidMaxRenderers = errors.New("invalid max renderers: must be positive")

	// ErrInvalidPattern is returned when the target pattern does not compile.
	ErrInvalidPattern = errors.New("invalid pattern")

	// ErrInvalidMaxRetries is returned when the retry budget is negative.
	ErrInvalidMaxRetries = errors.New("invalid max retries: must be non-negative")

	// ErrInvalidLease is returned when the lease timeout is not positive.
	ErrInvalidLease = errors.New("invalid lease timeout: must be positive")

	// ErrInvalidFailureThreshold is returned when the rotation threshold is not positive.
	ErrInvalidFailureThreshold = errors.New("invalid failure threshold: must be positive")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrInvalidProxyAddress is returned when --external-tor or --control is not host:port.
	ErrInvalidProxyAddress = errors.New("invalid address: must be host:port")

	// ErrConfigNotFound is returned when the configuration file does not exist.
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrInvalidGlob is returned when an ignore or follow pattern does not compile.
	ErrInvalidGlob = errors.New("invalid glob pattern")
)
