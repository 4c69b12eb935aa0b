package config

import (
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"time"

	"github.com/adrg/xdg"

	"github.com/nao1215/darc/internal/cache"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "darc"

	// DefaultWorkers is the number of concurrent crawl workers.
	DefaultWorkers = 4

	// DefaultTimeout bounds one fetch. Tor circuits to hidden services are
	// slow, so this is generous.
	DefaultTimeout = 120 * time.Second

	// DefaultCacheTTL never expires a successful visit.
	DefaultCacheTTL = cache.Infinite

	// DefaultRenderWait is how long the browser waits after the page is ready.
	DefaultRenderWait = 5 * time.Second

	// DefaultMaxRenderers bounds concurrently open browser tabs.
	DefaultMaxRenderers = 2

	// DefaultMaxRetries is the retry budget of one URL.
	DefaultMaxRetries = 3

	// DefaultLeaseTimeout is how long a worker may hold a claim.
	DefaultLeaseTimeout = 10 * time.Minute

	// DefaultFailureThreshold is the number of proxy failures that rotate the circuit.
	DefaultFailureThreshold = 3

	// DefaultKafkaTopic is the topic outcomes are published to.
	DefaultKafkaTopic = "darc.visits"

	// DefaultNeo4jUser is the user for --neo4j.
	DefaultNeo4jUser = "neo4j"

	// DefaultTorStartupTimeout is the maximum time to wait for the embedded
	// Tor daemon to bootstrap.
	DefaultTorStartupTimeout = 3 * time.Minute

	// DefaultMaxBodySize limits how much of a response body is read.
	DefaultMaxBodySize = 10 << 20
)

// Config holds all settings of a crawl. It is populated from CLI flags and
// passed down explicitly; nothing reads it from global state.
type Config struct {
	// Workers is the number of concurrent crawl workers.
	Workers int

	// Debug enables debug logging.
	Debug bool

	// JSONLog switches the log output to JSON.
	JSONLog bool

	// DataDir holds the SQLite database and the page bodies.
	// Defaults to the XDG data directory (~/.local/share/darc on Linux).
	DataDir string

	// CacheDir holds the browser profile and other scratch files.
	// Defaults to the XDG cache directory (~/.cache/darc on Linux).
	CacheDir string

	// ExternalTor is the SOCKS5 address of a running Tor. When empty an
	// embedded Tor daemon is started.
	ExternalTor string

	// ControlAddress is the Tor control port. The embedded daemon fills it in.
	ControlAddress string

	// ControlPassword authenticates on the control port. It takes
	// precedence over ControlCookie.
	ControlPassword string

	// ControlCookie is the control auth cookie file of an external Tor.
	// With neither a password nor a cookie, null authentication is tried.
	// The embedded daemon always uses its own cookie.
	ControlCookie string

	// CacheTTL is how long a successful visit stays fresh. cache.Infinite
	// means forever.
	CacheTTL time.Duration

	// Timeout bounds one fetch.
	Timeout time.Duration

	// RenderWait is how long the browser waits after the page is ready.
	RenderWait time.Duration

	// NoRender disables the browser. Pages that need rendering are stored
	// with the render-required outcome.
	NoRender bool

	// MaxRenderers bounds concurrently open browser tabs.
	MaxRenderers int

	// ChromePath is the browser binary. Empty lets chromedp search for one.
	ChromePath string

	// Pattern is the regexp extracted links must match. Empty selects
	// hidden-service hosts.
	Pattern string

	// SeedURLs are the URLs given on the command line.
	SeedURLs []string

	// SeedFile is a file with one seed URL per line.
	SeedFile string

	// RedisAddress selects the shared Redis frontier and cache. Empty keeps
	// both in process.
	RedisAddress string

	// MaxRetries is the number of retries before a URL is dead.
	MaxRetries int

	// LeaseTimeout is how long a worker may hold a claim before it is reclaimed.
	LeaseTimeout time.Duration

	// FailureThreshold is the number of proxy failures that rotate the circuit.
	FailureThreshold int

	// Force ignores robots.txt.
	Force bool

	// Forever keeps the workers polling when the frontier is drained.
	Forever bool

	// KafkaBroker enables publishing outcomes to Kafka.
	KafkaBroker string

	// KafkaTopic is the topic outcomes are published to.
	KafkaTopic string

	// Neo4jURI enables writing the link graph to Neo4j.
	Neo4jURI string

	// Neo4jUser and Neo4jPassword authenticate against Neo4j.
	Neo4jUser     string
	Neo4jPassword string

	// ConfigFilePath is the YAML site configuration file. When empty,
	// .darc is searched in the current and the home directory.
	ConfigFilePath string

	// SiteConfigs holds the loaded site configuration, if any.
	SiteConfigs *File

	// TorStartupTimeout bounds the bootstrap of the embedded Tor daemon.
	TorStartupTimeout time.Duration

	// UserAgent is sent with every request. Empty keeps the fetcher default.
	UserAgent string

	// MaxBodySize is the maximum number of body bytes read per response.
	MaxBodySize int64
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	return &Config{
		Workers:           DefaultWorkers,
		DataDir:           XDGDataDir(),
		CacheDir:          XDGCacheDir(),
		CacheTTL:          DefaultCacheTTL,
		Timeout:           DefaultTimeout,
		RenderWait:        DefaultRenderWait,
		MaxRenderers:      DefaultMaxRenderers,
		MaxRetries:        DefaultMaxRetries,
		LeaseTimeout:      DefaultLeaseTimeout,
		FailureThreshold:  DefaultFailureThreshold,
		KafkaTopic:        DefaultKafkaTopic,
		Neo4jUser:         DefaultNeo4jUser,
		TorStartupTimeout: DefaultTorStartupTimeout,
		MaxBodySize:       DefaultMaxBodySize,
	}
}

// XDGDataDir returns the XDG data directory for darc.
// On Linux: ~/.local/share/darc
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for darc.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGCacheDir returns the XDG cache directory for darc.
// On Linux: ~/.cache/darc
func XDGCacheDir() string {
	return filepath.Join(xdg.CacheHome, AppName)
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if len(c.SeedURLs) == 0 && c.SeedFile == "" && c.RedisAddress == "" {
		return ErrNoSeeds
	}
	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.CacheTTL < 0 && c.CacheTTL != cache.Infinite {
		return ErrInvalidTTL
	}
	if c.RenderWait < 0 {
		return ErrInvalidRenderWait
	}
	if c.MaxRenderers <= 0 {
		return ErrInvalidMaxRenderers
	}
	if _, err := c.CompilePattern(); err != nil {
		return err
	}
	if c.MaxRetries < 0 {
		return ErrInvalidMaxRetries
	}
	if c.LeaseTimeout <= 0 {
		return ErrInvalidLease
	}
	if c.FailureThreshold <= 0 {
		return ErrInvalidFailureThreshold
	}
	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}
	for _, addr := range []string{c.ExternalTor, c.ControlAddress} {
		if addr == "" {
			continue
		}
		if host, port, err := net.SplitHostPort(addr); err != nil || host == "" || port == "" {
			return fmt.Errorf("%w: %q", ErrInvalidProxyAddress, addr)
		}
	}
	return nil
}

// CompilePattern compiles Pattern. It returns nil for an empty pattern,
// which callers treat as the hidden-service default.
func (c *Config) CompilePattern() (*regexp.Regexp, error) {
	if c.Pattern == "" {
		return nil, nil //nolint:nilnil // nil selects the default pattern
	}
	re, err := regexp.Compile(c.Pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}
	return re, nil
}
