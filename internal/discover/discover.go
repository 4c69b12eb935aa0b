package discover

import (
	"context"
	"log/slog"
	"time"

	"github.com/nao1215/darc/internal/fetch"
)

// Discoverer combines robots.txt handling and sitemap reading for new hosts.
type Discoverer struct {
	robots   *Robots
	sitemaps *Sitemaps
	force    bool
	logger   *slog.Logger
}

// Option configures a Discoverer.
type Option func(*config)

type config struct {
	agent    string
	timeout  time.Duration
	force    bool
	maxDepth int
	maxURLs  int
	logger   *slog.Logger
}

// WithAgent sets the robots.txt product token.
func WithAgent(agent string) Option {
	return func(c *config) {
		c.agent = agent
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithForce makes Allowed ignore robots.txt. Sitemaps are still read.
func WithForce(force bool) Option {
	return func(c *config) {
		c.force = force
	}
}

// WithSitemapLimits bounds index nesting and the number of URLs taken from one host.
func WithSitemapLimits(maxDepth, maxURLs int) Option {
	return func(c *config) {
		if maxDepth >= 0 {
			c.maxDepth = maxDepth
		}
		if maxURLs > 0 {
			c.maxURLs = maxURLs
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// New creates a Discoverer that downloads through fetcher. The fetcher
// should be a direct one; robots.txt and sitemaps never need a browser.
func New(fetcher fetch.Fetcher, opts ...Option) *Discoverer {
	c := config{
		agent:    DefaultAgent,
		timeout:  time.Minute,
		maxDepth: DefaultMaxSitemapDepth,
		maxURLs:  DefaultMaxSitemapURLs,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&c)
	}

	sm := NewSitemaps(fetcher, c.timeout, c.logger)
	sm.maxDepth = c.maxDepth
	sm.maxURLs = c.maxURLs

	return &Discoverer{
		robots:   NewRobots(fetcher, c.agent, c.timeout, c.logger),
		sitemaps: sm,
		force:    c.force,
		logger:   c.logger,
	}
}

// Allowed reports whether rawURL may be fetched. It returns
// ErrRobotsUnavailable when robots.txt could not be read this time.
func (d *Discoverer) Allowed(ctx context.Context, rawURL string) (bool, error) {
	if d.force {
		return true, nil
	}
	return d.robots.Allowed(ctx, rawURL)
}

// Discover reads robots.txt and the sitemaps of the host of rawURL and
// returns the page URLs listed there. The sitemaps named in robots.txt are
// used when present, /sitemap.xml otherwise.
func (d *Discoverer) Discover(ctx context.Context, rawURL string) []string {
	origin, err := originOf(rawURL)
	if err != nil {
		return nil
	}

	var sitemaps []string
	if data, err := d.robots.Load(ctx, rawURL); err == nil {
		sitemaps = append(sitemaps, data.Sitemaps...)
	}
	if len(sitemaps) == 0 {
		sitemaps = []string{origin + "/sitemap.xml"}
	}

	pages := d.sitemaps.Collect(ctx, sitemaps)
	d.logger.Debug("discovered host", "origin", origin, "sitemaps", len(sitemaps), "urls", len(pages))
	return pages
}
