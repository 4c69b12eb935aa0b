package fetch

import (
	"context"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"
)

// Fetcher retrieves one URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) (*Result, error)
}

// Result is a successfully retrieved page.
type Result struct {
	// URL is the requested URL.
	URL string

	// FinalURL is the URL after redirects.
	FinalURL string

	// StatusCode is the HTTP status of the main document.
	StatusCode int

	// Header holds the response headers of the main document.
	Header http.Header

	// ContentType is the media type without parameters, lowercased.
	ContentType string

	// Body is the response body, decoded to UTF-8 for HTML.
	Body []byte

	// Rendered is true when the body is a DOM produced by a browser.
	Rendered bool

	// RenderRequired is true when the direct body looks like it needs
	// scripts to show its content.
	RenderRequired bool
}

// IsHTML reports whether the result is an HTML document.
func (r *Result) IsHTML() bool {
	return isHTML(r.ContentType)
}

// SiteOptions are per-host fetch settings.
type SiteOptions struct {
	// Cookie is a raw Cookie header value.
	Cookie string

	// Headers are extra request headers.
	Headers map[string]string

	// Render forces the rendered strategy for the host.
	Render bool
}

// SiteFunc returns the options for a host. It must be safe for concurrent use.
type SiteFunc func(host string) SiteOptions

func noSites(string) SiteOptions { return SiteOptions{} }

// Defaults shared by the fetchers.
const (
	DefaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; rv:128.0) Gecko/20100101 Firefox/128.0"
	DefaultMaxBodySize  = 10 << 20
	DefaultRenderWait   = 5 * time.Second
	DefaultMaxRenderers = 2
	acceptHeader        = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
)

// Option configures the fetchers in this package. Options that do not apply
// to a fetcher are ignored by it.
type Option func(*settings)

type settings struct {
	userAgent    string
	maxBodySize  int64
	predicate    RenderPredicate
	sites        SiteFunc
	logger       *slog.Logger
	renderWait   time.Duration
	maxRenderers int64
	execPath     string
	profileDir   string
}

func newSettings(opts []Option) settings {
	s := settings{
		userAgent:    DefaultUserAgent,
		maxBodySize:  DefaultMaxBodySize,
		predicate:    DefaultRenderPredicate,
		sites:        noSites,
		logger:       slog.Default(),
		renderWait:   DefaultRenderWait,
		maxRenderers: DefaultMaxRenderers,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(s *settings) {
		if ua != "" {
			s.userAgent = ua
		}
	}
}

// WithMaxBodySize caps how many bytes of a body are read.
func WithMaxBodySize(n int64) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxBodySize = n
		}
	}
}

// WithRenderPredicate replaces DefaultRenderPredicate.
func WithRenderPredicate(p RenderPredicate) Option {
	return func(s *settings) {
		if p != nil {
			s.predicate = p
		}
	}
}

// WithSites sets the per-host options.
func WithSites(f SiteFunc) Option {
	return func(s *settings) {
		if f != nil {
			s.sites = f
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithRenderWait sets how long the browser waits after the body is ready.
func WithRenderWait(d time.Duration) Option {
	return func(s *settings) {
		if d >= 0 {
			s.renderWait = d
		}
	}
}

// WithMaxRenderers bounds the number of concurrently open browser tabs.
func WithMaxRenderers(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxRenderers = int64(n)
		}
	}
}

// WithExecPath sets the Chrome binary. By default chromedp searches the usual locations.
func WithExecPath(path string) Option {
	return func(s *settings) {
		s.execPath = path
	}
}

// WithProfileDir keeps the browser profile in dir instead of a temporary directory.
func WithProfileDir(dir string) Option {
	return func(s *settings) {
		s.profileDir = dir
	}
}

// mediaType returns the lowercased media type of a Content-Type value.
func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

func isHTML(mt string) bool {
	return mt == "text/html" || mt == "application/xhtml+xml"
}
