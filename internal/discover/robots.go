package discover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/nao1215/darc/internal/fetch"
	"github.com/temoto/robotstxt"
)

// DefaultAgent is the product token matched against robots.txt groups.
const DefaultAgent = "darc"

// Robots caches parsed robots.txt files per origin.
type Robots struct {
	fetcher fetch.Fetcher
	agent   string
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	rules map[string]*robotstxt.RobotsData
}

// NewRobots creates a robots.txt cache that downloads files with fetcher.
func NewRobots(fetcher fetch.Fetcher, agent string, timeout time.Duration, logger *slog.Logger) *Robots {
	if agent == "" {
		agent = DefaultAgent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Robots{
		fetcher: fetcher,
		agent:   agent,
		timeout: timeout,
		logger:  logger,
		rules:   make(map[string]*robotstxt.RobotsData),
	}
}

// Load returns the rules for the origin of rawURL, downloading them on
// first use. A missing file (4xx) or an empty one allows everything.
// Server errors (5xx), rate limiting (429), block pages and network
// failures return ErrRobotsUnavailable and are not cached, so the next
// call downloads again.
func (r *Robots) Load(ctx context.Context, rawURL string) (*robotstxt.RobotsData, error) {
	origin, err := originOf(rawURL)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	data, ok := r.rules[origin]
	r.mu.Unlock()
	if ok {
		return data, nil
	}

	data, err = r.download(ctx, origin)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.rules[origin] = data
	r.mu.Unlock()
	return data, nil
}

func (r *Robots) download(ctx context.Context, origin string) (*robotstxt.RobotsData, error) {
	robotsURL := origin + "/robots.txt"
	res, err := r.fetcher.Fetch(ctx, robotsURL, r.timeout)
	if err != nil {
		if permanent(err) {
			r.logger.Debug("no robots.txt", "url", robotsURL, "error", err)
			return robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)
		}
		r.logger.Debug("robots.txt unavailable", "url", robotsURL, "error", err)
		return nil, fmt.Errorf("%w: %s: %w", ErrRobotsUnavailable, robotsURL, err)
	}

	data, err := robotstxt.FromStatusAndBytes(res.StatusCode, res.Body)
	if err != nil {
		r.logger.Debug("failed to parse robots.txt", "url", robotsURL, "error", err)
		return robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)
	}
	return data, nil
}

// permanent reports whether a failed robots.txt download means the host
// has no usable file, in which case everything is allowed.
func permanent(err error) bool {
	switch fetch.KindOf(err) {
	case fetch.EmptyBody, fetch.Unsupported:
		return true
	case fetch.HTTPError:
		status := fetch.StatusOf(err)
		return status >= http.StatusBadRequest && status < http.StatusInternalServerError &&
			status != http.StatusTooManyRequests
	default:
		return false
	}
}

// Allowed reports whether the agent may fetch rawURL. The error is
// ErrRobotsUnavailable when the decision has to wait for a later attempt.
// URLs without an origin are allowed.
func (r *Robots) Allowed(ctx context.Context, rawURL string) (bool, error) {
	data, err := r.Load(ctx, rawURL)
	if errors.Is(err, ErrRobotsUnavailable) {
		return false, err
	}
	if err != nil {
		return true, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return true, nil
	}
	path := u.EscapedPath()
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.TestAgent(path, r.agent), nil
}

func originOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", ErrNoOrigin
	}
	return u.Scheme + "://" + u.Host, nil
}
