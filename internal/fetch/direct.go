package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nao1215/darc/internal/tor"
)

// ClientFactory builds HTTP clients bound to a Tor session. *tor.Client satisfies it.
type ClientFactory interface {
	NewHTTPClient(opts tor.HTTPOptions) (*http.Client, error)
}

// SessionSource returns the current Tor session. *tor.CircuitManager satisfies it.
type SessionSource interface {
	Current() *tor.Session
}

// blockMarkers are phrases that identify block or captcha pages.
var blockMarkers = []string{"captcha", "access denied", "rate limit", "ddos", "are you human", "checking your browser"}

// DirectFetcher fetches pages with plain HTTP through Tor.
//
// It keeps one HTTP client per session and host configuration. Clients of an
// older session are dropped on first use of a newer one, so requests never
// reuse connections on rotated circuits.
type DirectFetcher struct {
	factory  ClientFactory
	sessions SessionSource
	cfg      settings

	mu      sync.Mutex
	session uint64
	clients map[string]*http.Client
}

var _ Fetcher = (*DirectFetcher)(nil)

// NewDirectFetcher returns a fetcher using clients from factory for the
// sessions reported by sessions.
func NewDirectFetcher(factory ClientFactory, sessions SessionSource, opts ...Option) *DirectFetcher {
	return &DirectFetcher{
		factory:  factory,
		sessions: sessions,
		cfg:      newSettings(opts),
		clients:  make(map[string]*http.Client),
	}
}

// Fetch implements Fetcher.
func (f *DirectFetcher) Fetch(ctx context.Context, url string, timeout time.Duration) (*Result, error) {
	u, err := neturl.Parse(url)
	if err != nil {
		return nil, &Error{Kind: Unsupported, URL: url, Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &Error{Kind: Unsupported, URL: url, Err: fmt.Errorf("scheme %q", u.Scheme)}
	}

	site := f.cfg.sites(u.Hostname())
	client, err := f.client(u.Hostname(), site)
	if err != nil {
		return nil, &Error{Kind: ProxyError, URL: url, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: Unsupported, URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.cfg.userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := client.Do(req)
	if err != nil {
		return nil, classify(url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.maxBodySize+1))
	if err != nil {
		return nil, classify(url, err)
	}
	if int64(len(body)) > f.cfg.maxBodySize {
		f.cfg.logger.Debug("response body truncated", "url", url, "limit", f.cfg.maxBodySize)
		body = body[:f.cfg.maxBodySize]
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, statusError(url, resp, body)
	}

	res := &Result{
		URL:         url,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		Header:      resp.Header,
		ContentType: mediaType(resp.Header.Get("Content-Type")),
		Body:        body,
	}
	if res.ContentType == "" {
		res.ContentType = mediaType(http.DetectContentType(body))
	}

	if !res.IsHTML() {
		if len(bytes.TrimSpace(body)) == 0 {
			return nil, &Error{Kind: EmptyBody, URL: url, StatusCode: resp.StatusCode}
		}
		return res, nil
	}

	res.Body = toUTF8(body, resp.Header.Get("Content-Type"))
	if len(bytes.TrimSpace(res.Body)) == 0 {
		return nil, &Error{Kind: EmptyBody, URL: url, StatusCode: resp.StatusCode}
	}
	res.RenderRequired = f.cfg.predicate(res.Body)
	return res, nil
}

// client returns the HTTP client for host on the current session.
func (f *DirectFetcher) client(host string, site SiteOptions) (*http.Client, error) {
	s := f.sessions.Current()

	f.mu.Lock()
	defer f.mu.Unlock()

	if s.ID != f.session {
		for _, c := range f.clients {
			c.CloseIdleConnections()
		}
		clear(f.clients)
		f.session = s.ID
	}

	key := ""
	if site.Cookie != "" || len(site.Headers) > 0 {
		key = host
	}
	if c, ok := f.clients[key]; ok {
		return c, nil
	}

	c, err := f.factory.NewHTTPClient(tor.HTTPOptions{
		Session: s.Key(),
		Cookie:  site.Cookie,
		Headers: site.Headers,
	})
	if err != nil {
		return nil, err
	}
	f.clients[key] = c
	return c, nil
}

// statusError turns a response with status >= 400 into an *Error.
func statusError(url string, resp *http.Response, body []byte) *Error {
	e := &Error{Kind: HTTPError, URL: url, StatusCode: resp.StatusCode}
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	case http.StatusForbidden, http.StatusServiceUnavailable:
		if containsAny(strings.ToLower(string(body)), blockMarkers) {
			e.Kind = Blocked
		}
	}
	return e
}

// parseRetryAfter reads a Retry-After value in seconds or as an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
