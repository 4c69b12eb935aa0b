package discover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/darc/internal/fetch"
)

type response struct {
	status int
	body   string
	kind   fetch.Kind
}

// fakeFetcher serves canned responses and counts requests per URL.
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]response
	calls     map[string]int
}

func newFakeFetcher(responses map[string]response) *fakeFetcher {
	return &fakeFetcher{responses: responses, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, _ time.Duration) (*fetch.Result, error) {
	f.mu.Lock()
	f.calls[url]++
	r, ok := f.responses[url]
	f.mu.Unlock()

	switch {
	case !ok:
		return nil, &fetch.Error{Kind: fetch.HTTPError, URL: url, StatusCode: 404}
	case r.kind != fetch.Other:
		return nil, &fetch.Error{Kind: r.kind, URL: url, Err: fmt.Errorf("canned %s", r.kind)}
	case r.status >= 400:
		return nil, &fetch.Error{Kind: fetch.HTTPError, URL: url, StatusCode: r.status}
	}
	status := r.status
	if status == 0 {
		status = 200
	}
	return &fetch.Result{URL: url, FinalURL: url, StatusCode: status, ContentType: "text/plain", Body: []byte(r.body)}, nil
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const robotsBody = `User-agent: *
Disallow: /private

User-agent: darc
Disallow: /no-darc

Sitemap: http://a.onion/maps/index.xml
`

// TestRobotsAllowed tests robots.txt rules and caching.
func TestRobotsAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		response *response
		url      string
		want     bool
	}{
		{name: "agent group disallows", response: &response{body: robotsBody}, url: "http://a.onion/no-darc/x", want: false},
		{name: "agent group ignores wildcard rules", response: &response{body: robotsBody}, url: "http://a.onion/private", want: true},
		{name: "allowed path", response: &response{body: robotsBody}, url: "http://a.onion/public", want: true},
		{name: "missing robots allows all", response: nil, url: "http://a.onion/anything", want: true},
		{name: "forbidden allows all", response: &response{status: 403}, url: "http://a.onion/anything", want: true},
		{name: "empty robots allows all", response: &response{body: ""}, url: "http://a.onion/anything", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			responses := map[string]response{}
			if tt.response != nil {
				responses["http://a.onion/robots.txt"] = *tt.response
			}
			f := newFakeFetcher(responses)
			r := NewRobots(f, "", time.Second, quietLogger())

			got, err := r.Allowed(context.Background(), tt.url)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Allowed(%q) = %v, want %v", tt.url, got, tt.want)
			}
			_, _ = r.Allowed(context.Background(), "http://a.onion/other")
			if n := f.count("http://a.onion/robots.txt"); n != 1 {
				t.Errorf("robots.txt fetched %d times, want 1", n)
			}
		})
	}

	unavailable := []struct {
		name     string
		response response
	}{
		{name: "server error", response: response{status: 503}},
		{name: "rate limited", response: response{status: 429}},
		{name: "block page", response: response{kind: fetch.Blocked}},
		{name: "timeout", response: response{kind: fetch.Timeout}},
		{name: "proxy failure", response: response{kind: fetch.ProxyError}},
	}
	for _, tt := range unavailable {
		t.Run(tt.name+" is not cached", func(t *testing.T) {
			t.Parallel()

			f := newFakeFetcher(map[string]response{"http://a.onion/robots.txt": tt.response})
			r := NewRobots(f, "", time.Second, quietLogger())

			for range 2 {
				if _, err := r.Allowed(context.Background(), "http://a.onion/x"); !errors.Is(err, ErrRobotsUnavailable) {
					t.Errorf("expected ErrRobotsUnavailable, got %v", err)
				}
			}
			if n := f.count("http://a.onion/robots.txt"); n != 2 {
				t.Errorf("robots.txt fetched %d times, want 2", n)
			}
		})
	}

	t.Run("recovers after a server error", func(t *testing.T) {
		t.Parallel()

		f := newFakeFetcher(map[string]response{"http://a.onion/robots.txt": {status: 503}})
		r := NewRobots(f, "", time.Second, quietLogger())
		if _, err := r.Allowed(context.Background(), "http://a.onion/no-darc/"); !errors.Is(err, ErrRobotsUnavailable) {
			t.Fatalf("expected ErrRobotsUnavailable, got %v", err)
		}

		f.mu.Lock()
		f.responses["http://a.onion/robots.txt"] = response{body: robotsBody}
		f.mu.Unlock()

		allowed, err := r.Allowed(context.Background(), "http://a.onion/no-darc/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if allowed {
			t.Error("expected the downloaded rule to apply")
		}
	})

	t.Run("rules are per origin", func(t *testing.T) {
		t.Parallel()

		f := newFakeFetcher(map[string]response{"http://a.onion/robots.txt": {body: robotsBody}})
		r := NewRobots(f, "", time.Second, quietLogger())

		if allowed, _ := r.Allowed(context.Background(), "http://a.onion/no-darc/"); allowed {
			t.Error("expected a.onion rule to apply")
		}
		if allowed, _ := r.Allowed(context.Background(), "http://b.onion/no-darc/"); !allowed {
			t.Error("expected b.onion to be unaffected")
		}
	})
}

const sitemapIndex = `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>http://a.onion/maps/pages.xml</loc></sitemap>
  <sitemap><loc>/maps/more.xml</loc></sitemap>
</sitemapindex>`

const pagesSitemap = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>http://a.onion/one</loc></url>
  <url><loc> http://a.onion/two#frag </loc></url>
  <url><loc>mailto:nobody</loc></url>
</urlset>`

const moreSitemap = `<urlset>
  <url><loc>http://a.onion/two</loc></url>
  <url><loc>http://a.onion/three</loc></url>
</urlset>`

// TestParseSitemap tests sitemap and index parsing.
func TestParseSitemap(t *testing.T) {
	t.Parallel()

	nested, pages, err := ParseSitemap([]byte(sitemapIndex), "http://a.onion/maps/index.xml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"http://a.onion/maps/pages.xml", "http://a.onion/maps/more.xml"}; !slices.Equal(nested, want) {
		t.Errorf("nested = %v, want %v", nested, want)
	}
	if len(pages) != 0 {
		t.Errorf("pages = %v, want none", pages)
	}

	nested, pages, err = ParseSitemap([]byte(pagesSitemap), "http://a.onion/maps/pages.xml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nested) != 0 {
		t.Errorf("nested = %v, want none", nested)
	}
	if want := []string{"http://a.onion/one", "http://a.onion/two"}; !slices.Equal(pages, want) {
		t.Errorf("pages = %v, want %v", pages, want)
	}
}

// TestDiscover tests robots-driven sitemap discovery.
func TestDiscover(t *testing.T) {
	t.Parallel()

	t.Run("sitemaps from robots and nested indexes", func(t *testing.T) {
		t.Parallel()

		f := newFakeFetcher(map[string]response{
			"http://a.onion/robots.txt":      {body: robotsBody},
			"http://a.onion/maps/index.xml": {body: sitemapIndex},
			"http://a.onion/maps/pages.xml": {body: pagesSitemap},
			"http://a.onion/maps/more.xml":  {body: moreSitemap},
		})
		d := New(f, WithLogger(quietLogger()))

		got := d.Discover(context.Background(), "http://a.onion/start")
		want := []string{"http://a.onion/one", "http://a.onion/two", "http://a.onion/three"}
		if !slices.Equal(got, want) {
			t.Errorf("Discover() = %v, want %v", got, want)
		}
		if n := f.count("http://a.onion/sitemap.xml"); n != 0 {
			t.Errorf("default sitemap fetched %d times, want 0", n)
		}
	})

	t.Run("default sitemap location", func(t *testing.T) {
		t.Parallel()

		f := newFakeFetcher(map[string]response{
			"http://b.onion/sitemap.xml": {body: moreSitemap},
		})
		d := New(f, WithLogger(quietLogger()))

		got := d.Discover(context.Background(), "http://b.onion/")
		want := []string{"http://a.onion/two", "http://a.onion/three"}
		if !slices.Equal(got, want) {
			t.Errorf("Discover() = %v, want %v", got, want)
		}
	})

	t.Run("depth limit stops nested indexes", func(t *testing.T) {
		t.Parallel()

		f := newFakeFetcher(map[string]response{
			"http://a.onion/robots.txt":      {body: robotsBody},
			"http://a.onion/maps/index.xml": {body: sitemapIndex},
			"http://a.onion/maps/pages.xml": {body: pagesSitemap},
		})
		d := New(f, WithLogger(quietLogger()), WithSitemapLimits(0, 100))

		if got := d.Discover(context.Background(), "http://a.onion/"); len(got) != 0 {
			t.Errorf("Discover() = %v, want none", got)
		}
		if n := f.count("http://a.onion/maps/pages.xml"); n != 0 {
			t.Errorf("nested sitemap fetched %d times, want 0", n)
		}
	})

	t.Run("url limit", func(t *testing.T) {
		t.Parallel()

		f := newFakeFetcher(map[string]response{
			"http://c.onion/sitemap.xml": {body: pagesSitemap},
		})
		d := New(f, WithLogger(quietLogger()), WithSitemapLimits(3, 1))

		if got := d.Discover(context.Background(), "http://c.onion/"); !slices.Equal(got, []string{"http://a.onion/one"}) {
			t.Errorf("Discover() = %v, want [http://a.onion/one]", got)
		}
	})

	t.Run("force ignores robots", func(t *testing.T) {
		t.Parallel()

		f := newFakeFetcher(map[string]response{"http://a.onion/robots.txt": {body: robotsBody}})
		if allowed, _ := New(f, WithLogger(quietLogger())).Allowed(context.Background(), "http://a.onion/no-darc/"); allowed {
			t.Error("expected URL to be disallowed")
		}
		if allowed, err := New(f, WithLogger(quietLogger()), WithForce(true)).Allowed(context.Background(), "http://a.onion/no-darc/"); !allowed || err != nil {
			t.Errorf("expected force to allow the URL, got %v %v", allowed, err)
		}

		down := newFakeFetcher(map[string]response{"http://a.onion/robots.txt": {status: 503}})
		if allowed, err := New(down, WithLogger(quietLogger()), WithForce(true)).Allowed(context.Background(), "http://a.onion/x"); !allowed || err != nil {
			t.Errorf("expected force to skip robots.txt, got %v %v", allowed, err)
		}
		if n := down.count("http://a.onion/robots.txt"); n != 0 {
			t.Errorf("robots.txt fetched %d times with force", n)
		}
	})
}
