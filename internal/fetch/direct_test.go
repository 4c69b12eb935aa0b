package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/darc/internal/tor"
)

// plainFactory hands out direct HTTP clients and records the options it saw.
type plainFactory struct {
	mu   sync.Mutex
	seen []tor.HTTPOptions
}

func (f *plainFactory) NewHTTPClient(opts tor.HTTPOptions) (*http.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, opts)
	return &http.Client{}, nil
}

func (f *plainFactory) calls() []tor.HTTPOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tor.HTTPOptions(nil), f.seen...)
}

// fixedSessions returns a settable session.
type fixedSessions struct {
	mu sync.Mutex
	s  *tor.Session
}

func newFixedSessions() *fixedSessions {
	return &fixedSessions{s: &tor.Session{ID: 1}}
}

func (f *fixedSessions) Current() *tor.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s
}

func (f *fixedSessions) rotate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.s = &tor.Session{ID: f.s.ID + 1}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, `<html><body><p>hello</p><a href="/next">next</a></body></html>`)
	})
	mux.HandleFunc("/spa", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, spaShell)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})
	mux.HandleFunc("/busy", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	mux.HandleFunc("/captcha", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, "<html><body>Please solve the CAPTCHA</body></html>")
	})
	mux.HandleFunc("/down", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
	})
	mux.HandleFunc("/data.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true}`)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	mux.HandleFunc("/cookie", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, r.Header.Get("User-Agent"))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// TestDirectFetcher tests results and error kinds of direct fetches.
func TestDirectFetcher(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := NewDirectFetcher(&plainFactory{}, newFixedSessions(), WithLogger(quietLogger()))
	ctx := context.Background()

	t.Run("html page", func(t *testing.T) {
		t.Parallel()

		res, err := f.Fetch(ctx, srv.URL+"/page", time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.StatusCode != http.StatusOK || res.ContentType != "text/html" || !res.IsHTML() {
			t.Errorf("result = %d %q", res.StatusCode, res.ContentType)
		}
		if res.RenderRequired || res.Rendered {
			t.Error("static page must not need rendering")
		}
	})

	t.Run("application shell needs rendering", func(t *testing.T) {
		t.Parallel()

		res, err := f.Fetch(ctx, srv.URL+"/spa", time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.RenderRequired {
			t.Error("expected RenderRequired")
		}
	})

	t.Run("non-html content", func(t *testing.T) {
		t.Parallel()

		res, err := f.Fetch(ctx, srv.URL+"/data.json", time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.IsHTML() || res.RenderRequired {
			t.Errorf("unexpected result %+v", res)
		}
	})

	tests := []struct {
		name       string
		url        string
		kind       Kind
		status     int
		retryAfter time.Duration
	}{
		{name: "not found", url: srv.URL + "/missing", kind: HTTPError, status: 404},
		{name: "too many requests", url: srv.URL + "/busy", kind: HTTPError, status: 429, retryAfter: 2 * time.Minute},
		{name: "captcha", url: srv.URL + "/captcha", kind: Blocked, status: 403},
		{name: "unavailable", url: srv.URL + "/down", kind: HTTPError, status: 503},
		{name: "empty body", url: srv.URL + "/empty", kind: EmptyBody, status: 200},
		{name: "timeout", url: srv.URL + "/slow", kind: Timeout},
		{name: "unsupported scheme", url: "ftp://a.onion/", kind: Unsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := f.Fetch(ctx, tt.url, 200*time.Millisecond)
			var fe *Error
			if !errors.As(err, &fe) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if fe.Kind != tt.kind || fe.StatusCode != tt.status || fe.RetryAfter != tt.retryAfter {
				t.Errorf("got kind %s status %d retry-after %v, want %s %d %v",
					fe.Kind, fe.StatusCode, fe.RetryAfter, tt.kind, tt.status, tt.retryAfter)
			}
		})
	}

	t.Run("connection refused", func(t *testing.T) {
		t.Parallel()

		listener, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		addr := listener.Addr().String()
		listener.Close()

		_, err = f.Fetch(ctx, "http://"+addr+"/", time.Second)
		if KindOf(err) != ConnectionRefused {
			t.Errorf("expected ConnectionRefused, got %v", err)
		}
	})
}

// TestDirectFetcherClients tests client reuse per session and site.
func TestDirectFetcherClients(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	factory := &plainFactory{}
	sessions := newFixedSessions()
	sites := func(host string) SiteOptions {
		if host == "127.0.0.1" {
			return SiteOptions{Cookie: "sid=1"}
		}
		return SiteOptions{}
	}
	f := NewDirectFetcher(factory, sessions, WithSites(sites), WithUserAgent("darc-test"))
	ctx := context.Background()

	for range 2 {
		res, err := f.Fetch(ctx, srv.URL+"/cookie", time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(res.Body) != "darc-test" {
			t.Errorf("User-Agent = %q, want darc-test", res.Body)
		}
	}
	sessions.rotate()
	if _, err := f.Fetch(ctx, srv.URL+"/cookie", time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := factory.calls()
	if len(calls) != 2 {
		t.Fatalf("factory called %d times, want 2", len(calls))
	}
	if calls[0].Session != "1" || calls[1].Session != "2" {
		t.Errorf("sessions = %q, %q", calls[0].Session, calls[1].Session)
	}
	if calls[0].Cookie != "sid=1" {
		t.Errorf("cookie = %q, want sid=1", calls[0].Cookie)
	}
}

// TestParseRetryAfter tests both Retry-After formats.
func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		value string
		want  time.Duration
	}{
		{value: "", want: 0},
		{value: "30", want: 30 * time.Second},
		{value: "-5", want: 0},
		{value: "Mon, 01 Jan 2024 00:01:00 GMT", want: time.Minute},
		{value: "Sun, 31 Dec 2023 23:00:00 GMT", want: 0},
		{value: "soon", want: 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.value, now); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
