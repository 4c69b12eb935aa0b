package extract

import (
	"io"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"testing"
)

const textOnion = "aaaqeayeaudaocajbifqydiob4ibceqtcqkrmfyydenbwha5dyp3kead.onion"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestExtract tests link discovery in well-formed pages.
func TestExtract(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		base string
		body string
		opts []Option
		want []string
	}{
		{
			name: "relative and absolute links",
			base: "http://a.onion/dir/page.html",
			body: `<html><body>
				<a href="other.html">rel</a>
				<a href="/root?q=1#top">abs path</a>
				<a href="http://B.ONION:80">other host</a>
			</body></html>`,
			want: []string{"http://a.onion/dir/other.html", "http://a.onion/root?q=1", "http://b.onion/"},
		},
		{
			name: "frames forms and areas",
			base: "http://a.onion/",
			body: `<html><head><link rel="alternate" href="/feed"></head><body>
				<iframe src="/frame"></iframe>
				<form action="/search"><input name="q"></form>
				<map><area href="/area"></map>
			</body></html>`,
			want: []string{"http://a.onion/feed", "http://a.onion/area", "http://a.onion/frame", "http://a.onion/search"},
		},
		{
			name: "base href changes resolution",
			base: "http://a.onion/x/y",
			body: `<html><head><base href="http://c.onion/sub/"></head><body><a href="page">p</a></body></html>`,
			want: []string{"http://c.onion/sub/page"},
		},
		{
			name: "non navigational references are skipped",
			base: "http://a.onion/",
			body: `<a href="javascript:void(0)">js</a><a href="mailto:x@y">m</a><a href="#top">t</a>
				<a href="tel:123">tel</a><a href="data:text/plain,hi">d</a><a href="">empty</a><a href="ftp://a.onion/">ftp</a>`,
			want: []string{},
		},
		{
			name: "clearnet links are filtered by the default pattern",
			base: "http://a.onion/",
			body: `<a href="https://example.com/">c</a><a href="/local">l</a>`,
			want: []string{"http://a.onion/local"},
		},
		{
			name: "duplicates collapse after normalization",
			base: "http://a.onion/",
			body: `<a href="/p">1</a><a href="/p#frag">2</a><a href="http://a.onion:80/p">3</a>`,
			want: []string{"http://a.onion/p"},
		},
		{
			name: "onion addresses in text",
			base: "http://a.onion/",
			body: `<p>mirror: ` + textOnion + ` (also ` + textOnion + `)</p>`,
			want: []string{"http://" + textOnion + "/"},
		},
		{
			name: "text addresses disabled",
			base: "http://a.onion/",
			body: `<p>mirror: ` + textOnion + `</p>`,
			opts: []Option{WithTextAddresses(false)},
			want: []string{},
		},
		{
			name: "custom pattern",
			base: "https://example.com/",
			body: `<a href="/keep">k</a><a href="http://a.onion/">o</a>`,
			opts: []Option{WithPattern(regexp.MustCompile(`^https://example\.com/`))},
			want: []string{"https://example.com/keep"},
		},
		{
			name: "exclude function",
			base: "http://a.onion/",
			body: `<a href="/keep">k</a><a href="/logout">o</a>`,
			opts: []Option{WithExclude(func(u string) bool { return strings.HasSuffix(u, "/logout") })},
			want: []string{"http://a.onion/keep"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opts := append([]Option{WithLogger(quietLogger())}, tt.opts...)
			got := New(opts...).Extract([]byte(tt.body), tt.base)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Extract() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestExtractMalformed tests that broken input degrades instead of failing.
func TestExtractMalformed(t *testing.T) {
	t.Parallel()

	e := New(WithLogger(quietLogger()))

	t.Run("unclosed tags keep parsed links", func(t *testing.T) {
		t.Parallel()

		body := `<html><body><div><a href="http://a.onion/x">one<table><tr><td><a href=/y>two</p></span>`
		got := e.Extract([]byte(body), "http://a.onion/")
		if !slices.Contains(got, "http://a.onion/x") {
			t.Errorf("Extract() = %v, want it to contain http://a.onion/x", got)
		}
	})

	tests := []struct {
		name string
		body []byte
	}{
		{name: "binary garbage", body: []byte{0xff, 0xfe, 0x00, 0x01, '<', 0x80, '>'}},
		{name: "empty", body: nil},
		{name: "only text", body: []byte("no links here")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := e.Extract(tt.body, "http://a.onion/")
			if got == nil {
				t.Fatal("Extract() returned nil, want an empty slice")
			}
			if len(got) != 0 {
				t.Errorf("Extract() = %v, want no links", got)
			}
		})
	}
}

// TestKeep tests the filter shared with sitemap discovery.
func TestKeep(t *testing.T) {
	t.Parallel()

	e := New(WithExclude(func(u string) bool { return strings.HasSuffix(u, ".zip") }))
	tests := []struct {
		url  string
		want bool
	}{
		{url: "http://a.onion/page", want: true},
		{url: "http://example.com/page", want: false},
		{url: "http://a.onion/archive.zip", want: false},
	}
	for _, tt := range tests {
		if got := e.Keep(tt.url); got != tt.want {
			t.Errorf("Keep(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
