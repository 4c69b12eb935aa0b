package extract

import (
	"bytes"
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/nao1215/darc/internal/model"
	"github.com/nao1215/darc/internal/tor"
)

// DefaultPattern matches http(s) URLs whose host is a hidden service.
var DefaultPattern = regexp.MustCompile(`^https?://([^/?#@]+@)?[^/?#:@]+\.onion(:[0-9]+)?/`)

// linkSelectors lists the elements and the attribute that carries their target.
var linkSelectors = []struct {
	selector string
	attr     string
}{
	{selector: "a[href], area[href], link[href]", attr: "href"},
	{selector: "iframe[src], frame[src]", attr: "src"},
	{selector: "form[action]", attr: "action"},
}

// skippedPrefixes are references that never point at a crawlable page.
var skippedPrefixes = []string{"javascript:", "mailto:", "tel:", "data:", "#"}

// Extractor turns an HTML body into the list of URLs worth crawling next.
// It is safe for concurrent use.
type Extractor struct {
	pattern   *regexp.Regexp
	exclude   func(url string) bool
	textAddrs bool
	logger    *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithPattern sets the regexp a normalized URL must match to be returned.
// A nil pattern keeps every http(s) URL.
func WithPattern(re *regexp.Regexp) Option {
	return func(e *Extractor) {
		e.pattern = re
	}
}

// WithExclude drops URLs for which fn returns true, after the pattern matched.
func WithExclude(fn func(url string) bool) Option {
	return func(e *Extractor) {
		e.exclude = fn
	}
}

// WithTextAddresses toggles picking up v3 onion addresses written as plain text.
func WithTextAddresses(enabled bool) Option {
	return func(e *Extractor) {
		e.textAddrs = enabled
	}
}

// WithLogger sets the logger used for parse warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// New creates an Extractor. By default it keeps hidden-service URLs and
// reads onion addresses from the page text.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		pattern:   DefaultPattern,
		textAddrs: true,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the deduplicated outbound URLs of body in document order.
// Links come first, then addresses found in the text. When nothing can be
// parsed the result is empty and a warning is logged.
func (e *Extractor) Extract(body []byte, baseURL string) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		e.logger.Warn("failed to parse page", "url", baseURL, "error", err)
		return []string{}
	}

	base := baseURL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := model.ResolveReference(baseURL, href); err == nil {
			base = resolved
		}
	}

	seen := make(map[string]struct{})
	links := []string{}
	add := func(u string) {
		if _, dup := seen[u]; dup {
			return
		}
		seen[u] = struct{}{}
		if !e.Keep(u) {
			return
		}
		links = append(links, u)
	}

	for _, sel := range linkSelectors {
		doc.Find(sel.selector).Each(func(_ int, s *goquery.Selection) {
			ref := strings.TrimSpace(s.AttrOr(sel.attr, ""))
			if ref == "" || skipped(ref) {
				return
			}
			u, err := model.ResolveReference(base, ref)
			if err != nil {
				e.logger.Debug("skipping link", "url", baseURL, "ref", ref, "error", err)
				return
			}
			add(u)
		})
	}

	if e.textAddrs {
		for _, addr := range tor.ExtractV3Addresses(doc.Text()) {
			u, err := model.NormalizeURL("http://" + addr + "/")
			if err != nil {
				continue
			}
			add(u)
		}
	}
	return links
}

// Keep reports whether the normalized URL u passes the pattern and the
// exclusion filter.
func (e *Extractor) Keep(u string) bool {
	if e.pattern != nil && !e.pattern.MatchString(u) {
		return false
	}
	if e.exclude != nil && e.exclude(u) {
		return false
	}
	return true
}

func skipped(ref string) bool {
	lower := strings.ToLower(ref)
	for _, prefix := range skippedPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
