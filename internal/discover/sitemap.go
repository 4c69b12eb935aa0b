package discover

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/nao1215/darc/internal/fetch"
	"github.com/nao1215/darc/internal/model"
)

// Sitemap limits.
const (
	DefaultMaxSitemapDepth = 3
	DefaultMaxSitemapURLs  = 10000
)

// Sitemaps reads sitemap files and sitemap indexes.
type Sitemaps struct {
	fetcher  fetch.Fetcher
	timeout  time.Duration
	maxDepth int
	maxURLs  int
	logger   *slog.Logger
}

// NewSitemaps creates a sitemap reader.
func NewSitemaps(fetcher fetch.Fetcher, timeout time.Duration, logger *slog.Logger) *Sitemaps {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sitemaps{
		fetcher:  fetcher,
		timeout:  timeout,
		maxDepth: DefaultMaxSitemapDepth,
		maxURLs:  DefaultMaxSitemapURLs,
		logger:   logger,
	}
}

// Collect walks the given sitemap URLs breadth first, following nested
// indexes up to the depth limit, and returns the page URLs they list in
// order of appearance. Sitemaps that cannot be fetched or parsed are
// skipped.
func (s *Sitemaps) Collect(ctx context.Context, sitemapURLs []string) []string {
	seenMaps := make(map[string]struct{})
	seenPages := make(map[string]struct{})
	pages := []string{}

	level := sitemapURLs
	for depth := 0; depth <= s.maxDepth && len(level) > 0; depth++ {
		var next []string
		for _, raw := range level {
			if ctx.Err() != nil {
				return pages
			}
			u, err := model.NormalizeURL(raw)
			if err != nil {
				continue
			}
			if _, ok := seenMaps[u]; ok {
				continue
			}
			seenMaps[u] = struct{}{}

			nested, locs := s.read(ctx, u)
			next = append(next, nested...)
			for _, loc := range locs {
				if len(pages) >= s.maxURLs {
					return pages
				}
				if _, ok := seenPages[loc]; ok {
					continue
				}
				seenPages[loc] = struct{}{}
				pages = append(pages, loc)
			}
		}
		level = next
	}
	return pages
}

// read fetches one sitemap and returns the nested sitemaps and page URLs it lists.
func (s *Sitemaps) read(ctx context.Context, sitemapURL string) (nested, pages []string) {
	res, err := s.fetcher.Fetch(ctx, sitemapURL, s.timeout)
	if err != nil {
		s.logger.Debug("sitemap unavailable", "url", sitemapURL, "error", err)
		return nil, nil
	}
	nested, pages, err = ParseSitemap(res.Body, sitemapURL)
	if err != nil {
		s.logger.Debug("failed to parse sitemap", "url", sitemapURL, "error", err)
		return nil, nil
	}
	return nested, pages
}

// ParseSitemap extracts the <sitemap><loc> and <url><loc> entries of a
// sitemap document. Locations are resolved against base and normalized;
// invalid ones are dropped.
func ParseSitemap(body []byte, base string) (nested, pages []string, err error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	collect := func(expr string) []string {
		var out []string
		for _, n := range xmlquery.Find(doc, expr) {
			loc := strings.TrimSpace(n.InnerText())
			if loc == "" {
				continue
			}
			u, err := model.ResolveReference(base, loc)
			if err != nil {
				continue
			}
			out = append(out, u)
		}
		return out
	}
	return collect("//sitemap/loc"), collect("//url/loc"), nil
}
