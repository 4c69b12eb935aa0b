package fetch

import (
	"context"
	neturl "net/url"
	"time"
)

// Strategy chooses between the direct and the rendered fetcher.
//
// Hosts configured with Render go straight to the browser. Everything else is
// fetched directly first; the browser is used when the direct body needs
// scripts, or when the direct fetch failed with Other or EmptyBody. Without a
// rendered fetcher the direct result is returned with RenderRequired set.
type Strategy struct {
	direct   Fetcher
	rendered Fetcher
	cfg      settings
}

var _ Fetcher = (*Strategy)(nil)

// NewStrategy combines direct with rendered. rendered may be nil.
func NewStrategy(direct, rendered Fetcher, opts ...Option) *Strategy {
	return &Strategy{
		direct:   direct,
		rendered: rendered,
		cfg:      newSettings(opts),
	}
}

// Fetch implements Fetcher.
func (s *Strategy) Fetch(ctx context.Context, url string, timeout time.Duration) (*Result, error) {
	if s.rendered != nil && s.cfg.sites(hostOf(url)).Render {
		return s.rendered.Fetch(ctx, url, timeout)
	}

	res, err := s.direct.Fetch(ctx, url, timeout)
	if err != nil {
		if s.rendered == nil {
			return nil, err
		}
		switch KindOf(err) {
		case Other, EmptyBody:
			s.cfg.logger.Debug("direct fetch failed, rendering instead", "url", url, "error", err)
			return s.rendered.Fetch(ctx, url, timeout)
		default:
			return nil, err
		}
	}

	if res.RenderRequired && s.rendered != nil {
		s.cfg.logger.Debug("page needs rendering", "url", url)
		return s.rendered.Fetch(ctx, url, timeout)
	}
	return res, nil
}

func hostOf(rawURL string) string {
	u, err := neturl.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
