package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"
)

// RenderedFetcher loads pages in headless Chrome and returns the DOM after
// scripts ran. Every tab shares one browser process; the number of open tabs
// is bounded by WithMaxRenderers.
type RenderedFetcher struct {
	cfg         settings
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabs        *semaphore.Weighted
}

var _ Fetcher = (*RenderedFetcher)(nil)

// NewRenderedFetcher starts a browser allocator that sends all traffic
// through the SOCKS5 proxy at proxyAddr. An empty proxyAddr connects directly.
// The browser itself is launched on the first Fetch.
func NewRenderedFetcher(proxyAddr string, opts ...Option) *RenderedFetcher {
	cfg := newSettings(opts)

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(cfg.userAgent),
	)
	if proxyAddr != "" {
		allocOpts = append(allocOpts,
			chromedp.ProxyServer("socks5://"+proxyAddr),
			chromedp.Flag("host-resolver-rules", hostResolverRules(proxyAddr)),
		)
	}
	if cfg.execPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(cfg.execPath))
	}
	if cfg.profileDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(cfg.profileDir))
	}

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	return &RenderedFetcher{
		cfg:         cfg,
		allocCtx:    allocCtx,
		allocCancel: cancel,
		tabs:        semaphore.NewWeighted(cfg.maxRenderers),
	}
}

// Fetch implements Fetcher. The deadline covers navigation plus the render wait.
func (f *RenderedFetcher) Fetch(ctx context.Context, url string, timeout time.Duration) (*Result, error) {
	if err := f.tabs.Acquire(ctx, 1); err != nil {
		return nil, classify(url, err)
	}
	defer f.tabs.Release(1)

	tabCtx, cancelTab := chromedp.NewContext(f.allocCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, timeout+f.cfg.renderWait)
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	doc := &documentResponse{}
	chromedp.ListenTarget(tabCtx, func(ev any) {
		if e, ok := ev.(*network.EventResponseReceived); ok && e.Type == network.ResourceTypeDocument {
			doc.record(e.Response)
		}
	})

	var html, location string
	err := chromedp.Run(tabCtx,
		network.Enable(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.renderWait),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Location(&location),
	)
	if err != nil {
		if ctxErr := tabCtx.Err(); ctxErr != nil && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return nil, classify(url, fmt.Errorf("render: %w", err))
	}

	status, header, contentType := doc.snapshot()
	if status >= http.StatusBadRequest {
		return nil, &Error{Kind: HTTPError, URL: url, StatusCode: status}
	}
	if strings.TrimSpace(html) == "" {
		return nil, &Error{Kind: EmptyBody, URL: url, StatusCode: status}
	}
	if contentType == "" {
		contentType = "text/html"
	}

	return &Result{
		URL:         url,
		FinalURL:    finalURL(url, location),
		StatusCode:  status,
		Header:      header,
		ContentType: contentType,
		Body:        []byte(html),
		Rendered:    true,
	}, nil
}

// hostResolverRules makes Chrome resolve every name through the proxy so
// nothing leaks to local DNS. The proxy's own host is the one exception,
// since Chrome has to reach it before any name can be resolved.
func hostResolverRules(proxyAddr string) string {
	host, _, err := net.SplitHostPort(proxyAddr)
	if err != nil || host == "" {
		host = "127.0.0.1"
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return "MAP * ~NOTFOUND , EXCLUDE " + host
}

// finalURL returns the address the tab ended on after redirects, or url
// when the browser reported none.
func finalURL(url, location string) string {
	if location == "" || location == "about:blank" {
		return url
	}
	return location
}

// Close shuts the browser down.
func (f *RenderedFetcher) Close() error {
	f.allocCancel()
	return nil
}

// documentResponse keeps the first main-document response seen by a tab.
type documentResponse struct {
	mu          sync.Mutex
	seen        bool
	status      int
	header      http.Header
	contentType string
}

func (d *documentResponse) record(resp *network.Response) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen || resp == nil {
		return
	}
	d.seen = true
	d.status = int(resp.Status)
	d.contentType = mediaType(resp.MimeType)
	d.header = make(http.Header, len(resp.Headers))
	for k, v := range resp.Headers {
		d.header.Set(k, fmt.Sprint(v))
	}
}

func (d *documentResponse) snapshot() (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status, d.header, d.contentType
}
