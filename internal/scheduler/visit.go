package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nao1215/darc/internal/fetch"
	"github.com/nao1215/darc/internal/frontier"
	"github.com/nao1215/darc/internal/model"
	"github.com/nao1215/darc/internal/tor"
)

// reasonDisallowed is stored for URLs that robots.txt excludes.
const reasonDisallowed = "disallowed by robots.txt"

// visit processes one claim. The returned error is fatal for the worker.
func (s *Scheduler) visit(ctx context.Context, w *worker, claim *frontier.Claim) error {
	url := claim.URL()
	logger := s.logger.With("worker", w.id, "url", url)

	w.set(Gating)
	if s.fresh(ctx, url) {
		logger.Debug("skipping fresh url")
		s.release(ctx, claim, frontier.Verdict{Disposition: frontier.Visited})
		return nil
	}
	if s.discover != nil {
		allowed, err := s.discover.Allowed(ctx, url)
		if err != nil {
			logger.Info("robots.txt unavailable", "error", err)
			v := frontier.Verdict{Disposition: frontier.Retry, Reason: err.Error(), MinDelay: retryAfter(err)}
			if s.release(ctx, claim, v) == model.StatusDead {
				s.recordFailure(ctx, claim, outcomeKind(fetch.KindOf(err)), fetch.StatusOf(err), err.Error())
			}
			return nil
		}
		if !allowed {
			logger.Info(reasonDisallowed)
			s.release(ctx, claim, frontier.Verdict{Disposition: frontier.Dead, Reason: reasonDisallowed})
			s.recordFailure(ctx, claim, model.OutcomeFetchError, 0, reasonDisallowed)
			return nil
		}
	}

	w.set(Fetching)
	session := s.circuit.Current()
	res, err := s.fetcher.Fetch(ctx, url, s.timeout)
	if err != nil {
		w.set(Errored)
		logger.Info("fetch failed", "kind", fetch.KindOf(err), "error", err)
		return s.fetchFailed(ctx, claim, session, err)
	}
	s.circuit.RecordSuccess(session)

	w.set(Extracting)
	outcome := s.outcome(claim, res)
	s.discoverHost(ctx, url)
	s.enqueue(ctx, outcome.Links)

	w.set(Persisting)
	if err := s.persist(ctx, outcome, res); err != nil {
		w.set(Errored)
		logger.Error("persisting visit failed", "error", err)
		s.release(ctx, claim, frontier.Verdict{Disposition: frontier.Retry, Reason: err.Error()})
		return nil
	}

	// The cache is only updated once the outcome is durable.
	if err := s.cache.MarkVisited(ctx, url, outcome.Timestamp); err != nil {
		logger.Warn("updating freshness cache failed", "error", err)
	}
	s.release(ctx, claim, frontier.Verdict{Disposition: frontier.Visited})
	logger.Info("visited", "kind", outcome.Kind, "status", outcome.StatusCode, "links", len(outcome.Links), "rendered", outcome.Rendered)

	s.publish(ctx, outcome)
	return nil
}

// fresh reports whether url needs no fetch. With an infinite TTL an ok visit
// in the store counts as fresh and restores the lost cache entry.
func (s *Scheduler) fresh(ctx context.Context, url string) bool {
	fresh, err := s.cache.IsFresh(ctx, url)
	if err != nil {
		s.logger.Warn("checking freshness failed", "url", url, "error", err)
		return false
	}
	if fresh || s.ttl >= 0 {
		return fresh
	}

	exists, err := s.store.Exists(ctx, url)
	if err != nil {
		s.logger.Warn("checking store failed", "url", url, "error", err)
		return false
	}
	if exists {
		if err := s.cache.MarkVisited(ctx, url, s.now()); err != nil {
			s.logger.Warn("updating freshness cache failed", "url", url, "error", err)
		}
	}
	return exists
}

// fetchFailed maps a fetch error to a verdict and releases the claim.
func (s *Scheduler) fetchFailed(ctx context.Context, claim *frontier.Claim, session *tor.Session, err error) error {
	kind := fetch.KindOf(err)
	status := fetch.StatusOf(err)
	v := frontier.Verdict{Disposition: frontier.Retry, Reason: err.Error()}

	var fatal error
	switch {
	case kind == fetch.ProxyError:
		fatal = s.circuit.RecordFailure(ctx, session)
	case kind == fetch.Blocked:
		_, fatal = s.circuit.RotateFrom(ctx, session)
	case kind == fetch.HTTPError && status == http.StatusTooManyRequests:
		v.MinDelay = retryAfter(err)
	case kind == fetch.HTTPError && status < http.StatusInternalServerError, kind == fetch.Unsupported:
		v.Disposition = frontier.Dead
	}

	if s.release(ctx, claim, v) == model.StatusDead {
		s.recordFailure(ctx, claim, outcomeKind(kind), status, err.Error())
	}
	if fatal != nil && errors.Is(fatal, tor.ErrControlChannel) {
		return fatal
	}
	if fatal != nil {
		s.logger.Warn("circuit update failed", "url", claim.URL(), "error", fatal)
	}
	return nil
}

// outcome builds the visit outcome of a successful fetch and extracts links.
func (s *Scheduler) outcome(claim *frontier.Claim, res *fetch.Result) *model.VisitOutcome {
	v := &model.VisitOutcome{
		URL:         claim.URL(),
		Seq:         claim.Record.Seq,
		Kind:        model.OutcomeOK,
		StatusCode:  res.StatusCode,
		ContentType: res.ContentType,
		Headers:     res.Header,
		Rendered:    res.Rendered,
		Links:       []string{},
		Timestamp:   s.now(),
	}
	if res.RenderRequired && !res.Rendered {
		v.Kind = model.OutcomeRenderRequired
	}
	base := claim.URL()
	if res.FinalURL != "" && res.FinalURL != claim.URL() {
		v.FinalURL = res.FinalURL
		base = res.FinalURL
	}
	if res.IsHTML() {
		v.Links = s.extractor.Extract(res.Body, base)
	}
	return v
}

// discoverHost enqueues the sitemap URLs of a host seen for the first time.
func (s *Scheduler) discoverHost(ctx context.Context, url string) {
	if s.discover == nil {
		return
	}
	host := model.Host(url)
	if host == "" {
		return
	}
	first, err := s.queue.MarkHost(ctx, host)
	if err != nil {
		s.logger.Warn("marking host failed", "host", host, "error", err)
		return
	}
	if !first {
		return
	}
	var urls []string
	for _, u := range s.discover.Discover(ctx, url) {
		if s.extractor.Keep(u) {
			urls = append(urls, u)
		}
	}
	s.logger.Debug("discovered new host", "host", host, "sitemap_urls", len(urls))
	s.enqueue(ctx, urls)
}

func (s *Scheduler) enqueue(ctx context.Context, urls []string) {
	for _, u := range urls {
		if _, err := s.queue.Enqueue(ctx, u); err != nil {
			s.logger.Warn("enqueue failed", "url", u, "error", err)
		}
	}
}

// persist stores the body and the outcome, retrying with backoff.
func (s *Scheduler) persist(ctx context.Context, v *model.VisitOutcome, res *fetch.Result) error {
	var lastErr error
	delay := s.persistBackoff
	for attempt := 1; attempt <= s.persistAttempts; attempt++ {
		lastErr = s.persistOnce(ctx, v, res)
		if lastErr == nil {
			return nil
		}
		s.logger.Warn("persist attempt failed", "url", v.URL, "attempt", attempt, "error", lastErr)
		if attempt == s.persistAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrPersist, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("%w: %d attempts: %w", ErrPersist, s.persistAttempts, lastErr)
}

func (s *Scheduler) persistOnce(ctx context.Context, v *model.VisitOutcome, res *fetch.Result) error {
	if s.blobs != nil && v.ContentRef == "" {
		ref, err := s.blobs.Put(model.Host(v.URL), res.ContentType, res.Body)
		if err != nil {
			return fmt.Errorf("store body: %w", err)
		}
		v.ContentRef = ref
	}
	if _, err := s.store.InsertVisit(ctx, v); err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

// recordFailure persists the outcome of a URL that just became dead.
// Errors are logged only; the frontier already holds the verdict.
func (s *Scheduler) recordFailure(ctx context.Context, claim *frontier.Claim, kind model.OutcomeKind, status int, reason string) {
	v := &model.VisitOutcome{
		URL:        claim.URL(),
		Seq:        claim.Record.Seq,
		Kind:       kind,
		StatusCode: status,
		Error:      reason,
		Timestamp:  s.now(),
	}
	if _, err := s.store.InsertVisit(ctx, v); err != nil {
		s.logger.Warn("persisting failure failed", "url", v.URL, "error", err)
		return
	}
	s.publish(ctx, v)
}

// release ends the claim and returns the resulting status.
func (s *Scheduler) release(ctx context.Context, claim *frontier.Claim, v frontier.Verdict) model.Status {
	st, err := s.queue.Release(ctx, claim, v)
	switch {
	case errors.Is(err, frontier.ErrLeaseLost):
		s.logger.Warn("lease lost before release", "url", claim.URL(), "verdict", v.Disposition)
	case err != nil:
		s.logger.Error("release failed", "url", claim.URL(), "verdict", v.Disposition, "error", err)
	case st == model.StatusDead && v.Disposition == frontier.Retry:
		s.logger.Info("retry budget exhausted", "url", claim.URL(), "reason", v.Reason)
	}
	return st
}

func (s *Scheduler) publish(ctx context.Context, v *model.VisitOutcome) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, v); err != nil {
		s.logger.Warn("publishing outcome failed", "url", v.URL, "error", err)
	}
}

func outcomeKind(k fetch.Kind) model.OutcomeKind {
	switch k {
	case fetch.Timeout:
		return model.OutcomeTimeout
	case fetch.Blocked:
		return model.OutcomeBlocked
	default:
		return model.OutcomeFetchError
	}
}

func retryAfter(err error) time.Duration {
	var fe *fetch.Error
	if errors.As(err, &fe) {
		return fe.RetryAfter
	}
	return 0
}
