package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/elonfeng/symptomradar/internal/metrics"
	"github.com/elonfeng/symptomradar/pkg/source"
)

// StopReason records why a stream ended.
type StopReason string

const (
	StopExhausted   StopReason = "exhausted"
	StopCursor      StopReason = "cursor"
	StopCap         StopReason = "cap"
	StopRateLimited StopReason = "rate_limited"
	StopFailed      StopReason = "failed"
	StopFatal       StopReason = "fatal"
	StopCancelled   StopReason = "cancelled"
)

// Complete reports whether the stream ended normally. Only a cursor stop
// guarantees nothing newer than the cursor was skipped; a cap stop bounds
// cost at the price of completeness.
func (r StopReason) Complete() bool {
	return r == StopExhausted || r == StopCursor || r == StopCap
}

// Config tunes paging, retries and pacing.
type Config struct {
	PageSize   int
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Pacing is the minimum gap between two calls to the backend.
	Pacing time.Duration
}

// DefaultConfig requests 100-result pages with a 3s gap between calls.
func DefaultConfig() Config {
	return Config{
		PageSize:   100,
		MaxRetries: 3,
		BaseDelay:  5 * time.Second,
		MaxDelay:   60 * time.Second,
		Pacing:     3 * time.Second,
	}
}

func normalizeConfig(cfg Config) Config {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay * 2
	}
	return cfg
}

// Request describes one bounded query, optionally restricted to a window.
type Request struct {
	// Symptom labels logs and metrics.
	Symptom    string
	Query      string
	Window     *source.Window
	MaxResults int
	// Incremental enables the early stop at Since.
	Incremental bool
	Since       int64
}

// Fetcher issues paced, retried page requests against a backend. It is meant
// to be driven by one goroutine at a time; the limiter is what keeps
// consecutive streams under the backend's shared rate budget.
type Fetcher struct {
	searcher source.Searcher
	cfg      Config
	limiter  *rate.Limiter
	retry    retrypolicy.RetryPolicy[source.Page]
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
}

// New creates a Fetcher. m may be nil.
func New(s source.Searcher, cfg Config, log logrus.FieldLogger, m *metrics.Metrics) *Fetcher {
	cfg = normalizeConfig(cfg)

	limit := rate.Inf
	if cfg.Pacing > 0 {
		limit = rate.Every(cfg.Pacing)
	}

	retry := retrypolicy.NewBuilder[source.Page]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ source.Page, err error) bool {
			return isRetryable(err)
		}).
		Build()

	return &Fetcher{
		searcher: s,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, 1),
		retry:    retry,
		log:      log,
		metrics:  m,
	}
}

func isRetryable(err error) bool {
	return errors.Is(err, source.ErrRateLimited) || errors.Is(err, source.ErrTransient)
}

// Open starts a lazy, newest-first stream. Nothing is fetched until the first
// call to Next.
func (f *Fetcher) Open(ctx context.Context, req Request) *Stream {
	return &Stream{f: f, ctx: ctx, req: req}
}

// Stream yields posts one at a time, fetching pages on demand:
//
//	s := f.Open(ctx, req)
//	for s.Next() {
//		use(s.Post())
//	}
//	if s.Err() != nil { ... }
type Stream struct {
	f   *Fetcher
	ctx context.Context
	req Request

	page    []source.Post
	pos     int
	token   string
	fetched bool

	post    source.Post
	yielded int
	calls   int
	stop    StopReason
	err     error
}

// Next advances to the next post. It returns false once the stream stopped;
// Stop and Err then say why.
func (s *Stream) Next() bool {
	if s.stop != "" {
		return false
	}
	if s.req.MaxResults > 0 && s.yielded >= s.req.MaxResults {
		s.finish(StopCap, nil)
		return false
	}

	for s.pos >= len(s.page) {
		if s.fetched && s.token == "" {
			s.finish(StopExhausted, nil)
			return false
		}
		if !s.fetchPage() {
			return false
		}
	}

	p := s.page[s.pos]
	s.pos++
	if s.req.Incremental && p.ID <= s.req.Since {
		s.finish(StopCursor, nil)
		return false
	}

	s.post = p
	s.yielded++
	s.f.metrics.PostFetched(s.req.Symptom)
	return true
}

// Post returns the current post.
func (s *Stream) Post() source.Post { return s.post }

// Stop returns why the stream ended, or "" while it is still open.
func (s *Stream) Stop() StopReason { return s.stop }

// Err returns the error that ended the stream, if any.
func (s *Stream) Err() error { return s.err }

// Calls is the number of backend calls made, retries included.
func (s *Stream) Calls() int { return s.calls }

// Yielded is the number of posts returned by Next so far.
func (s *Stream) Yielded() int { return s.yielded }

func (s *Stream) fetchPage() bool {
	limit := s.f.cfg.PageSize
	if s.req.MaxResults > 0 {
		if rem := s.req.MaxResults - s.yielded; rem < limit {
			limit = rem
		}
	}

	prevToken := s.token
	provider := string(s.f.searcher.Name())
	var lastErr error

	page, err := failsafe.With(s.f.retry).WithContext(s.ctx).Get(func() (source.Page, error) {
		if err := s.f.limiter.Wait(s.ctx); err != nil {
			return source.Page{}, err
		}
		s.calls++
		p, err := s.f.searcher.Search(s.ctx, source.SearchRequest{
			Query:     s.req.Query,
			Window:    s.req.Window,
			Limit:     limit,
			PageToken: s.token,
		})
		if err != nil {
			lastErr = err
			s.f.metrics.SourceCall(provider, outcome(err))
			if isRetryable(err) {
				s.f.log.WithFields(logrus.Fields{
					"symptom": s.req.Symptom,
					"attempt": s.calls,
				}).WithError(err).Warn("search call failed, backing off")
			}
			return p, err
		}
		s.f.metrics.SourceCall(provider, "ok")
		return p, nil
	})

	if err != nil {
		switch {
		case s.ctx.Err() != nil:
			s.finish(StopCancelled, s.ctx.Err())
		case errors.Is(err, source.ErrUnauthorized):
			s.finish(StopFatal, err)
		case errors.Is(lastErr, source.ErrRateLimited):
			s.finish(StopRateLimited, lastErr)
		case lastErr != nil:
			s.finish(StopFailed, lastErr)
		default:
			s.finish(StopFailed, err)
		}
		return false
	}

	s.fetched = true
	s.page = page.Posts
	s.pos = 0
	s.token = page.NextToken

	// A backend that keeps handing back the same token on empty pages would
	// otherwise loop forever.
	if len(page.Posts) == 0 && s.token != "" && s.token == prevToken {
		s.token = ""
	}
	return true
}

func (s *Stream) finish(reason StopReason, err error) {
	s.stop = reason
	if err != nil {
		s.err = fmt.Errorf("fetch %s: %w", s.req.Symptom, err)
	}
	s.f.metrics.StreamStopped(string(reason))

	entry := s.f.log.WithFields(logrus.Fields{
		"symptom": s.req.Symptom,
		"stop":    reason,
		"posts":   s.yielded,
		"calls":   s.calls,
	})
	if s.req.Window != nil {
		entry = entry.WithField("window", s.req.Window.String())
	}
	if err != nil {
		entry.WithError(err).Warn("stream stopped early")
		return
	}
	entry.Debug("stream finished")
}

func outcome(err error) string {
	switch {
	case errors.Is(err, source.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, source.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, source.ErrTransient):
		return "transient"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
