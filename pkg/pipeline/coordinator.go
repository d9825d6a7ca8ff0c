// Package pipeline runs one collection pass: cursor load, windowed fetch,
// classification, aggregation and cursor update.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/elonfeng/symptomradar/internal/cursor"
	"github.com/elonfeng/symptomradar/internal/metrics"
	"github.com/elonfeng/symptomradar/pkg/classify"
	"github.com/elonfeng/symptomradar/pkg/fetch"
	"github.com/elonfeng/symptomradar/pkg/query"
	"github.com/elonfeng/symptomradar/pkg/source"
	"github.com/elonfeng/symptomradar/pkg/taxonomy"
	"github.com/elonfeng/symptomradar/pkg/trend"
)

// Mode selects between incremental and full collection.
type Mode string

const (
	// ModeIncremental stops each stream at its stored cursor.
	ModeIncremental Mode = "incremental"
	// ModeFull ignores stored cursors while fetching but still advances them.
	ModeFull Mode = "full"
)

// ParseMode accepts "incremental" (the default for "") and "full".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeIncremental:
		return ModeIncremental, nil
	case ModeFull:
		return ModeFull, nil
	}
	return "", fmt.Errorf("unknown run mode %q (want incremental or full)", s)
}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Taxonomy *taxonomy.Taxonomy
	Fetcher  *fetch.Fetcher
	Cursors  cursor.Store
	Log      logrus.FieldLogger
	Metrics  *metrics.Metrics
}

// Options tune a run.
type Options struct {
	Mode      Mode
	QueryMode query.Mode
	// Windows splits Lookback into that many sub-queries; 0 issues one
	// unbounded query per stream.
	Windows  int
	Lookback time.Duration
	// MaxResults caps every window.
	MaxResults int
	// Thresholds overrides the taxonomy's trend thresholds when non-zero.
	Thresholds taxonomy.Thresholds
	// Symptoms restricts the run to these entries; empty means all.
	Symptoms []string
	Now      func() time.Time
}

// DefaultOptions collects up to 100 posts per stream in one window.
func DefaultOptions() Options {
	return Options{
		Mode:       ModeIncremental,
		QueryMode:  query.ModeStrict,
		MaxResults: 100,
		Now:        time.Now,
	}
}

// Coordinator owns one taxonomy's collection streams.
type Coordinator struct {
	tax        *taxonomy.Taxonomy
	fetcher    *fetch.Fetcher
	cursors    cursor.Store
	classifier *classify.Classifier
	builder    *query.Builder
	log        logrus.FieldLogger
	metrics    *metrics.Metrics
	opts       Options
	entries    []*taxonomy.Entry
}

// New validates deps and options and prepares the classifier and query
// builder for the taxonomy.
func New(d Deps, opts Options) (*Coordinator, error) {
	if d.Taxonomy == nil || d.Fetcher == nil || d.Cursors == nil {
		return nil, errors.New("pipeline: taxonomy, fetcher and cursor store are required")
	}
	if err := d.Taxonomy.Validate(); err != nil {
		return nil, err
	}
	if opts.Mode == "" {
		opts.Mode = ModeIncremental
	}
	if opts.QueryMode == "" {
		opts.QueryMode = query.ModeStrict
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 100
	}
	if opts.Windows > 0 && opts.Lookback <= 0 {
		return nil, fmt.Errorf("pipeline: %d windows need a positive lookback", opts.Windows)
	}
	log := d.Log
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}

	var entries []*taxonomy.Entry
	if len(opts.Symptoms) == 0 {
		for i := range d.Taxonomy.Entries {
			entries = append(entries, &d.Taxonomy.Entries[i])
		}
	} else {
		for _, name := range opts.Symptoms {
			e, ok := d.Taxonomy.Entry(name)
			if !ok {
				return nil, fmt.Errorf("pipeline: taxonomy %s has no entry %q", d.Taxonomy.Name, name)
			}
			entries = append(entries, e)
		}
	}

	return &Coordinator{
		tax:        d.Taxonomy,
		fetcher:    d.Fetcher,
		cursors:    d.Cursors,
		classifier: classify.New(d.Taxonomy),
		builder:    query.NewBuilder(d.Taxonomy),
		log:        log,
		metrics:    d.Metrics,
		opts:       opts,
		entries:    entries,
	}, nil
}

// Taxonomy returns the taxonomy the coordinator runs.
func (c *Coordinator) Taxonomy() *taxonomy.Taxonomy { return c.tax }

// streamState is the in-memory cursor bookkeeping of one entry.
type streamState struct {
	key      string
	before   int64
	had      bool
	noSave   string
	peak     int64
	accepted int
	complete bool
}

// Run performs one collection pass. The returned result is never nil. The
// error is non-nil when the run was aborted (status fatal) or cancelled
// (status partial); cursors of streams that completed before a cancellation
// are still saved.
func (c *Coordinator) Run(ctx context.Context) (*RunResult, error) {
	res := &RunResult{
		ID:        uuid.NewString(),
		Taxonomy:  c.tax.Name,
		Mode:      c.opts.Mode,
		StartedAt: c.opts.Now(),
		Status:    StatusSuccess,
	}
	started := time.Now()
	log := c.log.WithFields(logrus.Fields{"run_id": res.ID, "taxonomy": c.tax.Name})
	log.WithField("mode", c.opts.Mode).Info("run started")

	agg := trend.NewAggregator(c.tax, c.opts.Thresholds)
	windows := c.windows(res.StartedAt)

	var states []*streamState
	var runErr error

entries:
	for _, e := range c.entries {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		st := c.loadCursor(ctx, log, e)
		states = append(states, st)
		st.complete = true
		q := c.builder.Build(e, c.opts.QueryMode)

		for _, w := range windows {
			out, posts, peak, err := c.collect(ctx, e, st, q, w)
			res.Outcomes = append(res.Outcomes, out)

			if !out.Stop.Complete() {
				st.complete = false
				switch out.Stop {
				case fetch.StopFatal:
					runErr = fmt.Errorf("stream %s: %w", st.key, err)
					res.Status = StatusFatal
					break entries
				case fetch.StopCancelled:
					runErr = ctx.Err()
					break entries
				}
				res.Status = StatusPartial
				continue
			}

			agg.Add(e.Name, out.Valid)
			res.ValidPosts = append(res.ValidPosts, posts...)
			st.accepted += out.Fetched
			if peak > st.peak {
				st.peak = peak
			}
		}
	}

	if runErr != nil && res.Status != StatusFatal {
		res.Status = StatusPartial
	}
	if res.Status != StatusFatal {
		// Saves must survive a cancelled run context.
		res.Cursors = c.saveCursors(context.WithoutCancel(ctx), log, states)
	} else {
		for _, st := range states {
			res.Cursors = append(res.Cursors, CursorUpdate{
				Stream: st.key, Before: st.before, HadCursor: st.had, After: st.before, Note: "run aborted",
			})
		}
	}

	res.Ranking = agg.Ranking()
	res.FinishedAt = c.opts.Now()
	res.Err = runErr
	if runErr != nil {
		res.Error = runErr.Error()
	}
	c.metrics.RunFinished(string(res.Status), started)

	entry := log.WithFields(logrus.Fields{
		"status":  res.Status,
		"valid":   res.TotalValid(),
		"streams": len(states),
	})
	if runErr != nil {
		entry.WithError(runErr).Warn("run finished with errors")
	} else {
		entry.Info("run finished")
	}
	return res, runErr
}

func (c *Coordinator) windows(now time.Time) []*source.Window {
	split := fetch.SplitWindows(now, c.opts.Lookback, c.opts.Windows)
	if len(split) == 0 {
		return []*source.Window{nil}
	}
	out := make([]*source.Window, len(split))
	for i := range split {
		out[i] = &split[i]
	}
	return out
}

func (c *Coordinator) loadCursor(ctx context.Context, log logrus.FieldLogger, e *taxonomy.Entry) *streamState {
	st := &streamState{key: c.tax.StreamKey(e)}
	id, ok, err := c.cursors.Load(ctx, st.key)
	switch {
	case errors.Is(err, cursor.ErrCorrupt):
		log.WithField("stream", st.key).WithError(err).Warn("corrupt cursor, fetching without early stop")
		st.noSave = "corrupt cursor left untouched"
	case err != nil:
		log.WithField("stream", st.key).WithError(err).Warn("cursor unavailable, fetching without early stop")
		st.noSave = "cursor store unavailable"
	default:
		st.before, st.had = id, ok
	}
	st.peak = st.before
	return st
}

// collect drains one window. Posts are returned only for counting by the
// caller, which drops them when the window did not complete.
func (c *Coordinator) collect(ctx context.Context, e *taxonomy.Entry, st *streamState, q string, w *source.Window) (StreamOutcome, []ValidPost, int64, error) {
	out := StreamOutcome{Stream: st.key, Symptom: e.Name, Query: q}
	if w != nil {
		out.Window = w.String()
	}

	s := c.fetcher.Open(ctx, fetch.Request{
		Symptom:     e.Name,
		Query:       q,
		Window:      w,
		MaxResults:  c.opts.MaxResults,
		Incremental: c.opts.Mode == ModeIncremental && st.had,
		Since:       st.before,
	})

	var posts []ValidPost
	var peak int64
	for s.Next() {
		p := s.Post()
		out.Fetched++
		if p.ID > peak {
			peak = p.ID
		}
		v := c.classifier.Classify(p.Text, e.Name)
		c.metrics.Verdict(e.Name, string(v.Reason))
		if v.Valid {
			out.Valid++
			posts = append(posts, ValidPost{Symptom: e.Name, Post: p})
		}
	}

	out.Stop = s.Stop()
	out.Calls = s.Calls()
	out.Counted = out.Stop.Complete()
	err := s.Err()
	if err != nil {
		out.Error = err.Error()
	}
	return out, posts, peak, err
}

func (c *Coordinator) saveCursors(ctx context.Context, log logrus.FieldLogger, states []*streamState) []CursorUpdate {
	updates := make([]CursorUpdate, 0, len(states))
	for _, st := range states {
		u := CursorUpdate{Stream: st.key, Before: st.before, HadCursor: st.had, After: st.before}
		switch {
		case st.noSave != "":
			u.Note = st.noSave
		case !st.complete:
			u.Note = "stream incomplete"
		case st.accepted == 0:
			u.Note = "no new posts"
		case st.had && st.peak <= st.before:
			u.Note = "cursor already ahead"
		default:
			if err := c.cursors.Save(ctx, st.key, st.peak); err != nil {
				log.WithField("stream", st.key).WithError(err).Error("save cursor")
				u.Note = "save failed: " + err.Error()
				c.metrics.CursorSaved(false)
				break
			}
			c.metrics.CursorSaved(true)
			u.After = st.peak
			u.Saved = true
			log.WithFields(logrus.Fields{"stream": st.key, "cursor": st.peak}).Debug("cursor advanced")
		}
		updates = append(updates, u)
	}
	return updates
}
