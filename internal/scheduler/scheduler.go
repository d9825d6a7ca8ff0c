package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/elonfeng/symptomradar/internal/store"
	"github.com/elonfeng/symptomradar/pkg/alert"
	"github.com/elonfeng/symptomradar/pkg/export"
	"github.com/elonfeng/symptomradar/pkg/pipeline"
)

// ErrBusy is returned by RunOnce while another run is in progress.
var ErrBusy = errors.New("a run is already in progress")

// Runner performs one collection pass.
type Runner interface {
	Run(ctx context.Context) (*pipeline.RunResult, error)
}

// Options tune the scheduler.
type Options struct {
	Interval time.Duration
	// ExportDir receives CSV exports after each run; empty disables them.
	ExportDir string
	Location  *time.Location
	TopN      int
	Log       logrus.FieldLogger
}

// Scheduler runs periodic collection passes and fans out their results to
// the store, CSV exports and notifiers. Runs never overlap.
type Scheduler struct {
	runner   Runner
	store    store.Store
	alertMgr *alert.Manager
	opts     Options
	log      logrus.FieldLogger
	running  sync.Mutex
}

// New creates a new scheduler. s and alertMgr may be nil.
func New(r Runner, s store.Store, alertMgr *alert.Manager, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 6 * time.Hour
	}
	if opts.TopN <= 0 {
		opts.TopN = 5
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	log := opts.Log
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	return &Scheduler{
		runner:   r,
		store:    s,
		alertMgr: alertMgr,
		opts:     opts,
		log:      log,
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	// Run immediately on start.
	s.log.Info("scheduler: initial run")
	s.tick(ctx)
	s.log.WithField("interval", s.opts.Interval.String()).Info("scheduler: running")

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.WithError(err).Error("scheduler: run failed")
	}
}

// RunOnce performs a single pass and reports it. A run that ends partial or
// fatal is still persisted; its error is returned after reporting.
func (s *Scheduler) RunOnce(ctx context.Context) (*pipeline.RunResult, error) {
	if !s.running.TryLock() {
		return nil, ErrBusy
	}
	defer s.running.Unlock()

	res, runErr := s.runner.Run(ctx)
	if res == nil {
		return nil, runErr
	}
	// Reporting must finish even when the run was cancelled mid-way.
	rctx := context.WithoutCancel(ctx)
	log := s.log.WithField("run_id", res.ID)

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}

	if s.store != nil {
		if err := s.store.SaveRun(rctx, res); err != nil {
			errs = append(errs, fmt.Errorf("persist run: %w", err))
		}
	}

	if s.opts.ExportDir != "" && res.Status != pipeline.StatusFatal {
		paths, err := export.Files(s.opts.ExportDir, res, s.opts.Location)
		if err != nil {
			errs = append(errs, fmt.Errorf("export run: %w", err))
		} else {
			log.WithField("files", paths).Info("exported run")
		}
	}

	if s.alertMgr != nil && s.alertMgr.HasNotifiers() && alert.ShouldNotify(res) {
		if err := s.alertMgr.Broadcast(rctx, alert.FromRun(res, s.opts.TopN)); err != nil {
			errs = append(errs, fmt.Errorf("notify: %w", err))
		}
	}

	log.WithFields(logrus.Fields{
		"status":   res.Status,
		"valid":    res.TotalValid(),
		"duration": res.Duration().String(),
	}).Info("run reported")
	return res, errors.Join(errs...)
}
