// Package reaper runs the timer driven sweeps that enforce request deadlines.
// Each sweep lists due request ids and hands them one at a time to an
// idempotent transition, so a failing item is logged and retried next tick.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sudo-init-do/nearhub/internal/config"
	"github.com/sudo-init-do/nearhub/internal/logger"
	"github.com/sudo-init-do/nearhub/internal/metrics"
)

// Transitions is the slice of the request service the sweeps drive.
type Transitions interface {
	DueForExpiry(ctx context.Context, limit int) ([]string, error)
	ExpirePending(ctx context.Context, requestID string) (bool, error)
	DueForRelease(ctx context.Context, limit int) ([]string, error)
	ReleaseOverdue(ctx context.Context, requestID string) (bool, error)
	DueForRefund(ctx context.Context, limit int, grace time.Duration) ([]string, error)
	RefundExpired(ctx context.Context, requestID string) (bool, error)
}

const (
	SweepExpire  = "expire"
	SweepRelease = "release"
	SweepRefund  = "refund"
)

// Sweep is one periodic pass.
type Sweep struct {
	Name     string
	Interval time.Duration
	List     func(ctx context.Context) ([]string, error)
	Apply    func(ctx context.Context, id string) (bool, error)
}

// Result counts what a single pass did.
type Result struct {
	Due     int
	Changed int
	Failed  int
}

type Reaper struct {
	sweeps []Sweep
	log    *logrus.Entry
}

// New builds the three standard sweeps over t. The refund safety net only
// considers requests that have been EXPIRED for at least one expire interval,
// which leaves the expire sweep time to issue the refund itself.
func New(t Transitions, cfg config.Reaper) *Reaper {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Reaper{
		log: logger.Component("reaper"),
		sweeps: []Sweep{
			{
				Name:     SweepExpire,
				Interval: cfg.ExpireInterval,
				List:     func(ctx context.Context) ([]string, error) { return t.DueForExpiry(ctx, batch) },
				Apply:    t.ExpirePending,
			},
			{
				Name:     SweepRelease,
				Interval: cfg.ReleaseInterval,
				List:     func(ctx context.Context) ([]string, error) { return t.DueForRelease(ctx, batch) },
				Apply:    t.ReleaseOverdue,
			},
			{
				Name:     SweepRefund,
				Interval: cfg.RefundInterval,
				List: func(ctx context.Context) ([]string, error) {
					return t.DueForRefund(ctx, batch, cfg.ExpireInterval)
				},
				Apply: t.RefundExpired,
			},
		},
	}
}

func (r *Reaper) WithLogger(l *logrus.Entry) *Reaper {
	r.log = l
	return r
}

// Run starts one loop per sweep and blocks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range r.sweeps {
		g.Go(func() error {
			r.loop(ctx, s)
			return nil
		})
	}
	r.log.WithField("sweeps", len(r.sweeps)).Info("reaper started")
	err := g.Wait()
	r.log.Info("reaper stopped")
	return err
}

func (r *Reaper) loop(ctx context.Context, s Sweep) {
	if s.Interval <= 0 {
		r.log.WithField("sweep", s.Name).Warn("sweep disabled, interval not positive")
		return
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Pass(ctx, s)
		}
	}
}

// RunOnce runs the named sweep a single time.
func (r *Reaper) RunOnce(ctx context.Context, name string) (Result, bool) {
	for _, s := range r.sweeps {
		if s.Name == name {
			return r.Pass(ctx, s), true
		}
	}
	return Result{}, false
}

// Pass lists the sweep's due items and applies the transition to each.
func (r *Reaper) Pass(ctx context.Context, s Sweep) Result {
	start := time.Now()
	defer metrics.ObserveReaperSweep(s.Name, start)
	log := r.log.WithField("sweep", s.Name)

	var res Result
	ids, err := s.List(ctx)
	if err != nil {
		log.WithError(err).Error("listing due requests failed")
		return res
	}
	res.Due = len(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		changed, err := r.apply(ctx, s, id)
		switch {
		case err != nil:
			res.Failed++
			metrics.RecordReaperItem(s.Name, "error")
			log.WithError(err).WithField("request_id", id).Warn("sweep item failed")
		case changed:
			res.Changed++
			metrics.RecordReaperItem(s.Name, "changed")
		default:
			metrics.RecordReaperItem(s.Name, "skipped")
		}
	}

	if res.Due > 0 {
		log.WithFields(logrus.Fields{
			"due":     res.Due,
			"changed": res.Changed,
			"failed":  res.Failed,
		}).Info("sweep finished")
	}
	return res
}

// apply isolates a panicking item from the rest of the batch.
func (r *Reaper) apply(ctx context.Context, s Sweep, id string) (changed bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return s.Apply(ctx, id)
}
