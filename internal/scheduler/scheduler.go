// Package scheduler periodically selects due monitors and submits check jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-monitor/internal/dispatcher"
	"github.com/JakeFAU/sitemap-monitor/internal/metrics"
	"github.com/JakeFAU/sitemap-monitor/internal/monitor"
)

// DefaultTick is the dispatch cadence used when none is configured.
const DefaultTick = time.Minute

// Lister loads monitors in a given status.
type Lister interface {
	ListMonitorsByStatus(ctx context.Context, status monitor.Status) ([]monitor.Task, error)
}

// TickResult summarizes one dispatch tick.
type TickResult struct {
	Active   int
	Due      int
	Enqueued int
	Skipped  int
}

// Scheduler runs dispatch ticks on a fixed interval.
type Scheduler struct {
	monitors Lister
	jobs     monitor.Enqueuer
	clock    monitor.Clock
	interval time.Duration
	logger   *zap.Logger
}

// New builds a Scheduler. interval <= 0 falls back to DefaultTick.
func New(monitors Lister, jobs monitor.Enqueuer, clock monitor.Clock, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultTick
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		monitors: monitors,
		jobs:     jobs,
		clock:    clock,
		interval: interval,
		logger:   logger,
	}
}

// Run ticks once immediately and then on every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tickAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickAndLog(ctx)
		}
	}
}

func (s *Scheduler) tickAndLog(ctx context.Context) {
	res, err := s.Tick(ctx)
	if err != nil {
		s.logger.Error("dispatch tick failed", zap.Error(err))
		return
	}
	if res.Due > 0 {
		s.logger.Info("dispatch tick",
			zap.Int("active", res.Active),
			zap.Int("due", res.Due),
			zap.Int("enqueued", res.Enqueued),
			zap.Int("skipped", res.Skipped),
		)
	}
}

// Tick enqueues one job per due active monitor. Monitors that already have a
// job queued or running are skipped. A failed enqueue for one monitor does not
// stop the rest of the tick.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	metrics.ObserveSchedulerTick()

	tasks, err := s.monitors.ListMonitorsByStatus(ctx, monitor.StatusActive)
	if err != nil {
		return TickResult{}, fmt.Errorf("list active monitors: %w", err)
	}

	now := s.clock.Now()
	res := TickResult{Active: len(tasks)}
	var errs []error
	for _, task := range tasks {
		if !task.IsDue(now) {
			continue
		}
		res.Due++
		err := s.jobs.Enqueue(ctx, monitor.QueueItem{
			MonitorID: task.ID,
			Reason:    monitor.ReasonScheduled,
			Submitted: now.UnixNano(),
		})
		switch {
		case err == nil:
			res.Enqueued++
		case errors.Is(err, dispatcher.ErrInFlight):
			res.Skipped++
		default:
			errs = append(errs, fmt.Errorf("enqueue %s: %w", task.ID, err))
		}
	}
	return res, errors.Join(errs...)
}
