// Package worker executes check jobs pulled from the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-monitor/internal/metrics"
	"github.com/JakeFAU/sitemap-monitor/internal/monitor"
	"github.com/JakeFAU/sitemap-monitor/internal/pipeline"
)

// Defaults applied to zero Config fields.
const (
	DefaultSoftTimeout = 540 * time.Second
	DefaultHardTimeout = 600 * time.Second
	DefaultRetryDelay  = 60 * time.Second
)

// Config controls job budgets and job-level retries. Job retries re-run the
// whole check and are separate from the fetcher's per-request retries.
type Config struct {
	// SoftTimeout cancels the check context; failure bookkeeping still runs.
	SoftTimeout time.Duration
	// HardTimeout abandons the job outright.
	HardTimeout time.Duration
	// MaxRetries bounds how many times a job is re-queued after an unexpected error.
	MaxRetries int
	RetryDelay time.Duration
}

// Runner performs one check attempt.
type Runner interface {
	Run(ctx context.Context, monitorID string) (pipeline.Outcome, error)
}

// Releaser is notified when a monitor's job is finished for good.
type Releaser interface {
	Release(monitorID string)
}

// Worker consumes queue items and runs the change pipeline for each.
type Worker struct {
	id       int
	queue    monitor.Queue
	runner   Runner
	releaser Releaser
	cfg      Config
	logger   *zap.Logger

	pending sync.WaitGroup
}

// New constructs a Worker. releaser may be nil.
func New(id int, queue monitor.Queue, runner Runner, releaser Releaser, cfg Config, logger *zap.Logger) *Worker {
	if cfg.SoftTimeout <= 0 {
		cfg.SoftTimeout = DefaultSoftTimeout
	}
	if cfg.HardTimeout <= 0 {
		cfg.HardTimeout = DefaultHardTimeout
	}
	if cfg.SoftTimeout > cfg.HardTimeout {
		cfg.SoftTimeout = cfg.HardTimeout
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:       id,
		queue:    queue,
		runner:   runner,
		releaser: releaser,
		cfg:      cfg,
		logger:   logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	defer w.pending.Wait()
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, monitor.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job",
			zap.String("monitor_id", item.MonitorID),
			zap.String("reason", item.Reason),
			zap.Int("attempt", item.Attempt),
		)
		w.process(ctx, item)
	}
}

type runResult struct {
	outcome pipeline.Outcome
	err     error
}

func (w *Worker) process(ctx context.Context, item monitor.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	hardCtx, cancelHard := context.WithTimeout(ctx, w.cfg.HardTimeout)
	defer cancelHard()
	softCtx, cancelSoft := context.WithTimeout(hardCtx, w.cfg.SoftTimeout)
	defer cancelSoft()

	done := make(chan runResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- runResult{err: fmt.Errorf("check panicked: %v", r)}
			}
		}()
		out, err := w.runner.Run(softCtx, item.MonitorID)
		done <- runResult{outcome: out, err: err}
	}()

	select {
	case res := <-done:
		w.finish(ctx, item, res)
	case <-hardCtx.Done():
		if ctx.Err() == nil {
			w.logger.Error("check exceeded hard time limit, abandoning",
				zap.String("monitor_id", item.MonitorID),
				zap.Duration("limit", w.cfg.HardTimeout),
			)
			metrics.ObserveJob("abandoned")
		}
		// The abandoned run may still write; keep the monitor's slot until it returns.
		go func() {
			<-done
			w.release(item.MonitorID)
		}()
	}
}

func (w *Worker) finish(ctx context.Context, item monitor.QueueItem, res runResult) {
	if res.err == nil {
		metrics.ObserveJob(string(res.outcome.State))
		w.release(item.MonitorID)
		return
	}
	if ctx.Err() != nil || item.Attempt >= w.cfg.MaxRetries {
		w.logger.Error("check job failed",
			zap.String("monitor_id", item.MonitorID),
			zap.Int("attempt", item.Attempt),
			zap.Error(res.err),
		)
		metrics.ObserveJob("failed")
		w.release(item.MonitorID)
		return
	}

	w.logger.Warn("check job failed, retrying",
		zap.String("monitor_id", item.MonitorID),
		zap.Int("attempt", item.Attempt),
		zap.Duration("delay", w.cfg.RetryDelay),
		zap.Error(res.err),
	)
	metrics.ObserveJob("retry")
	retry := monitor.QueueItem{
		MonitorID: item.MonitorID,
		Reason:    monitor.ReasonRetry,
		Attempt:   item.Attempt + 1,
		Submitted: time.Now().Unix(),
	}
	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		timer := time.NewTimer(w.cfg.RetryDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			w.release(item.MonitorID)
			return
		case <-timer.C:
		}
		if err := w.queue.Enqueue(ctx, retry); err != nil {
			w.logger.Error("requeue failed", zap.String("monitor_id", item.MonitorID), zap.Error(err))
			w.release(item.MonitorID)
		}
	}()
}

func (w *Worker) release(monitorID string) {
	if w.releaser != nil {
		w.releaser.Release(monitorID)
	}
}
