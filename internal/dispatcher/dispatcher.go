// Package dispatcher manages worker fan-out over the check queue and keeps at
// most one job per monitor queued or running at a time.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-monitor/internal/metrics"
	"github.com/JakeFAU/sitemap-monitor/internal/monitor"
	"github.com/JakeFAU/sitemap-monitor/internal/worker"
)

// ErrInFlight is returned by Enqueue when the monitor already has a job queued or running.
var ErrInFlight = errors.New("check already queued or running")

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue  monitor.Queue
	logger *zap.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

var _ monitor.Queue = (*Dispatcher)(nil)

// New creates a Dispatcher over queue.
func New(queue monitor.Queue, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:    queue,
		logger:   logger,
		inFlight: make(map[string]struct{}),
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context, workers []*worker.Worker) {
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue submits a job unless the monitor already holds one. Retries re-use
// the slot held by the failed job, so they are always accepted.
func (d *Dispatcher) Enqueue(ctx context.Context, item monitor.QueueItem) error {
	d.mu.Lock()
	if _, busy := d.inFlight[item.MonitorID]; busy && item.Reason != monitor.ReasonRetry {
		d.mu.Unlock()
		return ErrInFlight
	}
	d.inFlight[item.MonitorID] = struct{}{}
	d.mu.Unlock()

	if err := d.queue.Enqueue(ctx, item); err != nil {
		d.Release(item.MonitorID)
		return fmt.Errorf("queue enqueue: %w", err)
	}
	metrics.ObserveJobEnqueued(item.Reason)
	d.logger.Debug("check enqueued", zap.String("monitor_id", item.MonitorID), zap.String("reason", item.Reason))
	return nil
}

// Dequeue proxies to the underlying queue.
func (d *Dispatcher) Dequeue(ctx context.Context) (monitor.QueueItem, error) {
	item, err := d.queue.Dequeue(ctx)
	if err != nil {
		return monitor.QueueItem{}, fmt.Errorf("queue dequeue: %w", err)
	}
	return item, nil
}

// Release frees the monitor's slot once its job is finished.
func (d *Dispatcher) Release(monitorID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, monitorID)
}

// InFlight reports whether monitorID has a job queued or running.
func (d *Dispatcher) InFlight(monitorID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inFlight[monitorID]
	return ok
}
