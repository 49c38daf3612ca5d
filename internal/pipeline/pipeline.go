// Package pipeline runs one check attempt for a monitor: check, snapshot,
// compare, record, then notify.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-monitor/internal/checker"
	"github.com/JakeFAU/sitemap-monitor/internal/metrics"
	"github.com/JakeFAU/sitemap-monitor/internal/monitor"
	"github.com/JakeFAU/sitemap-monitor/internal/snapshot"
)

// State is a step of one check attempt.
type State string

// Attempt states. Recorded, Failed and Skipped are terminal.
const (
	StateNotStarted   State = "not_started"
	StateFetching     State = "fetching"
	StateFetchFailed  State = "fetch_failed"
	StateParseFailed  State = "parse_failed"
	StateSnapshotting State = "snapshotting"
	StateComparing    State = "comparing"
	StateRecorded     State = "recorded"
	StateFailed       State = "failed"
	StateSkipped      State = "skipped"
)

// EventChangeDetected is the event type published for recorded changes.
const EventChangeDetected = "sitemap.change"

// bookkeepingTimeout bounds failure bookkeeping and post-commit delivery once
// the check context may have expired.
const bookkeepingTimeout = 30 * time.Second

// Checker expands a feed URL into entries.
type Checker interface {
	Check(ctx context.Context, rootURL string) (checker.Result, error)
}

// Notifier fans a change out to channels.
type Notifier interface {
	Notify(ctx context.Context, task monitor.Task, record monitor.ChangeRecord) ([]monitor.NotificationLog, error)
}

// Outcome describes how an attempt ended.
type Outcome struct {
	State State
	// FailedIn is the sub-state that failed when State is StateFailed.
	FailedIn State
	Err      error
	Change   *monitor.ChangeRecord
	Snapshot *monitor.Snapshot
	Result   checker.Result
}

// ChangeEvent is published for initial and changed outcomes.
type ChangeEvent struct {
	Event         string             `json:"event"`
	MonitorID     string             `json:"monitor_id"`
	SitemapURL    string             `json:"sitemap_url"`
	ChangeID      string             `json:"change_id"`
	SnapshotID    string             `json:"snapshot_id"`
	ChangeType    monitor.ChangeType `json:"change_type"`
	URLCount      int                `json:"url_count"`
	AddedCount    int                `json:"added_count"`
	RemovedCount  int                `json:"removed_count"`
	ModifiedCount int                `json:"modified_count"`
	Partial       bool               `json:"partial"`
	CreatedAt     time.Time          `json:"created_at"`
}

// Deps are the pipeline collaborators. Notifier, Publisher and Logger are optional.
type Deps struct {
	Store     monitor.Store
	Checker   Checker
	Snapshots *snapshot.Service
	Notifier  Notifier
	Publisher monitor.Publisher
	Topic     string
	IDs       monitor.IDGenerator
	Clock     monitor.Clock
	Logger    *zap.Logger
}

// Pipeline executes check attempts.
type Pipeline struct {
	Deps
}

// New builds a Pipeline.
func New(deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Pipeline{Deps: deps}
}

// Run performs one check attempt for monitorID. Check failures are recorded
// on the monitor and reported in the Outcome with a nil error. A non-nil
// error means the attempt could not be completed or recorded and is worth
// retrying as a whole.
func (p *Pipeline) Run(ctx context.Context, monitorID string) (Outcome, error) {
	task, err := p.Store.GetMonitor(ctx, monitorID)
	if err != nil {
		return Outcome{State: StateNotStarted}, fmt.Errorf("load monitor %s: %w", monitorID, err)
	}
	if task.Status != monitor.StatusActive {
		p.Logger.Info("skipping inactive monitor", zap.String("monitor_id", task.ID), zap.String("status", string(task.Status)))
		return Outcome{State: StateSkipped}, nil
	}

	start := time.Now()
	logger := p.Logger.With(zap.String("monitor_id", task.ID), zap.String("sitemap_url", task.SitemapURL))
	logger.Debug("check started", zap.String("state", string(StateFetching)))

	result, err := p.Checker.Check(ctx, task.SitemapURL)
	if err != nil {
		return p.fail(ctx, logger, task.ID, result, err, start)
	}
	if result.Partial() {
		logger.Warn("check completed with skipped child sitemaps", zap.Int("failed_children", len(result.FailedChildren)))
	}

	var (
		snap   monitor.Snapshot
		record monitor.ChangeRecord
		state  = StateSnapshotting
	)
	err = p.Store.WithTx(ctx, func(tx monitor.Store) error {
		snaps := p.Snapshots.Bind(tx)
		var err error
		snap, err = snaps.Create(ctx, task.ID, result.Entries, result.FetchDuration, result.ParseDuration)
		if err != nil {
			return err
		}

		state = StateComparing
		cmp, err := snaps.CompareWithPrevious(ctx, snap)
		if err != nil {
			return err
		}
		record, err = p.newRecord(snap, cmp)
		if err != nil {
			return err
		}
		if err := tx.InsertChange(ctx, record); err != nil {
			return fmt.Errorf("insert change record: %w", err)
		}

		current, err := tx.GetMonitor(ctx, task.ID)
		if err != nil {
			return fmt.Errorf("reload monitor: %w", err)
		}
		current.RecordSuccess(p.Clock.Now())
		if err := tx.UpdateMonitor(ctx, current); err != nil {
			return fmt.Errorf("update monitor: %w", err)
		}
		task = current
		return nil
	})
	if err != nil {
		metrics.ObserveCheck("error", time.Since(start))
		return Outcome{State: StateFailed, FailedIn: state, Err: err, Result: result}, fmt.Errorf("record check for monitor %s: %w", task.ID, err)
	}

	// The record is committed; its follow-ups must not die with the check budget.
	postCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	if _, err := p.Snapshots.Archive(postCtx, snap); err != nil {
		logger.Warn("snapshot archive failed", zap.String("snapshot_id", snap.ID), zap.Error(err))
	}
	if record.Type == monitor.ChangeDetected && p.Notifier != nil {
		if _, err := p.Notifier.Notify(postCtx, task, record); err != nil {
			logger.Error("notification dispatch failed", zap.String("change_id", record.ID), zap.Error(err))
		}
	}
	if record.Type != monitor.ChangeNone {
		p.publish(postCtx, logger, task, snap, record, result.Partial())
	}

	metrics.ObserveCheck(string(record.Type), time.Since(start))
	logger.Info("check recorded",
		zap.String("change_type", string(record.Type)),
		zap.Int("url_count", snap.URLCount),
		zap.Int("added", record.AddedCount),
		zap.Int("removed", record.RemovedCount),
		zap.Int("modified", record.ModifiedCount),
		zap.Duration("fetch_duration", snap.FetchDuration),
	)
	return Outcome{State: StateRecorded, Change: &record, Snapshot: &snap, Result: result}, nil
}

func (p *Pipeline) newRecord(snap monitor.Snapshot, cmp snapshot.Comparison) (monitor.ChangeRecord, error) {
	id, err := p.IDs.NewID()
	if err != nil {
		return monitor.ChangeRecord{}, fmt.Errorf("change record id: %w", err)
	}
	record := monitor.ChangeRecord{
		ID:            id,
		MonitorID:     snap.MonitorID,
		NewSnapshotID: snap.ID,
		Type:          cmp.ChangeType(),
		CreatedAt:     p.Clock.Now(),
	}
	if cmp.Prior != nil {
		record.OldSnapshotID = &cmp.Prior.ID
	}
	if record.Type == monitor.ChangeDetected {
		record.Changes = cmp.Diff
		record.AddedCount = len(cmp.Diff.Added)
		record.RemovedCount = len(cmp.Diff.Removed)
		record.ModifiedCount = len(cmp.Diff.Modified)
	}
	return record, nil
}

// fail records a check failure on the monitor. It runs on a context detached
// from ctx so bookkeeping survives the soft deadline that may have caused the
// failure.
func (p *Pipeline) fail(ctx context.Context, logger *zap.Logger, monitorID string, result checker.Result, checkErr error, start time.Time) (Outcome, error) {
	failedIn := StateFetchFailed
	if monitor.KindOf(checkErr) == monitor.KindDecode {
		failedIn = StateParseFailed
	}
	logger.Warn("check failed", zap.String("state", string(failedIn)), zap.Error(checkErr))

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	var task monitor.Task
	err := p.Store.WithTx(cleanupCtx, func(tx monitor.Store) error {
		current, err := tx.GetMonitor(cleanupCtx, monitorID)
		if err != nil {
			return fmt.Errorf("reload monitor: %w", err)
		}
		current.RecordFailure(p.Clock.Now(), checkErr.Error())
		if err := tx.UpdateMonitor(cleanupCtx, current); err != nil {
			return fmt.Errorf("update monitor: %w", err)
		}
		task = current
		return nil
	})
	metrics.ObserveCheck("failed", time.Since(start))
	out := Outcome{State: StateFailed, FailedIn: failedIn, Err: checkErr, Result: result}
	if err != nil {
		return out, fmt.Errorf("record failure for monitor %s: %w", monitorID, err)
	}
	if task.Status == monitor.StatusError {
		logger.Error("monitor moved to error state", zap.Int("error_count", task.ErrorCount))
	}
	return out, nil
}

func (p *Pipeline) publish(ctx context.Context, logger *zap.Logger, task monitor.Task, snap monitor.Snapshot, record monitor.ChangeRecord, partial bool) {
	if p.Publisher == nil {
		return
	}
	event := ChangeEvent{
		Event:         EventChangeDetected,
		MonitorID:     task.ID,
		SitemapURL:    task.SitemapURL,
		ChangeID:      record.ID,
		SnapshotID:    snap.ID,
		ChangeType:    record.Type,
		URLCount:      snap.URLCount,
		AddedCount:    record.AddedCount,
		RemovedCount:  record.RemovedCount,
		ModifiedCount: record.ModifiedCount,
		Partial:       partial,
		CreatedAt:     record.CreatedAt,
	}
	id, err := p.Publisher.Publish(ctx, p.Topic, event)
	if err != nil {
		logger.Warn("change event publish failed", zap.String("change_id", record.ID), zap.Error(err))
		return
	}
	logger.Debug("change event published", zap.String("change_id", record.ID), zap.String("message_id", id))
}
