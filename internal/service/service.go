// Package service exposes the monitor operations offered to collaborators:
// creating monitors, triggering checks, pausing and resuming, dry-run
// validation and channel tests.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-monitor/internal/checker"
	"github.com/JakeFAU/sitemap-monitor/internal/monitor"
	"github.com/JakeFAU/sitemap-monitor/internal/notify"
)

// FeedValidator performs dry-run validation of a feed URL.
type FeedValidator interface {
	Validate(ctx context.Context, rawURL string) checker.ValidationResult
}

// ChannelTester sends a synthetic message through one channel.
type ChannelTester interface {
	Test(ctx context.Context, channelID string) (notify.Delivery, error)
}

// CreateMonitorInput is the request to start monitoring a feed.
type CreateMonitorInput struct {
	OwnerID              string `json:"owner_id" validate:"required,max=255"`
	Name                 string `json:"name" validate:"required,max=255"`
	SitemapURL           string `json:"sitemap_url" validate:"required,http_url,max=2048"`
	CheckIntervalMinutes int    `json:"check_interval_minutes" validate:"omitempty,min=1,max=10080"`
}

// ChannelTestResult reports the outcome of a channel test.
type ChannelTestResult struct {
	Success      bool   `json:"success"`
	ResponseCode *int   `json:"response_code,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Service implements the monitor operations.
type Service struct {
	store    monitor.MonitorStore
	jobs     monitor.Enqueuer
	feeds    FeedValidator
	channels ChannelTester
	ids      monitor.IDGenerator
	clock    monitor.Clock
	validate *validator.Validate
	logger   *zap.Logger
}

// New wires a Service.
func New(
	store monitor.MonitorStore,
	jobs monitor.Enqueuer,
	feeds FeedValidator,
	channels ChannelTester,
	ids monitor.IDGenerator,
	clock monitor.Clock,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		jobs:     jobs,
		feeds:    feeds,
		channels: channels,
		ids:      ids,
		clock:    clock,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// CreateMonitor stores a new active monitor and submits its first check.
// A failed submission is logged only; the scheduler picks the monitor up on
// its next tick because it has never been checked.
func (s *Service) CreateMonitor(ctx context.Context, in CreateMonitorInput) (monitor.Task, error) {
	in.OwnerID = strings.TrimSpace(in.OwnerID)
	in.Name = strings.TrimSpace(in.Name)
	in.SitemapURL = strings.TrimSpace(in.SitemapURL)
	if err := s.validate.Struct(in); err != nil {
		return monitor.Task{}, monitor.Wrap(monitor.KindConfiguration, "invalid monitor", err)
	}
	if in.CheckIntervalMinutes == 0 {
		in.CheckIntervalMinutes = monitor.DefaultCheckIntervalMinutes
	}

	_, err := s.store.FindMonitorByURL(ctx, in.OwnerID, in.SitemapURL)
	switch {
	case err == nil:
		return monitor.Task{}, monitor.ErrConflict
	case !errors.Is(err, monitor.ErrNotFound):
		return monitor.Task{}, fmt.Errorf("lookup monitor: %w", err)
	}

	id, err := s.ids.NewID()
	if err != nil {
		return monitor.Task{}, fmt.Errorf("monitor id: %w", err)
	}
	now := s.clock.Now()
	task := monitor.Task{
		ID:                   id,
		OwnerID:              in.OwnerID,
		Name:                 in.Name,
		SitemapURL:           in.SitemapURL,
		CheckIntervalMinutes: in.CheckIntervalMinutes,
		Status:               monitor.StatusActive,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.store.CreateMonitor(ctx, task); err != nil {
		if errors.Is(err, monitor.ErrConflict) {
			return monitor.Task{}, err
		}
		return monitor.Task{}, fmt.Errorf("create monitor: %w", err)
	}

	if err := s.enqueue(ctx, task.ID, monitor.ReasonCreated); err != nil {
		s.logger.Warn("initial check not enqueued", zap.String("monitor_id", task.ID), zap.Error(err))
	}
	s.logger.Info("monitor created",
		zap.String("monitor_id", task.ID),
		zap.String("sitemap_url", task.SitemapURL),
		zap.Int("interval_minutes", task.CheckIntervalMinutes),
	)
	return task, nil
}

// TriggerCheck submits an immediate check for an active monitor.
func (s *Service) TriggerCheck(ctx context.Context, id string) error {
	task, err := s.store.GetMonitor(ctx, id)
	if err != nil {
		return fmt.Errorf("load monitor: %w", err)
	}
	if task.Status != monitor.StatusActive {
		return monitor.Errorf(monitor.KindConflict, "monitor is %s", task.Status)
	}
	return s.enqueue(ctx, id, monitor.ReasonManual)
}

// PauseMonitor stops scheduling checks for the monitor.
func (s *Service) PauseMonitor(ctx context.Context, id string) (monitor.Task, error) {
	return s.transition(ctx, id, func(t *monitor.Task) { t.Pause(s.clock.Now()) })
}

// ResumeMonitor reactivates the monitor and clears its failure history.
func (s *Service) ResumeMonitor(ctx context.Context, id string) (monitor.Task, error) {
	return s.transition(ctx, id, func(t *monitor.Task) { t.Resume(s.clock.Now()) })
}

// ValidateFeedURL fetches and parses rawURL without persisting anything.
func (s *Service) ValidateFeedURL(ctx context.Context, rawURL string) checker.ValidationResult {
	return s.feeds.Validate(ctx, rawURL)
}

// TestChannel delivers a synthetic change through one channel and reports the result.
func (s *Service) TestChannel(ctx context.Context, channelID string) (ChannelTestResult, error) {
	delivery, err := s.channels.Test(ctx, channelID)
	if err != nil {
		return ChannelTestResult{}, fmt.Errorf("test channel: %w", err)
	}
	res := ChannelTestResult{Success: delivery.Success, ResponseCode: delivery.ResponseCode}
	if delivery.Err != nil {
		res.Error = delivery.Err.Error()
	}
	return res, nil
}

func (s *Service) transition(ctx context.Context, id string, apply func(*monitor.Task)) (monitor.Task, error) {
	task, err := s.store.GetMonitor(ctx, id)
	if err != nil {
		return monitor.Task{}, fmt.Errorf("load monitor: %w", err)
	}
	apply(&task)
	if err := s.store.UpdateMonitor(ctx, task); err != nil {
		return monitor.Task{}, fmt.Errorf("update monitor: %w", err)
	}
	s.logger.Info("monitor status changed", zap.String("monitor_id", id), zap.String("status", string(task.Status)))
	return task, nil
}

func (s *Service) enqueue(ctx context.Context, id, reason string) error {
	err := s.jobs.Enqueue(ctx, monitor.QueueItem{
		MonitorID: id,
		Reason:    reason,
		Submitted: s.clock.Now().UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("enqueue check: %w", err)
	}
	return nil
}
