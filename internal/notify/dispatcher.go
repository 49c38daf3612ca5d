// Package notify fans change records out to the notification channels bound
// to a monitor.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-monitor/internal/metrics"
	"github.com/JakeFAU/sitemap-monitor/internal/monitor"
)

// Message is what a sender delivers: the monitor and the change it produced.
type Message struct {
	Monitor monitor.Task
	Change  monitor.ChangeRecord
}

// Delivery is the outcome of one send.
type Delivery struct {
	Success bool
	Err     error
	// ResponseCode is set when a transport returned a status code.
	ResponseCode *int
}

// Sender delivers a message over one channel type.
type Sender interface {
	Send(ctx context.Context, ch monitor.Channel, msg Message) Delivery
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, ch monitor.Channel, msg Message) Delivery

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, ch monitor.Channel, msg Message) Delivery {
	return f(ctx, ch, msg)
}

// Senders maps each channel type to its sender.
type Senders map[monitor.ChannelType]Sender

// Store is the persistence the dispatcher needs.
type Store interface {
	monitor.ChannelStore
	monitor.NotificationLogStore
}

// Dispatcher selects channels and records one log per delivery attempt.
type Dispatcher struct {
	store   Store
	senders Senders
	ids     monitor.IDGenerator
	clock   monitor.Clock
	logger  *zap.Logger
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(store Store, senders Senders, ids monitor.IDGenerator, clock monitor.Clock, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{store: store, senders: senders, ids: ids, clock: clock, logger: logger}
}

// Notify delivers record to every active channel bound to task. Channels are
// attempted independently; a failing or panicking sender yields a failed log
// and never stops the others. The returned error reports only store failures.
func (d *Dispatcher) Notify(ctx context.Context, task monitor.Task, record monitor.ChangeRecord) ([]monitor.NotificationLog, error) {
	channels, err := d.store.ActiveChannelsForMonitor(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("load channels for monitor %s: %w", task.ID, err)
	}
	if len(channels) == 0 {
		d.logger.Debug("no notification channels bound", zap.String("monitor_id", task.ID))
		return nil, nil
	}

	msg := Message{Monitor: task, Change: record}
	logs := make([]monitor.NotificationLog, 0, len(channels))
	var errs []error
	for _, ch := range channels {
		delivery := d.deliver(ctx, ch, msg)
		entry, err := d.record(ctx, ch, record.ID, delivery)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		logs = append(logs, entry)
	}
	return logs, errors.Join(errs...)
}

// Test sends synthetic change data over channelID without writing a log, then
// stamps the result on the channel.
func (d *Dispatcher) Test(ctx context.Context, channelID string) (Delivery, error) {
	ch, err := d.store.GetChannel(ctx, channelID)
	if err != nil {
		return Delivery{}, fmt.Errorf("load channel %s: %w", channelID, err)
	}
	delivery := d.deliver(ctx, ch, syntheticMessage(d.clock.Now()))
	if err := d.store.RecordChannelTest(ctx, ch.ID, d.clock.Now(), delivery.Success); err != nil {
		return delivery, fmt.Errorf("record channel test: %w", err)
	}
	return delivery, nil
}

func (d *Dispatcher) deliver(ctx context.Context, ch monitor.Channel, msg Message) (out Delivery) {
	sender, ok := d.senders[ch.Type]
	if !ok {
		return Delivery{Err: monitor.Errorf(monitor.KindConfiguration, "unknown channel type %q", ch.Type)}
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notification sender panicked",
				zap.String("channel_id", ch.ID),
				zap.String("channel_type", string(ch.Type)),
				zap.Any("panic", r),
			)
			out = Delivery{Err: fmt.Errorf("sender panic: %v", r)}
		}
	}()
	out = sender.Send(ctx, ch, msg)
	if !out.Success && out.Err == nil {
		out.Err = errors.New("delivery failed")
	}
	return out
}

func (d *Dispatcher) record(ctx context.Context, ch monitor.Channel, changeID string, delivery Delivery) (monitor.NotificationLog, error) {
	id, err := d.ids.NewID()
	if err != nil {
		return monitor.NotificationLog{}, fmt.Errorf("notification log id: %w", err)
	}
	entry := monitor.NotificationLog{
		ID:           id,
		ChannelID:    ch.ID,
		ChangeID:     changeID,
		Status:       monitor.DeliverySent,
		ResponseCode: delivery.ResponseCode,
		SentAt:       d.clock.Now(),
	}
	if !delivery.Success {
		entry.Status = monitor.DeliveryFailed
		entry.ErrorMessage = monitor.StringPtr(delivery.Err.Error())
		d.logger.Warn("notification failed",
			zap.String("channel_id", ch.ID),
			zap.String("change_id", changeID),
			zap.Error(delivery.Err),
		)
	}
	metrics.ObserveNotification(string(ch.Type), string(entry.Status))

	if err := d.store.InsertNotificationLog(ctx, entry); err != nil {
		return entry, fmt.Errorf("insert notification log for channel %s: %w", ch.ID, err)
	}
	return entry, nil
}

func syntheticMessage(now time.Time) Message {
	return Message{
		Monitor: monitor.Task{
			ID:         "test",
			Name:       "Test monitor",
			SitemapURL: "https://example.com/sitemap.xml",
		},
		Change: monitor.ChangeRecord{
			ID:         "test",
			Type:       monitor.ChangeDetected,
			AddedCount: 1,
			Changes: monitor.Diff{
				Added: []monitor.Entry{{URL: "https://example.com/new-page"}},
			},
			CreatedAt: now,
		},
	}
}
