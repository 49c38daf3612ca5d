// Package monitor defines the core types shared across the change-detection subsystems.
package monitor

import (
	"time"
)

// Status represents the health/lifecycle state of a monitor task.
type Status string

// Monitor status values persisted in the store.
const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusError  Status = "error"
)

// DefaultCheckIntervalMinutes applies when a monitor is created without an interval.
const DefaultCheckIntervalMinutes = 60

// Task is a monitored feed URL with its polling interval and health state.
type Task struct {
	ID                   string     `json:"id"`
	OwnerID              string     `json:"owner_id"`
	Name                 string     `json:"name"`
	SitemapURL           string     `json:"sitemap_url"`
	CheckIntervalMinutes int        `json:"check_interval_minutes"`
	Status               Status     `json:"status"`
	LastCheckAt          *time.Time `json:"last_check_at"`
	LastError            *string    `json:"last_error"`
	ErrorCount           int        `json:"error_count"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Entry is one URL record from a leaf feed. Optional fields are nil when absent.
type Entry struct {
	URL        string  `json:"url"`
	LastMod    *string `json:"lastmod"`
	ChangeFreq *string `json:"changefreq"`
	Priority   *string `json:"priority"`
}

// ChildRef points from an index document to a child feed.
type ChildRef struct {
	Loc     string  `json:"loc"`
	LastMod *string `json:"lastmod"`
}

// Snapshot is an immutable observation of a monitor's full entry set.
type Snapshot struct {
	ID            string        `json:"id"`
	MonitorID     string        `json:"monitor_task_id"`
	URLCount      int           `json:"url_count"`
	URLHash       string        `json:"url_hash"`
	Entries       []Entry       `json:"urls"`
	FetchDuration time.Duration `json:"-"`
	ParseDuration time.Duration `json:"-"`
	CreatedAt     time.Time     `json:"created_at"`
}

// ChangeType classifies the outcome of one successful check.
type ChangeType string

// Change types recorded on a ChangeRecord.
const (
	ChangeInitial  ChangeType = "initial"
	ChangeNone     ChangeType = "no_change"
	ChangeDetected ChangeType = "changed"
)

// Modification describes an entry present in both snapshots whose lastmod differs.
type Modification struct {
	URL        string  `json:"url"`
	OldLastMod *string `json:"old_lastmod"`
	NewLastMod *string `json:"new_lastmod"`
}

// Diff is the structured added/removed/modified payload of a change.
type Diff struct {
	Added    []Entry        `json:"added"`
	Removed  []Entry        `json:"removed"`
	Modified []Modification `json:"modified"`
}

// HasChanges reports whether any of the three sets is non-empty.
func (d Diff) HasChanges() bool {
	return len(d.Added) > 0 || len(d.Removed) > 0 || len(d.Modified) > 0
}

// ChangeRecord is the immutable outcome of comparing a new snapshot to its predecessor.
type ChangeRecord struct {
	ID            string     `json:"id"`
	MonitorID     string     `json:"monitor_task_id"`
	OldSnapshotID *string    `json:"old_snapshot_id"`
	NewSnapshotID string     `json:"new_snapshot_id"`
	Type          ChangeType `json:"change_type"`
	AddedCount    int        `json:"added_count"`
	RemovedCount  int        `json:"removed_count"`
	ModifiedCount int        `json:"modified_count"`
	Changes       Diff       `json:"changes"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ChannelType tags the notification transport of a channel.
type ChannelType string

// Supported channel types.
const (
	ChannelEmail   ChannelType = "email"
	ChannelWebhook ChannelType = "webhook"
)

// Channel is a collaborator-owned notification destination.
type Channel struct {
	ID              string         `json:"id"`
	OwnerID         string         `json:"owner_id"`
	Name            string         `json:"name"`
	Type            ChannelType    `json:"channel_type"`
	Config          map[string]any `json:"config"`
	Active          bool           `json:"is_active"`
	LastTestAt      *time.Time     `json:"last_test_at"`
	LastTestSuccess *bool          `json:"last_test_success"`
}

// DeliveryStatus is the state of one notification attempt.
type DeliveryStatus string

// Delivery statuses persisted on notification logs.
const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// NotificationLog records one delivery attempt for one channel and change.
type NotificationLog struct {
	ID           string         `json:"id"`
	ChannelID    string         `json:"channel_id"`
	ChangeID     string         `json:"change_record_id"`
	Status       DeliveryStatus `json:"status"`
	ErrorMessage *string        `json:"error_message"`
	ResponseCode *int           `json:"response_code"`
	RetryCount   int            `json:"retry_count"`
	SentAt       time.Time      `json:"sent_at"`
}

// FetchResult is the raw outcome of retrieving one document.
type FetchResult struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	Duration   time.Duration
	Attempts   int
}

// QueueItem is a check job waiting for a worker.
type QueueItem struct {
	MonitorID string
	Reason    string
	Attempt   int
	Submitted int64
}

// Job reasons recorded on queue items.
const (
	ReasonScheduled = "scheduled"
	ReasonCreated   = "created"
	ReasonManual    = "manual"
	ReasonRetry     = "retry"
)

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
