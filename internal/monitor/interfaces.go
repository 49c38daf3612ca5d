package monitor

import (
	"context"
	"io"
	"time"
)

// MonitorStore persists monitor definitions and their health state.
type MonitorStore interface {
	CreateMonitor(ctx context.Context, task Task) error
	GetMonitor(ctx context.Context, id string) (Task, error)
	FindMonitorByURL(ctx context.Context, ownerID, sitemapURL string) (Task, error)
	ListMonitorsByStatus(ctx context.Context, status Status) ([]Task, error)
	UpdateMonitor(ctx context.Context, task Task) error
}

// SnapshotStore is append-only: snapshots are inserted and read, never updated.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, snap Snapshot) error
	LatestSnapshot(ctx context.Context, monitorID string) (Snapshot, error)
	// PreviousSnapshot returns the newest snapshot for monitorID whose ID is not excludeID.
	PreviousSnapshot(ctx context.Context, monitorID, excludeID string) (Snapshot, error)
}

// ChangeStore is append-only.
type ChangeStore interface {
	InsertChange(ctx context.Context, record ChangeRecord) error
}

// ChannelStore reads collaborator-owned channel configuration at dispatch time.
type ChannelStore interface {
	ActiveChannelsForMonitor(ctx context.Context, monitorID string) ([]Channel, error)
	GetChannel(ctx context.Context, id string) (Channel, error)
	RecordChannelTest(ctx context.Context, channelID string, at time.Time, success bool) error
}

// NotificationLogStore is append-only.
type NotificationLogStore interface {
	InsertNotificationLog(ctx context.Context, entry NotificationLog) error
}

// Store is the full persistence surface used by the core.
type Store interface {
	MonitorStore
	SnapshotStore
	ChangeStore
	ChannelStore
	NotificationLogStore
	// WithTx runs fn against a store bound to one transaction. The transaction
	// commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(Store) error) error
	Close() error
}

// Fetcher retrieves one document, applying its own per-request retry policy.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// Queue provides enqueue/dequeue semantics for check jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Enqueuer submits check jobs for execution.
type Enqueuer interface {
	Enqueue(ctx context.Context, item QueueItem) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Publisher pushes change events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes archived artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}
