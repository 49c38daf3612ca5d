// Package snapshot creates immutable entry snapshots and compares each new
// snapshot against its predecessor.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-monitor/internal/differ"
	"github.com/JakeFAU/sitemap-monitor/internal/monitor"
)

// Digester computes the content hash over a URL list.
type Digester interface {
	URLSetDigest(urls []string) string
}

// Comparison is the result of CompareWithPrevious.
type Comparison struct {
	// Prior is nil when the monitor had no earlier snapshot.
	Prior *monitor.Snapshot
	// HashEqual is set when the fast path matched and no diff was computed.
	HashEqual bool
	Diff      monitor.Diff
}

// ChangeType classifies the comparison.
func (c Comparison) ChangeType() monitor.ChangeType {
	switch {
	case c.Prior == nil:
		return monitor.ChangeInitial
	case c.HashEqual, !c.Diff.HasChanges():
		return monitor.ChangeNone
	default:
		return monitor.ChangeDetected
	}
}

// Service implements create/latest/compare over a SnapshotStore.
type Service struct {
	store   monitor.SnapshotStore
	digest  Digester
	ids     monitor.IDGenerator
	clock   monitor.Clock
	archive monitor.BlobStore
	prefix  string
	logger  *zap.Logger

	compare func(old, updated []monitor.Entry) monitor.Diff
}

// Option customizes a Service.
type Option func(*Service)

// WithArchive mirrors each snapshot's entries as JSON under prefix.
func WithArchive(blobs monitor.BlobStore, prefix string) Option {
	return func(s *Service) {
		s.archive = blobs
		s.prefix = prefix
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService builds a Service.
func NewService(store monitor.SnapshotStore, digest Digester, ids monitor.IDGenerator, clock monitor.Clock, opts ...Option) *Service {
	s := &Service{
		store:   store,
		digest:  digest,
		ids:     ids,
		clock:   clock,
		logger:  zap.NewNop(),
		compare: differ.Compare,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bind returns a copy of s that reads and writes through store, typically a
// transaction-scoped store.
func (s *Service) Bind(store monitor.SnapshotStore) *Service {
	bound := *s
	bound.store = store
	return &bound
}

// Create hashes the URL set and persists a new snapshot.
func (s *Service) Create(ctx context.Context, monitorID string, entries []monitor.Entry, fetchDur, parseDur time.Duration) (monitor.Snapshot, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return monitor.Snapshot{}, fmt.Errorf("snapshot id: %w", err)
	}
	urls := make([]string, len(entries))
	for i, e := range entries {
		urls[i] = e.URL
	}
	snap := monitor.Snapshot{
		ID:            id,
		MonitorID:     monitorID,
		URLCount:      len(entries),
		URLHash:       s.digest.URLSetDigest(urls),
		Entries:       entries,
		FetchDuration: fetchDur,
		ParseDuration: parseDur,
		CreatedAt:     s.clock.Now(),
	}
	if err := s.store.InsertSnapshot(ctx, snap); err != nil {
		return monitor.Snapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}
	return snap, nil
}

// Latest returns the newest snapshot for monitorID.
func (s *Service) Latest(ctx context.Context, monitorID string) (monitor.Snapshot, error) {
	snap, err := s.store.LatestSnapshot(ctx, monitorID)
	if err != nil {
		return monitor.Snapshot{}, fmt.Errorf("latest snapshot: %w", err)
	}
	return snap, nil
}

// CompareWithPrevious compares current against the newest other snapshot of
// the same monitor. Equal hashes short-circuit without diffing, so changes
// confined to lastmod are reported as unchanged.
func (s *Service) CompareWithPrevious(ctx context.Context, current monitor.Snapshot) (Comparison, error) {
	prior, err := s.store.PreviousSnapshot(ctx, current.MonitorID, current.ID)
	if errors.Is(err, monitor.ErrNotFound) {
		return Comparison{}, nil
	}
	if err != nil {
		return Comparison{}, fmt.Errorf("previous snapshot: %w", err)
	}
	if prior.URLHash == current.URLHash {
		return Comparison{Prior: &prior, HashEqual: true}, nil
	}
	return Comparison{Prior: &prior, Diff: s.compare(prior.Entries, current.Entries)}, nil
}

// Archive writes the snapshot entries to the blob store, if one is configured.
// It returns the object URI, or "" when archiving is disabled.
func (s *Service) Archive(ctx context.Context, snap monitor.Snapshot) (string, error) {
	if s.archive == nil {
		return "", nil
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	key := path.Join(s.prefix, snap.MonitorID, snap.ID+".json")
	uri, err := s.archive.PutObject(ctx, key, "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("archive snapshot: %w", err)
	}
	s.logger.Debug("snapshot archived",
		zap.String("monitor_id", snap.MonitorID),
		zap.String("snapshot_id", snap.ID),
		zap.String("uri", uri),
	)
	return uri, nil
}
