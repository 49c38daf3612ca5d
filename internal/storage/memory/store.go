// Package memory provides in-process storage for development and tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/sitemap-monitor/internal/monitor"
)

type state struct {
	monitors  map[string]monitor.Task
	snapshots map[string][]monitor.Snapshot
	changes   []monitor.ChangeRecord
	channels  map[string]monitor.Channel
	bindings  map[string][]string
	logs      []monitor.NotificationLog
}

func (s *state) clone() *state {
	out := &state{
		monitors:  maps.Clone(s.monitors),
		snapshots: make(map[string][]monitor.Snapshot, len(s.snapshots)),
		changes:   slices.Clone(s.changes),
		channels:  maps.Clone(s.channels),
		bindings:  make(map[string][]string, len(s.bindings)),
		logs:      slices.Clone(s.logs),
	}
	for k, v := range s.snapshots {
		out.snapshots[k] = slices.Clone(v)
	}
	for k, v := range s.bindings {
		out.bindings[k] = slices.Clone(v)
	}
	return out
}

// Store implements monitor.Store in memory. A transaction works on a private
// copy of the state and journals its writes; commit replays the journal onto
// the live state, so concurrent writes outside the transaction survive.
type Store struct {
	mu      *sync.RWMutex
	st      *state
	journal *[]func(*state) error
}

var _ monitor.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{mu: &sync.RWMutex{}, st: &state{
		monitors:  make(map[string]monitor.Task),
		snapshots: make(map[string][]monitor.Snapshot),
		channels:  make(map[string]monitor.Channel),
		bindings:  make(map[string][]string),
	}}
}

// write applies op under the write lock and journals it inside a transaction.
func (s *Store) write(op func(*state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := op(s.st); err != nil {
		return err
	}
	if s.journal != nil {
		*s.journal = append(*s.journal, op)
	}
	return nil
}

// CreateMonitor inserts a monitor. An owner may not monitor the same URL twice.
func (s *Store) CreateMonitor(_ context.Context, task monitor.Task) error {
	return s.write(func(st *state) error {
		if _, exists := st.monitors[task.ID]; exists {
			return fmt.Errorf("monitor %s already exists", task.ID)
		}
		for _, m := range st.monitors {
			if m.OwnerID == task.OwnerID && m.SitemapURL == task.SitemapURL {
				return monitor.ErrConflict
			}
		}
		st.monitors[task.ID] = task
		return nil
	})
}

// GetMonitor fetches a monitor by ID.
func (s *Store) GetMonitor(_ context.Context, id string) (monitor.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.st.monitors[id]
	if !ok {
		return monitor.Task{}, monitor.ErrNotFound
	}
	return task, nil
}

// FindMonitorByURL returns the owner's monitor for sitemapURL.
func (s *Store) FindMonitorByURL(_ context.Context, ownerID, sitemapURL string) (monitor.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.st.monitors {
		if m.OwnerID == ownerID && m.SitemapURL == sitemapURL {
			return m, nil
		}
	}
	return monitor.Task{}, monitor.ErrNotFound
}

// ListMonitorsByStatus returns monitors with status, oldest first.
func (s *Store) ListMonitorsByStatus(_ context.Context, status monitor.Status) ([]monitor.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []monitor.Task
	for _, m := range s.st.monitors {
		if m.Status == status {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b monitor.Task) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// UpdateMonitor replaces a stored monitor.
func (s *Store) UpdateMonitor(_ context.Context, task monitor.Task) error {
	return s.write(func(st *state) error {
		if _, ok := st.monitors[task.ID]; !ok {
			return monitor.ErrNotFound
		}
		st.monitors[task.ID] = task
		return nil
	})
}

// InsertSnapshot appends a snapshot to the monitor's history.
func (s *Store) InsertSnapshot(_ context.Context, snap monitor.Snapshot) error {
	return s.write(func(st *state) error {
		st.snapshots[snap.MonitorID] = append(st.snapshots[snap.MonitorID], snap)
		return nil
	})
}

// LatestSnapshot returns the most recently inserted snapshot.
func (s *Store) LatestSnapshot(_ context.Context, monitorID string) (monitor.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.st.snapshots[monitorID]
	if len(history) == 0 {
		return monitor.Snapshot{}, monitor.ErrNotFound
	}
	return history[len(history)-1], nil
}

// PreviousSnapshot returns the newest snapshot other than excludeID.
func (s *Store) PreviousSnapshot(_ context.Context, monitorID, excludeID string) (monitor.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.st.snapshots[monitorID]
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].ID != excludeID {
			return history[i], nil
		}
	}
	return monitor.Snapshot{}, monitor.ErrNotFound
}

// InsertChange appends a change record.
func (s *Store) InsertChange(_ context.Context, record monitor.ChangeRecord) error {
	return s.write(func(st *state) error {
		st.changes = append(st.changes, record)
		return nil
	})
}

// ActiveChannelsForMonitor returns active channels bound to the monitor, in binding order.
func (s *Store) ActiveChannelsForMonitor(_ context.Context, monitorID string) ([]monitor.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []monitor.Channel
	for _, id := range s.st.bindings[monitorID] {
		if ch, ok := s.st.channels[id]; ok && ch.Active {
			out = append(out, ch)
		}
	}
	return out, nil
}

// GetChannel fetches a channel by ID.
func (s *Store) GetChannel(_ context.Context, id string) (monitor.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.st.channels[id]
	if !ok {
		return monitor.Channel{}, monitor.ErrNotFound
	}
	return ch, nil
}

// RecordChannelTest stamps the outcome of a channel test.
func (s *Store) RecordChannelTest(_ context.Context, channelID string, at time.Time, success bool) error {
	return s.write(func(st *state) error {
		ch, ok := st.channels[channelID]
		if !ok {
			return monitor.ErrNotFound
		}
		ch.LastTestAt = &at
		ch.LastTestSuccess = &success
		st.channels[channelID] = ch
		return nil
	})
}

// InsertNotificationLog appends a delivery log.
func (s *Store) InsertNotificationLog(_ context.Context, entry monitor.NotificationLog) error {
	return s.write(func(st *state) error {
		st.logs = append(st.logs, entry)
		return nil
	})
}

// WithTx runs fn against a transaction-bound view. The view reads its own
// writes; nothing reaches s unless fn returns nil. Nested calls reuse the
// open transaction.
func (s *Store) WithTx(_ context.Context, fn func(monitor.Store) error) error {
	if s.journal != nil {
		return fn(s)
	}

	s.mu.RLock()
	view := s.st.clone()
	s.mu.RUnlock()

	var journal []func(*state) error
	tx := &Store{mu: &sync.RWMutex{}, st: view, journal: &journal}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.st.clone()
	for _, op := range journal {
		if err := op(next); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
	}
	s.st = next
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// SaveChannel inserts or replaces a channel. Channels are owned by collaborators;
// this exists for development wiring and tests.
func (s *Store) SaveChannel(ch monitor.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.channels[ch.ID] = ch
}

// BindChannel associates a channel with a monitor.
func (s *Store) BindChannel(monitorID, channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.st.bindings[monitorID], channelID) {
		s.st.bindings[monitorID] = append(s.st.bindings[monitorID], channelID)
	}
}

// Snapshots returns a monitor's snapshot history, oldest first.
func (s *Store) Snapshots(monitorID string) []monitor.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.st.snapshots[monitorID])
}

// Changes returns a monitor's change records, oldest first.
func (s *Store) Changes(monitorID string) []monitor.ChangeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []monitor.ChangeRecord
	for _, c := range s.st.changes {
		if c.MonitorID == monitorID {
			out = append(out, c)
		}
	}
	return out
}

// NotificationLogs returns every delivery log, oldest first.
func (s *Store) NotificationLogs() []monitor.NotificationLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.st.logs)
}
