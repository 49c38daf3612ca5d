package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemap-monitor/internal/monitor"
)

func task(id, owner, url string, created time.Time) monitor.Task {
	return monitor.Task{ID: id, OwnerID: owner, SitemapURL: url, Status: monitor.StatusActive, CreatedAt: created}
}

func TestStoreMonitorLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.CreateMonitor(ctx, task("m2", "o1", "https://b.example/sitemap.xml", now.Add(time.Minute))))
	require.NoError(t, store.CreateMonitor(ctx, task("m1", "o1", "https://a.example/sitemap.xml", now)))
	require.ErrorIs(t, store.CreateMonitor(ctx, task("m3", "o1", "https://a.example/sitemap.xml", now)), monitor.ErrConflict)
	require.NoError(t, store.CreateMonitor(ctx, task("m4", "o2", "https://a.example/sitemap.xml", now)))

	found, err := store.FindMonitorByURL(ctx, "o1", "https://a.example/sitemap.xml")
	require.NoError(t, err)
	require.Equal(t, "m1", found.ID)

	_, err = store.GetMonitor(ctx, "missing")
	require.ErrorIs(t, err, monitor.ErrNotFound)

	paused := found
	paused.Status = monitor.StatusPaused
	require.NoError(t, store.UpdateMonitor(ctx, paused))
	require.ErrorIs(t, store.UpdateMonitor(ctx, task("nope", "", "", now)), monitor.ErrNotFound)

	active, err := store.ListMonitorsByStatus(ctx, monitor.StatusActive)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, "m4", active[0].ID)
	require.Equal(t, "m2", active[1].ID)
}

func TestStoreSnapshotHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()

	_, err := store.LatestSnapshot(ctx, "m1")
	require.ErrorIs(t, err, monitor.ErrNotFound)

	require.NoError(t, store.InsertSnapshot(ctx, monitor.Snapshot{ID: "s1", MonitorID: "m1"}))
	require.NoError(t, store.InsertSnapshot(ctx, monitor.Snapshot{ID: "s2", MonitorID: "m1"}))

	latest, err := store.LatestSnapshot(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, "s2", latest.ID)

	prev, err := store.PreviousSnapshot(ctx, "m1", "s2")
	require.NoError(t, err)
	require.Equal(t, "s1", prev.ID)

	_, err = store.PreviousSnapshot(ctx, "m2", "s2")
	require.ErrorIs(t, err, monitor.ErrNotFound)
}

func TestStoreChannels(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()
	store.SaveChannel(monitor.Channel{ID: "c1", Type: monitor.ChannelEmail, Active: true})
	store.SaveChannel(monitor.Channel{ID: "c2", Type: monitor.ChannelWebhook, Active: false})
	store.SaveChannel(monitor.Channel{ID: "c3", Type: monitor.ChannelWebhook, Active: true})
	store.BindChannel("m1", "c1")
	store.BindChannel("m1", "c2")
	store.BindChannel("m1", "c1")
	store.BindChannel("m2", "c3")

	channels, err := store.ActiveChannelsForMonitor(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, channels, 1)
	require.Equal(t, "c1", channels[0].ID)

	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordChannelTest(ctx, "c2", at, false))
	ch, err := store.GetChannel(ctx, "c2")
	require.NoError(t, err)
	require.Equal(t, at, *ch.LastTestAt)
	require.False(t, *ch.LastTestSuccess)
	require.ErrorIs(t, store.RecordChannelTest(ctx, "missing", at, true), monitor.ErrNotFound)
}

func TestStoreWithTxRollsBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.CreateMonitor(ctx, task("m1", "o1", "https://a.example/sitemap.xml", time.Now())))

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx monitor.Store) error {
		require.NoError(t, tx.InsertSnapshot(ctx, monitor.Snapshot{ID: "s1", MonitorID: "m1"}))
		require.NoError(t, tx.InsertChange(ctx, monitor.ChangeRecord{ID: "c1", MonitorID: "m1"}))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Empty(t, store.Snapshots("m1"))
	require.Empty(t, store.Changes("m1"))

	err = store.WithTx(ctx, func(tx monitor.Store) error {
		return tx.InsertSnapshot(ctx, monitor.Snapshot{ID: "s2", MonitorID: "m1"})
	})
	require.NoError(t, err)
	require.Len(t, store.Snapshots("m1"), 1)
}

func TestStoreWithTxKeepsConcurrentWrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.CreateMonitor(ctx, task("a", "o1", "https://a.example/sitemap.xml", time.Now())))
	require.NoError(t, store.CreateMonitor(ctx, task("b", "o1", "https://b.example/sitemap.xml", time.Now())))

	outside := func() {
		paused, err := store.GetMonitor(ctx, "a")
		require.NoError(t, err)
		paused.Status = monitor.StatusPaused
		require.NoError(t, store.UpdateMonitor(ctx, paused))
		require.NoError(t, store.InsertNotificationLog(ctx, monitor.NotificationLog{ID: "l1"}))
	}

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx monitor.Store) error {
		require.NoError(t, tx.InsertSnapshot(ctx, monitor.Snapshot{ID: "s1", MonitorID: "b"}))
		outside()
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.GetMonitor(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, monitor.StatusPaused, got.Status)
	require.Len(t, store.NotificationLogs(), 1)
	require.Empty(t, store.Snapshots("b"))

	err = store.WithTx(ctx, func(tx monitor.Store) error {
		require.NoError(t, tx.InsertSnapshot(ctx, monitor.Snapshot{ID: "s2", MonitorID: "b"}))
		latest, err := tx.LatestSnapshot(ctx, "b")
		require.NoError(t, err)
		require.Equal(t, "s2", latest.ID)
		_, err = store.LatestSnapshot(ctx, "b")
		require.ErrorIs(t, err, monitor.ErrNotFound, "uncommitted writes stay private")
		require.NoError(t, store.InsertNotificationLog(ctx, monitor.NotificationLog{ID: "l2"}))
		return nil
	})
	require.NoError(t, err)
	require.Len(t, store.Snapshots("b"), 1)
	require.Len(t, store.NotificationLogs(), 2)
	got, err = store.GetMonitor(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, monitor.StatusPaused, got.Status)
}
