package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-monitor/internal/checker"
	"github.com/JakeFAU/sitemap-monitor/internal/hash/sha256"
	"github.com/JakeFAU/sitemap-monitor/internal/monitor"
	publishermemory "github.com/JakeFAU/sitemap-monitor/internal/publisher/memory"
	"github.com/JakeFAU/sitemap-monitor/internal/snapshot"
	"github.com/JakeFAU/sitemap-monitor/internal/storage/memory"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%03d", s.n), nil
}

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type scriptedChecker struct {
	results []checker.Result
	errs    []error
	calls   int
	// onCall runs before the call returns, e.g. to expire the job budget.
	onCall func(call int)
}

func (s *scriptedChecker) Check(context.Context, string) (checker.Result, error) {
	i := s.calls
	s.calls++
	if s.onCall != nil {
		s.onCall(i)
	}
	var res checker.Result
	if i < len(s.results) {
		res = s.results[i]
	}
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return res, err
}

type recordingNotifier struct {
	records []monitor.ChangeRecord
	ctxErrs []error
}

func (r *recordingNotifier) Notify(ctx context.Context, _ monitor.Task, record monitor.ChangeRecord) ([]monitor.NotificationLog, error) {
	r.records = append(r.records, record)
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	return nil, nil
}

func result(urls ...string) checker.Result {
	entries := make([]monitor.Entry, len(urls))
	for i, u := range urls {
		entries[i] = monitor.Entry{URL: u, LastMod: monitor.StringPtr("2025-01-01")}
	}
	return checker.Result{Entries: entries, URLCount: len(entries), FetchDuration: 50 * time.Millisecond}
}

type fixture struct {
	store     *memory.Store
	checker   *scriptedChecker
	notifier  *recordingNotifier
	publisher *publishermemory.Publisher
	pipeline  *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.CreateMonitor(context.Background(), monitor.Task{
		ID:                   "m1",
		OwnerID:              "o1",
		Name:                 "Docs",
		SitemapURL:           "https://example.com/sitemap.xml",
		CheckIntervalMinutes: 60,
		Status:               monitor.StatusActive,
	}))
	ids := &seqIDs{}
	clock := &stepClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	f := &fixture{
		store:     store,
		checker:   &scriptedChecker{},
		notifier:  &recordingNotifier{},
		publisher: publishermemory.New(),
	}
	f.pipeline = New(Deps{
		Store:     store,
		Checker:   f.checker,
		Snapshots: snapshot.NewService(store, sha256.New(), ids, clock),
		Notifier:  f.notifier,
		Publisher: f.publisher,
		Topic:     "sitemap-changes",
		IDs:       ids,
		Clock:     clock,
		Logger:    zap.NewNop(),
	})
	return f
}

func (f *fixture) monitor(t *testing.T) monitor.Task {
	t.Helper()
	task, err := f.store.GetMonitor(context.Background(), "m1")
	require.NoError(t, err)
	return task
}

func TestRun_InitialThenUnchangedThenChanged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.checker.results = []checker.Result{
		result("u1", "u2", "u3"),
		result("u3", "u2", "u1"),
		result("u2", "u3", "u4"),
	}

	first, err := f.pipeline.Run(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, StateRecorded, first.State)
	require.Equal(t, monitor.ChangeInitial, first.Change.Type)
	require.Nil(t, first.Change.OldSnapshotID)
	require.Zero(t, first.Change.AddedCount)
	require.Zero(t, first.Change.RemovedCount)
	require.Zero(t, first.Change.ModifiedCount)
	require.Empty(t, f.notifier.records)

	second, err := f.pipeline.Run(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, monitor.ChangeNone, second.Change.Type)
	require.Equal(t, first.Snapshot.ID, *second.Change.OldSnapshotID)
	require.Zero(t, second.Change.AddedCount+second.Change.RemovedCount+second.Change.ModifiedCount)
	require.Empty(t, f.notifier.records)

	third, err := f.pipeline.Run(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, monitor.ChangeDetected, third.Change.Type)
	require.Equal(t, 1, third.Change.AddedCount)
	require.Equal(t, 1, third.Change.RemovedCount)
	require.Equal(t, "u4", third.Change.Changes.Added[0].URL)
	require.Equal(t, "u1", third.Change.Changes.Removed[0].URL)
	require.Len(t, f.notifier.records, 1)
	require.Equal(t, third.Change.ID, f.notifier.records[0].ID)

	require.Len(t, f.store.Snapshots("m1"), 3)
	require.Len(t, f.store.Changes("m1"), 3)

	events := f.publisher.Messages()
	require.Len(t, events, 2)
	require.Equal(t, "sitemap-changes", events[0].Topic)
	require.Equal(t, monitor.ChangeInitial, events[0].Payload.(ChangeEvent).ChangeType)
	require.Equal(t, monitor.ChangeDetected, events[1].Payload.(ChangeEvent).ChangeType)

	task := f.monitor(t)
	require.NotNil(t, task.LastCheckAt)
	require.Zero(t, task.ErrorCount)
}

func TestRun_SwapsToDisjointSet(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.checker.results = []checker.Result{result("a", "b"), result("b", "c")}

	_, err := f.pipeline.Run(context.Background(), "m1")
	require.NoError(t, err)
	out, err := f.pipeline.Run(context.Background(), "m1")
	require.NoError(t, err)

	require.Equal(t, monitor.ChangeDetected, out.Change.Type)
	require.True(t, out.Change.Changes.HasChanges())
	require.Len(t, out.Change.Changes.Added, 1)
	require.Equal(t, "c", out.Change.Changes.Added[0].URL)
	require.Len(t, out.Change.Changes.Removed, 1)
	require.Equal(t, "a", out.Change.Changes.Removed[0].URL)
	require.Empty(t, out.Change.Changes.Modified)
	require.Len(t, f.notifier.records, 1)
}

func TestRun_LastModOnlyChangeIsNoChange(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	updated := result("a", "b")
	updated.Entries[0].LastMod = monitor.StringPtr("2025-09-09")
	f.checker.results = []checker.Result{result("a", "b"), updated}

	_, err := f.pipeline.Run(context.Background(), "m1")
	require.NoError(t, err)
	out, err := f.pipeline.Run(context.Background(), "m1")
	require.NoError(t, err)
	require.Equal(t, monitor.ChangeNone, out.Change.Type)
	require.Empty(t, f.notifier.records)
}

func TestRun_ThreeFailuresMoveToError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	timeout := monitor.Errorf(monitor.KindNetwork, "request timed out")
	f.checker.errs = []error{timeout, timeout, timeout}

	for i := 1; i <= 3; i++ {
		out, err := f.pipeline.Run(context.Background(), "m1")
		require.NoError(t, err)
		require.Equal(t, StateFailed, out.State)
		require.Equal(t, StateFetchFailed, out.FailedIn)
		task := f.monitor(t)
		require.Equal(t, i, task.ErrorCount)
		require.Equal(t, "request timed out", *task.LastError)
	}
	require.Equal(t, monitor.StatusError, f.monitor(t).Status)
	require.Empty(t, f.store.Snapshots("m1"))

	out, err := f.pipeline.Run(context.Background(), "m1")
	require.NoError(t, err)
	require.Equal(t, StateSkipped, out.State)
	require.Equal(t, 3, f.checker.calls)
}

func TestRun_SuccessResetsFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	fail := monitor.Errorf(monitor.KindDecode, "malformed xml")
	f.checker.errs = []error{fail, fail, nil, fail}
	f.checker.results = []checker.Result{{}, {}, result("a")}

	for i := 0; i < 4; i++ {
		_, err := f.pipeline.Run(context.Background(), "m1")
		require.NoError(t, err)
	}
	task := f.monitor(t)
	require.Equal(t, monitor.StatusActive, task.Status)
	require.Equal(t, 1, task.ErrorCount)
}

func TestRun_ParseFailureState(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.checker.errs = []error{monitor.Errorf(monitor.KindDecode, "malformed xml")}
	out, err := f.pipeline.Run(context.Background(), "m1")
	require.NoError(t, err)
	require.Equal(t, StateParseFailed, out.FailedIn)
}

func TestRun_FailureRecordedAfterDeadline(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	soft, cancelSoft := context.WithCancel(context.Background())
	defer cancelSoft()
	f.pipeline.Checker = checkerFunc(func(context.Context, string) (checker.Result, error) {
		cancelSoft()
		return checker.Result{}, monitor.Wrap(monitor.KindNetwork, "check canceled", soft.Err())
	})

	out, err := f.pipeline.Run(soft, "m1")
	require.NoError(t, err)
	require.Equal(t, StateFailed, out.State)
	require.ErrorIs(t, out.Err, context.Canceled)
	task := f.monitor(t)
	require.Equal(t, 1, task.ErrorCount)
	require.Equal(t, "check canceled: context canceled", *task.LastError)
}

type checkerFunc func(ctx context.Context, url string) (checker.Result, error)

func (f checkerFunc) Check(ctx context.Context, url string) (checker.Result, error) {
	return f(ctx, url)
}

type failingStore struct {
	*memory.Store
}

func (s failingStore) InsertChange(context.Context, monitor.ChangeRecord) error {
	return errors.New("disk full")
}

func (s failingStore) WithTx(ctx context.Context, fn func(monitor.Store) error) error {
	return s.Store.WithTx(ctx, func(monitor.Store) error { return fn(s) })
}

func TestRun_StoreErrorPropagatesAndRollsBack(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.checker.results = []checker.Result{result("a")}
	f.pipeline.Store = failingStore{Store: f.store}

	out, err := f.pipeline.Run(context.Background(), "m1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk full")
	require.Equal(t, StateFailed, out.State)
	require.Equal(t, StateComparing, out.FailedIn)
	require.Empty(t, f.store.Snapshots("m1"))
	require.Nil(t, f.monitor(t).LastCheckAt)
}

func TestRun_PausedMonitorIsSkipped(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	task := f.monitor(t)
	task.Pause(time.Now())
	require.NoError(t, f.store.UpdateMonitor(context.Background(), task))

	out, err := f.pipeline.Run(context.Background(), "m1")
	require.NoError(t, err)
	require.Equal(t, StateSkipped, out.State)
	require.Zero(t, f.checker.calls)
}

func TestRun_UnknownMonitor(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.pipeline.Run(context.Background(), "nope")
	require.ErrorIs(t, err, monitor.ErrNotFound)
}

func TestRun_NotifiesAfterBudgetExpiresPostCommit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.checker.results = []checker.Result{
		result("https://example.com/a"),
		result("https://example.com/a", "https://example.com/b"),
	}
	f.checker.onCall = func(call int) {
		if call == 1 {
			cancel()
		}
	}

	_, err := f.pipeline.Run(ctx, "m1")
	require.NoError(t, err)
	out, err := f.pipeline.Run(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, StateRecorded, out.State)
	require.Equal(t, monitor.ChangeDetected, out.Change.Type)

	require.Len(t, f.notifier.records, 1)
	require.NoError(t, f.notifier.ctxErrs[0], "delivery runs on a live context")
	require.Len(t, f.publisher.Messages(), 2)
}
