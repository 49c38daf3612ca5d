package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitemap-monitor/internal/monitor"
)

var monitorCols = []string{
	"id", "owner_id", "name", "sitemap_url", "check_interval_minutes", "status",
	"last_check_at", "last_error", "error_count", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.EqualError(t, err, "pool is required")
}

func TestPingReportsPoolFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	err = store.Ping(context.Background())
	require.ErrorContains(t, err, "ping postgres")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.EqualError(t, err, "store.dsn is required")
}

func TestCreateMonitorInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	task := monitor.Task{
		ID:                   "m1",
		OwnerID:              "owner",
		Name:                 "Example",
		SitemapURL:           "https://example.com/sitemap.xml",
		CheckIntervalMinutes: 60,
		Status:               monitor.StatusActive,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO monitor_tasks")).
		WithArgs(
			task.ID, task.OwnerID, task.Name, task.SitemapURL, task.CheckIntervalMinutes, "active",
			pgxmock.AnyArg(), pgxmock.AnyArg(), 0, now, now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateMonitor(context.Background(), task))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateMonitorDuplicateIsConflict(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO monitor_tasks")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation, Message: "duplicate key"})

	err := store.CreateMonitor(context.Background(), monitor.Task{ID: "m1", Status: monitor.StatusActive})
	require.ErrorIs(t, err, monitor.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMonitorScansNullableColumns(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Unix(1700000000, 0).UTC()
	checked := created.Add(time.Hour)

	rows := mock.NewRows(monitorCols).
		AddRow("m1", "owner", "Example", "https://example.com/sitemap.xml", 30, "error",
			checked, "http status 500", 3, created, checked)
	mock.ExpectQuery(regexp.QuoteMeta("FROM monitor_tasks WHERE id = $1")).
		WithArgs("m1").
		WillReturnRows(rows)

	task, err := store.GetMonitor(context.Background(), "m1")
	require.NoError(t, err)
	require.Equal(t, monitor.StatusError, task.Status)
	require.Equal(t, 30, task.CheckIntervalMinutes)
	require.NotNil(t, task.LastCheckAt)
	require.True(t, checked.Equal(*task.LastCheckAt))
	require.Equal(t, "http status 500", *task.LastError)
	require.Equal(t, 3, task.ErrorCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMonitorMissingIsNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM monitor_tasks WHERE id = $1")).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetMonitor(context.Background(), "nope")
	require.ErrorIs(t, err, monitor.ErrNotFound)
}

func TestListMonitorsByStatus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Unix(1700000000, 0).UTC()
	rows := mock.NewRows(monitorCols).
		AddRow("m1", "o", "A", "https://a.example/sitemap.xml", 60, "active", nil, nil, 0, created, created).
		AddRow("m2", "o", "B", "https://b.example/sitemap.xml", 15, "active", nil, nil, 1, created, created)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = $1 ORDER BY created_at, id")).
		WithArgs("active").
		WillReturnRows(rows)

	tasks, err := store.ListMonitorsByStatus(context.Background(), monitor.StatusActive)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Nil(t, tasks[0].LastCheckAt)
	require.Nil(t, tasks[0].LastError)
	require.Equal(t, "m2", tasks[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMonitorMissingIsNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE monitor_tasks")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateMonitor(context.Background(), monitor.Task{ID: "gone"})
	require.ErrorIs(t, err, monitor.ErrNotFound)
}

func TestWithTxCommits(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO change_records")).
		WithArgs("c1", "m1", pgxmock.AnyArg(), "s1", "initial", 1, 0, 0,
			[]byte(`{"added":[{"url":"https://example.com/a","lastmod":null,"changefreq":null,"priority":null}],"removed":[],"modified":[]}`),
			pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := store.WithTx(context.Background(), func(tx monitor.Store) error {
		return tx.InsertChange(context.Background(), monitor.ChangeRecord{
			ID:            "c1",
			MonitorID:     "m1",
			NewSnapshotID: "s1",
			Type:          monitor.ChangeInitial,
			AddedCount:    1,
			Changes: monitor.Diff{
				Added:    []monitor.Entry{{URL: "https://example.com/a"}},
				Removed:  []monitor.Entry{},
				Modified: []monitor.Modification{},
			},
		})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := store.WithTx(context.Background(), func(tx monitor.Store) error {
		// Nested transactions reuse the outer one.
		return tx.WithTx(context.Background(), func(monitor.Store) error { return boom })
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateAppliesSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS monitor_tasks")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
