package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/sitemap-monitor/internal/monitor"
)

const monitorColumns = `id, owner_id, name, sitemap_url, check_interval_minutes, status,
	last_check_at, last_error, error_count, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

// CreateMonitor inserts a new monitor task.
func (s *Store) CreateMonitor(ctx context.Context, task monitor.Task) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO monitor_tasks (`+monitorColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.OwnerID,
		task.Name,
		task.SitemapURL,
		task.CheckIntervalMinutes,
		string(task.Status),
		formatTimePtr(task.LastCheckAt),
		nullString(task.LastError),
		task.ErrorCount,
		formatTime(task.CreatedAt),
		formatTime(task.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return monitor.ErrConflict
		}
		return fmt.Errorf("insert monitor: %w", err)
	}
	return nil
}

// GetMonitor loads a monitor by ID.
func (s *Store) GetMonitor(ctx context.Context, id string) (monitor.Task, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+monitorColumns+` FROM monitor_tasks WHERE id = ?`, id)
	task, err := scanMonitor(row)
	if err != nil {
		return monitor.Task{}, notFound(err, "get monitor")
	}
	return task, nil
}

// FindMonitorByURL loads the owner's monitor for sitemapURL.
func (s *Store) FindMonitorByURL(ctx context.Context, ownerID, sitemapURL string) (monitor.Task, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+monitorColumns+` FROM monitor_tasks WHERE owner_id = ? AND sitemap_url = ?`, ownerID, sitemapURL)
	task, err := scanMonitor(row)
	if err != nil {
		return monitor.Task{}, notFound(err, "find monitor")
	}
	return task, nil
}

// ListMonitorsByStatus returns monitors in status, oldest first.
func (s *Store) ListMonitorsByStatus(ctx context.Context, status monitor.Status) ([]monitor.Task, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+monitorColumns+` FROM monitor_tasks WHERE status = ? ORDER BY created_at, id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list monitors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []monitor.Task
	for rows.Next() {
		task, err := scanMonitor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan monitor row: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate monitors: %w", err)
	}
	return tasks, nil
}

// UpdateMonitor overwrites the mutable fields of an existing monitor.
func (s *Store) UpdateMonitor(ctx context.Context, task monitor.Task) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE monitor_tasks
		SET name = ?, sitemap_url = ?, check_interval_minutes = ?, status = ?,
			last_check_at = ?, last_error = ?, error_count = ?, updated_at = ?
		WHERE id = ?`,
		task.Name,
		task.SitemapURL,
		task.CheckIntervalMinutes,
		string(task.Status),
		formatTimePtr(task.LastCheckAt),
		nullString(task.LastError),
		task.ErrorCount,
		formatTime(task.UpdatedAt),
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("update monitor: %w", err)
	}
	return requireRow(res)
}

// InsertSnapshot appends a snapshot with its entries stored as JSON text.
func (s *Store) InsertSnapshot(ctx context.Context, snap monitor.Snapshot) error {
	entries := snap.Entries
	if entries == nil {
		entries = []monitor.Entry{}
	}
	urls, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal snapshot entries: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO sitemap_snapshots
			(id, monitor_task_id, url_count, url_hash, urls, fetch_duration_ms, parse_duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID,
		snap.MonitorID,
		snap.URLCount,
		snap.URLHash,
		string(urls),
		snap.FetchDuration.Milliseconds(),
		snap.ParseDuration.Milliseconds(),
		formatTime(snap.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

const snapshotSelect = `
	SELECT id, monitor_task_id, url_count, url_hash, urls, fetch_duration_ms, parse_duration_ms, created_at
	FROM sitemap_snapshots`

// LatestSnapshot returns the monitor's newest snapshot.
func (s *Store) LatestSnapshot(ctx context.Context, monitorID string) (monitor.Snapshot, error) {
	row := s.q.QueryRowContext(ctx,
		snapshotSelect+` WHERE monitor_task_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, monitorID)
	snap, err := scanSnapshot(row)
	if err != nil {
		return monitor.Snapshot{}, notFound(err, "latest snapshot")
	}
	return snap, nil
}

// PreviousSnapshot returns the newest snapshot other than excludeID.
func (s *Store) PreviousSnapshot(ctx context.Context, monitorID, excludeID string) (monitor.Snapshot, error) {
	row := s.q.QueryRowContext(ctx,
		snapshotSelect+` WHERE monitor_task_id = ? AND id <> ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		monitorID, excludeID)
	snap, err := scanSnapshot(row)
	if err != nil {
		return monitor.Snapshot{}, notFound(err, "previous snapshot")
	}
	return snap, nil
}

// InsertChange appends a change record.
func (s *Store) InsertChange(ctx context.Context, record monitor.ChangeRecord) error {
	changes, err := json.Marshal(record.Changes)
	if err != nil {
		return fmt.Errorf("marshal change diff: %w", err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO change_records (
			id, monitor_task_id, old_snapshot_id, new_snapshot_id, change_type,
			added_count, removed_count, modified_count, changes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.MonitorID,
		nullString(record.OldSnapshotID),
		record.NewSnapshotID,
		string(record.Type),
		record.AddedCount,
		record.RemovedCount,
		record.ModifiedCount,
		string(changes),
		formatTime(record.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert change record: %w", err)
	}
	return nil
}

const channelSelect = `
	SELECT c.id, c.owner_id, c.name, c.channel_type, c.config, c.is_active, c.last_test_at, c.last_test_success
	FROM notification_channels c`

// ActiveChannelsForMonitor returns the active channels linked to monitorID.
func (s *Store) ActiveChannelsForMonitor(ctx context.Context, monitorID string) ([]monitor.Channel, error) {
	rows, err := s.q.QueryContext(ctx, channelSelect+`
		JOIN monitor_task_channels mc ON mc.channel_id = c.id
		WHERE mc.monitor_task_id = ? AND c.is_active = 1
		ORDER BY c.id`, monitorID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var channels []monitor.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel row: %w", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return channels, nil
}

// GetChannel loads a channel by ID regardless of its active flag.
func (s *Store) GetChannel(ctx context.Context, id string) (monitor.Channel, error) {
	ch, err := scanChannel(s.q.QueryRowContext(ctx, channelSelect+` WHERE c.id = ?`, id))
	if err != nil {
		return monitor.Channel{}, notFound(err, "get channel")
	}
	return ch, nil
}

// RecordChannelTest stamps the outcome of a test delivery onto the channel.
func (s *Store) RecordChannelTest(ctx context.Context, channelID string, at time.Time, success bool) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE notification_channels SET last_test_at = ?, last_test_success = ? WHERE id = ?`,
		formatTime(at), success, channelID)
	if err != nil {
		return fmt.Errorf("record channel test: %w", err)
	}
	return requireRow(res)
}

// InsertNotificationLog appends one delivery attempt.
func (s *Store) InsertNotificationLog(ctx context.Context, entry monitor.NotificationLog) error {
	var code sql.NullInt64
	if entry.ResponseCode != nil {
		code = sql.NullInt64{Int64: int64(*entry.ResponseCode), Valid: true}
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO notification_logs (
			id, channel_id, change_record_id, status, error_message, response_code, retry_count, sent_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.ChannelID,
		entry.ChangeID,
		string(entry.Status),
		nullString(entry.ErrorMessage),
		code,
		entry.RetryCount,
		formatTime(entry.SentAt),
	)
	if err != nil {
		return fmt.Errorf("insert notification log: %w", err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return monitor.ErrNotFound
	}
	return nil
}

func scanMonitor(row scanner) (monitor.Task, error) {
	var (
		task        monitor.Task
		status      string
		lastCheckAt sql.NullString
		lastError   sql.NullString
		createdAt   string
		updatedAt   string
	)
	err := row.Scan(
		&task.ID,
		&task.OwnerID,
		&task.Name,
		&task.SitemapURL,
		&task.CheckIntervalMinutes,
		&status,
		&lastCheckAt,
		&lastError,
		&task.ErrorCount,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return monitor.Task{}, err
	}
	task.Status = monitor.Status(status)
	if lastError.Valid {
		msg := lastError.String
		task.LastError = &msg
	}
	if task.LastCheckAt, err = parseTimePtr(lastCheckAt); err != nil {
		return monitor.Task{}, err
	}
	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return monitor.Task{}, err
	}
	if task.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return monitor.Task{}, err
	}
	return task, nil
}

func scanSnapshot(row scanner) (monitor.Snapshot, error) {
	var (
		snap      monitor.Snapshot
		urls      string
		fetchMS   int64
		parseMS   int64
		createdAt string
	)
	if err := row.Scan(&snap.ID, &snap.MonitorID, &snap.URLCount, &snap.URLHash, &urls, &fetchMS, &parseMS, &createdAt); err != nil {
		return monitor.Snapshot{}, err
	}
	if err := json.Unmarshal([]byte(urls), &snap.Entries); err != nil {
		return monitor.Snapshot{}, fmt.Errorf("decode snapshot entries: %w", err)
	}
	snap.FetchDuration = time.Duration(fetchMS) * time.Millisecond
	snap.ParseDuration = time.Duration(parseMS) * time.Millisecond
	var err error
	if snap.CreatedAt, err = parseTime(createdAt); err != nil {
		return monitor.Snapshot{}, err
	}
	return snap, nil
}

func scanChannel(row scanner) (monitor.Channel, error) {
	var (
		ch          monitor.Channel
		channelType string
		config      string
		lastTestAt  sql.NullString
		lastSuccess sql.NullBool
	)
	if err := row.Scan(&ch.ID, &ch.OwnerID, &ch.Name, &channelType, &config, &ch.Active, &lastTestAt, &lastSuccess); err != nil {
		return monitor.Channel{}, err
	}
	ch.Type = monitor.ChannelType(channelType)
	if config != "" {
		if err := json.Unmarshal([]byte(config), &ch.Config); err != nil {
			return monitor.Channel{}, fmt.Errorf("decode channel config: %w", err)
		}
	}
	var err error
	if ch.LastTestAt, err = parseTimePtr(lastTestAt); err != nil {
		return monitor.Channel{}, err
	}
	if lastSuccess.Valid {
		ok := lastSuccess.Bool
		ch.LastTestSuccess = &ok
	}
	return ch, nil
}
