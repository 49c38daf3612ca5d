package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JakeFAU/sitemap-monitor/internal/monitor"
)

const monitorColumns = `id, owner_id, name, sitemap_url, check_interval_minutes, status,
	last_check_at, last_error, error_count, created_at, updated_at`

// CreateMonitor inserts a new monitor task.
func (s *Store) CreateMonitor(ctx context.Context, task monitor.Task) error {
	query := `
		INSERT INTO monitor_tasks (` + monitorColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
	`
	_, err := s.q.Exec(ctx, query,
		task.ID,
		task.OwnerID,
		task.Name,
		task.SitemapURL,
		task.CheckIntervalMinutes,
		string(task.Status),
		task.LastCheckAt,
		task.LastError,
		task.ErrorCount,
		task.CreatedAt,
		task.UpdatedAt,
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
	query := `SELECT ` + monitorColumns + ` FROM monitor_tasks WHERE id = $1;`
	task, err := scanMonitor(s.q.QueryRow(ctx, query, id))
	if err != nil {
		return monitor.Task{}, notFound(err, "get monitor")
	}
	return task, nil
}

// FindMonitorByURL loads the owner's monitor for sitemapURL.
func (s *Store) FindMonitorByURL(ctx context.Context, ownerID, sitemapURL string) (monitor.Task, error) {
	query := `SELECT ` + monitorColumns + ` FROM monitor_tasks WHERE owner_id = $1 AND sitemap_url = $2;`
	task, err := scanMonitor(s.q.QueryRow(ctx, query, ownerID, sitemapURL))
	if err != nil {
		return monitor.Task{}, notFound(err, "find monitor")
	}
	return task, nil
}

// ListMonitorsByStatus returns monitors in status, oldest first.
func (s *Store) ListMonitorsByStatus(ctx context.Context, status monitor.Status) ([]monitor.Task, error) {
	query := `SELECT ` + monitorColumns + ` FROM monitor_tasks WHERE status = $1 ORDER BY created_at, id;`
	rows, err := s.q.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list monitors: %w", err)
	}
	defer rows.Close()

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
	query := `
		UPDATE monitor_tasks
		SET name = $2, sitemap_url = $3, check_interval_minutes = $4, status = $5,
			last_check_at = $6, last_error = $7, error_count = $8, updated_at = $9
		WHERE id = $1;
	`
	tag, err := s.q.Exec(ctx, query,
		task.ID,
		task.Name,
		task.SitemapURL,
		task.CheckIntervalMinutes,
		string(task.Status),
		task.LastCheckAt,
		task.LastError,
		task.ErrorCount,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update monitor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return monitor.ErrNotFound
	}
	return nil
}

func scanMonitor(row pgx.Row) (monitor.Task, error) {
	var (
		task        monitor.Task
		status      string
		lastCheckAt pgtype.Timestamptz
		lastError   pgtype.Text
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
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return monitor.Task{}, err
	}
	task.Status = monitor.Status(status)
	if lastCheckAt.Valid {
		t := lastCheckAt.Time.UTC()
		task.LastCheckAt = &t
	}
	if lastError.Valid {
		msg := lastError.String
		task.LastError = &msg
	}
	task.CreatedAt = task.CreatedAt.UTC()
	task.UpdatedAt = task.UpdatedAt.UTC()
	return task, nil
}
