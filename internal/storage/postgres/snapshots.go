package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JakeFAU/sitemap-monitor/internal/monitor"
)

const snapshotColumns = `id, monitor_task_id, url_count, url_hash, urls, fetch_duration_ms, parse_duration_ms, created_at`

// InsertSnapshot appends a snapshot with its entries stored as JSONB.
func (s *Store) InsertSnapshot(ctx context.Context, snap monitor.Snapshot) error {
	entries := snap.Entries
	if entries == nil {
		entries = []monitor.Entry{}
	}
	urls, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal snapshot entries: %w", err)
	}
	query := `
		INSERT INTO sitemap_snapshots (` + snapshotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	_, err = s.q.Exec(ctx, query,
		snap.ID,
		snap.MonitorID,
		snap.URLCount,
		snap.URLHash,
		urls,
		snap.FetchDuration.Milliseconds(),
		snap.ParseDuration.Milliseconds(),
		snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the monitor's newest snapshot.
func (s *Store) LatestSnapshot(ctx context.Context, monitorID string) (monitor.Snapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM sitemap_snapshots
		WHERE monitor_task_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1;
	`
	snap, err := scanSnapshot(s.q.QueryRow(ctx, query, monitorID))
	if err != nil {
		return monitor.Snapshot{}, notFound(err, "latest snapshot")
	}
	return snap, nil
}

// PreviousSnapshot returns the newest snapshot other than excludeID.
func (s *Store) PreviousSnapshot(ctx context.Context, monitorID, excludeID string) (monitor.Snapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM sitemap_snapshots
		WHERE monitor_task_id = $1 AND id <> $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1;
	`
	snap, err := scanSnapshot(s.q.QueryRow(ctx, query, monitorID, excludeID))
	if err != nil {
		return monitor.Snapshot{}, notFound(err, "previous snapshot")
	}
	return snap, nil
}

// InsertChange appends a change record with its diff stored as JSONB.
func (s *Store) InsertChange(ctx context.Context, record monitor.ChangeRecord) error {
	changes, err := json.Marshal(record.Changes)
	if err != nil {
		return fmt.Errorf("marshal change diff: %w", err)
	}
	query := `
		INSERT INTO change_records (
			id, monitor_task_id, old_snapshot_id, new_snapshot_id, change_type,
			added_count, removed_count, modified_count, changes, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
	`
	_, err = s.q.Exec(ctx, query,
		record.ID,
		record.MonitorID,
		record.OldSnapshotID,
		record.NewSnapshotID,
		string(record.Type),
		record.AddedCount,
		record.RemovedCount,
		record.ModifiedCount,
		changes,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert change record: %w", err)
	}
	return nil
}

func scanSnapshot(row pgx.Row) (monitor.Snapshot, error) {
	var (
		snap    monitor.Snapshot
		urls    []byte
		fetchMS pgtype.Int8
		parseMS pgtype.Int8
	)
	err := row.Scan(
		&snap.ID,
		&snap.MonitorID,
		&snap.URLCount,
		&snap.URLHash,
		&urls,
		&fetchMS,
		&parseMS,
		&snap.CreatedAt,
	)
	if err != nil {
		return monitor.Snapshot{}, err
	}
	if err := json.Unmarshal(urls, &snap.Entries); err != nil {
		return monitor.Snapshot{}, fmt.Errorf("decode snapshot entries: %w", err)
	}
	snap.FetchDuration = time.Duration(fetchMS.Int64) * time.Millisecond
	snap.ParseDuration = time.Duration(parseMS.Int64) * time.Millisecond
	snap.CreatedAt = snap.CreatedAt.UTC()
	return snap, nil
}
