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

const channelColumns = `c.id, c.owner_id, c.name, c.channel_type, c.config, c.is_active, c.last_test_at, c.last_test_success`

// ActiveChannelsForMonitor returns the active channels linked to monitorID.
func (s *Store) ActiveChannelsForMonitor(ctx context.Context, monitorID string) ([]monitor.Channel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM notification_channels c
		JOIN monitor_task_channels mc ON mc.channel_id = c.id
		WHERE mc.monitor_task_id = $1 AND c.is_active
		ORDER BY c.id;
	`
	rows, err := s.q.Query(ctx, query, monitorID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

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
	query := `SELECT ` + channelColumns + ` FROM notification_channels c WHERE c.id = $1;`
	ch, err := scanChannel(s.q.QueryRow(ctx, query, id))
	if err != nil {
		return monitor.Channel{}, notFound(err, "get channel")
	}
	return ch, nil
}

// RecordChannelTest stamps the outcome of a test delivery onto the channel.
func (s *Store) RecordChannelTest(ctx context.Context, channelID string, at time.Time, success bool) error {
	query := `
		UPDATE notification_channels
		SET last_test_at = $2, last_test_success = $3
		WHERE id = $1;
	`
	tag, err := s.q.Exec(ctx, query, channelID, at, success)
	if err != nil {
		return fmt.Errorf("record channel test: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return monitor.ErrNotFound
	}
	return nil
}

// InsertNotificationLog appends one delivery attempt.
func (s *Store) InsertNotificationLog(ctx context.Context, entry monitor.NotificationLog) error {
	query := `
		INSERT INTO notification_logs (
			id, channel_id, change_record_id, status, error_message, response_code, retry_count, sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	_, err := s.q.Exec(ctx, query,
		entry.ID,
		entry.ChannelID,
		entry.ChangeID,
		string(entry.Status),
		entry.ErrorMessage,
		entry.ResponseCode,
		entry.RetryCount,
		entry.SentAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification log: %w", err)
	}
	return nil
}

func scanChannel(row pgx.Row) (monitor.Channel, error) {
	var (
		ch          monitor.Channel
		channelType string
		config      []byte
		lastTestAt  pgtype.Timestamptz
		lastSuccess pgtype.Bool
	)
	err := row.Scan(
		&ch.ID,
		&ch.OwnerID,
		&ch.Name,
		&channelType,
		&config,
		&ch.Active,
		&lastTestAt,
		&lastSuccess,
	)
	if err != nil {
		return monitor.Channel{}, err
	}
	ch.Type = monitor.ChannelType(channelType)
	if len(config) > 0 {
		if err := json.Unmarshal(config, &ch.Config); err != nil {
			return monitor.Channel{}, fmt.Errorf("decode channel config: %w", err)
		}
	}
	if lastTestAt.Valid {
		t := lastTestAt.Time.UTC()
		ch.LastTestAt = &t
	}
	if lastSuccess.Valid {
		ok := lastSuccess.Bool
		ch.LastTestSuccess = &ok
	}
	return ch, nil
}
