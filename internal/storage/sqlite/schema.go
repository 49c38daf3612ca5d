package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS monitor_tasks (
	id                     TEXT PRIMARY KEY,
	owner_id               TEXT NOT NULL,
	name                   TEXT NOT NULL,
	sitemap_url            TEXT NOT NULL,
	check_interval_minutes INTEGER NOT NULL DEFAULT 60,
	status                 TEXT NOT NULL DEFAULT 'active',
	last_check_at          TEXT,
	last_error             TEXT,
	error_count            INTEGER NOT NULL DEFAULT 0,
	created_at             TEXT NOT NULL,
	updated_at             TEXT NOT NULL,
	UNIQUE (owner_id, sitemap_url)
);
CREATE INDEX IF NOT EXISTS monitor_tasks_status_idx ON monitor_tasks (status);

CREATE TABLE IF NOT EXISTS sitemap_snapshots (
	id                TEXT PRIMARY KEY,
	monitor_task_id   TEXT NOT NULL REFERENCES monitor_tasks (id) ON DELETE CASCADE,
	url_count         INTEGER NOT NULL,
	url_hash          TEXT NOT NULL,
	urls              TEXT NOT NULL,
	fetch_duration_ms INTEGER NOT NULL DEFAULT 0,
	parse_duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS sitemap_snapshots_monitor_idx ON sitemap_snapshots (monitor_task_id, created_at);

CREATE TABLE IF NOT EXISTS change_records (
	id              TEXT PRIMARY KEY,
	monitor_task_id TEXT NOT NULL REFERENCES monitor_tasks (id) ON DELETE CASCADE,
	old_snapshot_id TEXT REFERENCES sitemap_snapshots (id),
	new_snapshot_id TEXT NOT NULL REFERENCES sitemap_snapshots (id),
	change_type     TEXT NOT NULL,
	added_count     INTEGER NOT NULL DEFAULT 0,
	removed_count   INTEGER NOT NULL DEFAULT 0,
	modified_count  INTEGER NOT NULL DEFAULT 0,
	changes         TEXT NOT NULL,
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS notification_channels (
	id                TEXT PRIMARY KEY,
	owner_id          TEXT NOT NULL,
	name              TEXT NOT NULL,
	channel_type      TEXT NOT NULL,
	config            TEXT NOT NULL DEFAULT '{}',
	is_active         INTEGER NOT NULL DEFAULT 1,
	last_test_at      TEXT,
	last_test_success INTEGER
);

CREATE TABLE IF NOT EXISTS monitor_task_channels (
	monitor_task_id TEXT NOT NULL REFERENCES monitor_tasks (id) ON DELETE CASCADE,
	channel_id      TEXT NOT NULL REFERENCES notification_channels (id) ON DELETE CASCADE,
	PRIMARY KEY (monitor_task_id, channel_id)
);

CREATE TABLE IF NOT EXISTS notification_logs (
	id               TEXT PRIMARY KEY,
	channel_id       TEXT NOT NULL REFERENCES notification_channels (id) ON DELETE CASCADE,
	change_record_id TEXT NOT NULL REFERENCES change_records (id) ON DELETE CASCADE,
	status           TEXT NOT NULL,
	error_message    TEXT,
	response_code    INTEGER,
	retry_count      INTEGER NOT NULL DEFAULT 0,
	sent_at          TEXT NOT NULL
);
`
