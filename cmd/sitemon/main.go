// Package main hosts the sitemap monitor entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics and monitor operations (create, check, pause,
//     resume, validate, channel test).
//   - Scheduling: internal/scheduler ticks once a minute and enqueues every active monitor that is due. The
//     dispatcher refuses a second job for a monitor that already has one queued or running.
//   - Pipeline: workers fetch the sitemap through the Colly fetcher (per-host rate limited, retried), expand
//     indexes, hash the URL set, compare against the previous snapshot and record change records. Changes fan
//     out to email and webhook channels and are published as events on Pub/Sub when a topic is configured.
//   - Persistence: monitors, snapshots, changes and notification logs live in memory, SQLite or Postgres.
//     Snapshot URL sets can additionally be archived to a local directory or GCS.
//
// Quick checklist:
//   - Configure env vars: SITEMON_SERVER_PORT, SITEMON_STORE_BACKEND, SITEMON_STORE_DSN, SITEMON_SMTP_*,
//     SITEMON_EVENTS_PROJECT_ID and SITEMON_EVENTS_TOPIC.
//   - Run locally: go run ./cmd/sitemon serve --config config.yaml
//   - Dry-run a feed: go run ./cmd/sitemon validate https://example.com/sitemap.xml
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
