// Package api hosts the operator HTTP surface. Routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/monitors to start monitoring a feed.
//   - POST /v1/monitors/{id}/check, /pause and /resume.
//   - POST /v1/validate for a dry-run feed check.
//   - POST /v1/channels/{id}/test to send a synthetic notification.
package api
