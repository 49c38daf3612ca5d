package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-monitor/internal/monitor"
)

const (
	defaultWebhookTimeout = 30 * time.Second
	maxErrorBodyBytes     = 200
)

// WebhookPayload is the JSON body posted to webhook channels.
type WebhookPayload struct {
	Event   string         `json:"event"`
	Monitor WebhookMonitor `json:"monitor"`
	Change  WebhookChange  `json:"change"`
	Details monitor.Diff   `json:"details"`
}

// WebhookMonitor identifies the monitor in a payload.
type WebhookMonitor struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	SitemapURL string `json:"sitemap_url"`
}

// WebhookChange summarizes the change record in a payload.
type WebhookChange struct {
	ID            string             `json:"id"`
	Type          monitor.ChangeType `json:"type"`
	AddedCount    int                `json:"added_count"`
	RemovedCount  int                `json:"removed_count"`
	ModifiedCount int                `json:"modified_count"`
	CreatedAt     time.Time          `json:"created_at"`
}

// WebhookSender delivers change payloads over HTTP.
type WebhookSender struct {
	client *http.Client
	logger *zap.Logger
}

// NewWebhookSender builds a WebhookSender. A zero timeout uses 30 seconds.
func NewWebhookSender(timeout time.Duration, logger *zap.Logger) *WebhookSender {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookSender{client: &http.Client{Timeout: timeout}, logger: logger}
}

// NewWebhookPayload builds the payload for msg.
func NewWebhookPayload(msg Message) WebhookPayload {
	c := msg.Change
	details := c.Changes
	if details.Added == nil {
		details.Added = []monitor.Entry{}
	}
	if details.Removed == nil {
		details.Removed = []monitor.Entry{}
	}
	if details.Modified == nil {
		details.Modified = []monitor.Modification{}
	}
	return WebhookPayload{
		Event: "sitemap_change",
		Monitor: WebhookMonitor{
			ID:         msg.Monitor.ID,
			Name:       msg.Monitor.Name,
			SitemapURL: msg.Monitor.SitemapURL,
		},
		Change: WebhookChange{
			ID:            c.ID,
			Type:          c.Type,
			AddedCount:    c.AddedCount,
			RemovedCount:  c.RemovedCount,
			ModifiedCount: c.ModifiedCount,
			CreatedAt:     c.CreatedAt,
		},
		Details: details,
	}
}

// Send implements Sender. The channel config must carry "url"; "method" may
// be POST or PUT and "headers" may map header names to values.
func (s *WebhookSender) Send(ctx context.Context, ch monitor.Channel, msg Message) Delivery {
	target, _ := ch.Config["url"].(string)
	if strings.TrimSpace(target) == "" {
		return Delivery{Err: monitor.Errorf(monitor.KindConfiguration, "webhook url is not configured")}
	}
	method := http.MethodPost
	if raw, ok := ch.Config["method"].(string); ok && raw != "" {
		method = strings.ToUpper(raw)
	}
	if method != http.MethodPost && method != http.MethodPut {
		return Delivery{Err: monitor.Errorf(monitor.KindConfiguration, "unsupported http method %s", method)}
	}

	body, err := json.Marshal(NewWebhookPayload(msg))
	if err != nil {
		return Delivery{Err: fmt.Errorf("encode webhook payload: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return Delivery{Err: monitor.Wrap(monitor.KindConfiguration, "invalid webhook request", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers(ch.Config["headers"]) {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("webhook notification error", zap.String("url", target), zap.Error(err))
		return Delivery{Err: monitor.Wrap(monitor.KindNetwork, "webhook request failed", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	code := resp.StatusCode
	if code >= 200 && code < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		s.logger.Info("webhook notification sent",
			zap.String("url", target),
			zap.Int("status_code", code),
			zap.String("monitor_id", msg.Monitor.ID),
		)
		return Delivery{Success: true, ResponseCode: &code}
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	err = monitor.Errorf(monitor.KindProtocol, "HTTP %d: %s", code, snippet)
	s.logger.Warn("webhook notification failed", zap.String("url", target), zap.Int("status_code", code))
	return Delivery{Err: err, ResponseCode: &code}
}

func headers(raw any) map[string]string {
	out := map[string]string{}
	switch h := raw.(type) {
	case map[string]string:
		for k, v := range h {
			out[k] = v
		}
	case map[string]any:
		for k, v := range h {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}
