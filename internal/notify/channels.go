// Package notify delivers alerts and block records outward. Everything
// here is best-effort: failures are logged and absorbed, never
// propagated back into the ingestion path.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"websentry/internal/event"
	"websentry/internal/rules"
)

// ServiceName identifies this service in outbound envelopes.
const ServiceName = "websentry"

// Channel delivers one alert to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert *rules.Alert) error
}

// WebhookChannel posts alerts as a JSON envelope to a generic webhook.
type WebhookChannel struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookChannel creates a webhook channel.
func NewWebhookChannel(url string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		url:     url,
		headers: headers,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *WebhookChannel) Name() string { return "webhook" }

func (w *WebhookChannel) Send(ctx context.Context, alert *rules.Alert) error {
	envelope := map[string]any{
		"type":      "security_alert",
		"alert":     alert,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   ServiceName,
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal alert envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// ChatChannel posts a formatted message with structured fields to a
// chat webhook. The dispatcher routes only critical alerts here.
type ChatChannel struct {
	webhookURL string
	channel    string
	username   string
	client     *http.Client
}

// NewChatChannel creates a chat channel.
func NewChatChannel(webhookURL, channel, username string) *ChatChannel {
	if username == "" {
		username = ServiceName
	}
	return &ChatChannel{
		webhookURL: webhookURL,
		channel:    channel,
		username:   username,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *ChatChannel) Name() string { return "chat" }

func (c *ChatChannel) Send(ctx context.Context, alert *rules.Alert) error {
	fields := []map[string]any{
		{"title": "Rule", "value": alert.RuleID, "short": true},
		{"title": "Severity", "value": string(alert.Severity), "short": true},
		{"title": "IP", "value": alert.Event.IPAddress, "short": true},
		{"title": "Event Type", "value": string(alert.Event.Type), "short": true},
		{"title": "Time", "value": alert.CreatedAt.Format(time.RFC3339), "short": true},
	}
	if alert.Event.UserID != "" {
		fields = append(fields, map[string]any{
			"title": "User", "value": alert.Event.UserID, "short": true,
		})
	}

	payload := map[string]any{
		"channel":  c.channel,
		"username": c.username,
		"attachments": []map[string]any{
			{
				"color":  severityColor(alert.Severity),
				"title":  fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.RuleName),
				"text":   alert.Message,
				"fields": fields,
				"footer": fmt.Sprintf("Alert ID: %s", alert.ID.String()[:8]),
				"ts":     alert.CreatedAt.Unix(),
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chat webhook returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func severityColor(sev event.Severity) string {
	switch sev {
	case event.SeverityCritical:
		return "#FF0000"
	case event.SeverityHigh:
		return "#FFA500"
	case event.SeverityMedium:
		return "#FFFF00"
	case event.SeverityLow:
		return "#00FF00"
	default:
		return "#808080"
	}
}
