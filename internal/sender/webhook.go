// Package sender delivers notifications over external channels. The only
// channel implemented here is webhooks; live sessions are served by the
// gateway.
package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/JamshedLatipov/crm-sub001/internal/notify"
)

// WebhookSender delivers notifications via HTTP POST to a configured
// endpoint. A notification may override the endpoint through its
// data.webhookUrl field.
type WebhookSender struct {
	endpoint   string
	httpClient *http.Client
	retry      RetryConfig
}

// NewWebhookSender creates a webhook sender with the given default endpoint.
func NewWebhookSender(endpoint string) *WebhookSender {
	return &WebhookSender{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: DefaultRetryConfig(),
	}
}

// webhookPayload is the body POSTed to webhook endpoints.
type webhookPayload struct {
	NotificationID string                 `json:"notification_id"`
	Type           string                 `json:"type"`
	Title          string                 `json:"title"`
	Message        string                 `json:"message"`
	Priority       int                    `json:"priority"`
	RecipientID    string                 `json:"recipient_id"`
	Data           map[string]interface{} `json:"data,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// Send POSTs the notification to its webhook endpoint, retrying transient
// failures with backoff.
func (s *WebhookSender) Send(ctx context.Context, n *notify.Notification) error {
	endpoint := s.endpoint
	if override, ok := n.Data["webhookUrl"].(string); ok && override != "" {
		endpoint = override
	}
	if endpoint == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if !isValidURL(endpoint) {
		return fmt.Errorf("invalid webhook URL: %q", endpoint)
	}

	body, err := json.Marshal(webhookPayload{
		NotificationID: n.ID,
		Type:           n.Type,
		Title:          n.Title,
		Message:        n.Message,
		Priority:       n.Priority,
		RecipientID:    n.RecipientID,
		Data:           n.Data,
		CreatedAt:      n.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	return WithRetry(ctx, s.retry, "webhook-send", func() error {
		return s.post(ctx, endpoint, body, n.ID)
	})
}

func (s *WebhookSender) post(ctx context.Context, endpoint string, body []byte, notificationID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	slog.Info("Webhook notification sent",
		"notification_id", notificationID,
		"status_code", resp.StatusCode,
	)
	return nil
}

func isValidURL(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}
