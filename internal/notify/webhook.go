package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"market-alerts/internal/config"
)

// WebhookChannel posts notifications as JSON.
type WebhookChannel struct {
	defaultURL string
	client     *http.Client
}

// NewWebhookChannel creates a webhook channel. cfg.URL is used for alerts
// that carry no destination of their own.
func NewWebhookChannel(cfg config.WebhookConfig) *WebhookChannel {
	return &WebhookChannel{
		defaultURL: cfg.URL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the channel.
func (w *WebhookChannel) Name() string {
	return "webhook"
}

// Deliver posts n to destination.
func (w *WebhookChannel) Deliver(ctx context.Context, destination string, n Notification) error {
	url := destination
	if url == "" {
		url = w.defaultURL
	}
	if url == "" {
		return fmt.Errorf("webhook: no destination url")
	}

	payload := map[string]interface{}{
		"type":      "alert",
		"title":     n.Title,
		"message":   n.Message,
		"data":      n.Data,
		"timestamp": n.Timestamp.Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "MarketAlerts/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
