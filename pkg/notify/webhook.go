package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// WebhookConfig configures the webhook notifier, e.g. a Slack incoming
// webhook.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
}

type webhookPayload struct {
	Text    string `json:"text"`
	Success bool   `json:"success"`
	Summary string `json:"summary"`
	Error   string `json:"error,omitempty"`
}

// Webhook posts the report as JSON.
type Webhook struct {
	client *resty.Client
	url    string
}

// NewWebhook returns a webhook notifier.
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeaders(cfg.Headers)
	return &Webhook{client: client, url: cfg.URL}
}

// Notify implements Notifier.
func (w *Webhook) Notify(ctx context.Context, r Report) error {
	text := Subject(r)
	if r.Summary != "" {
		text += "\n" + r.Summary
	}
	if r.Error != "" {
		text += "\n" + r.Error
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(webhookPayload{Text: text, Success: r.Success, Summary: r.Summary, Error: r.Error}).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned %s", resp.Status())
	}
	return nil
}
