// Package notify tells operators how a sync run ended.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/deanslist-sync/pkg/errors"
)

// Report is the outcome of one run.
type Report struct {
	Success bool
	// Summary holds one line per entity with its final row count.
	Summary string
	// Error is the failure that aborted the run. Empty on success.
	Error string
}

// Notifier delivers a Report.
type Notifier interface {
	Notify(ctx context.Context, r Report) error
}

// Config selects the notification channels. Unset channels are skipped;
// the log channel is always on.
type Config struct {
	SMTP    *SMTPConfig    `yaml:"smtp"`
	Webhook *WebhookConfig `yaml:"webhook"`
}

// New builds the notifier for cfg.
func New(cfg Config, logger *zap.Logger) Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := Multi{NewLog(logger)}
	if cfg.SMTP != nil && cfg.SMTP.Host != "" {
		m = append(m, NewSMTP(*cfg.SMTP))
	}
	if cfg.Webhook != nil && cfg.Webhook.URL != "" {
		m = append(m, NewWebhook(*cfg.Webhook))
	}
	return m
}

// Multi fans a Report out to every notifier. All notifiers are tried; the
// first error is returned.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, r Report) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, r); err != nil && first == nil {
			first = err
		}
	}
	if first != nil {
		return errors.Wrap(first, errors.ErrorTypeNotify, "notification failed")
	}
	return nil
}

// Log writes the report to a logger.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a notifier writing to logger.
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

// Notify implements Notifier.
func (l *Log) Notify(_ context.Context, r Report) error {
	if r.Success {
		l.logger.Info("run succeeded", zap.String("summary", r.Summary))
		return nil
	}
	l.logger.Error("run failed", zap.String("summary", r.Summary), zap.String("error", r.Error))
	return nil
}
