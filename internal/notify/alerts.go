// Package notify fans anomaly alerts out to operators.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mikeggyy/chat-app-all-sub002/internal/core"
	"github.com/mikeggyy/chat-app-all-sub002/internal/models"
	"github.com/mikeggyy/chat-app-all-sub002/pkg/messagequeue"
)

// QueueNotifier publishes every alert as JSON to a queue.
type QueueNotifier struct {
	publisher messagequeue.Publisher
	queue     string
	logger    *zap.Logger
}

// NewQueueNotifier publishes alerts as JSON to queue.
func NewQueueNotifier(p messagequeue.Publisher, queue string, logger *zap.Logger) *QueueNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueNotifier{publisher: p, queue: queue, logger: logger}
}

func (n *QueueNotifier) NotifyAlert(ctx context.Context, alert models.AnomalyAlert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert %s: %w", alert.ID, err)
	}
	if err := n.publisher.Publish(n.queue, body); err != nil {
		return fmt.Errorf("publish alert %s: %w", alert.ID, err)
	}
	n.logger.Debug("alert published", zap.String("alertID", alert.ID), zap.String("queue", n.queue))
	return nil
}

// Sender is the part of mailer.Mailer the email notifier needs.
type Sender interface {
	Send(recipients []string, subject, body string) error
}

// EmailNotifier mails high severity alerts.
type EmailNotifier struct {
	sender     Sender
	recipients []string
	logger     *zap.Logger
}

// NewEmailNotifier accepts a comma separated recipient list.
func NewEmailNotifier(s Sender, recipients string, logger *zap.Logger) *EmailNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	var to []string
	for _, r := range strings.Split(recipients, ",") {
		if r = strings.TrimSpace(r); r != "" {
			to = append(to, r)
		}
	}
	return &EmailNotifier{sender: s, recipients: to, logger: logger}
}

func (n *EmailNotifier) NotifyAlert(ctx context.Context, alert models.AnomalyAlert) error {
	if alert.Severity != models.SeverityHigh || len(n.recipients) == 0 {
		return nil
	}
	subject := fmt.Sprintf("[ad-anomaly] %s alert for user %s", alert.Severity, alert.UserID)
	var b strings.Builder
	fmt.Fprintf(&b, "Alert %s raised at %s\n\n", alert.ID, time.UnixMilli(alert.TimestampMs).UTC().Format(time.RFC3339))
	for _, a := range alert.Anomalies {
		fmt.Fprintf(&b, "- %s (%s): %s\n", a.Type, a.Severity, a.Message)
	}
	if err := n.sender.Send(n.recipients, subject, b.String()); err != nil {
		return err
	}
	n.logger.Info("alert emailed", zap.String("alertID", alert.ID), zap.Int("recipients", len(n.recipients)))
	return nil
}

var (
	_ core.AlertNotifier = (*QueueNotifier)(nil)
	_ core.AlertNotifier = (*EmailNotifier)(nil)
)
