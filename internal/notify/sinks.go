package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/slack-go/slack"

	"github.com/dshills/triage-mcp/internal/logger"
)

// LogSink writes alerts to the structured log
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a sink backed by log
func NewLogSink(log *logger.Logger) *LogSink {
	if log == nil {
		log = logger.NewNop()
	}
	return &LogSink{log: log.Named("alerts")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, alert Alert) error {
	kv := []interface{}{
		"kind", alert.Kind,
		"severity", string(alert.Severity),
		"provider", alert.Provider,
		"operation_id", alert.OperationID,
	}
	for k, v := range alert.Details {
		kv = append(kv, k, v)
	}
	if alert.Severity == SeverityCritical {
		s.log.Error(alert.Summary, kv...)
	} else {
		s.log.Warn(alert.Summary, kv...)
	}
	return nil
}

// SlackConfig configures the Slack incoming webhook sink
type SlackConfig struct {
	WebhookURL string `koanf:"webhook_url" validate:"omitempty,url"`
	Channel    string `koanf:"channel"`
	Username   string `koanf:"username"`
}

// SlackSink posts alerts to a Slack incoming webhook
type SlackSink struct {
	cfg SlackConfig
}

// NewSlackSink creates a Slack sink. The webhook URL is required.
func NewSlackSink(cfg SlackConfig) (*SlackSink, error) {
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("slack webhook url is required")
	}
	if cfg.Username == "" {
		cfg.Username = "triage-mcp"
	}
	return &SlackSink{cfg: cfg}, nil
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Send(ctx context.Context, alert Alert) error {
	msg := &slack.WebhookMessage{
		Channel:     s.cfg.Channel,
		Username:    s.cfg.Username,
		Text:        alert.Summary,
		Attachments: []slack.Attachment{buildAttachment(alert)},
	}
	if err := slack.PostWebhookContext(ctx, s.cfg.WebhookURL, msg); err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	return nil
}

func buildAttachment(alert Alert) slack.Attachment {
	color := "warning"
	if alert.Severity == SeverityCritical {
		color = "danger"
	}
	fields := []slack.AttachmentField{
		{Title: "Kind", Value: alert.Kind, Short: true},
		{Title: "Severity", Value: string(alert.Severity), Short: true},
	}
	if alert.Provider != "" {
		fields = append(fields, slack.AttachmentField{Title: "Provider", Value: alert.Provider, Short: true})
	}
	if alert.OperationID != "" {
		fields = append(fields, slack.AttachmentField{Title: "Operation", Value: alert.OperationID, Short: true})
	}
	return slack.Attachment{
		Color:  color,
		Text:   alert.Text(),
		Fields: fields,
		Footer: alert.OccurredAt.UTC().Format(time.RFC3339),
	}
}
