// internal/notifications/slack.go - Slack webhook gateway
package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
	"vigil/internal/config"
	"vigil/internal/database"
	"vigil/internal/metrics"
	"vigil/internal/processing"
	"vigil/internal/queue"
)

const SlackTransport = "slack"

// SlackGateway posts queued messages to per-medium incoming webhooks;
// the medium address is the webhook URL.
type SlackGateway struct {
	config *config.SlackConfig
	in     *queue.Queue
}

func NewSlackGateway(cfg *config.SlackConfig, broker *queue.Broker) *SlackGateway {
	return &SlackGateway{
		config: cfg,
		in:     broker.Get(SlackTransport),
	}
}

// Run blocks delivering queued messages until the context ends.
func (g *SlackGateway) Run(ctx context.Context) error {
	logrus.Info("Starting Slack gateway")

	for {
		item, err := g.in.Pop(ctx)
		if err != nil {
			logrus.Info("Stopping Slack gateway")
			return err
		}

		var msg processing.Message
		if err := json.Unmarshal(item, &msg); err != nil {
			logrus.WithError(err).Error("Discarding malformed slack message")
			continue
		}
		if err := g.send(ctx, &msg); err != nil {
			logrus.WithError(err).WithField("check", msg.CheckName).Error("Failed to post Slack message")
			metrics.MessagesSent.WithLabelValues(SlackTransport, "error").Inc()
			continue
		}
		metrics.MessagesSent.WithLabelValues(SlackTransport, "ok").Inc()
	}
}

func (g *SlackGateway) send(ctx context.Context, msg *processing.Message) error {
	title := fmt.Sprintf("%s is %s", msg.CheckName, msg.Condition)
	if msg.Recovery {
		title = fmt.Sprintf("%s recovered", msg.CheckName)
	}

	channel := msg.Userdata["channel"]

	webhook := &slack.WebhookMessage{
		Username: g.config.Username,
		Channel:  channel,
		Attachments: []slack.Attachment{
			{
				Color: slackColor(msg.Condition, msg.Recovery),
				Title: title,
				Text:  msg.Summary,
				Fields: []slack.AttachmentField{
					{Title: "Check", Value: msg.CheckName, Short: true},
					{Title: "Condition", Value: string(msg.Condition), Short: true},
				},
				Footer: "vigil",
				Ts:     json.Number(fmt.Sprintf("%d", msg.Time.Unix())),
			},
		},
	}

	if err := slack.PostWebhookContext(ctx, msg.Address, webhook); err != nil {
		return fmt.Errorf("webhook post failed: %w", err)
	}

	logrus.WithField("check", msg.CheckName).Debug("Posted Slack message")
	return nil
}

func slackColor(condition database.Severity, recovery bool) string {
	if recovery {
		return "good"
	}
	switch condition {
	case database.SeverityCritical:
		return "danger"
	case database.SeverityWarning:
		return "warning"
	default:
		return "#439FE0"
	}
}
