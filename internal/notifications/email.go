// internal/notifications/email.go - SMTP delivery gateway
package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
	"vigil/internal/config"
	"vigil/internal/metrics"
	"vigil/internal/processing"
	"vigil/internal/queue"
)

const EmailTransport = "email"

// EmailGateway delivers queued messages over SMTP. Each message carries
// the recipient address from its medium record.
type EmailGateway struct {
	config *config.EmailConfig
	dialer *gomail.Dialer
	in     *queue.Queue
}

func NewEmailGateway(cfg *config.EmailConfig, broker *queue.Broker) *EmailGateway {
	return &EmailGateway{
		config: cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		in:     broker.Get(EmailTransport),
	}
}

// Run blocks delivering queued messages until the context ends.
func (g *EmailGateway) Run(ctx context.Context) error {
	logrus.Info("Starting email gateway")

	for {
		item, err := g.in.Pop(ctx)
		if err != nil {
			logrus.Info("Stopping email gateway")
			return err
		}

		var msg processing.Message
		if err := json.Unmarshal(item, &msg); err != nil {
			logrus.WithError(err).Error("Discarding malformed email message")
			continue
		}
		if err := g.send(&msg); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"check":   msg.CheckName,
				"address": msg.Address,
			}).Error("Failed to send email")
			metrics.MessagesSent.WithLabelValues(EmailTransport, "error").Inc()
			continue
		}
		metrics.MessagesSent.WithLabelValues(EmailTransport, "ok").Inc()
	}
}

func (g *EmailGateway) send(msg *processing.Message) error {
	subject := fmt.Sprintf("ALERT: %s is %s", msg.CheckName, msg.Condition)
	if msg.Recovery {
		subject = fmt.Sprintf("RECOVERY: %s is %s", msg.CheckName, msg.Condition)
	}

	body := fmt.Sprintf("Check:     %s\r\nCondition: %s\r\nTime:      %s\r\n",
		msg.CheckName, msg.Condition, msg.Time.Format("2006-01-02 15:04:05 MST"))
	if msg.Summary != "" {
		body += fmt.Sprintf("Summary:   %s\r\n", msg.Summary)
	}
	if msg.AckHash != "" {
		body += fmt.Sprintf("\r\nAcknowledge with id %s\r\n", msg.AckHash)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", g.config.From)
	m.SetHeader("To", msg.Address)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := g.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp delivery failed: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"check":   msg.CheckName,
		"address": msg.Address,
	}).Debug("Sent email notification")
	return nil
}
