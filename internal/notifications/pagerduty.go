// internal/notifications/pagerduty.go - PagerDuty events gateway
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"text/template"
	"time"

	"github.com/sirupsen/logrus"
	"vigil/internal/alerting"
	"vigil/internal/config"
	"vigil/internal/database"
	"vigil/internal/metrics"
	"vigil/internal/processing"
	"vigil/internal/queue"
)

const (
	PagerDutyTransport = "pagerduty"
	UserAgent          = "Vigil Alert Router/1.0"
)

// PagerDutyEvent is the Events API v2 enqueue payload.
type PagerDutyEvent struct {
	RoutingKey  string           `json:"routing_key"`
	EventAction string           `json:"event_action"`
	DedupKey    string           `json:"dedup_key,omitempty"`
	Payload     PagerDutyPayload `json:"payload"`
}

type PagerDutyPayload struct {
	Summary   string `json:"summary"`
	Source    string `json:"source"`
	Severity  string `json:"severity"`
	Timestamp string `json:"timestamp,omitempty"`
}

// PagerDutyResponse is the API acknowledgement.
type PagerDutyResponse struct {
	Status   string   `json:"status"`
	Message  string   `json:"message,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	DedupKey string   `json:"dedup_key,omitempty"`
}

// PagerDutyGateway drains the pagerduty transport queue in batches and
// delivers each message once per routing credential resolved for its
// check. Routing keys live on the media records, reached through the
// resolver's batch credential lookup rather than gateway config.
type PagerDutyGateway struct {
	config     *config.PagerDutyConfig
	resolver   *alerting.Resolver
	in         *queue.Queue
	httpClient *http.Client
	templates  map[string]*template.Template
}

func NewPagerDutyGateway(cfg *config.PagerDutyConfig, resolver *alerting.Resolver, broker *queue.Broker) *PagerDutyGateway {
	return &PagerDutyGateway{
		config:   cfg,
		resolver: resolver,
		in:       broker.Get(PagerDutyTransport),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		templates: make(map[string]*template.Template),
	}
}

// Run blocks delivering queued messages until the context ends.
func (g *PagerDutyGateway) Run(ctx context.Context) error {
	logrus.Info("Starting PagerDuty gateway")

	for {
		item, err := g.in.Pop(ctx)
		if err != nil {
			logrus.Info("Stopping PagerDuty gateway")
			return err
		}

		batch := [][]byte{item}
		for len(batch) < g.config.BatchSize {
			next, ok := g.in.TryPop()
			if !ok {
				break
			}
			batch = append(batch, next)
		}

		g.deliverBatch(ctx, batch)
	}
}

func (g *PagerDutyGateway) deliverBatch(ctx context.Context, batch [][]byte) {
	messages := make([]processing.Message, 0, len(batch))
	checkIDs := make([]string, 0, len(batch))
	seen := make(map[string]bool)
	for _, item := range batch {
		var msg processing.Message
		if err := json.Unmarshal(item, &msg); err != nil {
			logrus.WithError(err).Error("Discarding malformed pagerduty message")
			continue
		}
		messages = append(messages, msg)
		if !seen[msg.CheckID] {
			seen[msg.CheckID] = true
			checkIDs = append(checkIDs, msg.CheckID)
		}
	}
	if len(messages) == 0 {
		return
	}

	// One credential lookup per batch of checks.
	creds, err := g.resolver.CredentialsByTransport(ctx, checkIDs, PagerDutyTransport)
	if err != nil {
		logrus.WithError(err).Error("Failed to resolve PagerDuty credentials")
		metrics.MessagesSent.WithLabelValues(PagerDutyTransport, "error").Add(float64(len(messages)))
		return
	}

	for _, msg := range messages {
		checkCreds, ok := creds[msg.CheckID]
		if !ok {
			logrus.WithField("check", msg.CheckName).Debug("No PagerDuty credentials for check")
			continue
		}
		for _, cred := range checkCreds {
			if err := g.send(ctx, &msg, cred); err != nil {
				logrus.WithError(err).WithField("check", msg.CheckName).Error("Failed to send PagerDuty event")
				metrics.MessagesSent.WithLabelValues(PagerDutyTransport, "error").Inc()
				continue
			}
			metrics.MessagesSent.WithLabelValues(PagerDutyTransport, "ok").Inc()
		}
	}
}

func (g *PagerDutyGateway) send(ctx context.Context, msg *processing.Message, cred alerting.Credential) error {
	summary, err := g.renderTemplate("summary", g.config.Template, msg)
	if err != nil {
		return err
	}

	routingKey := cred.Userdata["routing_key"]
	if routingKey == "" {
		routingKey = cred.Address
	}

	action := "trigger"
	if msg.Recovery {
		action = "resolve"
	}

	event := &PagerDutyEvent{
		RoutingKey:  routingKey,
		EventAction: action,
		DedupKey:    msg.AckHash,
		Payload: PagerDutyPayload{
			Summary:   summary,
			Source:    msg.CheckName,
			Severity:  pagerdutySeverity(msg.Condition),
			Timestamp: msg.Time.Format(time.RFC3339),
		},
	}

	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", g.config.APIURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var pdResp PagerDutyResponse
	if err := json.NewDecoder(resp.Body).Decode(&pdResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode >= 300 || pdResp.Status == "invalid event" {
		return fmt.Errorf("pagerduty API error (%d): %s %v", resp.StatusCode, pdResp.Message, pdResp.Errors)
	}

	logrus.WithFields(logrus.Fields{
		"check":     msg.CheckName,
		"action":    action,
		"dedup_key": pdResp.DedupKey,
	}).Debug("Sent PagerDuty event")
	return nil
}

func (g *PagerDutyGateway) renderTemplate(name, templateText string, data interface{}) (string, error) {
	tmpl, exists := g.templates[name]
	if !exists {
		var err error
		tmpl, err = template.New(name).Parse(templateText)
		if err != nil {
			return "", fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		g.templates[name] = tmpl
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

func pagerdutySeverity(condition database.Severity) string {
	switch condition {
	case database.SeverityCritical:
		return "critical"
	case database.SeverityWarning:
		return "warning"
	case database.SeverityUnknown:
		return "error"
	default:
		return "info"
	}
}
