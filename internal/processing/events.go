// internal/processing/events.go - payloads moving between pikelets
package processing

import (
	"encoding/json"
	"fmt"
	"time"

	"vigil/internal/database"
)

// Queue names. Events arrive from collectors on EventQueue; accepted
// notifications move to NotificationQueue; per-transport messages land
// on a queue named after the transport.
const (
	EventQueue        = "events"
	NotificationQueue = "notifications"
)

// Event is one severity observation for a named check.
type Event struct {
	Check     string            `json:"check"`
	Condition database.Severity `json:"condition"`
	Summary   string            `json:"summary,omitempty"`
	Details   string            `json:"details,omitempty"`
	Time      time.Time         `json:"time"`
}

// Notification is an alert-worthy event after maintenance and delay
// gating, awaiting routing resolution.
type Notification struct {
	CheckID   string            `json:"check_id"`
	CheckName string            `json:"check_name"`
	Condition database.Severity `json:"condition"`
	Summary   string            `json:"summary,omitempty"`
	AckHash   string            `json:"ack_hash,omitempty"`
	Recovery  bool              `json:"recovery,omitempty"`
	Time      time.Time         `json:"time"`
}

// Message is one delivery order for a specific medium of a contact.
type Message struct {
	Transport string            `json:"transport"`
	Address   string            `json:"address"`
	Userdata  map[string]string `json:"userdata,omitempty"`
	ContactID string            `json:"contact_id"`
	CheckID   string            `json:"check_id"`
	CheckName string            `json:"check_name"`
	Condition database.Severity `json:"condition"`
	Summary   string            `json:"summary,omitempty"`
	AckHash   string            `json:"ack_hash,omitempty"`
	Recovery  bool              `json:"recovery,omitempty"`
	Time      time.Time         `json:"time"`
}

func encode(v interface{}) []byte {
	data, _ := json.Marshal(v)
	return data
}

func decode(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode queue item: %w", err)
	}
	return nil
}
