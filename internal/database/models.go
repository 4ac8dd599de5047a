// internal/database/models.go
package database

import (
	"time"
)

// Check is a monitored entity (host+service pair or similar) with a
// severity history, tag memberships and a derived set of routes.
type Check struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Enabled             bool      `json:"enabled"`
	AckHash             string    `json:"ack_hash,omitempty"`
	InitialFailureDelay int       `json:"initial_failure_delay"`
	RepeatFailureDelay  int       `json:"repeat_failure_delay"`
	NotificationCount   int       `json:"notification_count"`
	LastNotificationAt  time.Time `json:"last_notification_at,omitempty"`
	MostSevereID        string    `json:"most_severe_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Tag is a label attachable to checks and rules. Its id is always its
// name; the name never changes after the first save.
type Tag struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Rule is a contact's alerting preference: a tag filter (held in the
// rule/tag association, empty set = generic) plus the severities the
// rule fires for. A nil ConditionsList means unconditional.
type Rule struct {
	ID             string     `json:"id"`
	ContactID      string     `json:"contact_id"`
	ConditionsList []Severity `json:"conditions_list,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Route is a derived pairing of a check and a matching rule. Routes are
// never created directly by users; the deriver replaces the whole set
// whenever tag membership changes. ConditionsList is a snapshot of the
// rule's conditions at derivation time.
type Route struct {
	ID             string     `json:"id"`
	CheckID        string     `json:"check_id"`
	RuleID         string     `json:"rule_id"`
	ConditionsList []Severity `json:"conditions_list,omitempty"`
	IsAlerting     bool       `json:"is_alerting"`
	CreatedAt      time.Time  `json:"created_at"`
}

// State is one severity observation in a check's history. CreatedAt is
// the moment the severity changed (the sort key); UpdatedAt moves when
// the summary/details are refreshed in place without a severity change.
type State struct {
	ID        string    `json:"id"`
	CheckID   string    `json:"check_id"`
	Condition Severity  `json:"condition"`
	Summary   string    `json:"summary,omitempty"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MaintenanceKind selects one of the two independent window sequences a
// check maintains.
type MaintenanceKind string

const (
	ScheduledMaintenance   MaintenanceKind = "scheduled"
	UnscheduledMaintenance MaintenanceKind = "unscheduled"
)

// MaintenanceWindow is a [StartTime, EndTime) interval during which
// alerting for its check is suppressed. Every window is present in both
// the start-indexed and the end-indexed sequence of its check.
type MaintenanceWindow struct {
	ID        string          `json:"id"`
	CheckID   string          `json:"check_id"`
	Kind      MaintenanceKind `json:"kind"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
	Summary   string          `json:"summary,omitempty"`
}

// Contact owns rules and media.
type Contact struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Timezone  string    `json:"timezone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Medium is one delivery channel of a contact: a transport identifier
// plus the vendor-specific address and metadata the gateway needs.
type Medium struct {
	ID        string            `json:"id"`
	ContactID string            `json:"contact_id"`
	Transport string            `json:"transport"`
	Address   string            `json:"address"`
	Userdata  map[string]string `json:"userdata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// CheckFilters narrows GetChecks results.
type CheckFilters struct {
	Enabled *bool
	Name    string
}
