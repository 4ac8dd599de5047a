// internal/database/store.go
package database

import (
	"context"
	"time"
)

// Store defines the entity-store capability the core runs on: CRUD with
// validation hooks, unique and secondary indices, sorted-range queries
// over time scores, and many-to-many association management. The store
// is the sole shared mutable resource; components hold no cached copies
// across calls.
type Store interface {
	// Check operations
	GetChecks(ctx context.Context, filters CheckFilters) ([]Check, error)
	GetCheck(ctx context.Context, id string) (*Check, error)
	GetCheckByName(ctx context.Context, name string) (*Check, error)
	CreateCheck(ctx context.Context, check *Check) error
	UpdateCheck(ctx context.Context, check *Check) error
	DeleteCheck(ctx context.Context, id string) error
	// EnsureAckHash computes and persists the check's ack hash on first
	// use; later calls return the stored value unchanged.
	EnsureAckHash(ctx context.Context, id string) (string, error)

	// Tag operations. Tag ids are always their validated names.
	GetTags(ctx context.Context) ([]Tag, error)
	GetTag(ctx context.Context, id string) (*Tag, error)
	CreateTag(ctx context.Context, tag *Tag) error
	UpdateTag(ctx context.Context, tag *Tag) error
	DeleteTag(ctx context.Context, id string) error

	// Tag associations
	LinkCheckTag(ctx context.Context, checkID, tagID string) error
	UnlinkCheckTag(ctx context.Context, checkID, tagID string) error
	LinkRuleTag(ctx context.Context, ruleID, tagID string) error
	UnlinkRuleTag(ctx context.Context, ruleID, tagID string) error
	TagIDsForCheck(ctx context.Context, checkID string) ([]string, error)
	CheckIDsForTag(ctx context.Context, tagID string) ([]string, error)
	TagIDsForRule(ctx context.Context, ruleID string) ([]string, error)
	RuleIDsForTag(ctx context.Context, tagID string) ([]string, error)

	// Rule operations
	GetRules(ctx context.Context) ([]Rule, error)
	GetRule(ctx context.Context, id string) (*Rule, error)
	CreateRule(ctx context.Context, rule *Rule) error
	UpdateRule(ctx context.Context, rule *Rule) error
	DeleteRule(ctx context.Context, id string) error
	RuleIDsForContact(ctx context.Context, contactID string) ([]string, error)
	// GenericRuleIDs returns rules whose tag set is empty.
	GenericRuleIDs(ctx context.Context) ([]string, error)

	// Route operations (derived records only)
	GetRoute(ctx context.Context, id string) (*Route, error)
	CreateRoute(ctx context.Context, route *Route) error
	UpdateRoute(ctx context.Context, route *Route) error
	RoutesForCheck(ctx context.Context, checkID string) ([]Route, error)
	RouteIDsForRule(ctx context.Context, ruleID string) ([]string, error)
	DeleteRoutesForCheck(ctx context.Context, checkID string) error

	// Contact and medium operations
	GetContacts(ctx context.Context) ([]Contact, error)
	GetContact(ctx context.Context, id string) (*Contact, error)
	CreateContact(ctx context.Context, contact *Contact) error
	UpdateContact(ctx context.Context, contact *Contact) error
	DeleteContact(ctx context.Context, id string) error
	GetMedium(ctx context.Context, id string) (*Medium, error)
	CreateMedium(ctx context.Context, medium *Medium) error
	UpdateMedium(ctx context.Context, medium *Medium) error
	DeleteMedium(ctx context.Context, id string) error
	MediaForContact(ctx context.Context, contactID string) ([]Medium, error)

	// State operations. States append in CreatedAt order; UpdateState
	// refreshes a record in place without moving its sort position.
	GetState(ctx context.Context, id string) (*State, error)
	CreateState(ctx context.Context, state *State) error
	UpdateState(ctx context.Context, state *State) error
	LatestState(ctx context.Context, checkID string) (*State, error)
	StatesForCheck(ctx context.Context, checkID string) ([]State, error)

	// Maintenance window operations. Create inserts into both the
	// start-indexed and end-indexed sequences; Delete removes from both.
	CreateMaintenance(ctx context.Context, window *MaintenanceWindow) error
	GetMaintenance(ctx context.Context, id string) (*MaintenanceWindow, error)
	DeleteMaintenance(ctx context.Context, id string) error
	// ReindexMaintenanceEnd changes a window's end time as
	// remove-from-end-index, mutate, re-insert; the window is never
	// visible under two end keys at once.
	ReindexMaintenanceEnd(ctx context.Context, id string, end time.Time) error
	MaintenanceWindows(ctx context.Context, kind MaintenanceKind, checkID string) ([]MaintenanceWindow, error)
	// Sorted-range queries over the two interval indices.
	MaintenanceIDsStartedBy(ctx context.Context, kind MaintenanceKind, checkID string, t time.Time) ([]string, error)
	MaintenanceIDsEndingAfter(ctx context.Context, kind MaintenanceKind, checkID string, t time.Time, inclusive bool) ([]string, error)

	// Close the database
	Close() error
}
