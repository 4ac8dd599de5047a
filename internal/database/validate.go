// internal/database/validate.go - field-level validation run before every write
package database

import (
	"errors"
	"fmt"
	"regexp"
)

// tagNamePattern constrains tag names; tags double as their own ids so
// the character set has to stay index-safe.
var tagNamePattern = regexp.MustCompile(`(?i)^[a-z0-9\-_.|]+$`)

// ValidationError rejects a single field of a write. The write is
// discarded wholesale; no partial state is persisted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidation reports whether err (or anything it wraps) is a
// validation failure rather than a storage fault.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func validateCheck(check *Check) error {
	if check.Name == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if check.InitialFailureDelay < 0 {
		return &ValidationError{Field: "initial_failure_delay", Message: "must not be negative"}
	}
	if check.RepeatFailureDelay < 0 {
		return &ValidationError{Field: "repeat_failure_delay", Message: "must not be negative"}
	}
	return nil
}

func validateTagName(name string) error {
	if name == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if !tagNamePattern.MatchString(name) {
		return &ValidationError{Field: "name", Message: "must match [a-z0-9\\-_.|]+"}
	}
	return nil
}

func validateRule(rule *Rule) error {
	if rule.ContactID == "" {
		return &ValidationError{Field: "contact_id", Message: "must not be empty"}
	}
	for _, sev := range rule.ConditionsList {
		if _, err := ParseSeverity(string(sev)); err != nil {
			return &ValidationError{Field: "conditions_list", Message: err.Error()}
		}
	}
	return nil
}

func validateContact(contact *Contact) error {
	if contact.Name == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}
	return nil
}

func validateMedium(medium *Medium) error {
	if medium.ContactID == "" {
		return &ValidationError{Field: "contact_id", Message: "must not be empty"}
	}
	if medium.Transport == "" {
		return &ValidationError{Field: "transport", Message: "must not be empty"}
	}
	if medium.Address == "" {
		return &ValidationError{Field: "address", Message: "must not be empty"}
	}
	return nil
}

func validateMaintenance(window *MaintenanceWindow) error {
	if window.CheckID == "" {
		return &ValidationError{Field: "check_id", Message: "must not be empty"}
	}
	if window.Kind != ScheduledMaintenance && window.Kind != UnscheduledMaintenance {
		return &ValidationError{Field: "kind", Message: "must be scheduled or unscheduled"}
	}
	if !window.EndTime.After(window.StartTime) {
		return &ValidationError{Field: "end_time", Message: "must be after start_time"}
	}
	return nil
}
