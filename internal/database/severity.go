// internal/database/severity.go
package database

import (
	"fmt"
)

// Severity is a monitoring state value. Rules and routes carry parsed
// severity sets rather than free-form condition strings, so matching is
// plain set containment.
type Severity string

const (
	SeverityOK       Severity = "ok"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeverityUnknown  Severity = "unknown"
)

var severityRank = map[Severity]int{
	SeverityOK:       0,
	SeverityUnknown:  1,
	SeverityWarning:  2,
	SeverityCritical: 3,
}

// ParseSeverity validates a severity token.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if _, ok := severityRank[sev]; !ok {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// Healthy reports whether the severity represents a non-alerting state.
func (s Severity) Healthy() bool {
	return s == SeverityOK
}

// Rank orders severities for most-severe tracking: critical > warning >
// unknown > ok.
func (s Severity) Rank() int {
	return severityRank[s]
}

// ContainsSeverity reports whether sev is a member of list. A nil list
// is unconditional and matches everything.
func ContainsSeverity(list []Severity, sev Severity) bool {
	if list == nil {
		return true
	}
	for _, s := range list {
		if s == sev {
			return true
		}
	}
	return false
}
