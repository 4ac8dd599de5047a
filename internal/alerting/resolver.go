// internal/alerting/resolver.go - notification routing resolution
package alerting

import (
	"context"
	"fmt"
	"sort"

	"vigil/internal/database"
)

// Resolver answers "who gets told about this check" questions from the
// derived route set. Empty results are normal outcomes, never errors.
type Resolver struct {
	store database.Store
}

func NewResolver(store database.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve maps a check (and optional severity, "" for none) to the
// contacts and rules that should receive a notification. When a
// non-healthy severity is given, only routes whose conditions snapshot
// is unconditional or contains that severity survive. Returns rule ids
// grouped by contact id and route ids grouped by rule id.
func (r *Resolver) Resolve(ctx context.Context, checkID string, severity database.Severity) (map[string][]string, map[string][]string, error) {
	ruleIDsByContact := make(map[string][]string)
	routeIDsByRule := make(map[string][]string)

	routes, err := r.store.RoutesForCheck(ctx, checkID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get routes: %w", err)
	}
	if len(routes) == 0 {
		return ruleIDsByContact, routeIDsByRule, nil
	}

	filtered := routes
	if severity != "" && !severity.Healthy() {
		filtered = filtered[:0:0]
		for _, route := range routes {
			if database.ContainsSeverity(route.ConditionsList, severity) {
				filtered = append(filtered, route)
			}
		}
		if len(filtered) == 0 {
			return ruleIDsByContact, routeIDsByRule, nil
		}
	}

	for _, route := range filtered {
		routeIDsByRule[route.RuleID] = append(routeIDsByRule[route.RuleID], route.ID)
	}

	for ruleID := range routeIDsByRule {
		rule, err := r.store.GetRule(ctx, ruleID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get rule %s: %w", ruleID, err)
		}
		ruleIDsByContact[rule.ContactID] = append(ruleIDsByContact[rule.ContactID], ruleID)
	}
	for contactID := range ruleIDsByContact {
		sort.Strings(ruleIDsByContact[contactID])
	}

	return ruleIDsByContact, routeIDsByRule, nil
}

// Credential is a transport-specific delivery payload: the medium's
// vendor address plus its per-medium metadata.
type Credential struct {
	Address  string            `json:"address"`
	Userdata map[string]string `json:"userdata,omitempty"`
}

// CredentialsByTransport resolves, for each check in the batch, the
// delivery credentials of the given transport: matching rules (no
// severity filter) whose owning contact carries at least one medium of
// that transport contribute those media's payloads. Checks with no
// qualifying rule/medium pair are omitted. Output order per check is
// stable (sorted by medium id).
func (r *Resolver) CredentialsByTransport(ctx context.Context, checkIDs []string, transport string) (map[string][]Credential, error) {
	result := make(map[string][]Credential)

	for _, checkID := range checkIDs {
		ruleIDsByContact, _, err := r.Resolve(ctx, checkID, "")
		if err != nil {
			return nil, err
		}
		if len(ruleIDsByContact) == 0 {
			continue
		}

		contactIDs := make([]string, 0, len(ruleIDsByContact))
		for contactID := range ruleIDsByContact {
			contactIDs = append(contactIDs, contactID)
		}
		sort.Strings(contactIDs)

		seen := make(map[string]bool)
		var creds []Credential
		for _, contactID := range contactIDs {
			media, err := r.store.MediaForContact(ctx, contactID)
			if err != nil {
				return nil, fmt.Errorf("failed to get media for contact %s: %w", contactID, err)
			}
			sort.Slice(media, func(i, j int) bool { return media[i].ID < media[j].ID })
			for _, medium := range media {
				if medium.Transport != transport || seen[medium.ID] {
					continue
				}
				seen[medium.ID] = true
				creds = append(creds, Credential{
					Address:  medium.Address,
					Userdata: medium.Userdata,
				})
			}
		}
		if len(creds) > 0 {
			result[checkID] = creds
		}
	}

	return result, nil
}
