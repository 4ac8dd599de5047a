// internal/alerting/routes.go - derived route recomputation
package alerting

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"vigil/internal/database"
	"vigil/internal/metrics"
)

// Deriver recomputes the derived route set of a check. Callers invoke
// it explicitly after every tag/check or tag/rule membership mutation;
// route recomputation is replace-all, so re-running it at any point with
// the current graph yields the correct set no matter how many mutations
// were batched. The deriver takes no lock of its own; callers keep
// membership mutation and recomputation for one check serialized.
type Deriver struct {
	store database.Store
}

func NewDeriver(store database.Store) *Deriver {
	return &Deriver{store: store}
}

// RecalculateRoutes destroys the check's current routes and rebuilds
// them from its tag memberships: every rule whose tag set is a subset of
// the check's tags matches, plus every generic (tagless) rule. A check
// with no tags ends up with no routes at all, generic rules included.
func (d *Deriver) RecalculateRoutes(ctx context.Context, checkID string) error {
	if err := d.store.DeleteRoutesForCheck(ctx, checkID); err != nil {
		return fmt.Errorf("failed to clear routes: %w", err)
	}
	metrics.RoutesRecalculated.Inc()

	tagIDs, err := d.store.TagIDsForCheck(ctx, checkID)
	if err != nil {
		return fmt.Errorf("failed to get check tags: %w", err)
	}
	if len(tagIDs) == 0 {
		logrus.WithField("check_id", checkID).Debug("Check has no tags, no routes derived")
		return nil
	}

	genericIDs, err := d.store.GenericRuleIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to get generic rules: %w", err)
	}

	checkTags := make(map[string]bool, len(tagIDs))
	for _, id := range tagIDs {
		checkTags[id] = true
	}

	candidates := make(map[string]bool)
	for _, tagID := range tagIDs {
		ruleIDs, err := d.store.RuleIDsForTag(ctx, tagID)
		if err != nil {
			return fmt.Errorf("failed to get rules for tag %s: %w", tagID, err)
		}
		for _, ruleID := range ruleIDs {
			candidates[ruleID] = true
		}
	}

	matched := make(map[string]bool, len(candidates)+len(genericIDs))
	for ruleID := range candidates {
		ruleTags, err := d.store.TagIDsForRule(ctx, ruleID)
		if err != nil {
			return fmt.Errorf("failed to get tags for rule %s: %w", ruleID, err)
		}
		subset := true
		for _, tagID := range ruleTags {
			if !checkTags[tagID] {
				subset = false
				break
			}
		}
		if subset {
			matched[ruleID] = true
		}
	}
	for _, ruleID := range genericIDs {
		matched[ruleID] = true
	}

	for ruleID := range matched {
		rule, err := d.store.GetRule(ctx, ruleID)
		if err != nil {
			return fmt.Errorf("failed to get rule %s: %w", ruleID, err)
		}

		route := &database.Route{
			CheckID:        checkID,
			RuleID:         rule.ID,
			ConditionsList: append([]database.Severity(nil), rule.ConditionsList...),
			IsAlerting:     false,
		}
		if err := d.store.CreateRoute(ctx, route); err != nil {
			return fmt.Errorf("failed to create route: %w", err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"check_id": checkID,
		"routes":   len(matched),
	}).Debug("Recalculated routes")

	return nil
}
