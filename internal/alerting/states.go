// internal/alerting/states.go - severity history and freshness bucketing
package alerting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"vigil/internal/database"
)

// StateTracker maintains each check's ordered severity history and
// answers freshness questions over the whole check population.
type StateTracker struct {
	store database.Store
	now   func() time.Time
}

func NewStateTracker(store database.Store) *StateTracker {
	return &StateTracker{
		store: store,
		now:   time.Now,
	}
}

// RecordObservation folds a severity observation into the check's
// history. An unchanged severity refreshes the current state's entry
// value in place; a changed severity appends a new state. The check's
// most-severe pointer follows the highest-ranked live condition.
func (t *StateTracker) RecordObservation(ctx context.Context, check *database.Check, condition database.Severity, summary, details string, at time.Time) (*database.State, error) {
	latest, err := t.store.LatestState(ctx, check.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest state: %w", err)
	}

	if latest != nil && latest.Condition == condition {
		latest.Summary = summary
		latest.Details = details
		latest.UpdatedAt = at
		if err := t.store.UpdateState(ctx, latest); err != nil {
			return nil, fmt.Errorf("failed to refresh state: %w", err)
		}
		return latest, nil
	}

	state := &database.State{
		CheckID:   check.ID,
		Condition: condition,
		Summary:   summary,
		Details:   details,
		CreatedAt: at,
		UpdatedAt: at,
	}
	if err := t.store.CreateState(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to create state: %w", err)
	}

	if err := t.trackMostSevere(ctx, check, state); err != nil {
		logrus.WithError(err).WithField("check_id", check.ID).Warn("Failed to update most-severe pointer")
	}

	return state, nil
}

func (t *StateTracker) trackMostSevere(ctx context.Context, check *database.Check, state *database.State) error {
	if state.Condition.Healthy() {
		// Recovery resolves the live most-severe state.
		if check.MostSevereID == "" {
			return nil
		}
		check.MostSevereID = ""
		return t.store.UpdateCheck(ctx, check)
	}

	if check.MostSevereID != "" {
		current, err := t.store.GetState(ctx, check.MostSevereID)
		if err == nil && current.Condition.Rank() >= state.Condition.Rank() {
			return nil
		}
	}
	check.MostSevereID = state.ID
	return t.store.UpdateCheck(ctx, check)
}

// LastUpdate returns the time of the current state's most recent entry,
// which moves on in-place refreshes.
func (t *StateTracker) LastUpdate(ctx context.Context, checkID string) (time.Time, error) {
	latest, err := t.store.LatestState(ctx, checkID)
	if err != nil {
		return time.Time{}, err
	}
	if latest == nil {
		return time.Time{}, fmt.Errorf("check has no states")
	}
	return latest.UpdatedAt, nil
}

// LastChange returns the time the current severity was first observed.
func (t *StateTracker) LastChange(ctx context.Context, checkID string) (time.Time, error) {
	latest, err := t.store.LatestState(ctx, checkID)
	if err != nil {
		return time.Time{}, err
	}
	if latest == nil {
		return time.Time{}, fmt.Errorf("check has no states")
	}
	return latest.CreatedAt, nil
}

// FreshnessEntry names a check and the timestamp of its last update.
type FreshnessEntry struct {
	Name       string    `json:"name"`
	LastUpdate time.Time `json:"last_update"`
}

// SplitByFreshness buckets every enabled check by the age of its last
// state. The thresholds gain an implicit 0 and are de-duplicated; a
// check falls into the largest threshold not exceeding its age, with
// ages past the largest threshold collected there. Checks with no
// recorded state are excluded. Every bucket appears in the result, empty
// or not.
func (t *StateTracker) SplitByFreshness(ctx context.Context, ages []int) (map[int][]FreshnessEntry, error) {
	thresholds := normalizeAges(ages)

	buckets := make(map[int][]FreshnessEntry, len(thresholds))
	for _, threshold := range thresholds {
		buckets[threshold] = []FreshnessEntry{}
	}

	enabled := true
	checks, err := t.store.GetChecks(ctx, database.CheckFilters{Enabled: &enabled})
	if err != nil {
		return nil, fmt.Errorf("failed to get checks: %w", err)
	}

	now := t.now()
	for _, check := range checks {
		latest, err := t.store.LatestState(ctx, check.ID)
		if err != nil {
			return nil, err
		}
		if latest == nil {
			continue
		}

		age := int(now.Sub(latest.UpdatedAt).Seconds())
		if age < 0 {
			age = 0
		}

		bucket := bucketFor(thresholds, age)
		buckets[bucket] = append(buckets[bucket], FreshnessEntry{
			Name:       check.Name,
			LastUpdate: latest.UpdatedAt,
		})
	}

	return buckets, nil
}

// FreshnessCounts is SplitByFreshness reduced to member counts.
func (t *StateTracker) FreshnessCounts(ctx context.Context, ages []int) (map[int]int, error) {
	buckets, err := t.SplitByFreshness(ctx, ages)
	if err != nil {
		return nil, err
	}
	counts := make(map[int]int, len(buckets))
	for threshold, entries := range buckets {
		counts[threshold] = len(entries)
	}
	return counts, nil
}

// FreshnessNames is SplitByFreshness reduced to check names.
func (t *StateTracker) FreshnessNames(ctx context.Context, ages []int) (map[int][]string, error) {
	buckets, err := t.SplitByFreshness(ctx, ages)
	if err != nil {
		return nil, err
	}
	names := make(map[int][]string, len(buckets))
	for threshold, entries := range buckets {
		list := make([]string, 0, len(entries))
		for _, entry := range entries {
			list = append(list, entry.Name)
		}
		names[threshold] = list
	}
	return names, nil
}

// normalizeAges adds the implicit zero threshold, sorts ascending and
// drops duplicates and negatives.
func normalizeAges(ages []int) []int {
	seen := map[int]bool{0: true}
	thresholds := []int{0}
	for _, age := range ages {
		if age <= 0 || seen[age] {
			continue
		}
		seen[age] = true
		thresholds = append(thresholds, age)
	}
	sort.Ints(thresholds)
	return thresholds
}

// bucketFor finds the adjacent threshold pair (lo, hi) with
// lo <= age < hi; ages at or past the top threshold land there.
func bucketFor(thresholds []int, age int) int {
	top := thresholds[len(thresholds)-1]
	if age >= top {
		return top
	}
	for i := len(thresholds) - 2; i >= 0; i-- {
		if age >= thresholds[i] {
			return thresholds[i]
		}
	}
	return 0
}
