package alerting

import (
	"context"
	"testing"
	"time"

	"vigil/internal/database"
)

var statesBase = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func newTracker(store database.Store, at time.Time) *StateTracker {
	tracker := NewStateTracker(store)
	tracker.now = func() time.Time { return at }
	return tracker
}

func TestRecordObservationRefreshesInPlace(t *testing.T) {
	store := newTestStore(t)
	tracker := newTracker(store, statesBase)
	ctx := context.Background()

	check := createCheck(t, store, "obs:svc")

	first, err := tracker.RecordObservation(ctx, check, database.SeverityCritical, "down", "", statesBase)
	if err != nil {
		t.Fatalf("RecordObservation: %v", err)
	}

	// Same severity again: the state record is refreshed, not appended.
	later := statesBase.Add(time.Minute)
	second, err := tracker.RecordObservation(ctx, check, database.SeverityCritical, "still down", "", later)
	if err != nil {
		t.Fatalf("RecordObservation refresh: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("refresh created a new state %s, want %s", second.ID, first.ID)
	}

	states, _ := store.StatesForCheck(ctx, check.ID)
	if len(states) != 1 {
		t.Fatalf("history length = %d, want 1", len(states))
	}
	if states[0].Summary != "still down" {
		t.Errorf("summary = %q", states[0].Summary)
	}
	if !states[0].CreatedAt.Equal(statesBase) || !states[0].UpdatedAt.Equal(later) {
		t.Errorf("timestamps = created %v updated %v", states[0].CreatedAt, states[0].UpdatedAt)
	}

	// A severity change appends.
	third, err := tracker.RecordObservation(ctx, check, database.SeverityOK, "recovered", "", later.Add(time.Minute))
	if err != nil {
		t.Fatalf("RecordObservation change: %v", err)
	}
	if third.ID == first.ID {
		t.Error("severity change reused the old state")
	}
	states, _ = store.StatesForCheck(ctx, check.ID)
	if len(states) != 2 {
		t.Errorf("history length = %d, want 2", len(states))
	}
}

func TestMostSevereTracking(t *testing.T) {
	store := newTestStore(t)
	tracker := newTracker(store, statesBase)
	ctx := context.Background()

	check := createCheck(t, store, "sev:svc")

	at := statesBase
	observe := func(sev database.Severity) *database.Check {
		t.Helper()
		fresh, err := store.GetCheck(ctx, check.ID)
		if err != nil {
			t.Fatalf("GetCheck: %v", err)
		}
		if _, err := tracker.RecordObservation(ctx, fresh, sev, "", "", at); err != nil {
			t.Fatalf("RecordObservation(%s): %v", sev, err)
		}
		at = at.Add(time.Minute)
		fresh, _ = store.GetCheck(ctx, check.ID)
		return fresh
	}

	got := observe(database.SeverityWarning)
	warningStateID := got.MostSevereID
	if warningStateID == "" {
		t.Fatal("warning did not set most-severe pointer")
	}

	got = observe(database.SeverityCritical)
	if got.MostSevereID == warningStateID || got.MostSevereID == "" {
		t.Errorf("critical did not advance most-severe pointer: %q", got.MostSevereID)
	}
	criticalStateID := got.MostSevereID

	// Unknown ranks below critical; the pointer must hold.
	got = observe(database.SeverityUnknown)
	if got.MostSevereID != criticalStateID {
		t.Errorf("lower severity moved most-severe pointer to %q", got.MostSevereID)
	}

	// Recovery resolves it.
	got = observe(database.SeverityOK)
	if got.MostSevereID != "" {
		t.Errorf("recovery left most-severe pointer %q", got.MostSevereID)
	}
}

func TestLastUpdateAndLastChange(t *testing.T) {
	store := newTestStore(t)
	tracker := newTracker(store, statesBase)
	ctx := context.Background()

	check := createCheck(t, store, "times:svc")

	if _, err := tracker.LastUpdate(ctx, check.ID); err == nil {
		t.Error("LastUpdate on stateless check did not fail")
	}

	if _, err := tracker.RecordObservation(ctx, check, database.SeverityWarning, "", "", statesBase); err != nil {
		t.Fatalf("RecordObservation: %v", err)
	}
	refresh := statesBase.Add(5 * time.Minute)
	if _, err := tracker.RecordObservation(ctx, check, database.SeverityWarning, "", "", refresh); err != nil {
		t.Fatalf("RecordObservation refresh: %v", err)
	}

	update, err := tracker.LastUpdate(ctx, check.ID)
	if err != nil {
		t.Fatalf("LastUpdate: %v", err)
	}
	if !update.Equal(refresh) {
		t.Errorf("LastUpdate = %v, want %v", update, refresh)
	}

	change, err := tracker.LastChange(ctx, check.ID)
	if err != nil {
		t.Fatalf("LastChange: %v", err)
	}
	if !change.Equal(statesBase) {
		t.Errorf("LastChange = %v, want %v", change, statesBase)
	}
}

func TestSplitByFreshness(t *testing.T) {
	store := newTestStore(t)
	now := statesBase
	tracker := newTracker(store, now)
	ctx := context.Background()

	observe := func(name string, age time.Duration) {
		t.Helper()
		check := createCheck(t, store, name)
		if _, err := tracker.RecordObservation(ctx, check, database.SeverityOK, "", "", now.Add(-age)); err != nil {
			t.Fatalf("RecordObservation(%s): %v", name, err)
		}
	}

	observe("fresh:svc", 0)
	observe("minutes:svc", 120*time.Second)
	observe("old:svc", 600*time.Second)
	createCheck(t, store, "stateless:svc") // no states, excluded

	disabled := createCheck(t, store, "disabled:svc")
	if _, err := tracker.RecordObservation(ctx, disabled, database.SeverityOK, "", "", now); err != nil {
		t.Fatalf("RecordObservation: %v", err)
	}
	disabled, _ = store.GetCheck(ctx, disabled.ID)
	disabled.Enabled = false
	if err := store.UpdateCheck(ctx, disabled); err != nil {
		t.Fatalf("UpdateCheck: %v", err)
	}

	names, err := tracker.FreshnessNames(ctx, []int{60, 300})
	if err != nil {
		t.Fatalf("FreshnessNames: %v", err)
	}

	want := map[int][]string{
		0:   {"fresh:svc"},
		60:  {"minutes:svc"},
		300: {"old:svc"},
	}
	if len(names) != len(want) {
		t.Fatalf("buckets = %v, want thresholds 0, 60, 300", names)
	}
	for threshold, members := range want {
		got, ok := names[threshold]
		if !ok {
			t.Errorf("bucket %d missing", threshold)
			continue
		}
		if len(got) != len(members) || (len(got) > 0 && got[0] != members[0]) {
			t.Errorf("bucket %d = %v, want %v", threshold, got, members)
		}
	}
}

func TestSplitByFreshnessEmptyBucketsPresent(t *testing.T) {
	store := newTestStore(t)
	tracker := newTracker(store, statesBase)

	counts, err := tracker.FreshnessCounts(context.Background(), []int{60, 300, 60, -5})
	if err != nil {
		t.Fatalf("FreshnessCounts: %v", err)
	}

	// Duplicates and negatives are dropped, the zero bucket is implicit,
	// and every bucket is present even with no checks at all.
	for _, threshold := range []int{0, 60, 300} {
		if count, ok := counts[threshold]; !ok || count != 0 {
			t.Errorf("bucket %d = (%d, %v), want present and empty", threshold, count, ok)
		}
	}
	if len(counts) != 3 {
		t.Errorf("bucket count = %d, want 3", len(counts))
	}
}

func TestBucketForTopOverflow(t *testing.T) {
	thresholds := []int{0, 60, 300}

	cases := []struct {
		age  int
		want int
	}{
		{0, 0},
		{59, 0},
		{60, 60},
		{299, 60},
		{300, 300},
		{100000, 300},
	}
	for _, tc := range cases {
		if got := bucketFor(thresholds, tc.age); got != tc.want {
			t.Errorf("bucketFor(%d) = %d, want %d", tc.age, got, tc.want)
		}
	}
}
