package alerting

import (
	"context"
	"testing"
	"time"

	"vigil/internal/database"
)

var maintBase = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func newMaintenanceManager(store database.Store, at time.Time) *MaintenanceManager {
	m := NewMaintenanceManager(store, database.NewLockManager())
	m.now = func() time.Time { return at }
	return m
}

func addWindow(t *testing.T, m *MaintenanceManager, checkID string, kind database.MaintenanceKind, start, end time.Time) *database.MaintenanceWindow {
	t.Helper()
	window := &database.MaintenanceWindow{
		CheckID:   checkID,
		Kind:      kind,
		StartTime: start,
		EndTime:   end,
	}
	if err := m.Add(context.Background(), window); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return window
}

func TestEndCancelsFutureWindow(t *testing.T) {
	store := newTestStore(t)
	m := newMaintenanceManager(store, maintBase)
	ctx := context.Background()

	check := createCheck(t, store, "maint:svc")
	window := addWindow(t, m, check.ID, database.ScheduledMaintenance,
		maintBase.Add(time.Hour), maintBase.Add(2*time.Hour))

	changed, err := m.End(ctx, window, maintBase)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if !changed {
		t.Fatal("End on future window returned false")
	}
	if _, err := store.GetMaintenance(ctx, window.ID); err == nil {
		t.Error("cancelled window still exists")
	}
}

func TestEndTruncatesSpanningWindow(t *testing.T) {
	store := newTestStore(t)
	m := newMaintenanceManager(store, maintBase)
	ctx := context.Background()

	check := createCheck(t, store, "maint:svc")
	window := addWindow(t, m, check.ID, database.ScheduledMaintenance,
		maintBase.Add(-time.Hour), maintBase.Add(time.Hour))

	at := maintBase.Add(10 * time.Minute)
	changed, err := m.End(ctx, window, at)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if !changed {
		t.Fatal("End on spanning window returned false")
	}

	got, err := store.GetMaintenance(ctx, window.ID)
	if err != nil {
		t.Fatalf("GetMaintenance: %v", err)
	}
	if !got.EndTime.Equal(at) {
		t.Errorf("end time = %v, want %v", got.EndTime, at)
	}
}

func TestEndIgnoresPastWindow(t *testing.T) {
	store := newTestStore(t)
	m := newMaintenanceManager(store, maintBase)
	ctx := context.Background()

	check := createCheck(t, store, "maint:svc")
	window := addWindow(t, m, check.ID, database.ScheduledMaintenance,
		maintBase.Add(-2*time.Hour), maintBase.Add(-time.Hour))

	changed, err := m.End(ctx, window, maintBase)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if changed {
		t.Error("End on finished window returned true")
	}
	got, _ := store.GetMaintenance(ctx, window.ID)
	if !got.EndTime.Equal(window.EndTime) {
		t.Errorf("finished window mutated: %v", got.EndTime)
	}
}

func TestAtPicksLongestOverlap(t *testing.T) {
	store := newTestStore(t)
	m := newMaintenanceManager(store, maintBase)
	ctx := context.Background()

	check := createCheck(t, store, "maint:svc")
	addWindow(t, m, check.ID, database.ScheduledMaintenance,
		maintBase.Add(-time.Hour), maintBase.Add(30*time.Minute))
	longest := addWindow(t, m, check.ID, database.ScheduledMaintenance,
		maintBase.Add(-30*time.Minute), maintBase.Add(2*time.Hour))
	addWindow(t, m, check.ID, database.ScheduledMaintenance,
		maintBase.Add(time.Hour), maintBase.Add(3*time.Hour)) // not started yet

	got, err := m.At(ctx, database.ScheduledMaintenance, check.ID, maintBase)
	if err != nil {
		t.Fatalf("At: %v", err)
	}
	if got == nil || got.ID != longest.ID {
		t.Errorf("At = %+v, want window %s", got, longest.ID)
	}
}

// A scheduled window ending exactly at the query time still counts; an
// unscheduled one does not.
func TestAtBoundarySemantics(t *testing.T) {
	store := newTestStore(t)
	m := newMaintenanceManager(store, maintBase)
	ctx := context.Background()

	check := createCheck(t, store, "maint:svc")
	addWindow(t, m, check.ID, database.ScheduledMaintenance,
		maintBase.Add(-time.Hour), maintBase)
	addWindow(t, m, check.ID, database.UnscheduledMaintenance,
		maintBase.Add(-time.Hour), maintBase)

	sched, err := m.At(ctx, database.ScheduledMaintenance, check.ID, maintBase)
	if err != nil {
		t.Fatalf("At scheduled: %v", err)
	}
	if sched == nil {
		t.Error("scheduled window ending at t excluded, want included")
	}

	unsched, err := m.At(ctx, database.UnscheduledMaintenance, check.ID, maintBase)
	if err != nil {
		t.Fatalf("At unscheduled: %v", err)
	}
	if unsched != nil {
		t.Errorf("unscheduled window ending at t included: %+v", unsched)
	}
}

func TestSetUnscheduledReplacesActive(t *testing.T) {
	store := newTestStore(t)
	m := newMaintenanceManager(store, maintBase)
	ctx := context.Background()

	check := createCheck(t, store, "maint:svc")
	old := addWindow(t, m, check.ID, database.UnscheduledMaintenance,
		maintBase.Add(-time.Hour), maintBase.Add(time.Hour))

	replacement := &database.MaintenanceWindow{
		CheckID:   check.ID,
		StartTime: maintBase,
		EndTime:   maintBase.Add(30 * time.Minute),
	}
	if err := m.SetUnscheduled(ctx, replacement); err != nil {
		t.Fatalf("SetUnscheduled: %v", err)
	}
	if replacement.Kind != database.UnscheduledMaintenance {
		t.Errorf("kind = %s", replacement.Kind)
	}

	// The old window was truncated to now, so only the new one is active
	// just after.
	got, err := m.At(ctx, database.UnscheduledMaintenance, check.ID, maintBase.Add(time.Minute))
	if err != nil {
		t.Fatalf("At: %v", err)
	}
	if got == nil || got.ID != replacement.ID {
		t.Errorf("active window = %+v, want %s", got, replacement.ID)
	}

	oldGot, err := store.GetMaintenance(ctx, old.ID)
	if err != nil {
		t.Fatalf("GetMaintenance old: %v", err)
	}
	if !oldGot.EndTime.Equal(maintBase) {
		t.Errorf("old window end = %v, want %v", oldGot.EndTime, maintBase)
	}
}

func TestSetUnscheduledClearsAlertingRoutes(t *testing.T) {
	store := newTestStore(t)
	m := newMaintenanceManager(store, maintBase)
	deriver := NewDeriver(store)
	ctx := context.Background()

	check := createCheck(t, store, "maint:svc", "production")
	contact := createContact(t, store, "oncall")
	createRule(t, store, contact.ID, nil, "production")
	if err := deriver.RecalculateRoutes(ctx, check.ID); err != nil {
		t.Fatalf("RecalculateRoutes: %v", err)
	}

	routes, _ := store.RoutesForCheck(ctx, check.ID)
	if len(routes) != 1 {
		t.Fatalf("derived %d routes", len(routes))
	}
	routes[0].IsAlerting = true
	if err := store.UpdateRoute(ctx, &routes[0]); err != nil {
		t.Fatalf("UpdateRoute: %v", err)
	}

	window := &database.MaintenanceWindow{
		CheckID:   check.ID,
		StartTime: maintBase,
		EndTime:   maintBase.Add(time.Hour),
	}
	if err := m.SetUnscheduled(ctx, window); err != nil {
		t.Fatalf("SetUnscheduled: %v", err)
	}

	routes, _ = store.RoutesForCheck(ctx, check.ID)
	if routes[0].IsAlerting {
		t.Error("alerting flag not cleared by acknowledgement")
	}
}

func TestClear(t *testing.T) {
	store := newTestStore(t)
	m := newMaintenanceManager(store, maintBase)
	ctx := context.Background()

	check := createCheck(t, store, "maint:svc")

	// Nothing active yet.
	ended, err := m.Clear(ctx, check.ID, maintBase)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if ended {
		t.Error("Clear with no active window returned true")
	}

	window := addWindow(t, m, check.ID, database.UnscheduledMaintenance,
		maintBase.Add(-time.Minute), maintBase.Add(time.Hour))

	ended, err = m.Clear(ctx, check.ID, maintBase)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if !ended {
		t.Fatal("Clear did not end the active window")
	}
	got, _ := store.GetMaintenance(ctx, window.ID)
	if !got.EndTime.Equal(maintBase) {
		t.Errorf("cleared window end = %v, want %v", got.EndTime, maintBase)
	}
}
