package processing

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"vigil/internal/alerting"
	"vigil/internal/database"
	"vigil/internal/queue"
)

var procBase = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

type procFixture struct {
	store     database.Store
	broker    *queue.Broker
	processor *Processor
	out       *queue.Queue
}

func newProcFixture(t *testing.T) *procFixture {
	t.Helper()
	store, err := database.NewBoltStore(filepath.Join(t.TempDir(), "vigil.db"))
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	locks := database.NewLockManager()
	broker := queue.NewBroker()
	tracker := alerting.NewStateTracker(store)
	maintenance := alerting.NewMaintenanceManager(store, locks)

	return &procFixture{
		store:     store,
		broker:    broker,
		processor: NewProcessor(store, tracker, maintenance, broker),
		out:       broker.Get(NotificationQueue),
	}
}

func (f *procFixture) processEvent(t *testing.T, name string, condition database.Severity, at time.Time) {
	t.Helper()
	err := f.processor.processEvent(context.Background(), Event{
		Check:     name,
		Condition: condition,
		Summary:   "test event",
		Time:      at,
	})
	if err != nil {
		t.Fatalf("processEvent(%s, %s): %v", name, condition, err)
	}
}

func (f *procFixture) popNotification(t *testing.T) *Notification {
	t.Helper()
	item, ok := f.out.TryPop()
	if !ok {
		return nil
	}
	var n Notification
	if err := decode(item, &n); err != nil {
		t.Fatalf("decode notification: %v", err)
	}
	return &n
}

func TestProcessEventCreatesCheck(t *testing.T) {
	f := newProcFixture(t)
	ctx := context.Background()

	f.processEvent(t, "auto:created", database.SeverityCritical, procBase)

	check, err := f.store.GetCheckByName(ctx, "auto:created")
	if err != nil {
		t.Fatalf("check not created: %v", err)
	}
	if !check.Enabled {
		t.Error("implicit check not enabled")
	}

	states, err := f.store.StatesForCheck(ctx, check.ID)
	if err != nil || len(states) != 1 {
		t.Fatalf("states = %v (%v)", states, err)
	}
	if states[0].Condition != database.SeverityCritical {
		t.Errorf("recorded condition = %s", states[0].Condition)
	}
}

func TestProcessEventRejectsUnknownSeverity(t *testing.T) {
	f := newProcFixture(t)

	err := f.processor.processEvent(context.Background(), Event{
		Check:     "bad:svc",
		Condition: "exploded",
		Time:      procBase,
	})
	if err == nil {
		t.Fatal("unknown severity accepted")
	}
	if _, err := f.store.GetCheckByName(context.Background(), "bad:svc"); err == nil {
		t.Error("check created from invalid event")
	}
}

func TestProblemNotifiesImmediatelyWithoutDelay(t *testing.T) {
	f := newProcFixture(t)

	f.processEvent(t, "web01:http", database.SeverityCritical, procBase)

	n := f.popNotification(t)
	if n == nil {
		t.Fatal("no notification queued")
	}
	if n.Recovery || n.Condition != database.SeverityCritical {
		t.Errorf("notification = %+v", n)
	}
	if len(n.AckHash) != 8 {
		t.Errorf("ack hash = %q", n.AckHash)
	}
}

func TestInitialFailureDelay(t *testing.T) {
	f := newProcFixture(t)
	f.processor.SetDefaultDelays(60, 0)

	f.processEvent(t, "web01:http", database.SeverityCritical, procBase)
	if n := f.popNotification(t); n != nil {
		t.Fatalf("notified inside initial delay: %+v", n)
	}

	// Still within the delay window.
	f.processEvent(t, "web01:http", database.SeverityCritical, procBase.Add(30*time.Second))
	if n := f.popNotification(t); n != nil {
		t.Fatalf("notified at 30s of a 60s delay: %+v", n)
	}

	// Past it.
	f.processEvent(t, "web01:http", database.SeverityCritical, procBase.Add(61*time.Second))
	if n := f.popNotification(t); n == nil {
		t.Fatal("no notification after waiting out the initial delay")
	}
}

func TestRepeatFailureDelay(t *testing.T) {
	f := newProcFixture(t)
	f.processor.SetDefaultDelays(0, 300)

	f.processEvent(t, "web01:http", database.SeverityCritical, procBase)
	if n := f.popNotification(t); n == nil {
		t.Fatal("first notification missing")
	}

	f.processEvent(t, "web01:http", database.SeverityCritical, procBase.Add(time.Minute))
	if n := f.popNotification(t); n != nil {
		t.Fatalf("re-alerted inside repeat delay: %+v", n)
	}

	f.processEvent(t, "web01:http", database.SeverityCritical, procBase.Add(6*time.Minute))
	if n := f.popNotification(t); n == nil {
		t.Fatal("no re-alert after repeat delay elapsed")
	}
}

func TestRecoveryOnlyAfterAlert(t *testing.T) {
	f := newProcFixture(t)

	// ok -> ok never notifies.
	f.processEvent(t, "web01:http", database.SeverityOK, procBase)
	f.processEvent(t, "web01:http", database.SeverityOK, procBase.Add(time.Minute))
	if n := f.popNotification(t); n != nil {
		t.Fatalf("healthy check notified: %+v", n)
	}

	// Problem, alert, then recovery notifies.
	f.processEvent(t, "web01:http", database.SeverityCritical, procBase.Add(2*time.Minute))
	if n := f.popNotification(t); n == nil {
		t.Fatal("problem did not alert")
	}
	f.processEvent(t, "web01:http", database.SeverityOK, procBase.Add(3*time.Minute))
	n := f.popNotification(t)
	if n == nil || !n.Recovery {
		t.Fatalf("recovery notification = %+v", n)
	}
}

func TestSilentProblemRecoversSilently(t *testing.T) {
	f := newProcFixture(t)
	f.processor.SetDefaultDelays(600, 0)

	// The problem never outlives its initial delay, so neither it nor
	// its recovery alert.
	f.processEvent(t, "web01:http", database.SeverityCritical, procBase)
	f.processEvent(t, "web01:http", database.SeverityOK, procBase.Add(time.Minute))
	if n := f.popNotification(t); n != nil {
		t.Fatalf("silent problem produced notification: %+v", n)
	}
}

func TestMaintenanceSuppressesNotifications(t *testing.T) {
	f := newProcFixture(t)
	ctx := context.Background()

	// Create the check up front so a window can reference it.
	f.processEvent(t, "web01:http", database.SeverityOK, procBase)
	check, err := f.store.GetCheckByName(ctx, "web01:http")
	if err != nil {
		t.Fatalf("GetCheckByName: %v", err)
	}

	window := &database.MaintenanceWindow{
		CheckID:   check.ID,
		Kind:      database.ScheduledMaintenance,
		StartTime: procBase,
		EndTime:   procBase.Add(time.Hour),
	}
	if err := f.store.CreateMaintenance(ctx, window); err != nil {
		t.Fatalf("CreateMaintenance: %v", err)
	}

	f.processEvent(t, "web01:http", database.SeverityCritical, procBase.Add(30*time.Minute))
	if n := f.popNotification(t); n != nil {
		t.Fatalf("notified during maintenance: %+v", n)
	}

	// Outside the window the next event alerts.
	f.processEvent(t, "web01:http", database.SeverityCritical, procBase.Add(2*time.Hour))
	if n := f.popNotification(t); n == nil {
		t.Fatal("no notification after maintenance ended")
	}
}

func TestDisabledCheckNeverNotifies(t *testing.T) {
	f := newProcFixture(t)
	ctx := context.Background()

	f.processEvent(t, "web01:http", database.SeverityOK, procBase)
	check, _ := f.store.GetCheckByName(ctx, "web01:http")
	check.Enabled = false
	if err := f.store.UpdateCheck(ctx, check); err != nil {
		t.Fatalf("UpdateCheck: %v", err)
	}

	f.processEvent(t, "web01:http", database.SeverityCritical, procBase.Add(time.Minute))
	if n := f.popNotification(t); n != nil {
		t.Fatalf("disabled check notified: %+v", n)
	}
	// The state is still recorded though.
	states, _ := f.store.StatesForCheck(ctx, check.ID)
	if len(states) != 2 {
		t.Errorf("states = %d, want 2", len(states))
	}
}
