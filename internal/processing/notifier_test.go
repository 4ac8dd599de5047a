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

type notifierFixture struct {
	store       database.Store
	broker      *queue.Broker
	notifier    *Notifier
	maintenance *alerting.MaintenanceManager
	check       *database.Check
	contact     *database.Contact
}

// newNotifierFixture builds a check tagged "production", a contact with
// an unconditional rule on that tag, derived routes, and a notifier for
// the given transports.
func newNotifierFixture(t *testing.T, transports []string) *notifierFixture {
	t.Helper()
	store, err := database.NewBoltStore(filepath.Join(t.TempDir(), "vigil.db"))
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	check := &database.Check{Name: "web01:http", Enabled: true}
	if err := store.CreateCheck(ctx, check); err != nil {
		t.Fatalf("CreateCheck: %v", err)
	}
	if err := store.CreateTag(ctx, &database.Tag{Name: "production"}); err != nil {
		t.Fatalf("CreateTag: %v", err)
	}
	if err := store.LinkCheckTag(ctx, check.ID, "production"); err != nil {
		t.Fatalf("LinkCheckTag: %v", err)
	}

	contact := &database.Contact{Name: "oncall"}
	if err := store.CreateContact(ctx, contact); err != nil {
		t.Fatalf("CreateContact: %v", err)
	}
	rule := &database.Rule{ContactID: contact.ID}
	if err := store.CreateRule(ctx, rule); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if err := store.LinkRuleTag(ctx, rule.ID, "production"); err != nil {
		t.Fatalf("LinkRuleTag: %v", err)
	}
	if err := alerting.NewDeriver(store).RecalculateRoutes(ctx, check.ID); err != nil {
		t.Fatalf("RecalculateRoutes: %v", err)
	}

	broker := queue.NewBroker()
	resolver := alerting.NewResolver(store)
	locks := database.NewLockManager()
	maintenance := alerting.NewMaintenanceManager(store, locks)

	notifier := NewNotifier(store, resolver, maintenance, locks, broker, transports)
	notifier.now = func() time.Time {
		return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	}

	return &notifierFixture{
		store:       store,
		broker:      broker,
		notifier:    notifier,
		maintenance: maintenance,
		check:       check,
		contact:     contact,
	}
}

func (f *notifierFixture) addMedium(t *testing.T, transport, address string) {
	t.Helper()
	medium := &database.Medium{
		ContactID: f.contact.ID,
		Transport: transport,
		Address:   address,
	}
	if err := f.store.CreateMedium(context.Background(), medium); err != nil {
		t.Fatalf("CreateMedium: %v", err)
	}
}

func (f *notifierFixture) dispatch(t *testing.T, condition database.Severity, recovery bool) {
	t.Helper()
	err := f.notifier.dispatch(context.Background(), Notification{
		CheckID:   f.check.ID,
		CheckName: f.check.Name,
		Condition: condition,
		Summary:   "a summary",
		AckHash:   "deadbeef",
		Recovery:  recovery,
		Time:      time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
}

func popMessage(t *testing.T, q *queue.Queue) *Message {
	t.Helper()
	item, ok := q.TryPop()
	if !ok {
		return nil
	}
	var msg Message
	if err := decode(item, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return &msg
}

func TestDispatchFansOutPerMedium(t *testing.T) {
	f := newNotifierFixture(t, []string{"email", "slack"})
	f.addMedium(t, "email", "oncall@example.com")
	f.addMedium(t, "slack", "https://hooks.slack.example/T000")

	f.dispatch(t, database.SeverityCritical, false)

	email := popMessage(t, f.broker.Get("email"))
	if email == nil || email.Address != "oncall@example.com" {
		t.Errorf("email message = %+v", email)
	}
	slack := popMessage(t, f.broker.Get("slack"))
	if slack == nil || slack.Transport != "slack" {
		t.Errorf("slack message = %+v", slack)
	}
	if email != nil && (email.CheckName != "web01:http" || email.AckHash != "deadbeef") {
		t.Errorf("message payload = %+v", email)
	}
}

func TestDispatchSkipsDisabledTransports(t *testing.T) {
	f := newNotifierFixture(t, []string{"email"})
	f.addMedium(t, "email", "oncall@example.com")
	f.addMedium(t, "slack", "https://hooks.slack.example/T000")

	f.dispatch(t, database.SeverityCritical, false)

	if msg := popMessage(t, f.broker.Get("email")); msg == nil {
		t.Error("enabled transport got no message")
	}
	if msg := popMessage(t, f.broker.Get("slack")); msg != nil {
		t.Errorf("disabled transport got message: %+v", msg)
	}
}

func TestDispatchMarksRoutesAlerting(t *testing.T) {
	f := newNotifierFixture(t, []string{"email"})
	f.addMedium(t, "email", "oncall@example.com")

	f.dispatch(t, database.SeverityCritical, false)

	routes, err := f.store.RoutesForCheck(context.Background(), f.check.ID)
	if err != nil {
		t.Fatalf("RoutesForCheck: %v", err)
	}
	if len(routes) != 1 || !routes[0].IsAlerting {
		t.Errorf("routes after dispatch = %+v", routes)
	}
}

func TestRecoveryDispatchIgnoresConditionFilter(t *testing.T) {
	f := newNotifierFixture(t, []string{"email"})
	f.addMedium(t, "email", "oncall@example.com")

	// Narrow the route's conditions to critical only; a recovery (ok)
	// must still reach the contact.
	ctx := context.Background()
	routes, _ := f.store.RoutesForCheck(ctx, f.check.ID)
	routes[0].ConditionsList = []database.Severity{database.SeverityCritical}
	if err := f.store.UpdateRoute(ctx, &routes[0]); err != nil {
		t.Fatalf("UpdateRoute: %v", err)
	}

	f.dispatch(t, database.SeverityOK, true)

	msg := popMessage(t, f.broker.Get("email"))
	if msg == nil || !msg.Recovery {
		t.Fatalf("recovery message = %+v", msg)
	}

	// Recovery never sets the alerting flag.
	routes, _ = f.store.RoutesForCheck(ctx, f.check.ID)
	if routes[0].IsAlerting {
		t.Error("recovery dispatch marked route alerting")
	}
}

func TestDispatchSuppressedDuringMaintenance(t *testing.T) {
	f := newNotifierFixture(t, []string{"email"})
	f.addMedium(t, "email", "oncall@example.com")

	// Window applied after the notification was queued but before
	// dispatch runs. The dispatch decision must see it.
	ctx := context.Background()
	err := f.maintenance.SetUnscheduled(ctx, &database.MaintenanceWindow{
		CheckID:   f.check.ID,
		StartTime: time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC),
		Summary:   "acked",
	})
	if err != nil {
		t.Fatalf("SetUnscheduled: %v", err)
	}

	f.dispatch(t, database.SeverityCritical, false)

	if msg := popMessage(t, f.broker.Get("email")); msg != nil {
		t.Errorf("message delivered during unscheduled maintenance: %+v", msg)
	}
	routes, _ := f.store.RoutesForCheck(ctx, f.check.ID)
	if len(routes) != 1 || routes[0].IsAlerting {
		t.Errorf("suppressed dispatch marked route alerting: %+v", routes)
	}

	// Recoveries still go out inside the window.
	f.dispatch(t, database.SeverityOK, true)
	if msg := popMessage(t, f.broker.Get("email")); msg == nil || !msg.Recovery {
		t.Errorf("recovery during maintenance = %+v", msg)
	}
}

func TestDispatchNoRoutesNoMessages(t *testing.T) {
	f := newNotifierFixture(t, []string{"email"})
	f.addMedium(t, "email", "oncall@example.com")

	ctx := context.Background()
	if err := f.store.DeleteRoutesForCheck(ctx, f.check.ID); err != nil {
		t.Fatalf("DeleteRoutesForCheck: %v", err)
	}

	f.dispatch(t, database.SeverityCritical, false)

	if msg := popMessage(t, f.broker.Get("email")); msg != nil {
		t.Errorf("routeless check produced message: %+v", msg)
	}
}
