// internal/processing/processor.go - event processor pikelet
package processing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"vigil/internal/alerting"
	"vigil/internal/database"
	"vigil/internal/metrics"
	"vigil/internal/queue"
)

// Processor is the event-consuming pikelet: it blocks on the events
// queue, and while holding its processing lock drains whatever is
// available, folding each event into the check's state history and
// deciding whether it warrants a notification. The lock serializes the
// loop's own work against administrative operations running in the same
// process, not against other consumers.
type Processor struct {
	store       database.Store
	tracker     *alerting.StateTracker
	maintenance *alerting.MaintenanceManager
	events      *queue.Queue
	out         *queue.Queue
	mu          sync.Mutex
	onEvent     func(Event)

	// Seed delays for checks created from their first event, seconds.
	defaultInitialDelay int
	defaultRepeatDelay  int
}

func NewProcessor(store database.Store, tracker *alerting.StateTracker, maintenance *alerting.MaintenanceManager, broker *queue.Broker) *Processor {
	return &Processor{
		store:       store,
		tracker:     tracker,
		maintenance: maintenance,
		events:      broker.Get(EventQueue),
		out:         broker.Get(NotificationQueue),
	}
}

// SetDefaultDelays sets the failure delays given to checks created
// implicitly by their first event.
func (p *Processor) SetDefaultDelays(initial, repeat int) {
	p.defaultInitialDelay = initial
	p.defaultRepeatDelay = repeat
}

// OnEvent registers a callback invoked for every accepted event, after
// its state has been recorded. Used by the web layer's event feed.
func (p *Processor) OnEvent(fn func(Event)) {
	p.onEvent = fn
}

// Run blocks consuming events until the context ends. A failing event
// is logged and dropped; the loop resumes with the next item.
func (p *Processor) Run(ctx context.Context) error {
	logrus.Info("Starting event processor")

	for {
		item, err := p.events.Pop(ctx)
		if err != nil {
			logrus.Info("Stopping event processor")
			return err
		}

		p.mu.Lock()
		p.handle(ctx, item)
		for {
			next, ok := p.events.TryPop()
			if !ok {
				break
			}
			p.handle(ctx, next)
		}
		p.mu.Unlock()
	}
}

func (p *Processor) handle(ctx context.Context, item []byte) {
	var event Event
	if err := decode(item, &event); err != nil {
		logrus.WithError(err).Error("Discarding malformed event")
		metrics.EventsTotal.WithLabelValues("malformed").Inc()
		return
	}
	if err := p.processEvent(ctx, event); err != nil {
		logrus.WithError(err).WithField("check", event.Check).Error("Failed to process event")
		metrics.EventsTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.EventsTotal.WithLabelValues("ok").Inc()
}

func (p *Processor) processEvent(ctx context.Context, event Event) error {
	if event.Check == "" {
		return fmt.Errorf("event without check name")
	}
	if _, err := database.ParseSeverity(string(event.Condition)); err != nil {
		return err
	}
	at := event.Time
	if at.IsZero() {
		at = time.Now()
	}

	check, err := p.store.GetCheckByName(ctx, event.Check)
	if err != nil {
		// First observation of an unknown check creates it.
		check = &database.Check{
			Name:                event.Check,
			Enabled:             true,
			InitialFailureDelay: p.defaultInitialDelay,
			RepeatFailureDelay:  p.defaultRepeatDelay,
		}
		if err := p.store.CreateCheck(ctx, check); err != nil {
			return fmt.Errorf("failed to create check: %w", err)
		}
		logrus.WithField("check", event.Check).Info("Created check from event")
	}

	previous, err := p.store.LatestState(ctx, check.ID)
	if err != nil {
		return err
	}

	state, err := p.tracker.RecordObservation(ctx, check, event.Condition, event.Summary, event.Details, at)
	if err != nil {
		return err
	}

	if p.onEvent != nil {
		p.onEvent(event)
	}

	notify, recovery, err := p.shouldNotify(ctx, check, previous, state, at)
	if err != nil {
		return err
	}
	if !notify {
		return nil
	}

	ackHash, err := p.store.EnsureAckHash(ctx, check.ID)
	if err != nil {
		return err
	}

	// Refetch: RecordObservation may have moved the most-severe pointer.
	check, err = p.store.GetCheck(ctx, check.ID)
	if err != nil {
		return err
	}
	check.NotificationCount++
	check.LastNotificationAt = at
	if err := p.store.UpdateCheck(ctx, check); err != nil {
		return fmt.Errorf("failed to update notification counters: %w", err)
	}

	p.out.Push(encode(Notification{
		CheckID:   check.ID,
		CheckName: check.Name,
		Condition: event.Condition,
		Summary:   event.Summary,
		AckHash:   ackHash,
		Recovery:  recovery,
		Time:      at,
	}))
	metrics.NotificationsQueued.Inc()

	return nil
}

// shouldNotify applies maintenance suppression and the check's failure
// delays. Recovery fires only when a previously alerted problem heals.
func (p *Processor) shouldNotify(ctx context.Context, check *database.Check, previous, state *database.State, at time.Time) (bool, bool, error) {
	if !check.Enabled {
		return false, false, nil
	}

	if state.Condition.Healthy() {
		if previous == nil || previous.Condition.Healthy() {
			return false, false, nil
		}
		if check.NotificationCount == 0 || check.LastNotificationAt.Before(previous.CreatedAt) {
			// The problem never alerted; it recovers silently too.
			return false, false, nil
		}
		return true, true, nil
	}

	inSched, err := p.maintenance.InScheduledMaintenance(ctx, check.ID, at)
	if err != nil {
		return false, false, err
	}
	inUnsched, err := p.maintenance.InUnscheduledMaintenance(ctx, check.ID, at)
	if err != nil {
		return false, false, err
	}
	if inSched || inUnsched {
		metrics.NotificationsSuppressed.WithLabelValues("maintenance").Inc()
		return false, false, nil
	}

	// Before any alert for this problem, wait out the initial delay;
	// after one, re-alert no sooner than the repeat delay.
	alertedThisProblem := check.LastNotificationAt.After(state.CreatedAt) || check.LastNotificationAt.Equal(state.CreatedAt)
	if !alertedThisProblem {
		if at.Sub(state.CreatedAt) < time.Duration(check.InitialFailureDelay)*time.Second {
			metrics.NotificationsSuppressed.WithLabelValues("initial_delay").Inc()
			return false, false, nil
		}
		return true, false, nil
	}
	if at.Sub(check.LastNotificationAt) < time.Duration(check.RepeatFailureDelay)*time.Second {
		metrics.NotificationsSuppressed.WithLabelValues("repeat_delay").Inc()
		return false, false, nil
	}
	return true, false, nil
}
