// internal/alerting/maintenance.go - maintenance window lifecycle
package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"vigil/internal/database"
)

// MaintenanceManager handles the scheduled and unscheduled suppression
// windows of a check. Both kinds are dual-indexed by start and end time;
// point-in-time queries intersect the two indices.
type MaintenanceManager struct {
	store database.Store
	locks *database.LockManager
	now   func() time.Time
}

func NewMaintenanceManager(store database.Store, locks *database.LockManager) *MaintenanceManager {
	return &MaintenanceManager{
		store: store,
		locks: locks,
		now:   time.Now,
	}
}

// Add inserts a window into both of its check's index sequences.
func (m *MaintenanceManager) Add(ctx context.Context, window *database.MaintenanceWindow) error {
	return m.store.CreateMaintenance(ctx, window)
}

// End finishes a window at the given time. A window entirely in the
// future is destroyed outright (cancellation). A window spanning the
// time has its end moved there, re-indexed under the new key. A window
// that already ended is left alone; the false result tells the caller.
func (m *MaintenanceManager) End(ctx context.Context, window *database.MaintenanceWindow, at time.Time) (bool, error) {
	switch {
	case !window.StartTime.Before(at):
		if err := m.store.DeleteMaintenance(ctx, window.ID); err != nil {
			return false, fmt.Errorf("failed to cancel window: %w", err)
		}
		logrus.WithFields(logrus.Fields{
			"check_id":  window.CheckID,
			"window_id": window.ID,
		}).Info("Cancelled future maintenance window")
		return true, nil

	case !window.EndTime.Before(at):
		if err := m.store.ReindexMaintenanceEnd(ctx, window.ID, at); err != nil {
			return false, fmt.Errorf("failed to end window: %w", err)
		}
		window.EndTime = at
		logrus.WithFields(logrus.Fields{
			"check_id":  window.CheckID,
			"window_id": window.ID,
			"end_time":  at,
		}).Info("Ended maintenance window")
		return true, nil

	default:
		// Already over; nothing to do.
		return false, nil
	}
}

// At returns the window overlapping the given time that extends furthest
// into the future, or nil when no window overlaps. Unscheduled windows
// overlap while end_time > t; scheduled windows keep their historical
// end_time >= t boundary. The two bounds are deliberately asymmetric.
func (m *MaintenanceManager) At(ctx context.Context, kind database.MaintenanceKind, checkID string, at time.Time) (*database.MaintenanceWindow, error) {
	startedIDs, err := m.store.MaintenanceIDsStartedBy(ctx, kind, checkID, at)
	if err != nil {
		return nil, fmt.Errorf("failed to query start index: %w", err)
	}
	if len(startedIDs) == 0 {
		return nil, nil
	}

	inclusive := kind == database.ScheduledMaintenance
	endingIDs, err := m.store.MaintenanceIDsEndingAfter(ctx, kind, checkID, at, inclusive)
	if err != nil {
		return nil, fmt.Errorf("failed to query end index: %w", err)
	}

	started := make(map[string]bool, len(startedIDs))
	for _, id := range startedIDs {
		started[id] = true
	}

	var best *database.MaintenanceWindow
	for _, id := range endingIDs {
		if !started[id] {
			continue
		}
		window, err := m.store.GetMaintenance(ctx, id)
		if err != nil {
			return nil, err
		}
		if best == nil || window.EndTime.After(best.EndTime) {
			best = window
		}
	}
	return best, nil
}

// InScheduledMaintenance reports whether the check is inside a scheduled
// window at the given time.
func (m *MaintenanceManager) InScheduledMaintenance(ctx context.Context, checkID string, at time.Time) (bool, error) {
	window, err := m.At(ctx, database.ScheduledMaintenance, checkID, at)
	if err != nil {
		return false, err
	}
	return window != nil, nil
}

// InUnscheduledMaintenance reports whether the check is inside an
// unscheduled window at the given time.
func (m *MaintenanceManager) InUnscheduledMaintenance(ctx context.Context, checkID string, at time.Time) (bool, error) {
	window, err := m.At(ctx, database.UnscheduledMaintenance, checkID, at)
	if err != nil {
		return false, err
	}
	return window != nil, nil
}

// SetUnscheduled starts an unscheduled window for the check. Only one
// unscheduled window may be active: any current one is ended at now
// first (replace, not stack). Alerting flags on the check's routes are
// cleared so alerts stay quiet for the duration. The whole sequence runs
// under the {unscheduled_maintenances, routes, states} lock so dispatch
// decisions never observe it half-applied.
func (m *MaintenanceManager) SetUnscheduled(ctx context.Context, window *database.MaintenanceWindow) error {
	window.Kind = database.UnscheduledMaintenance

	groups := []string{
		database.ResourceUnscheduledMaintenances,
		database.ResourceRoutes,
		database.ResourceStates,
	}
	return m.locks.WithLock(groups, func() error {
		now := m.now()

		active, err := m.At(ctx, database.UnscheduledMaintenance, window.CheckID, now)
		if err != nil {
			return err
		}
		if active != nil {
			if _, err := m.End(ctx, active, now); err != nil {
				return err
			}
		}

		if err := m.store.CreateMaintenance(ctx, window); err != nil {
			return err
		}

		routes, err := m.store.RoutesForCheck(ctx, window.CheckID)
		if err != nil {
			return fmt.Errorf("failed to get routes: %w", err)
		}
		for i := range routes {
			if !routes[i].IsAlerting {
				continue
			}
			routes[i].IsAlerting = false
			if err := m.store.UpdateRoute(ctx, &routes[i]); err != nil {
				return fmt.Errorf("failed to clear alerting flag: %w", err)
			}
		}

		logrus.WithFields(logrus.Fields{
			"check_id":  window.CheckID,
			"window_id": window.ID,
			"end_time":  window.EndTime,
		}).Info("Set unscheduled maintenance")
		return nil
	})
}

// Clear ends the unscheduled window active at now, if any. Routes and
// states are untouched here, so only the narrower maintenance lock is
// held. The false result means no window was active or it had already
// ended.
func (m *MaintenanceManager) Clear(ctx context.Context, checkID string, at time.Time) (bool, error) {
	var ended bool

	err := m.locks.WithLock([]string{database.ResourceUnscheduledMaintenances}, func() error {
		active, err := m.At(ctx, database.UnscheduledMaintenance, checkID, m.now())
		if err != nil {
			return err
		}
		if active == nil {
			return nil
		}
		ended, err = m.End(ctx, active, at)
		return err
	})

	return ended, err
}
