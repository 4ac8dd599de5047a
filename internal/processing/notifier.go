// internal/processing/notifier.go - notification routing pikelet
package processing

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"vigil/internal/alerting"
	"vigil/internal/database"
	"vigil/internal/metrics"
	"vigil/internal/queue"
)

// Notifier consumes accepted notifications, resolves which contacts and
// rules apply, and fans one message out per qualifying medium onto that
// transport's queue for its gateway to deliver.
type Notifier struct {
	store       database.Store
	resolver    *alerting.Resolver
	maintenance *alerting.MaintenanceManager
	locks       *database.LockManager
	broker      *queue.Broker
	in          *queue.Queue
	transports  []string
	mu          sync.Mutex
	now         func() time.Time
}

func NewNotifier(store database.Store, resolver *alerting.Resolver, maintenance *alerting.MaintenanceManager, locks *database.LockManager, broker *queue.Broker, transports []string) *Notifier {
	return &Notifier{
		store:       store,
		resolver:    resolver,
		maintenance: maintenance,
		locks:       locks,
		broker:      broker,
		in:          broker.Get(NotificationQueue),
		transports:  transports,
		now:         time.Now,
	}
}

// Run blocks consuming notifications until the context ends.
func (n *Notifier) Run(ctx context.Context) error {
	logrus.Info("Starting notifier")

	for {
		item, err := n.in.Pop(ctx)
		if err != nil {
			logrus.Info("Stopping notifier")
			return err
		}

		n.mu.Lock()
		n.handle(ctx, item)
		for {
			next, ok := n.in.TryPop()
			if !ok {
				break
			}
			n.handle(ctx, next)
		}
		n.mu.Unlock()
	}
}

func (n *Notifier) handle(ctx context.Context, item []byte) {
	var notification Notification
	if err := decode(item, &notification); err != nil {
		logrus.WithError(err).Error("Discarding malformed notification")
		return
	}
	if err := n.dispatch(ctx, notification); err != nil {
		logrus.WithError(err).WithField("check", notification.CheckName).Error("Failed to dispatch notification")
	}
}

// dispatch resolves routing and emits messages. The decision runs under
// the same lock scope SetUnscheduled takes, so a maintenance window
// being applied is either fully visible (dispatch suppressed, flags
// cleared) or not at all.
func (n *Notifier) dispatch(ctx context.Context, notification Notification) error {
	groups := []string{
		database.ResourceUnscheduledMaintenances,
		database.ResourceRoutes,
		database.ResourceStates,
	}
	return n.locks.WithLock(groups, func() error {
		severity := notification.Condition
		if notification.Recovery {
			severity = ""
		}

		// A maintenance window applied after the notification was
		// queued still suppresses it. Recoveries go out regardless.
		if !notification.Recovery {
			suppressed, err := n.inMaintenance(ctx, notification.CheckID)
			if err != nil {
				return err
			}
			if suppressed {
				metrics.NotificationsSuppressed.WithLabelValues("maintenance").Inc()
				logrus.WithField("check", notification.CheckName).Debug("Check in maintenance, dropping notification")
				return nil
			}
		}

		ruleIDsByContact, routeIDsByRule, err := n.resolver.Resolve(ctx, notification.CheckID, severity)
		if err != nil {
			return err
		}
		if len(ruleIDsByContact) == 0 {
			logrus.WithField("check", notification.CheckName).Debug("No applicable rules, nothing to send")
			return nil
		}

		if !notification.Recovery {
			if err := n.markAlerting(ctx, routeIDsByRule); err != nil {
				return err
			}
		}

		wanted := make(map[string]bool, len(n.transports))
		for _, t := range n.transports {
			wanted[t] = true
		}

		sent := 0
		for contactID := range ruleIDsByContact {
			media, err := n.store.MediaForContact(ctx, contactID)
			if err != nil {
				return err
			}
			for _, medium := range media {
				if !wanted[medium.Transport] {
					continue
				}
				n.broker.Get(medium.Transport).Push(encode(Message{
					Transport: medium.Transport,
					Address:   medium.Address,
					Userdata:  medium.Userdata,
					ContactID: contactID,
					CheckID:   notification.CheckID,
					CheckName: notification.CheckName,
					Condition: notification.Condition,
					Summary:   notification.Summary,
					AckHash:   notification.AckHash,
					Recovery:  notification.Recovery,
					Time:      notification.Time,
				}))
				metrics.MessagesQueued.WithLabelValues(medium.Transport).Inc()
				sent++
			}
		}

		logrus.WithFields(logrus.Fields{
			"check":    notification.CheckName,
			"contacts": len(ruleIDsByContact),
			"messages": sent,
		}).Info("Dispatched notification")
		return nil
	})
}

func (n *Notifier) inMaintenance(ctx context.Context, checkID string) (bool, error) {
	at := n.now()
	inSched, err := n.maintenance.InScheduledMaintenance(ctx, checkID, at)
	if err != nil {
		return false, err
	}
	if inSched {
		return true, nil
	}
	return n.maintenance.InUnscheduledMaintenance(ctx, checkID, at)
}

// markAlerting flags the routes that carried this alert; SetUnscheduled
// clears the flags when the check enters maintenance.
func (n *Notifier) markAlerting(ctx context.Context, routeIDsByRule map[string][]string) error {
	for _, routeIDs := range routeIDsByRule {
		for _, routeID := range routeIDs {
			route, err := n.store.GetRoute(ctx, routeID)
			if err != nil {
				return err
			}
			if route.IsAlerting {
				continue
			}
			route.IsAlerting = true
			if err := n.store.UpdateRoute(ctx, route); err != nil {
				return err
			}
		}
	}
	return nil
}
