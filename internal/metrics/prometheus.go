// internal/metrics/prometheus.go
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"vigil/internal/database"
)

// Prometheus metrics
var (
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_events_total",
			Help: "Events consumed from the events queue",
		},
		[]string{"status"},
	)

	NotificationsQueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_notifications_queued_total",
			Help: "Notifications accepted for routing",
		},
	)

	NotificationsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_notifications_suppressed_total",
			Help: "Notifications suppressed before routing",
		},
		[]string{"reason"},
	)

	MessagesQueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_messages_queued_total",
			Help: "Per-medium messages handed to transport queues",
		},
		[]string{"transport"},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_messages_sent_total",
			Help: "Messages delivered by outbound gateways",
		},
		[]string{"transport", "status"},
	)

	RoutesRecalculated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_routes_recalculated_total",
			Help: "Route derivation runs",
		},
	)

	ActiveChecks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_active_checks_total",
			Help: "Number of enabled checks",
		},
	)

	ChecksInMaintenance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigil_checks_in_maintenance",
			Help: "Checks currently inside a maintenance window",
		},
		[]string{"kind"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)
)

type Collector struct {
	store database.Store
}

func NewCollector(store database.Store) *Collector {
	return &Collector{store: store}
}

// UpdateSystemMetrics refreshes the population gauges from the store.
func (c *Collector) UpdateSystemMetrics(ctx context.Context) error {
	enabled := true
	checks, err := c.store.GetChecks(ctx, database.CheckFilters{Enabled: &enabled})
	if err != nil {
		return err
	}
	ActiveChecks.Set(float64(len(checks)))

	now := time.Now()
	counts := map[database.MaintenanceKind]int{}
	for _, check := range checks {
		for _, kind := range []database.MaintenanceKind{database.ScheduledMaintenance, database.UnscheduledMaintenance} {
			inclusive := kind == database.ScheduledMaintenance
			started, err := c.store.MaintenanceIDsStartedBy(ctx, kind, check.ID, now)
			if err != nil {
				return err
			}
			if len(started) == 0 {
				continue
			}
			ending, err := c.store.MaintenanceIDsEndingAfter(ctx, kind, check.ID, now, inclusive)
			if err != nil {
				return err
			}
			startedSet := make(map[string]bool, len(started))
			for _, id := range started {
				startedSet[id] = true
			}
			for _, id := range ending {
				if startedSet[id] {
					counts[kind]++
					break
				}
			}
		}
	}
	ChecksInMaintenance.WithLabelValues(string(database.ScheduledMaintenance)).Set(float64(counts[database.ScheduledMaintenance]))
	ChecksInMaintenance.WithLabelValues(string(database.UnscheduledMaintenance)).Set(float64(counts[database.UnscheduledMaintenance]))

	return nil
}
