package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "laundry"

// Metrics holds the server-side collectors. A nil Registerer passed to New
// leaves them unregistered, which is what tests use.
type Metrics struct {
	OrdersCreated      *prometheus.CounterVec
	StatusChanges      *prometheus.CounterVec
	ProjectionFailures prometheus.Counter
	ProjectionHeals    *prometheus.CounterVec
	Notifications      *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Order submissions, split by whether the token was new.",
		}, []string{"result"}),
		StatusChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_changes_total",
			Help:      "Timeline entries appended, by target status and kind.",
		}, []string{"status", "kind"}),
		ProjectionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projection_failures_total",
			Help:      "Order record updates that failed after the timeline append succeeded.",
		}),
		ProjectionHeals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projection_heals_total",
			Help:      "Order records rewritten from their latest timeline entry.",
		}, []string{"trigger"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ready_notifications_total",
			Help:      "Ready-for-pickup notifications dispatched, by outcome.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.OrdersCreated,
			m.StatusChanges,
			m.ProjectionFailures,
			m.ProjectionHeals,
			m.Notifications,
		)
	}
	return m
}
