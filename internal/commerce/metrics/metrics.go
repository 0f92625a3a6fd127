package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks order lifecycle traffic.
type Metrics struct {
	Transitions      *prometheus.CounterVec
	Rejected         *prometheus.CounterVec
	VersionConflicts prometheus.Counter
	OrderValue       *prometheus.HistogramVec
	Refunded         *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "olympus_commerce_transitions_total",
			Help: "Order and payment transitions committed, by event type",
		}, []string{"event_type"}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "olympus_commerce_transitions_rejected_total",
			Help: "Transitions refused, by operation and error code",
		}, []string{"operation", "code"}),
		VersionConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "olympus_commerce_version_conflicts_total",
			Help: "Transitions attempted against a stale order version",
		}),
		OrderValue: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "olympus_commerce_order_value_minor_units",
			Help:    "Totals of completed orders in minor currency units",
			Buckets: prometheus.ExponentialBuckets(100, 4, 8),
		}, []string{"currency"}),
		Refunded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "olympus_commerce_refunded_minor_units_total",
			Help: "Refunded amounts in minor currency units",
		}, []string{"currency"}),
	}
}

func (m *Metrics) IncrementTransition(eventType string) {
	m.Transitions.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncrementRejected(operation, code string) {
	m.Rejected.WithLabelValues(operation, code).Inc()
}

func (m *Metrics) IncrementVersionConflict() {
	m.VersionConflicts.Inc()
}

// ObserveCompleted records the total of an order that just completed.
func (m *Metrics) ObserveCompleted(currency string, total int64) {
	m.OrderValue.WithLabelValues(currency).Observe(float64(total))
}

func (m *Metrics) AddRefunded(currency string, amount int64) {
	m.Refunded.WithLabelValues(currency).Add(float64(amount))
}
