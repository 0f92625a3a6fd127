package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the tenant module.
// Tracks lifecycle transitions and the slug resolution path used on every login.
type Metrics struct {
	TenantCreated      prometheus.Counter
	StatusChanges      *prometheus.CounterVec
	ResolveDuration    prometheus.Histogram
	ResolveRejected    *prometheus.CounterVec
	SettingsRejections prometheus.Counter
}

// New creates a new Metrics instance registered on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TenantCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "olympus_tenants_created_total",
			Help: "Total number of tenants created",
		}),
		StatusChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "olympus_tenant_status_changes_total",
			Help: "Tenant lifecycle transitions, by event type",
		}, []string{"event_type"}),
		ResolveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "olympus_tenant_resolve_duration_seconds",
			Help:    "Duration of slug resolution (login critical path)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		ResolveRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "olympus_tenant_resolve_rejected_total",
			Help: "Slug resolutions refused, by reason",
		}, []string{"reason"}),
		SettingsRejections: f.NewCounter(prometheus.CounterOpts{
			Name: "olympus_tenant_settings_rejected_total",
			Help: "Settings updates rejected by schema validation",
		}),
	}
}

// IncrementTenantCreated records a successful tenant creation.
func (m *Metrics) IncrementTenantCreated() {
	m.TenantCreated.Inc()
}

func (m *Metrics) IncrementStatusChange(eventType string) {
	m.StatusChanges.WithLabelValues(eventType).Inc()
}

// ObserveResolve records the duration of a slug resolution.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveResolve(start time.Time) {
	m.ResolveDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementResolveRejected(reason string) {
	m.ResolveRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncrementSettingsRejected() {
	m.SettingsRejections.Inc()
}
