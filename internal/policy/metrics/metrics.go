package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts authorization outcomes.
type Metrics struct {
	Decisions *prometheus.CounterVec
	Denials   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "olympus_policy_decisions_total",
			Help: "Authorization decisions by outcome",
		}, []string{"outcome"}),
		Denials: f.NewCounterVec(prometheus.CounterOpts{
			Name: "olympus_policy_denials_total",
			Help: "Authorization denials by reason and permission",
		}, []string{"reason", "permission"}),
	}
}

func (m *Metrics) IncrementAllowed() {
	m.Decisions.WithLabelValues("allowed").Inc()
}

// IncrementDenied records a denial. permission is bounded by the fixed
// permission constants, so it is safe as a label.
func (m *Metrics) IncrementDenied(reason, permission string) {
	m.Decisions.WithLabelValues("denied").Inc()
	m.Denials.WithLabelValues(reason, permission).Inc()
}
