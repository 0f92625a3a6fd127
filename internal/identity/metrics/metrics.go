package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers logins, lockouts, refreshes and revocation lookups.
type Metrics struct {
	Logins             *prometheus.CounterVec
	LoginDuration      prometheus.Histogram
	Lockouts           prometheus.Counter
	Refreshes          *prometheus.CounterVec
	SessionsRevoked    *prometheus.CounterVec
	Registrations      prometheus.Counter
	RevocationLatency  prometheus.Histogram
	RevocationFailures prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "olympus_identity_logins_total",
			Help: "Login attempts, by outcome",
		}, []string{"outcome"}),
		LoginDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "olympus_identity_login_duration_seconds",
			Help:    "Duration of login including password verification",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		Lockouts: f.NewCounter(prometheus.CounterOpts{
			Name: "olympus_identity_lockouts_total",
			Help: "Accounts hard-locked after repeated failures",
		}),
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "olympus_identity_refreshes_total",
			Help: "Refresh attempts, by outcome",
		}, []string{"outcome"}),
		SessionsRevoked: f.NewCounterVec(prometheus.CounterOpts{
			Name: "olympus_identity_sessions_revoked_total",
			Help: "Sessions revoked, by reason",
		}, []string{"reason"}),
		Registrations: f.NewCounter(prometheus.CounterOpts{
			Name: "olympus_identity_registrations_total",
			Help: "Users registered",
		}),
		RevocationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "olympus_identity_revocation_lookup_ms",
			Help:    "Revocation list lookup latency in milliseconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 25},
		}),
		RevocationFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "olympus_identity_revocation_lookup_failures_total",
			Help: "Revocation list lookups that failed",
		}),
	}
}

func (m *Metrics) IncrementLogin(outcome string) {
	m.Logins.WithLabelValues(outcome).Inc()
}

// ObserveLogin records the duration of a login.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveLogin(start time.Time) {
	m.LoginDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementLockout() {
	m.Lockouts.Inc()
}

func (m *Metrics) IncrementRefresh(outcome string) {
	m.Refreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementSessionsRevoked(reason string, n int) {
	m.SessionsRevoked.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) IncrementRegistration() {
	m.Registrations.Inc()
}

func (m *Metrics) IncrementRevocationFailure() {
	m.RevocationFailures.Inc()
}
