package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the event bus.
type Metrics struct {
	Published         *prometheus.CounterVec
	PublishRetries    prometheus.Counter
	Delivered         *prometheus.CounterVec
	DeliveryRetries   *prometheus.CounterVec
	DeadLetters       *prometheus.CounterVec
	DuplicatesSkipped *prometheus.CounterVec
	HandlerDuration   *prometheus.HistogramVec
	OutboxRelayed     prometheus.Counter
	BreakerOpen       prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "olympus_events_published_total",
			Help: "Events accepted by the transport, by event type",
		}, []string{"event_type"}),
		PublishRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "olympus_events_publish_retries_total",
			Help: "Transport send attempts that were retried",
		}),
		Delivered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "olympus_events_delivered_total",
			Help: "Events handled successfully, by subscriber",
		}, []string{"subscriber"}),
		DeliveryRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "olympus_events_delivery_retries_total",
			Help: "Handler invocations that were retried, by subscriber",
		}, []string{"subscriber"}),
		DeadLetters: f.NewCounterVec(prometheus.CounterOpts{
			Name: "olympus_events_dead_lettered_total",
			Help: "Events moved to the dead letter store, by origin",
		}, []string{"origin"}),
		DuplicatesSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "olympus_events_duplicates_skipped_total",
			Help: "Duplicate events skipped, by stage (publish or consume)",
		}, []string{"stage"}),
		HandlerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "olympus_events_handler_duration_seconds",
			Help:    "Duration of subscriber handler invocations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"subscriber"}),
		OutboxRelayed: f.NewCounter(prometheus.CounterOpts{
			Name: "olympus_outbox_relayed_total",
			Help: "Outbox rows published by the relay",
		}),
		BreakerOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "olympus_events_transport_breaker_open",
			Help: "1 while the transport circuit breaker is open",
		}),
	}
}

func (m *Metrics) IncrementPublished(eventType string) {
	m.Published.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncrementPublishRetry() {
	m.PublishRetries.Inc()
}

func (m *Metrics) IncrementDelivered(subscriber string) {
	m.Delivered.WithLabelValues(subscriber).Inc()
}

func (m *Metrics) IncrementDeliveryRetry(subscriber string) {
	m.DeliveryRetries.WithLabelValues(subscriber).Inc()
}

func (m *Metrics) IncrementDeadLetter(origin string) {
	m.DeadLetters.WithLabelValues(origin).Inc()
}

func (m *Metrics) IncrementDuplicate(stage string) {
	m.DuplicatesSkipped.WithLabelValues(stage).Inc()
}

// ObserveHandler records handler latency. Call with time.Now() taken before
// the handler ran.
func (m *Metrics) ObserveHandler(subscriber string, start time.Time) {
	m.HandlerDuration.WithLabelValues(subscriber).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementOutboxRelayed(n int) {
	m.OutboxRelayed.Add(float64(n))
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if open {
		m.BreakerOpen.Set(1)
		return
	}
	m.BreakerOpen.Set(0)
}
