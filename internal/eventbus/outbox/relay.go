package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"olympus/internal/eventbus"
	busmetrics "olympus/internal/eventbus/metrics"
	"olympus/pkg/platform/retry"
)

// OutboxOrigin marks dead letters produced by the relay.
const OutboxOrigin = "outbox"

// Publisher is the slice of *eventbus.Bus the relay needs.
type Publisher interface {
	SendOnce(ctx context.Context, e eventbus.Event) error
	DeadLetter(ctx context.Context, e eventbus.Event, origin string, cause error) error
	Policy() retry.Policy
}

// Relay moves pending outbox rows onto the bus. Attempts and the next attempt
// time are persisted, so the retry schedule survives restarts.
type Relay struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	metrics   *busmetrics.Metrics
	now       func() time.Time
	batchSize int
	interval  time.Duration
}

type RelayOption func(*Relay)

func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) { r.logger = logger }
}

func WithRelayMetrics(m *busmetrics.Metrics) RelayOption {
	return func(r *Relay) { r.metrics = m }
}

func WithRelayClock(now func() time.Time) RelayOption {
	return func(r *Relay) { r.now = now }
}

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func NewRelay(store Store, publisher Publisher, opts ...RelayOption) *Relay {
	r := &Relay{
		store:     store,
		publisher: publisher,
		logger:    slog.Default(),
		now:       time.Now,
		batchSize: 100,
		interval:  time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOnce relays one batch and returns how many rows were published. Within a
// batch, a failed row holds back the later rows of its ordering key.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	published := 0
	err := r.store.RunInTx(ctx, func(ctx context.Context) error {
		now := r.now().UTC()
		pending, err := r.store.Pending(ctx, now, r.batchSize)
		if err != nil {
			return err
		}

		policy := r.publisher.Policy()
		blocked := make(map[string]bool)
		for _, rec := range pending {
			e := rec.Event
			key := e.OrderingKey()
			if blocked[key] {
				continue
			}

			sendErr := r.publisher.SendOnce(ctx, e)
			if sendErr == nil {
				if err := r.store.MarkPublished(ctx, e.ID, now); err != nil {
					return err
				}
				published++
				continue
			}

			blocked[key] = true
			attempts := e.Attempts + 1
			e.Attempts = attempts
			if policy.Exhausted(attempts) || retry.IsPermanent(sendErr) {
				if err := r.publisher.DeadLetter(ctx, e, OutboxOrigin, sendErr); err != nil {
					return err
				}
				if err := r.store.MarkDeadLettered(ctx, e.ID, attempts, now, sendErr.Error()); err != nil {
					return err
				}
				continue
			}
			next := now.Add(policy.Backoff(attempts))
			if err := r.store.MarkRetry(ctx, e.ID, attempts, next, sendErr.Error()); err != nil {
				return err
			}
			r.logger.WarnContext(ctx, "outbox relay send failed",
				"event_id", e.ID, "event_type", e.EventType, "attempts", attempts, "next_attempt_at", next, "error", sendErr)
		}
		return nil
	})
	if published > 0 && r.metrics != nil {
		r.metrics.IncrementOutboxRelayed(published)
	}
	return published, err
}

// Run polls until ctx ends. A full batch is followed immediately by another
// pass.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		n, err := r.RunOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.ErrorContext(ctx, "outbox relay pass failed", "error", err)
		}
		if err == nil && n == r.batchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
