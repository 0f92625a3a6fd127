package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	busmetrics "olympus/internal/eventbus/metrics"
	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
	"olympus/pkg/platform/circuit"
	"olympus/pkg/platform/retry"
)

var tracer = otel.Tracer("olympus/eventbus")

var errBreakerOpen = errors.New("transport circuit open")

// Handler processes one event. Returning an error wrapped with
// retry.Permanent skips the remaining attempts and dead-letters immediately.
type Handler func(ctx context.Context, e Event) error

type subscription struct {
	name    string
	pattern Pattern
	handler Handler
}

// Bus publishes events to a Transport and fans fetched events out to
// subscriptions.
type Bus struct {
	transport   Transport
	dedup       DedupStore
	ledger      Ledger
	deadLetters DeadLetterStore
	policy      retry.Policy
	breaker     *circuit.Breaker
	logger      *slog.Logger
	metrics     *busmetrics.Metrics
	now         func() time.Time

	retention    time.Duration
	lanes        int
	batchSize    int
	pollInterval time.Duration

	mu       sync.RWMutex
	subs     []subscription
	started  bool
	stopping bool
	cancel   context.CancelFunc
	done     chan struct{}
}

type Option func(*Bus)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

func WithMetrics(m *busmetrics.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

func WithDedupStore(d DedupStore) Option {
	return func(b *Bus) { b.dedup = d }
}

func WithLedger(l Ledger) Option {
	return func(b *Bus) { b.ledger = l }
}

func WithDeadLetterStore(s DeadLetterStore) Option {
	return func(b *Bus) { b.deadLetters = s }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(b *Bus) { b.policy = p }
}

func WithBreaker(cb *circuit.Breaker) Option {
	return func(b *Bus) { b.breaker = cb }
}

// WithDedupRetention sets how long a published event id blocks republishing.
func WithDedupRetention(d time.Duration) Option {
	return func(b *Bus) { b.retention = d }
}

// WithLanes bounds how many ordering groups are handled concurrently.
func WithLanes(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.lanes = n
		}
	}
}

func WithBatchSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// New builds a bus over transport. Stores default to in-memory versions.
func New(transport Transport, opts ...Option) *Bus {
	b := &Bus{
		transport:    transport,
		policy:       retry.Default(),
		logger:       slog.Default(),
		now:          time.Now,
		retention:    24 * time.Hour,
		lanes:        8,
		batchSize:    100,
		pollInterval: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.dedup == nil {
		b.dedup = NewMemoryDedup()
	}
	if b.ledger == nil {
		b.ledger = NewMemoryLedger()
	}
	if b.deadLetters == nil {
		b.deadLetters = NewMemoryDeadLetters()
	}
	if b.breaker == nil {
		b.breaker = circuit.New("event-transport")
	}
	return b
}

// Subscribe registers handler under a stable subscriber name. The name keys the
// processed-event ledger, so renaming a subscriber replays history to it.
// Subscriptions must be registered before Start.
func (b *Bus) Subscribe(name, pattern string, handler Handler) error {
	if name == "" || name == PublishSubscriber {
		return dErrors.New(dErrors.CodeValidation, "subscriber name is required and must not be reserved")
	}
	if handler == nil {
		return dErrors.New(dErrors.CodeValidation, "handler is required")
	}
	p, err := ParsePattern(pattern)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return dErrors.New(dErrors.CodeConflict, "bus already started")
	}
	for _, s := range b.subs {
		if s.name == name {
			return dErrors.New(dErrors.CodeConflict, fmt.Sprintf("subscriber %q already registered", name))
		}
	}
	b.subs = append(b.subs, subscription{name: name, pattern: p, handler: handler})
	return nil
}

// Publish builds an event and publishes it. See PublishEvent.
func (b *Bus) Publish(ctx context.Context, tenantID id.TenantID, eventType string, payload any, opts ...EventOption) (Event, error) {
	e, err := NewEvent(tenantID, eventType, payload, append([]EventOption{WithCreatedAt(b.now().UTC())}, opts...)...)
	if err != nil {
		return Event{}, err
	}
	if err := b.PublishEvent(ctx, e); err != nil {
		return e, err
	}
	return e, nil
}

// PublishEvent hands e to the transport, retrying transient failures under the
// bus retry policy. A duplicate id inside the retention window is accepted
// without resending. When the budget runs out the event is dead-lettered and
// the caller gets EventDeliveryFailed.
func (b *Bus) PublishEvent(ctx context.Context, e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if b.isStopping() {
		return dErrors.New(dErrors.CodeUnavailable, "event bus is shutting down")
	}

	ctx, span := tracer.Start(ctx, "eventbus.publish", trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("event.type", e.EventType),
			attribute.String("event.id", e.ID.String()),
			attribute.String("tenant.id", e.TenantID.String()),
		))
	defer span.End()

	if b.alreadySent(ctx, e) {
		return nil
	}

	value, err := e.Marshal()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "event is not serializable")
	}

	attempts, err := b.policy.DoNotify(ctx, func(ctx context.Context, _ int) error {
		return b.send(ctx, e.OrderingKey(), value)
	}, func(err error, wait time.Duration) {
		b.incrementPublishRetry()
		b.logger.WarnContext(ctx, "event publish failed, retrying",
			"event_id", e.ID, "event_type", e.EventType, "wait", wait, "error", err)
	})
	if err == nil {
		b.acknowledged(ctx, e)
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "publish failed")

	e.Attempts = attempts
	if dlErr := b.deadLetter(context.WithoutCancel(ctx), e, PublishSubscriber, err); dlErr != nil {
		b.logger.ErrorContext(ctx, "failed to dead-letter unpublished event",
			"event_id", e.ID, "error", dlErr)
	}
	return dErrors.Wrap(err, dErrors.CodeEventDeliveryFailed, "event delivery failed")
}

// SendOnce makes a single transport attempt for e, honouring publish dedup and
// the breaker but without retry or dead-lettering. The outbox relay uses it and
// keeps its own persisted attempt schedule.
func (b *Bus) SendOnce(ctx context.Context, e Event) error {
	if err := e.Validate(); err != nil {
		return retry.Permanent(err)
	}
	if b.alreadySent(ctx, e) {
		return nil
	}
	value, err := e.Marshal()
	if err != nil {
		return retry.Permanent(err)
	}
	if err := b.send(ctx, e.OrderingKey(), value); err != nil {
		return err
	}
	b.acknowledged(ctx, e)
	return nil
}

// DeadLetter records an event that failed outside the bus, such as an outbox
// row that used up its attempts.
func (b *Bus) DeadLetter(ctx context.Context, e Event, origin string, cause error) error {
	return b.deadLetter(ctx, e, origin, cause)
}

// DeadLetters lists dead letters for operators.
func (b *Bus) DeadLetters(ctx context.Context, filter DeadLetterFilter) ([]DeadLetter, error) {
	return b.deadLetters.List(ctx, filter)
}

// Policy returns the retry policy shared with the outbox relay.
func (b *Bus) Policy() retry.Policy {
	return b.policy
}

// alreadySent reports whether the transport acknowledged e inside the
// retention window. Dedup is best effort; subscribers dedupe again through the
// ledger, so a store failure falls through to a send.
func (b *Bus) alreadySent(ctx context.Context, e Event) bool {
	seen, err := b.dedup.Seen(ctx, e.ID)
	if err != nil {
		b.logger.WarnContext(ctx, "publish dedup unavailable", "event_id", e.ID, "error", err)
		return false
	}
	if seen {
		b.incrementDuplicate("publish")
		b.logger.DebugContext(ctx, "duplicate publish skipped", "event_id", e.ID)
	}
	return seen
}

func (b *Bus) acknowledged(ctx context.Context, e Event) {
	b.incrementPublished(e.EventType)
	if err := b.dedup.Mark(context.WithoutCancel(ctx), e.ID, b.retention); err != nil {
		b.logger.WarnContext(ctx, "failed to record published event",
			"event_id", e.ID, "error", err)
	}
}

func (b *Bus) send(ctx context.Context, key string, value []byte) error {
	if !b.breaker.Allow() {
		return retry.Permanent(errBreakerOpen)
	}
	if err := b.transport.Send(ctx, key, value); err != nil {
		if errors.Is(err, ErrTransportClosed) {
			return retry.Permanent(err)
		}
		if _, change := b.breaker.RecordFailure(); change.Opened {
			b.setBreakerOpen(true)
			b.logger.ErrorContext(ctx, "event transport circuit opened", "breaker", b.breaker.Name())
		}
		return err
	}
	if _, change := b.breaker.RecordSuccess(); change.Closed {
		b.setBreakerOpen(false)
		b.logger.InfoContext(ctx, "event transport circuit closed", "breaker", b.breaker.Name())
	}
	return nil
}

func (b *Bus) deadLetter(ctx context.Context, e Event, origin string, cause error) error {
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	e.Status = StatusDeadLettered
	dl := DeadLetter{Event: e, Subscriber: origin, Reason: reason, Attempts: e.Attempts, FailedAt: b.now().UTC()}
	if err := b.deadLetters.Put(ctx, dl); err != nil {
		return fmt.Errorf("store dead letter: %w", err)
	}
	b.incrementDeadLetter(origin)
	b.logger.WarnContext(ctx, "event dead-lettered",
		"event_id", e.ID, "event_type", e.EventType, "tenant_id", e.TenantID,
		"origin", origin, "attempts", e.Attempts, "reason", reason)

	if dlp, ok := b.transport.(DeadLetterPublisher); ok && origin != PublishSubscriber {
		if value, err := e.Marshal(); err == nil {
			if err := dlp.PublishDeadLetter(ctx, e.OrderingKey(), value); err != nil {
				b.logger.WarnContext(ctx, "failed to mirror dead letter to transport", "event_id", e.ID, "error", err)
			}
		}
	}
	return nil
}

func (b *Bus) isStopping() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stopping
}

func (b *Bus) incrementPublished(eventType string) {
	if b.metrics != nil {
		b.metrics.IncrementPublished(eventType)
	}
}

func (b *Bus) incrementPublishRetry() {
	if b.metrics != nil {
		b.metrics.IncrementPublishRetry()
	}
}

func (b *Bus) incrementDuplicate(stage string) {
	if b.metrics != nil {
		b.metrics.IncrementDuplicate(stage)
	}
}

func (b *Bus) incrementDeadLetter(origin string) {
	if b.metrics != nil {
		b.metrics.IncrementDeadLetter(origin)
	}
}

func (b *Bus) setBreakerOpen(open bool) {
	if b.metrics != nil {
		b.metrics.SetBreakerOpen(open)
	}
}
