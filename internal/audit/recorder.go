package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"olympus/internal/eventbus"
)

// SubscriberName keys the recorder's delivery ledger entries.
const SubscriberName = "audit"

type Store interface {
	Append(ctx context.Context, e Entry) error
	List(ctx context.Context, f Filter) ([]Entry, error)
}

// Subscriber is the slice of *eventbus.Bus the recorder needs.
type Subscriber interface {
	Subscribe(name, pattern string, handler eventbus.Handler) error
}

// Recorder turns delivered events into audit entries.
type Recorder struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger, now: time.Now}
}

// Attach subscribes the recorder to every event type.
func (r *Recorder) Attach(bus Subscriber) error {
	if err := bus.Subscribe(SubscriberName, "**", r.Handle); err != nil {
		return fmt.Errorf("subscribe audit recorder: %w", err)
	}
	return nil
}

// Handle records e. A store failure is returned so the bus retries delivery.
func (r *Recorder) Handle(ctx context.Context, e eventbus.Event) error {
	entry := Entry{
		EventID:    e.ID,
		TenantID:   e.TenantID,
		EventType:  e.EventType,
		Category:   Classify(e.EventType),
		Aggregate:  e.AggregateKey,
		OccurredAt: e.CreatedAt,
		RecordedAt: r.now().UTC(),
	}
	if err := r.store.Append(ctx, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}

	attrs := []any{
		"event_id", e.ID.String(),
		"event_type", e.EventType,
		"tenant_id", e.TenantID.String(),
		"category", string(entry.Category),
	}
	if entry.Category == CategorySecurity {
		r.logger.WarnContext(ctx, "security event", attrs...)
		return nil
	}
	r.logger.DebugContext(ctx, "audit event", attrs...)
	return nil
}

// List reads the trail.
func (r *Recorder) List(ctx context.Context, f Filter) ([]Entry, error) {
	return r.store.List(ctx, f)
}
