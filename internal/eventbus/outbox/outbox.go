// Package outbox stores events in the same transaction as the state change
// that produced them and relays them to the bus afterwards.
package outbox

import (
	"context"
	"time"

	"olympus/internal/eventbus"
	id "olympus/pkg/domain"
)

// Record is an outbox row.
type Record struct {
	Event         eventbus.Event
	NextAttemptAt time.Time
	LastError     string
	PublishedAt   *time.Time
}

// Store is implemented by the memory and Postgres outboxes. Append joins the
// transaction carried by ctx.
type Store interface {
	Append(ctx context.Context, e eventbus.Event) error
	// Pending returns due rows in creation order, skipping rows queued behind an
	// earlier undelivered row of the same ordering key.
	Pending(ctx context.Context, now time.Time, limit int) ([]Record, error)
	MarkPublished(ctx context.Context, eventID id.EventID, now time.Time) error
	MarkRetry(ctx context.Context, eventID id.EventID, attempts int, next time.Time, lastErr string) error
	MarkDeadLettered(ctx context.Context, eventID id.EventID, attempts int, now time.Time, lastErr string) error
	// RunInTx brackets one relay pass so concurrent relays never claim the
	// same rows.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
