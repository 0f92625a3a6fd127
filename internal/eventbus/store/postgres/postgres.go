// Package postgres holds pgx-backed bus stores: the durable processed-event
// ledger and the dead-letter table operators inspect.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"olympus/internal/eventbus"
	id "olympus/pkg/domain"
)

// Ledger stores processed (subscriber, event) pairs in processed_events.
type Ledger struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ eventbus.Ledger = (*Ledger)(nil)

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool, now: time.Now}
}

func (l *Ledger) Processed(ctx context.Context, subscriber string, eventID id.EventID) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE subscriber = $1 AND event_id = $2)`,
		subscriber, eventID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check processed event: %w", err)
	}
	return exists, nil
}

func (l *Ledger) MarkProcessed(ctx context.Context, subscriber string, eventID id.EventID) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO processed_events (subscriber, event_id, processed_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (subscriber, event_id) DO NOTHING`,
		subscriber, eventID, l.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("mark processed event: %w", err)
	}
	return nil
}

// Prune deletes ledger rows older than cutoff and returns how many went.
func (l *Ledger) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := l.pool.Exec(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune processed events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeadLetters keeps the latest failure per (event, subscriber).
type DeadLetters struct {
	pool *pgxpool.Pool
}

var _ eventbus.DeadLetterStore = (*DeadLetters)(nil)

func NewDeadLetters(pool *pgxpool.Pool) *DeadLetters {
	return &DeadLetters{pool: pool}
}

func (s *DeadLetters) Put(ctx context.Context, dl eventbus.DeadLetter) error {
	envelope, err := json.Marshal(dl.Event.Envelope)
	if err != nil {
		return fmt.Errorf("marshal dead letter envelope: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO dead_letters (id, event_id, tenant_id, event_type, aggregate_key, subscriber, envelope, attempts, last_error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (event_id, subscriber) DO UPDATE
		 SET attempts = EXCLUDED.attempts, last_error = EXCLUDED.last_error, created_at = EXCLUDED.created_at`,
		uuid.New(), dl.Event.ID, dl.Event.TenantID, dl.Event.EventType, dl.Event.AggregateKey,
		dl.Subscriber, envelope, dl.Attempts, dl.Reason, dl.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

func (s *DeadLetters) List(ctx context.Context, filter eventbus.DeadLetterFilter) ([]eventbus.DeadLetter, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	var (
		rows pgx.Rows
		err  error
	)
	const cols = `aggregate_key, subscriber, envelope, attempts, last_error, created_at`
	if filter.TenantID.IsNil() {
		rows, err = s.pool.Query(ctx,
			`SELECT `+cols+` FROM dead_letters ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+cols+` FROM dead_letters WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`,
			filter.TenantID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []eventbus.DeadLetter
	for rows.Next() {
		var (
			dl       eventbus.DeadLetter
			aggKey   string
			envelope []byte
		)
		if err := rows.Scan(&aggKey, &dl.Subscriber, &envelope, &dl.Attempts, &dl.Reason, &dl.FailedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		if err := json.Unmarshal(envelope, &dl.Event.Envelope); err != nil {
			return nil, fmt.Errorf("decode dead letter envelope: %w", err)
		}
		dl.Event.AggregateKey = aggKey
		dl.Event.Attempts = dl.Attempts
		dl.Event.Status = eventbus.StatusDeadLettered
		out = append(out, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return out, nil
}
