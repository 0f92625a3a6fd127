package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"olympus/internal/eventbus"
	"olympus/internal/platform/postgres"
	id "olympus/pkg/domain"
	"olympus/pkg/platform/sentinel"
	"olympus/pkg/platform/tx"
)

// Postgres is the outbox table. Append must run inside the caller's
// transaction (tx in context) to be atomic with the state change.
type Postgres struct {
	db *sql.DB
}

var _ Store = (*Postgres)(nil)

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Append(ctx context.Context, e eventbus.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, p.db).ExecContext(ctx,
		`INSERT INTO outbox (id, tenant_id, event_type, aggregate_key, payload, created_at, next_attempt_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		e.ID, e.TenantID, e.EventType, e.AggregateKey, []byte(e.Payload), e.CreatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("append outbox event: %w", err)
	}
	return nil
}

// Pending locks the rows it returns (SKIP LOCKED) for the enclosing relay
// transaction.
func (p *Postgres) Pending(ctx context.Context, now time.Time, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := tx.Exec(ctx, p.db).QueryContext(ctx,
		`SELECT o.id, o.tenant_id, o.event_type, o.aggregate_key, o.payload, o.created_at,
		        o.attempts, o.next_attempt_at, COALESCE(o.last_error, '')
		 FROM outbox o
		 WHERE o.published_at IS NULL AND o.dead_lettered_at IS NULL
		   AND o.next_attempt_at <= $1
		   AND NOT EXISTS (
		       SELECT 1 FROM outbox b
		       WHERE o.aggregate_key <> ''
		         AND b.tenant_id = o.tenant_id
		         AND b.aggregate_key = o.aggregate_key
		         AND b.published_at IS NULL AND b.dead_lettered_at IS NULL
		         AND b.seq < o.seq
		         AND b.next_attempt_at > $1)
		 ORDER BY o.seq
		 LIMIT $2
		 FOR UPDATE OF o SKIP LOCKED`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending outbox: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r       Record
			payload []byte
		)
		if err := rows.Scan(&r.Event.ID, &r.Event.TenantID, &r.Event.EventType, &r.Event.AggregateKey,
			&payload, &r.Event.CreatedAt, &r.Event.Attempts, &r.NextAttemptAt, &r.LastError); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		r.Event.Payload = payload
		r.Event.Status = eventbus.StatusPending
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return out, nil
}

func (p *Postgres) MarkPublished(ctx context.Context, eventID id.EventID, now time.Time) error {
	return p.exec(ctx, `UPDATE outbox SET published_at = $2 WHERE id = $1`, eventID, now)
}

func (p *Postgres) MarkRetry(ctx context.Context, eventID id.EventID, attempts int, next time.Time, lastErr string) error {
	return p.exec(ctx,
		`UPDATE outbox SET attempts = $2, next_attempt_at = $3, last_error = $4 WHERE id = $1`,
		eventID, attempts, next, lastErr)
}

func (p *Postgres) MarkDeadLettered(ctx context.Context, eventID id.EventID, attempts int, now time.Time, lastErr string) error {
	return p.exec(ctx,
		`UPDATE outbox SET attempts = $2, dead_lettered_at = $3, last_error = $4 WHERE id = $1`,
		eventID, attempts, now, lastErr)
}

func (p *Postgres) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return tx.Run(ctx, p.db, fn)
}

func (p *Postgres) exec(ctx context.Context, query string, args ...any) error {
	res, err := tx.Exec(ctx, p.db).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update outbox: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update outbox: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
