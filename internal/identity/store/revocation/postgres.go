package revocation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	id "olympus/pkg/domain"
)

// Postgres persists revoked session ids in session_revocations. Session ids
// are globally unique, so the table carries no tenant column.
type Postgres struct {
	db    *sql.DB
	clock Clock
}

type PostgresOption func(*Postgres)

func WithPostgresClock(clock Clock) PostgresOption {
	return func(p *Postgres) {
		if clock != nil {
			p.clock = clock
		}
	}
}

func NewPostgres(db *sql.DB, opts ...PostgresOption) *Postgres {
	p := &Postgres{db: db, clock: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Postgres) RevokeSession(ctx context.Context, sessionID id.SessionID, ttl time.Duration) error {
	if err := validateTTL(ttl); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO session_revocations (session_id, expires_at)
		 VALUES ($1, $2)
		 ON CONFLICT (session_id) DO UPDATE SET expires_at = GREATEST(session_revocations.expires_at, EXCLUDED.expires_at)`,
		sessionID, p.clock().Add(ttl))
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeSessions inserts the batch with unnest in one round trip.
func (p *Postgres) RevokeSessions(ctx context.Context, sessionIDs []id.SessionID, ttl time.Duration) error {
	if len(sessionIDs) == 0 {
		return nil
	}
	if err := validateTTL(ttl); err != nil {
		return err
	}
	ids := make([]string, len(sessionIDs))
	for i, sessionID := range sessionIDs {
		ids[i] = sessionID.String()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO session_revocations (session_id, expires_at)
		 SELECT unnest($1::uuid[]), $2
		 ON CONFLICT (session_id) DO UPDATE SET expires_at = GREATEST(session_revocations.expires_at, EXCLUDED.expires_at)`,
		pq.Array(ids), p.clock().Add(ttl))
	if err != nil {
		return fmt.Errorf("revoke sessions batch: %w", err)
	}
	return nil
}

func (p *Postgres) IsSessionRevoked(ctx context.Context, sessionID id.SessionID) (bool, error) {
	var expiresAt time.Time
	err := p.db.QueryRowContext(ctx,
		`SELECT expires_at FROM session_revocations WHERE session_id = $1`, sessionID).Scan(&expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check session revocation: %w", err)
	}
	return p.clock().Before(expiresAt), nil
}

// PurgeExpired deletes entries whose tokens can no longer be presented.
func (p *Postgres) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM session_revocations WHERE expires_at <= $1`, p.clock())
	if err != nil {
		return 0, fmt.Errorf("purge session revocations: %w", err)
	}
	return res.RowsAffected()
}
