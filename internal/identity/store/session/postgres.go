package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"olympus/internal/identity/models"
	"olympus/internal/platform/postgres"
	id "olympus/pkg/domain"
	"olympus/pkg/platform/sentinel"
	"olympus/pkg/platform/tx"
)

// PostgresStore persists sessions under row-level security.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionColumns = `id, tenant_id, user_id, access_token_hash, refresh_token_hash, roles,
	device_label, client_ip, generation, access_expires_at, refresh_expires_at,
	last_activity_at, revoked_at, revoke_reason, created_at`

func (s *PostgresStore) Create(ctx context.Context, sess *models.Session) error {
	return postgres.RunInTenant(ctx, s.db, sess.TenantID, func(ctx context.Context) error {
		_, err := tx.Exec(ctx, s.db).ExecContext(ctx,
			`INSERT INTO sessions (`+sessionColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			sess.ID, sess.TenantID, sess.UserID, sess.AccessTokenHash, nullString(sess.RefreshTokenHash),
			pq.Array(nonNil(sess.Roles)), sess.DeviceLabel, sess.ClientIP, sess.Generation,
			sess.AccessExpiresAt, sess.RefreshExpiresAt, sess.LastActivityAt,
			sess.RevokedAt, nullString(string(sess.RevokeReason)), sess.CreatedAt,
		)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return sentinel.ErrAlreadyUsed
			}
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) FindByID(ctx context.Context, tenantID id.TenantID, sessionID id.SessionID) (*models.Session, error) {
	var sess *models.Session
	err := postgres.RunInTenant(ctx, s.db, tenantID, func(ctx context.Context) error {
		var err error
		sess, err = s.selectSession(ctx, tenantID, sessionID, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, tenantID id.TenantID, userID id.UserID) ([]*models.Session, error) {
	var out []*models.Session
	err := postgres.RunInTenant(ctx, s.db, tenantID, func(ctx context.Context) error {
		rows, err := tx.Exec(ctx, s.db).QueryContext(ctx,
			`SELECT `+sessionColumns+` FROM sessions
			 WHERE tenant_id = $1 AND user_id = $2
			 ORDER BY created_at DESC`, tenantID, userID)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			sess, err := scanSession(rows)
			if err != nil {
				return err
			}
			out = append(out, sess)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) Execute(ctx context.Context, tenantID id.TenantID, sessionID id.SessionID, validate func(*models.Session) error, mutate func(*models.Session)) (*models.Session, error) {
	var result *models.Session
	err := postgres.RunInTenant(ctx, s.db, tenantID, func(ctx context.Context) error {
		sess, err := s.selectSession(ctx, tenantID, sessionID, " FOR UPDATE")
		if err != nil {
			return err
		}
		if err := validate(sess); err != nil {
			return err
		}
		mutate(sess)
		_, err = tx.Exec(ctx, s.db).ExecContext(ctx,
			`UPDATE sessions
			 SET access_token_hash = $3, refresh_token_hash = $4, generation = $5,
			     access_expires_at = $6, last_activity_at = $7, revoked_at = $8, revoke_reason = $9
			 WHERE id = $1 AND tenant_id = $2`,
			sess.ID, tenantID, sess.AccessTokenHash, nullString(sess.RefreshTokenHash), sess.Generation,
			sess.AccessExpiresAt, sess.LastActivityAt, sess.RevokedAt, nullString(string(sess.RevokeReason)),
		)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		result = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AdvanceRefresh is a compare-and-swap on generation.
func (s *PostgresStore) AdvanceRefresh(ctx context.Context, tenantID id.TenantID, sessionID id.SessionID, expectedGeneration int64, accessHash string, accessExpiresAt, now time.Time) (*models.Session, error) {
	var result *models.Session
	err := postgres.RunInTenant(ctx, s.db, tenantID, func(ctx context.Context) error {
		sess, err := scanSession(tx.Exec(ctx, s.db).QueryRowContext(ctx,
			`UPDATE sessions
			 SET access_token_hash = $4, access_expires_at = $5, last_activity_at = $6,
			     generation = generation + 1
			 WHERE id = $1 AND tenant_id = $2 AND generation = $3 AND revoked_at IS NULL
			 RETURNING `+sessionColumns,
			sessionID, tenantID, expectedGeneration, accessHash, accessExpiresAt, now))
		if err == nil {
			result = sess
			return nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}
		current, err := s.selectSession(ctx, tenantID, sessionID, "")
		if err != nil {
			return err
		}
		if current.IsRevoked() {
			return sentinel.ErrInvalidState
		}
		return sentinel.ErrConflict
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) RevokeAllForUser(ctx context.Context, tenantID id.TenantID, userID id.UserID, reason models.RevokeReason, now time.Time) ([]*models.Session, error) {
	var out []*models.Session
	err := postgres.RunInTenant(ctx, s.db, tenantID, func(ctx context.Context) error {
		rows, err := tx.Exec(ctx, s.db).QueryContext(ctx,
			`UPDATE sessions SET revoked_at = $3, revoke_reason = $4
			 WHERE tenant_id = $1 AND user_id = $2 AND revoked_at IS NULL
			 RETURNING `+sessionColumns, tenantID, userID, now, string(reason))
		if err != nil {
			return fmt.Errorf("revoke user sessions: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			sess, err := scanSession(rows)
			if err != nil {
				return err
			}
			out = append(out, sess)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) selectSession(ctx context.Context, tenantID id.TenantID, sessionID id.SessionID, lock string) (*models.Session, error) {
	sess, err := scanSession(tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1 AND tenant_id = $2`+lock,
		sessionID, tenantID))
	if !errors.Is(err, sentinel.ErrNotFound) {
		return sess, err
	}
	var owner *id.TenantID
	if err := tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT owner_tenant_of_session($1)`, sessionID).Scan(&owner); err != nil {
		return nil, fmt.Errorf("probe session owner: %w", err)
	}
	if owner != nil && *owner != tenantID {
		return nil, sentinel.ErrTenantMismatch
	}
	return nil, sentinel.ErrNotFound
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		sess                models.Session
		refreshHash, reason sql.NullString
		revokedAt           sql.NullTime
	)
	err := row.Scan(&sess.ID, &sess.TenantID, &sess.UserID, &sess.AccessTokenHash, &refreshHash,
		pq.Array(&sess.Roles), &sess.DeviceLabel, &sess.ClientIP, &sess.Generation,
		&sess.AccessExpiresAt, &sess.RefreshExpiresAt, &sess.LastActivityAt,
		&revokedAt, &reason, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.RefreshTokenHash = refreshHash.String
	sess.RevokeReason = models.RevokeReason(reason.String)
	if revokedAt.Valid {
		t := revokedAt.Time
		sess.RevokedAt = &t
	}
	return &sess, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
