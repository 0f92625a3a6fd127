package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"olympus/internal/identity/models"
	"olympus/internal/platform/postgres"
	"olympus/internal/policy"
	id "olympus/pkg/domain"
	"olympus/pkg/platform/sentinel"
	"olympus/pkg/platform/tx"
)

// PostgresStore persists users under row-level security. Each call runs in
// a transaction scoped to the supplied tenant, and queries also filter on
// tenant_id explicitly.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `id, tenant_id, email, password_hash, roles, permissions, failed_login_count,
	last_failed_at, locked_until, version, created_at, updated_at, deleted_at`

func (s *PostgresStore) Create(ctx context.Context, u *models.User) error {
	return postgres.RunInTenant(ctx, s.db, u.TenantID, func(ctx context.Context) error {
		_, err := tx.Exec(ctx, s.db).ExecContext(ctx,
			`INSERT INTO users (`+userColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			u.ID, u.TenantID, models.NormalizeEmail(u.Email), u.PasswordHash,
			pq.Array(policy.RoleNames(u.Roles)), pq.Array(nonNil(u.Permissions)), u.FailedLoginCount,
			u.LastFailedAt, u.LockedUntil, u.Version, u.CreatedAt, u.UpdatedAt, u.DeletedAt,
		)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return sentinel.ErrAlreadyUsed
			}
			return fmt.Errorf("insert user: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) FindByEmail(ctx context.Context, tenantID id.TenantID, email string) (*models.User, error) {
	var u *models.User
	err := postgres.RunInTenant(ctx, s.db, tenantID, func(ctx context.Context) error {
		var err error
		u, err = scanUser(tx.Exec(ctx, s.db).QueryRowContext(ctx,
			`SELECT `+userColumns+` FROM users
			 WHERE tenant_id = $1 AND lower(email) = $2 AND deleted_at IS NULL`,
			tenantID, models.NormalizeEmail(email)))
		return err
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, tenantID id.TenantID, userID id.UserID) (*models.User, error) {
	var u *models.User
	err := postgres.RunInTenant(ctx, s.db, tenantID, func(ctx context.Context) error {
		var err error
		u, err = s.selectUser(ctx, tenantID, userID, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Update writes u when its version still matches the stored row.
func (s *PostgresStore) Update(ctx context.Context, tenantID id.TenantID, u *models.User) error {
	return postgres.RunInTenant(ctx, s.db, tenantID, func(ctx context.Context) error {
		var next int64
		err := tx.Exec(ctx, s.db).QueryRowContext(ctx,
			`UPDATE users
			 SET email = $4, password_hash = $5, roles = $6, permissions = $7,
			     failed_login_count = $8, last_failed_at = $9, locked_until = $10,
			     version = version + 1, updated_at = $11, deleted_at = $12
			 WHERE id = $1 AND tenant_id = $2 AND version = $3 AND deleted_at IS NULL
			 RETURNING version`,
			u.ID, tenantID, u.Version, models.NormalizeEmail(u.Email), u.PasswordHash,
			pq.Array(policy.RoleNames(u.Roles)), pq.Array(nonNil(u.Permissions)),
			u.FailedLoginCount, u.LastFailedAt, u.LockedUntil, u.UpdatedAt, u.DeletedAt,
		).Scan(&next)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return sentinel.ErrAlreadyUsed
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("update user: %w", err)
			}
			// No row: missing, foreign, deleted or stale.
			if _, err := s.selectUser(ctx, tenantID, u.ID, ""); err != nil {
				return err
			}
			return sentinel.ErrConflict
		}
		u.Version = next
		return nil
	})
}

// Execute locks the row FOR UPDATE, validates, mutates and writes it back.
func (s *PostgresStore) Execute(ctx context.Context, tenantID id.TenantID, userID id.UserID, validate func(*models.User) error, mutate func(*models.User)) (*models.User, error) {
	var result *models.User
	err := postgres.RunInTenant(ctx, s.db, tenantID, func(ctx context.Context) error {
		u, err := s.selectUser(ctx, tenantID, userID, " FOR UPDATE")
		if err != nil {
			return err
		}
		if err := validate(u); err != nil {
			return err
		}
		mutate(u)
		if err := s.write(ctx, u); err != nil {
			return err
		}
		result = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RecordFailure increments the counter in a single statement so concurrent
// failures are all counted.
func (s *PostgresStore) RecordFailure(ctx context.Context, tenantID id.TenantID, userID id.UserID, now time.Time) (*models.User, error) {
	var u *models.User
	err := postgres.RunInTenant(ctx, s.db, tenantID, func(ctx context.Context) error {
		var err error
		u, err = scanUser(tx.Exec(ctx, s.db).QueryRowContext(ctx,
			`UPDATE users
			 SET failed_login_count = failed_login_count + 1, last_failed_at = $3,
			     version = version + 1, updated_at = $3
			 WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
			 RETURNING `+userColumns,
			userID, tenantID, now))
		if errors.Is(err, sentinel.ErrNotFound) {
			return s.probe(ctx, tenantID, userID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *PostgresStore) selectUser(ctx context.Context, tenantID id.TenantID, userID id.UserID, lock string) (*models.User, error) {
	u, err := scanUser(tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`+lock,
		userID, tenantID))
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, s.probe(ctx, tenantID, userID)
	}
	return u, err
}

// probe tells a row owned by another tenant apart from a missing one. The
// owner function only reveals the owning tenant id.
func (s *PostgresStore) probe(ctx context.Context, tenantID id.TenantID, userID id.UserID) error {
	var owner *id.TenantID
	if err := tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT owner_tenant_of_user($1)`, userID).Scan(&owner); err != nil {
		return fmt.Errorf("probe user owner: %w", err)
	}
	if owner != nil && *owner != tenantID {
		return sentinel.ErrTenantMismatch
	}
	return sentinel.ErrNotFound
}

func (s *PostgresStore) write(ctx context.Context, u *models.User) error {
	_, err := tx.Exec(ctx, s.db).ExecContext(ctx,
		`UPDATE users
		 SET email = $3, password_hash = $4, roles = $5, permissions = $6,
		     failed_login_count = $7, last_failed_at = $8, locked_until = $9,
		     version = $10, updated_at = $11, deleted_at = $12
		 WHERE id = $1 AND tenant_id = $2`,
		u.ID, u.TenantID, u.Email, u.PasswordHash,
		pq.Array(policy.RoleNames(u.Roles)), pq.Array(nonNil(u.Permissions)),
		u.FailedLoginCount, u.LastFailedAt, u.LockedUntil, u.Version, u.UpdatedAt, u.DeletedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u                         models.User
		roles, permissions        []string
		lastFailed, locked, delAt sql.NullTime
	)
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.PasswordHash, pq.Array(&roles), pq.Array(&permissions),
		&u.FailedLoginCount, &lastFailed, &locked, &u.Version, &u.CreatedAt, &u.UpdatedAt, &delAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	parsed, err := policy.ParseRoles(roles)
	if err != nil {
		return nil, fmt.Errorf("user %s has an unknown role: %w", u.ID, err)
	}
	u.Roles = parsed
	u.Permissions = permissions
	u.LastFailedAt = timePtr(lastFailed)
	u.LockedUntil = timePtr(locked)
	u.DeletedAt = timePtr(delAt)
	return &u, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
