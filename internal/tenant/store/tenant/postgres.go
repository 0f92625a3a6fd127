package tenant

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"olympus/internal/platform/postgres"
	"olympus/internal/tenant/models"
	id "olympus/pkg/domain"
	"olympus/pkg/platform/sentinel"
	"olympus/pkg/platform/tx"
)

// PostgresStore persists tenants. The tenants table is not under row-level
// security: tenant resolution happens before a tenant scope exists.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tenantColumns = `id, slug, name, industry, tier, parent_id, settings, status, version, created_at, updated_at, deleted_at`

func (s *PostgresStore) CreateIfSlugAvailable(ctx context.Context, t *models.Tenant) error {
	settings, err := json.Marshal(t.Settings)
	if err != nil {
		return fmt.Errorf("marshal tenant settings: %w", err)
	}
	res, err := tx.Exec(ctx, s.db).ExecContext(ctx,
		`INSERT INTO tenants (`+tenantColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT DO NOTHING`,
		t.ID, t.Slug, t.Name, t.Industry, t.Tier, t.ParentID, settings, t.Status, t.Version,
		t.CreatedAt, t.UpdatedAt, t.DeletedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert tenant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	if n == 0 {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	row := tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, tenantID)
	return scanTenant(row)
}

func (s *PostgresStore) FindBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	row := tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug)
	return scanTenant(row)
}

func (s *PostgresStore) ChildIDs(ctx context.Context, parentID id.TenantID) ([]id.TenantID, error) {
	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx, `SELECT id FROM tenants WHERE parent_id = $1`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list child tenants: %w", err)
	}
	defer rows.Close()

	var out []id.TenantID
	for rows.Next() {
		var child id.TenantID
		if err := rows.Scan(&child); err != nil {
			return nil, fmt.Errorf("scan child tenant: %w", err)
		}
		out = append(out, child)
	}
	return out, rows.Err()
}

// Execute locks the row FOR UPDATE, validates, mutates and writes back in one
// transaction (joining the caller's when ctx carries one).
func (s *PostgresStore) Execute(ctx context.Context, tenantID id.TenantID, validate func(*models.Tenant) error, mutate func(*models.Tenant)) (*models.Tenant, error) {
	var result *models.Tenant
	err := tx.Run(ctx, s.db, func(ctx context.Context) error {
		exec := tx.Exec(ctx, s.db)
		t, err := scanTenant(exec.QueryRowContext(ctx,
			`SELECT `+tenantColumns+` FROM tenants WHERE id = $1 FOR UPDATE`, tenantID))
		if err != nil {
			return err
		}
		if err := validate(t); err != nil {
			return err
		}
		mutate(t)

		settings, err := json.Marshal(t.Settings)
		if err != nil {
			return fmt.Errorf("marshal tenant settings: %w", err)
		}
		_, err = exec.ExecContext(ctx,
			`UPDATE tenants
			 SET name = $2, industry = $3, tier = $4, parent_id = $5, settings = $6,
			     status = $7, version = $8, updated_at = $9, deleted_at = $10
			 WHERE id = $1`,
			t.ID, t.Name, t.Industry, t.Tier, t.ParentID, settings, t.Status, t.Version, t.UpdatedAt, t.DeletedAt,
		)
		if err != nil {
			return fmt.Errorf("update tenant: %w", err)
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (*models.Tenant, error) {
	var (
		t        models.Tenant
		parentID *id.TenantID
		settings []byte
		deleted  sql.NullTime
	)
	err := row.Scan(&t.ID, &t.Slug, &t.Name, &t.Industry, &t.Tier, &parentID, &settings,
		&t.Status, &t.Version, &t.CreatedAt, &t.UpdatedAt, &deleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	t.ParentID = parentID
	if deleted.Valid {
		d := deleted.Time
		t.DeletedAt = &d
	}
	t.Settings = models.Settings{}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &t.Settings); err != nil {
			return nil, fmt.Errorf("decode tenant settings: %w", err)
		}
	}
	return &t, nil
}
