package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"olympus/internal/commerce/models"
	"olympus/internal/platform/postgres"
	id "olympus/pkg/domain"
	"olympus/pkg/platform/sentinel"
	"olympus/pkg/platform/tx"
)

// PostgresStore persists orders under row-level security. Items are stored
// as JSONB.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const orderColumns = `id, tenant_id, location_id, customer_id, status, payment_status, currency, items,
	subtotal, tax, discount, total, authorized_amount, captured_amount, refunded_amount,
	cancel_reason, version, created_at, updated_at, submitted_at, confirmed_at, preparing_at,
	ready_at, completed_at, cancelled_at, refunded_at`

func (s *PostgresStore) Create(ctx context.Context, o *models.Order) error {
	items, err := marshalItems(o.Items)
	if err != nil {
		return err
	}
	return postgres.RunInTenant(ctx, s.db, o.TenantID, func(ctx context.Context) error {
		_, err := tx.Exec(ctx, s.db).ExecContext(ctx,
			`INSERT INTO orders (`+orderColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			         $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)`,
			o.ID, o.TenantID, o.LocationID, o.CustomerID, string(o.Status), string(o.Payment.Status),
			o.Currency, items, o.Subtotal, o.Tax, o.Discount, o.Total,
			o.Payment.Authorized, o.Payment.Captured, o.Payment.Refunded,
			nullString(o.CancelReason), o.Version, o.CreatedAt, o.UpdatedAt,
			o.SubmittedAt, o.ConfirmedAt, o.PreparingAt, o.ReadyAt, o.CompletedAt, o.CancelledAt, o.RefundedAt,
		)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return sentinel.ErrAlreadyUsed
			}
			return fmt.Errorf("insert order: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) FindByID(ctx context.Context, tenantID id.TenantID, orderID id.OrderID) (*models.Order, error) {
	var o *models.Order
	err := postgres.RunInTenant(ctx, s.db, tenantID, func(ctx context.Context) error {
		var err error
		o, err = s.selectOrder(ctx, tenantID, orderID, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *PostgresStore) List(ctx context.Context, tenantID id.TenantID, filter ListFilter) ([]*models.Order, error) {
	where := []string{"tenant_id = $1"}
	args := []any{tenantID}
	if filter.CustomerID != nil {
		args = append(args, *filter.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	args = append(args, filter.limit())
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + strings.Join(where, " AND ") +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	var out []*models.Order
	err := postgres.RunInTenant(ctx, s.db, tenantID, func(ctx context.Context) error {
		rows, err := tx.Exec(ctx, s.db).QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("list orders: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			o, err := scanOrder(rows)
			if err != nil {
				return err
			}
			out = append(out, o)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Execute locks the row FOR UPDATE, runs validate and mutate, and writes the
// result back only if the stored version is still the one that was read.
func (s *PostgresStore) Execute(ctx context.Context, tenantID id.TenantID, orderID id.OrderID, validate func(*models.Order) error, mutate func(*models.Order)) (*models.Order, error) {
	var result *models.Order
	err := postgres.RunInTenant(ctx, s.db, tenantID, func(ctx context.Context) error {
		o, err := s.selectOrder(ctx, tenantID, orderID, " FOR UPDATE")
		if err != nil {
			return err
		}
		if err := validate(o); err != nil {
			return err
		}
		readVersion := o.Version
		mutate(o)
		items, err := marshalItems(o.Items)
		if err != nil {
			return err
		}
		res, err := tx.Exec(ctx, s.db).ExecContext(ctx,
			`UPDATE orders
			 SET location_id = $4, status = $5, payment_status = $6, items = $7,
			     subtotal = $8, tax = $9, discount = $10, total = $11,
			     authorized_amount = $12, captured_amount = $13, refunded_amount = $14,
			     cancel_reason = $15, version = $16, updated_at = $17,
			     submitted_at = $18, confirmed_at = $19, preparing_at = $20, ready_at = $21,
			     completed_at = $22, cancelled_at = $23, refunded_at = $24
			 WHERE id = $1 AND tenant_id = $2 AND version = $3`,
			o.ID, tenantID, readVersion, o.LocationID, string(o.Status), string(o.Payment.Status), items,
			o.Subtotal, o.Tax, o.Discount, o.Total,
			o.Payment.Authorized, o.Payment.Captured, o.Payment.Refunded,
			nullString(o.CancelReason), o.Version, o.UpdatedAt,
			o.SubmittedAt, o.ConfirmedAt, o.PreparingAt, o.ReadyAt, o.CompletedAt, o.CancelledAt, o.RefundedAt,
		)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("update order: %w", err)
		} else if n != 1 {
			return sentinel.ErrConflict
		}
		result = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) selectOrder(ctx context.Context, tenantID id.TenantID, orderID id.OrderID, lock string) (*models.Order, error) {
	o, err := scanOrder(tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 AND tenant_id = $2`+lock,
		orderID, tenantID))
	if !errors.Is(err, sentinel.ErrNotFound) {
		return o, err
	}
	var owner *id.TenantID
	if err := tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT owner_tenant_of_order($1)`, orderID).Scan(&owner); err != nil {
		return nil, fmt.Errorf("probe order owner: %w", err)
	}
	if owner != nil && *owner != tenantID {
		return nil, sentinel.ErrTenantMismatch
	}
	return nil, sentinel.ErrNotFound
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o                                                 models.Order
		location                                          *id.LocationID
		status, paymentStatus                             string
		items                                             []byte
		cancelReason                                      sql.NullString
		submitted, confirmed, preparing, ready, completed sql.NullTime
		cancelled, refunded                               sql.NullTime
	)
	err := row.Scan(&o.ID, &o.TenantID, &location, &o.CustomerID, &status, &paymentStatus, &o.Currency, &items,
		&o.Subtotal, &o.Tax, &o.Discount, &o.Total,
		&o.Payment.Authorized, &o.Payment.Captured, &o.Payment.Refunded,
		&cancelReason, &o.Version, &o.CreatedAt, &o.UpdatedAt,
		&submitted, &confirmed, &preparing, &ready, &completed, &cancelled, &refunded)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode order items: %w", err)
	}
	o.LocationID = location
	o.Status = models.Status(status)
	o.Payment.Status = models.PaymentStatus(paymentStatus)
	o.CancelReason = cancelReason.String
	o.SubmittedAt = timePtr(submitted)
	o.ConfirmedAt = timePtr(confirmed)
	o.PreparingAt = timePtr(preparing)
	o.ReadyAt = timePtr(ready)
	o.CompletedAt = timePtr(completed)
	o.CancelledAt = timePtr(cancelled)
	o.RefundedAt = timePtr(refunded)
	return &o, nil
}

func marshalItems(items []models.Item) ([]byte, error) {
	if items == nil {
		items = []models.Item{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode order items: %w", err)
	}
	return b, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
