// Package tenantguard decorates the credential stores so that no read or
// write reaches a tenant that is missing or soft-deleted. Suspended tenants
// stay reachable; suspension is enforced by login and the policy engine.
package tenantguard

import (
	"context"
	"time"

	"olympus/internal/identity/models"
	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
)

type TenantChecker interface {
	EnsureActive(ctx context.Context, tenantID id.TenantID) error
}

type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	FindByEmail(ctx context.Context, tenantID id.TenantID, email string) (*models.User, error)
	FindByID(ctx context.Context, tenantID id.TenantID, userID id.UserID) (*models.User, error)
	Update(ctx context.Context, tenantID id.TenantID, u *models.User) error
	Execute(ctx context.Context, tenantID id.TenantID, userID id.UserID, validate func(*models.User) error, mutate func(*models.User)) (*models.User, error)
	RecordFailure(ctx context.Context, tenantID id.TenantID, userID id.UserID, now time.Time) (*models.User, error)
}

type SessionStore interface {
	Create(ctx context.Context, sess *models.Session) error
	FindByID(ctx context.Context, tenantID id.TenantID, sessionID id.SessionID) (*models.Session, error)
	ListByUser(ctx context.Context, tenantID id.TenantID, userID id.UserID) ([]*models.Session, error)
	Execute(ctx context.Context, tenantID id.TenantID, sessionID id.SessionID, validate func(*models.Session) error, mutate func(*models.Session)) (*models.Session, error)
	AdvanceRefresh(ctx context.Context, tenantID id.TenantID, sessionID id.SessionID, expectedGeneration int64, accessHash string, accessExpiresAt, now time.Time) (*models.Session, error)
	RevokeAllForUser(ctx context.Context, tenantID id.TenantID, userID id.UserID, reason models.RevokeReason, now time.Time) ([]*models.Session, error)
}

func check(ctx context.Context, tenants TenantChecker, tenantID id.TenantID) error {
	err := tenants.EnsureActive(ctx, tenantID)
	if err == nil || dErrors.HasCode(err, dErrors.CodeTenantSuspended) {
		return nil
	}
	return err
}

// Users guards a UserStore.
type Users struct {
	next    UserStore
	tenants TenantChecker
}

func NewUsers(next UserStore, tenants TenantChecker) *Users {
	return &Users{next: next, tenants: tenants}
}

func (g *Users) Create(ctx context.Context, u *models.User) error {
	if err := check(ctx, g.tenants, u.TenantID); err != nil {
		return err
	}
	return g.next.Create(ctx, u)
}

func (g *Users) FindByEmail(ctx context.Context, tenantID id.TenantID, email string) (*models.User, error) {
	if err := check(ctx, g.tenants, tenantID); err != nil {
		return nil, err
	}
	return g.next.FindByEmail(ctx, tenantID, email)
}

func (g *Users) FindByID(ctx context.Context, tenantID id.TenantID, userID id.UserID) (*models.User, error) {
	if err := check(ctx, g.tenants, tenantID); err != nil {
		return nil, err
	}
	return g.next.FindByID(ctx, tenantID, userID)
}

func (g *Users) Update(ctx context.Context, tenantID id.TenantID, u *models.User) error {
	if err := check(ctx, g.tenants, tenantID); err != nil {
		return err
	}
	return g.next.Update(ctx, tenantID, u)
}

func (g *Users) Execute(ctx context.Context, tenantID id.TenantID, userID id.UserID, validate func(*models.User) error, mutate func(*models.User)) (*models.User, error) {
	if err := check(ctx, g.tenants, tenantID); err != nil {
		return nil, err
	}
	return g.next.Execute(ctx, tenantID, userID, validate, mutate)
}

func (g *Users) RecordFailure(ctx context.Context, tenantID id.TenantID, userID id.UserID, now time.Time) (*models.User, error) {
	if err := check(ctx, g.tenants, tenantID); err != nil {
		return nil, err
	}
	return g.next.RecordFailure(ctx, tenantID, userID, now)
}

// Sessions guards a SessionStore.
type Sessions struct {
	next    SessionStore
	tenants TenantChecker
}

func NewSessions(next SessionStore, tenants TenantChecker) *Sessions {
	return &Sessions{next: next, tenants: tenants}
}

func (g *Sessions) Create(ctx context.Context, sess *models.Session) error {
	if err := check(ctx, g.tenants, sess.TenantID); err != nil {
		return err
	}
	return g.next.Create(ctx, sess)
}

func (g *Sessions) FindByID(ctx context.Context, tenantID id.TenantID, sessionID id.SessionID) (*models.Session, error) {
	if err := check(ctx, g.tenants, tenantID); err != nil {
		return nil, err
	}
	return g.next.FindByID(ctx, tenantID, sessionID)
}

func (g *Sessions) ListByUser(ctx context.Context, tenantID id.TenantID, userID id.UserID) ([]*models.Session, error) {
	if err := check(ctx, g.tenants, tenantID); err != nil {
		return nil, err
	}
	return g.next.ListByUser(ctx, tenantID, userID)
}

func (g *Sessions) Execute(ctx context.Context, tenantID id.TenantID, sessionID id.SessionID, validate func(*models.Session) error, mutate func(*models.Session)) (*models.Session, error) {
	if err := check(ctx, g.tenants, tenantID); err != nil {
		return nil, err
	}
	return g.next.Execute(ctx, tenantID, sessionID, validate, mutate)
}

func (g *Sessions) AdvanceRefresh(ctx context.Context, tenantID id.TenantID, sessionID id.SessionID, expectedGeneration int64, accessHash string, accessExpiresAt, now time.Time) (*models.Session, error) {
	if err := check(ctx, g.tenants, tenantID); err != nil {
		return nil, err
	}
	return g.next.AdvanceRefresh(ctx, tenantID, sessionID, expectedGeneration, accessHash, accessExpiresAt, now)
}

func (g *Sessions) RevokeAllForUser(ctx context.Context, tenantID id.TenantID, userID id.UserID, reason models.RevokeReason, now time.Time) ([]*models.Session, error) {
	if err := check(ctx, g.tenants, tenantID); err != nil {
		return nil, err
	}
	return g.next.RevokeAllForUser(ctx, tenantID, userID, reason, now)
}
