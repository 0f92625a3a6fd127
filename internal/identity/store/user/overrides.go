package user

import (
	"context"
	"errors"
	"fmt"

	"olympus/internal/identity/models"
	id "olympus/pkg/domain"
	"olympus/pkg/platform/sentinel"
)

type finder interface {
	FindByID(ctx context.Context, tenantID id.TenantID, userID id.UserID) (*models.User, error)
}

// Overrides serves the per-user permission grants stored on each user to the
// policy engine. A missing or deleted user has no grants.
type Overrides struct {
	users finder
}

func NewOverrides(users finder) *Overrides {
	return &Overrides{users: users}
}

func (o *Overrides) PermissionOverrides(ctx context.Context, tenantID id.TenantID, userID id.UserID) ([]string, error) {
	u, err := o.users.FindByID(ctx, tenantID, userID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound), errors.Is(err, sentinel.ErrTenantMismatch):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("load permission overrides: %w", err)
	}
	return u.Permissions, nil
}
