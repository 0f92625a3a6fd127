package tenant

import (
	"context"

	"olympus/internal/tenant/service"
	id "olympus/pkg/domain"
)

// Service exposes tenant lifecycle orchestration.
type Service = service.Service

// NewService constructs the tenant service with required dependencies.
func NewService(tenants service.TenantStore, opts ...service.Option) *Service {
	return service.New(tenants, opts...)
}

// ActiveChecker adapts the tenant service to the narrow check the credential
// store guard and the policy engine depend on.
type ActiveChecker struct {
	svc *Service
}

func NewActiveChecker(svc *Service) ActiveChecker {
	return ActiveChecker{svc: svc}
}

// EnsureActive returns TenantNotFound for missing or deleted tenants and
// TenantSuspended for suspended ones.
func (c ActiveChecker) EnsureActive(ctx context.Context, tenantID id.TenantID) error {
	return c.svc.EnsureActive(ctx, tenantID)
}
