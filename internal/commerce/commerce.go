// Package commerce runs the order and payment lifecycle of a tenant.
package commerce

import (
	"olympus/internal/commerce/service"
)

// Service exposes order and payment transitions.
type Service = service.Service

// NewService constructs the commerce service with required dependencies.
func NewService(orders service.OrderStore, tenants service.TenantReader, authorizer service.Authorizer, opts ...service.Option) (*Service, error) {
	return service.New(orders, tenants, authorizer, opts...)
}
