// Package identity issues, validates and revokes session credentials.
package identity

import (
	"olympus/internal/identity/password"
	"olympus/internal/identity/service"
	"olympus/internal/identity/token"
)

// Service exposes registration, login, refresh and revocation.
type Service = service.Service

// NewService constructs the identity service with required dependencies.
func NewService(users service.UserStore, sessions service.SessionStore, tenants service.TenantResolver, tokens *token.Service, hasher *password.Hasher, cfg service.Config, opts ...service.Option) (*Service, error) {
	return service.New(users, sessions, tenants, tokens, hasher, cfg, opts...)
}
