package service

import (
	"context"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"olympus/internal/identity/models"
	"olympus/internal/identity/password"
	"olympus/internal/policy"
	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
	"olympus/pkg/requestcontext"
)

type RegisterRequest struct {
	TenantSlug string
	Email      string
	Password   string
	Roles      []string
}

// Register creates a user in the tenant named by slug. Anonymous callers get
// the customer role and may not ask for any other. A caller with
// users:create in that tenant may assign roles ranked below its own.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "identity.register")
	defer span.End()

	tenant, err := s.tenants.ResolveActiveBySlug(ctx, strings.TrimSpace(req.TenantSlug))
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("tenant.id", tenant.ID.String()))

	roles, err := s.registrationRoles(ctx, tenant.ID, req.Roles)
	if err != nil {
		return nil, err
	}
	if err := models.ValidateEmail(req.Email); err != nil {
		return nil, err
	}
	if err := password.ValidateStrength(req.Password); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}

	u, err := models.NewUser(id.NewUserID(), tenant.ID, req.Email, hash, roles, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, u); err != nil {
			return storeErr(err, dErrors.CodeNotFound, "failed to create user")
		}
		return s.emit(ctx, tenant.ID, "user:"+u.ID.String(), models.EventUserRegistered,
			models.UserRegistered{UserID: u.ID, Roles: u.RoleNames()})
	})
	if err != nil {
		return nil, err
	}
	s.incrementRegistration()
	return u, nil
}

func (s *Service) registrationRoles(ctx context.Context, tenantID id.TenantID, requested []string) ([]policy.Role, error) {
	claims := requestcontext.Claims(ctx)
	if claims == nil {
		if len(requested) == 0 || (len(requested) == 1 && strings.EqualFold(requested[0], policy.RoleCustomer.String())) {
			return []policy.Role{policy.RoleCustomer}, nil
		}
		return nil, dErrors.New(dErrors.CodeInsufficientRole, "self-registration may only request the customer role")
	}

	if s.authorizer == nil {
		return nil, dErrors.New(dErrors.CodeForbidden, "administrative registration is not enabled")
	}
	if err := s.authorizer.RequireIn(ctx, claims, policy.PermUsersCreate, tenantID); err != nil {
		return nil, err
	}
	if len(requested) == 0 {
		return []policy.Role{policy.RoleCustomer}, nil
	}
	roles, err := policy.ParseRoles(requested)
	if err != nil {
		return nil, err
	}

	callerRoles, _ := policy.ParseRoles(validRoleNames(claims.Roles))
	caller := policy.Highest(callerRoles)
	for _, r := range roles {
		if !caller.Outranks(r) {
			return nil, dErrors.New(dErrors.CodeInsufficientRole, "cannot assign role "+r.String())
		}
	}
	return roles, nil
}

// validRoleNames drops names ParseRoles would reject, so one stale role in a
// token does not void the rest.
func validRoleNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, err := policy.ParseRole(n); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// UpdateRoles replaces a user's roles. The caller needs users:manage in the
// user's tenant, may only grant roles ranked below its own, and must supply
// the version it last read. Existing sessions keep the roles they were
// issued with until they are refreshed from a new login.
func (s *Service) UpdateRoles(ctx context.Context, tenantID id.TenantID, userID id.UserID, roleNames []string, expectedVersion int64) (*models.User, error) {
	claims, err := requireClaims(ctx)
	if err != nil {
		return nil, err
	}
	if s.authorizer == nil {
		return nil, dErrors.New(dErrors.CodeForbidden, "role management is not enabled")
	}
	if err := s.authorizer.RequireIn(ctx, claims, policy.PermUsersManage, tenantID); err != nil {
		return nil, err
	}
	roles, err := policy.ParseRoles(roleNames)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one role is required")
	}
	callerRoles, _ := policy.ParseRoles(validRoleNames(claims.Roles))
	caller := policy.Highest(callerRoles)
	for _, r := range roles {
		if !caller.Outranks(r) {
			return nil, dErrors.New(dErrors.CodeInsufficientRole, "cannot assign role "+r.String())
		}
	}

	u, err := s.users.FindByID(ctx, tenantID, userID)
	if err != nil {
		return nil, storeErr(err, dErrors.CodeNotFound, "user not found")
	}
	if u.Version != expectedVersion {
		return nil, dErrors.New(dErrors.CodeVersionConflict, "user was modified concurrently")
	}
	if !caller.Outranks(u.HighestRole()) {
		return nil, dErrors.New(dErrors.CodeInsufficientRole, "cannot manage a user of equal or higher rank")
	}
	u.Roles = roles
	u.UpdatedAt = requestcontext.Now(ctx)
	if err := s.users.Update(ctx, tenantID, u); err != nil {
		return nil, storeErr(err, dErrors.CodeNotFound, "failed to update user")
	}
	return u, nil
}

// UpdatePermissions replaces the permission grants a user holds on top of its
// roles. The rank rules of UpdateRoles apply, and a caller below tenant-admin
// may only grant permissions its own roles carry.
func (s *Service) UpdatePermissions(ctx context.Context, tenantID id.TenantID, userID id.UserID, names []string, expectedVersion int64) (*models.User, error) {
	claims, err := requireClaims(ctx)
	if err != nil {
		return nil, err
	}
	if s.authorizer == nil {
		return nil, dErrors.New(dErrors.CodeForbidden, "permission management is not enabled")
	}
	if err := s.authorizer.RequireIn(ctx, claims, policy.PermUsersManage, tenantID); err != nil {
		return nil, err
	}
	perms := make([]string, 0, len(names))
	for _, n := range names {
		p, err := policy.ParsePermission(strings.TrimSpace(n))
		if err != nil {
			return nil, err
		}
		perms = append(perms, string(p))
	}
	slices.Sort(perms)
	perms = slices.Compact(perms)

	callerRoles, _ := policy.ParseRoles(validRoleNames(claims.Roles))
	caller := policy.Highest(callerRoles)
	if !caller.Outranks(policy.RoleLocationAdmin) {
		held := policy.PermissionSet{}
		for _, r := range callerRoles {
			held = held.Union(policy.PermissionsFor(r))
		}
		for _, p := range perms {
			if !held.Has(policy.Permission(p)) {
				return nil, dErrors.New(dErrors.CodeInsufficientRole, "cannot grant permission "+p)
			}
		}
	}

	u, err := s.users.FindByID(ctx, tenantID, userID)
	if err != nil {
		return nil, storeErr(err, dErrors.CodeNotFound, "user not found")
	}
	if u.Version != expectedVersion {
		return nil, dErrors.New(dErrors.CodeVersionConflict, "user was modified concurrently")
	}
	if !caller.Outranks(u.HighestRole()) {
		return nil, dErrors.New(dErrors.CodeInsufficientRole, "cannot manage a user of equal or higher rank")
	}
	u.Permissions = perms
	u.UpdatedAt = requestcontext.Now(ctx)
	if err := s.users.Update(ctx, tenantID, u); err != nil {
		return nil, storeErr(err, dErrors.CodeNotFound, "failed to update user")
	}
	s.logger.InfoContext(ctx, "user permissions updated",
		"tenant_id", tenantID, "user_id", userID, "permissions", perms)
	return u, nil
}
