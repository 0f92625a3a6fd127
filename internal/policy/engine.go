package policy

//go:generate mockgen -source=engine.go -destination=mocks/mocks.go -package=mocks TenantChecker,OverrideSource

import (
	"context"
	"log/slog"

	policymetrics "olympus/internal/policy/metrics"
	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
)

// Reason explains a denial.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonInsufficientRole   Reason = "insufficient_role"
	ReasonTenantSuspended    Reason = "tenant_suspended"
	ReasonResourceOutOfScope Reason = "resource_out_of_scope"
)

// Decision is the outcome of one authorization check. A denied decision
// always carries a reason.
type Decision struct {
	Allowed bool
	Reason  Reason
}

func allow() Decision { return Decision{Allowed: true} }

func deny(r Reason) Decision { return Decision{Reason: r} }

// Err converts a denial into its domain error, or nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonTenantSuspended:
		return dErrors.New(dErrors.CodeTenantSuspended, "tenant is suspended")
	case ReasonResourceOutOfScope:
		return dErrors.New(dErrors.CodeResourceOutOfScope, "resource is outside the caller's tenant")
	default:
		return dErrors.New(dErrors.CodeInsufficientRole, "insufficient role for this action")
	}
}

// TenantChecker reports whether a tenant may be acted on.
type TenantChecker interface {
	EnsureActive(ctx context.Context, tenantID id.TenantID) error
}

// OverrideSource loads the per-user permission strings granted on top of
// the user's roles.
type OverrideSource interface {
	PermissionOverrides(ctx context.Context, tenantID id.TenantID, userID id.UserID) ([]string, error)
}

// Engine evaluates claims against required permissions. It is safe for
// concurrent use and holds no per-tenant state.
type Engine struct {
	tenants   TenantChecker
	overrides OverrideSource
	metrics   *policymetrics.Metrics
	logger    *slog.Logger
}

type Option func(*Engine)

func WithOverrides(src OverrideSource) Option {
	return func(e *Engine) { e.overrides = src }
}

func WithMetrics(m *policymetrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func NewEngine(tenants TenantChecker, opts ...Option) *Engine {
	e := &Engine{tenants: tenants, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Authorize checks perm inside the caller's own tenant.
func (e *Engine) Authorize(ctx context.Context, claims *id.Claims, perm Permission) (Decision, error) {
	if claims == nil {
		return e.record(ctx, nil, perm, deny(ReasonInsufficientRole)), nil
	}
	return e.AuthorizeIn(ctx, claims, perm, claims.TenantID)
}

// AuthorizeIn checks perm against a resource owned by resourceTenant.
//
// Checks run in order and the first failing one decides:
//  1. scope: a resource in another tenant is out of scope unless the caller
//     is a super-admin. Child tenants get no authority from their parent.
//  2. the resource tenant must be active.
//  3. tenant-admins hold every permission in their tenant; super-admins in
//     every tenant.
//  4. the union of role permissions and per-user overrides must contain perm.
//
// The error return is reserved for failures to evaluate, never for denials.
func (e *Engine) AuthorizeIn(ctx context.Context, claims *id.Claims, perm Permission, resourceTenant id.TenantID) (Decision, error) {
	if claims == nil || claims.TenantID.IsNil() {
		return e.record(ctx, claims, perm, deny(ReasonInsufficientRole)), nil
	}
	roles := e.parseRoles(ctx, claims)
	super := hasRole(roles, RoleSuperAdmin)

	if resourceTenant != claims.TenantID && !super {
		return e.record(ctx, claims, perm, deny(ReasonResourceOutOfScope)), nil
	}

	if e.tenants != nil {
		if err := e.tenants.EnsureActive(ctx, resourceTenant); err != nil {
			switch {
			case dErrors.HasCode(err, dErrors.CodeTenantSuspended):
				return e.record(ctx, claims, perm, deny(ReasonTenantSuspended)), nil
			case dErrors.HasCode(err, dErrors.CodeTenantNotFound):
				return e.record(ctx, claims, perm, deny(ReasonResourceOutOfScope)), nil
			default:
				return Decision{}, err
			}
		}
	}

	if super || hasRole(roles, RoleTenantAdmin) {
		return e.record(ctx, claims, perm, allow()), nil
	}

	granted := PermissionSet{}
	for _, r := range roles {
		granted = granted.Union(PermissionsFor(r))
	}
	if granted.Has(perm) {
		return e.record(ctx, claims, perm, allow()), nil
	}

	if e.overrides != nil {
		extra, err := e.overrides.PermissionOverrides(ctx, claims.TenantID, claims.Subject)
		if err != nil {
			return Decision{}, err
		}
		for _, raw := range extra {
			if Permission(raw) == perm {
				return e.record(ctx, claims, perm, allow()), nil
			}
		}
	}
	return e.record(ctx, claims, perm, deny(ReasonInsufficientRole)), nil
}

// Require is Authorize folded into a single error.
func (e *Engine) Require(ctx context.Context, claims *id.Claims, perm Permission) error {
	d, err := e.Authorize(ctx, claims, perm)
	if err != nil {
		return err
	}
	return d.Err()
}

// RequireIn is AuthorizeIn folded into a single error.
func (e *Engine) RequireIn(ctx context.Context, claims *id.Claims, perm Permission, resourceTenant id.TenantID) error {
	d, err := e.AuthorizeIn(ctx, claims, perm, resourceTenant)
	if err != nil {
		return err
	}
	return d.Err()
}

// parseRoles drops role names outside the closed set. Tokens are signed by
// this service, so an unknown name means a stale or foreign token.
func (e *Engine) parseRoles(ctx context.Context, claims *id.Claims) []Role {
	roles := make([]Role, 0, len(claims.Roles))
	for _, name := range claims.Roles {
		r, err := ParseRole(name)
		if err != nil {
			e.logger.WarnContext(ctx, "ignoring unknown role in claims",
				"role", name, "tenant_id", claims.TenantID, "user_id", claims.Subject)
			continue
		}
		roles = append(roles, r)
	}
	return roles
}

func (e *Engine) record(ctx context.Context, claims *id.Claims, perm Permission, d Decision) Decision {
	if d.Allowed {
		if e.metrics != nil {
			e.metrics.IncrementAllowed()
		}
		return d
	}
	if e.metrics != nil {
		e.metrics.IncrementDenied(string(d.Reason), string(perm))
	}
	attrs := []any{"permission", perm, "reason", d.Reason}
	if claims != nil {
		attrs = append(attrs, "tenant_id", claims.TenantID, "user_id", claims.Subject)
	}
	e.logger.InfoContext(ctx, "authorization denied", attrs...)
	return d
}

func hasRole(roles []Role, want Role) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}
