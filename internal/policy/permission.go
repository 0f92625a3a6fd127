package policy

import (
	"fmt"
	"regexp"
	"sort"

	dErrors "olympus/pkg/domain-errors"
)

// Permission names an action on a resource as "resource:action".
type Permission string

const (
	PermCatalogRead       Permission = "catalog:read"
	PermOrdersCreate      Permission = "orders:create"
	PermOrdersRead        Permission = "orders:read"
	PermOrdersUpdate      Permission = "orders:update"
	PermOrdersCancel      Permission = "orders:cancel"
	PermOrdersRefund      Permission = "orders:refund"
	PermPaymentsAuthorize Permission = "payments:authorize"
	PermPaymentsCapture   Permission = "payments:capture"
	PermUsersRead         Permission = "users:read"
	PermUsersCreate       Permission = "users:create"
	PermUsersManage       Permission = "users:manage"
	PermSessionsRevoke    Permission = "sessions:revoke"
	PermLocationsManage   Permission = "locations:manage"
	PermTenantsRead       Permission = "tenants:read"
	PermTenantsManage     Permission = "tenants:manage"
	PermEventsRead        Permission = "events:read"
)

var permissionPattern = regexp.MustCompile(`^[a-z][a-z_]*:[a-z][a-z_]*$`)

// ParsePermission validates the resource:action shape.
func ParsePermission(s string) (Permission, error) {
	if !permissionPattern.MatchString(s) {
		return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid permission %q", s))
	}
	return Permission(s), nil
}

// PermissionSet is an immutable set of permissions.
type PermissionSet struct {
	perms map[Permission]struct{}
}

func NewPermissionSet(perms ...Permission) PermissionSet {
	m := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		m[p] = struct{}{}
	}
	return PermissionSet{perms: m}
}

func (s PermissionSet) Has(p Permission) bool {
	_, ok := s.perms[p]
	return ok
}

func (s PermissionSet) Len() int {
	return len(s.perms)
}

// Union returns a new set holding the permissions of s and other.
func (s PermissionSet) Union(other PermissionSet) PermissionSet {
	m := make(map[Permission]struct{}, len(s.perms)+len(other.perms))
	for p := range s.perms {
		m[p] = struct{}{}
	}
	for p := range other.perms {
		m[p] = struct{}{}
	}
	return PermissionSet{perms: m}
}

// Slice returns the permissions sorted by name.
func (s PermissionSet) Slice() []Permission {
	out := make([]Permission, 0, len(s.perms))
	for p := range s.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var (
	guestPerms = NewPermissionSet(PermCatalogRead)

	customerPerms = guestPerms.Union(NewPermissionSet(
		PermOrdersCreate,
		PermOrdersRead,
		PermOrdersCancel,
		PermPaymentsAuthorize,
	))

	employeePerms = customerPerms.Union(NewPermissionSet(
		PermOrdersUpdate,
		PermPaymentsCapture,
	))

	managerPerms = employeePerms.Union(NewPermissionSet(
		PermOrdersRefund,
		PermUsersRead,
		PermSessionsRevoke,
	))

	locationAdminPerms = managerPerms.Union(NewPermissionSet(
		PermUsersCreate,
		PermLocationsManage,
		PermTenantsRead,
	))

	tenantAdminPerms = locationAdminPerms.Union(NewPermissionSet(
		PermUsersManage,
		PermTenantsManage,
		PermEventsRead,
	))
)

// PermissionsFor returns the permissions granted by role. Admin roles are
// also short-circuited by the engine; their sets here are what they list.
func PermissionsFor(r Role) PermissionSet {
	switch r {
	case RoleGuest:
		return guestPerms
	case RoleCustomer:
		return customerPerms
	case RoleEmployee:
		return employeePerms
	case RoleManager:
		return managerPerms
	case RoleLocationAdmin:
		return locationAdminPerms
	case RoleTenantAdmin, RoleSuperAdmin:
		return tenantAdminPerms
	default:
		return PermissionSet{}
	}
}
