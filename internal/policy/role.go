package policy

import (
	"fmt"
	"strings"

	dErrors "olympus/pkg/domain-errors"
)

// Role is the closed set of roles a user can hold. The zero value is not a
// valid role.
type Role int

const (
	roleUnknown Role = iota
	RoleGuest
	RoleCustomer
	RoleEmployee
	RoleManager
	RoleLocationAdmin
	RoleTenantAdmin
	RoleSuperAdmin
)

// Roles lists every role from least to most privileged.
var Roles = []Role{
	RoleGuest,
	RoleCustomer,
	RoleEmployee,
	RoleManager,
	RoleLocationAdmin,
	RoleTenantAdmin,
	RoleSuperAdmin,
}

// String returns the wire name carried in token claims.
func (r Role) String() string {
	switch r {
	case RoleGuest:
		return "guest"
	case RoleCustomer:
		return "customer"
	case RoleEmployee:
		return "employee"
	case RoleManager:
		return "manager"
	case RoleLocationAdmin:
		return "location_admin"
	case RoleTenantAdmin:
		return "tenant_admin"
	case RoleSuperAdmin:
		return "super_admin"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

func (r Role) IsValid() bool {
	return r >= RoleGuest && r <= RoleSuperAdmin
}

// Rank orders roles by privilege. Higher ranks may grant lower roles.
func (r Role) Rank() int {
	if !r.IsValid() {
		return 0
	}
	return int(r)
}

// Outranks reports whether r is strictly more privileged than other.
func (r Role) Outranks(other Role) bool {
	return r.Rank() > other.Rank()
}

// ParseRole accepts the wire name, case-insensitively. Hyphenated spellings
// such as "tenant-admin" are accepted too.
func ParseRole(s string) (Role, error) {
	name := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for _, r := range Roles {
		if r.String() == name {
			return r, nil
		}
	}
	return roleUnknown, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown role %q", s))
}

// ParseRoles parses every name and rejects the whole list on the first
// unknown one. Duplicates are collapsed.
func ParseRoles(names []string) ([]Role, error) {
	out := make([]Role, 0, len(names))
	seen := make(map[Role]bool, len(names))
	for _, n := range names {
		r, err := ParseRole(n)
		if err != nil {
			return nil, err
		}
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out, nil
}

// Highest returns the most privileged role in roles.
func Highest(roles []Role) Role {
	top := roleUnknown
	for _, r := range roles {
		if r.Rank() > top.Rank() {
			top = r
		}
	}
	return top
}

// RoleNames returns the wire names of roles.
func RoleNames(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = r.String()
	}
	return out
}
