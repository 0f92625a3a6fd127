package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "olympus/pkg/domain-errors"
)

func TestParseRole(t *testing.T) {
	for _, r := range Roles {
		got, err := ParseRole(r.String())
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}

	t.Run("accepts hyphenated and mixed case", func(t *testing.T) {
		got, err := ParseRole(" Tenant-Admin ")
		require.NoError(t, err)
		assert.Equal(t, RoleTenantAdmin, got)
	})

	t.Run("rejects unknown names", func(t *testing.T) {
		for _, bad := range []string{"", "root", "admin", "role(3)"} {
			_, err := ParseRole(bad)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), "input %q", bad)
		}
	})
}

func TestRoleRank(t *testing.T) {
	for i := 1; i < len(Roles); i++ {
		assert.True(t, Roles[i].Outranks(Roles[i-1]), "%s should outrank %s", Roles[i], Roles[i-1])
	}
	assert.Zero(t, Role(42).Rank())
	assert.True(t, RoleGuest.Outranks(Role(0)))
}

func TestParseRoles(t *testing.T) {
	roles, err := ParseRoles([]string{"manager", "employee", "manager"})
	require.NoError(t, err)
	assert.Equal(t, []Role{RoleManager, RoleEmployee}, roles)
	assert.Equal(t, RoleManager, Highest(roles))
	assert.Equal(t, []string{"manager", "employee"}, RoleNames(roles))

	_, err = ParseRoles([]string{"manager", "owner"})
	assert.Error(t, err)
}
