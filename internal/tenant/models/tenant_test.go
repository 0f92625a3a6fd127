package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
)

func TestNewTenant(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("applies defaults", func(t *testing.T) {
		tenant, err := NewTenant(id.NewTenantID(), "acme-foods", "  Acme Foods ", "", "", now)
		require.NoError(t, err)
		assert.Equal(t, "Acme Foods", tenant.Name)
		assert.Equal(t, IndustryOther, tenant.Industry)
		assert.Equal(t, TierFree, tenant.Tier)
		assert.Equal(t, TenantStatusActive, tenant.Status)
		assert.Equal(t, int64(1), tenant.Version)
		assert.True(t, tenant.IsActive())
	})

	t.Run("rejects bad input", func(t *testing.T) {
		cases := map[string]func() error{
			"short slug": func() error {
				_, err := NewTenant(id.NewTenantID(), "ab", "A", "", "", now)
				return err
			},
			"slug with double hyphen": func() error {
				_, err := NewTenant(id.NewTenantID(), "a--b", "A", "", "", now)
				return err
			},
			"blank name": func() error {
				_, err := NewTenant(id.NewTenantID(), "acme", "   ", "", "", now)
				return err
			},
			"long name": func() error {
				_, err := NewTenant(id.NewTenantID(), "acme", strings.Repeat("n", 129), "", "", now)
				return err
			},
			"unknown industry": func() error {
				_, err := NewTenant(id.NewTenantID(), "acme", "A", Industry("mining"), "", now)
				return err
			},
			"unknown tier": func() error {
				_, err := NewTenant(id.NewTenantID(), "acme", "A", "", Tier("platinum"), now)
				return err
			},
		}
		for name, fn := range cases {
			t.Run(name, func(t *testing.T) {
				assert.True(t, dErrors.HasCode(fn(), dErrors.CodeInvariantViolation))
			})
		}
	})
}

func TestTenantLifecycle(t *testing.T) {
	now := time.Now()
	tenant, err := NewTenant(id.NewTenantID(), "lifecycle", "Lifecycle", IndustryEvents, TierEnterprise, now)
	require.NoError(t, err)

	require.Error(t, tenant.CanReactivate(), "active tenant cannot be reactivated")
	require.NoError(t, tenant.CanSuspend())
	tenant.ApplySuspension(now.Add(time.Minute))
	assert.False(t, tenant.IsActive())
	assert.Equal(t, int64(2), tenant.Version)
	require.Error(t, tenant.CanSuspend())

	require.NoError(t, tenant.CanReactivate())
	tenant.ApplyReactivation(now.Add(2 * time.Minute))
	assert.True(t, tenant.IsActive())

	require.NoError(t, tenant.CanDelete())
	tenant.ApplyDeletion(now.Add(3 * time.Minute))
	assert.True(t, tenant.IsDeleted())
	assert.False(t, tenant.IsActive())
	assert.Error(t, tenant.CanDelete())
	assert.Error(t, tenant.CanSuspend())
	assert.Error(t, tenant.CanReactivate())
	assert.Equal(t, int64(4), tenant.Version)
}

func TestNormalizeSlug(t *testing.T) {
	assert.Equal(t, "joes-diner", NormalizeSlug("  Joes-Diner "))
}
