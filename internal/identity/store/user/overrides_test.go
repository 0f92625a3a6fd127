package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"olympus/internal/identity/models"
	"olympus/internal/policy"
	id "olympus/pkg/domain"
)

type failingFinder struct{}

func (failingFinder) FindByID(context.Context, id.TenantID, id.UserID) (*models.User, error) {
	return nil, errors.New("connection reset")
}

type OverridesSuite struct {
	suite.Suite
	ctx   context.Context
	store *InMemory
	user  *models.User
}

func TestOverridesSuite(t *testing.T) {
	suite.Run(t, new(OverridesSuite))
}

func (s *OverridesSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewInMemory()
	u, err := models.NewUser(id.NewUserID(), id.NewTenantID(), "emp@example.com", "hash",
		[]policy.Role{policy.RoleEmployee}, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(err)
	u.Permissions = []string{"orders:refund"}
	s.Require().NoError(s.store.Create(s.ctx, u))
	s.user = u
}

func (s *OverridesSuite) TestPermissionOverrides() {
	overrides := NewOverrides(s.store)

	s.Run("returns stored grants", func() {
		got, err := overrides.PermissionOverrides(s.ctx, s.user.TenantID, s.user.ID)
		s.Require().NoError(err)
		s.Equal([]string{"orders:refund"}, got)
	})

	s.Run("unknown user has none", func() {
		got, err := overrides.PermissionOverrides(s.ctx, s.user.TenantID, id.NewUserID())
		s.Require().NoError(err)
		s.Empty(got)
	})

	s.Run("another tenant sees none", func() {
		got, err := overrides.PermissionOverrides(s.ctx, id.NewTenantID(), s.user.ID)
		s.Require().NoError(err)
		s.Empty(got)
	})

	s.Run("store failures surface", func() {
		_, err := NewOverrides(failingFinder{}).PermissionOverrides(s.ctx, s.user.TenantID, s.user.ID)
		s.Error(err)
	})
}
