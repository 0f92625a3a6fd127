package user

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"olympus/internal/identity/models"
	"olympus/internal/policy"
	id "olympus/pkg/domain"
	"olympus/pkg/platform/sentinel"
)

type UserStoreSuite struct {
	suite.Suite
	ctx     context.Context
	store   *InMemory
	now     time.Time
	tenantA id.TenantID
	tenantB id.TenantID
}

func TestUserStoreSuite(t *testing.T) {
	suite.Run(t, new(UserStoreSuite))
}

func (s *UserStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewInMemory()
	s.now = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	s.tenantA = id.NewTenantID()
	s.tenantB = id.NewTenantID()
}

func (s *UserStoreSuite) newUser(tenantID id.TenantID, email string) *models.User {
	u, err := models.NewUser(id.NewUserID(), tenantID, email, "$argon2id$stub", []policy.Role{policy.RoleCustomer}, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, u))
	return u
}

func (s *UserStoreSuite) TestEmailUniquePerTenant() {
	s.newUser(s.tenantA, "ana@example.com")

	dup, err := models.NewUser(id.NewUserID(), s.tenantA, "ANA@example.com", "h", []policy.Role{policy.RoleGuest}, s.now)
	s.Require().NoError(err)
	s.ErrorIs(s.store.Create(s.ctx, dup), sentinel.ErrAlreadyUsed)

	s.Run("same email in another tenant is a different identity", func() {
		other := s.newUser(s.tenantB, "ana@example.com")
		found, err := s.store.FindByEmail(s.ctx, s.tenantB, "Ana@Example.com")
		s.Require().NoError(err)
		s.Equal(other.ID, found.ID)
	})
}

func (s *UserStoreSuite) TestTenantIsolation() {
	u := s.newUser(s.tenantA, "ana@example.com")

	_, err := s.store.FindByID(s.ctx, s.tenantB, u.ID)
	s.ErrorIs(err, sentinel.ErrTenantMismatch)

	_, err = s.store.FindByEmail(s.ctx, s.tenantB, "ana@example.com")
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.Execute(s.ctx, s.tenantB, u.ID,
		func(*models.User) error { return nil },
		func(u *models.User) { u.Email = "hijack@example.com" })
	s.ErrorIs(err, sentinel.ErrTenantMismatch)

	u.Email = "hijack@example.com"
	s.ErrorIs(s.store.Update(s.ctx, s.tenantB, u), sentinel.ErrTenantMismatch)

	_, err = s.store.RecordFailure(s.ctx, s.tenantB, u.ID, s.now)
	s.ErrorIs(err, sentinel.ErrTenantMismatch)

	found, err := s.store.FindByID(s.ctx, s.tenantA, u.ID)
	s.Require().NoError(err)
	s.Equal("ana@example.com", found.Email)
	s.Zero(found.FailedLoginCount)
}

func (s *UserStoreSuite) TestUpdateIsVersioned() {
	u := s.newUser(s.tenantA, "ana@example.com")

	first, err := s.store.FindByID(s.ctx, s.tenantA, u.ID)
	s.Require().NoError(err)
	second, err := s.store.FindByID(s.ctx, s.tenantA, u.ID)
	s.Require().NoError(err)

	first.Email = "ana.new@example.com"
	s.Require().NoError(s.store.Update(s.ctx, s.tenantA, first))
	s.Equal(int64(2), first.Version)

	second.Permissions = []string{"orders:refund"}
	s.ErrorIs(s.store.Update(s.ctx, s.tenantA, second), sentinel.ErrConflict)

	_, err = s.store.FindByEmail(s.ctx, s.tenantA, "ana@example.com")
	s.ErrorIs(err, sentinel.ErrNotFound, "old email is released")
	found, err := s.store.FindByEmail(s.ctx, s.tenantA, "ana.new@example.com")
	s.Require().NoError(err)
	s.Equal(u.ID, found.ID)

	s.Run("email taken by another user", func() {
		s.newUser(s.tenantA, "bo@example.com")
		found.Email = "bo@example.com"
		s.ErrorIs(s.store.Update(s.ctx, s.tenantA, found), sentinel.ErrAlreadyUsed)
	})
}

func (s *UserStoreSuite) TestSoftDeletedUsersAreInvisible() {
	u := s.newUser(s.tenantA, "ana@example.com")
	_, err := s.store.Execute(s.ctx, s.tenantA, u.ID,
		func(u *models.User) error { return u.CanDelete() },
		func(u *models.User) { u.ApplyDeletion(s.now) })
	s.Require().NoError(err)

	_, err = s.store.FindByID(s.ctx, s.tenantA, u.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.FindByEmail(s.ctx, s.tenantA, "ana@example.com")
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.newUser(s.tenantA, "ana@example.com")
}

func (s *UserStoreSuite) TestRecordFailureCounts() {
	u := s.newUser(s.tenantA, "ana@example.com")
	for i := 1; i <= 3; i++ {
		got, err := s.store.RecordFailure(s.ctx, s.tenantA, u.ID, s.now)
		s.Require().NoError(err)
		s.Equal(i, got.FailedLoginCount)
	}
}

func (s *UserStoreSuite) TestReturnedUsersAreCopies() {
	u := s.newUser(s.tenantA, "ana@example.com")
	found, err := s.store.FindByID(s.ctx, s.tenantA, u.ID)
	s.Require().NoError(err)
	found.Roles[0] = policy.RoleSuperAdmin

	again, err := s.store.FindByID(s.ctx, s.tenantA, u.ID)
	s.Require().NoError(err)
	s.Equal([]policy.Role{policy.RoleCustomer}, again.Roles)
}
