package tenant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"olympus/internal/tenant/models"
	id "olympus/pkg/domain"
	"olympus/pkg/platform/sentinel"
)

type TenantStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func (s *TenantStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestTenantStoreSuite(t *testing.T) {
	suite.Run(t, new(TenantStoreSuite))
}

func (s *TenantStoreSuite) newTenant(slug string) *models.Tenant {
	t, err := models.NewTenant(id.NewTenantID(), slug, "Tenant "+slug, models.IndustryRestaurant, models.TierStarter, time.Now())
	s.Require().NoError(err)
	return t
}

func (s *TenantStoreSuite) TestCreationAndLookups() {
	t := s.newTenant("joes-diner")
	s.Require().NoError(s.store.CreateIfSlugAvailable(s.ctx, t))

	s.Run("finds tenant by ID", func() {
		found, err := s.store.FindByID(s.ctx, t.ID)
		s.Require().NoError(err)
		s.Equal(t.Slug, found.Slug)
		s.Equal(models.TierStarter, found.Tier)
	})

	s.Run("finds tenant by slug", func() {
		found, err := s.store.FindBySlug(s.ctx, "joes-diner")
		s.Require().NoError(err)
		s.Equal(t.ID, found.ID)
	})

	s.Run("returns ErrNotFound for unknown ID and slug", func() {
		_, err := s.store.FindByID(s.ctx, id.NewTenantID())
		s.ErrorIs(err, sentinel.ErrNotFound)
		_, err = s.store.FindBySlug(s.ctx, "missing")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *TenantStoreSuite) TestSlugUniqueness() {
	s.Require().NoError(s.store.CreateIfSlugAvailable(s.ctx, s.newTenant("taken")))

	err := s.store.CreateIfSlugAvailable(s.ctx, s.newTenant("taken"))
	s.ErrorIs(err, sentinel.ErrAlreadyUsed)
}

func (s *TenantStoreSuite) TestReturnedTenantsAreCopies() {
	t := s.newTenant("copy-check")
	s.Require().NoError(s.store.CreateIfSlugAvailable(s.ctx, t))

	found, err := s.store.FindByID(s.ctx, t.ID)
	s.Require().NoError(err)
	found.Name = "mutated"
	found.Settings["ordering"] = []byte(`{}`)

	again, err := s.store.FindByID(s.ctx, t.ID)
	s.Require().NoError(err)
	s.Equal("Tenant copy-check", again.Name)
	s.NotContains(again.Settings, "ordering")
}

func (s *TenantStoreSuite) TestExecute() {
	t := s.newTenant("exec")
	s.Require().NoError(s.store.CreateIfSlugAvailable(s.ctx, t))
	now := time.Now().Add(time.Minute)

	s.Run("applies mutation when validation passes", func() {
		updated, err := s.store.Execute(s.ctx, t.ID,
			func(t *models.Tenant) error { return t.CanSuspend() },
			func(t *models.Tenant) { t.ApplySuspension(now) },
		)
		s.Require().NoError(err)
		s.Equal(models.TenantStatusSuspended, updated.Status)
		s.Equal(int64(2), updated.Version)
	})

	s.Run("leaves tenant untouched when validation fails", func() {
		boom := errors.New("rejected")
		_, err := s.store.Execute(s.ctx, t.ID,
			func(*models.Tenant) error { return boom },
			func(t *models.Tenant) { t.Name = "never" },
		)
		s.ErrorIs(err, boom)

		found, err := s.store.FindByID(s.ctx, t.ID)
		s.Require().NoError(err)
		s.Equal(t.Name, found.Name)
		s.Equal(int64(2), found.Version)
	})

	s.Run("returns ErrNotFound for unknown tenant", func() {
		_, err := s.store.Execute(s.ctx, id.NewTenantID(),
			func(*models.Tenant) error { return nil },
			func(*models.Tenant) {},
		)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}
