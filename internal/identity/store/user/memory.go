package user

import (
	"context"
	"sync"
	"time"

	"olympus/internal/identity/models"
	id "olympus/pkg/domain"
	"olympus/pkg/platform/sentinel"
)

type emailKey struct {
	tenantID id.TenantID
	email    string
}

// InMemory keeps users for tests and memory mode. Every lookup checks the
// row's tenant against the supplied one.
type InMemory struct {
	mu      sync.RWMutex
	users   map[id.UserID]*models.User
	byEmail map[emailKey]id.UserID
}

func NewInMemory() *InMemory {
	return &InMemory{
		users:   make(map[id.UserID]*models.User),
		byEmail: make(map[emailKey]id.UserID),
	}
}

func (s *InMemory) Create(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := emailKey{u.TenantID, models.NormalizeEmail(u.Email)}
	if _, taken := s.byEmail[key]; taken {
		return sentinel.ErrAlreadyUsed
	}
	if _, exists := s.users[u.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	s.users[u.ID] = clone(u)
	s.byEmail[key] = u.ID
	return nil
}

func (s *InMemory) FindByEmail(_ context.Context, tenantID id.TenantID, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.byEmail[emailKey{tenantID, models.NormalizeEmail(email)}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(s.users[userID]), nil
}

func (s *InMemory) FindByID(_ context.Context, tenantID id.TenantID, userID id.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, err := s.lookup(tenantID, userID)
	if err != nil {
		return nil, err
	}
	return clone(u), nil
}

// Update replaces the stored user when u.Version matches the stored
// version, then bumps the version.
func (s *InMemory) Update(_ context.Context, tenantID id.TenantID, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.lookup(tenantID, u.ID)
	if err != nil {
		return err
	}
	if current.Version != u.Version {
		return sentinel.ErrConflict
	}
	oldKey := emailKey{tenantID, current.Email}
	newKey := emailKey{tenantID, models.NormalizeEmail(u.Email)}
	if newKey != oldKey {
		if _, taken := s.byEmail[newKey]; taken {
			return sentinel.ErrAlreadyUsed
		}
	}

	next := clone(u)
	next.TenantID = tenantID
	next.Email = newKey.email
	next.Version++
	s.store(oldKey, next)
	u.Version = next.Version
	return nil
}

// Execute runs validate then mutate on a copy of the stored user under the
// write lock and stores the copy only when validate succeeds.
func (s *InMemory) Execute(_ context.Context, tenantID id.TenantID, userID id.UserID, validate func(*models.User) error, mutate func(*models.User)) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.lookup(tenantID, userID)
	if err != nil {
		return nil, err
	}
	u := clone(current)
	if err := validate(u); err != nil {
		return nil, err
	}
	mutate(u)
	s.store(emailKey{tenantID, current.Email}, u)
	return clone(u), nil
}

// RecordFailure counts a failed login atomically and returns the new state.
func (s *InMemory) RecordFailure(ctx context.Context, tenantID id.TenantID, userID id.UserID, now time.Time) (*models.User, error) {
	return s.Execute(ctx, tenantID, userID,
		func(*models.User) error { return nil },
		func(u *models.User) { u.ApplyFailure(now) },
	)
}

// lookup hides soft-deleted users and reports rows of other tenants as a
// mismatch. Callers hold the lock.
func (s *InMemory) lookup(tenantID id.TenantID, userID id.UserID) (*models.User, error) {
	u, ok := s.users[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if u.TenantID != tenantID {
		return nil, sentinel.ErrTenantMismatch
	}
	if u.IsDeleted() {
		return nil, sentinel.ErrNotFound
	}
	return u, nil
}

func (s *InMemory) store(oldKey emailKey, u *models.User) {
	delete(s.byEmail, oldKey)
	s.users[u.ID] = u
	if !u.IsDeleted() {
		s.byEmail[emailKey{u.TenantID, u.Email}] = u.ID
	}
}

func clone(u *models.User) *models.User {
	c := *u
	c.Roles = append(c.Roles[:0:0], u.Roles...)
	c.Permissions = append(c.Permissions[:0:0], u.Permissions...)
	if u.LastFailedAt != nil {
		t := *u.LastFailedAt
		c.LastFailedAt = &t
	}
	if u.LockedUntil != nil {
		t := *u.LockedUntil
		c.LockedUntil = &t
	}
	if u.DeletedAt != nil {
		t := *u.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}
