package tenant

import (
	"context"
	"encoding/json"
	"sync"

	"olympus/internal/tenant/models"
	id "olympus/pkg/domain"
	"olympus/pkg/platform/sentinel"
)

// InMemory is a tenant store for tests and memory mode.
type InMemory struct {
	mu      sync.RWMutex
	tenants map[id.TenantID]*models.Tenant
	slugs   map[string]id.TenantID
}

func NewInMemory() *InMemory {
	return &InMemory{
		tenants: make(map[id.TenantID]*models.Tenant),
		slugs:   make(map[string]id.TenantID),
	}
}

// CreateIfSlugAvailable stores t unless its slug is taken, including by a
// soft-deleted tenant.
func (s *InMemory) CreateIfSlugAvailable(_ context.Context, t *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.slugs[t.Slug]; taken {
		return sentinel.ErrAlreadyUsed
	}
	if _, exists := s.tenants[t.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	s.tenants[t.ID] = clone(t)
	s.slugs[t.Slug] = t.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(t), nil
}

func (s *InMemory) FindBySlug(_ context.Context, slug string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tenantID, ok := s.slugs[slug]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(s.tenants[tenantID]), nil
}

// ChildIDs lists the direct children of parentID, deleted ones included.
func (s *InMemory) ChildIDs(_ context.Context, parentID id.TenantID) ([]id.TenantID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []id.TenantID
	for _, t := range s.tenants {
		if t.ParentID != nil && *t.ParentID == parentID {
			out = append(out, t.ID)
		}
	}
	return out, nil
}

// Execute runs validate then mutate on the stored tenant under the write lock.
// The mutated tenant is stored and returned only when validate succeeds.
func (s *InMemory) Execute(_ context.Context, tenantID id.TenantID, validate func(*models.Tenant) error, mutate func(*models.Tenant)) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tenants[tenantID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := clone(current)
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	s.tenants[tenantID] = working
	return clone(working), nil
}

func clone(t *models.Tenant) *models.Tenant {
	c := *t
	if t.ParentID != nil {
		p := *t.ParentID
		c.ParentID = &p
	}
	if t.DeletedAt != nil {
		d := *t.DeletedAt
		c.DeletedAt = &d
	}
	if t.Settings != nil {
		c.Settings = make(models.Settings, len(t.Settings))
		for k, v := range t.Settings {
			c.Settings[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &c
}
