package order

import (
	"context"
	"sort"
	"sync"

	"olympus/internal/commerce/models"
	id "olympus/pkg/domain"
	"olympus/pkg/platform/sentinel"
)

const defaultListLimit = 50

// ListFilter narrows List. A zero filter returns the newest orders of the
// tenant.
type ListFilter struct {
	CustomerID *id.UserID
	Status     models.Status
	Limit      int
}

func (f ListFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 500 {
		return defaultListLimit
	}
	return f.Limit
}

func (f ListFilter) matches(o *models.Order) bool {
	if f.CustomerID != nil && o.CustomerID != *f.CustomerID {
		return false
	}
	return f.Status == "" || o.Status == f.Status
}

// InMemory keeps orders for tests and memory mode.
type InMemory struct {
	mu     sync.RWMutex
	orders map[id.OrderID]*models.Order
}

func NewInMemory() *InMemory {
	return &InMemory{orders: make(map[id.OrderID]*models.Order)}
}

func (s *InMemory) Create(_ context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[o.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	s.orders[o.ID] = o.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, tenantID id.TenantID, orderID id.OrderID) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, err := s.lookup(tenantID, orderID)
	if err != nil {
		return nil, err
	}
	return o.Clone(), nil
}

// List returns matching orders of the tenant, newest first.
func (s *InMemory) List(_ context.Context, tenantID id.TenantID, filter ListFilter) ([]*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Order
	for _, o := range s.orders {
		if o.TenantID == tenantID && filter.matches(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > filter.limit() {
		out = out[:filter.limit()]
	}
	return out, nil
}

// Execute runs validate and mutate against a copy under the store lock and
// saves the copy only when validate passes.
func (s *InMemory) Execute(_ context.Context, tenantID id.TenantID, orderID id.OrderID, validate func(*models.Order) error, mutate func(*models.Order)) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.lookup(tenantID, orderID)
	if err != nil {
		return nil, err
	}
	o := current.Clone()
	if err := validate(o); err != nil {
		return nil, err
	}
	mutate(o)
	if o.Version != current.Version+1 {
		return nil, sentinel.ErrConflict
	}
	s.orders[o.ID] = o
	return o.Clone(), nil
}

func (s *InMemory) lookup(tenantID id.TenantID, orderID id.OrderID) (*models.Order, error) {
	o, ok := s.orders[orderID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if o.TenantID != tenantID {
		return nil, sentinel.ErrTenantMismatch
	}
	return o, nil
}
