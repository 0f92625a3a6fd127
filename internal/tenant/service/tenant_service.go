package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"olympus/internal/tenant/models"
	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
	"olympus/pkg/platform/sentinel"
	"olympus/pkg/requestcontext"
)

// CreateTenantRequest carries the fields accepted when registering a tenant.
type CreateTenantRequest struct {
	Slug     string          `json:"slug"`
	Name     string          `json:"name"`
	Industry models.Industry `json:"industry"`
	Tier     models.Tier     `json:"tier"`
	ParentID *id.TenantID    `json:"parent_id,omitempty"`
}

func (s *Service) CreateTenant(ctx context.Context, req CreateTenantRequest) (*models.Tenant, error) {
	now := requestcontext.Now(ctx)
	t, err := models.NewTenant(id.NewTenantID(), models.NormalizeSlug(req.Slug), req.Name, req.Industry, req.Tier, now)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, dErrors.SafeMessage(err))
		}
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if req.ParentID != nil {
			depth, err := s.depthOf(txCtx, *req.ParentID)
			if err != nil {
				return err
			}
			if depth+1 > models.MaxHierarchyDepth {
				return dErrors.New(dErrors.CodeValidation, "tenant hierarchy is too deep")
			}
			parent := *req.ParentID
			t.ParentID = &parent
		}
		if err := s.tenants.CreateIfSlugAvailable(txCtx, t); err != nil {
			return wrapTenantErr(err)
		}
		return s.events.emit(txCtx, t.ID, models.EventTenantCreated, models.TenantCreated{
			TenantID: t.ID, Slug: t.Slug, ParentID: t.ParentID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.incrementTenantCreated()
	return t, nil
}

// GetTenant returns a tenant that has not been deleted.
func (s *Service) GetTenant(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	if err := requireTenantID(tenantID); err != nil {
		return nil, err
	}
	t, err := s.tenants.FindByID(ctx, tenantID)
	if err != nil {
		return nil, wrapTenantErr(err)
	}
	if t.IsDeleted() {
		return nil, dErrors.New(dErrors.CodeTenantNotFound, "tenant not found")
	}
	return t, nil
}

// ResolveActiveBySlug is the login entry point: the tenant must exist, not be
// deleted, and be active.
func (s *Service) ResolveActiveBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveResolve(start)
		}
	}()

	slug = models.NormalizeSlug(slug)
	if slug == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "tenant slug is required")
	}
	t, err := s.tenants.FindBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.incrementResolveRejected(string(dErrors.CodeTenantNotFound))
		}
		return nil, wrapTenantErr(err)
	}
	if err := checkActive(t); err != nil {
		s.incrementResolveRejected(string(dErrors.CodeOf(err)))
		return nil, err
	}
	return t, nil
}

// EnsureActive fails with TenantNotFound or TenantSuspended unless the tenant
// may currently be used.
func (s *Service) EnsureActive(ctx context.Context, tenantID id.TenantID) error {
	if err := requireTenantID(tenantID); err != nil {
		return err
	}
	t, err := s.tenants.FindByID(ctx, tenantID)
	if err != nil {
		return wrapTenantErr(err)
	}
	return checkActive(t)
}

func checkActive(t *models.Tenant) error {
	if t.IsDeleted() {
		return dErrors.New(dErrors.CodeTenantNotFound, "tenant not found")
	}
	if t.Status == models.TenantStatusSuspended {
		return dErrors.New(dErrors.CodeTenantSuspended, "tenant is suspended")
	}
	return nil
}

func (s *Service) Suspend(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	return s.transition(ctx, tenantID,
		(*models.Tenant).CanSuspend, (*models.Tenant).ApplySuspension,
		models.EventTenantSuspended)
}

func (s *Service) Reactivate(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	return s.transition(ctx, tenantID,
		(*models.Tenant).CanReactivate, (*models.Tenant).ApplyReactivation,
		models.EventTenantReactivated)
}

// SoftDelete marks the tenant deleted. Its slug stays reserved and its users
// can no longer sign in. Children are left in place; they never inherited
// anything from the parent.
func (s *Service) SoftDelete(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	return s.transition(ctx, tenantID,
		(*models.Tenant).CanDelete, (*models.Tenant).ApplyDeletion,
		models.EventTenantDeleted)
}

// transition runs a lifecycle change and records its event in one unit of
// work using the Execute validate-then-mutate pattern.
func (s *Service) transition(
	ctx context.Context,
	tenantID id.TenantID,
	can func(*models.Tenant) error,
	apply func(*models.Tenant, time.Time),
	eventType string,
) (*models.Tenant, error) {
	if err := requireTenantID(tenantID); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var updated *models.Tenant
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		t, err := s.tenants.Execute(txCtx, tenantID,
			func(t *models.Tenant) error { return conflictOnInvariant(can(t)) },
			func(t *models.Tenant) { apply(t, now) },
		)
		if err != nil {
			return wrapTenantErr(err)
		}
		updated = t

		var payload any = models.TenantStatusChanged{TenantID: t.ID, Status: t.Status}
		if eventType == models.EventTenantDeleted {
			payload = models.TenantDeleted{TenantID: t.ID}
		}
		return s.events.emit(txCtx, t.ID, eventType, payload)
	})
	if err != nil {
		return nil, err
	}

	s.incrementStatusChange(eventType)
	return updated, nil
}

// SetParent moves a tenant under parentID, or makes it a root when parentID is
// nil. The move is rejected when the tenant would become its own ancestor or
// when any descendant would end up deeper than MaxHierarchyDepth.
func (s *Service) SetParent(ctx context.Context, tenantID id.TenantID, parentID *id.TenantID) (*models.Tenant, error) {
	if err := requireTenantID(tenantID); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var updated *models.Tenant
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		parentDepth := 0
		if parentID != nil {
			if *parentID == tenantID {
				return dErrors.New(dErrors.CodeValidation, "tenant cannot be its own parent")
			}
			chain, err := s.ancestors(txCtx, *parentID)
			if err != nil {
				return err
			}
			for _, ancestor := range chain {
				if ancestor == tenantID {
					return dErrors.New(dErrors.CodeValidation, "tenant hierarchy cannot contain cycles")
				}
			}
			parentDepth = len(chain)
		}
		height, err := s.subtreeHeight(txCtx, tenantID)
		if err != nil {
			return err
		}
		if parentDepth+height > models.MaxHierarchyDepth {
			return dErrors.New(dErrors.CodeValidation, "tenant hierarchy is too deep")
		}

		t, err := s.tenants.Execute(txCtx, tenantID,
			func(t *models.Tenant) error {
				if t.IsDeleted() {
					return dErrors.New(dErrors.CodeTenantNotFound, "tenant not found")
				}
				return nil
			},
			func(t *models.Tenant) {
				var next *id.TenantID
				if parentID != nil {
					p := *parentID
					next = &p
				}
				t.ApplyParent(next, now)
			},
		)
		if err != nil {
			return wrapTenantErr(err)
		}
		updated = t
		return s.events.emit(txCtx, t.ID, models.EventTenantReparented, models.TenantReparented{
			TenantID: t.ID, ParentID: t.ParentID,
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateSettings merges patch into the tenant's settings. A null feature value
// removes the feature. The merged result must satisfy every feature schema.
func (s *Service) UpdateSettings(ctx context.Context, tenantID id.TenantID, patch models.Settings) (*models.Tenant, error) {
	if err := requireTenantID(tenantID); err != nil {
		return nil, err
	}
	if len(patch) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "settings patch is empty")
	}

	features := make([]string, 0, len(patch))
	for k := range patch {
		features = append(features, k)
	}
	sort.Strings(features)

	now := requestcontext.Now(ctx)
	var updated *models.Tenant
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var merged models.Settings
		t, err := s.tenants.Execute(txCtx, tenantID,
			func(t *models.Tenant) error {
				if t.IsDeleted() {
					return dErrors.New(dErrors.CodeTenantNotFound, "tenant not found")
				}
				merged = t.Settings.Merge(patch)
				if err := merged.Validate(); err != nil {
					if s.metrics != nil {
						s.metrics.IncrementSettingsRejected()
					}
					return err
				}
				return nil
			},
			func(t *models.Tenant) { t.ApplySettings(merged, now) },
		)
		if err != nil {
			return wrapTenantErr(err)
		}
		updated = t
		return s.events.emit(txCtx, t.ID, models.EventSettingsUpdated, models.SettingsUpdated{
			TenantID: t.ID, Features: features,
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ancestors returns tenantID followed by its ancestors up to the root.
func (s *Service) ancestors(ctx context.Context, tenantID id.TenantID) ([]id.TenantID, error) {
	var chain []id.TenantID
	current := tenantID
	for {
		t, err := s.tenants.FindByID(ctx, current)
		if err != nil {
			return nil, wrapTenantErr(err)
		}
		if len(chain) == 0 && t.IsDeleted() {
			return nil, dErrors.New(dErrors.CodeTenantNotFound, "parent tenant not found")
		}
		chain = append(chain, t.ID)
		if t.ParentID == nil {
			return chain, nil
		}
		if len(chain) > models.MaxHierarchyDepth {
			return nil, dErrors.New(dErrors.CodeInternal, "stored tenant hierarchy exceeds maximum depth")
		}
		current = *t.ParentID
	}
}

func (s *Service) depthOf(ctx context.Context, tenantID id.TenantID) (int, error) {
	chain, err := s.ancestors(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return len(chain), nil
}

// subtreeHeight counts the levels from tenantID down to its deepest
// descendant, the tenant itself included.
func (s *Service) subtreeHeight(ctx context.Context, tenantID id.TenantID) (int, error) {
	height := 0
	level := []id.TenantID{tenantID}
	for len(level) > 0 {
		height++
		if height > models.MaxHierarchyDepth {
			return height, nil
		}
		var next []id.TenantID
		for _, t := range level {
			children, err := s.tenants.ChildIDs(ctx, t)
			if err != nil {
				return 0, wrapTenantErr(err)
			}
			next = append(next, children...)
		}
		level = next
	}
	return height, nil
}

func (s *Service) incrementResolveRejected(reason string) {
	if s.metrics != nil {
		s.metrics.IncrementResolveRejected(reason)
	}
}
