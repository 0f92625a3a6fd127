package models

import (
	"regexp"
	"strings"
	"time"

	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
)

// MaxHierarchyDepth bounds parent chains, counting the root as depth 1.
const MaxHierarchyDepth = 8

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
)

func (s TenantStatus) IsValid() bool {
	return s == TenantStatusActive || s == TenantStatusSuspended
}

type Industry string

const (
	IndustryRestaurant  Industry = "restaurant"
	IndustryRetail      Industry = "retail"
	IndustryHospitality Industry = "hospitality"
	IndustryEvents      Industry = "events"
	IndustryOther       Industry = "other"
)

func (i Industry) IsValid() bool {
	switch i {
	case IndustryRestaurant, IndustryRetail, IndustryHospitality, IndustryEvents, IndustryOther:
		return true
	}
	return false
}

type Tier string

const (
	TierFree         Tier = "free"
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

func (t Tier) IsValid() bool {
	switch t {
	case TierFree, TierStarter, TierProfessional, TierEnterprise:
		return true
	}
	return false
}

// Tenant is the aggregate root for an organization.
//
// Invariants:
//   - Slug is unique, 3..63 characters of lower-case alphanumerics and
//     single hyphens, and never changes
//   - A tenant is never its own ancestor; chains are at most MaxHierarchyDepth
//   - A child tenant gets no authority over its parent or siblings
//   - Soft-deleted tenants (DeletedAt set) resolve as not found
type Tenant struct {
	ID        id.TenantID  `json:"id"`
	Slug      string       `json:"slug"`
	Name      string       `json:"name"`
	Industry  Industry     `json:"industry"`
	Tier      Tier         `json:"tier"`
	ParentID  *id.TenantID `json:"parent_id,omitempty"`
	Settings  Settings     `json:"settings"`
	Status    TenantStatus `json:"status"`
	Version   int64        `json:"version"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	DeletedAt *time.Time   `json:"deleted_at,omitempty"`
}

func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive && !t.IsDeleted()
}

func (t *Tenant) IsDeleted() bool {
	return t.DeletedAt != nil
}

func (t *Tenant) CanSuspend() error {
	if t.IsDeleted() {
		return dErrors.New(dErrors.CodeInvariantViolation, "tenant is deleted")
	}
	if t.Status == TenantStatusSuspended {
		return dErrors.New(dErrors.CodeInvariantViolation, "tenant is already suspended")
	}
	return nil
}

func (t *Tenant) ApplySuspension(now time.Time) {
	t.Status = TenantStatusSuspended
	t.touch(now)
}

func (t *Tenant) CanReactivate() error {
	if t.IsDeleted() {
		return dErrors.New(dErrors.CodeInvariantViolation, "tenant is deleted")
	}
	if t.Status == TenantStatusActive {
		return dErrors.New(dErrors.CodeInvariantViolation, "tenant is already active")
	}
	return nil
}

func (t *Tenant) ApplyReactivation(now time.Time) {
	t.Status = TenantStatusActive
	t.touch(now)
}

func (t *Tenant) CanDelete() error {
	if t.IsDeleted() {
		return dErrors.New(dErrors.CodeInvariantViolation, "tenant is already deleted")
	}
	return nil
}

func (t *Tenant) ApplyDeletion(now time.Time) {
	t.DeletedAt = &now
	t.touch(now)
}

// ApplyParent sets or clears the parent. Cycle and depth checks need the
// ancestor chain and happen in the service under the store lock.
func (t *Tenant) ApplyParent(parent *id.TenantID, now time.Time) {
	t.ParentID = parent
	t.touch(now)
}

func (t *Tenant) ApplySettings(settings Settings, now time.Time) {
	t.Settings = settings
	t.touch(now)
}

func (t *Tenant) touch(now time.Time) {
	t.UpdatedAt = now
	t.Version++
}

// NormalizeSlug lower-cases and trims a slug from user input.
func NormalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}

func ValidateSlug(slug string) error {
	if len(slug) < 3 || len(slug) > 63 {
		return dErrors.New(dErrors.CodeInvariantViolation, "tenant slug must be 3 to 63 characters")
	}
	if !slugPattern.MatchString(slug) {
		return dErrors.New(dErrors.CodeInvariantViolation, "tenant slug may contain lower-case letters, digits and single hyphens")
	}
	return nil
}

func NewTenant(tenantID id.TenantID, slug, name string, industry Industry, tier Tier, now time.Time) (*Tenant, error) {
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant name cannot be empty")
	}
	if len(name) > 128 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant name must be 128 characters or less")
	}
	if industry == "" {
		industry = IndustryOther
	}
	if !industry.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown industry category")
	}
	if tier == "" {
		tier = TierFree
	}
	if !tier.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown subscription tier")
	}
	return &Tenant{
		ID:        tenantID,
		Slug:      slug,
		Name:      name,
		Industry:  industry,
		Tier:      tier,
		Settings:  Settings{},
		Status:    TenantStatusActive,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
