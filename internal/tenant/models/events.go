package models

import id "olympus/pkg/domain"

// Event types published for tenant lifecycle changes.
const (
	EventTenantCreated     = "platform.tenant.created"
	EventTenantSuspended   = "platform.tenant.suspended"
	EventTenantReactivated = "platform.tenant.reactivated"
	EventTenantDeleted     = "platform.tenant.deleted"
	EventTenantReparented  = "platform.tenant.reparented"
	EventSettingsUpdated   = "platform.tenant.settings_updated"
)

type TenantCreated struct {
	TenantID id.TenantID  `json:"tenant_id"`
	Slug     string       `json:"slug"`
	ParentID *id.TenantID `json:"parent_id,omitempty"`
}

type TenantStatusChanged struct {
	TenantID id.TenantID  `json:"tenant_id"`
	Status   TenantStatus `json:"status"`
}

type TenantDeleted struct {
	TenantID id.TenantID `json:"tenant_id"`
}

type TenantReparented struct {
	TenantID id.TenantID  `json:"tenant_id"`
	ParentID *id.TenantID `json:"parent_id,omitempty"`
}

type SettingsUpdated struct {
	TenantID id.TenantID `json:"tenant_id"`
	Features []string    `json:"features"`
}
