// Package handler exposes tenant lifecycle operations to platform operators.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"olympus/internal/tenant/models"
	"olympus/internal/tenant/service"
	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
	"olympus/pkg/platform/httputil"
	"olympus/pkg/requestcontext"
)

// Service is the slice of the tenant service the admin routes drive.
type Service interface {
	CreateTenant(ctx context.Context, req service.CreateTenantRequest) (*models.Tenant, error)
	GetTenant(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error)
	Suspend(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error)
	Reactivate(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error)
	SoftDelete(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error)
	SetParent(ctx context.Context, tenantID id.TenantID, parentID *id.TenantID) (*models.Tenant, error)
	UpdateSettings(ctx context.Context, tenantID id.TenantID, patch models.Settings) (*models.Tenant, error)
}

type setParentRequest struct {
	// ParentID null detaches the tenant from its parent.
	ParentID *id.TenantID `json:"parent_id"`
}

type Handler struct {
	tenants Service
	logger  *slog.Logger
}

func New(tenants Service, logger *slog.Logger) *Handler {
	return &Handler{tenants: tenants, logger: logger}
}

// Register mounts the tenant routes on r. Callers guard r with the operator
// middleware.
func (h *Handler) Register(r chi.Router) {
	r.Post("/admin/tenants", h.handleCreate)
	r.Get("/admin/tenants/{id}", h.handleGet)
	r.Post("/admin/tenants/{id}/suspend", h.lifecycle("suspend", h.tenants.Suspend))
	r.Post("/admin/tenants/{id}/reactivate", h.lifecycle("reactivate", h.tenants.Reactivate))
	r.Delete("/admin/tenants/{id}", h.lifecycle("delete", h.tenants.SoftDelete))
	r.Put("/admin/tenants/{id}/parent", h.handleSetParent)
	r.Patch("/admin/tenants/{id}/settings", h.handleUpdateSettings)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req service.CreateTenantRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	t, err := h.tenants.CreateTenant(ctx, req)
	if err != nil {
		h.logFailure(ctx, "create tenant", err)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "tenant created",
		"tenant_id", t.ID,
		"slug", t.Slug,
		"request_id", requestcontext.RequestID(ctx),
	)
	httputil.WriteJSON(w, http.StatusCreated, t)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	t, err := h.tenants.GetTenant(r.Context(), tenantID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) lifecycle(action string, op func(context.Context, id.TenantID) (*models.Tenant, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID, err := tenantIDParam(r)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		t, err := op(ctx, tenantID)
		if err != nil {
			h.logFailure(ctx, action+" tenant", err)
			httputil.WriteError(w, err)
			return
		}
		h.logger.InfoContext(ctx, "tenant "+action,
			"tenant_id", t.ID,
			"status", t.Status,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteJSON(w, http.StatusOK, t)
	}
}

func (h *Handler) handleSetParent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := tenantIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var req setParentRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	t, err := h.tenants.SetParent(ctx, tenantID, req.ParentID)
	if err != nil {
		h.logFailure(ctx, "reparent tenant", err)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "tenant reparented",
		"tenant_id", t.ID,
		"request_id", requestcontext.RequestID(ctx),
	)
	httputil.WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := tenantIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var patch models.Settings
	if err := httputil.DecodeJSON(w, r, &patch); err != nil {
		httputil.WriteError(w, err)
		return
	}
	t, err := h.tenants.UpdateSettings(ctx, tenantID, patch)
	if err != nil {
		h.logFailure(ctx, "update tenant settings", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) logFailure(ctx context.Context, op string, err error) {
	if dErrors.HasCode(err, dErrors.CodeInternal) {
		h.logger.ErrorContext(ctx, op+" failed", "error", err, "request_id", requestcontext.RequestID(ctx))
		return
	}
	h.logger.WarnContext(ctx, op+" rejected",
		"error_code", string(dErrors.CodeOf(err)),
		"request_id", requestcontext.RequestID(ctx),
	)
}

func tenantIDParam(r *http.Request) (id.TenantID, error) {
	tenantID, err := id.ParseTenantID(chi.URLParam(r, "id"))
	if err != nil {
		return id.TenantID{}, dErrors.New(dErrors.CodeBadRequest, "invalid tenant ID")
	}
	return tenantID, nil
}
