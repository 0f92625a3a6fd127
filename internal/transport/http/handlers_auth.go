package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	identitymodels "olympus/internal/identity/models"
	identityservice "olympus/internal/identity/service"
	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
	"olympus/pkg/platform/httputil"
	"olympus/pkg/requestcontext"
)

// IdentityService is what the auth routes need from the identity module.
type IdentityService interface {
	Register(ctx context.Context, req identityservice.RegisterRequest) (*identitymodels.User, error)
	Login(ctx context.Context, req identityservice.LoginRequest) (*identityservice.LoginResult, error)
	Refresh(ctx context.Context, raw string) (*identityservice.RefreshResult, error)
	Logout(ctx context.Context, sessionID id.SessionID) error
}

type registerRequest struct {
	Tenant   string   `json:"tenant_slug"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Roles    []string `json:"roles,omitempty"`
}

type userResponse struct {
	ID        id.UserID   `json:"id"`
	TenantID  id.TenantID `json:"tenant_id"`
	Email     string      `json:"email"`
	Roles     []string    `json:"roles"`
	CreatedAt time.Time   `json:"created_at"`
}

type loginRequest struct {
	Tenant   string `json:"tenant_slug"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token,omitempty"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	SessionID    id.SessionID `json:"session_id"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	SessionID *id.SessionID `json:"session_id,omitempty"`
}

// AuthHandler serves credential issuance and revocation.
type AuthHandler struct {
	identity IdentityService
	logger   *slog.Logger
}

func NewAuthHandler(identity IdentityService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{identity: identity, logger: logger}
}

// Register mounts the public auth routes. requireAuth guards logout,
// optionalAuth lets an authenticated admin assign roles at registration and
// throttle limits the credential endpoints per client.
func (h *AuthHandler) Register(r chi.Router, requireAuth, optionalAuth, throttle func(http.Handler) http.Handler) {
	r.With(throttle, optionalAuth).Post("/auth/register", h.handleRegister)
	r.With(throttle).Post("/auth/login", h.handleLogin)
	r.With(throttle).Post("/auth/refresh", h.handleRefresh)
	r.With(requireAuth).Post("/auth/logout", h.handleLogout)
}

func (h *AuthHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req registerRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	u, err := h.identity.Register(ctx, identityservice.RegisterRequest{
		TenantSlug: req.Tenant,
		Email:      req.Email,
		Password:   req.Password,
		Roles:      req.Roles,
	})
	if err != nil {
		logRejected(ctx, h.logger, "registration", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, userResponse{
		ID:        u.ID,
		TenantID:  u.TenantID,
		Email:     u.Email,
		Roles:     u.RoleNames(),
		CreatedAt: u.CreatedAt,
	})
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req loginRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.identity.Login(ctx, identityservice.LoginRequest{
		TenantSlug: req.Tenant,
		Email:      req.Email,
		Password:   req.Password,
	})
	if err != nil {
		logRejected(ctx, h.logger, "login", err)
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(res.ExpiresIn / time.Second),
		SessionID:    res.SessionID,
	})
}

func (h *AuthHandler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req refreshRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.RefreshToken == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "refresh_token is required"))
		return
	}
	res, err := h.identity.Refresh(ctx, req.RefreshToken)
	if err != nil {
		logRejected(ctx, h.logger, "refresh", err)
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken: res.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(res.ExpiresIn / time.Second),
		SessionID:   res.SessionID,
	})
}

// handleLogout revokes the caller's own session unless the body names
// another one.
func (h *AuthHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req logoutRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	sessionID := requestcontext.SessionID(ctx)
	if req.SessionID != nil {
		sessionID = *req.SessionID
	}
	if err := h.identity.Logout(ctx, sessionID); err != nil {
		logRejected(ctx, h.logger, "logout", err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// logRejected logs a refused request. Internal failures are errors, the rest
// are expected client mistakes.
func logRejected(ctx context.Context, logger *slog.Logger, op string, err error) {
	code := dErrors.CodeOf(err)
	if code == dErrors.CodeInternal {
		logger.ErrorContext(ctx, op+" failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return
	}
	logger.WarnContext(ctx, op+" rejected",
		"error_code", string(code),
		"request_id", requestcontext.RequestID(ctx),
	)
}
