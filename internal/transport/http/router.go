// Package httptransport is the gateway adapter: it translates HTTP requests
// into identity, commerce and tenant service calls and domain errors back into
// status codes. It holds no business rules.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	platformmetrics "olympus/internal/platform/metrics"
	tenanthandler "olympus/internal/tenant/handler"
	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
	"olympus/pkg/platform/httputil"
	"olympus/pkg/platform/middleware/admin"
	"olympus/pkg/platform/middleware/auth"
	"olympus/pkg/platform/middleware/metadata"
	"olympus/pkg/platform/middleware/ratelimit"
	"olympus/pkg/platform/middleware/requesttime"
)

// Config carries everything the router mounts. DeadLetters, Audit,
// Revocations, AuthLimiter, Metrics, Gatherer and Health are optional.
type Config struct {
	Logger      *slog.Logger
	Identity    IdentityService
	Orders      OrderService
	Tenants     tenanthandler.Service
	DeadLetters DeadLetterLister
	Audit       AuditLister
	Validator   auth.TokenValidator
	Revocations auth.RevocationChecker
	AdminToken  string
	AuthLimiter ratelimit.Limiter
	Metrics     *platformmetrics.Metrics
	Gatherer    prometheus.Gatherer
	Health      func(ctx context.Context) error
	Timeout     time.Duration
}

// ValidatorFunc adapts a plain function, such as the identity service's
// Validate, to auth.TokenValidator.
type ValidatorFunc func(ctx context.Context, raw string) (*id.Claims, error)

func (f ValidatorFunc) ValidateAccess(ctx context.Context, raw string) (*id.Claims, error) {
	return f(ctx, raw)
}

// NewRouter wires every public and operator route.
func NewRouter(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(metadata.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	if cfg.Timeout > 0 {
		r.Use(chimiddleware.Timeout(cfg.Timeout))
	}

	r.Get("/healthz", healthz(cfg.Health))
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	requireAuth := auth.RequireAuth(cfg.Validator, cfg.Revocations, logger)
	optionalAuth := auth.OptionalAuth(cfg.Validator, logger)

	throttle := func(next http.Handler) http.Handler { return next }
	if cfg.AuthLimiter != nil {
		throttle = ratelimit.PerClientIP(cfg.AuthLimiter, "auth", logger)
	}

	NewAuthHandler(cfg.Identity, logger).Register(r, requireAuth, optionalAuth, throttle)
	NewOrderHandler(cfg.Orders, logger).Register(r, requireAuth)

	r.Group(func(r chi.Router) {
		r.Use(optionalAuth)
		r.Use(admin.RequireOperator(cfg.AdminToken, logger))
		tenanthandler.New(cfg.Tenants, logger).Register(r)
		NewEventsHandler(cfg.DeadLetters, cfg.Audit).Register(r)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "route not found"))
	})
	return r
}

func healthz(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "dependency unavailable"))
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
