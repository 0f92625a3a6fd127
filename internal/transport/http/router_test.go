package httptransport_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"olympus/internal/audit"
	"olympus/internal/commerce"
	commercemodels "olympus/internal/commerce/models"
	commerceservice "olympus/internal/commerce/service"
	orderstore "olympus/internal/commerce/store/order"
	"olympus/internal/eventbus"
	"olympus/internal/eventbus/outbox"
	"olympus/internal/eventbus/transport/memory"
	"olympus/internal/identity"
	"olympus/internal/identity/password"
	identityservice "olympus/internal/identity/service"
	"olympus/internal/identity/store/revocation"
	sessionstore "olympus/internal/identity/store/session"
	"olympus/internal/identity/store/tenantguard"
	userstore "olympus/internal/identity/store/user"
	"olympus/internal/identity/token"
	platformmetrics "olympus/internal/platform/metrics"
	"olympus/internal/policy"
	"olympus/internal/tenant"
	tenantmodels "olympus/internal/tenant/models"
	tenantservice "olympus/internal/tenant/service"
	tenantstore "olympus/internal/tenant/store/tenant"
	httptransport "olympus/internal/transport/http"
	id "olympus/pkg/domain"
	"olympus/pkg/platform/middleware/ratelimit"
	"olympus/pkg/testutil"
)

const (
	adminToken     = "operator-secret"
	strongPassword = "Violet-Lantern-42"
)

type tokenBody struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	SessionID    string `json:"session_id"`
}

type GatewaySuite struct {
	suite.Suite
	tenants     *tenant.Service
	tokens      *token.Service
	deadLetters *eventbus.MemoryDeadLetters
	trail       *audit.Recorder
	healthErr   error
	cfg         httptransport.Config
	router      http.Handler
	acme        *tenantmodels.Tenant
	location    id.LocationID
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(GatewaySuite))
}

func (s *GatewaySuite) SetupTest() {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()

	s.tenants = tenant.NewService(tenantstore.NewInMemory())
	checker := tenant.NewActiveChecker(s.tenants)
	engine := policy.NewEngine(checker)
	events := outbox.NewMemory()
	revoked := revocation.NewInMemory(time.Now)

	tokens, err := token.New(token.Config{
		SigningKey: "0123456789abcdef0123456789abcdef",
		Issuer:     "olympus-test",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	})
	s.Require().NoError(err)
	s.tokens = tokens
	hasher, err := password.NewHasher(password.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	s.Require().NoError(err)

	identitySvc, err := identity.NewService(
		tenantguard.NewUsers(userstore.NewInMemory(), checker),
		tenantguard.NewSessions(sessionstore.NewInMemory(), checker),
		s.tenants, tokens, hasher,
		identityservice.Config{LockoutThreshold: 5, LockDuration: 30 * time.Minute},
		identityservice.WithLogger(logger),
		identityservice.WithOutbox(events),
		identityservice.WithRevocationList(revoked),
		identityservice.WithAuthorizer(engine),
	)
	s.Require().NoError(err)

	orders, err := commerce.NewService(orderstore.NewInMemory(), s.tenants, engine,
		commerceservice.WithLogger(logger),
		commerceservice.WithOutbox(events),
	)
	s.Require().NoError(err)

	s.deadLetters = eventbus.NewMemoryDeadLetters()
	bus := eventbus.New(memory.NewTransport(memory.NewLog(), "gateway-test"), eventbus.WithDeadLetterStore(s.deadLetters))

	s.trail = audit.NewRecorder(audit.NewMemoryStore(100), logger)

	s.healthErr = nil
	s.cfg = httptransport.Config{
		Logger:      logger,
		Identity:    identitySvc,
		Orders:      orders,
		Tenants:     s.tenants,
		DeadLetters: bus,
		Audit:       s.trail,
		Validator:   httptransport.ValidatorFunc(identitySvc.Validate),
		Revocations: revoked,
		AdminToken:  adminToken,
		Metrics:     platformmetrics.New(reg),
		Gatherer:    reg,
		Health:      func(context.Context) error { return s.healthErr },
	}
	s.router = httptransport.NewRouter(s.cfg)

	s.acme, err = s.tenants.CreateTenant(ctx, tenantservice.CreateTenantRequest{
		Slug: "acme-pizza", Name: "Acme Pizza", Industry: tenantmodels.IndustryRestaurant,
	})
	s.Require().NoError(err)
	s.location = id.NewLocationID()
	locations, err := json.Marshal(tenantmodels.LocationsSettings{Locations: []id.LocationID{s.location}})
	s.Require().NoError(err)
	_, err = s.tenants.UpdateSettings(ctx, s.acme.ID, tenantmodels.Settings{tenantmodels.FeatureLocations: locations})
	s.Require().NoError(err)
}

func (s *GatewaySuite) do(req *http.Request, bearer string) *httptest.ResponseRecorder {
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return testutil.DoRequest(s.router, req)
}

// tenantAdmin mints an access token directly; validation is stateless.
func (s *GatewaySuite) tenantAdmin() string {
	issued, err := s.tokens.IssueAccess(id.NewUserID(), s.acme.ID, []string{policy.RoleTenantAdmin.String()}, id.NewSessionID(), time.Now())
	s.Require().NoError(err)
	return issued.Raw
}

func (s *GatewaySuite) signUp(email string, bearer string, roles ...string) tokenBody {
	t := s.T()
	rr := s.do(testutil.NewJSONRequest(t, http.MethodPost, "/auth/register", map[string]any{
		"tenant_slug": "acme-pizza", "email": email, "password": strongPassword, "roles": roles,
	}), bearer)
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())

	rr = s.do(testutil.NewJSONRequest(t, http.MethodPost, "/auth/login", map[string]any{
		"tenant_slug": "acme-pizza", "email": email, "password": strongPassword,
	}), "")
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	return *testutil.UnmarshalResponse[tokenBody](t, rr)
}

func (s *GatewaySuite) act(orderID id.OrderID, action string, version int64, bearer string, body any) *httptest.ResponseRecorder {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/orders/"+orderID.String()+"/"+action, body)
	req.Header.Set("If-Match", strconv.Quote(strconv.FormatInt(version, 10)))
	return s.do(req, bearer)
}

func (s *GatewaySuite) order(rr *httptest.ResponseRecorder) *commercemodels.Order {
	s.Require().Equal(http.StatusOK/100, rr.Code/100, rr.Body.String())
	o := testutil.UnmarshalResponse[commercemodels.Order](s.T(), rr)
	s.Equal(strconv.Quote(strconv.FormatInt(o.Version, 10)), rr.Header().Get("ETag"))
	return o
}

func (s *GatewaySuite) TestHealthAndMetrics() {
	t := s.T()
	rr := s.do(testutil.NewRequest(t, http.MethodGet, "/healthz"), "")
	testutil.AssertStatusOK(t, rr)
	s.NotEmpty(rr.Header().Get("X-Request-ID"))

	s.healthErr = errors.New("postgres down")
	rr = s.do(testutil.NewRequest(t, http.MethodGet, "/healthz"), "")
	testutil.AssertStatusAndError(t, rr, http.StatusServiceUnavailable, "unavailable")

	rr = s.do(testutil.NewRequest(t, http.MethodGet, "/metrics"), "")
	testutil.AssertStatusOK(t, rr)
	s.Contains(rr.Body.String(), `olympus_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

func (s *GatewaySuite) TestAuthFlow() {
	t := s.T()
	testutil.Given(t, "a registered customer", func(t *testing.T) {
		tokens := s.signUp("ada@example.com", "")

		testutil.When(t, "the password is wrong", func(t *testing.T) {
			rr := s.do(testutil.NewJSONRequest(t, http.MethodPost, "/auth/login", map[string]any{
				"tenant_slug": "acme-pizza", "email": "ada@example.com", "password": "nope-nope-nope",
			}), "")
			testutil.Then(t, "credentials are rejected without detail", func(t *testing.T) {
				testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "invalid_credentials")
			})
		})

		testutil.When(t, "the refresh token is exchanged", func(t *testing.T) {
			rr := s.do(testutil.NewJSONRequest(t, http.MethodPost, "/auth/refresh", map[string]any{
				"refresh_token": tokens.RefreshToken,
			}), "")
			testutil.Then(t, "a new access token for the same session is issued", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				got := testutil.UnmarshalResponse[tokenBody](t, rr)
				s.NotEmpty(got.AccessToken)
				s.Equal(tokens.SessionID, got.SessionID)
				s.Empty(got.RefreshToken)
			})
		})

		testutil.When(t, "the customer logs out", func(t *testing.T) {
			rr := s.do(testutil.NewRequest(t, http.MethodPost, "/auth/logout"), tokens.AccessToken)
			testutil.AssertStatus(t, rr, http.StatusNoContent)

			testutil.Then(t, "the access token stops working", func(t *testing.T) {
				rr := s.do(testutil.NewRequest(t, http.MethodGet, "/orders"), tokens.AccessToken)
				testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "session_revoked")
			})
		})
	})

	s.Run("anonymous callers cannot self-assign staff roles", func() {
		rr := s.do(testutil.NewJSONRequest(t, http.MethodPost, "/auth/register", map[string]any{
			"tenant_slug": "acme-pizza", "email": "mallory@example.com", "password": strongPassword, "roles": []string{"manager"},
		}), "")
		s.Equal(http.StatusForbidden, rr.Code, rr.Body.String())
	})

	s.Run("logout requires a bearer token", func() {
		rr := s.do(testutil.NewRequest(t, http.MethodPost, "/auth/logout"), "")
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	})
}

func (s *GatewaySuite) TestOrderLifecycle() {
	t := s.T()
	customer := s.signUp("ada@example.com", "")
	employee := s.signUp("bob@example.com", s.tenantAdmin(), "employee")

	rr := s.do(testutil.NewJSONRequest(t, http.MethodPost, "/orders", map[string]any{
		"location_id": s.location,
		"items":       []map[string]any{{"sku": "margherita", "name": "Margherita", "quantity": 2, "unit_price": 1050}},
	}), customer.AccessToken)
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	o := s.order(rr)
	s.Equal(commercemodels.StatusDraft, o.Status)
	s.Equal(commercemodels.Money(2100), o.Total)

	o = s.order(s.act(o.ID, "submit", o.Version, customer.AccessToken, nil))
	o = s.order(s.act(o.ID, "authorize-payment", o.Version, customer.AccessToken, map[string]any{"amount": o.Total}))

	s.Run("customers cannot confirm", func() {
		rr := s.act(o.ID, "confirm", o.Version, customer.AccessToken, nil)
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "insufficient_role")
	})

	s.Run("stale version is a failed precondition", func() {
		rr := s.act(o.ID, "confirm", o.Version-1, employee.AccessToken, nil)
		testutil.AssertStatusAndError(t, rr, http.StatusPreconditionFailed, "version_conflict")
	})

	s.Run("missing If-Match", func() {
		rr := s.do(testutil.NewRequest(t, http.MethodPost, "/orders/"+o.ID.String()+"/confirm"), employee.AccessToken)
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("unknown action", func() {
		rr := s.act(o.ID, "teleport", o.Version, employee.AccessToken, nil)
		testutil.AssertStatus(t, rr, http.StatusNotFound)
	})

	o = s.order(s.act(o.ID, "confirm", o.Version, employee.AccessToken, nil))
	o = s.order(s.act(o.ID, "start-preparing", o.Version, employee.AccessToken, nil))
	o = s.order(s.act(o.ID, "ready", o.Version, employee.AccessToken, nil))

	s.Run("completion needs a captured payment", func() {
		rr := s.act(o.ID, "complete", o.Version, employee.AccessToken, nil)
		testutil.AssertStatusAndError(t, rr, http.StatusConflict, "invariant_violation")
	})

	o = s.order(s.act(o.ID, "capture-payment", o.Version, employee.AccessToken, nil))
	o = s.order(s.act(o.ID, "complete", o.Version, employee.AccessToken, nil))
	s.Equal(commercemodels.StatusCompleted, o.Status)

	rr = s.do(testutil.NewRequest(t, http.MethodGet, "/orders/"+o.ID.String()), customer.AccessToken)
	got := s.order(rr)
	s.Equal(o.Version, got.Version)

	rr = s.do(testutil.NewRequest(t, http.MethodGet, "/orders?status=completed"), employee.AccessToken)
	testutil.AssertStatusOK(t, rr)
	list := testutil.UnmarshalResponse[struct {
		Orders []commercemodels.Order `json:"orders"`
	}](t, rr)
	s.Len(list.Orders, 1)
}

func (s *GatewaySuite) TestOtherCustomersOrdersAreOutOfScope() {
	t := s.T()
	ada := s.signUp("ada@example.com", "")
	eve := s.signUp("eve@example.com", "")

	rr := s.do(testutil.NewJSONRequest(t, http.MethodPost, "/orders", map[string]any{"location_id": s.location}), ada.AccessToken)
	o := s.order(rr)

	rr = s.do(testutil.NewRequest(t, http.MethodGet, "/orders/"+o.ID.String()), eve.AccessToken)
	testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "resource_out_of_scope")

	rr = s.do(testutil.NewRequest(t, http.MethodGet, "/orders"), eve.AccessToken)
	testutil.AssertStatusOK(t, rr)
	s.JSONEq(`{"orders":[]}`, rr.Body.String())
}

func (s *GatewaySuite) TestOperatorRoutes() {
	t := s.T()

	s.Run("tenant admin is not an operator", func() {
		rr := s.do(testutil.NewRequest(t, http.MethodGet, "/admin/events/dead-letters"), s.tenantAdmin())
		testutil.AssertStatus(t, rr, http.StatusUnauthorized)
	})

	s.Run("suspend through the admin token", func() {
		req := testutil.NewRequest(t, http.MethodPost, "/admin/tenants/"+s.acme.ID.String()+"/suspend")
		req.Header.Set("X-Admin-Token", adminToken)
		rr := s.do(req, "")
		testutil.AssertStatusOK(t, rr)

		rr = s.do(testutil.NewJSONRequest(t, http.MethodPost, "/auth/login", map[string]any{
			"tenant_slug": "acme-pizza", "email": "ada@example.com", "password": strongPassword,
		}), "")
		s.Equal(http.StatusNotFound, rr.Code)
	})

	s.Run("dead letters", func() {
		evt, err := eventbus.NewEvent(s.acme.ID, "commerce.order.created", map[string]string{"order_id": "x"})
		s.Require().NoError(err)
		s.Require().NoError(s.deadLetters.Put(context.Background(), eventbus.DeadLetter{
			Event: evt, Subscriber: "kitchen-display", Reason: "handler failed", Attempts: 4, FailedAt: time.Now(),
		}))

		req := testutil.NewRequest(t, http.MethodGet, "/admin/events/dead-letters?tenant_id="+s.acme.ID.String())
		req.Header.Set("X-Admin-Token", adminToken)
		rr := s.do(req, "")
		testutil.AssertStatusOK(t, rr)

		var body struct {
			DeadLetters []struct {
				Event      eventbus.Envelope `json:"event"`
				Subscriber string            `json:"subscriber"`
				Attempts   int               `json:"attempts"`
			} `json:"dead_letters"`
		}
		s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &body))
		s.Require().Len(body.DeadLetters, 1)
		s.Equal(evt.ID, body.DeadLetters[0].Event.ID)
		s.Equal("kitchen-display", body.DeadLetters[0].Subscriber)
		s.Equal(4, body.DeadLetters[0].Attempts)
	})
	s.Run("audit trail", func() {
		evt, err := eventbus.NewEvent(s.acme.ID, "identity.account.locked", map[string]string{"user_id": "x"})
		s.Require().NoError(err)
		s.Require().NoError(s.trail.Handle(context.Background(), evt))

		req := testutil.NewRequest(t, http.MethodGet, "/admin/audit?category=security&tenant_id="+s.acme.ID.String())
		req.Header.Set("X-Admin-Token", adminToken)
		rr := s.do(req, "")
		testutil.AssertStatusOK(t, rr)

		var body struct {
			Entries []audit.Entry `json:"entries"`
		}
		s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &body))
		s.Require().Len(body.Entries, 1)
		s.Equal(evt.ID, body.Entries[0].EventID)

		req = testutil.NewRequest(t, http.MethodGet, "/admin/audit?category=billing")
		req.Header.Set("X-Admin-Token", adminToken)
		testutil.AssertStatus(t, s.do(req, ""), http.StatusBadRequest)
	})
}

func (s *GatewaySuite) TestCredentialEndpointsAreThrottled() {
	t := s.T()
	cfg := s.cfg
	cfg.AuthLimiter = ratelimit.NewSlidingWindow(2, time.Minute)
	router := httptransport.NewRouter(cfg)

	login := func() *httptest.ResponseRecorder {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/auth/login", map[string]any{
			"tenant_slug": "acme-pizza", "email": "nobody@example.com", "password": "wrong",
		})
		req.RemoteAddr = "192.0.2.10:5000"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	s.Equal(http.StatusUnauthorized, login().Code)
	s.Equal(http.StatusUnauthorized, login().Code)
	rr := login()
	s.Equal(http.StatusTooManyRequests, rr.Code)
	s.NotEmpty(rr.Header().Get("Retry-After"))
}
