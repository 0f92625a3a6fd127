package handler

import (
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"olympus/internal/tenant"
	"olympus/internal/tenant/models"
	tenantstore "olympus/internal/tenant/store/tenant"
	id "olympus/pkg/domain"
	"olympus/pkg/platform/middleware/admin"
	"olympus/pkg/testutil"
)

const adminToken = "secret-token"

func newTenantRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(tenant.NewService(tenantstore.NewInMemory()), logger)

	r := chi.NewRouter()
	r.Use(admin.RequireOperator(adminToken, logger))
	h.Register(r)
	return r
}

func operatorRequest(t *testing.T, method, path string, body any) *http.Request {
	req := testutil.NewJSONRequest(t, method, path, body)
	req.Header.Set("X-Admin-Token", adminToken)
	return req
}

func createTenant(t *testing.T, router http.Handler, slug string) *models.Tenant {
	t.Helper()
	rr := testutil.DoRequest(router, operatorRequest(t, http.MethodPost, "/admin/tenants",
		map[string]string{"slug": slug, "name": "Acme Pizza", "industry": "restaurant"}))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return testutil.UnmarshalResponse[models.Tenant](t, rr)
}

func TestAdminTokenRequired(t *testing.T) {
	router := newTenantRouter(t)
	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/admin/tenants/"+id.NewTenantID().String()))
	testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
}

func TestSuperAdminClaimsAdmitted(t *testing.T) {
	router := newTenantRouter(t)
	created := createTenant(t, router, "acme-pizza")
	path := "/admin/tenants/" + created.ID.String()

	t.Run("super admin", func(t *testing.T) {
		req := testutil.WithClaims(testutil.NewRequest(t, http.MethodGet, path),
			testutil.ClaimsFor(created.ID, admin.SuperAdminRole))
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONField(t, rr, "slug", "acme-pizza")
	})

	t.Run("tenant admin", func(t *testing.T) {
		req := testutil.WithClaims(testutil.NewRequest(t, http.MethodGet, path),
			testutil.ClaimsFor(created.ID, "tenant_admin"))
		testutil.AssertStatusAndError(t, testutil.DoRequest(router, req), http.StatusUnauthorized, "unauthorized")
	})
}

func TestTenantLifecycle(t *testing.T) {
	router := newTenantRouter(t)
	created := createTenant(t, router, "acme-pizza")
	assert.Equal(t, models.TenantStatusActive, created.Status)
	assert.Equal(t, models.IndustryRestaurant, created.Industry)
	path := "/admin/tenants/" + created.ID.String()

	t.Run("get", func(t *testing.T) {
		rr := testutil.DoRequest(router, operatorRequest(t, http.MethodGet, path, nil))
		testutil.AssertStatusOK(t, rr)
		got := testutil.UnmarshalResponse[models.Tenant](t, rr)
		assert.Equal(t, "acme-pizza", got.Slug)
	})

	t.Run("suspend then suspend again", func(t *testing.T) {
		rr := testutil.DoRequest(router, operatorRequest(t, http.MethodPost, path+"/suspend", nil))
		testutil.AssertStatusOK(t, rr)
		assert.Equal(t, models.TenantStatusSuspended, testutil.UnmarshalResponse[models.Tenant](t, rr).Status)

		rr = testutil.DoRequest(router, operatorRequest(t, http.MethodPost, path+"/suspend", nil))
		testutil.AssertStatus(t, rr, http.StatusConflict)
	})

	t.Run("reactivate", func(t *testing.T) {
		rr := testutil.DoRequest(router, operatorRequest(t, http.MethodPost, path+"/reactivate", nil))
		testutil.AssertStatusOK(t, rr)
		assert.Equal(t, models.TenantStatusActive, testutil.UnmarshalResponse[models.Tenant](t, rr).Status)
	})

	t.Run("settings", func(t *testing.T) {
		loc := id.NewLocationID()
		rr := testutil.DoRequest(router, operatorRequest(t, http.MethodPatch, path+"/settings", map[string]any{
			"locations": map[string]any{"locations": []string{loc.String()}},
		}))
		testutil.AssertStatusOK(t, rr)

		var locs models.LocationsSettings
		require.NoError(t, testutil.UnmarshalResponse[models.Tenant](t, rr).Settings.Decode(models.FeatureLocations, &locs))
		assert.True(t, locs.Has(loc))

		rr = testutil.DoRequest(router, operatorRequest(t, http.MethodPatch, path+"/settings", map[string]any{
			"colour_scheme": "dark",
		}))
		testutil.AssertStatus(t, rr, http.StatusBadRequest)
	})
}

func TestCreateTenantRejects(t *testing.T) {
	router := newTenantRouter(t)
	createTenant(t, router, "acme-pizza")

	t.Run("duplicate slug", func(t *testing.T) {
		rr := testutil.DoRequest(router, operatorRequest(t, http.MethodPost, "/admin/tenants",
			map[string]string{"slug": "acme-pizza", "name": "Copycat"}))
		testutil.AssertStatus(t, rr, http.StatusConflict)
	})

	t.Run("unknown field", func(t *testing.T) {
		rr := testutil.DoRequest(router, operatorRequest(t, http.MethodPost, "/admin/tenants",
			map[string]string{"slug": "globex", "name": "Globex", "owner": "hank"}))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
	})

	t.Run("malformed id", func(t *testing.T) {
		rr := testutil.DoRequest(router, operatorRequest(t, http.MethodGet, "/admin/tenants/not-a-uuid", nil))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
	})

	t.Run("unknown tenant", func(t *testing.T) {
		rr := testutil.DoRequest(router, operatorRequest(t, http.MethodGet, "/admin/tenants/"+id.NewTenantID().String(), nil))
		testutil.AssertStatus(t, rr, http.StatusNotFound)
	})
}

func TestHierarchyAndDeletion(t *testing.T) {
	router := newTenantRouter(t)
	parent := createTenant(t, router, "acme-group")
	child := createTenant(t, router, "acme-pizza")

	t.Run("reparent", func(t *testing.T) {
		rr := testutil.DoRequest(router, operatorRequest(t, http.MethodPut,
			"/admin/tenants/"+child.ID.String()+"/parent", map[string]any{"parent_id": parent.ID}))
		testutil.AssertStatusOK(t, rr)
		got := testutil.UnmarshalResponse[models.Tenant](t, rr)
		require.NotNil(t, got.ParentID)
		assert.Equal(t, parent.ID, *got.ParentID)
	})

	t.Run("cycle rejected", func(t *testing.T) {
		rr := testutil.DoRequest(router, operatorRequest(t, http.MethodPut,
			"/admin/tenants/"+parent.ID.String()+"/parent", map[string]any{"parent_id": child.ID}))
		testutil.AssertStatus(t, rr, http.StatusBadRequest)
	})

	t.Run("detach", func(t *testing.T) {
		rr := testutil.DoRequest(router, operatorRequest(t, http.MethodPut,
			"/admin/tenants/"+child.ID.String()+"/parent", map[string]any{"parent_id": nil}))
		testutil.AssertStatusOK(t, rr)
		assert.Nil(t, testutil.UnmarshalResponse[models.Tenant](t, rr).ParentID)
	})

	t.Run("soft delete hides the tenant", func(t *testing.T) {
		path := "/admin/tenants/" + child.ID.String()
		rr := testutil.DoRequest(router, operatorRequest(t, http.MethodDelete, path, nil))
		testutil.AssertStatusOK(t, rr)
		assert.NotNil(t, testutil.UnmarshalResponse[models.Tenant](t, rr).DeletedAt)

		rr = testutil.DoRequest(router, operatorRequest(t, http.MethodGet, path, nil))
		testutil.AssertStatus(t, rr, http.StatusNotFound)
	})
}
