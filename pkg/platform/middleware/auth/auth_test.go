package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
	"olympus/pkg/requestcontext"
	"olympus/pkg/testutil"
)

type stubValidator struct {
	claims *id.Claims
	err    error
}

func (s stubValidator) ValidateAccess(context.Context, string) (*id.Claims, error) {
	return s.claims, s.err
}

type stubRevocations struct {
	revoked bool
	err     error
}

func (s stubRevocations) IsSessionRevoked(context.Context, id.SessionID) (bool, error) {
	return s.revoked, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func captureClaims(got **id.Claims) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = requestcontext.Claims(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRequireAuth(t *testing.T) {
	claims := &id.Claims{Subject: id.NewUserID(), TenantID: id.NewTenantID(), SessionID: id.NewSessionID()}

	t.Run("missing header is unauthorized", func(t *testing.T) {
		var got *id.Claims
		h := RequireAuth(stubValidator{claims: claims}, nil, discardLogger())(captureClaims(&got))

		rr := testutil.DoRequest(h, httptest.NewRequest(http.MethodGet, "/orders", nil))

		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
		assert.Nil(t, got)
	})

	t.Run("expired token keeps its code", func(t *testing.T) {
		var got *id.Claims
		v := stubValidator{err: dErrors.New(dErrors.CodeTokenExpired, "token expired")}
		h := RequireAuth(v, nil, discardLogger())(captureClaims(&got))

		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		req.Header.Set("Authorization", "Bearer abc")
		rr := testutil.DoRequest(h, req)

		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "token_expired")
	})

	t.Run("valid token puts claims in context", func(t *testing.T) {
		var got *id.Claims
		h := RequireAuth(stubValidator{claims: claims}, nil, discardLogger())(captureClaims(&got))

		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		req.Header.Set("Authorization", "Bearer abc")
		rr := testutil.DoRequest(h, req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
		require.NotNil(t, got)
		assert.Equal(t, claims.TenantID, got.TenantID)
	})

	t.Run("revoked session is rejected when checking", func(t *testing.T) {
		var got *id.Claims
		h := RequireAuth(stubValidator{claims: claims}, stubRevocations{revoked: true}, discardLogger())(captureClaims(&got))

		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		req.Header.Set("Authorization", "Bearer abc")
		rr := testutil.DoRequest(h, req)

		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "session_revoked")
		assert.Nil(t, got)
	})

	t.Run("revocation backend failure is internal", func(t *testing.T) {
		var got *id.Claims
		h := RequireAuth(stubValidator{claims: claims}, stubRevocations{err: errors.New("redis down")}, discardLogger())(captureClaims(&got))

		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		req.Header.Set("Authorization", "Bearer abc")
		rr := testutil.DoRequest(h, req)

		testutil.AssertStatusAndError(t, rr, http.StatusInternalServerError, "internal_error")
	})
}
