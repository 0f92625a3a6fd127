package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "olympus/pkg/domain-errors"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		code       string
		describeAs string
	}{
		{"client error keeps its message", dErrors.New(dErrors.CodeBadRequest, "invalid input"), http.StatusBadRequest, "bad_request", "invalid input"},
		{"internal error hides detail", dErrors.New(dErrors.CodeInternal, "db failed"), http.StatusInternalServerError, "internal_error", ""},
		{"raw driver error hides detail", errors.New("pq: connection refused"), http.StatusInternalServerError, "internal_error", ""},
		{"wrapped cause stays server side", dErrors.Wrap(errors.New("row 42 missing"), dErrors.CodeInvalidCredentials, "invalid credentials"), http.StatusUnauthorized, "invalid_credentials", "invalid credentials"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			var body map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.code, body["error"])
			desc, ok := body["error_description"]
			if tt.describeAs == "" {
				assert.False(t, ok, "description leaked: %q", desc)
				return
			}
			assert.Equal(t, tt.describeAs, desc)
		})
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[dErrors.Code]int{
		dErrors.CodeInvalidCredentials:  http.StatusUnauthorized,
		dErrors.CodeTokenExpired:        http.StatusUnauthorized,
		dErrors.CodeSessionRevoked:      http.StatusUnauthorized,
		dErrors.CodeAccountLocked:       http.StatusLocked,
		dErrors.CodeTenantNotFound:      http.StatusNotFound,
		dErrors.CodeTenantSuspended:     http.StatusForbidden,
		dErrors.CodeInsufficientRole:    http.StatusForbidden,
		dErrors.CodeResourceOutOfScope:  http.StatusForbidden,
		dErrors.CodeDuplicateIdentity:   http.StatusConflict,
		dErrors.CodeConcurrentRefresh:   http.StatusConflict,
		dErrors.CodeVersionConflict:     http.StatusPreconditionFailed,
		dErrors.CodeEventDeliveryFailed: http.StatusServiceUnavailable,
		dErrors.CodeRateLimited:         http.StatusTooManyRequests,
		dErrors.Code("made_up"):         http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, StatusFor(code), "code %s", code)
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Email string `json:"email"`
	}
	decode := func(body string) (payload, error) {
		var p payload
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		err := DecodeJSON(httptest.NewRecorder(), r, &p)
		return p, err
	}

	p, err := decode(`{"email":"ada@example.com"}`)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", p.Email)

	_, err = decode(`{"email":"ada@example.com","admin":true}`)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest), "unknown field")

	_, err = decode(`{"email":`)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest), "truncated body")
}
