// Package auth authenticates bearer access tokens and puts the verified claims
// into the request context.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
	"olympus/pkg/platform/httputil"
	"olympus/pkg/requestcontext"
)

// TokenValidator verifies signature, expiry and claim shape without touching
// storage.
type TokenValidator interface {
	ValidateAccess(ctx context.Context, token string) (*id.Claims, error)
}

// RevocationChecker answers whether a session has been revoked. It is
// consulted only when the middleware is built with one.
type RevocationChecker interface {
	IsSessionRevoked(ctx context.Context, sessionID id.SessionID) (bool, error)
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(after) == "" {
		return "", false
	}
	return strings.TrimSpace(after), true
}

// RequireAuth rejects requests without a valid access token. A nil
// revocationChecker keeps validation stateless.
func RequireAuth(validator TokenValidator, revocationChecker RevocationChecker, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := BearerToken(r)
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			claims, err := validator.ValidateAccess(ctx, token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error_code", string(dErrors.CodeOf(err)),
					"request_id", requestID,
				)
				httputil.WriteError(w, err)
				return
			}

			if revocationChecker != nil {
				revoked, err := revocationChecker.IsSessionRevoked(ctx, claims.SessionID)
				if err != nil {
					logger.ErrorContext(ctx, "failed to check session revocation",
						"error", err,
						"request_id", requestID,
					)
					httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to validate token"))
					return
				}
				if revoked {
					logger.WarnContext(ctx, "unauthorized access - session revoked",
						"session_id", claims.SessionID.String(),
						"request_id", requestID,
					)
					httputil.WriteError(w, dErrors.New(dErrors.CodeSessionRevoked, "session has been revoked"))
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithClaims(ctx, claims)))
		})
	}
}

// OptionalAuth attaches claims when a valid bearer token is present and
// otherwise passes the request through untouched. Invalid tokens are still
// rejected so a caller never silently loses its identity.
func OptionalAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			claims, err := validator.ValidateAccess(ctx, token)
			if err != nil {
				logger.WarnContext(ctx, "invalid bearer token on optional route",
					"error_code", string(dErrors.CodeOf(err)),
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithClaims(ctx, claims)))
		})
	}
}
