// Package admin guards operator endpoints.
package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	dErrors "olympus/pkg/domain-errors"
	"olympus/pkg/platform/httputil"
	"olympus/pkg/requestcontext"
)

// SuperAdminRole is the wire name of the platform operator role.
const SuperAdminRole = "super_admin"

// RequireOperator admits a request carrying a matching X-Admin-Token header, or
// one already authenticated with super-admin claims. An empty expectedToken
// disables the header path.
func RequireOperator(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if claims := requestcontext.Claims(ctx); claims.HasRole(SuperAdminRole) {
				next.ServeHTTP(w, r)
				return
			}
			token := r.Header.Get("X-Admin-Token")
			if expectedToken != "" && token != "" &&
				subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
			logger.WarnContext(ctx, "operator access denied",
				"request_id", requestcontext.RequestID(ctx),
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "operator credentials required"))
		})
	}
}
