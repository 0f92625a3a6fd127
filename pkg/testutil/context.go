package testutil

import (
	"net/http"

	id "olympus/pkg/domain"
	"olympus/pkg/requestcontext"
)

// WithClaims attaches claims to the request the way the auth middleware does.
func WithClaims(req *http.Request, claims *id.Claims) *http.Request {
	return req.WithContext(requestcontext.WithClaims(req.Context(), claims))
}

// ClaimsFor builds claims for a user of tenantID with the given roles.
func ClaimsFor(tenantID id.TenantID, roles ...string) *id.Claims {
	return &id.Claims{
		Subject:   id.NewUserID(),
		TenantID:  tenantID,
		SessionID: id.NewSessionID(),
		Roles:     roles,
	}
}
