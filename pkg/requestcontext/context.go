// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets these values; services read them without importing net/http.
//
//	claims := requestcontext.Claims(ctx)
//	tenantID := requestcontext.TenantID(ctx)
//	now := requestcontext.Now(ctx)
//
// Tests inject values directly:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithClaims(ctx, &id.Claims{...})
package requestcontext

import (
	"context"
	"time"

	id "olympus/pkg/domain"
)

type (
	claimsKey      struct{}
	tenantIDKey    struct{}
	clientIPKey    struct{}
	userAgentKey   struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

var (
	ContextKeyClaims      = claimsKey{}
	ContextKeyTenantID    = tenantIDKey{}
	ContextKeyClientIP    = clientIPKey{}
	ContextKeyUserAgent   = userAgentKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// -----------------------------------------------------------------------------
// Auth context
// -----------------------------------------------------------------------------

// Claims returns the verified access-token claims, or nil for anonymous requests.
func Claims(ctx context.Context) *id.Claims {
	if c, ok := ctx.Value(ContextKeyClaims).(*id.Claims); ok {
		return c
	}
	return nil
}

// WithClaims stores claims and the tenant they belong to.
func WithClaims(ctx context.Context, claims *id.Claims) context.Context {
	ctx = context.WithValue(ctx, ContextKeyClaims, claims)
	if claims != nil {
		ctx = context.WithValue(ctx, ContextKeyTenantID, claims.TenantID)
	}
	return ctx
}

// UserID returns the subject of the claims in ctx, or the nil ID.
func UserID(ctx context.Context) id.UserID {
	if c := Claims(ctx); c != nil {
		return c.Subject
	}
	return id.UserID{}
}

// SessionID returns the session of the claims in ctx, or the nil ID.
func SessionID(ctx context.Context) id.SessionID {
	if c := Claims(ctx); c != nil {
		return c.SessionID
	}
	return id.SessionID{}
}

// TenantID returns the tenant context of the request.
func TenantID(ctx context.Context) id.TenantID {
	if t, ok := ctx.Value(ContextKeyTenantID).(id.TenantID); ok {
		return t
	}
	return id.TenantID{}
}

func WithTenantID(ctx context.Context, tenantID id.TenantID) context.Context {
	return context.WithValue(ctx, ContextKeyTenantID, tenantID)
}

// -----------------------------------------------------------------------------
// Client metadata (IP, User-Agent)
// -----------------------------------------------------------------------------

func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return ip
	}
	return ""
}

func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(ContextKeyUserAgent).(string); ok {
		return ua
	}
	return ""
}

// WithClientMetadata injects client IP and User-Agent into a context.
// Useful for service unit tests that don't run the full HTTP middleware chain.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyClientIP, clientIP)
	ctx = context.WithValue(ctx, ContextKeyUserAgent, userAgent)
	return ctx
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// -----------------------------------------------------------------------------
// Request time
// -----------------------------------------------------------------------------

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() for workers and other non-HTTP callers.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins "now" for the rest of the call chain.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
