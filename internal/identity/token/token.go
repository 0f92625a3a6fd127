// Package token issues and verifies the signed access and refresh tokens.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	id "olympus/pkg/domain"
	dErrors "olympus/pkg/domain-errors"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// claims is the wire form. The access shape is
// {sub, tenant_id, roles, session_id, iat, exp} plus jti, iss and typ.
type claims struct {
	TenantID  string   `json:"tenant_id"`
	Roles     []string `json:"roles"`
	SessionID string   `json:"session_id"`
	Type      string   `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims is the verified content of a refresh token.
type RefreshClaims struct {
	Subject   id.UserID
	TenantID  id.TenantID
	SessionID id.SessionID
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issued is a freshly signed token. Raw is handed to the client once; only
// Hash is persisted.
type Issued struct {
	Raw       string
	Hash      string
	ExpiresAt time.Time
}

type Config struct {
	SigningKey        string
	RefreshSigningKey string
	Issuer            string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
}

// Service signs with HS256. Access and refresh tokens use different keys,
// so one can never be verified as the other.
type Service struct {
	accessKey  []byte
	refreshKey []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func New(cfg Config) (*Service, error) {
	if len(cfg.SigningKey) < 32 {
		return nil, errors.New("token signing key must be at least 32 bytes")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("refresh lifetime must exceed access lifetime")
	}
	refreshKey := []byte(cfg.RefreshSigningKey)
	if len(refreshKey) == 0 {
		derived, err := deriveKey([]byte(cfg.SigningKey), "olympus refresh token")
		if err != nil {
			return nil, err
		}
		refreshKey = derived
	}
	return &Service{
		accessKey:  []byte(cfg.SigningKey),
		refreshKey: refreshKey,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
	}, nil
}

func deriveKey(secret []byte, info string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("derive refresh key: %w", err)
	}
	return key, nil
}

func (s *Service) AccessTTL() time.Duration  { return s.accessTTL }
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// IssueAccess signs an access token for sub valid from now.
func (s *Service) IssueAccess(sub id.UserID, tenantID id.TenantID, roles []string, sessionID id.SessionID, now time.Time) (Issued, error) {
	exp := now.Add(s.accessTTL)
	if roles == nil {
		roles = []string{}
	}
	raw, err := s.sign(s.accessKey, claims{
		TenantID:         tenantID.String(),
		Roles:            roles,
		SessionID:        sessionID.String(),
		Type:             TypeAccess,
		RegisteredClaims: s.registered(sub, now, exp),
	})
	if err != nil {
		return Issued{}, err
	}
	return Issued{Raw: raw, Hash: Hash(raw), ExpiresAt: exp}, nil
}

// IssueRefresh signs a refresh token. It carries no roles; refresh copies
// the roles recorded on the session.
func (s *Service) IssueRefresh(sub id.UserID, tenantID id.TenantID, sessionID id.SessionID, now time.Time) (Issued, error) {
	exp := now.Add(s.refreshTTL)
	raw, err := s.sign(s.refreshKey, claims{
		TenantID:         tenantID.String(),
		SessionID:        sessionID.String(),
		Type:             TypeRefresh,
		RegisteredClaims: s.registered(sub, now, exp),
	})
	if err != nil {
		return Issued{}, err
	}
	return Issued{Raw: raw, Hash: Hash(raw), ExpiresAt: exp}, nil
}

func (s *Service) registered(sub id.UserID, now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   sub.String(),
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
}

func (s *Service) sign(key []byte, c claims) (string, error) {
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(key)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign token")
	}
	return raw, nil
}

// ParseAccess verifies signature, then expiry, then claim shape, returning
// TokenInvalid or TokenExpired.
func (s *Service) ParseAccess(raw string, now time.Time) (*id.Claims, error) {
	c, err := s.parse(raw, s.accessKey, TypeAccess, now)
	if err != nil {
		return nil, err
	}
	sub, tenantID, sessionID, err := c.ids()
	if err != nil {
		return nil, err
	}
	return &id.Claims{
		Subject:   sub,
		TenantID:  tenantID,
		Roles:     c.Roles,
		SessionID: sessionID,
		IssuedAt:  c.IssuedAt.Time,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

func (s *Service) ParseRefresh(raw string, now time.Time) (*RefreshClaims, error) {
	c, err := s.parse(raw, s.refreshKey, TypeRefresh, now)
	if err != nil {
		return nil, err
	}
	sub, tenantID, sessionID, err := c.ids()
	if err != nil {
		return nil, err
	}
	return &RefreshClaims{
		Subject:   sub,
		TenantID:  tenantID,
		SessionID: sessionID,
		IssuedAt:  c.IssuedAt.Time,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

func (s *Service) parse(raw string, key []byte, wantType string, now time.Time) (*claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	var c claims
	parsed, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return key, nil
	}, opts...)
	if err != nil {
		// The parser checks the signature before any time claim, so an expired
		// error implies a valid signature.
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeTokenExpired, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeTokenInvalid, "invalid token")
	}
	if !parsed.Valid || c.Type != wantType {
		return nil, dErrors.New(dErrors.CodeTokenInvalid, "invalid token")
	}
	return &c, nil
}

func (c *claims) ids() (id.UserID, id.TenantID, id.SessionID, error) {
	invalid := dErrors.New(dErrors.CodeTokenInvalid, "invalid token claims")
	sub, err := id.ParseUserID(c.Subject)
	if err != nil {
		return id.UserID{}, id.TenantID{}, id.SessionID{}, invalid
	}
	tenantID, err := id.ParseTenantID(c.TenantID)
	if err != nil {
		return id.UserID{}, id.TenantID{}, id.SessionID{}, invalid
	}
	sessionID, err := id.ParseSessionID(c.SessionID)
	if err != nil {
		return id.UserID{}, id.TenantID{}, id.SessionID{}, invalid
	}
	if c.IssuedAt == nil {
		return id.UserID{}, id.TenantID{}, id.SessionID{}, invalid
	}
	return sub, tenantID, sessionID, nil
}

// Hash is the persisted form of a raw token: lower-case hex SHA-256.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
