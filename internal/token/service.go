// Package token issues and verifies the signed claim sets used as access and
// refresh credentials. Access and refresh tokens are signed with independent
// HS256 secrets so a leak of one secret cannot forge the other token class.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/iliyamo/sessionguard/internal/model"
	"github.com/iliyamo/sessionguard/internal/utils"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultIssuer     = "sessionguard"

	typeAccess  = "access"
	typeRefresh = "refresh"
)

var (
	// ErrInvalidToken covers every verification failure: bad signature,
	// expiry, wrong token class, or malformed input. Callers must not try to
	// tell these apart in user-facing responses.
	ErrInvalidToken = errors.New("invalid token")

	ErrMissingSecret = errors.New("token secret is not configured")
	ErrSharedSecret  = errors.New("access and refresh secrets must differ")
)

// Claims is the identity payload embedded in both token kinds.
type Claims struct {
	UserID uint64     `json:"userId"`
	Email  string     `json:"email"`
	Role   model.Role `json:"role"`
}

// PermissionRole returns the role carried by the token.
func (c Claims) PermissionRole() model.Role { return c.Role }

// PermissionOverrides is always nil: tokens carry the role only.
func (c Claims) PermissionOverrides() []string { return nil }

// ClaimsFor builds claims from the current user record.
func ClaimsFor(u model.User) Claims {
	return Claims{UserID: u.ID, Email: u.Email, Role: u.Role}
}

// Issued is a signed token with its identifier and absolute expiry.
type Issued struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

type signedClaims struct {
	Claims
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// Service signs and verifies tokens. It holds no mutable state and is safe
// for concurrent use.
type Service struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	now           func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL overrides the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithIssuer overrides the iss claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService returns a Service. Both secrets are required and must differ.
func NewService(accessSecret, refreshSecret string, opts ...Option) (*Service, error) {
	if strings.TrimSpace(accessSecret) == "" || strings.TrimSpace(refreshSecret) == "" {
		return nil, ErrMissingSecret
	}
	if accessSecret == refreshSecret {
		return nil, ErrSharedSecret
	}
	s := &Service{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     DefaultAccessTTL,
		refreshTTL:    DefaultRefreshTTL,
		issuer:        DefaultIssuer,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AccessTTL reports the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// IssueAccessToken signs claims with the access secret.
func (s *Service) IssueAccessToken(c Claims) (Issued, error) {
	return s.issue(c, typeAccess, uuid.NewString(), s.accessTTL, s.accessSecret)
}

// IssueRefreshToken signs claims with the refresh secret. The token ID is a
// 256-bit random value so every refresh token is unguessable on its own.
func (s *Service) IssueRefreshToken(c Claims) (Issued, error) {
	jti, err := utils.GenerateSecureToken()
	if err != nil {
		return Issued{}, fmt.Errorf("generate token id: %w", err)
	}
	return s.issue(c, typeRefresh, jti, s.refreshTTL, s.refreshSecret)
}

// VerifyAccessToken validates an access token and returns its claims.
func (s *Service) VerifyAccessToken(raw string) (Claims, error) {
	return s.verify(raw, typeAccess, s.accessSecret)
}

// VerifyRefreshToken validates a refresh token and returns its claims.
func (s *Service) VerifyRefreshToken(raw string) (Claims, error) {
	return s.verify(raw, typeRefresh, s.refreshSecret)
}

func (s *Service) issue(c Claims, typ, jti string, ttl time.Duration, secret []byte) (Issued, error) {
	now := s.now().UTC()
	exp := now.Add(ttl)
	sc := signedClaims{
		Claims: c,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   fmt.Sprint(c.UserID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, sc).SignedString(secret)
	if err != nil {
		return Issued{}, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return Issued{Token: signed, ID: jti, ExpiresAt: sc.ExpiresAt.Time}, nil
}

func (s *Service) verify(raw, typ string, secret []byte) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, ErrInvalidToken
	}
	var sc signedClaims
	tok, err := jwt.ParseWithClaims(raw, &sc, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !tok.Valid {
		return Claims{}, ErrInvalidToken
	}
	if sc.Type != typ || sc.UserID == 0 || !sc.Role.Valid() {
		return Claims{}, ErrInvalidToken
	}
	return sc.Claims, nil
}
