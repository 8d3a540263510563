// Package service implements the login orchestration: rate check, identity
// lookup, lockout check, password verification and token issuance, plus
// refresh, logout and verification of accounts.
package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/sessionguard/internal/metrics"
	"github.com/iliyamo/sessionguard/internal/model"
	"github.com/iliyamo/sessionguard/internal/ratelimit"
	"github.com/iliyamo/sessionguard/internal/repository"
	"github.com/iliyamo/sessionguard/internal/token"
	"github.com/iliyamo/sessionguard/internal/utils"
)

const (
	DefaultLoginMaxAttempts = 5
	DefaultLoginWindow      = 15 * time.Minute

	loginKeyPrefix = "login:"
)

// LoginRequest is one login call. UserAgent is optional.
type LoginRequest struct {
	Email     string
	Password  string
	ClientIP  string
	UserAgent string
}

// Meta identifies the client of a non-login call for the event log.
type Meta struct {
	ClientIP  string
	UserAgent string
}

// UserSummary is the part of the identity returned to a logged-in client.
type UserSummary struct {
	ID         uint64     `json:"id"`
	Email      string     `json:"email"`
	Role       model.Role `json:"role"`
	IsVerified bool       `json:"is_verified"`
}

// LoginResult carries the summary and both issued tokens.
type LoginResult struct {
	User    UserSummary
	Access  token.Issued
	Refresh token.Issued
}

// AccessResult is the outcome of a refresh.
type AccessResult struct {
	Access token.Issued
	Claims token.Claims
}

// AuthService orchestrates logins. It is safe for concurrent use.
type AuthService struct {
	users   UserStore
	store   RefreshTokenStore
	tokens  *token.Service
	limiter ratelimit.Limiter
	lockout LockoutPolicy
	events  Recorder

	maxAttempts int
	window      time.Duration
}

// Option configures an AuthService.
type Option func(*AuthService)

// WithLoginLimit sets the per-client attempt limit and its window.
func WithLoginLimit(maxAttempts int, window time.Duration) Option {
	return func(s *AuthService) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if window > 0 {
			s.window = window
		}
	}
}

// WithLockoutPolicy replaces NeverLocked.
func WithLockoutPolicy(p LockoutPolicy) Option {
	return func(s *AuthService) {
		if p != nil {
			s.lockout = p
		}
	}
}

// WithRecorder sets the security event recorder.
func WithRecorder(r Recorder) Option {
	return func(s *AuthService) {
		if r != nil {
			s.events = r
		}
	}
}

func NewAuthService(users UserStore, store RefreshTokenStore, tokens *token.Service, limiter ratelimit.Limiter, opts ...Option) *AuthService {
	s := &AuthService{
		users:       users,
		store:       store,
		tokens:      tokens,
		limiter:     limiter,
		lockout:     NeverLocked{},
		events:      nopRecorder{},
		maxAttempts: DefaultLoginMaxAttempts,
		window:      DefaultLoginWindow,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Login runs the five stages in order and stops at the first failure.
// Unknown email and wrong password fail identically.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	ev := func(action model.SecurityAction, userID *uint64, details map[string]any) {
		s.events.Record(ctx, model.SecurityEvent{
			UserID:    userID,
			IPAddress: req.ClientIP,
			UserAgent: req.UserAgent,
			Action:    action,
			Details:   details,
		})
	}

	// 1. rate check
	if !s.limiter.Allow(loginKeyPrefix+req.ClientIP, s.maxAttempts, s.window) {
		ev(model.ActionRateLimitExceeded, nil, map[string]any{"email": email})
		metrics.LoginTotal.WithLabelValues(metrics.OutcomeRateLimited).Inc()
		return LoginResult{}, ErrTooManyAttempts
	}
	ev(model.ActionLoginAttempt, nil, map[string]any{"email": email})

	// 2. identity lookup
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		utils.VerifyPassword(dummyHash(), req.Password)
		return LoginResult{}, s.credentialFailure(ev, nil, email)
	}
	if err != nil {
		metrics.LoginTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return LoginResult{}, err
	}
	uid := user.ID

	// 3. lockout check
	if s.lockout.IsLocked(ctx, user) {
		ev(model.ActionAccountLocked, &uid, map[string]any{"email": email})
		metrics.LoginTotal.WithLabelValues(metrics.OutcomeLocked).Inc()
		return LoginResult{}, ErrAccountLocked
	}

	// 4. password verification
	if !utils.VerifyPassword(user.PasswordHash, req.Password) {
		return LoginResult{}, s.credentialFailure(ev, &uid, email)
	}

	// 5. issuance
	claims := token.ClaimsFor(user)
	access, err := s.tokens.IssueAccessToken(claims)
	if err != nil {
		metrics.LoginTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return LoginResult{}, err
	}
	refresh, err := s.tokens.IssueRefreshToken(claims)
	if err != nil {
		metrics.LoginTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return LoginResult{}, err
	}
	if err := s.store.Store(ctx, user.ID, refresh.Token); err != nil {
		metrics.LoginTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return LoginResult{}, err
	}
	ev(model.ActionLoginSuccess, &uid, map[string]any{"email": email, "access_jti": access.ID})
	metrics.LoginTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()

	return LoginResult{
		User: UserSummary{
			ID:         user.ID,
			Email:      user.Email,
			Role:       user.Role,
			IsVerified: user.IsVerified,
		},
		Access:  access,
		Refresh: refresh,
	}, nil
}

func (s *AuthService) credentialFailure(ev func(model.SecurityAction, *uint64, map[string]any), userID *uint64, email string) error {
	ev(model.ActionLoginFailure, userID, map[string]any{"email": email, "reason": "invalid_credentials"})
	metrics.LoginTotal.WithLabelValues(metrics.OutcomeInvalidCredentials).Inc()
	return ErrInvalidCredentials
}

// RefreshAccessToken issues a new access token for a refresh token that
// both verifies and is still in the store. Claims come from the current
// user record. The refresh token itself is not rotated.
func (s *AuthService) RefreshAccessToken(ctx context.Context, refreshToken string, meta Meta) (AccessResult, error) {
	fail := func(userID *uint64, reason string) {
		s.events.Record(ctx, model.SecurityEvent{
			UserID:    userID,
			IPAddress: meta.ClientIP,
			UserAgent: meta.UserAgent,
			Action:    model.ActionTokenRefreshFailure,
			Details:   map[string]any{"reason": reason},
		})
		metrics.RefreshTotal.WithLabelValues(metrics.OutcomeInvalidToken).Inc()
	}

	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		fail(nil, "verification_failed")
		return AccessResult{}, ErrInvalidToken
	}
	uid := claims.UserID

	ok, err := s.store.Validate(ctx, refreshToken)
	if err != nil {
		metrics.RefreshTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return AccessResult{}, err
	}
	if !ok {
		fail(&uid, "not_in_store")
		return AccessResult{}, ErrInvalidToken
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if errors.Is(err, repository.ErrUserNotFound) {
		fail(&uid, "user_not_found")
		return AccessResult{}, ErrInvalidToken
	}
	if err != nil {
		metrics.RefreshTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return AccessResult{}, err
	}

	current := token.ClaimsFor(user)
	access, err := s.tokens.IssueAccessToken(current)
	if err != nil {
		metrics.RefreshTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return AccessResult{}, err
	}
	s.events.Record(ctx, model.SecurityEvent{
		UserID:    &uid,
		IPAddress: meta.ClientIP,
		UserAgent: meta.UserAgent,
		Action:    model.ActionTokenRefresh,
		Details:   map[string]any{"access_jti": access.ID},
	})
	metrics.RefreshTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	return AccessResult{Access: access, Claims: current}, nil
}

// Logout removes the refresh token. It is idempotent: an unknown or
// already removed token is not an error.
func (s *AuthService) Logout(ctx context.Context, refreshToken string, meta Meta) error {
	if err := s.store.Remove(ctx, refreshToken); err != nil {
		return err
	}
	var userID *uint64
	if claims, err := s.tokens.VerifyRefreshToken(refreshToken); err == nil {
		uid := claims.UserID
		userID = &uid
	}
	s.events.Record(ctx, model.SecurityEvent{
		UserID:    userID,
		IPAddress: meta.ClientIP,
		UserAgent: meta.UserAgent,
		Action:    model.ActionLogout,
		Details:   map[string]any{"scope": "session"},
	})
	return nil
}

// LogoutAll removes every refresh token of userID. Access tokens already
// issued stay valid until they expire.
func (s *AuthService) LogoutAll(ctx context.Context, userID uint64, meta Meta) error {
	if err := s.store.RemoveAllForUser(ctx, userID); err != nil {
		return err
	}
	s.events.Record(ctx, model.SecurityEvent{
		UserID:    &userID,
		IPAddress: meta.ClientIP,
		UserAgent: meta.UserAgent,
		Action:    model.ActionLogout,
		Details:   map[string]any{"scope": "all"},
	})
	return nil
}

// Profile returns the current record of userID. A user that no longer
// exists yields ErrInvalidToken: the caller's token names nobody.
func (s *AuthService) Profile(ctx context.Context, userID uint64) (model.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return model.User{}, ErrInvalidToken
	}
	return u, err
}

// MarkVerified sets the verified flag of userID.
func (s *AuthService) MarkVerified(ctx context.Context, userID uint64) error {
	return s.users.SetVerified(ctx, userID, true)
}

// fallbackDummyHash is a well-formed cost-12 hash used if a fresh one cannot
// be generated. Comparing against it costs the same as a real account.
const fallbackDummyHash = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"

var (
	dummyOnce sync.Once
	dummy     string
)

// dummyHash is compared against when the email is unknown so both failure
// paths cost one bcrypt comparison.
func dummyHash() string {
	dummyOnce.Do(func() {
		dummy = buildDummyHash(utils.GenerateSecureToken, utils.HashPassword)
	})
	return dummy
}

func buildDummyHash(seed func() (string, error), hash func(string) (string, error)) string {
	s, err := seed()
	if err != nil {
		s = "sessionguard-dummy-password"
	}
	h, err := hash(s)
	if err != nil || h == "" {
		return fallbackDummyHash
	}
	return h
}
