package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/sessionguard/internal/metrics"
	"github.com/iliyamo/sessionguard/internal/model"
	"github.com/iliyamo/sessionguard/internal/token"
)

// claimsKey is the echo context key holding verified claims. Only Guard
// writes it.
const claimsKey = "sessionguard.claims"

type claimsCtxKey struct{}

// AccessVerifier verifies access tokens; *token.Service implements it.
type AccessVerifier interface {
	VerifyAccessToken(raw string) (token.Claims, error)
}

// Recorder receives security events.
type Recorder interface {
	Record(ctx context.Context, ev model.SecurityEvent)
}

// UserLookup loads the current user record; *repository.UserRepo
// implements it.
type UserLookup interface {
	GetByID(ctx context.Context, id uint64) (model.User, error)
}

// GuardConfig configures Guard and RequirePermission.
type GuardConfig struct {
	Tokens     AccessVerifier
	CookieName string // consulted when no Authorization header is sent
	Recorder   Recorder
	Users      UserLookup // source of per-user permission overrides
}

// Guard authenticates the request with an access token taken from the
// Authorization: Bearer header or, failing that, from the configured cookie.
// A missing or unverifiable token is answered with 401. When roles are given
// the caller's role must be one of them, otherwise 403. Verified claims are
// attached to the echo context and to the request context; nothing the
// client sends can populate them directly.
func Guard(cfg GuardConfig, roles ...model.Role) echo.MiddlewareFunc {
	allowed := make(map[model.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	required := make([]string, len(roles))
	for i, r := range roles {
		required[i] = string(r)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := extractToken(c, cfg.CookieName)
			if raw == "" {
				metrics.GuardRejections.WithLabelValues(metrics.ReasonUnauthenticated).Inc()
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
			}
			claims, err := cfg.Tokens.VerifyAccessToken(raw)
			if err != nil {
				metrics.GuardRejections.WithLabelValues(metrics.ReasonInvalidToken).Inc()
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
			}

			if len(allowed) > 0 && !allowed[claims.Role] {
				metrics.GuardRejections.WithLabelValues(metrics.ReasonForbidden).Inc()
				record(c, cfg.Recorder, claims, model.ActionAccessDenied, map[string]any{
					"required_roles": required,
					"role":           string(claims.Role),
				})
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			if claims.Role == model.RoleAdmin && allowed[model.RoleAdmin] {
				record(c, cfg.Recorder, claims, model.ActionAdminAccess, nil)
			}

			c.Set(claimsKey, claims)
			req := c.Request()
			c.SetRequest(req.WithContext(ContextWithClaims(req.Context(), claims)))
			return next(c)
		}
	}
}

// extractToken prefers the bearer header. A malformed Authorization header
// does not fall through to the cookie.
func extractToken(c echo.Context, cookieName string) string {
	if auth := c.Request().Header.Get(echo.HeaderAuthorization); auth != "" {
		const prefix = "bearer "
		if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
			return strings.TrimSpace(auth[len(prefix):])
		}
		return ""
	}
	if cookieName == "" {
		return ""
	}
	ck, err := c.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(ck.Value)
}

func record(c echo.Context, rec Recorder, claims token.Claims, action model.SecurityAction, details map[string]any) {
	if rec == nil {
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	details["method"] = c.Request().Method
	details["path"] = c.Request().URL.Path
	uid := claims.UserID
	rec.Record(c.Request().Context(), model.SecurityEvent{
		UserID:    &uid,
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
		Action:    action,
		Details:   details,
	})
}

// ClaimsFrom returns the claims Guard attached to c.
func ClaimsFrom(c echo.Context) (token.Claims, bool) {
	claims, ok := c.Get(claimsKey).(token.Claims)
	return claims, ok
}

// ContextWithClaims returns a copy of ctx carrying claims.
func ContextWithClaims(ctx context.Context, claims token.Claims) context.Context {
	return context.WithValue(ctx, claimsCtxKey{}, claims)
}

// ClaimsFromContext returns claims attached by Guard to a request context.
func ClaimsFromContext(ctx context.Context) (token.Claims, bool) {
	claims, ok := ctx.Value(claimsCtxKey{}).(token.Claims)
	return claims, ok
}
