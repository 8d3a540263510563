package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/sessionguard/internal/metrics"
	"github.com/iliyamo/sessionguard/internal/model"
	"github.com/iliyamo/sessionguard/internal/permission"
	"github.com/iliyamo/sessionguard/internal/repository"
)

// RequirePermission must run after Guard. It answers 403 unless the caller
// holds every listed permission. With cfg.Users set the check runs against
// the current user record, so per-user overrides and role changes apply
// before the access token expires. Without claims, or when the user no
// longer exists, it answers 401.
func RequirePermission(cfg GuardConfig, perms ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, ok := ClaimsFrom(c)
			if !ok {
				metrics.GuardRejections.WithLabelValues(metrics.ReasonUnauthenticated).Inc()
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
			}

			var subject permission.Subject = claims
			if cfg.Users != nil {
				u, err := cfg.Users.GetByID(c.Request().Context(), claims.UserID)
				switch {
				case errors.Is(err, repository.ErrUserNotFound):
					metrics.GuardRejections.WithLabelValues(metrics.ReasonInvalidToken).Inc()
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
				case err != nil:
					c.Logger().Errorf("permission lookup for user %d: %v", claims.UserID, err)
					return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
				}
				subject = u
			}

			if !permission.HasAll(subject, perms...) {
				metrics.GuardRejections.WithLabelValues(metrics.ReasonForbidden).Inc()
				record(c, cfg.Recorder, claims, model.ActionAccessDenied, map[string]any{
					"required_permissions": perms,
					"role":                 string(subject.PermissionRole()),
				})
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}
