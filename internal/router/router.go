// Package router registers the HTTP routes of the API.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/sessionguard/internal/handler"
	"github.com/iliyamo/sessionguard/internal/metrics"
	"github.com/iliyamo/sessionguard/internal/middleware"
	"github.com/iliyamo/sessionguard/internal/model"
	"github.com/iliyamo/sessionguard/internal/permission"
)

// Deps carries what the routes need.
type Deps struct {
	Auth     *handler.AuthHandler
	Security *handler.SecurityHandler
	Guard    middleware.GuardConfig
	Throttle echo.MiddlewareFunc // optional API throttle for authenticated routes
	Ready    map[string]handler.Pinger
}

// RegisterRoutes registers routes that do not require authentication:
// liveness, readiness and metrics.
func RegisterRoutes(e *echo.Echo, ready map[string]handler.Pinger) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(ready))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
}

// RegisterAuth registers the session endpoints. Login, refresh and logout
// live under /v1/auth and need no access token; the login limit is applied
// by the auth service per client address. Everything else under /v1
// passes the guard; the security event listing also needs
// security_events:read, which admins hold and other roles can be granted.
func RegisterAuth(e *echo.Echo, d Deps) {
	g := e.Group("/v1/auth")
	g.POST("/login", d.Auth.Login)
	g.POST("/refresh-access", d.Auth.RefreshAccess)
	g.POST("/logout", d.Auth.Logout)

	authed := e.Group("/v1", middleware.Guard(d.Guard))
	if d.Throttle != nil {
		authed.Use(d.Throttle)
	}
	authed.GET("/me", d.Auth.Me)
	authed.POST("/auth/logout-all", d.Auth.LogoutAll)
	authed.GET("/security/events", d.Security.ListEvents,
		middleware.RequirePermission(d.Guard, permission.Key(permission.ResourceSecurityEvents, permission.ActionRead)))
}

// RegisterAdmin registers the admin-only security endpoints. The event
// listing is not among them: it is granted by permission, see RegisterAuth.
func RegisterAdmin(e *echo.Echo, d Deps) {
	admin := e.Group("/v1/admin", middleware.Guard(d.Guard, model.RoleAdmin))
	if d.Throttle != nil {
		admin.Use(d.Throttle)
	}
	admin.GET("/security/ping", d.Security.Ping)
}

// Register wires every route group.
func Register(e *echo.Echo, d Deps) {
	RegisterRoutes(e, d.Ready)
	RegisterAuth(e, d)
	RegisterAdmin(e, d)
}
