package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/sessionguard/internal/config"
	"github.com/iliyamo/sessionguard/internal/model"
	"github.com/iliyamo/sessionguard/internal/permission"
	"github.com/iliyamo/sessionguard/internal/ratelimit"
	"github.com/iliyamo/sessionguard/internal/repository"
	"github.com/iliyamo/sessionguard/internal/token"
)

type captureRecorder struct {
	mu     sync.Mutex
	events []model.SecurityEvent
}

func (c *captureRecorder) Record(_ context.Context, ev model.SecurityEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func newTokens(t *testing.T) *token.Service {
	t.Helper()
	svc, err := token.NewService("guard-access-secret", "guard-refresh-secret")
	require.NoError(t, err)
	return svc
}

func issue(t *testing.T, svc *token.Service, role model.Role) string {
	t.Helper()
	iss, err := svc.IssueAccessToken(token.Claims{UserID: 7, Email: "u@example.org", Role: role})
	require.NoError(t, err)
	return iss.Token
}

// serve runs one request through Guard and reports whether the handler ran.
func serve(t *testing.T, mw echo.MiddlewareFunc, req *http.Request) (*httptest.ResponseRecorder, *token.Claims) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/v1/test")

	var seen *token.Claims
	h := mw(func(c echo.Context) error {
		claims, ok := ClaimsFrom(c)
		require.True(t, ok)
		fromCtx, ok := ClaimsFromContext(c.Request().Context())
		require.True(t, ok)
		assert.Equal(t, claims, fromCtx)
		seen = &claims
		return c.NoContent(http.StatusOK)
	})
	require.NoError(t, h(c))
	return rec, seen
}

func TestGuardMissingToken(t *testing.T) {
	cfg := GuardConfig{Tokens: newTokens(t), CookieName: "access_token"}
	rec, seen := serve(t, Guard(cfg), httptest.NewRequest(http.MethodGet, "/v1/test", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"unauthenticated"}`, rec.Body.String())
	assert.Nil(t, seen)
}

func TestGuardBearerToken(t *testing.T) {
	svc := newTokens(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/test", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+issue(t, svc, model.RoleVolunteer))

	rec, seen := serve(t, Guard(GuardConfig{Tokens: svc}), req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, uint64(7), seen.UserID)
	assert.Equal(t, model.RoleVolunteer, seen.Role)
}

func TestGuardCookieFallbackAndPrecedence(t *testing.T) {
	svc := newTokens(t)
	cfg := GuardConfig{Tokens: svc, CookieName: "access_token"}

	req := httptest.NewRequest(http.MethodGet, "/v1/test", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: issue(t, svc, model.RoleSponsor)})
	rec, seen := serve(t, Guard(cfg), req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, model.RoleSponsor, seen.Role)

	req = httptest.NewRequest(http.MethodGet, "/v1/test", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+issue(t, svc, model.RoleAdmin))
	req.AddCookie(&http.Cookie{Name: "access_token", Value: issue(t, svc, model.RoleSponsor)})
	_, seen = serve(t, Guard(cfg), req)
	require.NotNil(t, seen)
	assert.Equal(t, model.RoleAdmin, seen.Role, "the header wins over the cookie")
}

func TestGuardRejectsInvalidTokens(t *testing.T) {
	svc := newTokens(t)
	other, err := token.NewService("someone-else", "someone-else-refresh")
	require.NoError(t, err)
	refresh, err := svc.IssueRefreshToken(token.Claims{UserID: 7, Email: "u@example.org", Role: model.RoleAdmin})
	require.NoError(t, err)

	cases := map[string]string{
		"garbage":        "Bearer abc.def.ghi",
		"foreign secret": "Bearer " + issue(t, other, model.RoleAdmin),
		"refresh token":  "Bearer " + refresh.Token,
		"not bearer":     "Basic dXNlcjpwYXNz",
		"empty bearer":   "Bearer ",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/test", nil)
			req.Header.Set(echo.HeaderAuthorization, header)
			req.AddCookie(&http.Cookie{Name: "access_token", Value: issue(t, svc, model.RoleAdmin)})
			rec, seen := serve(t, Guard(GuardConfig{Tokens: svc, CookieName: "access_token"}), req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Nil(t, seen)
		})
	}
}

func TestGuardIgnoresIdentityHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/test", nil)
	req.Header.Set("X-User-Id", "1")
	req.Header.Set("X-Role", "ADMIN")
	rec, _ := serve(t, Guard(GuardConfig{Tokens: newTokens(t)}), req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGuardForbiddenRecordsDenial(t *testing.T) {
	svc := newTokens(t)
	events := &captureRecorder{}
	req := httptest.NewRequest(http.MethodGet, "/v1/test", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+issue(t, svc, model.RoleVolunteer))

	rec, seen := serve(t, Guard(GuardConfig{Tokens: svc, Recorder: events}, model.RoleAdmin), req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"forbidden"}`, rec.Body.String())
	assert.Nil(t, seen)
	require.Len(t, events.events, 1)
	assert.Equal(t, model.ActionAccessDenied, events.events[0].Action)
	assert.Equal(t, uint64(7), *events.events[0].UserID)
}

func TestGuardAdminAccessIsRecorded(t *testing.T) {
	svc := newTokens(t)
	events := &captureRecorder{}
	req := httptest.NewRequest(http.MethodGet, "/v1/test", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+issue(t, svc, model.RoleAdmin))

	rec, seen := serve(t, Guard(GuardConfig{Tokens: svc, Recorder: events}, model.RoleAdmin), req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	require.Len(t, events.events, 1)
	assert.Equal(t, model.ActionAdminAccess, events.events[0].Action)
	assert.Equal(t, "/v1/test", events.events[0].Details["path"])

	events.events = nil
	req = httptest.NewRequest(http.MethodGet, "/v1/test", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+issue(t, svc, model.RoleAdmin))
	serve(t, Guard(GuardConfig{Tokens: svc, Recorder: events}), req)
	assert.Empty(t, events.events, "routes open to every role are not admin access")
}

func TestRequirePermission(t *testing.T) {
	svc := newTokens(t)
	e := echo.New()

	run := func(role model.Role, perms ...string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/blog", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+issue(t, svc, role))
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		h := Guard(GuardConfig{Tokens: svc})(RequirePermission(GuardConfig{}, perms...)(func(c echo.Context) error {
			return c.NoContent(http.StatusNoContent)
		}))
		require.NoError(t, h(c))
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, run(model.RoleVolunteer, permission.Key(permission.ResourceBlog, permission.ActionWrite)))
	assert.Equal(t, http.StatusForbidden, run(model.RoleVolunteer, "campaigns:write"))
	assert.Equal(t, http.StatusNoContent, run(model.RoleAdmin, "campaigns:write", "users:delete"))
	assert.Equal(t, http.StatusForbidden, run(model.RoleSponsor, "donations:read", "blog:write"))

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	require.NoError(t, RequirePermission(GuardConfig{}, "blog:read")(func(echo.Context) error { return nil })(c))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type stubUsers map[uint64]model.User

func (s stubUsers) GetByID(_ context.Context, id uint64) (model.User, error) {
	if id == 99 {
		return model.User{}, errors.New("connection refused")
	}
	u, ok := s[id]
	if !ok {
		return model.User{}, repository.ErrUserNotFound
	}
	return u, nil
}

func TestRequirePermissionUsesCurrentUserRecord(t *testing.T) {
	svc := newTokens(t)
	events := &captureRecorder{}
	users := stubUsers{
		7:  {ID: 7, Role: model.RoleVolunteer, Permissions: []string{"security_events:read", "blog:*"}},
		8:  {ID: 8, Role: model.RoleVolunteer},
		10: {ID: 10, Role: model.RoleVolunteer}, // was ADMIN when the token was issued
	}
	cfg := GuardConfig{Tokens: svc, Recorder: events, Users: users}
	e := echo.New()

	run := func(id uint64, role model.Role, perm string) int {
		iss, err := svc.IssueAccessToken(token.Claims{UserID: id, Email: "u@example.org", Role: role})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/v1/security/events", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+iss.Token)
		rec := httptest.NewRecorder()
		h := Guard(cfg)(RequirePermission(cfg, perm)(func(c echo.Context) error {
			return c.NoContent(http.StatusNoContent)
		}))
		require.NoError(t, h(e.NewContext(req, rec)))
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, run(7, model.RoleVolunteer, "security_events:read"), "override grants")
	assert.Equal(t, http.StatusNoContent, run(7, model.RoleVolunteer, "blog:delete"), "override wildcard")
	assert.Equal(t, http.StatusForbidden, run(7, model.RoleVolunteer, "gallery:read"), "override replaces defaults")
	assert.Equal(t, http.StatusForbidden, run(8, model.RoleVolunteer, "security_events:read"))
	assert.Equal(t, http.StatusNoContent, run(8, model.RoleVolunteer, "gallery:write"))
	assert.Equal(t, http.StatusForbidden, run(10, model.RoleAdmin, "users:delete"), "demotion applies at once")
	assert.Equal(t, http.StatusUnauthorized, run(404, model.RoleVolunteer, "blog:read"))
	assert.Equal(t, http.StatusInternalServerError, run(99, model.RoleVolunteer, "blog:read"))

	events.mu.Lock()
	defer events.mu.Unlock()
	require.Len(t, events.events, 3)
	assert.Equal(t, model.ActionAccessDenied, events.events[2].Action)
	assert.Equal(t, "VOLUNTEER", events.events[2].Details["role"])
}

func TestThrottle(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: true, MaxRequests: 2, Window: time.Minute, KeyStrategy: "ip", Prefix: "rl"}
	mw := Throttle(cfg, ratelimit.NewFixedWindow())
	e := echo.New()
	h := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	call := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
		req.RemoteAddr = ip + ":5555"
		rec := httptest.NewRecorder()
		require.NoError(t, h(e.NewContext(req, rec)))
		return rec
	}

	assert.Equal(t, http.StatusOK, call("192.0.2.1").Code)
	second := call("192.0.2.1")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

	third := call("192.0.2.1")
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.NotEmpty(t, third.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, call("192.0.2.2").Code)
}

func TestThrottleRetryAfterFollowsLimiterClock(t *testing.T) {
	now := time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewFixedWindow(ratelimit.WithClock(func() time.Time { return now }))
	cfg := config.RateLimitConfig{Enabled: true, MaxRequests: 1, Window: time.Minute, KeyStrategy: "ip", Prefix: "rl"}
	h := Throttle(cfg, limiter)(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e := echo.New()

	call := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
		req.RemoteAddr = "192.0.2.9:5555"
		rec := httptest.NewRecorder()
		require.NoError(t, h(e.NewContext(req, rec)))
		return rec
	}

	require.Equal(t, http.StatusOK, call().Code)
	now = now.Add(20 * time.Second)
	rec := call()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "40", rec.Header().Get("Retry-After"))
}

func TestThrottleDisabled(t *testing.T) {
	mw := Throttle(config.RateLimitConfig{Enabled: false}, ratelimit.NewFixedWindow())
	e := echo.New()
	h := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		require.NoError(t, h(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.RemoteAddr = "198.51.100.3:1234"
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/me")

	assert.Equal(t, "rl:ip:198.51.100.3:user:anon:route:GET /v1/me",
		buildRateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: "ip_user_route"}, c))

	c.Set(claimsKey, token.Claims{UserID: 42, Role: model.RoleSponsor})
	assert.Equal(t, "rl:user:42", buildRateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: "user"}, c))
}
