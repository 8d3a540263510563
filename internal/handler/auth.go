package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/sessionguard/internal/middleware"
	"github.com/iliyamo/sessionguard/internal/model"
	"github.com/iliyamo/sessionguard/internal/permission"
	"github.com/iliyamo/sessionguard/internal/service"
)

const requestTimeout = 5 * time.Second

// AuthAPI is the part of service.AuthService the handlers call.
type AuthAPI interface {
	Login(ctx context.Context, req service.LoginRequest) (service.LoginResult, error)
	RefreshAccessToken(ctx context.Context, refreshToken string, meta service.Meta) (service.AccessResult, error)
	Logout(ctx context.Context, refreshToken string, meta service.Meta) error
	LogoutAll(ctx context.Context, userID uint64, meta service.Meta) error
	Profile(ctx context.Context, userID uint64) (model.User, error)
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Auth         AuthAPI
	CookieName   string // access cookie set on login; empty disables it
	SecureCookie bool
	Log          *logrus.Logger
}

func NewAuthHandler(auth AuthAPI, cookieName string, secure bool, log *logrus.Logger) *AuthHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AuthHandler{Auth: auth, CookieName: cookieName, SecureCookie: secure, Log: log}
}

// ----- DTOs -----

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type authResp struct {
	User    service.UserSummary `json:"user"`
	Access  tokenPart           `json:"access"`
	Refresh tokenPart           `json:"refresh"`
}
type accessResp struct {
	Access tokenPart `json:"access"`
}

// Login verifies credentials and returns a token pair. The access token is
// also set as an HttpOnly cookie when a cookie name is configured.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	res, err := h.Auth.Login(ctx, service.LoginRequest{
		Email:     req.Email,
		Password:  req.Password,
		ClientIP:  c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	})
	if err != nil {
		return h.fail(c, "login", err)
	}

	h.setAccessCookie(c, res.Access.Token, res.Access.ExpiresAt)
	return c.JSON(http.StatusOK, authResp{
		User:    res.User,
		Access:  tokenPart{Token: res.Access.Token, Expires: res.Access.ExpiresAt},
		Refresh: tokenPart{Token: res.Refresh.Token, Expires: res.Refresh.ExpiresAt},
	})
}

// RefreshAccess issues a new access token for a stored refresh token. The
// refresh token is not rotated.
func (h *AuthHandler) RefreshAccess(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	res, err := h.Auth.RefreshAccessToken(ctx, req.RefreshToken, meta(c))
	if err != nil {
		return h.fail(c, "refresh", err)
	}
	h.setAccessCookie(c, res.Access.Token, res.Access.ExpiresAt)
	return c.JSON(http.StatusOK, accessResp{Access: tokenPart{Token: res.Access.Token, Expires: res.Access.ExpiresAt}})
}

// Logout revokes the refresh token in the body and clears the access
// cookie. Unknown tokens are accepted.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	if err := h.Auth.Logout(ctx, req.RefreshToken, meta(c)); err != nil {
		return h.fail(c, "logout", err)
	}
	h.clearAccessCookie(c)
	return c.NoContent(http.StatusNoContent)
}

// LogoutAll revokes every refresh token of the authenticated user.
func (h *AuthHandler) LogoutAll(c echo.Context) error {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	if err := h.Auth.LogoutAll(ctx, claims.UserID, meta(c)); err != nil {
		return h.fail(c, "logout all", err)
	}
	h.clearAccessCookie(c)
	return c.NoContent(http.StatusNoContent)
}

// Me returns the authenticated user's current profile and effective
// permissions, including any per-user overrides.
func (h *AuthHandler) Me(c echo.Context) error {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	u, err := h.Auth.Profile(ctx, claims.UserID)
	if err != nil {
		return h.fail(c, "me", err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"id":          u.ID,
		"email":       u.Email,
		"role":        u.Role,
		"is_verified": u.IsVerified,
		"permissions": permission.Effective(u),
	})
}

// fail maps service errors to responses. Credential failures share one
// body whatever their cause.
func (h *AuthHandler) fail(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, service.ErrTooManyAttempts):
		return c.JSON(http.StatusTooManyRequests, echo.Map{"error": service.ErrTooManyAttempts.Error()})
	case errors.Is(err, service.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": service.ErrInvalidCredentials.Error()})
	case errors.Is(err, service.ErrAccountLocked):
		return c.JSON(http.StatusLocked, echo.Map{"error": service.ErrAccountLocked.Error()})
	case errors.Is(err, service.ErrInvalidToken):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
	case errors.Is(err, context.DeadlineExceeded):
		return c.JSON(http.StatusGatewayTimeout, echo.Map{"error": "timeout"})
	}
	h.Log.WithError(err).WithField("op", op).Error("auth request failed")
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

func (h *AuthHandler) setAccessCookie(c echo.Context, value string, expires time.Time) {
	if h.CookieName == "" {
		return
	}
	c.SetCookie(&http.Cookie{
		Name:     h.CookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.SecureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearAccessCookie(c echo.Context) {
	if h.CookieName == "" {
		return
	}
	c.SetCookie(&http.Cookie{
		Name:     h.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.SecureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

func meta(c echo.Context) service.Meta {
	return service.Meta{ClientIP: c.RealIP(), UserAgent: c.Request().UserAgent()}
}
