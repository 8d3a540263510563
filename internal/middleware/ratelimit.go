package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/sessionguard/internal/config"
	"github.com/iliyamo/sessionguard/internal/metrics"
	"github.com/iliyamo/sessionguard/internal/ratelimit"
)

// windowReporter is implemented by limiters that can report their state,
// such as ratelimit.FixedWindow.
type windowReporter interface {
	Remaining(key string, maxAttempts int) int
	RetryAfter(key string) time.Duration
}

// Throttle limits general API traffic with a fixed window per key. The key
// is built from the client IP, user and route according to
// cfg.KeyStrategy. Login attempts are limited separately by the auth
// service.
func Throttle(cfg config.RateLimitConfig, limiter ratelimit.Limiter) echo.MiddlewareFunc {
	if !cfg.Enabled || limiter == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	reporter, _ := limiter.(windowReporter)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := buildRateKey(cfg, c)
			allowed := limiter.Allow(key, cfg.MaxRequests, cfg.Window)

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.MaxRequests))
			if reporter != nil {
				h.Set("X-RateLimit-Remaining", strconv.Itoa(reporter.Remaining(key, cfg.MaxRequests)))
			}
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}

			if !allowed {
				secs := int(math.Ceil(cfg.Window.Seconds()))
				if reporter != nil {
					secs = int(math.Ceil(reporter.RetryAfter(key).Seconds()))
				}
				if secs < 0 {
					secs = 0
				}
				h.Set("Retry-After", strconv.Itoa(secs))
				metrics.GuardRejections.WithLabelValues(metrics.ReasonThrottled).Inc()
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":       "too_many_requests",
					"retry_after": secs,
				})
			}
			return next(c)
		}
	}
}

func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	parts := []string{cfg.Prefix}
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	uid := userID(c)
	route := c.Request().Method + " " + c.Path()

	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip":
		parts = append(parts, "ip", ip)
	case "user":
		parts = append(parts, "user", uid)
	case "route":
		parts = append(parts, "route", route)
	case "ip_route":
		parts = append(parts, "ip", ip, "route", route)
	case "user_route":
		parts = append(parts, "user", uid, "route", route)
	default:
		parts = append(parts, "ip", ip, "user", uid, "route", route)
	}
	return strings.Join(parts, ":")
}
