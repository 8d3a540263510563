package config

import "time"

// RateLimitConfig configures the general API throttle. Login attempts have
// their own fixed limit (Config.LoginMaxAttempts) and are not affected.
type RateLimitConfig struct {
	Enabled     bool
	MaxRequests int           // per key per window
	Window      time.Duration // fixed window length
	KeyStrategy string        // ip | user | route | ip_route | user_route | ip_user_route
	Prefix      string
	Debug       bool // expose X-RateLimit-* headers
}

func parseRateLimit(p *parser) RateLimitConfig {
	rl := RateLimitConfig{
		Enabled:     p.boolean("RATE_LIMIT_ENABLED", true),
		MaxRequests: p.positiveInt("RATE_LIMIT_MAX_REQUESTS", 60),
		Window:      p.duration("RATE_LIMIT_WINDOW", time.Minute),
		KeyStrategy: p.str("RATE_LIMIT_KEY_STRATEGY", "ip_user_route"),
		Prefix:      p.str("RATE_LIMIT_PREFIX", "rl"),
		Debug:       p.boolean("RATE_LIMIT_DEBUG", false),
	}
	switch rl.KeyStrategy {
	case "ip", "user", "route", "ip_route", "user_route", "ip_user_route":
	default:
		p.fail("unknown RATE_LIMIT_KEY_STRATEGY: " + rl.KeyStrategy)
	}
	return rl
}
