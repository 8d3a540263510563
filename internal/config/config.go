// Package config loads application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Lookup reads one variable; os.LookupEnv is the production source.
type Lookup func(key string) (string, bool)

// Refresh token store backends.
const (
	StoreMySQL = "mysql"
	StoreRedis = "redis"
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable.
type Config struct {
	Env        string // application environment (e.g. "dev", "prod")
	Port       string // HTTP port to listen on
	TrustProxy bool   // take the client address from X-Forwarded-For

	DBUser string
	DBPass string // optional
	DBHost string
	DBPort string
	DBName string

	AccessSecret  string // signs access tokens
	RefreshSecret string // signs refresh tokens; must differ from AccessSecret
	EncryptionKey string // field encryption key (64 hex chars or a passphrase)

	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	AccessCookie string // cookie consulted when no Authorization header is sent

	LoginMaxAttempts int           // per client IP
	LoginWindow      time.Duration // fixed window for LoginMaxAttempts

	RefreshStore string // StoreMySQL or StoreRedis
	Redis        RedisConfig
	RateLimit    RateLimitConfig
	Events       EventsConfig

	LogLevel string
}

// EventsConfig controls where security events go besides the database and
// the process log.
type EventsConfig struct {
	AMQPURL         string // empty disables the broker sink
	Queue           string
	ConsumerEnabled bool   // run the security.log consumer in-process
	LogDir          string // directory of security.log
}

// Load reads an optional .env file, then the environment. Missing or invalid
// values cause the program to exit with a fatal log message.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.Fatalf("read .env: %v", err)
	}
	cfg, err := Parse(os.LookupEnv)
	if err != nil {
		logrus.Fatalf("invalid configuration: %v", err)
	}
	return cfg
}

// Parse builds a Config from lookup. Every problem is reported, not only
// the first.
func Parse(lookup Lookup) (Config, error) {
	p := parser{lookup: lookup}
	cfg := Config{
		Env:        p.must("APP_ENV"),
		Port:       p.must("APP_PORT"),
		TrustProxy: p.boolean("TRUST_PROXY", false),
		DBUser:     p.must("DB_USER"),
		DBPass:     p.str("DB_PASS", ""),
		DBHost:     p.must("DB_HOST"),
		DBPort:     p.must("DB_PORT"),
		DBName:     p.must("DB_NAME"),

		AccessSecret:  p.must("ACCESS_TOKEN_SECRET"),
		RefreshSecret: p.must("REFRESH_TOKEN_SECRET"),
		EncryptionKey: p.must("ENCRYPTION_KEY"),

		AccessTTL:    time.Duration(p.positiveInt("ACCESS_TOKEN_TTL_MIN", 15)) * time.Minute,
		RefreshTTL:   time.Duration(p.positiveInt("REFRESH_TOKEN_TTL_DAYS", 7)) * 24 * time.Hour,
		AccessCookie: p.str("ACCESS_COOKIE_NAME", "access_token"),

		LoginMaxAttempts: p.positiveInt("LOGIN_MAX_ATTEMPTS", 5),
		LoginWindow:      p.duration("LOGIN_WINDOW", 15*time.Minute),

		RefreshStore: strings.ToLower(p.str("REFRESH_STORE", StoreMySQL)),
		Redis:        parseRedis(&p),
		RateLimit:    parseRateLimit(&p),
		Events: EventsConfig{
			AMQPURL:         p.str("SECURITY_EVENTS_AMQP_URL", ""),
			Queue:           p.str("SECURITY_EVENTS_QUEUE", "security.events"),
			ConsumerEnabled: p.boolean("SECURITY_EVENTS_CONSUMER", false),
			LogDir:          p.str("SECURITY_EVENTS_LOG_DIR", "logs"),
		},
		LogLevel: p.str("LOG_LEVEL", "info"),
	}

	if cfg.AccessSecret != "" && cfg.AccessSecret == cfg.RefreshSecret {
		p.fail("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}
	if cfg.RefreshStore != StoreMySQL && cfg.RefreshStore != StoreRedis {
		p.fail(fmt.Sprintf("REFRESH_STORE must be %q or %q, got %q", StoreMySQL, StoreRedis, cfg.RefreshStore))
	}
	if cfg.Events.ConsumerEnabled && cfg.Events.AMQPURL == "" {
		p.fail("SECURITY_EVENTS_CONSUMER requires SECURITY_EVENTS_AMQP_URL")
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		p.fail(err.Error())
	}
	return cfg, errors.Join(p.errs...)
}

// IsProd reports whether the process runs in production.
func (c Config) IsProd() bool {
	return strings.EqualFold(c.Env, "prod") || strings.EqualFold(c.Env, "production")
}

type parser struct {
	lookup Lookup
	errs   []error
}

func (p *parser) fail(msg string) { p.errs = append(p.errs, errors.New(msg)) }

func (p *parser) get(key string) string {
	v, ok := p.lookup(key)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// must retrieves a required variable and records an error when it is unset
// or empty.
func (p *parser) must(key string) string {
	v := p.get(key)
	if v == "" {
		p.fail("missing required env var: " + key)
	}
	return v
}

func (p *parser) str(key, def string) string {
	if v := p.get(key); v != "" {
		return v
	}
	return def
}

func (p *parser) positiveInt(key string, def int) int { return p.intAtLeast(key, def, 1) }

func (p *parser) nonNegativeInt(key string, def int) int { return p.intAtLeast(key, def, 0) }

func (p *parser) intAtLeast(key string, def, floor int) int {
	v := p.get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < floor {
		p.fail(fmt.Sprintf("invalid int for %s: %q", key, v))
		return def
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := p.get(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		p.fail(fmt.Sprintf("invalid duration for %s: %q", key, v))
		return def
	}
	return d
}

func (p *parser) boolean(key string, def bool) bool {
	switch strings.ToLower(p.get(key)) {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		p.fail(fmt.Sprintf("invalid bool for %s: %q", key, p.get(key)))
		return def
	}
}
