package config

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig describes the Redis server used when REFRESH_STORE=redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TLS      bool
	Prefix   string // key prefix for refresh token entries
}

// REDIS_HOST and REDIS_PORT take precedence over REDIS_ADDR.
func parseRedis(p *parser) RedisConfig {
	addr := p.str("REDIS_ADDR", "localhost:6379")
	if host, port := p.get("REDIS_HOST"), p.get("REDIS_PORT"); host != "" && port != "" {
		addr = host + ":" + port
	}
	return RedisConfig{
		Addr:     addr,
		Password: p.str("REDIS_PASSWORD", ""),
		DB:       p.nonNegativeInt("REDIS_DB", 0),
		TLS:      p.boolean("REDIS_TLS", false),
		Prefix:   p.str("REDIS_PREFIX", "rt"),
	}
}

// NewRedisClient connects and pings the server with a short timeout.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	var tlsConf *tls.Config
	if cfg.TLS {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(&redis.Options{
		Addr:      cfg.Addr,
		Password:  cfg.Password,
		DB:        cfg.DB,
		TLSConfig: tlsConf,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}
