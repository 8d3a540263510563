package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/sessionguard/internal/audit"
	"github.com/iliyamo/sessionguard/internal/config"
	"github.com/iliyamo/sessionguard/internal/database"
	"github.com/iliyamo/sessionguard/internal/handler"
	"github.com/iliyamo/sessionguard/internal/metrics"
	"github.com/iliyamo/sessionguard/internal/middleware"
	"github.com/iliyamo/sessionguard/internal/queue"
	"github.com/iliyamo/sessionguard/internal/ratelimit"
	"github.com/iliyamo/sessionguard/internal/repository"
	"github.com/iliyamo/sessionguard/internal/router"
	"github.com/iliyamo/sessionguard/internal/service"
	"github.com/iliyamo/sessionguard/internal/token"
	"github.com/iliyamo/sessionguard/internal/utils"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.WithError(err).Fatal("register metrics")
	}

	db, err := database.Open(ctx, database.Params{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
	})
	if err != nil {
		log.WithError(err).Fatal("connect to database")
	}
	defer db.Close()

	cipher, err := utils.NewFieldCipher(cfg.EncryptionKey)
	if err != nil {
		log.WithError(err).Fatal("field encryption key")
	}
	tokens, err := token.NewService(cfg.AccessSecret, cfg.RefreshSecret,
		token.WithAccessTTL(cfg.AccessTTL), token.WithRefreshTTL(cfg.RefreshTTL))
	if err != nil {
		log.WithError(err).Fatal("token service")
	}

	ready := map[string]handler.Pinger{"mysql": db}
	store := refreshStore(ctx, cfg, db, ready, log)

	eventRepo := repository.NewSecurityEventRepo(db, cipher)
	recorder := audit.New(log).
		Use("log", audit.NewLogSink(log)).
		Use("mysql", eventRepo)
	if cfg.Events.AMQPURL != "" {
		pub := queue.NewPublisher(cfg.Events.AMQPURL, cfg.Events.Queue)
		defer pub.Close()
		recorder.Use("amqp", pub)
	}
	if cfg.Events.ConsumerEnabled {
		go func() {
			err := queue.StartSecurityEventConsumer(ctx, queue.ConsumerConfig{
				URL:    cfg.Events.AMQPURL,
				Queue:  cfg.Events.Queue,
				LogDir: cfg.Events.LogDir,
				Logger: log,
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("security event consumer stopped")
			}
		}()
	}

	loginLimiter := ratelimit.NewFixedWindow()
	loginLimiter.StartSweeper(ctx, time.Minute)
	apiLimiter := ratelimit.NewFixedWindow()
	apiLimiter.StartSweeper(ctx, time.Minute)

	users := repository.NewUserRepo(db)
	authSvc := service.NewAuthService(users, store, tokens, loginLimiter,
		service.WithLoginLimit(cfg.LoginMaxAttempts, cfg.LoginWindow),
		service.WithRecorder(recorder),
	)

	e := echo.New()
	e.HideBanner = true
	if cfg.TrustProxy {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	} else {
		e.IPExtractor = echo.ExtractIPDirect()
	}
	router.Register(e, router.Deps{
		Auth:     handler.NewAuthHandler(authSvc, cfg.AccessCookie, cfg.IsProd(), log),
		Security: handler.NewSecurityHandler(eventRepo, log),
		Guard:    middleware.GuardConfig{Tokens: tokens, CookieName: cfg.AccessCookie, Recorder: recorder, Users: users},
		Throttle: middleware.Throttle(cfg.RateLimit, apiLimiter),
		Ready:    ready,
	})

	addr := ":" + cfg.Port
	go func() {
		log.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env, "refresh_store": cfg.RefreshStore}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server stopped")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown")
	}
}

func newLogger(cfg config.Config) *logrus.Logger {
	log := logrus.New()
	if cfg.IsProd() {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// refreshStore builds the configured refresh token backend and registers it
// for readiness checks. The MySQL backend also gets an hourly purge of
// expired rows.
func refreshStore(ctx context.Context, cfg config.Config, db *sql.DB, ready map[string]handler.Pinger, log *logrus.Logger) service.RefreshTokenStore {
	if cfg.RefreshStore == config.StoreRedis {
		rdb, err := config.NewRedisClient(cfg.Redis)
		if err != nil {
			log.WithError(err).Fatal("connect to redis")
		}
		ready["redis"] = handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		return repository.NewRedisTokenStore(rdb, cfg.Redis.Prefix).WithTTL(cfg.RefreshTTL)
	}

	repo := repository.NewTokenRepo(db)
	repo.TTL = cfg.RefreshTTL
	go func() {
		t := time.NewTicker(time.Hour)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				n, err := repo.PurgeExpired(ctx)
				if err != nil {
					log.WithError(err).Warn("purge expired refresh tokens")
					continue
				}
				if n > 0 {
					log.WithField("removed", n).Debug("purged expired refresh tokens")
				}
			}
		}
	}()
	return repo
}
