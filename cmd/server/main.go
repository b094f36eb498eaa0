package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/facility-membership/internal/config"
	"github.com/iliyamo/facility-membership/internal/database"
	"github.com/iliyamo/facility-membership/internal/handler"
	"github.com/iliyamo/facility-membership/internal/middleware"
	"github.com/iliyamo/facility-membership/internal/obs"
	"github.com/iliyamo/facility-membership/internal/queue"
	"github.com/iliyamo/facility-membership/internal/ratelimit"
	"github.com/iliyamo/facility-membership/internal/repository"
	"github.com/iliyamo/facility-membership/internal/router"
	queue_publisher "github.com/iliyamo/facility-membership/internal/service"
	"github.com/iliyamo/facility-membership/internal/session"
	"github.com/iliyamo/facility-membership/internal/utils"
)

func main() {
	_ = godotenv.Load() // a missing .env is fine; the environment wins

	cfg := config.Load()
	log := obs.NewLogger(cfg.Env, cfg.LogLevel, "facility-membership")
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	limitCfg := config.LoadLoginLimitConfig()
	cacheCfg := config.LoadCacheConfig()
	throttleCfg := config.LoadThrottleConfig()

	// Redis is optional unless the login limiter is configured to use it.
	rdb, err := config.NewRedisClient(config.LoadRedisConfig())
	if err != nil {
		if limitCfg.Store == config.LimitStoreRedis {
			return err
		}
		log.Warn("redis unavailable, cache and throttle run in-process", zap.Error(err))
		rdb = nil
	} else {
		defer rdb.Close()
	}

	policy := ratelimit.Policy{
		MaxAttempts: limitCfg.MaxAttempts,
		Window:      limitCfg.Window,
		Block:       limitCfg.Block,
		SweepEvery:  limitCfg.SweepEvery,
	}
	var limiter ratelimit.Limiter
	if limitCfg.Store == config.LimitStoreRedis {
		limiter = ratelimit.NewRedisLimiter(rdb, policy, limitCfg.Prefix, time.Now)
		log.Info("login limiter backed by redis", zap.String("prefix", limitCfg.Prefix))
	} else {
		mem := ratelimit.NewMemoryLimiter(policy, time.Now)
		sweeper, err := ratelimit.NewSweeper(mem, nil, limitCfg.SweepEvery, log.Named("limiter"))
		if err != nil {
			return err
		}
		sweeper.Start()
		defer sweeper.Stop()
		limiter = mem
	}

	users := repository.NewUserRepo(db)
	auditRepo := repository.NewAuditRepo(db)
	var sink handler.AuditSink = auditRepo
	if cfg.AuditTransport == config.AuditTransportRabbitMQ {
		sink = queue_publisher.NewPublisher(cfg.RabbitURL, log.Named("audit"))
		go func() {
			if err := queue.StartAuditConsumer(ctx, cfg.RabbitURL, auditRepo, log.Named("audit")); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("audit consumer stopped", zap.Error(err))
			}
		}()
	}
	audit := &handler.Auditor{Sink: sink, Log: log}

	hasher := utils.NewHasher(cfg.BcryptCost)
	tokens := utils.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTTL(), cfg.RefreshTTL())
	sessions := session.NewManager(tokens, cfg.IsProduction())

	purge := func(ctx context.Context) error { return middleware.PurgeCache(ctx, rdb, cacheCfg) }

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestLogger(log))
	router.RegisterRoutes(e, router.Deps{
		DB:             db,
		Redis:          rdb,
		Sessions:       sessions,
		Auth:           handler.NewAuthHandler(users, hasher, sessions, limiter, audit, log),
		Schedules:      handler.NewScheduleHandler(repository.NewScheduleRepo(db), audit, log, purge),
		Users:          handler.NewUserAdminHandler(users, hasher, audit, log),
		Throttle:       throttleCfg,
		Cache:          cacheCfg,
		TrustedProxies: limitCfg.TrustedProxies,
	})

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
