package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/homefix/appointment-scheduling/internal/api"
	"github.com/homefix/appointment-scheduling/internal/appointment"
	"github.com/homefix/appointment-scheduling/internal/availability"
	"github.com/homefix/appointment-scheduling/internal/config"
	"github.com/homefix/appointment-scheduling/internal/db"
	"github.com/homefix/appointment-scheduling/internal/notify"
	redisclient "github.com/homefix/appointment-scheduling/internal/redis"
	"github.com/homefix/appointment-scheduling/internal/risk"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	logger := newLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()

	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis")

	repo := appointment.NewPgRepository(pgPool)
	availRepo := availability.NewPgRepository(pgPool)
	riskRepo := risk.NewPgRepository(pgPool)

	resolver := availability.NewResolver(availRepo, appointment.NewBookingSource(repo), cfg.MaxSlotRangeDays)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)
	notifier := notify.NewLogNotifier(logger)

	svc := appointment.NewService(repo, resolver, locker, notifier, logger,
		cfg.PendingExpiry, cfg.StartGracePeriod)
	queue := risk.NewQueueManager(riskRepo)

	router := api.NewRouter(api.RouterConfig{
		Service:  svc,
		Resolver: resolver,
		Queue:    queue,
		PgPool:   pgPool,
		Redis:    rdb,
		Logger:   logger,
		Env:      cfg.Env,
		Version:  version,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()
	logger.Info("api-server listening", zap.String("addr", server.Addr))

	<-rootCtx.Done()
	logger.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newLogger(env string) *zap.Logger {
	if env == "prod" {
		logger, err := zap.NewProduction()
		if err != nil {
			panic(err)
		}
		return logger
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return logger
}
