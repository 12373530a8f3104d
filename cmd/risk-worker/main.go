package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/homefix/appointment-scheduling/internal/appointment"
	"github.com/homefix/appointment-scheduling/internal/config"
	"github.com/homefix/appointment-scheduling/internal/db"
	"github.com/homefix/appointment-scheduling/internal/notify"
	redisclient "github.com/homefix/appointment-scheduling/internal/redis"
	"github.com/homefix/appointment-scheduling/internal/risk"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	logger := newLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()

	logger.Info("risk-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.RiskSweepInterval),
		zap.Int("batch_size", cfg.RiskBatchSize),
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
	riskRepo := risk.NewPgRepository(pgPool)
	queue := risk.NewQueueManager(riskRepo)
	notifier := notify.NewLogNotifier(logger)
	locker := redisclient.NewRedisLocker(rdb, cfg.RiskSweepInterval)

	scorer := risk.NewScorer(repo, riskRepo, queue, notifier, logger,
		time.Duration(cfg.RiskLookaheadHours)*time.Hour,
		time.Duration(cfg.RiskPastToleranceMin)*time.Minute,
		cfg.RiskBatchSize,
	)

	runOnce(rootCtx, scorer, locker, logger)

	ticker := time.NewTicker(cfg.RiskSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping risk worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, scorer, locker, logger)
		}
	}
}

// runOnce takes the sweep lock so overlapping deployments never double-score
// a batch; losing the lock just skips this tick.
func runOnce(ctx context.Context, scorer *risk.Scorer, locker redisclient.Locker, logger *zap.Logger) {
	start := time.Now()
	err := locker.WithLock(ctx, redisclient.SweepLockKey(), func(ctx context.Context) error {
		processed, err := scorer.EvaluateBatch(ctx)
		if err != nil {
			return err
		}
		logger.Info("risk sweep complete",
			zap.Int("processed", processed),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		logger.Debug("risk sweep skipped, another sweep is in flight")
	case errors.Is(err, risk.ErrPolicyMissing):
		logger.Warn("risk sweep skipped, no active policy")
	default:
		logger.Error("risk sweep error", zap.Error(err))
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
