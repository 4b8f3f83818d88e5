// Package main runs the background worker: reservation notifications and idempotency record cleanup.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Csepi/cal3-sub003/config"
	"github.com/Csepi/cal3-sub003/internal/idempotency"
	"github.com/Csepi/cal3-sub003/internal/worker"
	"github.com/Csepi/cal3-sub003/pkg/database"
	"github.com/Csepi/cal3-sub003/pkg/metrics"
	"github.com/Csepi/cal3-sub003/pkg/queue"
	"github.com/Csepi/cal3-sub003/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{MaxConns: int32(cfg.Database.MaxConns)}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	m := metrics.New()
	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewNotificationProcessor(worker.NewInboxRepository(pool), jobQueue, logger, m)

	idemStore, err := idempotency.OpenStore(cfg.Idempotency.Backend, pool, rdb.Client)
	if err != nil {
		logger.Fatal("idempotency store", zap.Error(err))
	}
	guard := idempotency.NewGuard(idemStore, idempotency.Config{
		Retention:  cfg.Idempotency.Retention,
		StaleAfter: cfg.Idempotency.StaleAfter,
	}, logger, m)

	scheduler := cron.New()
	if _, err := worker.ScheduleReap(scheduler, cfg.Worker.ReapSchedule, guard, logger); err != nil {
		logger.Fatal("schedule reaper", zap.String("spec", cfg.Worker.ReapSchedule), zap.Error(err))
	}
	scheduler.Start()

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		processor.Run(workerCtx)
	}()
	logger.Info("worker started", zap.String("reap_schedule", cfg.Worker.ReapSchedule))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	<-scheduler.Stop().Done()
	<-done
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
