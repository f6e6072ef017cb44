package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"qrattend/internal/attendance"
	"qrattend/internal/config"
	"qrattend/internal/logger"
	"qrattend/internal/qrtoken"
	"qrattend/internal/queue"
	"qrattend/internal/store"
	"qrattend/internal/worker"
)

// Worker consumes finalize messages published by the API's timers and sweeps
// sessions whose window closed while no timer was armed.
func main() {
	cfg := config.Load()

	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if cfg.QueueBackend == "memory" {
		zl.Fatal("QUEUE_BACKEND=memory runs the worker inside the API process")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		zl.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		zl.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		zl.Warn("redis not reachable yet, consumer will retry")
	}

	q := queue.NewRedisQueue(redisClient.Client, "")
	repo := attendance.NewRepository(db.Client)
	svc := attendance.NewService(repo, qrtoken.NewSigner(cfg.QRSigningKey, cfg.QRIssuer), nil, attendance.Config{
		Window:      cfg.SessionWindow,
		TokenExpiry: cfg.TokenExpiry,
		Location:    cfg.Location,
	}, zl)

	sweeper, err := worker.StartSweeper(svc.Finalizer, cfg.SweepSchedule, cfg.Location, zl.Named("sweeper"))
	if err != nil {
		zl.Fatal("sweeper init failed", zap.Error(err))
	}
	defer sweeper.Stop()

	if err := worker.Run(ctx, q, svc.Finalizer, zl.Named("worker")); err != nil {
		zl.Fatal("worker failed", zap.Error(err))
	}
}
