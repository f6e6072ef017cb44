package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"qrattend/internal/api"
	"qrattend/internal/attendance"
	"qrattend/internal/config"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/logger"
	"qrattend/internal/qrtoken"
	"qrattend/internal/queue"
	"qrattend/internal/scheduler"
	"qrattend/internal/seed"
	"qrattend/internal/store"
	"qrattend/internal/worker"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := runHTTP(cfg, zl); err != nil {
		zl.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, zl *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	health := map[string]api.HealthChecker{}

	var st attendance.Store
	switch cfg.StoreBackend {
	case "memory":
		mem := attendance.NewMemoryStore()
		res, err := seed.Demo(ctx, mem, time.Now(), cfg.Location)
		if err != nil {
			return fmt.Errorf("seed memory store: %w", err)
		}
		zl.Info("memory store seeded", zap.Int("users", res.Users), zap.Int("timeslots", res.Timeslots))
		st = mem
	default:
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer db.Close()
		if err := store.RunMigrations(db.Client, zl); err != nil {
			return err
		}
		health["db"] = db
		st = attendance.NewRepository(db.Client)
	}

	var redisClient *store.Redis
	if cfg.QueueBackend != "memory" || cfg.RateLimitBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		health["redis"] = redisClient
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(256)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	timers := scheduler.NewTimers(worker.Enqueue(q, zl.Named("timers")), zl.Named("timers"))
	defer timers.Stop()

	svc := attendance.NewService(st, qrtoken.NewSigner(cfg.QRSigningKey, cfg.QRIssuer), timers, attendance.Config{
		Window:      cfg.SessionWindow,
		TokenExpiry: cfg.TokenExpiry,
		Location:    cfg.Location,
	}, zl)

	armed, finalized, err := svc.Manager.Rearm(ctx)
	if err != nil {
		zl.Error("rearm active sessions failed", zap.Error(err))
	} else {
		zl.Info("active sessions restored", zap.Int("armed", armed), zap.Int("finalized", finalized))
	}

	// A memory queue is invisible to cmd/worker, so this process consumes it.
	if cfg.QueueBackend == "memory" {
		go func() {
			if err := worker.Run(ctx, q, svc.Finalizer, zl.Named("worker")); err != nil {
				zl.Error("in-process worker stopped", zap.Error(err))
			}
		}()
		sweeper, err := worker.StartSweeper(svc.Finalizer, cfg.SweepSchedule, cfg.Location, zl.Named("sweeper"))
		if err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	var limiter httpmiddleware.Limiter
	if cfg.RateLimitPerMin > 0 {
		if cfg.RateLimitBackend == "redis" {
			limiter = httpmiddleware.NewRedisWindow(redisClient.Client, cfg.RateLimitPerMin)
		} else {
			limiter = httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
		}
	}

	r := api.NewRouter(api.Deps{
		Service:     svc,
		Location:    cfg.Location,
		Limiter:     limiter,
		CORSOrigins: cfg.CORSOrigins,
		Health:      health,
		Logger:      zl.Named("http"),
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zl.Info("starting server", zap.String("addr", srv.Addr), zap.String("store", cfg.StoreBackend), zap.String("queue", cfg.QueueBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zl.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("server forced shutdown", zap.Error(err))
	}

	zl.Info("server exited")
	return nil
}
