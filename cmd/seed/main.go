package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/zap"

	"qrattend/internal/attendance"
	"qrattend/internal/config"
	"qrattend/internal/logger"
	"qrattend/internal/seed"
	"qrattend/internal/store"
)

// Seed migrates the database and loads the demo roster.
func main() {
	cfg := config.Load()

	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		zl.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	if err := store.RunMigrations(db.Client, zl); err != nil {
		zl.Fatal("migrations failed", zap.Error(err))
	}

	res, err := seed.Demo(ctx, attendance.NewRepository(db.Client), time.Now(), cfg.Location)
	if err != nil {
		zl.Fatal("seed failed", zap.Error(err))
	}
	zl.Info("seed complete",
		zap.String("cohort", seed.Cohort.String()),
		zap.String("teacher_id", seed.TeacherID),
		zap.Int("users", res.Users),
		zap.Int("timeslots", res.Timeslots),
		zap.Int("scheduled", res.Scheduled),
	)
}
