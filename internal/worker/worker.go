package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"qrattend/internal/attendance"
	"qrattend/internal/queue"
	"qrattend/internal/scheduler"
)

// Finalizer is the part of the attendance core the worker drives.
type Finalizer interface {
	FinalizeDue(ctx context.Context, sessionID string) (attendance.Summary, error)
	SweepOverdue(ctx context.Context) (int, error)
}

// Enqueue returns a timer callback that hands the session to the queue.
func Enqueue(q queue.Queue, logger *zap.Logger) scheduler.FireFunc {
	return func(ctx context.Context, sessionID string) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		msg := queue.Message{Type: queue.TypeFinalize, SessionID: sessionID, DueAt: time.Now().UTC()}
		if err := q.Publish(ctx, msg); err != nil {
			// the recovery sweep picks the session up later
			logger.Error("enqueue finalize failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
}

// Run consumes finalize messages until ctx is done.
func Run(ctx context.Context, q queue.Queue, fin Finalizer, logger *zap.Logger) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init: %w", err)
	}
	logger.Info("worker started, waiting for messages")
	for msg := range messages {
		Handle(ctx, msg, fin, logger)
	}
	logger.Info("worker stopped")
	return nil
}

// Handle processes one message. Sessions that are already closed, cancelled
// or extended are skipped quietly.
func Handle(ctx context.Context, msg queue.Message, fin Finalizer, logger *zap.Logger) {
	if msg.Type != queue.TypeFinalize {
		logger.Warn("unknown message type", zap.String("type", msg.Type))
		return
	}
	sum, err := fin.FinalizeDue(ctx, msg.SessionID)
	if err != nil {
		if e, ok := attendance.AsError(err); ok {
			logger.Debug("finalize skipped", zap.String("session_id", msg.SessionID), zap.String("code", e.Code))
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.Error("finalize failed", zap.String("session_id", msg.SessionID), zap.Error(err))
		return
	}
	logger.Info("finalize done",
		zap.String("session_id", msg.SessionID),
		zap.Int("present", sum.PresentCount),
		zap.Int("absent", sum.AbsentCount),
	)
}

// StartSweeper runs SweepOverdue on spec (cron syntax or "@every 30s").
func StartSweeper(fin Finalizer, spec string, loc *time.Location, logger *zap.Logger) (*cron.Cron, error) {
	if loc == nil {
		loc = time.Local
	}
	c := cron.New(cron.WithLocation(loc))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := fin.SweepOverdue(ctx)
		if err != nil {
			logger.Error("overdue sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			logger.Info("overdue sessions finalized", zap.Int("count", n))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("sweep schedule %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}
