package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"qrattend/internal/metrics"
)

// FireFunc runs when a session's deadline passes.
type FireFunc func(ctx context.Context, sessionID string)

// Timers is a registry of deferred finalization triggers keyed by session id.
// Scheduling an id again replaces its trigger; a replaced or cancelled
// trigger never fires, even if its timer already expired.
type Timers struct {
	mu      sync.Mutex
	entries map[string]*entry
	seq     uint64
	closed  bool
	fire    FireFunc
	now     func() time.Time
	logger  *zap.Logger
}

type entry struct {
	timer *time.Timer
	gen   uint64
	at    time.Time
}

// NewTimers creates an empty registry.
func NewTimers(fire FireFunc, logger *zap.Logger) *Timers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Timers{
		entries: make(map[string]*entry),
		fire:    fire,
		now:     time.Now,
		logger:  logger,
	}
}

// Schedule arms (or re-arms) the trigger for sessionID at at.
func (t *Timers) Schedule(sessionID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if e, ok := t.entries[sessionID]; ok {
		e.timer.Stop()
	}
	t.seq++
	gen := t.seq
	d := at.Sub(t.now())
	if d < 0 {
		d = 0
	}
	t.entries[sessionID] = &entry{
		timer: time.AfterFunc(d, func() { t.run(sessionID, gen) }),
		gen:   gen,
		at:    at,
	}
	metrics.PendingTimers.Set(float64(len(t.entries)))
	t.logger.Debug("finalize armed", zap.String("session_id", sessionID), zap.Time("at", at))
}

// Cancel disarms the trigger and reports whether one was pending.
func (t *Timers) Cancel(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[sessionID]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(t.entries, sessionID)
	metrics.PendingTimers.Set(float64(len(t.entries)))
	return true
}

// Stop disarms everything; later Schedule calls are ignored.
func (t *Timers) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, id)
	}
	t.closed = true
	metrics.PendingTimers.Set(0)
}

func (t *Timers) run(sessionID string, gen uint64) {
	t.mu.Lock()
	e, ok := t.entries[sessionID]
	if !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.entries, sessionID)
	metrics.PendingTimers.Set(float64(len(t.entries)))
	t.mu.Unlock()

	t.fire(context.Background(), sessionID)
}
