package attendance

import (
	"time"

	"go.uber.org/zap"

	"qrattend/internal/qrtoken"
)

// Scheduler arms the deferred finalization of a session. Scheduling an id
// that is already armed replaces the earlier deadline.
type Scheduler interface {
	Schedule(sessionID string, at time.Time)
	Cancel(sessionID string) bool
}

type nopScheduler struct{}

func (nopScheduler) Schedule(string, time.Time) {}
func (nopScheduler) Cancel(string) bool         { return false }

// Config tunes the core services.
type Config struct {
	// Window is how long a started session stays ACTIVE.
	Window time.Duration
	// TokenExpiry bounds the age of a scan token, independent of Window.
	TokenExpiry time.Duration
	Location    *time.Location
	Now         func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 60 * time.Second
	}
	if c.TokenExpiry <= 0 {
		c.TokenExpiry = 60 * time.Second
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Service bundles the attendance components over one store.
type Service struct {
	Resolver  *Resolver
	Manager   *Manager
	Validator *Validator
	Finalizer *Finalizer
}

// NewService wires the components. timers may be nil when the caller never
// starts sessions (the worker).
func NewService(store Store, signer *qrtoken.Signer, timers Scheduler, cfg Config, logger *zap.Logger) *Service {
	cfg = cfg.withDefaults()
	if timers == nil {
		timers = nopScheduler{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	resolver := NewResolver(store, cfg.Location)
	finalizer := &Finalizer{store: store, now: cfg.Now, loc: cfg.Location, logger: logger.Named("finalizer")}
	return &Service{
		Resolver: resolver,
		Manager: &Manager{
			store:     store,
			resolver:  resolver,
			finalizer: finalizer,
			signer:    signer,
			timers:    timers,
			window:    cfg.Window,
			loc:       cfg.Location,
			now:       cfg.Now,
			logger:    logger.Named("sessions"),
		},
		Validator: &Validator{
			store:  store,
			signer: signer,
			expiry: cfg.TokenExpiry,
			now:    cfg.Now,
			logger: logger.Named("scans"),
		},
		Finalizer: finalizer,
	}
}
