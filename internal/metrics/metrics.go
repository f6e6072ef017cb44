package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsStarted counts successful startSession calls, split by whether
	// the session row already existed.
	SessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrattend_sessions_started_total",
		Help: "Class sessions activated or refreshed.",
	}, []string{"kind"})

	// Scans counts scan submissions by outcome code.
	Scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrattend_scans_total",
		Help: "Scan submissions by outcome.",
	}, []string{"outcome"})

	// Finalizations counts finalize runs that closed a session.
	Finalizations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrattend_finalizations_total",
		Help: "Sessions finalized, by trigger.",
	}, []string{"trigger"})

	// AbsencesRecorded counts ABSENT rows written by the finalizer.
	AbsencesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qrattend_absences_recorded_total",
		Help: "ABSENT presence records inserted.",
	})

	// PendingTimers tracks armed finalization timers in this process.
	PendingTimers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qrattend_pending_finalize_timers",
		Help: "Armed deferred finalization timers.",
	})
)
