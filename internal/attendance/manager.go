package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"qrattend/internal/metrics"
	"qrattend/internal/qrtoken"
)

// Manager owns the session lifecycle.
type Manager struct {
	store     Store
	resolver  *Resolver
	finalizer *Finalizer
	signer    *qrtoken.Signer
	timers    Scheduler
	window    time.Duration
	loc       *time.Location
	now       func() time.Time
	logger    *zap.Logger
}

// StartResult is handed to the presenter.
type StartResult struct {
	Token      string    `json:"token"`
	SessionID  string    `json:"session_id"`
	CohortSize int       `json:"cohort_size"`
	ExpiresAt  time.Time `json:"expires_at"`
	Refreshed  bool      `json:"refreshed"`
}

// Progress is the live counter shown while a session runs.
type Progress struct {
	SessionID   string     `json:"session_id"`
	Status      Status     `json:"status"`
	Present     int        `json:"present"`
	Total       int        `json:"total"`
	ActiveUntil *time.Time `json:"active_until,omitempty"`
}

// StartSession opens (or refreshes) the attendance window for the slot the
// cohort is in right now.
func (m *Manager) StartSession(ctx context.Context, teacherID, subject string, cohort Cohort) (StartResult, error) {
	now := m.now()
	slot, err := m.resolver.CurrentSlot(ctx, cohort, now)
	if err != nil {
		return StartResult{}, err
	}

	day := dateOf(now, m.loc)
	existing, err := m.store.GetSessionByKey(ctx, SessionKey{TeacherID: teacherID, TimeslotID: slot.ID, Date: day})
	if err != nil {
		return StartResult{}, fmt.Errorf("get session: %w", err)
	}
	if existing != nil && existing.Status.Finalized() {
		return StartResult{}, ErrSessionAlreadyFinalized
	}

	activeUntil := now.Add(m.window)
	sess, err := m.store.ActivateSession(ctx, Session{
		ID:          uuid.NewString(),
		TeacherID:   teacherID,
		Subject:     subject,
		Cohort:      cohort,
		TimeslotID:  slot.ID,
		Date:        day,
		Status:      StatusActive,
		ActiveUntil: &activeUntil,
	})
	if err != nil {
		return StartResult{}, fmt.Errorf("activate session: %w", err)
	}
	if sess == nil {
		// finalized between the lookup and the upsert
		return StartResult{}, ErrSessionAlreadyFinalized
	}

	token, err := m.signer.Issue(sess.ID, teacherID, now)
	if err != nil {
		return StartResult{}, fmt.Errorf("issue token: %w", err)
	}
	if err := m.store.SetSessionToken(ctx, sess.ID, token); err != nil {
		return StartResult{}, fmt.Errorf("store token: %w", err)
	}

	members, err := m.store.FindCohortMembers(ctx, cohort)
	if err != nil {
		return StartResult{}, fmt.Errorf("count cohort: %w", err)
	}

	m.timers.Schedule(sess.ID, activeUntil)

	refreshed := existing != nil
	kind := "new"
	if refreshed {
		kind = "refresh"
	}
	metrics.SessionsStarted.WithLabelValues(kind).Inc()
	m.logger.Info("session active",
		zap.String("session_id", sess.ID),
		zap.String("teacher_id", teacherID),
		zap.String("cohort", cohort.String()),
		zap.Time("active_until", activeUntil),
		zap.Bool("refreshed", refreshed),
	)

	return StartResult{
		Token:      token,
		SessionID:  sess.ID,
		CohortSize: len(members),
		ExpiresAt:  activeUntil,
		Refreshed:  refreshed,
	}, nil
}

// StopSession closes the window now and finalizes synchronously.
func (m *Manager) StopSession(ctx context.Context, sessionID string) (Summary, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return Summary{}, fmt.Errorf("get session: %w", err)
	}
	if sess == nil {
		return Summary{}, ErrSessionNotFound
	}
	if sess.Status != StatusActive {
		return Summary{}, ErrNotActive
	}

	ok, err := m.store.ExpireSession(ctx, sessionID, m.now())
	if err != nil {
		return Summary{}, fmt.Errorf("expire session: %w", err)
	}
	if !ok {
		return Summary{}, ErrNotActive
	}
	m.timers.Cancel(sessionID)

	sum, err := m.finalizer.finalize(ctx, sessionID, "stop", false)
	if errors.Is(err, ErrAlreadyFinalized) {
		return Summary{}, ErrNotActive
	}
	return sum, err
}

// Progress reports how many of the cohort are PRESENT so far.
func (m *Manager) Progress(ctx context.Context, sessionID string) (Progress, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return Progress{}, fmt.Errorf("get session: %w", err)
	}
	if sess == nil {
		return Progress{}, ErrSessionNotFound
	}
	members, err := m.store.FindCohortMembers(ctx, sess.Cohort)
	if err != nil {
		return Progress{}, fmt.Errorf("find cohort: %w", err)
	}
	records, err := m.store.ListPresenceRecords(ctx, sessionID)
	if err != nil {
		return Progress{}, fmt.Errorf("list presence: %w", err)
	}
	present := 0
	for _, r := range records {
		if r.Status == PresencePresent {
			present++
		}
	}
	return Progress{
		SessionID:   sess.ID,
		Status:      sess.Status,
		Present:     present,
		Total:       len(members),
		ActiveUntil: sess.ActiveUntil,
	}, nil
}

// CurrentToken returns the token of an ACTIVE session for rendering.
func (m *Manager) CurrentToken(ctx context.Context, sessionID string) (string, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("get session: %w", err)
	}
	if sess == nil {
		return "", ErrSessionNotFound
	}
	if sess.Status != StatusActive || sess.Token == "" {
		return "", ErrSessionNotActive
	}
	return sess.Token, nil
}

// Rearm restores deferred finalization after a restart: sessions whose window
// is still open get a timer, overdue ones are finalized immediately.
func (m *Manager) Rearm(ctx context.Context) (armed, finalized int, err error) {
	sessions, err := m.store.ListActiveSessions(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list active sessions: %w", err)
	}
	now := m.now()
	for _, s := range sessions {
		if s.ActiveUntil != nil && s.ActiveUntil.After(now) {
			m.timers.Schedule(s.ID, *s.ActiveUntil)
			armed++
			continue
		}
		if _, ferr := m.finalizer.finalize(ctx, s.ID, "recovery", true); ferr != nil {
			if _, ok := AsError(ferr); ok {
				continue
			}
			return armed, finalized, ferr
		}
		finalized++
	}
	return armed, finalized, nil
}
