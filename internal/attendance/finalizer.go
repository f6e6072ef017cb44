package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"qrattend/internal/metrics"
)

// ErrNotDue is returned by FinalizeDue when the session window was extended
// after the trigger was armed.
var ErrNotDue = &Error{KindInvalidState, "NotDue", "The attendance window is still open."}

// Finalizer turns every cohort member without a record into ABSENT and closes
// the session.
type Finalizer struct {
	store  Store
	now    func() time.Time
	loc    *time.Location
	logger *zap.Logger
}

// CancelResult summarizes a bulk cancellation.
type CancelResult struct {
	CancelledSessions int `json:"cancelled_sessions"`
	RecordsWritten    int `json:"records_written"`
}

// Finalize closes the session regardless of its deadline. A second call on a
// COMPLETED session returns the same counts together with ErrAlreadyFinalized.
func (f *Finalizer) Finalize(ctx context.Context, sessionID string) (Summary, error) {
	return f.finalize(ctx, sessionID, "manual", false)
}

// FinalizeDue is the timer path: it only acts once active_until has passed.
// The deadline is re-checked by the claim itself, so a refresh racing the
// trigger either extends the window (ErrNotDue) or finds the session closed.
func (f *Finalizer) FinalizeDue(ctx context.Context, sessionID string) (Summary, error) {
	return f.finalize(ctx, sessionID, "timeout", true)
}

// SweepOverdue finalizes every ACTIVE session whose window has passed. It is
// the crash-recovery path for timers lost with a process.
func (f *Finalizer) SweepOverdue(ctx context.Context) (int, error) {
	sessions, err := f.store.ListActiveSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active sessions: %w", err)
	}
	now := f.now()
	n := 0
	for _, s := range sessions {
		if s.ActiveUntil != nil && s.ActiveUntil.After(now) {
			continue
		}
		if _, err := f.finalize(ctx, s.ID, "sweep", true); err != nil {
			if _, ok := AsError(err); ok {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// finalize claims the session (ACTIVE to COMPLETED) before writing anything.
// When due is set the claim only succeeds if active_until has passed. Absences
// are written after the claim; a run interrupted there is completed by the
// next finalize on the COMPLETED session.
func (f *Finalizer) finalize(ctx context.Context, sessionID, trigger string, due bool) (Summary, error) {
	sess, err := f.store.GetSession(ctx, sessionID)
	if err != nil {
		return Summary{}, fmt.Errorf("get session: %w", err)
	}
	if sess == nil {
		return Summary{}, ErrSessionNotFound
	}
	if rejected := f.checkStatus(sess); rejected != nil {
		if rejected == ErrAlreadyFinalized {
			return f.alreadyFinalized(ctx, sess)
		}
		return Summary{}, rejected
	}

	now := f.now()
	var won bool
	if due {
		won, err = f.store.CompleteSessionIfDue(ctx, sessionID, now)
	} else {
		won, err = f.store.TransitionSession(ctx, sessionID, StatusActive, StatusCompleted)
	}
	if err != nil {
		return Summary{}, fmt.Errorf("complete session: %w", err)
	}
	if !won {
		return f.lostClaim(ctx, sessionID)
	}

	members, err := f.store.FindCohortMembers(ctx, sess.Cohort)
	if err != nil {
		return Summary{}, fmt.Errorf("find cohort: %w", err)
	}
	absences, err := f.recordAbsences(ctx, sessionID, members, now)
	if err != nil {
		return Summary{}, err
	}

	sum, err := f.summarize(ctx, sessionID, members)
	if err != nil {
		return Summary{}, err
	}
	metrics.Finalizations.WithLabelValues(trigger).Inc()
	metrics.AbsencesRecorded.Add(float64(absences))
	f.logger.Info("session finalized",
		zap.String("session_id", sessionID),
		zap.String("trigger", trigger),
		zap.Int("total", sum.TotalCohort),
		zap.Int("present", sum.PresentCount),
		zap.Int("absent", sum.AbsentCount),
	)
	return sum, nil
}

// checkStatus returns the error for a session that cannot be claimed.
func (f *Finalizer) checkStatus(sess *Session) *Error {
	switch sess.Status {
	case StatusActive:
		return nil
	case StatusCompleted:
		return ErrAlreadyFinalized
	case StatusCancelled:
		return ErrSessionCancelled
	default:
		return ErrNotActive
	}
}

// lostClaim explains why the conditional claim did not apply.
func (f *Finalizer) lostClaim(ctx context.Context, sessionID string) (Summary, error) {
	latest, err := f.store.GetSession(ctx, sessionID)
	if err != nil {
		return Summary{}, fmt.Errorf("get session: %w", err)
	}
	if latest == nil {
		return Summary{}, ErrSessionNotFound
	}
	switch rejected := f.checkStatus(latest); rejected {
	case nil:
		// still ACTIVE: the window was extended after the trigger was armed
		return Summary{}, ErrNotDue
	case ErrAlreadyFinalized:
		return f.alreadyFinalized(ctx, latest)
	default:
		return Summary{}, rejected
	}
}

// recordAbsences inserts ABSENT for every member without a record and
// reports how many rows it wrote.
func (f *Finalizer) recordAbsences(ctx context.Context, sessionID string, members []string, now time.Time) (int, error) {
	records, err := f.store.ListPresenceRecords(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("list presence: %w", err)
	}
	marked := make(map[string]struct{}, len(records))
	for _, r := range records {
		marked[r.StudentID] = struct{}{}
	}

	written := 0
	for _, studentID := range members {
		if _, ok := marked[studentID]; ok {
			continue
		}
		inserted, err := f.store.InsertPresenceRecordIfAbsent(ctx, PresenceRecord{
			ID:        uuid.NewString(),
			StudentID: studentID,
			SessionID: sessionID,
			Status:    PresenceAbsent,
			CreatedAt: now,
		})
		if err != nil {
			return written, fmt.Errorf("insert absence: %w", err)
		}
		if inserted {
			written++
		}
	}
	return written, nil
}

// alreadyFinalized reports the counts of a COMPLETED session. Members still
// without a record (an interrupted run) are marked ABSENT first.
func (f *Finalizer) alreadyFinalized(ctx context.Context, sess *Session) (Summary, error) {
	members, err := f.store.FindCohortMembers(ctx, sess.Cohort)
	if err != nil {
		return Summary{}, fmt.Errorf("find cohort: %w", err)
	}
	backfilled, err := f.recordAbsences(ctx, sess.ID, members, f.now())
	if err != nil {
		return Summary{}, err
	}
	if backfilled > 0 {
		metrics.AbsencesRecorded.Add(float64(backfilled))
		f.logger.Warn("completed session had missing absences",
			zap.String("session_id", sess.ID),
			zap.Int("backfilled", backfilled),
		)
	}
	sum, err := f.summarize(ctx, sess.ID, members)
	if err != nil {
		return Summary{}, err
	}
	return sum, ErrAlreadyFinalized
}

func (f *Finalizer) summarize(ctx context.Context, sessionID string, members []string) (Summary, error) {
	records, err := f.store.ListPresenceRecords(ctx, sessionID)
	if err != nil {
		return Summary{}, fmt.Errorf("list presence: %w", err)
	}
	present := make(map[string]bool, len(records))
	for _, r := range records {
		if r.Status == PresencePresent {
			present[r.StudentID] = true
		}
	}
	sum := Summary{SessionID: sessionID, TotalCohort: len(members)}
	for _, id := range members {
		if present[id] {
			sum.PresentCount++
		}
	}
	sum.AbsentCount = sum.TotalCohort - sum.PresentCount
	return sum, nil
}

// CancelDay cancels every SCHEDULED session of the cohort on day and records
// CANCELLED for each member. Sessions that already started are left alone.
func (f *Finalizer) CancelDay(ctx context.Context, cohort Cohort, day time.Time) (CancelResult, error) {
	day = dateOf(day, f.loc)
	sessions, err := f.store.ListScheduledSessions(ctx, cohort, day)
	if err != nil {
		return CancelResult{}, fmt.Errorf("list scheduled sessions: %w", err)
	}
	if len(sessions) == 0 {
		return CancelResult{}, ErrNoScheduledSessions
	}
	members, err := f.store.FindCohortMembers(ctx, cohort)
	if err != nil {
		return CancelResult{}, fmt.Errorf("find cohort: %w", err)
	}

	var res CancelResult
	now := f.now()
	for _, s := range sessions {
		won, err := f.store.TransitionSession(ctx, s.ID, StatusScheduled, StatusCancelled)
		if err != nil {
			return res, fmt.Errorf("cancel session: %w", err)
		}
		if !won {
			continue
		}
		res.CancelledSessions++
		for _, studentID := range members {
			inserted, err := f.store.InsertPresenceRecordIfAbsent(ctx, PresenceRecord{
				ID:        uuid.NewString(),
				StudentID: studentID,
				SessionID: s.ID,
				Status:    PresenceCancelled,
				CreatedAt: now,
			})
			if err != nil {
				return res, fmt.Errorf("insert cancellation: %w", err)
			}
			if inserted {
				res.RecordsWritten++
			}
		}
	}
	if res.CancelledSessions == 0 {
		return res, ErrNoScheduledSessions
	}
	f.logger.Info("sessions cancelled",
		zap.String("cohort", cohort.String()),
		zap.String("date", dayString(day)),
		zap.Int("sessions", res.CancelledSessions),
	)
	return res, nil
}
