package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"qrattend/internal/metrics"
	"qrattend/internal/qrtoken"
)

// Validator decides whether a scan is accepted.
type Validator struct {
	store  Store
	signer *qrtoken.Signer
	expiry time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// ScanResult is the outcome of a scan. Rejections carry the error code and
// its user-facing message; Err holds the matching sentinel.
type ScanResult struct {
	Accepted  bool   `json:"accepted"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Teacher   string `json:"teacher,omitempty"`
	Window    string `json:"window,omitempty"`
	Err       *Error `json:"-"`
}

func rejected(e *Error) ScanResult {
	return ScanResult{Code: e.Code, Message: e.Message, Err: e}
}

// SubmitScan validates token for studentID and records PRESENT on success.
// The returned error is reserved for store failures.
func (v *Validator) SubmitScan(ctx context.Context, token, studentID string) (ScanResult, error) {
	sess, rejection, err := v.check(ctx, token, studentID)
	if err != nil {
		return ScanResult{}, err
	}
	if rejection != nil {
		return v.reject(rejection, studentID), nil
	}

	now := v.now()
	inserted, err := v.store.InsertPresenceRecordIfAbsent(ctx, PresenceRecord{
		ID:        uuid.NewString(),
		StudentID: studentID,
		SessionID: sess.ID,
		Status:    PresencePresent,
		CreatedAt: now,
	})
	if err != nil {
		return ScanResult{}, fmt.Errorf("insert presence: %w", err)
	}
	if !inserted {
		return v.reject(ErrAlreadyMarked, studentID), nil
	}

	res := ScanResult{
		Accepted:  true,
		SessionID: sess.ID,
		Subject:   sess.Subject,
		Teacher:   sess.TeacherID,
	}
	// The record is written; lookup failures only degrade the confirmation.
	teacher, err := v.store.GetUser(ctx, sess.TeacherID)
	if err != nil {
		v.logger.Warn("confirmation teacher lookup failed", zap.String("session_id", sess.ID), zap.Error(err))
	} else if teacher != nil && teacher.Name != "" {
		res.Teacher = teacher.Name
	}
	slot, err := v.store.GetTimeslot(ctx, sess.TimeslotID)
	if err != nil {
		v.logger.Warn("confirmation timeslot lookup failed", zap.String("session_id", sess.ID), zap.Error(err))
	} else if slot != nil {
		res.Window = slot.Window()
	}
	res.Message = fmt.Sprintf("Attendance marked for %s by %s", res.Subject, res.Teacher)
	if res.Window != "" {
		res.Message += " (" + res.Window + ")"
	}

	metrics.Scans.WithLabelValues("accepted").Inc()
	v.logger.Info("scan accepted",
		zap.String("session_id", sess.ID),
		zap.String("student_id", studentID),
	)
	return res, nil
}

// check runs the validation steps in order; the first failure wins.
func (v *Validator) check(ctx context.Context, token, studentID string) (*Session, *Error, error) {
	payload, err := v.signer.Parse(token)
	if err != nil {
		return nil, ErrMalformedToken, nil
	}
	if v.now().After(payload.IssuedAt().Add(v.expiry)) {
		return nil, ErrTokenExpired, nil
	}

	sess, err := v.store.GetSession(ctx, payload.SessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("get session: %w", err)
	}
	if sess == nil {
		return nil, ErrSessionNotFound, nil
	}
	if sess.TeacherID != payload.TeacherID {
		return nil, ErrTokenSessionMismatch, nil
	}
	if sess.Status != StatusActive || (sess.ActiveUntil != nil && v.now().After(*sess.ActiveUntil)) {
		return nil, ErrSessionNotActive, nil
	}

	student, err := v.store.GetUser(ctx, studentID)
	if err != nil {
		return nil, nil, fmt.Errorf("get student: %w", err)
	}
	if student == nil || student.Role != RoleStudent {
		return nil, ErrInvalidStudent, nil
	}
	if student.Cohort != sess.Cohort {
		return nil, ErrNotEnrolled, nil
	}

	existing, err := v.store.FindPresenceRecord(ctx, studentID, sess.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("find presence: %w", err)
	}
	if existing != nil {
		return nil, ErrAlreadyMarked, nil
	}
	return sess, nil, nil
}

func (v *Validator) reject(e *Error, studentID string) ScanResult {
	metrics.Scans.WithLabelValues(e.Code).Inc()
	v.logger.Debug("scan rejected", zap.String("code", e.Code), zap.String("student_id", studentID))
	return rejected(e)
}
