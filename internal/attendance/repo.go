package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

const sessionColumns = `id, teacher_id, subject, year, branch, timeslot_id, session_date, status, active_until, token, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		s           Session
		date        time.Time
		activeUntil sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.TeacherID, &s.Subject, &s.Cohort.Year, &s.Cohort.Branch, &s.TimeslotID,
		&date, &s.Status, &activeUntil, &s.Token, &s.CreatedAt); err != nil {
		return Session{}, err
	}
	s.Date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	if activeUntil.Valid {
		t := activeUntil.Time
		s.ActiveUntil = &t
	}
	return s, nil
}

func (r *Repository) querySession(ctx context.Context, query string, args ...any) (*Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *Repository) querySessions(ctx context.Context, query string, args ...any) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// FindCohortMembers returns every student id in the cohort.
func (r *Repository) FindCohortMembers(ctx context.Context, cohort Cohort) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM users
		WHERE role = 'STUDENT' AND year = $1 AND branch = $2
		ORDER BY id
	`, cohort.Year, cohort.Branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FindTimeslots returns slots of the cohort covering clock on weekday.
func (r *Repository) FindTimeslots(ctx context.Context, cohort Cohort, weekday time.Weekday, clock string) ([]Timeslot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, year, branch, day_of_week, start_time, end_time
		FROM timeslots
		WHERE year = $1 AND branch = $2 AND day_of_week = $3 AND start_time <= $4 AND end_time >= $4
		ORDER BY start_time
	`, cohort.Year, cohort.Branch, int(weekday), clock)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Timeslot
	for rows.Next() {
		var t Timeslot
		if err := rows.Scan(&t.ID, &t.Cohort.Year, &t.Cohort.Branch, &t.DayOfWeek, &t.StartTime, &t.EndTime); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// GetTimeslot returns a slot by id.
func (r *Repository) GetTimeslot(ctx context.Context, id string) (*Timeslot, error) {
	var t Timeslot
	err := r.db.QueryRowContext(ctx, `
		SELECT id, year, branch, day_of_week, start_time, end_time FROM timeslots WHERE id = $1
	`, id).Scan(&t.ID, &t.Cohort.Year, &t.Cohort.Branch, &t.DayOfWeek, &t.StartTime, &t.EndTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// GetUser returns a user by id.
func (r *Repository) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, role, year, branch FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Name, &u.Role, &u.Cohort.Year, &u.Cohort.Branch)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// GetSession returns a session by id.
func (r *Repository) GetSession(ctx context.Context, id string) (*Session, error) {
	return r.querySession(ctx, `SELECT `+sessionColumns+` FROM class_sessions WHERE id = $1`, id)
}

// GetSessionByKey returns the session for a teacher, slot and day.
func (r *Repository) GetSessionByKey(ctx context.Context, key SessionKey) (*Session, error) {
	return r.querySession(ctx, `
		SELECT `+sessionColumns+` FROM class_sessions
		WHERE teacher_id = $1 AND timeslot_id = $2 AND session_date = $3
	`, key.TeacherID, key.TimeslotID, dayString(key.Date))
}

// ActivateSession upserts on (teacher_id, timeslot_id, session_date). The
// update only applies to SCHEDULED or ACTIVE rows, so a finalized row yields
// no result.
func (r *Repository) ActivateSession(ctx context.Context, s Session) (*Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return r.querySession(ctx, `
		INSERT INTO class_sessions (id, teacher_id, subject, year, branch, timeslot_id, session_date, status, active_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'ACTIVE', $8)
		ON CONFLICT (teacher_id, timeslot_id, session_date) DO UPDATE SET
			subject = EXCLUDED.subject,
			status = 'ACTIVE',
			active_until = EXCLUDED.active_until,
			updated_at = NOW()
		WHERE class_sessions.status IN ('SCHEDULED', 'ACTIVE')
		RETURNING `+sessionColumns,
		s.ID, s.TeacherID, s.Subject, s.Cohort.Year, s.Cohort.Branch, s.TimeslotID, dayString(s.Date), s.ActiveUntil)
}

// SetSessionToken stores the latest scan token.
func (r *Repository) SetSessionToken(ctx context.Context, id, token string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE class_sessions SET token = $2, updated_at = NOW() WHERE id = $1
	`, id, token)
	return err
}

// ExpireSession pulls active_until forward to at.
func (r *Repository) ExpireSession(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE class_sessions SET active_until = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'ACTIVE'
	`, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// TransitionSession is a conditional status update.
func (r *Repository) TransitionSession(ctx context.Context, id string, from, to Status) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE class_sessions SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CompleteSessionIfDue claims a due session in one statement, so it
// serializes with the ActivateSession upsert on the same row.
func (r *Repository) CompleteSessionIfDue(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE class_sessions SET status = 'COMPLETED', updated_at = NOW()
		WHERE id = $1 AND status = 'ACTIVE' AND (active_until IS NULL OR active_until <= $2)
	`, id, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ListActiveSessions returns every ACTIVE session, earliest deadline first.
func (r *Repository) ListActiveSessions(ctx context.Context) ([]Session, error) {
	return r.querySessions(ctx, `
		SELECT `+sessionColumns+` FROM class_sessions
		WHERE status = 'ACTIVE'
		ORDER BY active_until NULLS FIRST
	`)
}

// ListScheduledSessions returns the cohort's SCHEDULED sessions on day.
func (r *Repository) ListScheduledSessions(ctx context.Context, cohort Cohort, day time.Time) ([]Session, error) {
	return r.querySessions(ctx, `
		SELECT `+sessionColumns+` FROM class_sessions
		WHERE year = $1 AND branch = $2 AND session_date = $3 AND status = 'SCHEDULED'
	`, cohort.Year, cohort.Branch, dayString(day))
}

// FindPresenceRecord returns the record for a pair, if any.
func (r *Repository) FindPresenceRecord(ctx context.Context, studentID, sessionID string) (*PresenceRecord, error) {
	var p PresenceRecord
	err := r.db.QueryRowContext(ctx, `
		SELECT id, student_id, session_id, status, created_at
		FROM presence_records WHERE student_id = $1 AND session_id = $2
	`, studentID, sessionID).Scan(&p.ID, &p.StudentID, &p.SessionID, &p.Status, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if !p.Status.Valid() {
		return nil, fmt.Errorf("presence %s: unknown status %q", p.ID, p.Status)
	}
	return &p, nil
}

// ListPresenceRecords returns every record of a session.
func (r *Repository) ListPresenceRecords(ctx context.Context, sessionID string) ([]PresenceRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, session_id, status, created_at
		FROM presence_records WHERE session_id = $1
		ORDER BY created_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []PresenceRecord
	for rows.Next() {
		var p PresenceRecord
		if err := rows.Scan(&p.ID, &p.StudentID, &p.SessionID, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		if !p.Status.Valid() {
			return nil, fmt.Errorf("presence %s: unknown status %q", p.ID, p.Status)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// InsertPresenceRecordIfAbsent relies on UNIQUE (student_id, session_id).
func (r *Repository) InsertPresenceRecordIfAbsent(ctx context.Context, rec PresenceRecord) (bool, error) {
	if !rec.Status.Valid() {
		return false, fmt.Errorf("invalid presence status %q", rec.Status)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO presence_records (id, student_id, session_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (student_id, session_id) DO NOTHING
	`, rec.ID, rec.StudentID, rec.SessionID, string(rec.Status), rec.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// UpsertUser creates or renames a user. Used by the seed command.
func (r *Repository) UpsertUser(ctx context.Context, u User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, name, role, year, branch)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, role = EXCLUDED.role, year = EXCLUDED.year, branch = EXCLUDED.branch
	`, u.ID, u.Name, string(u.Role), u.Cohort.Year, u.Cohort.Branch)
	return err
}

// UpsertTimeslot creates or replaces a timetable slot. Used by the seed command.
func (r *Repository) UpsertTimeslot(ctx context.Context, t Timeslot) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO timeslots (id, year, branch, day_of_week, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			day_of_week = EXCLUDED.day_of_week, start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time
	`, t.ID, t.Cohort.Year, t.Cohort.Branch, t.DayOfWeek, t.StartTime, t.EndTime)
	return err
}

// CreateScheduledSession inserts a SCHEDULED session for a future class.
func (r *Repository) CreateScheduledSession(ctx context.Context, s Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO class_sessions (id, teacher_id, subject, year, branch, timeslot_id, session_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'SCHEDULED')
		ON CONFLICT (teacher_id, timeslot_id, session_date) DO NOTHING
	`, s.ID, s.TeacherID, s.Subject, s.Cohort.Year, s.Cohort.Branch, s.TimeslotID, dayString(s.Date))
	return err
}
