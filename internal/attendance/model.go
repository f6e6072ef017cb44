package attendance

import (
	"fmt"
	"time"
)

// Role of a user account.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleTeacher Role = "TEACHER"
	RoleStudent Role = "STUDENT"
)

// Status is the lifecycle state of a class session.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Finalized reports whether the session can no longer be reopened.
func (s Status) Finalized() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// PresenceStatus is the outcome recorded for one student in one session.
type PresenceStatus string

const (
	PresencePresent   PresenceStatus = "PRESENT"
	PresenceAbsent    PresenceStatus = "ABSENT"
	PresenceCancelled PresenceStatus = "CANCELLED"
)

// Valid returns true when the status is a supported value.
func (s PresenceStatus) Valid() bool {
	switch s {
	case PresencePresent, PresenceAbsent, PresenceCancelled:
		return true
	default:
		return false
	}
}

// Cohort is the (year, branch) group a session is drawn from.
type Cohort struct {
	Year   string `json:"year"`
	Branch string `json:"branch"`
}

func (c Cohort) String() string { return c.Year + "/" + c.Branch }

// User is the subset of an account the core needs.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
	Cohort Cohort `json:"cohort"`
}

// Timeslot is one timetable entry. Times are local "HH:MM" strings.
type Timeslot struct {
	ID        string `json:"id"`
	Cohort    Cohort `json:"cohort"`
	DayOfWeek int    `json:"day_of_week"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// Window renders the slot as "HH:MM - HH:MM".
func (t Timeslot) Window() string {
	return fmt.Sprintf("%s - %s", t.StartTime, t.EndTime)
}

// SessionKey identifies at most one session per teacher, slot and day.
type SessionKey struct {
	TeacherID  string
	TimeslotID string
	Date       time.Time
}

// Session is one teacher-initiated attendance window.
type Session struct {
	ID          string     `json:"id"`
	TeacherID   string     `json:"teacher_id"`
	Subject     string     `json:"subject"`
	Cohort      Cohort     `json:"cohort"`
	TimeslotID  string     `json:"timeslot_id"`
	Date        time.Time  `json:"date"`
	Status      Status     `json:"status"`
	ActiveUntil *time.Time `json:"active_until,omitempty"`
	Token       string     `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Key returns the uniqueness key of the session.
func (s Session) Key() SessionKey {
	return SessionKey{TeacherID: s.TeacherID, TimeslotID: s.TimeslotID, Date: s.Date}
}

// PresenceRecord is the single outcome for a (student, session) pair.
type PresenceRecord struct {
	ID        string         `json:"id"`
	StudentID string         `json:"student_id"`
	SessionID string         `json:"session_id"`
	Status    PresenceStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// Summary is returned by finalize and stop.
type Summary struct {
	SessionID    string `json:"session_id"`
	TotalCohort  int    `json:"total_cohort"`
	PresentCount int    `json:"present_count"`
	AbsentCount  int    `json:"absent_count"`
}

// dateOf strips the time of day in loc.
func dateOf(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// dayString is the calendar-day form used for storage keys.
func dayString(t time.Time) string {
	return t.Format("2006-01-02")
}
