package attendance

import (
	"context"
	"time"
)

// Store is the persistence contract of the core. Lookups return (nil, nil)
// when the row does not exist.
type Store interface {
	// FindCohortMembers returns the ids of every STUDENT in the cohort.
	FindCohortMembers(ctx context.Context, cohort Cohort) ([]string, error)
	// FindTimeslots returns the cohort's slots on weekday covering clock ("HH:MM").
	FindTimeslots(ctx context.Context, cohort Cohort, weekday time.Weekday, clock string) ([]Timeslot, error)
	GetTimeslot(ctx context.Context, id string) (*Timeslot, error)
	GetUser(ctx context.Context, id string) (*User, error)

	GetSession(ctx context.Context, id string) (*Session, error)
	GetSessionByKey(ctx context.Context, key SessionKey) (*Session, error)
	// ActivateSession inserts s as ACTIVE, or moves the existing row for the
	// same key to ACTIVE with s.ActiveUntil. It returns nil when the existing
	// row is COMPLETED or CANCELLED.
	ActivateSession(ctx context.Context, s Session) (*Session, error)
	SetSessionToken(ctx context.Context, id, token string) error
	// ExpireSession sets active_until while the session is still ACTIVE.
	ExpireSession(ctx context.Context, id string, at time.Time) (bool, error)
	// TransitionSession moves id from one status to another and reports
	// whether this call performed the change.
	TransitionSession(ctx context.Context, id string, from, to Status) (bool, error)
	// CompleteSessionIfDue moves id from ACTIVE to COMPLETED only when its
	// active_until is not after now. A refresh that extended the window makes
	// it report false.
	CompleteSessionIfDue(ctx context.Context, id string, now time.Time) (bool, error)
	ListActiveSessions(ctx context.Context) ([]Session, error)
	ListScheduledSessions(ctx context.Context, cohort Cohort, day time.Time) ([]Session, error)

	FindPresenceRecord(ctx context.Context, studentID, sessionID string) (*PresenceRecord, error)
	ListPresenceRecords(ctx context.Context, sessionID string) ([]PresenceRecord, error)
	// InsertPresenceRecordIfAbsent never overwrites an existing row for the
	// same (student, session) pair.
	InsertPresenceRecordIfAbsent(ctx context.Context, rec PresenceRecord) (bool, error)
}
