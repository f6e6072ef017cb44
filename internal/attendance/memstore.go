package attendance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a mutex-guarded Store for local runs and tests. It enforces
// the same uniqueness rules as the Postgres schema.
type MemoryStore struct {
	mu        sync.Mutex
	users     map[string]User
	timeslots map[string]Timeslot
	sessions  map[string]Session
	byKey     map[string]string
	presence  map[string]PresenceRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]User),
		timeslots: make(map[string]Timeslot),
		sessions:  make(map[string]Session),
		byKey:     make(map[string]string),
		presence:  make(map[string]PresenceRecord),
	}
}

var _ Store = (*MemoryStore)(nil)

func sessionKeyString(k SessionKey) string {
	return k.TeacherID + "|" + k.TimeslotID + "|" + dayString(k.Date)
}

func presenceKey(studentID, sessionID string) string {
	return studentID + "|" + sessionID
}

// UpsertUser adds or replaces a user.
func (m *MemoryStore) UpsertUser(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

// UpsertTimeslot adds or replaces a timetable slot.
func (m *MemoryStore) UpsertTimeslot(_ context.Context, t Timeslot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeslots[t.ID] = t
	return nil
}

// CreateScheduledSession inserts a SCHEDULED session unless the key exists.
func (m *MemoryStore) CreateScheduledSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := sessionKeyString(s.Key())
	if _, ok := m.byKey[k]; ok {
		return nil
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.Status = StatusScheduled
	s.CreatedAt = time.Now().UTC()
	m.sessions[s.ID] = s
	m.byKey[k] = s.ID
	return nil
}

// FindCohortMembers returns the cohort's student ids in id order.
func (m *MemoryStore) FindCohortMembers(_ context.Context, cohort Cohort) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, u := range m.users {
		if u.Role == RoleStudent && u.Cohort == cohort {
			ids = append(ids, u.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// FindTimeslots returns the cohort's slots on weekday that cover clock.
func (m *MemoryStore) FindTimeslots(_ context.Context, cohort Cohort, weekday time.Weekday, clock string) ([]Timeslot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Timeslot
	for _, t := range m.timeslots {
		if t.Cohort == cohort && t.DayOfWeek == int(weekday) && t.StartTime <= clock && t.EndTime >= clock {
			res = append(res, t)
		}
	}
	return res, nil
}

// GetTimeslot returns the slot with id, or nil.
func (m *MemoryStore) GetTimeslot(_ context.Context, id string) (*Timeslot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timeslots[id]; ok {
		return &t, nil
	}
	return nil, nil
}

// GetUser returns the user with id, or nil.
func (m *MemoryStore) GetUser(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

// GetSession returns a copy of the session with id, or nil.
func (m *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return copySession(s), nil
	}
	return nil, nil
}

// GetSessionByKey looks a session up by teacher, timeslot and date.
func (m *MemoryStore) GetSessionByKey(_ context.Context, key SessionKey) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byKey[sessionKeyString(key)]; ok {
		return copySession(m.sessions[id]), nil
	}
	return nil, nil
}

// ActivateSession inserts or re-opens the session for s's key. Finalized sessions yield nil.
func (m *MemoryStore) ActivateSession(_ context.Context, s Session) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := sessionKeyString(s.Key())
	if id, ok := m.byKey[k]; ok {
		cur := m.sessions[id]
		if cur.Status.Finalized() {
			return nil, nil
		}
		cur.Subject = s.Subject
		cur.Status = StatusActive
		cur.ActiveUntil = s.ActiveUntil
		m.sessions[id] = cur
		return copySession(cur), nil
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.Status = StatusActive
	s.CreatedAt = time.Now().UTC()
	m.sessions[s.ID] = s
	m.byKey[k] = s.ID
	return copySession(s), nil
}

// SetSessionToken stores the latest scan token.
func (m *MemoryStore) SetSessionToken(_ context.Context, id, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.Token = token
		m.sessions[id] = s
	}
	return nil
}

// ExpireSession pulls active_until forward to at while the session is ACTIVE.
func (m *MemoryStore) ExpireSession(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status != StatusActive {
		return false, nil
	}
	s.ActiveUntil = &at
	m.sessions[id] = s
	return true, nil
}

// TransitionSession is a conditional status update.
func (m *MemoryStore) TransitionSession(_ context.Context, id string, from, to Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status != from {
		return false, nil
	}
	s.Status = to
	m.sessions[id] = s
	return true, nil
}

// CompleteSessionIfDue completes an ACTIVE session whose window has passed.
func (m *MemoryStore) CompleteSessionIfDue(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status != StatusActive {
		return false, nil
	}
	if s.ActiveUntil != nil && s.ActiveUntil.After(now) {
		return false, nil
	}
	s.Status = StatusCompleted
	m.sessions[id] = s
	return true, nil
}

// ListActiveSessions returns every ACTIVE session, earliest deadline first.
func (m *MemoryStore) ListActiveSessions(_ context.Context) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Session
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			res = append(res, *copySession(s))
		}
	}
	sort.Slice(res, func(i, j int) bool { return deadline(res[i]).Before(deadline(res[j])) })
	return res, nil
}

// ListScheduledSessions returns the cohort's SCHEDULED sessions on day.
func (m *MemoryStore) ListScheduledSessions(_ context.Context, cohort Cohort, day time.Time) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []Session
	for _, s := range m.sessions {
		if s.Status == StatusScheduled && s.Cohort == cohort && dayString(s.Date) == dayString(day) {
			res = append(res, *copySession(s))
		}
	}
	return res, nil
}

// FindPresenceRecord returns the record for a pair, or nil.
func (m *MemoryStore) FindPresenceRecord(_ context.Context, studentID, sessionID string) (*PresenceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.presence[presenceKey(studentID, sessionID)]; ok {
		return &p, nil
	}
	return nil, nil
}

// ListPresenceRecords returns a session's records ordered by student id.
func (m *MemoryStore) ListPresenceRecords(_ context.Context, sessionID string) ([]PresenceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []PresenceRecord
	for _, p := range m.presence {
		if p.SessionID == sessionID {
			res = append(res, p)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].StudentID < res[j].StudentID })
	return res, nil
}

// InsertPresenceRecordIfAbsent keeps the first record written for a pair.
func (m *MemoryStore) InsertPresenceRecordIfAbsent(_ context.Context, rec PresenceRecord) (bool, error) {
	if !rec.Status.Valid() {
		return false, fmt.Errorf("invalid presence status %q", rec.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := presenceKey(rec.StudentID, rec.SessionID)
	if _, ok := m.presence[k]; ok {
		return false, nil
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m.presence[k] = rec
	return true, nil
}

func copySession(s Session) *Session {
	if s.ActiveUntil != nil {
		t := *s.ActiveUntil
		s.ActiveUntil = &t
	}
	return &s
}

func deadline(s Session) time.Time {
	if s.ActiveUntil == nil {
		return time.Time{}
	}
	return *s.ActiveUntil
}
