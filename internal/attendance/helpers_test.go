package attendance

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"qrattend/internal/qrtoken"
)

// ── fixtures ──

var (
	cse = Cohort{Year: "3", Branch: "CSE"}
	ece = Cohort{Year: "2", Branch: "ECE"}

	// Monday 09:15 UTC.
	monday = time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingScheduler struct {
	mu        sync.Mutex
	armed     map[string]time.Time
	scheduled int
	cancelled int
}

func newRecordingScheduler() *recordingScheduler {
	return &recordingScheduler{armed: make(map[string]time.Time)}
}

func (r *recordingScheduler) Schedule(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.armed[id] = at
	r.scheduled++
}

func (r *recordingScheduler) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.armed[id]
	delete(r.armed, id)
	if ok {
		r.cancelled++
	}
	return ok
}

func (r *recordingScheduler) deadline(id string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.armed[id]
	return t, ok
}

type fixture struct {
	store  *MemoryStore
	clock  *fakeClock
	timers *recordingScheduler
	signer *qrtoken.Signer
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, 60*time.Second, 60*time.Second)
}

func newFixtureWith(t *testing.T, window, expiry time.Duration) *fixture {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()
	seed := []User{
		{ID: "T1", Name: "Dr. Rao", Role: RoleTeacher},
		{ID: "A1", Name: "Admin", Role: RoleAdmin},
		{ID: "S1", Name: "Asha", Role: RoleStudent, Cohort: cse},
		{ID: "S2", Name: "Bilal", Role: RoleStudent, Cohort: cse},
		{ID: "S3", Name: "Chen", Role: RoleStudent, Cohort: cse},
		{ID: "X1", Name: "Dara", Role: RoleStudent, Cohort: ece},
	}
	for _, u := range seed {
		if err := store.UpsertUser(ctx, u); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	_ = store.UpsertTimeslot(ctx, Timeslot{ID: "slot-1", Cohort: cse, DayOfWeek: 1, StartTime: "09:00", EndTime: "10:00"})

	clock := &fakeClock{t: monday}
	timers := newRecordingScheduler()
	signer := qrtoken.NewSigner("test-key", "qrattend")
	svc := NewService(store, signer, timers, Config{
		Window:      window,
		TokenExpiry: expiry,
		Location:    time.UTC,
		Now:         clock.Now,
	}, zap.NewNop())
	return &fixture{store: store, clock: clock, timers: timers, signer: signer, svc: svc}
}

func (f *fixture) start(t *testing.T) StartResult {
	t.Helper()
	res, err := f.svc.Manager.StartSession(context.Background(), "T1", "Compilers", cse)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return res
}

func (f *fixture) scan(t *testing.T, token, studentID string) ScanResult {
	t.Helper()
	res, err := f.svc.Validator.SubmitScan(context.Background(), token, studentID)
	if err != nil {
		t.Fatalf("SubmitScan: %v", err)
	}
	return res
}

func (f *fixture) records(t *testing.T, sessionID string) map[string]PresenceStatus {
	t.Helper()
	recs, err := f.store.ListPresenceRecords(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("ListPresenceRecords: %v", err)
	}
	out := make(map[string]PresenceStatus, len(recs))
	for _, r := range recs {
		if _, dup := out[r.StudentID]; dup {
			t.Fatalf("duplicate record for %s", r.StudentID)
		}
		out[r.StudentID] = r.Status
	}
	return out
}

func (f *fixture) session(t *testing.T, id string) Session {
	t.Helper()
	s, err := f.store.GetSession(context.Background(), id)
	if err != nil || s == nil {
		t.Fatalf("GetSession(%s): %v", id, err)
	}
	return *s
}

func expectRejected(t *testing.T, res ScanResult, want *Error) {
	t.Helper()
	if res.Accepted {
		t.Fatalf("expected rejection %s, scan was accepted", want.Code)
	}
	if res.Code != want.Code {
		t.Fatalf("expected %s, got %s (%s)", want.Code, res.Code, res.Message)
	}
	if res.Message != want.Message {
		t.Errorf("expected message %q, got %q", want.Message, res.Message)
	}
}
