package attendance

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestValidator_Accepts(t *testing.T) {
	f := newFixture(t)
	res := f.start(t)
	f.clock.Advance(10 * time.Second)

	got := f.scan(t, res.Token, "S1")
	if !got.Accepted {
		t.Fatalf("expected acceptance, got %s", got.Code)
	}
	if got.Subject != "Compilers" || got.Teacher != "Dr. Rao" || got.Window != "09:00 - 10:00" {
		t.Errorf("unexpected confirmation %+v", got)
	}
	if !strings.Contains(got.Message, "Compilers") || !strings.Contains(got.Message, "Dr. Rao") {
		t.Errorf("confirmation should name subject and teacher: %q", got.Message)
	}
	if f.records(t, res.SessionID)["S1"] != PresencePresent {
		t.Error("expected PRESENT record for S1")
	}
}

func TestValidator_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("malformed", func(t *testing.T) {
		f := newFixture(t)
		f.start(t)
		expectRejected(t, f.scan(t, `{"classId":"x"}`, "S1"), ErrMalformedToken)
	})

	t.Run("expired token", func(t *testing.T) {
		f := newFixtureWith(t, 5*time.Minute, 60*time.Second)
		res := f.start(t)
		f.clock.Advance(61 * time.Second)
		expectRejected(t, f.scan(t, res.Token, "S1"), ErrTokenExpired)
	})

	t.Run("unknown session", func(t *testing.T) {
		f := newFixture(t)
		tok, _ := f.signer.Issue("no-such-session", "T1", f.clock.Now())
		expectRejected(t, f.scan(t, tok, "S1"), ErrSessionNotFound)
	})

	t.Run("teacher mismatch", func(t *testing.T) {
		f := newFixture(t)
		res := f.start(t)
		tok, _ := f.signer.Issue(res.SessionID, "T-other", f.clock.Now())
		expectRejected(t, f.scan(t, tok, "S1"), ErrTokenSessionMismatch)
	})

	t.Run("invalid student", func(t *testing.T) {
		f := newFixture(t)
		res := f.start(t)
		expectRejected(t, f.scan(t, res.Token, "nobody"), ErrInvalidStudent)
		expectRejected(t, f.scan(t, res.Token, "A1"), ErrInvalidStudent)
		expectRejected(t, f.scan(t, res.Token, "T1"), ErrInvalidStudent)
	})

	t.Run("not enrolled", func(t *testing.T) {
		f := newFixture(t)
		res := f.start(t)
		expectRejected(t, f.scan(t, res.Token, "X1"), ErrNotEnrolled)
		if rec, _ := f.store.FindPresenceRecord(ctx, "X1", res.SessionID); rec != nil {
			t.Error("rejected scan must not create a record")
		}
	})

	t.Run("already marked", func(t *testing.T) {
		f := newFixture(t)
		res := f.start(t)
		f.scan(t, res.Token, "S1")
		expectRejected(t, f.scan(t, res.Token, "S1"), ErrAlreadyMarked)
	})
}

func TestValidator_SessionClosedBeforeTokenExpires(t *testing.T) {
	f := newFixtureWith(t, 30*time.Second, 60*time.Second)
	res := f.start(t)

	f.clock.Advance(40 * time.Second)
	expectRejected(t, f.scan(t, res.Token, "S1"), ErrSessionNotActive)
}

func TestValidator_ExpiredTokenCheckedBeforeSession(t *testing.T) {
	f := newFixture(t)
	res := f.start(t)
	if _, err := f.svc.Manager.StopSession(context.Background(), res.SessionID); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	f.clock.Advance(2 * time.Minute)
	expectRejected(t, f.scan(t, res.Token, "S1"), ErrTokenExpired)
}

func TestValidator_ConcurrentScansSameStudent(t *testing.T) {
	f := newFixture(t)
	res := f.start(t)

	const n = 32
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		marked   int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := f.svc.Validator.SubmitScan(context.Background(), res.Token, "S2")
			if err != nil {
				t.Errorf("SubmitScan: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case r.Accepted:
				accepted++
			case r.Code == ErrAlreadyMarked.Code:
				marked++
			default:
				t.Errorf("unexpected rejection %s", r.Code)
			}
		}()
	}
	wg.Wait()

	if accepted != 1 || marked != n-1 {
		t.Errorf("expected 1 accepted and %d AlreadyMarked, got %d and %d", n-1, accepted, marked)
	}
	if got := len(f.records(t, res.SessionID)); got != 1 {
		t.Errorf("expected exactly one record, got %d", got)
	}
}

type failingTimeslots struct {
	*MemoryStore
}

func (failingTimeslots) GetTimeslot(context.Context, string) (*Timeslot, error) {
	return nil, errors.New("connection reset")
}

func TestValidator_ConfirmationLookupFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	res := f.start(t)

	core, logs := observer.New(zapcore.WarnLevel)
	svc := NewService(failingTimeslots{f.store}, f.signer, f.timers, Config{
		Location: time.UTC,
		Now:      f.clock.Now,
	}, zap.New(core))

	got, err := svc.Validator.SubmitScan(context.Background(), res.Token, "S1")
	if err != nil || !got.Accepted {
		t.Fatalf("scan should still be accepted: %+v (%v)", got, err)
	}
	if got.Window != "" {
		t.Errorf("window should be empty when the lookup fails, got %q", got.Window)
	}
	if n := logs.FilterMessage("confirmation timeslot lookup failed").Len(); n != 1 {
		t.Errorf("expected one warning, got %d", n)
	}
}
