package qrtoken

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSigner_RoundTrip(t *testing.T) {
	s := NewSigner("secret", "qrattend")
	issued := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

	tok, err := s.Issue("sess-1", "teacher-1", issued)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	p, err := s.Parse(tok)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.SessionID != "sess-1" || p.TeacherID != "teacher-1" {
		t.Errorf("unexpected payload %+v", p)
	}
	if !p.IssuedAt().Equal(issued) {
		t.Errorf("issued at %s, want %s", p.IssuedAt(), issued)
	}
}

func TestSigner_OldTokenStillParses(t *testing.T) {
	s := NewSigner("secret", "qrattend")
	tok, _ := s.Issue("sess-1", "teacher-1", time.Now().Add(-24*time.Hour))
	if _, err := s.Parse(tok); err != nil {
		t.Fatalf("age must not affect parsing: %v", err)
	}
}

func TestSigner_Rejects(t *testing.T) {
	s := NewSigner("secret", "qrattend")
	good, _ := s.Issue("sess-1", "teacher-1", time.Now())
	foreign, _ := NewSigner("other", "qrattend").Issue("sess-1", "teacher-1", time.Now())
	wrongIssuer, _ := NewSigner("secret", "someone").Issue("sess-1", "teacher-1", time.Now())
	missingTeacher, _ := s.Issue("sess-1", "", time.Now())
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{SessionID: "s", TeacherID: "t", IssuedAtMillis: 1}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	cases := map[string]string{
		"empty":           "",
		"garbage":         "not-a-token",
		"raw json":        `{"classId":"c","timestamp":1,"teacherId":"t"}`,
		"tampered":        good + "x",
		"foreign key":     foreign,
		"wrong issuer":    wrongIssuer,
		"missing teacher": missingTeacher,
		"alg none":        none,
	}
	for name, tok := range cases {
		if _, err := s.Parse(tok); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}
