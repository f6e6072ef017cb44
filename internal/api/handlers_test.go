package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"qrattend/internal/attendance"
	"qrattend/internal/qrtoken"
)

var monday = time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

type stubHealth bool

func (s stubHealth) Healthy(context.Context) bool { return bool(s) }

func newTestRouter(t *testing.T, health map[string]HealthChecker) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	store := attendance.NewMemoryStore()
	cse := attendance.Cohort{Year: "3", Branch: "CSE"}
	users := []attendance.User{
		{ID: "T1", Name: "Dr. Rao", Role: attendance.RoleTeacher},
		{ID: "S1", Name: "Asha", Role: attendance.RoleStudent, Cohort: cse},
		{ID: "S2", Name: "Bilal", Role: attendance.RoleStudent, Cohort: cse},
		{ID: "S3", Name: "Chen", Role: attendance.RoleStudent, Cohort: cse},
	}
	for _, u := range users {
		if err := store.UpsertUser(ctx, u); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	_ = store.UpsertTimeslot(ctx, attendance.Timeslot{ID: "slot-1", Cohort: cse, DayOfWeek: 1, StartTime: "09:00", EndTime: "10:00"})

	now := func() time.Time { return monday }
	svc := attendance.NewService(store, qrtoken.NewSigner("test-key", "qrattend"), nil, attendance.Config{
		Location: time.UTC,
		Now:      now,
	}, zap.NewNop())

	return NewRouter(Deps{
		Service:  svc,
		Location: time.UTC,
		Health:   health,
		Logger:   zap.NewNop(),
		Now:      now,
	})
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func startSession(t *testing.T, r http.Handler) attendance.StartResult {
	t.Helper()
	w := do(t, r, http.MethodPost, "/v1/sessions", map[string]string{
		"teacher_id": "T1", "subject": "Compilers", "year": "3", "branch": "CSE",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("start: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var res attendance.StartResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode start: %v", err)
	}
	return res
}

func TestSessionFlow(t *testing.T) {
	r := newTestRouter(t, nil)
	res := startSession(t, r)
	if res.Token == "" || res.CohortSize != 3 {
		t.Fatalf("unexpected start result %+v", res)
	}

	w := do(t, r, http.MethodPost, "/v1/scans", map[string]string{"token": res.Token, "student_id": "S1"})
	if w.Code != http.StatusOK {
		t.Fatalf("scan: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if body := decodeBody(t, w); body["accepted"] != true || body["subject"] != "Compilers" {
		t.Errorf("unexpected scan body %v", body)
	}

	w = do(t, r, http.MethodPost, "/v1/scans", map[string]string{"token": res.Token, "student_id": "S1"})
	if w.Code != http.StatusConflict {
		t.Fatalf("repeat scan: expected 409, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "AlreadyMarked" {
		t.Errorf("expected AlreadyMarked, got %v", body["code"])
	}

	w = do(t, r, http.MethodGet, "/v1/sessions/"+res.SessionID+"/progress", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("progress: expected 200, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["present"] != float64(1) || body["total"] != float64(3) {
		t.Errorf("unexpected progress %v", body)
	}

	w = do(t, r, http.MethodPost, "/v1/sessions/"+res.SessionID+"/stop", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	sum := decodeBody(t, w)["summary"].(map[string]any)
	if sum["present_count"] != float64(1) || sum["absent_count"] != float64(2) {
		t.Errorf("unexpected summary %v", sum)
	}

	w = do(t, r, http.MethodPost, "/v1/sessions/"+res.SessionID+"/finalize", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("finalize twice: expected 409, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["code"] != "AlreadyFinalized" || body["summary"] == nil {
		t.Errorf("expected AlreadyFinalized with summary, got %v", body)
	}

	w = do(t, r, http.MethodPost, "/v1/scans", map[string]string{"token": res.Token, "student_id": "S2"})
	if w.Code != http.StatusConflict {
		t.Errorf("late scan: expected 409, got %d", w.Code)
	}
}

func TestScanRejections(t *testing.T) {
	r := newTestRouter(t, nil)
	res := startSession(t, r)

	tests := []struct {
		name   string
		body   map[string]string
		status int
		code   string
	}{
		{"missing fields", map[string]string{"token": res.Token}, http.StatusBadRequest, "InvalidRequest"},
		{"malformed", map[string]string{"token": "not-a-token", "student_id": "S1"}, http.StatusBadRequest, "MalformedToken"},
		{"unknown student", map[string]string{"token": res.Token, "student_id": "ghost"}, http.StatusNotFound, "InvalidStudent"},
		{"teacher scanning", map[string]string{"token": res.Token, "student_id": "T1"}, http.StatusNotFound, "InvalidStudent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, http.MethodPost, "/v1/scans", tt.body)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if got := decodeBody(t, w)["code"]; got != tt.code {
				t.Errorf("expected code %s, got %v", tt.code, got)
			}
		})
	}
}

func TestCurrentSlot(t *testing.T) {
	r := newTestRouter(t, nil)

	w := do(t, r, http.MethodGet, "/v1/timeslots/current?year=3&branch=CSE", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["id"] != "slot-1" {
		t.Errorf("expected slot-1, got %v", body["id"])
	}

	if w := do(t, r, http.MethodGet, "/v1/timeslots/current?year=3", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing branch: expected 400, got %d", w.Code)
	}
	w = do(t, r, http.MethodGet, "/v1/timeslots/current?year=2&branch=ECE", nil)
	if w.Code != http.StatusNotFound || decodeBody(t, w)["code"] != "NoActiveSlot" {
		t.Errorf("expected 404 NoActiveSlot, got %d %s", w.Code, w.Body.String())
	}
}

func TestQRImage(t *testing.T) {
	r := newTestRouter(t, nil)
	res := startSession(t, r)

	w := do(t, r, http.MethodGet, "/v1/sessions/"+res.SessionID+"/qr.png", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %s", ct)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("body is not a PNG")
	}

	if w := do(t, r, http.MethodGet, "/v1/sessions/missing/qr.png", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown session: expected 404, got %d", w.Code)
	}
}

func TestCancelDay(t *testing.T) {
	r := newTestRouter(t, nil)

	w := do(t, r, http.MethodPost, "/v1/admin/cancellations", map[string]string{"year": "3", "branch": "CSE", "date": "02-03-2026"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad date: expected 400, got %d", w.Code)
	}
	w = do(t, r, http.MethodPost, "/v1/admin/cancellations", map[string]string{"year": "3", "branch": "CSE", "date": "2026-03-02"})
	if w.Code != http.StatusNotFound || decodeBody(t, w)["code"] != "NoScheduledSessions" {
		t.Errorf("expected 404 NoScheduledSessions, got %d %s", w.Code, w.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t, map[string]HealthChecker{"db": stubHealth(true), "redis": stubHealth(false)})
	w := do(t, r, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["db"] != true || body["redis"] != false || body["status"] != "degraded" {
		t.Errorf("unexpected body %v", body)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}
