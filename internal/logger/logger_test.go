package logger

import "testing"

func TestNew(t *testing.T) {
	if _, err := New("debug", "console"); err != nil {
		t.Fatalf("console logger: %v", err)
	}
	if _, err := New("info", "json"); err != nil {
		t.Fatalf("json logger: %v", err)
	}
	if _, err := New("loud", "json"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
