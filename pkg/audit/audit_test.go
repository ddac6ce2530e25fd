package audit

import (
	"path/filepath"
	"testing"
	"time"
)

func TestJSONLLoggerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "events.jsonl")
	l, err := NewJSONLLogger(path)
	if err != nil {
		t.Fatalf("NewJSONLLogger: %v", err)
	}

	l.Record(KindDecision, map[string]any{"action": "block", "policy": "default"})
	l.Record(KindPoisoning, map[string]any{"phrase": "give me a cookie"})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Kind != KindDecision || events[1].Kind != KindPoisoning {
		t.Errorf("kinds = %s, %s", events[0].Kind, events[1].Kind)
	}
	if events[0].ID == "" || events[0].ID == events[1].ID {
		t.Error("event ids missing or colliding")
	}
	if events[0].Details["action"] != "block" {
		t.Errorf("details = %v", events[0].Details)
	}
	if events[0].Timestamp.IsZero() {
		t.Error("missing timestamp")
	}
}

func TestJSONLLoggerTimestampsUTC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	l, err := NewJSONLLogger(path)
	if err != nil {
		t.Fatalf("NewJSONLLogger: %v", err)
	}
	fixed := time.Date(2026, 5, 1, 9, 30, 0, 0, time.FixedZone("X", 3600))
	l.now = func() time.Time { return fixed }
	l.Record(KindSnapshot, nil)
	l.Close()

	events, err := ReadAll(path)
	if err != nil || len(events) != 1 {
		t.Fatalf("events=%v err=%v", events, err)
	}
	if !events[0].Timestamp.Equal(fixed) {
		t.Errorf("timestamp = %v, want %v", events[0].Timestamp, fixed)
	}
}

func TestReadAllMissingFile(t *testing.T) {
	events, err := ReadAll(filepath.Join(t.TempDir(), "absent.jsonl"))
	if err != nil || events != nil {
		t.Fatalf("events=%v err=%v, want nil/nil", events, err)
	}
}

func TestRecordAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	l, err := NewJSONLLogger(path)
	if err != nil {
		t.Fatalf("NewJSONLLogger: %v", err)
	}
	l.Close()
	// Must not panic or error out of the decision path.
	l.Record(KindDecision, nil)
}

func TestNewJSONLLoggerEmptyPath(t *testing.T) {
	if _, err := NewJSONLLogger(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
