// Package audit records decision and learning events as append-only JSONL.
// Every event carries a unique id and a timestamp; the log is the source of
// truth for replaying why a request was treated the way it was.
package audit

import (
	"bytes"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind classifies audit entries.
type EventKind string

const (
	KindDecision  EventKind = "decision"
	KindConfirm   EventKind = "confirm"
	KindPromotion EventKind = "promotion"
	KindPoisoning EventKind = "poisoning_flag"
	KindSnapshot  EventKind = "snapshot"
	KindRollback  EventKind = "rollback"
)

// Event is one audit entry. Fields beyond the envelope live in Details, so
// new event kinds need no schema change.
type Event struct {
	ID        string         `json:"id"`
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// Logger is the audit sink contract. Implementations must be safe for
// concurrent use.
type Logger interface {
	Record(kind EventKind, details map[string]any)
	Close() error
}

// JSONLLogger appends events to a JSONL file, one object per line.
type JSONLLogger struct {
	mu  sync.Mutex
	f   *os.File
	now func() time.Time
}

// NewJSONLLogger creates or opens the log at path, creating parent
// directories as needed.
func NewJSONLLogger(path string) (*JSONLLogger, error) {
	if path == "" {
		return nil, os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLLogger{f: f, now: time.Now}, nil
}

// Record implements Logger. Failures are logged, never propagated: auditing
// must not become a failure mode of the decision path.
func (l *JSONLLogger) Record(kind EventKind, details map[string]any) {
	e := Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: l.now().UTC(),
		Details:   details,
	}
	data, err := json.Marshal(e)
	if err != nil {
		log.Printf("[AUDIT] marshal failed for %s event: %v", kind, err)
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return
	}
	if _, err := l.f.Write(data); err != nil {
		log.Printf("[AUDIT] write failed for %s event: %v", kind, err)
	}
}

// Close closes the underlying file.
func (l *JSONLLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// ReadAll loads every event from a JSONL audit file; torn trailing lines are
// skipped. Intended for operator tooling and tests, not the request path.
func ReadAll(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Event
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Discard is a Logger that drops everything; used when auditing is disabled.
type Discard struct{}

func (Discard) Record(EventKind, map[string]any) {}
func (Discard) Close() error                     { return nil }
