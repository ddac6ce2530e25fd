package policy

import (
	"os"
	"path/filepath"
	"testing"
)

const validDoc = `
policies:
  - name: default
    hard_block_threshold: 0.55
    default_action: escalate
    weights:
      pattern: 0.3
      classifier: 0.7
    rules:
      - id: audit-midrange
        min_score: 0.35
        action: audit
        reason: mid-range risk logged for review
  - name: strict
    hard_block_threshold: 0.3
    severity_multiplier: 2.0
    default_action: block
`

func TestParseSetValid(t *testing.T) {
	set, err := ParseSet([]byte(validDoc))
	if err != nil {
		t.Fatalf("ParseSet: %v", err)
	}

	p, err := set.Get("default")
	if err != nil {
		t.Fatalf("Get(default): %v", err)
	}
	if p.HardBlockThreshold != 0.55 {
		t.Errorf("threshold = %v, want 0.55", p.HardBlockThreshold)
	}
	if p.SeverityMultiplier != 1.5 {
		t.Errorf("severity multiplier = %v, want the 1.5 default", p.SeverityMultiplier)
	}
	if len(p.Rules) != 1 || p.Rules[0].ID != "audit-midrange" {
		t.Errorf("rules = %+v", p.Rules)
	}

	strict, err := set.Get("strict")
	if err != nil {
		t.Fatalf("Get(strict): %v", err)
	}
	if strict.DefaultAction != ActionBlock {
		t.Errorf("strict default action = %s, want block", strict.DefaultAction)
	}
	if got := set.Names(); len(got) != 2 || got[0] != "default" || got[1] != "strict" {
		t.Errorf("Names = %v", got)
	}
}

func TestParseSetRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not yaml", `{{{`},
		{"no policies", `policies: []`},
		{"missing threshold", "policies:\n  - name: p\n"},
		{"threshold above one", "policies:\n  - name: p\n    hard_block_threshold: 1.5\n"},
		{"negative weight", "policies:\n  - name: p\n    hard_block_threshold: 0.5\n    weights:\n      pattern: -0.1\n"},
		{"unknown action", "policies:\n  - name: p\n    hard_block_threshold: 0.5\n    default_action: explode\n"},
		{"unknown rule action", "policies:\n  - name: p\n    hard_block_threshold: 0.5\n    rules:\n      - id: r\n        action: explode\n"},
		{"rule missing id", "policies:\n  - name: p\n    hard_block_threshold: 0.5\n    rules:\n      - action: audit\n"},
		{"duplicate rule id", "policies:\n  - name: p\n    hard_block_threshold: 0.5\n    rules:\n      - id: r\n        action: audit\n      - id: r\n        action: block\n"},
		{"duplicate policy", "policies:\n  - name: p\n    hard_block_threshold: 0.5\n  - name: p\n    hard_block_threshold: 0.5\n"},
		{"multiplier below one", "policies:\n  - name: p\n    hard_block_threshold: 0.5\n    severity_multiplier: 0.5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSet([]byte(tt.doc)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSetGetUnknownPolicy(t *testing.T) {
	set, err := ParseSet([]byte(validDoc))
	if err != nil {
		t.Fatalf("ParseSet: %v", err)
	}
	if _, err := set.Get("nonexistent"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func writePolicyFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "policies.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing policy file: %v", err)
	}
	return path
}

func TestLoaderReloadKeepsActiveSetOnBadDocument(t *testing.T) {
	dir := t.TempDir()
	path := writePolicyFile(t, dir, validDoc)

	l, err := NewLoader(path)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}

	if err := os.WriteFile(path, []byte("policies:\n  - name: broken\n"), 0o644); err != nil {
		t.Fatalf("overwriting policy file: %v", err)
	}
	if err := l.Reload(); err == nil {
		t.Fatal("expected reload to reject the broken document")
	}

	// The previous valid set must still be active.
	if _, err := l.Active().Get("default"); err != nil {
		t.Errorf("active set lost after rejected reload: %v", err)
	}
}

func TestLoaderReloadSwapsValidDocument(t *testing.T) {
	dir := t.TempDir()
	path := writePolicyFile(t, dir, validDoc)

	l, err := NewLoader(path)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}

	updated := "policies:\n  - name: default\n    hard_block_threshold: 0.4\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("overwriting policy file: %v", err)
	}
	if err := l.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	p, err := l.Active().Get("default")
	if err != nil {
		t.Fatalf("Get after reload: %v", err)
	}
	if p.HardBlockThreshold != 0.4 {
		t.Errorf("threshold = %v, want the reloaded 0.4", p.HardBlockThreshold)
	}
}

func TestNewLoaderMissingFile(t *testing.T) {
	if _, err := NewLoader(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing policy file")
	}
}
