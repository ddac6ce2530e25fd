// Package scanner defines the detector contract consumed by the risk engine
// and the orchestrator that fans requests out across all registered detectors.
//
// A Scanner is anything that can turn text into a bounded confidence score
// within a bounded time. The orchestrator has no knowledge of how a score is
// computed - pattern matchers, ONNX classifiers and remote services all
// register through the same interface.
package scanner

import (
	"context"
	"fmt"
	"time"
)

// Scanner is the detector contract. Implementations must be safe for
// concurrent use and side-effect-free with respect to each other: the
// orchestrator guarantees no ordering or mutual visibility between scanners.
type Scanner interface {
	// ID returns a stable identifier used in score breakdowns and failure lists.
	ID() string

	// Scan analyzes text and returns a confidence score in [0,1], whether the
	// scanner itself considers the text a detection, and a short evidence
	// string explaining the score. The caller bounds the call via ctx.
	Scan(ctx context.Context, text string) (score float64, detected bool, evidence string, err error)
}

// ScanResult is one scanner's verdict for one request. Created per request,
// never persisted.
type ScanResult struct {
	ScannerID string        `json:"scanner_id"`
	Score     float64       `json:"score"`
	Detected  bool          `json:"detected"`
	Evidence  string        `json:"evidence,omitempty"`
	Latency   time.Duration `json:"latency_ns"`
	Err       error         `json:"-"`
}

// Failed reports whether this result represents a scanner failure rather
// than a verdict. Failed results are excluded from aggregation.
func (r ScanResult) Failed() bool {
	return r.Err != nil
}

// registration pairs a scanner with its per-scanner timeout. A local pattern
// matcher and a network-bound classifier have different acceptable latencies,
// so each registration carries its own bound in addition to the overall
// request deadline.
type registration struct {
	scanner Scanner
	timeout time.Duration
}

// validateRegistration rejects unusable registrations at startup rather than
// at request time.
func validateRegistration(s Scanner, timeout time.Duration) error {
	if s == nil {
		return fmt.Errorf("scanner is nil")
	}
	if s.ID() == "" {
		return fmt.Errorf("scanner has empty ID")
	}
	if timeout <= 0 {
		return fmt.Errorf("scanner %q: timeout must be positive, got %v", s.ID(), timeout)
	}
	return nil
}

// clamp bounds a score into [0,1]. Scanners are trusted to stay in range but
// a malformed score must never escape into aggregation.
func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
