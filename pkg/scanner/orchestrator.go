package scanner

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// Orchestrator fans a request out to all registered scanners concurrently,
// enforces per-scanner and overall deadlines, and collects whatever results
// arrive. A scanner that times out, panics, or returns a malformed score is
// reported in the failed list and never blocks the rest of the fan-out.
type Orchestrator struct {
	mu            sync.RWMutex
	registrations []registration

	// overallTimeout bounds the whole fan-out when the caller's context
	// carries no earlier deadline.
	overallTimeout time.Duration
}

// Evaluation is the outcome of one fan-out: the surviving results, the IDs of
// scanners that failed, and whether the engine should treat the request as
// under-observed.
type Evaluation struct {
	Results []ScanResult `json:"results"`
	Failed  []string     `json:"scanners_failed"`

	// Degraded is raised when more than half of the configured scanners
	// failed. The policy engine consumes it for a conservative fallback.
	Degraded bool `json:"degraded"`
}

// NewOrchestrator creates an orchestrator with the given overall deadline for
// a single evaluation. The deadline is a ceiling; a shorter caller deadline
// always wins.
func NewOrchestrator(overallTimeout time.Duration) *Orchestrator {
	if overallTimeout <= 0 {
		overallTimeout = 5 * time.Second
	}
	return &Orchestrator{overallTimeout: overallTimeout}
}

// Register adds a scanner with its per-scanner timeout. Scanners are
// registered at startup; Register is safe to call concurrently but not
// expected to race with Evaluate in practice.
func (o *Orchestrator) Register(s Scanner, timeout time.Duration) error {
	if err := validateRegistration(s, timeout); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, reg := range o.registrations {
		if reg.scanner.ID() == s.ID() {
			return fmt.Errorf("scanner %q already registered", s.ID())
		}
	}
	o.registrations = append(o.registrations, registration{scanner: s, timeout: timeout})
	return nil
}

// ScannerIDs returns the IDs of all registered scanners in registration order.
func (o *Orchestrator) ScannerIDs() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]string, len(o.registrations))
	for i, reg := range o.registrations {
		ids[i] = reg.scanner.ID()
	}
	return ids
}

// scanOutcome travels from a scanner goroutine back to the collector.
type scanOutcome struct {
	result ScanResult
}

// Evaluate runs every registered scanner concurrently and blocks until the
// earlier of (all scanners complete) or (deadline elapses), then returns
// whatever subset succeeded. Results arriving after the deadline are
// discarded, never retroactively applied.
func (o *Orchestrator) Evaluate(ctx context.Context, text string) Evaluation {
	o.mu.RLock()
	regs := make([]registration, len(o.registrations))
	copy(regs, o.registrations)
	o.mu.RUnlock()

	if len(regs) == 0 {
		return Evaluation{Degraded: true}
	}

	ctx, cancel := context.WithTimeout(ctx, o.overallTimeout)
	defer cancel()

	// Buffered so a late scanner can always deliver and exit; the collector
	// simply stops reading once the deadline fires.
	outcomes := make(chan scanOutcome, len(regs))
	for _, reg := range regs {
		go o.runOne(ctx, reg, text, outcomes)
	}

	eval := Evaluation{}
	for range regs {
		select {
		case out := <-outcomes:
			if out.result.Failed() {
				eval.Failed = append(eval.Failed, out.result.ScannerID)
			} else {
				eval.Results = append(eval.Results, out.result)
			}
		case <-ctx.Done():
			// Whatever has not reported yet is failed. In-flight calls were
			// signaled via ctx; they are abandoned, not forcibly killed.
			eval.Failed = appendMissing(eval.Failed, eval.Results, regs)
			return o.finalize(eval, len(regs))
		}
	}
	return o.finalize(eval, len(regs))
}

// runOne invokes a single scanner under its own timeout, converting panics
// and malformed output into failed results.
func (o *Orchestrator) runOne(ctx context.Context, reg registration, text string, outcomes chan<- scanOutcome) {
	id := reg.scanner.ID()
	scanCtx, cancel := context.WithTimeout(ctx, reg.timeout)
	defer cancel()

	start := time.Now()
	result := ScanResult{ScannerID: id}

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[SCAN] scanner %s panicked: %v", id, rec)
			result.Err = fmt.Errorf("scanner %s panicked: %v", id, rec)
			result.Latency = time.Since(start)
			outcomes <- scanOutcome{result: result}
		}
	}()

	score, detected, evidence, err := reg.scanner.Scan(scanCtx, text)
	result.Latency = time.Since(start)

	switch {
	case err != nil:
		result.Err = fmt.Errorf("scanner %s: %w", id, err)
	case score != score: // NaN never enters aggregation
		result.Err = fmt.Errorf("scanner %s returned NaN score", id)
	default:
		result.Score = clamp(score)
		result.Detected = detected
		result.Evidence = evidence
	}
	outcomes <- scanOutcome{result: result}
}

// finalize sorts failures for stable output and computes the degraded flag.
func (o *Orchestrator) finalize(eval Evaluation, total int) Evaluation {
	sort.Strings(eval.Failed)
	// Strictly more than half failed means the score can no longer be
	// trusted for a normal decision.
	eval.Degraded = len(eval.Failed)*2 > total
	if eval.Degraded {
		log.Printf("[SCAN] degraded mode: %d/%d scanners failed (%v)", len(eval.Failed), total, eval.Failed)
	}
	return eval
}

// appendMissing adds every registered scanner that neither succeeded nor
// already failed to the failed list. Used when the overall deadline fires
// before all scanners report.
func appendMissing(failed []string, results []ScanResult, regs []registration) []string {
	seen := make(map[string]bool, len(results)+len(failed))
	for _, r := range results {
		seen[r.ScannerID] = true
	}
	for _, id := range failed {
		seen[id] = true
	}
	for _, reg := range regs {
		if !seen[reg.scanner.ID()] {
			failed = append(failed, reg.scanner.ID())
		}
	}
	return failed
}
