// Package engine wires the fan-out, aggregation, adaptive learning and policy
// evaluation into the decision API exposed to the transport layer. The caller
// sees one synchronous Evaluate; everything concurrent stays inside.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/bulwarkai/bulwark/pkg/audit"
	"github.com/bulwarkai/bulwark/pkg/httputil"
	"github.com/bulwarkai/bulwark/pkg/learning"
	"github.com/bulwarkai/bulwark/pkg/policy"
	"github.com/bulwarkai/bulwark/pkg/risk"
	"github.com/bulwarkai/bulwark/pkg/scanner"
)

// SourceConfirmedBlock is the detection channel recorded for phrases learned
// through the confirmation feedback API.
const SourceConfirmedBlock = "confirmed_block"

// maxCarrierLen bounds the context snippet kept per sighting for the
// diversity check.
const maxCarrierLen = 400

// Engine is the risk decision engine facade.
type Engine struct {
	orchestrator *scanner.Orchestrator
	loader       *policy.Loader
	store        *learning.Store
	auditor      audit.Logger

	// learnSem bounds concurrent fire-and-forget learning work so a burst
	// of confirmations cannot pile up goroutines.
	learnSem *httputil.Semaphore
	now      func() time.Time
}

// Config assembles an Engine. Orchestrator, Loader and Store are required;
// a nil Auditor disables audit logging.
type Config struct {
	Orchestrator *scanner.Orchestrator
	Loader       *policy.Loader
	Store        *learning.Store
	Auditor      audit.Logger

	// LearnConcurrency bounds in-flight learning tasks (default 64).
	LearnConcurrency int
}

// New validates the wiring and builds the engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("engine needs an orchestrator")
	}
	if cfg.Loader == nil {
		return nil, fmt.Errorf("engine needs a policy loader")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine needs a learning store")
	}
	auditor := cfg.Auditor
	if auditor == nil {
		auditor = audit.Discard{}
	}
	concurrency := cfg.LearnConcurrency
	if concurrency <= 0 {
		concurrency = 64
	}
	return &Engine{
		orchestrator: cfg.Orchestrator,
		loader:       cfg.Loader,
		store:        cfg.Store,
		auditor:      auditor,
		learnSem:     httputil.NewSemaphore(concurrency),
		now:          time.Now,
	}, nil
}

// Evaluate runs the full decision path for one request: fan-out, aggregation,
// adaptive matching, policy evaluation. The caller always receives a Decision
// when the policy name resolves; scanner trouble degrades the decision, it
// never surfaces as an error. No learning-store write happens on this path.
func (e *Engine) Evaluate(ctx context.Context, text, policyName string) (policy.Decision, error) {
	pol, err := e.loader.Active().Get(policyName)
	if err != nil {
		return policy.Decision{}, err
	}

	eval := e.orchestrator.Evaluate(ctx, text)
	agg := risk.Aggregate(eval.Results, eval.Failed, pol.Weights)
	matches := e.store.ActiveMatches(text)

	decision := policy.Decide(agg, matches, eval.Degraded, pol, e.now())

	e.auditor.Record(audit.KindDecision, map[string]any{
		"policy":          pol.Name,
		"action":          decision.Action,
		"triggering_rule": decision.TriggeringRule,
		"reason":          decision.Reason,
		"overall_score":   agg.OverallScore,
		"scanners_failed": agg.ScannersFailed,
		"degraded":        eval.Degraded,
		"adaptive_hits":   len(matches),
	})
	return decision, nil
}

// Confirm feeds a confirmed block back into the learning store. The work runs
// asynchronously after this call returns; learning never adds latency or a
// failure mode to the decision path. Confirmations below the extraction
// threshold are dropped, as are confirmations arriving while the learning
// pool is saturated.
func (e *Engine) Confirm(text string, confidence float64) {
	if confidence < e.store.ExtractionThreshold() {
		return
	}
	if !e.learnSem.TryAcquire() {
		log.Printf("[ENGINE] learning pool saturated, confirmation dropped")
		return
	}
	go func() {
		defer e.learnSem.Release()
		e.learn(text, confidence)
	}()
}

func (e *Engine) learn(text string, confidence float64) {
	carrier := text
	if len(carrier) > maxCarrierLen {
		carrier = carrier[:maxCarrierLen]
	}

	candidates := learning.ExtractCandidates(text)
	e.auditor.Record(audit.KindConfirm, map[string]any{
		"confidence": confidence,
		"candidates": len(candidates),
	})

	for _, phrase := range candidates {
		p, err := e.store.Record(phrase, SourceConfirmedBlock, confidence, true, carrier)
		if err != nil {
			log.Printf("[ENGINE] recording %q failed: %v", phrase, err)
			continue
		}
		if p.Status == learning.StatusFlagged {
			e.auditor.Record(audit.KindPoisoning, map[string]any{"phrase": phrase})
			continue
		}
		if p.Status != learning.StatusPending {
			continue
		}
		e.tryPromote(phrase)
	}
}

// tryPromote attempts promotion and audits the interesting outcomes. Being
// below threshold or awaiting approval is routine, not noteworthy.
func (e *Engine) tryPromote(phrase string) {
	p, err := e.store.Promote(phrase)
	switch {
	case err == nil:
		e.auditor.Record(audit.KindPromotion, map[string]any{
			"phrase":      phrase,
			"occurrences": p.OccurrenceCount,
			"confidence":  p.ConfidenceScore,
		})
	case errors.Is(err, learning.ErrPoisoningSuspected):
		e.auditor.Record(audit.KindPoisoning, map[string]any{
			"phrase": phrase,
			"reason": err.Error(),
		})
	case errors.Is(err, learning.ErrBelowPromotionThreshold),
		errors.Is(err, learning.ErrApprovalRequired),
		errors.Is(err, learning.ErrNotPromotable):
		// Expected gates; nothing to report.
	default:
		log.Printf("[ENGINE] promoting %q failed: %v", phrase, err)
	}
}

// Snapshot exports the current phrase table and audits the new version.
func (e *Engine) Snapshot() (*learning.Snapshot, error) {
	sn, err := e.store.Snapshot()
	if err != nil {
		return nil, err
	}
	e.auditor.Record(audit.KindSnapshot, map[string]any{
		"version": sn.Version,
		"phrases": len(sn.Phrases),
	})
	return sn, nil
}

// Rollback restores the phrase table to a prior snapshot version.
func (e *Engine) Rollback(version uint64) error {
	if err := e.store.Rollback(version); err != nil {
		return err
	}
	e.auditor.Record(audit.KindRollback, map[string]any{"version": version})
	return nil
}

// Store exposes the learning store for the operator surface (approval,
// deprecation, stats). Decision-path callers must not use it for writes.
func (e *Engine) Store() *learning.Store { return e.store }

// Policies exposes the active policy set.
func (e *Engine) Policies() *policy.Set { return e.loader.Active() }

// ReloadPolicies re-reads the policy document, keeping the active set on
// failure.
func (e *Engine) ReloadPolicies() error { return e.loader.Reload() }

// Stats reports engine-level counters for the operator surface.
type Stats struct {
	Scanners []string                `json:"scanners"`
	Learning learning.Stats          `json:"learning"`
	LearnSem httputil.SemaphoreStats `json:"learning_pool"`
	Policies []string                `json:"policies"`
}

// Summary collects current stats.
func (e *Engine) Summary() Stats {
	return Stats{
		Scanners: e.orchestrator.ScannerIDs(),
		Learning: e.store.Summary(),
		LearnSem: e.learnSem.Stats(),
		Policies: e.loader.Active().Names(),
	}
}
