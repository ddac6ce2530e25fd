// Package learning turns confirmed blocks into future blocking signals while
// resisting adversarial poisoning. It owns the adaptive phrase table: phrases
// are extracted from confirmed attacks, scored, promoted behind a poisoning
// gate, and never hard-deleted - a phrase only ever transitions status, so the
// full audit history is preserved. Versioned snapshots make rollback exact
// rather than best-effort.
package learning

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an adaptive phrase.
type Status string

const (
	// StatusPending - extracted but not yet trusted for enforcement.
	StatusPending Status = "pending"
	// StatusActive - promoted; participates in policy evaluation.
	StatusActive Status = "active"
	// StatusDeprecated - retired, kept for audit.
	StatusDeprecated Status = "deprecated"
	// StatusFlagged - poisoning suspected; excluded from promotion and
	// surfaced for review.
	StatusFlagged Status = "flagged"
)

// validTransitions encodes the one-way lifecycle: pending→active→deprecated,
// with pending/active→flagged. Anything else requires an explicit rollback.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusActive, StatusDeprecated, StatusFlagged},
	StatusActive:  {StatusDeprecated, StatusFlagged},
}

// CanTransition reports whether a forward status change is allowed.
func CanTransition(from, to Status) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Phrase is a learned n-gram signal extracted from confirmed attacks.
// All fields are derived phrase statistics; the originating text is never
// persisted.
type Phrase struct {
	// Text is the normalized n-gram key.
	Text string `json:"phrase"`

	OccurrenceCount int       `json:"occurrence_count"`
	BlockedCount    int       `json:"blocked_count"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`

	// ConfidenceScore is an exponential moving average in [0,1] blending
	// occurrence volume, block ratio, source diversity and age.
	ConfidenceScore float64 `json:"confidence_score"`

	Status Status `json:"status"`

	// VersionIntroduced is the snapshot version current when the phrase was
	// first recorded. Rollback uses it to deprecate later arrivals.
	VersionIntroduced uint64 `json:"version_introduced"`

	// Sources is the set of detection channels that contributed sightings.
	Sources map[string]bool `json:"sources"`

	// Approved is set by an external reviewer when human-approval mode is
	// configured; without it promotion is withheld in that mode.
	Approved bool `json:"approved,omitempty"`
}

// Clone returns a deep copy. Snapshots and published read views must never
// alias the writer's records.
func (p *Phrase) Clone() *Phrase {
	cp := *p
	cp.Sources = make(map[string]bool, len(p.Sources))
	for s := range p.Sources {
		cp.Sources[s] = true
	}
	return &cp
}

// transition applies a forward status change, rejecting backward moves.
func (p *Phrase) transition(to Status) error {
	if p.Status == to {
		return nil
	}
	if !CanTransition(p.Status, to) {
		return fmt.Errorf("phrase %q: invalid status transition %s -> %s", p.Text, p.Status, to)
	}
	p.Status = to
	return nil
}

// BlockRatio is blocked sightings over total sightings. A phrase seen many
// times without ever contributing to a real block is the primary poisoning
// signal.
func (p *Phrase) BlockRatio() float64 {
	if p.OccurrenceCount == 0 {
		return 0
	}
	return float64(p.BlockedCount) / float64(p.OccurrenceCount)
}
