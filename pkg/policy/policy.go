// Package policy turns aggregated risk and adaptive signals into one final
// decision. Policies are named, immutable documents evaluated top-to-bottom
// with first-match-wins semantics: operators express precedence by rule order,
// not by score comparison. All thresholds and weights live in the document,
// never in code.
package policy

import (
	"fmt"
	"time"
)

// Action is the decision verb returned to the caller.
type Action string

const (
	ActionApprove          Action = "approve"
	ActionBlock            Action = "block"
	ActionChallenge        Action = "challenge"
	ActionRewriteSuggested Action = "rewrite_suggested"
	ActionAudit            Action = "audit"
	ActionEscalate         Action = "escalate"
)

// ValidAction reports whether a is one of the known decision verbs.
func ValidAction(a Action) bool {
	switch a {
	case ActionApprove, ActionBlock, ActionChallenge, ActionRewriteSuggested, ActionAudit, ActionEscalate:
		return true
	}
	return false
}

// Rule is one operator-defined entry in a policy's ordered rule list. A rule
// matches when the overall score reaches MinScore and, if RequireMatch is set,
// at least one active adaptive phrase matched the request.
type Rule struct {
	ID           string  `yaml:"id"`
	MinScore     float64 `yaml:"min_score"`
	RequireMatch bool    `yaml:"require_match"`
	Action       Action  `yaml:"action"`
	Reason       string  `yaml:"reason"`
}

// Policy is a named, immutable decision configuration. Instances are never
// mutated after load; reconfiguration swaps in a whole new Policy, so a
// request always sees one internally consistent version.
type Policy struct {
	Name string `yaml:"name"`

	// HardBlockThreshold is the overall score at which a request is blocked
	// before any operator rules are consulted.
	HardBlockThreshold float64 `yaml:"hard_block_threshold"`

	// SeverityMultiplier scales the overall score when active adaptive
	// phrases match, before the threshold is re-tested.
	SeverityMultiplier float64 `yaml:"severity_multiplier"`

	// Weights is the per-scanner weight table handed to the aggregator.
	Weights map[string]float64 `yaml:"weights"`

	// Rules is evaluated in order after the built-in checks.
	Rules []Rule `yaml:"rules"`

	// DefaultAction is forced under degraded evaluation. Defaults to
	// escalate: an under-observed request is never silently approved.
	DefaultAction Action `yaml:"default_action"`
}

// Built-in rule identifiers carried in Decision.TriggeringRule.
const (
	RuleDegraded           = "builtin:degraded_mode"
	RuleHardBlock          = "builtin:hard_block"
	RuleAdaptiveEscalation = "builtin:adaptive_escalation"
	RuleDefaultApprove     = "builtin:default_approve"
)

// Decision is the engine's final verdict for one request.
type Decision struct {
	Action         Action    `json:"action"`
	Confidence     float64   `json:"confidence"`
	Reason         string    `json:"reason"`
	TriggeringRule string    `json:"triggering_rule"`
	Timestamp      time.Time `json:"timestamp"`
}

// Validate checks a policy document entry. Invalid policies are rejected at
// load time so a request can trust every field without re-checking.
func (p *Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("policy missing name")
	}
	if p.HardBlockThreshold <= 0 || p.HardBlockThreshold > 1 {
		return fmt.Errorf("policy %q: hard_block_threshold %v out of (0,1]", p.Name, p.HardBlockThreshold)
	}
	if p.SeverityMultiplier != 0 && p.SeverityMultiplier < 1 {
		return fmt.Errorf("policy %q: severity_multiplier %v below 1", p.Name, p.SeverityMultiplier)
	}
	for scanner, w := range p.Weights {
		if w < 0 || w > 1 {
			return fmt.Errorf("policy %q: weight %v for scanner %q out of [0,1]", p.Name, w, scanner)
		}
	}
	if p.DefaultAction != "" && !ValidAction(p.DefaultAction) {
		return fmt.Errorf("policy %q: unknown default_action %q", p.Name, p.DefaultAction)
	}
	seen := make(map[string]bool, len(p.Rules))
	for i, r := range p.Rules {
		if r.ID == "" {
			return fmt.Errorf("policy %q: rule %d missing id", p.Name, i)
		}
		if seen[r.ID] {
			return fmt.Errorf("policy %q: duplicate rule id %q", p.Name, r.ID)
		}
		seen[r.ID] = true
		if r.MinScore < 0 || r.MinScore > 1 {
			return fmt.Errorf("policy %q: rule %q min_score %v out of [0,1]", p.Name, r.ID, r.MinScore)
		}
		if !ValidAction(r.Action) {
			return fmt.Errorf("policy %q: rule %q has unknown action %q", p.Name, r.ID, r.Action)
		}
	}
	return nil
}

// normalize fills validated defaults in place, after Validate has passed.
func (p *Policy) normalize() {
	if p.SeverityMultiplier == 0 {
		p.SeverityMultiplier = 1.5
	}
	if p.DefaultAction == "" {
		p.DefaultAction = ActionEscalate
	}
}
