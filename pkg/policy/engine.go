package policy

import (
	"fmt"
	"time"

	"github.com/bulwarkai/bulwark/pkg/learning"
	"github.com/bulwarkai/bulwark/pkg/risk"
)

// Decide evaluates one request against a policy. It is a pure function of its
// arguments: identical inputs reproduce an identical Decision, including the
// triggering rule, which is what makes historical decisions replayable during
// audits.
//
// Evaluation order, first match wins:
//
//  1. degraded evaluation forces the policy's default action - an
//     under-observed request is never silently approved, whatever its score
//  2. hard block when the overall score reaches the threshold
//  3. active adaptive matches escalate severity by the configured multiplier,
//     then the threshold is re-tested
//  4. the policy's own ordered rules, top to bottom
//  5. approve
func Decide(agg risk.Aggregated, matches []*learning.Phrase, degraded bool, p *Policy, at time.Time) Decision {
	if degraded || !agg.Defined {
		return Decision{
			Action:     p.DefaultAction,
			Confidence: 0.2,
			Reason: fmt.Sprintf("degraded evaluation (%d scanners failed, %d usable); defaulting to %s",
				len(agg.ScannersFailed), len(agg.ScannersUsed), p.DefaultAction),
			TriggeringRule: RuleDegraded,
			Timestamp:      at,
		}
	}

	score := agg.OverallScore

	if score >= p.HardBlockThreshold {
		return Decision{
			Action:         ActionBlock,
			Confidence:     score,
			Reason:         fmt.Sprintf("overall risk %.3f at or above hard block threshold %.2f", score, p.HardBlockThreshold),
			TriggeringRule: RuleHardBlock,
			Timestamp:      at,
		}
	}

	if len(matches) > 0 {
		escalated := score * p.SeverityMultiplier
		if escalated > 1 {
			escalated = 1
		}
		if escalated >= p.HardBlockThreshold {
			return Decision{
				Action:     ActionBlock,
				Confidence: escalated,
				Reason: fmt.Sprintf("risk %.3f escalated to %.3f by %d learned phrase match(es)",
					score, escalated, len(matches)),
				TriggeringRule: RuleAdaptiveEscalation,
				Timestamp:      at,
			}
		}
	}

	for _, rule := range p.Rules {
		if score < rule.MinScore {
			continue
		}
		if rule.RequireMatch && len(matches) == 0 {
			continue
		}
		reason := rule.Reason
		if reason == "" {
			reason = fmt.Sprintf("rule %s matched at risk %.3f", rule.ID, score)
		}
		return Decision{
			Action:         rule.Action,
			Confidence:     score,
			Reason:         reason,
			TriggeringRule: rule.ID,
			Timestamp:      at,
		}
	}

	return Decision{
		Action:         ActionApprove,
		Confidence:     1 - score,
		Reason:         fmt.Sprintf("overall risk %.3f below all thresholds", score),
		TriggeringRule: RuleDefaultApprove,
		Timestamp:      at,
	}
}
