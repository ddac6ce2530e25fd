// Package risk turns heterogeneous per-scanner scores into one bounded
// aggregated risk value. Aggregation is a pure function: no randomness, no
// hidden state, bit-for-bit identical output for identical inputs. That
// determinism is what lets historical decisions be reproduced during audits.
package risk

import (
	"sort"

	"github.com/bulwarkai/bulwark/pkg/scanner"
)

// Aggregated is the combined risk for one request, derived solely from the
// scan results of that request.
type Aggregated struct {
	// OverallScore is in [0,1] whenever at least one scanner succeeded.
	// When no scanner succeeded it is 0 and Defined is false; the degraded
	// signal from the orchestrator takes precedence downstream.
	OverallScore float64 `json:"overall_score"`

	// Defined is false when the score is meaningless (no surviving scanners).
	Defined bool `json:"defined"`

	// Breakdown maps scanner ID to its weighted contribution to OverallScore.
	Breakdown map[string]float64 `json:"breakdown"`

	ScannersUsed   []string `json:"scanners_used"`
	ScannersFailed []string `json:"scanners_failed"`
}

// DefaultWeight is used for scanners with no configured weight. Keeping the
// fallback explicit means an operator typo degrades to equal weighting
// instead of silently dropping a scanner's signal.
const DefaultWeight = 0.5

// Aggregate computes the weighted mean of the surviving scanner scores.
// Failed scanners are excluded and the remaining weights renormalized, so a
// sole survivor carries full weight. Weights of zero or below drop a scanner
// from the aggregate entirely.
func Aggregate(results []scanner.ScanResult, failed []string, weights map[string]float64) Aggregated {
	agg := Aggregated{
		Breakdown:      make(map[string]float64, len(results)),
		ScannersFailed: append([]string(nil), failed...),
	}
	sort.Strings(agg.ScannersFailed)

	var weightSum float64
	for _, r := range results {
		if r.Failed() {
			continue
		}
		if w := weightFor(r.ScannerID, weights); w > 0 {
			weightSum += w
		}
	}
	if weightSum == 0 {
		return agg
	}

	// Iterate in a fixed order so floating-point summation is reproducible
	// regardless of the order results arrived from the fan-out.
	ordered := append([]scanner.ScanResult(nil), results...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ScannerID < ordered[j].ScannerID })

	for _, r := range ordered {
		if r.Failed() {
			continue
		}
		w := weightFor(r.ScannerID, weights)
		if w <= 0 {
			continue
		}
		contribution := (w / weightSum) * r.Score
		agg.Breakdown[r.ScannerID] = contribution
		agg.OverallScore += contribution
		agg.ScannersUsed = append(agg.ScannersUsed, r.ScannerID)
	}

	// Renormalized weighted mean of values in [0,1] stays in [0,1]; the
	// clamp only guards against float drift at the boundary.
	if agg.OverallScore > 1 {
		agg.OverallScore = 1
	}
	if agg.OverallScore < 0 {
		agg.OverallScore = 0
	}
	agg.Defined = true
	return agg
}

func weightFor(id string, weights map[string]float64) float64 {
	if weights == nil {
		return DefaultWeight
	}
	w, ok := weights[id]
	if !ok {
		return DefaultWeight
	}
	return w
}
