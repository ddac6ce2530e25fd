package scanner

import (
	"context"
	"fmt"
	"strings"

	"github.com/bulwarkai/bulwark/pkg/patterns"
)

// PatternScanner scores text against the compiled pattern registry. Purely
// local and fast: regexes are compiled once at process start, so a scan is a
// handful of match calls with no allocation-heavy setup.
type PatternScanner struct {
	registry   *patterns.Registry
	categories []patterns.Category
	threshold  float64
}

// NewPatternScanner creates a scanner over the given categories (all when
// none are named). threshold is the score at which detected is set.
func NewPatternScanner(threshold float64, cats ...patterns.Category) *PatternScanner {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.5
	}
	return &PatternScanner{
		registry:   patterns.Get(),
		categories: cats,
		threshold:  threshold,
	}
}

func (s *PatternScanner) ID() string { return "pattern" }

// Scan implements Scanner. Matched severities combine as independent evidence
// (noisy-or), so three mid-severity hits outrank one, but the score can never
// leave [0,1].
func (s *PatternScanner) Scan(ctx context.Context, text string) (float64, bool, string, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, "", err
	}

	matches := s.registry.MatchAll(text, s.categories...)
	if len(matches) == 0 {
		return 0, false, "", nil
	}

	miss := 1.0
	names := make([]string, len(matches))
	for i, p := range matches {
		miss *= 1 - float64(p.Severity)/100
		names[i] = p.Name
	}
	score := 1 - miss

	evidence := fmt.Sprintf("%d pattern(s): %s", len(matches), strings.Join(names, ", "))
	return score, score >= s.threshold, evidence, nil
}
