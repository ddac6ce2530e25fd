package scanner

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// HeuristicScanner scores cheap lexical signals that the pattern registry
// cannot express as single regexes: imperative density, role-play framing,
// non-printable noise, and shouting. It is deliberately conservative - its
// job is to nudge borderline requests toward review, not to block on its own.
type HeuristicScanner struct {
	threshold float64
}

// NewHeuristicScanner creates the scanner; threshold marks the detected flag.
func NewHeuristicScanner(threshold float64) *HeuristicScanner {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.6
	}
	return &HeuristicScanner{threshold: threshold}
}

func (s *HeuristicScanner) ID() string { return "heuristic" }

// imperatives that frequently open an injection payload.
var imperativeVerbs = map[string]bool{
	"ignore": true, "disregard": true, "forget": true, "override": true,
	"pretend": true, "act": true, "bypass": true, "disable": true,
	"reveal": true, "repeat": true, "print": true, "output": true,
}

var roleMarkers = []string{
	"you are now", "you must", "your new role", "new persona",
	"stay in character", "never break character",
}

// Scan implements Scanner.
func (s *HeuristicScanner) Scan(ctx context.Context, text string) (float64, bool, string, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, "", err
	}

	lower := strings.ToLower(text)
	words := strings.Fields(lower)
	if len(words) == 0 {
		return 0, false, "", nil
	}

	var signals []string
	score := 0.0

	imperatives := 0
	for _, w := range words {
		if imperativeVerbs[strings.Trim(w, ".,!?:;\"'")] {
			imperatives++
		}
	}
	if density := float64(imperatives) / float64(len(words)); density > 0.05 {
		add := density * 4
		if add > 0.45 {
			add = 0.45
		}
		score += add
		signals = append(signals, fmt.Sprintf("imperative density %.2f", density))
	}

	for _, marker := range roleMarkers {
		if strings.Contains(lower, marker) {
			score += 0.25
			signals = append(signals, fmt.Sprintf("role marker %q", marker))
			break
		}
	}

	if frac := nonPrintableFraction(text); frac > 0.02 {
		score += 0.3
		signals = append(signals, fmt.Sprintf("non-printable fraction %.2f", frac))
	}

	if frac := upperFraction(text); frac > 0.5 && len(text) > 40 {
		score += 0.1
		signals = append(signals, "sustained uppercase")
	}

	// Short conversational input with none of the markers reads as benign;
	// pull the floor down so the aggregate is not dragged up by noise.
	if len(signals) == 0 {
		return 0, false, "", nil
	}
	if score > 1 {
		score = 1
	}
	return score, score >= s.threshold, strings.Join(signals, "; "), nil
}

func nonPrintableFraction(text string) float64 {
	if text == "" {
		return 0
	}
	count := 0
	total := 0
	for _, r := range text {
		total++
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			count++
		}
	}
	return float64(count) / float64(total)
}

func upperFraction(text string) float64 {
	letters := 0
	uppers := 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				uppers++
			}
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(uppers) / float64(letters)
}
