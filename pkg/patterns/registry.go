// Package patterns is the compiled pattern registry behind the pattern
// scanner. Every regex is compiled once at first use and shared across all
// requests; request handling never compiles a pattern.
package patterns

import (
	"regexp"
	"sync"
)

// Category groups patterns by the kind of attack they witness.
type Category string

const (
	// CategoryInstructionOverride - attempts to displace the system prompt
	// ("ignore all previous instructions").
	CategoryInstructionOverride Category = "instruction_override"

	// CategoryJailbreak - persona and roleplay escapes (DAN-style).
	CategoryJailbreak Category = "jailbreak"

	// CategoryPromptExtraction - attempts to read back hidden directives.
	CategoryPromptExtraction Category = "prompt_extraction"

	// CategoryObfuscation - encoding and smuggling tricks that hide a payload
	// from lexical inspection.
	CategoryObfuscation Category = "obfuscation"

	// CategoryExfiltration - attempts to move secrets or conversation state
	// out through the response.
	CategoryExfiltration Category = "exfiltration"
)

// AllCategories lists every registered category, in severity-review order.
func AllCategories() []Category {
	return []Category{
		CategoryInstructionOverride,
		CategoryJailbreak,
		CategoryPromptExtraction,
		CategoryObfuscation,
		CategoryExfiltration,
	}
}

// Pattern is one compiled detection rule.
type Pattern struct {
	Name     string
	Regex    *regexp.Regexp // never nil after registration
	Category Category
	// Severity is the risk contribution in [0,100].
	Severity    int
	Description string
}

// Registry holds the compiled patterns grouped by category. Immutable after
// construction, so lookups need no locking.
type Registry struct {
	byCategory map[Category][]*Pattern
	all        []*Pattern
}

var (
	globalRegistry *Registry
	initOnce       sync.Once
)

// Get returns the process-wide registry, building it on first use.
func Get() *Registry {
	initOnce.Do(func() {
		globalRegistry = newRegistry()
	})
	return globalRegistry
}

func newRegistry() *Registry {
	r := &Registry{byCategory: make(map[Category][]*Pattern)}
	r.registerInstructionOverridePatterns()
	r.registerJailbreakPatterns()
	r.registerPromptExtractionPatterns()
	r.registerObfuscationPatterns()
	r.registerExfiltrationPatterns()
	return r
}

func (r *Registry) register(name, pattern string, category Category, severity int, description string) {
	p := &Pattern{
		Name:        name,
		Regex:       regexp.MustCompile(pattern),
		Category:    category,
		Severity:    severity,
		Description: description,
	}
	r.byCategory[category] = append(r.byCategory[category], p)
	r.all = append(r.all, p)
}

// ByCategory returns the patterns for one category; empty slice, never nil.
func (r *Registry) ByCategory(cat Category) []*Pattern {
	if patterns, ok := r.byCategory[cat]; ok {
		return patterns
	}
	return []*Pattern{}
}

// MatchAll returns every pattern matching text across the given categories
// (all categories when none are named). Exhaustive rather than first-match:
// scoring needs to see how many independent signals fired.
func (r *Registry) MatchAll(text string, cats ...Category) []*Pattern {
	pool := r.all
	if len(cats) > 0 {
		pool = nil
		for _, cat := range cats {
			pool = append(pool, r.byCategory[cat]...)
		}
	}
	var matches []*Pattern
	for _, p := range pool {
		if p.Regex.MatchString(text) {
			matches = append(matches, p)
		}
	}
	return matches
}

// TotalPatterns returns the number of registered patterns.
func (r *Registry) TotalPatterns() int {
	return len(r.all)
}

// CategoryCount returns the number of patterns in one category.
func (r *Registry) CategoryCount(cat Category) int {
	return len(r.byCategory[cat])
}
