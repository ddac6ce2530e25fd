package learning

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// WindowSize is the width of the sliding word window used for phrase
// extraction. Four tokens is wide enough to be distinctive ("ignore all
// previous instructions") and narrow enough to generalize across attacks.
const WindowSize = 4

// Normalize canonicalizes text for use as a phrase key: NFKC normalization
// (collapses homoglyph-adjacent compatibility forms), case folding, removal
// of punctuation, and whitespace collapse. Two attacks that differ only in
// casing, fancy unicode forms or punctuation map to the same key.
func Normalize(text string) string {
	text = norm.NFKC.String(text)
	// Casers are stateful; build one per call rather than sharing.
	text = cases.Fold().String(text)

	var b strings.Builder
	b.Grow(len(text))
	lastSpace := true
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		default:
			// Punctuation and symbols are dropped entirely.
		}
	}
	return strings.TrimSpace(b.String())
}

// stoplist holds overly common fragments that carry no attack signal.
// Learning them would block ordinary conversation.
var stoplist = map[string]bool{
	"can you help me":     true,
	"i would like to":     true,
	"could you please":    true,
	"i want you to":       true,
	"what do you think":   true,
	"please help me with": true,
	"i need help with":    true,
	"thank you for your":  true,
	"tell me more about":  true,
	"what is the best":    true,
}

// stopwords are tokens too common to anchor a phrase. A window made up
// entirely of stopwords is discarded.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true,
	"to": true, "of": true, "in": true, "on": true, "and": true,
	"or": true, "it": true, "for": true, "with": true, "me": true,
	"you": true, "i": true, "my": true, "your": true, "please": true,
}

// ExtractCandidates slides a fixed-width word window over normalized text and
// returns candidate phrases, discarding stoplisted and all-stopword windows.
// Input shorter than the window yields nothing: fragments that short are too
// generic to learn from.
func ExtractCandidates(text string) []string {
	words := strings.Fields(Normalize(text))
	if len(words) < WindowSize {
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	for i := 0; i+WindowSize <= len(words); i++ {
		window := words[i : i+WindowSize]
		phrase := strings.Join(window, " ")
		if seen[phrase] || stoplist[phrase] {
			continue
		}
		if allStopwords(window) {
			continue
		}
		seen[phrase] = true
		out = append(out, phrase)
	}
	return out
}

func allStopwords(window []string) bool {
	for _, w := range window {
		if !stopwords[w] {
			return false
		}
	}
	return true
}
