// Package phonetic implements the [transcript.PhoneticMatcher] interface using
// Double Metaphone phonetic encoding combined with Jaro-Winkler string
// similarity.
//
// A transcribed word is compared with every known catalog word:
//
//  1. Phonetic candidates are known words whose Double Metaphone codes share
//     at least one code with the input. The candidate with the highest
//     Jaro-Winkler similarity wins if it reaches the phonetic threshold
//     (default 0.70).
//
//  2. When no phonetic candidate qualifies, the known word with the highest
//     pure Jaro-Winkler similarity wins if it reaches the stricter fuzzy
//     threshold (default 0.85).
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically matching word to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match returns the known word most similar in pronunciation to word.
// When matched is false, corrected equals word unchanged and confidence
// is 0.
func (m *Matcher) Match(word string, known []string) (corrected string, confidence float64, matched bool) {
	wordLower := strings.ToLower(strings.TrimSpace(word))
	if len(known) == 0 || wordLower == "" {
		return word, 0, false
	}
	inputCodes := codes(wordLower)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, k := range known {
		kLower := strings.ToLower(strings.TrimSpace(k))
		if kLower == "" {
			continue
		}
		score := matchr.JaroWinkler(wordLower, kLower, false)

		if codesOverlap(inputCodes, codes(kLower)) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = k, score, true
			}
		} else if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = k, score
		}
	}

	if best != "" {
		return best, bestScore, true
	}
	return word, 0, false
}

// codes returns the non-empty Double Metaphone codes of w.
func codes(w string) map[string]struct{} {
	out := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(w)
	if p != "" {
		out[p] = struct{}{}
	}
	if s != "" {
		out[s] = struct{}{}
	}
	return out
}

// codesOverlap reports whether a and b share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
