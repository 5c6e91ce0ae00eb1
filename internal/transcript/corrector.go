package transcript

import (
	"strings"
	"unicode"

	"github.com/MrWong99/signdeck/pkg/types"
)

const defaultMinWordLength = 4

// Correction records a single token substitution made by a [Corrector].
type Correction struct {
	// Original is the token core as transcribed, without surrounding
	// punctuation.
	Original string

	// Corrected is the known word that replaced it.
	Corrected string

	// Confidence is the matcher's similarity score (0.0–1.0).
	Confidence float64
}

// PhoneticMatcher resolves a single transcribed word to the known word that
// sounds most alike. It must be fast enough to run on every transcript
// update and safe for concurrent use.
type PhoneticMatcher interface {
	// Match returns the best known word for word. When matched is false,
	// corrected equals word unchanged and confidence is 0.
	Match(word string, known []string) (corrected string, confidence float64, matched bool)
}

// CorrectorOption configures a [Corrector].
type CorrectorOption func(*Corrector)

// WithMinWordLength sets the shortest token (in runes) that is considered
// for correction. Shorter tokens are left alone. Default: 4.
func WithMinWordLength(n int) CorrectorOption {
	return func(c *Corrector) {
		if n > 0 {
			c.minLen = n
		}
	}
}

// Corrector snaps misheard transcript tokens onto known catalog words.
// Tokens already known (case-insensitively) are never touched.
//
// Corrector is safe for concurrent use.
type Corrector struct {
	matcher PhoneticMatcher
	minLen  int
}

// NewCorrector returns a [Corrector] that uses m.
func NewCorrector(m PhoneticMatcher, opts ...CorrectorOption) *Corrector {
	c := &Corrector{matcher: m, minLen: defaultMinWordLength}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct rewrites text token by token. Tokens are whitespace-separated;
// leading and trailing punctuation is preserved around a replaced core.
// Replacements use the known word's spelling. The rewritten text joins
// tokens with single spaces.
func (c *Corrector) Correct(text string, known []string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || len(known) == 0 {
		return text, nil
	}
	knownSet := make(map[string]struct{}, len(known))
	for _, k := range known {
		knownSet[types.NormalizeWord(k)] = struct{}{}
	}

	var corrections []Correction
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		out[i] = tok
		lead, core, trail := splitPunct(tok)
		if len([]rune(core)) < c.minLen {
			continue
		}
		if _, ok := knownSet[strings.ToLower(core)]; ok {
			continue
		}
		replacement, conf, ok := c.matcher.Match(core, known)
		if !ok {
			continue
		}
		out[i] = lead + replacement + trail
		corrections = append(corrections, Correction{
			Original:   core,
			Corrected:  replacement,
			Confidence: conf,
		})
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// splitPunct separates leading and trailing punctuation from tok.
func splitPunct(tok string) (lead, core, trail string) {
	rest := strings.TrimLeftFunc(tok, unicode.IsPunct)
	core = strings.TrimRightFunc(rest, unicode.IsPunct)
	return tok[:len(tok)-len(rest)], core, rest[len(core):]
}
