// Package translate derives, from the live transcript, the words that still
// lack a sign clip and the clip queue for the words that have one.
//
// [Extract] is the pure unknown-word computation. [Translator] keeps the
// transcript, the unknown-word list and the user's selection in step with a
// transcript feed and the catalog.
package translate

import (
	"strings"
	"unicode"
)

// Clean strips leading and trailing punctuation from tok.
func Clean(tok string) string {
	return strings.TrimFunc(tok, unicode.IsPunct)
}

// Tokens splits text on Unicode whitespace and returns the cleaned,
// non-empty tokens in order. Case is preserved.
func Tokens(text string) []string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if c := Clean(f); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// Extract returns the cleaned tokens of transcript whose lowercase form is
// not in known, in first-seen order. Tokens that repeat case-insensitively
// are reported once, with the spelling of their first occurrence.
func Extract(transcript string, known map[string]struct{}) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, tok := range Tokens(transcript) {
		lower := strings.ToLower(tok)
		if _, ok := known[lower]; ok {
			continue
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, tok)
	}
	return out
}
