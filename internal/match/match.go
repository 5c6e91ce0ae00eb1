// Package match scores catalog keys against a typed search query.
//
// Scoring is tiered so that the ordering is predictable for users:
//
//  1. Exact match (case-insensitive): [ScoreExact].
//  2. The key starts with the query: [ScorePrefix].
//  3. Otherwise the Levenshtein edit distance between key and query is
//     computed; distances below [MaxDistance] score 100 minus the distance.
//     Everything else scores 0 and is excluded from ranked results.
//
// [Rank] applies [Score] to a list of items and returns them sorted by
// descending score. The sort is stable: items with equal scores keep the
// order in which they were supplied, and callers rely on that.
package match

import (
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	// ScoreExact is awarded when key and query are equal ignoring case.
	ScoreExact = 1000

	// ScorePrefix is awarded when the key starts with the query.
	ScorePrefix = 500

	// scoreFuzzyBase is the score of a fuzzy match before the edit distance
	// is subtracted.
	scoreFuzzyBase = 100

	// MaxDistance is the exclusive upper bound on the edit distance for a
	// fuzzy match.
	MaxDistance = 3
)

// Score returns the relevance of key for query. Both arguments are compared
// lowercased; query is expected to be trimmed already. A score of 0 means the
// key does not match.
func Score(key, query string) int {
	k := strings.ToLower(key)
	q := strings.ToLower(query)

	if k == q {
		return ScoreExact
	}
	if strings.HasPrefix(k, q) {
		return ScorePrefix
	}
	if d := matchr.Levenshtein(k, q); d < MaxDistance {
		return scoreFuzzyBase - d
	}
	return 0
}

// Result pairs an item with its score. Score is always positive for results
// returned by [Rank].
type Result[T any] struct {
	Item  T
	Score int
}

// Rank scores every item with key(item) against query, drops non-matches and
// returns the rest sorted by descending score. Ties preserve input order.
func Rank[T any](items []T, key func(T) string, query string) []Result[T] {
	results := make([]Result[T], 0, len(items))
	for _, it := range items {
		if s := Score(key(it), query); s > 0 {
			results = append(results, Result[T]{Item: it, Score: s})
		}
	}
	slices.SortStableFunc(results, func(a, b Result[T]) int {
		return b.Score - a.Score
	})
	return results
}

// Items strips the scores from results, keeping their order.
func Items[T any](results []Result[T]) []T {
	out := make([]T, len(results))
	for i, r := range results {
		out[i] = r.Item
	}
	return out
}
