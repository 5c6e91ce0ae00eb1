// Package wordpool supplies the static list of candidate words sampled by the
// library's idle browse. Randomness uses [math/rand/v2]; callers pass their
// own *rand.Rand so tests can seed it.
package wordpool

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/MrWong99/signdeck/pkg/types"
)

//go:embed words.txt
var defaultWords string

// Pool is an immutable, deduplicated set of lowercase candidate words.
type Pool struct {
	words []string
}

// Default returns the pool compiled into the binary.
func Default() *Pool {
	p, err := Parse(strings.NewReader(defaultWords))
	if err != nil {
		// The embedded list is read from memory and cannot fail to scan.
		panic("wordpool: embedded list: " + err.Error())
	}
	return p
}

// New builds a pool from words. Entries are normalised; empty entries and
// duplicates are dropped. First-seen order is kept.
func New(words []string) *Pool {
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = types.NormalizeWord(w)
		if w == "" {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return &Pool{words: out}
}

// Parse reads one word per line from r. Blank lines and lines starting with
// '#' are ignored.
func Parse(r io.Reader) (*Pool, error) {
	var words []string
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("wordpool: scan: %w", err)
	}
	return New(words), nil
}

// Load reads a pool from the file at path. An empty path returns [Default].
func Load(path string) (*Pool, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wordpool: open %q: %w", path, err)
	}
	defer f.Close()
	p, err := Parse(f)
	if err != nil {
		return nil, err
	}
	if p.Len() == 0 {
		return nil, fmt.Errorf("wordpool: %q contains no words", path)
	}
	return p, nil
}

// Words returns a copy of every word in the pool.
func (p *Pool) Words() []string {
	out := make([]string, len(p.words))
	copy(out, p.words)
	return out
}

// Len returns the number of words.
func (p *Pool) Len() int { return len(p.words) }

// Sample returns up to n words not contained in exclude, in random order
// drawn from rng. n <= 0 returns every eligible word, shuffled.
func (p *Pool) Sample(rng *rand.Rand, n int, exclude map[string]struct{}) []string {
	eligible := make([]string, 0, len(p.words))
	for _, w := range p.words {
		if _, skip := exclude[w]; !skip {
			eligible = append(eligible, w)
		}
	}
	rng.Shuffle(len(eligible), func(i, j int) {
		eligible[i], eligible[j] = eligible[j], eligible[i]
	})
	if n > 0 && n < len(eligible) {
		eligible = eligible[:n]
	}
	return eligible
}
