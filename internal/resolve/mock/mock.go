// Package mock provides test doubles for the resolve package.
//
// Use Prober to script per-locator probe answers for a resolve.Gateway. Use
// Resolver wherever a component needs a word resolver (the library
// coordinator, the translator) and the mirror walk itself is not under
// test.
//
// Example:
//
//	r := &mock.Resolver{Results: map[string]types.Locator{
//	    "hello": "https://example.com/hello.mp4",
//	}}
//	loc, ok := r.Resolve(ctx, "hello")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/signdeck/internal/resolve"
	"github.com/MrWong99/signdeck/pkg/types"
)

// Prober is a mock implementation of resolve.Prober.
type Prober struct {
	mu sync.Mutex

	// Existing lists locators that report as present.
	Existing map[types.Locator]bool

	// Errs maps locators to the error their probe returns.
	Errs map[types.Locator]error

	// Calls records every probed locator in call order.
	Calls []types.Locator
}

// Exists records the call and answers from Errs and Existing.
func (p *Prober) Exists(_ context.Context, loc types.Locator) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, loc)
	if err := p.Errs[loc]; err != nil {
		return false, err
	}
	return p.Existing[loc], nil
}

// CallCount returns the number of probes made. Thread-safe.
func (p *Prober) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Ensure Prober implements resolve.Prober at compile time.
var _ resolve.Prober = (*Prober)(nil)

// Resolver is a scripted word resolver.
type Resolver struct {
	mu sync.Mutex

	// Results maps lowercase words to the locator they resolve to. Words
	// not present resolve to nothing.
	Results map[string]types.Locator

	// Before, if set, runs at the start of every Resolve call outside the
	// mock's lock. Tests use it to block or to observe concurrency.
	Before func(ctx context.Context, word string)

	// Calls records every word passed to Resolve, after Before returned and
	// only when ctx was still live.
	Calls []string
}

// Resolve runs Before, then answers from Results. A cancelled ctx resolves
// to nothing and is not recorded.
func (r *Resolver) Resolve(ctx context.Context, word string) (types.Locator, bool) {
	if r.Before != nil {
		r.Before(ctx, word)
	}
	if ctx.Err() != nil {
		return "", false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, word)
	loc, ok := r.Results[types.NormalizeWord(word)]
	return loc, ok
}

// CallsSnapshot returns a copy of Calls. Thread-safe.
func (r *Resolver) CallsSnapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Calls))
	copy(out, r.Calls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = nil
}
