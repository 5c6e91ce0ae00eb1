package resilience

import (
	"context"
	"errors"
	"log/slog"
)

// Outcome classifies what happened to a single link during [FirstHit].
type Outcome int

const (
	// OutcomeHit means the link answered positively and the walk stopped.
	OutcomeHit Outcome = iota

	// OutcomeMiss means the link answered cleanly but negatively.
	OutcomeMiss

	// OutcomeError means the call failed. The failure counts against the
	// link's breaker.
	OutcomeError

	// OutcomeSkipped means the link's breaker was open and the call was not
	// made.
	OutcomeSkipped
)

// String returns the metric label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeHit:
		return "found"
	case OutcomeMiss:
		return "missing"
	case OutcomeError:
		return "error"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// link pairs a target value with its dedicated circuit breaker.
type link[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Chain is a fixed, ordered list of targets of the same type, each guarded by
// its own [CircuitBreaker]. Targets are registered once at construction time
// with [Chain.Add]; the chain is read-only afterwards.
type Chain[T any] struct {
	links []link[T]
	cfg   CircuitBreakerConfig
}

// NewChain returns an empty chain. cfg is the template for every link's
// breaker; its Name is replaced by the link name.
func NewChain[T any](cfg CircuitBreakerConfig) *Chain[T] {
	return &Chain[T]{cfg: cfg}
}

// Add appends a target. Targets are tried in the order they are added.
func (c *Chain[T]) Add(name string, value T) {
	cbCfg := c.cfg
	cbCfg.Name = name
	c.links = append(c.links, link[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Len returns the number of links.
func (c *Chain[T]) Len() int { return len(c.links) }

// States reports every link's breaker state, keyed by link name.
func (c *Chain[T]) States() map[string]State {
	out := make(map[string]State, len(c.links))
	for _, l := range c.links {
		out[l.name] = l.breaker.State()
	}
	return out
}

// Step describes one link visited by [FirstHit].
type Step struct {
	Name    string
	Outcome Outcome
	Err     error
}

// FirstHit calls fn for each link in order and returns the first result fn
// reports as a hit, together with the link name.
//
// fn returns (result, hit, err). A non-nil err is a failure of the link and
// counts against its breaker; (zero, false, nil) is a clean miss. Links whose
// breaker is open are skipped. Errors never stop the walk: they are reported
// through observe and otherwise treated as a miss. A cancelled ctx stops the
// walk before the next link; a call that fails because ctx was cancelled does
// not count against the breaker.
//
// observe may be nil.
func FirstHit[T, R any](ctx context.Context, c *Chain[T], fn func(context.Context, T) (R, bool, error), observe func(Step)) (R, string, bool) {
	var zero R
	for i := range c.links {
		if ctx.Err() != nil {
			return zero, "", false
		}
		l := &c.links[i]

		var (
			result  R
			hit     bool
			callErr error
		)
		err := l.breaker.Execute(func() error {
			result, hit, callErr = fn(ctx, l.value)
			if callErr != nil && ctx.Err() != nil {
				return nil
			}
			return callErr
		})

		step := Step{Name: l.name}
		switch {
		case errors.Is(err, ErrCircuitOpen):
			step.Outcome = OutcomeSkipped
			slog.Debug("skipping link (circuit open)", "link", l.name)
		case callErr != nil:
			if ctx.Err() != nil {
				return zero, "", false
			}
			step.Outcome, step.Err = OutcomeError, callErr
			slog.Debug("link failed, trying next", "link", l.name, "err", callErr)
		case hit:
			step.Outcome = OutcomeHit
		default:
			step.Outcome = OutcomeMiss
		}
		if observe != nil {
			observe(step)
		}
		if step.Outcome == OutcomeHit {
			return result, l.name, true
		}
	}
	return zero, "", false
}
