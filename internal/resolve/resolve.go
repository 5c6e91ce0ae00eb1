// Package resolve turns a word into a playable remote clip locator.
//
// A [Gateway] owns an ordered list of [Mirror] sources. For each word it
// builds one candidate locator per mirror and asks a [Prober] whether that
// clip exists, returning the first confirmed candidate in mirror order.
// Probe failures are swallowed and treated as "not found". Each mirror sits
// behind its own circuit breaker so a dead mirror is skipped instead of
// probed on every lookup.
package resolve

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/signdeck/internal/observe"
	"github.com/MrWong99/signdeck/internal/resilience"
	"github.com/MrWong99/signdeck/pkg/types"
)

// DefaultTemplate is the locator template used for mirrors that do not set
// their own. {source} and {word} are substituted.
const DefaultTemplate = "https://media.signbsl.com/videos/asl/{source}/mp4/{word}.mp4"

// DefaultSources lists the mirror sources probed when none are configured,
// in probe order.
var DefaultSources = []string{
	"aslsearch",
	"signschool",
	"startasl",
	"aslsignbank",
	"aslbricks",
	"signlanguagestudent",
	"aslstudy",
}

// Mirror is one remote clip source.
type Mirror struct {
	// Source is substituted for {source} and names the mirror in logs,
	// metrics and health output.
	Source string

	// Template is the locator template. Empty means [DefaultTemplate].
	Template string
}

// Locator builds the candidate locator for word. The word is trimmed,
// lowercased and path-escaped before substitution.
func (m Mirror) Locator(word string) types.Locator {
	tmpl := m.Template
	if tmpl == "" {
		tmpl = DefaultTemplate
	}
	r := strings.NewReplacer(
		"{source}", url.PathEscape(m.Source),
		"{word}", url.PathEscape(types.NormalizeWord(word)),
	)
	return types.Locator(r.Replace(tmpl))
}

// DefaultMirrors returns one [Mirror] per entry of [DefaultSources].
func DefaultMirrors() []Mirror {
	out := make([]Mirror, len(DefaultSources))
	for i, s := range DefaultSources {
		out[i] = Mirror{Source: s}
	}
	return out
}

// Prober answers whether a remote clip exists. A clean negative answer is
// (false, nil); a non-nil error means the probe itself failed.
type Prober interface {
	Exists(ctx context.Context, loc types.Locator) (bool, error)
}

// Gateway resolves words against an ordered mirror list.
//
// Gateway is safe for concurrent use.
type Gateway struct {
	prober  Prober
	mirrors []Mirror
	breaker resilience.CircuitBreakerConfig
	metrics *observe.Metrics
	chain   *resilience.Chain[Mirror]
}

// Option configures a [Gateway].
type Option func(*Gateway)

// WithMirrors replaces the default mirror list. Order is probe order.
func WithMirrors(mirrors []Mirror) Option {
	return func(g *Gateway) {
		if len(mirrors) > 0 {
			g.mirrors = mirrors
		}
	}
}

// WithBreaker sets the circuit breaker template applied to every mirror.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(g *Gateway) { g.breaker = cfg }
}

// WithMetrics records probe and resolve metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// New creates a [Gateway] that probes with p.
func New(p Prober, opts ...Option) *Gateway {
	g := &Gateway{
		prober:  p,
		mirrors: DefaultMirrors(),
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}

	cb := g.breaker
	userHook := cb.OnStateChange
	cb.OnStateChange = func(name string, from, to resilience.State) {
		g.metrics.RecordBreakerTransition(context.Background(), name, to.String())
		if userHook != nil {
			userHook(name, from, to)
		}
	}
	g.chain = resilience.NewChain[Mirror](cb)
	for _, m := range g.mirrors {
		g.chain.Add(m.Source, m)
	}
	return g
}

// Resolve returns the first mirror locator confirmed to exist for word.
// It returns ("", false) when the word is empty, every mirror misses or
// fails, or ctx is cancelled. Errors are never surfaced.
func (g *Gateway) Resolve(ctx context.Context, word string) (types.Locator, bool) {
	word = types.NormalizeWord(word)
	if word == "" {
		return "", false
	}

	ctx, span := observe.StartSpan(ctx, "resolve.Resolve",
		trace.WithAttributes(observe.KeyWord.String(word)))
	defer span.End()

	log := observe.Logger(ctx)
	var probeStart time.Time
	probe := func(ctx context.Context, m Mirror) (types.Locator, bool, error) {
		loc := m.Locator(word)
		probeStart = time.Now()
		ok, err := g.prober.Exists(ctx, loc)
		return loc, ok, err
	}
	observeStep := func(s resilience.Step) {
		var elapsed float64
		if s.Outcome != resilience.OutcomeSkipped {
			elapsed = time.Since(probeStart).Seconds()
		}
		g.metrics.RecordProbe(ctx, s.Name, s.Outcome.String(), elapsed)
		if s.Err != nil {
			log.Debug("mirror probe failed", "mirror", s.Name, "word", word, "err", s.Err)
		}
	}

	loc, mirror, ok := resilience.FirstHit(ctx, g.chain, probe, observeStep)
	if ctx.Err() != nil {
		return "", false
	}
	g.metrics.RecordResolve(ctx, ok)
	span.SetAttributes(observe.KeyFound.Bool(ok))
	if ok {
		span.SetAttributes(observe.KeyMirror.String(mirror))
		log.Debug("word resolved", "word", word, "mirror", mirror)
	}
	return loc, ok
}

// MirrorStates reports every mirror's circuit breaker state keyed by
// source name.
func (g *Gateway) MirrorStates() map[string]resilience.State {
	return g.chain.States()
}

// Mirrors returns a copy of the configured mirror list.
func (g *Gateway) Mirrors() []Mirror {
	out := make([]Mirror, len(g.mirrors))
	copy(out, g.mirrors)
	return out
}
