// Package observe provides application-wide observability primitives for
// signdeck: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all signdeck metrics.
const meterName = "github.com/MrWong99/signdeck"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Resolver ---

	// ProbeDuration tracks a single mirror existence probe. Attributes:
	//   attribute.String("mirror", ...)
	ProbeDuration metric.Float64Histogram

	// ProbeOutcomes counts probes by mirror and outcome
	// (found|missing|error|skipped).
	ProbeOutcomes metric.Int64Counter

	// Resolves counts resolver calls by outcome (found|not_found).
	Resolves metric.Int64Counter

	// BreakerTransitions counts mirror circuit breaker state changes.
	// Attributes: mirror, to.
	BreakerTransitions metric.Int64Counter

	// --- Library ---

	// Searches counts search protocol phases. Attribute:
	//   attribute.String("phase", "local"|"remote")
	Searches metric.Int64Counter

	// BrowseDuration tracks a browse run from start to publish.
	BrowseDuration metric.Float64Histogram

	// Cancellations counts superseded library tasks. Attribute:
	//   attribute.String("kind", "search"|"browse")
	Cancellations metric.Int64Counter

	// CatalogWrites counts catalog mutations. Attributes: op, status.
	CatalogWrites metric.Int64Counter

	// --- Capture & playback ---

	// CaptureTransitions counts capture phase changes. Attribute:
	//   attribute.String("to", ...)
	CaptureTransitions metric.Int64Counter

	// QueueRebuilds counts playback queue replacements. Attribute:
	//   attribute.String("reason", "configure"|"previous"|"replay")
	QueueRebuilds metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   method, path (the mux pattern when matched) and status ("2xx", "5xx", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// network probes against media mirrors.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ProbeDuration, err = m.Float64Histogram("signdeck.resolve.probe.duration",
		metric.WithDescription("Latency of a single mirror existence probe."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BrowseDuration, err = m.Float64Histogram("signdeck.library.browse.duration",
		metric.WithDescription("Duration of an idle browse run."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProbeOutcomes, err = m.Int64Counter("signdeck.resolve.probes",
		metric.WithDescription("Mirror probes by mirror and outcome."),
	); err != nil {
		return nil, err
	}
	if met.Resolves, err = m.Int64Counter("signdeck.resolve.requests",
		metric.WithDescription("Word resolutions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("signdeck.resolve.breaker.transitions",
		metric.WithDescription("Mirror circuit breaker state changes."),
	); err != nil {
		return nil, err
	}
	if met.Searches, err = m.Int64Counter("signdeck.library.searches",
		metric.WithDescription("Search protocol phases executed."),
	); err != nil {
		return nil, err
	}
	if met.Cancellations, err = m.Int64Counter("signdeck.library.cancellations",
		metric.WithDescription("Library tasks superseded before publishing."),
	); err != nil {
		return nil, err
	}
	if met.CatalogWrites, err = m.Int64Counter("signdeck.catalog.writes",
		metric.WithDescription("Catalog mutations by operation and status."),
	); err != nil {
		return nil, err
	}
	if met.CaptureTransitions, err = m.Int64Counter("signdeck.capture.transitions",
		metric.WithDescription("Capture session phase changes."),
	); err != nil {
		return nil, err
	}
	if met.QueueRebuilds, err = m.Int64Counter("signdeck.playback.queue_rebuilds",
		metric.WithDescription("Playback queue replacements by reason."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("signdeck.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProbe records the duration and outcome of one mirror probe.
func (m *Metrics) RecordProbe(ctx context.Context, mirror, outcome string, seconds float64) {
	m.ProbeOutcomes.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mirror", mirror),
			attribute.String("outcome", outcome),
		),
	)
	if outcome != "skipped" {
		m.ProbeDuration.Record(ctx, seconds,
			metric.WithAttributes(attribute.String("mirror", mirror)),
		)
	}
}

// RecordResolve records the outcome of a full resolution.
func (m *Metrics) RecordResolve(ctx context.Context, found bool) {
	outcome := "not_found"
	if found {
		outcome = "found"
	}
	m.Resolves.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordBreakerTransition records a mirror breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, mirror, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mirror", mirror),
			attribute.String("to", to),
		),
	)
}

// RecordSearch records one search protocol phase.
func (m *Metrics) RecordSearch(ctx context.Context, phase string) {
	m.Searches.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase)))
}

// RecordCancellation records a superseded library task.
func (m *Metrics) RecordCancellation(ctx context.Context, kind string) {
	m.Cancellations.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordCatalogWrite records a catalog mutation.
func (m *Metrics) RecordCatalogWrite(ctx context.Context, op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.CatalogWrites.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}

// RecordCaptureTransition records a capture phase change.
func (m *Metrics) RecordCaptureTransition(ctx context.Context, to string) {
	m.CaptureTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", to)))
}

// RecordQueueRebuild records a playback queue replacement.
func (m *Metrics) RecordQueueRebuild(ctx context.Context, reason string) {
	m.QueueRebuilds.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
