// Package observe provides application-wide observability primitives for
// Clarivox: OpenTelemetry metrics, tracing helpers, and the HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Clarivox metrics.
const meterName = "github.com/MrWong99/clarivox"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// CleanDuration tracks the cleaning model call latency per turn.
	CleanDuration metric.Float64Histogram

	// DecideDuration tracks the function-decision stage latency per turn.
	DecideDuration metric.Float64Histogram

	// TurnDuration tracks the reported per-turn total. Note: this records
	// the sum of stage timings, not measured wall clock — downstream
	// dashboards depend on that definition.
	TurnDuration metric.Float64Histogram

	// QueueWaitDuration tracks how long a job sat queued before a worker
	// picked it up.
	QueueWaitDuration metric.Float64Histogram

	// --- Counters ---

	// TurnsProcessed counts processed turns. Use with attributes:
	//   attribute.String("classification", ...), attribute.String("level", ...)
	TurnsProcessed metric.Int64Counter

	// ModelRequests counts model API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ModelRequests metric.Int64Counter

	// ModelErrors counts model call failures by provider and kind.
	ModelErrors metric.Int64Counter

	// FunctionCalls counts executed business functions. Use with attributes:
	//   attribute.String("function", ...), attribute.String("status", ...)
	FunctionCalls metric.Int64Counter

	// QueueJobs counts queue job outcomes. Use with attribute:
	//   attribute.String("outcome", "processed"|"retried"|"dropped")
	QueueJobs metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of hydrated sessions in memory.
	ActiveSessions metric.Int64UpDownCounter

	// QueueDepth tracks the number of jobs currently queued.
	QueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// both the sub-10ms bypass path and multi-second model calls.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CleanDuration, err = m.Float64Histogram("clarivox.clean.duration",
		metric.WithDescription("Latency of the cleaning model call per turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DecideDuration, err = m.Float64Histogram("clarivox.decide.duration",
		metric.WithDescription("Latency of the function-decision stage per turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("clarivox.turn.duration",
		metric.WithDescription("Reported per-turn total (sum of stage timings)."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.QueueWaitDuration, err = m.Float64Histogram("clarivox.queue.wait.duration",
		metric.WithDescription("Time a job spent queued before processing."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TurnsProcessed, err = m.Int64Counter("clarivox.turns.processed",
		metric.WithDescription("Total processed turns by classification and cleaning level."),
	); err != nil {
		return nil, err
	}
	if met.ModelRequests, err = m.Int64Counter("clarivox.model.requests",
		metric.WithDescription("Total model API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ModelErrors, err = m.Int64Counter("clarivox.model.errors",
		metric.WithDescription("Total model call failures by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.FunctionCalls, err = m.Int64Counter("clarivox.function.calls",
		metric.WithDescription("Total business function invocations by function and status."),
	); err != nil {
		return nil, err
	}
	if met.QueueJobs, err = m.Int64Counter("clarivox.queue.jobs",
		metric.WithDescription("Total queue job outcomes."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("clarivox.active_sessions",
		metric.WithDescription("Number of hydrated sessions in memory."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("clarivox.queue.depth",
		metric.WithDescription("Number of jobs currently queued."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("clarivox.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordModelRequest records a model request counter increment with the
// standard attribute set, plus an error increment when status is not "ok".
func (m *Metrics) RecordModelRequest(ctx context.Context, provider, kind, status string) {
	m.ModelRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
	if status != "ok" {
		m.ModelErrors.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("provider", provider),
				attribute.String("kind", kind),
			),
		)
	}
}

// RecordTurn records one processed turn with its classification and applied
// cleaning level, and the reported total duration.
func (m *Metrics) RecordTurn(ctx context.Context, classification, level string, total time.Duration) {
	m.TurnsProcessed.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("classification", classification),
			attribute.String("level", level),
		),
	)
	m.TurnDuration.Record(ctx, total.Seconds())
}

// RecordFunctionCall records a business function invocation.
func (m *Metrics) RecordFunctionCall(ctx context.Context, function, status string) {
	m.FunctionCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("function", function),
			attribute.String("status", status),
		),
	)
}

// RecordQueueJob records a queue job outcome.
func (m *Metrics) RecordQueueJob(ctx context.Context, outcome string) {
	m.QueueJobs.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}
