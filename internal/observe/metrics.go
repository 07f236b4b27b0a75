// Package observe provides application-wide observability primitives for the
// thought memory service: OpenTelemetry metrics and distributed tracing.
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all service metrics.
const meterName = "github.com/thoughtmemory/tms"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per operation ---

	// IngestDuration tracks parse-and-store latency for one ingestion call.
	IngestDuration metric.Float64Histogram

	// SemanticSearchDuration tracks semantic_search query latency.
	SemanticSearchDuration metric.Float64Histogram

	// ReflectionDuration tracks one full reflect() cycle's latency.
	ReflectionDuration metric.Float64Histogram

	// --- Counters ---

	// ThoughtsStored counts individual thought fragments persisted. Use with
	// attribute: attribute.String("session_id", ...)
	ThoughtsStored metric.Int64Counter

	// EdgesCreated counts graph edges created by linking operations.
	EdgesCreated metric.Int64Counter

	// ReflectionCycles counts completed reflection cycles. Use with
	// attribute: attribute.String("mode", ...)
	ReflectionCycles metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// VectorIndexSize tracks the number of vectors currently held in the
	// in-process vector index.
	VectorIndexSize metric.Int64UpDownCounter

	// GraphNodeCount tracks the number of nodes currently held in the
	// thought graph.
	GraphNodeCount metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for store
// and reflection operation latencies.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.IngestDuration, err = m.Float64Histogram("thoughtmemory.ingest.duration",
		metric.WithDescription("Latency of parse-and-store ingestion calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SemanticSearchDuration, err = m.Float64Histogram("thoughtmemory.semantic_search.duration",
		metric.WithDescription("Latency of semantic_search queries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ReflectionDuration, err = m.Float64Histogram("thoughtmemory.reflection.duration",
		metric.WithDescription("Latency of a full reflection cycle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ThoughtsStored, err = m.Int64Counter("thoughtmemory.thoughts.stored",
		metric.WithDescription("Total thought fragments persisted."),
	); err != nil {
		return nil, err
	}
	if met.EdgesCreated, err = m.Int64Counter("thoughtmemory.edges.created",
		metric.WithDescription("Total graph edges created."),
	); err != nil {
		return nil, err
	}
	if met.ReflectionCycles, err = m.Int64Counter("thoughtmemory.reflection.cycles",
		metric.WithDescription("Total completed reflection cycles by mode."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("thoughtmemory.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("thoughtmemory.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.VectorIndexSize, err = m.Int64UpDownCounter("thoughtmemory.vector_index.size",
		metric.WithDescription("Number of vectors currently held in the vector index."),
	); err != nil {
		return nil, err
	}
	if met.GraphNodeCount, err = m.Int64UpDownCounter("thoughtmemory.graph.node_count",
		metric.WithDescription("Number of nodes currently held in the thought graph."),
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordReflectionCycle is a convenience method that records a completed
// reflection cycle counter increment.
func (m *Metrics) RecordReflectionCycle(ctx context.Context, mode string) {
	m.ReflectionCycles.Add(ctx, 1,
		metric.WithAttributes(attribute.String("mode", mode)),
	)
}
