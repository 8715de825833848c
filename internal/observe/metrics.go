// Package observe provides application-wide observability primitives for
// Earshot: OpenTelemetry metrics, tracing helpers, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all Earshot metrics.
const meterName = "github.com/oasis-home/earshot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// SegmentDuration tracks the audio length of emitted segments.
	SegmentDuration metric.Float64Histogram

	// TranscriptionDuration tracks wall-clock transcription latency,
	// including job polling.
	TranscriptionDuration metric.Float64Histogram

	// IdentificationDuration tracks per-transcript speaker identification
	// latency.
	IdentificationDuration metric.Float64Histogram

	// --- Counters ---

	// SegmentsTotal counts segments by terminal outcome. Use with attribute:
	//   attribute.String("status", ...)
	SegmentsTotal metric.Int64Counter

	// TranscriptionCost accumulates the provider's estimated spend in USD.
	TranscriptionCost metric.Float64Counter

	// ProviderRequests counts collaborator API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts collaborator errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// Commands counts trigger-phrase matches by disposition. Use with
	// attributes:
	//   attribute.String("agent", ...), attribute.String("result", ...)
	Commands metric.Int64Counter

	// IdentificationDistance tracks the winning cosine distance per resolved
	// speaker tag, for threshold tuning.
	IdentificationDistance metric.Float64Histogram

	// --- Gauges ---

	// SegmentsInFlight tracks segments currently held by the state tracker.
	SegmentsInFlight metric.Int64UpDownCounter

	// Candidates tracks the number of unknown-speaker clusters.
	Candidates metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// a pipeline whose slowest stage is a polled cloud transcription job.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 180, 600,
}

// distanceBuckets covers the usable cosine-distance range.
var distanceBuckets = []float64{
	0.05, 0.10, 0.15, 0.20, 0.25, 0.30, 0.40, 0.50, 0.75, 1.0,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SegmentDuration, err = m.Float64Histogram("earshot.segment.duration",
		metric.WithDescription("Audio length of emitted segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = m.Float64Histogram("earshot.transcription.duration",
		metric.WithDescription("Wall-clock transcription latency including polling."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.IdentificationDuration, err = m.Float64Histogram("earshot.identification.duration",
		metric.WithDescription("Per-transcript speaker identification latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.IdentificationDistance, err = m.Float64Histogram("earshot.identification.distance",
		metric.WithDescription("Winning cosine distance per resolved speaker tag."),
		metric.WithExplicitBucketBoundaries(distanceBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SegmentsTotal, err = m.Int64Counter("earshot.segments",
		metric.WithDescription("Total segments by terminal pipeline status."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionCost, err = m.Float64Counter("earshot.transcription.cost",
		metric.WithDescription("Estimated transcription spend."),
		metric.WithUnit("USD"),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("earshot.provider.requests",
		metric.WithDescription("Total collaborator API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("earshot.provider.errors",
		metric.WithDescription("Total collaborator errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("earshot.commands",
		metric.WithDescription("Trigger-phrase matches by agent and disposition."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.SegmentsInFlight, err = m.Int64UpDownCounter("earshot.segments_in_flight",
		metric.WithDescription("Segments currently held by the pipeline state tracker."),
	); err != nil {
		return nil, err
	}
	if met.Candidates, err = m.Int64UpDownCounter("earshot.candidates",
		metric.WithDescription("Unknown-speaker clusters currently tracked."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
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

// RecordProviderRequest records a collaborator request with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a collaborator error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordSegmentOutcome counts one segment reaching a terminal status.
func (m *Metrics) RecordSegmentOutcome(ctx context.Context, status string) {
	m.SegmentsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordCommand counts one trigger-phrase match with its disposition
// ("dispatched", "unauthorized", "rejected", "failed", or "empty").
func (m *Metrics) RecordCommand(ctx context.Context, agent, result string) {
	m.Commands.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("agent", agent),
			attribute.String("result", result),
		),
	)
}
