// Package observe provides application-wide observability primitives for
// Frigoscope: OpenTelemetry metrics, distributed tracing, structured
// logging helpers, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

	"github.com/vantberg/frigoscope/internal/classify"
)

// meterName is the instrumentation scope name used for all Frigoscope
// metrics.
const meterName = "github.com/vantberg/frigoscope"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// ChunkDuration tracks end-to-end per-chunk processing latency
	// (filter + extract + threshold + classify).
	ChunkDuration metric.Float64Histogram

	// Detections counts produced verdicts. Use with attributes:
	//   attribute.String("failure_type", ...), attribute.Bool("anomaly", ...)
	Detections metric.Int64Counter

	// DegradedExtractions counts feature extractions that fell back to
	// the default zero vector, by band.
	DegradedExtractions metric.Int64Counter

	// IngestErrors counts skipped chunks (read timeouts and transient
	// I/O failures).
	IngestErrors metric.Int64Counter

	// ThresholdClamps counts adaptive threshold computations whose raw
	// value fell outside the configured bounds.
	ThresholdClamps metric.Int64Counter

	// ActiveStreams tracks the number of running continuous streams.
	ActiveStreams metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// CPU-bound chunk processing on modest hardware.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ChunkDuration, err = m.Float64Histogram("frigoscope.chunk.duration",
		metric.WithDescription("Per-chunk detection pipeline latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Detections, err = m.Int64Counter("frigoscope.detections",
		metric.WithDescription("Total detection verdicts by failure type and anomaly flag."),
	); err != nil {
		return nil, err
	}
	if met.DegradedExtractions, err = m.Int64Counter("frigoscope.feature.degraded",
		metric.WithDescription("Feature extractions degraded to the default vector, by band."),
	); err != nil {
		return nil, err
	}
	if met.IngestErrors, err = m.Int64Counter("frigoscope.ingest.errors",
		metric.WithDescription("Chunks skipped due to read timeouts or transient I/O failures."),
	); err != nil {
		return nil, err
	}
	if met.ThresholdClamps, err = m.Int64Counter("frigoscope.threshold.clamps",
		metric.WithDescription("Adaptive threshold computations clamped to the configured bounds."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("frigoscope.active_streams",
		metric.WithDescription("Number of running continuous analysis streams."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("frigoscope.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
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

// ObserveChunk records the latency and verdict of one processed chunk.
func (m *Metrics) ObserveChunk(ctx context.Context, d time.Duration, res classify.Result) {
	m.ChunkDuration.Record(ctx, d.Seconds())
	m.Detections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("failure_type", string(res.FailureType)),
		attribute.Bool("anomaly", res.IsAnomaly),
	))
}

// DegradedExtraction records one degraded feature extraction for band.
func (m *Metrics) DegradedExtraction(band string) {
	m.DegradedExtractions.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("band", band)))
}

// ThresholdClamped records one clamped threshold computation.
func (m *Metrics) ThresholdClamped() {
	m.ThresholdClamps.Add(context.Background(), 1)
}

// StreamStarted increments the active stream gauge.
func (m *Metrics) StreamStarted(ctx context.Context) { m.ActiveStreams.Add(ctx, 1) }

// StreamStopped decrements the active stream gauge.
func (m *Metrics) StreamStopped(ctx context.Context) { m.ActiveStreams.Add(ctx, -1) }
