// Package observe provides application-wide observability primitives for the
// lap counter: OpenTelemetry metrics, tracing helpers, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all lap counter metrics.
const meterName = "github.com/svommelab/lapcounter"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// LevelReadings counts raw level readings processed by the engine.
	// Use with attribute.String("source", ...).
	LevelReadings metric.Int64Counter

	// TurnsAccepted counts turn events that passed threshold and debounce.
	// Use with attribute.String("source", ...).
	TurnsAccepted metric.Int64Counter

	// LapWriteFailures counts lap records that could not be persisted after
	// all retries.
	LapWriteFailures metric.Int64Counter

	// FramesDropped counts camera frames discarded because analysis of the
	// previous frame was still in flight.
	FramesDropped metric.Int64Counter

	// ActiveDetectors tracks the number of currently running detectors.
	ActiveDetectors metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.LevelReadings, err = m.Int64Counter("lapcounter.level.readings",
		metric.WithDescription("Raw level readings processed by the engine, by source."),
	); err != nil {
		return nil, err
	}
	if met.TurnsAccepted, err = m.Int64Counter("lapcounter.turns.accepted",
		metric.WithDescription("Accepted turn events by source."),
	); err != nil {
		return nil, err
	}
	if met.LapWriteFailures, err = m.Int64Counter("lapcounter.ledger.write_failures",
		metric.WithDescription("Lap records not persisted after exhausting retries."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("lapcounter.camera.frames_dropped",
		metric.WithDescription("Camera frames discarded while analysis was busy."),
	); err != nil {
		return nil, err
	}
	if met.ActiveDetectors, err = m.Int64UpDownCounter("lapcounter.active_detectors",
		metric.WithDescription("Number of currently running detectors."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("lapcounter.http.request.duration",
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

// RecordLevelReading records one processed level reading.
func (m *Metrics) RecordLevelReading(ctx context.Context, source string) {
	m.LevelReadings.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordTurnAccepted records one accepted turn.
func (m *Metrics) RecordTurnAccepted(ctx context.Context, source string) {
	m.TurnsAccepted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordLapWriteFailure records a lap record lost after exhausting retries.
func (m *Metrics) RecordLapWriteFailure(ctx context.Context) {
	m.LapWriteFailures.Add(ctx, 1)
}

// RecordFrameDropped records a camera frame discarded while analysis was busy.
func (m *Metrics) RecordFrameDropped(ctx context.Context) {
	m.FramesDropped.Add(ctx, 1)
}

// AddActiveDetectors adjusts the running-detector gauge by delta.
func (m *Metrics) AddActiveDetectors(ctx context.Context, delta int64, source string) {
	m.ActiveDetectors.Add(ctx, delta,
		metric.WithAttributes(attribute.String("source", source)),
	)
}
