// Package observe provides application-wide observability primitives for
// Solenne: OpenTelemetry metrics, distributed tracing, structured logging,
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/solenne-ai/solenne/pkg/frame"
)

// meterName is the instrumentation scope name used for all Solenne metrics.
const meterName = "github.com/solenne-ai/solenne"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
//
// Metrics implements the pipeline's StatsRecorder interface, so an instance
// can be attached directly to a pipeline with pipeline.WithStats.
type Metrics struct {
	// StageDuration tracks per-frame processing latency by stage and frame
	// kind.
	StageDuration metric.Float64Histogram

	// FramesProcessed counts frames processed by stage and frame kind.
	FramesProcessed metric.Int64Counter

	// StageErrors counts stage processing failures by stage.
	StageErrors metric.Int64Counter

	// CrisisEscalations counts safety-keyword escalations.
	CrisisEscalations metric.Int64Counter

	// AvatarFallbacks counts sessions that degraded to voice-only because the
	// renderer was unavailable.
	AvatarFallbacks metric.Int64Counter

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("solenne.pipeline.stage.duration",
		metric.WithDescription("Per-frame processing latency by stage and frame kind."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FramesProcessed, err = m.Int64Counter("solenne.pipeline.frames",
		metric.WithDescription("Total frames processed by stage and frame kind."),
	); err != nil {
		return nil, err
	}
	if met.StageErrors, err = m.Int64Counter("solenne.pipeline.stage.errors",
		metric.WithDescription("Total stage processing failures by stage."),
	); err != nil {
		return nil, err
	}
	if met.CrisisEscalations, err = m.Int64Counter("solenne.crisis.escalations",
		metric.WithDescription("Total safety-keyword escalations."),
	); err != nil {
		return nil, err
	}
	if met.AvatarFallbacks, err = m.Int64Counter("solenne.avatar.fallbacks",
		metric.WithDescription("Sessions degraded to voice-only because the renderer was unavailable."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("solenne.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("solenne.http.request.duration",
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

// FrameProcessed records one processed frame. It satisfies the pipeline's
// StatsRecorder interface.
func (m *Metrics) FrameProcessed(stage string, kind frame.Kind, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("kind", kind.String()),
	)
	ctx := context.Background()
	m.FramesProcessed.Add(ctx, 1, attrs)
	m.StageDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// StageError records one stage processing failure. It satisfies the
// pipeline's StatsRecorder interface.
func (m *Metrics) StageError(stage string) {
	m.StageErrors.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordCrisisEscalation increments the escalation counter with the matched
// keyword count as an attribute.
func (m *Metrics) RecordCrisisEscalation(ctx context.Context, matched int) {
	m.CrisisEscalations.Add(ctx, 1,
		metric.WithAttributes(attribute.Int("matched_keywords", matched)),
	)
}

// RecordAvatarFallback increments the voice-only fallback counter.
func (m *Metrics) RecordAvatarFallback(ctx context.Context) {
	m.AvatarFallbacks.Add(ctx, 1)
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted(ctx context.Context) {
	m.ActiveSessions.Add(ctx, 1)
}

// SessionEnded decrements the active session gauge.
func (m *Metrics) SessionEnded(ctx context.Context) {
	m.ActiveSessions.Add(ctx, -1)
}
