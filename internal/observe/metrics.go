// Package observe provides application-wide observability primitives for
// Switchboard: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all Switchboard metrics.
const meterName = "github.com/MrWong99/switchboard"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SessionDuration tracks the wall-clock lifetime of a voice session,
	// from session-start to session-end.
	SessionDuration metric.Float64Histogram

	// ToolExecutionDuration tracks tool handler execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// HandoffDuration tracks agent handoff latency: the time between the
	// switch request arriving and the replacement prompt going live.
	HandoffDuration metric.Float64Histogram

	// --- Counters ---

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// BargeIns counts user interruptions of in-progress assistant speech.
	// Use with attribute: attribute.String("agent", ...)
	BargeIns metric.Int64Counter

	// Handoffs counts agent-to-agent transfers. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	Handoffs metric.Int64Counter

	// Reconnects counts upstream channel redial attempts. Use with attribute:
	//   attribute.String("status", ...)
	Reconnects metric.Int64Counter

	// AudioFrames counts audio frames moved through the session pumps. Use
	// with attribute: attribute.String("direction", "capture"|"playback")
	AudioFrames metric.Int64Counter

	// DroppedFrames counts capture frames discarded under backpressure.
	DroppedFrames metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sessionBuckets defines histogram bucket boundaries (in seconds) for whole
// session lifetimes, which run to minutes rather than milliseconds.
var sessionBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SessionDuration, err = m.Float64Histogram("switchboard.session.duration",
		metric.WithDescription("Wall-clock lifetime of a voice session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("switchboard.tool_execution.duration",
		metric.WithDescription("Latency of tool handler execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HandoffDuration, err = m.Float64Histogram("switchboard.handoff.duration",
		metric.WithDescription("Latency of an agent handoff, request to replacement prompt live."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ToolCalls, err = m.Int64Counter("switchboard.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("switchboard.barge_ins",
		metric.WithDescription("Total user interruptions of assistant speech by agent."),
	); err != nil {
		return nil, err
	}
	if met.Handoffs, err = m.Int64Counter("switchboard.agent.handoffs",
		metric.WithDescription("Total agent-to-agent transfers by source and target agent."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("switchboard.channel.reconnects",
		metric.WithDescription("Total upstream channel redial attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.AudioFrames, err = m.Int64Counter("switchboard.audio.frames",
		metric.WithDescription("Total audio frames moved through the session pumps by direction."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("switchboard.audio.dropped_frames",
		metric.WithDescription("Total capture frames discarded under backpressure."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("switchboard.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("switchboard.http.request.duration",
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

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordBargeIn is a convenience method that records a barge-in counter
// increment for the agent that was interrupted.
func (m *Metrics) RecordBargeIn(ctx context.Context, agent string) {
	m.BargeIns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("agent", agent)),
	)
}

// RecordHandoff is a convenience method that records an agent handoff counter
// increment with the standard attribute set.
func (m *Metrics) RecordHandoff(ctx context.Context, from, to string) {
	m.Handoffs.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordReconnect is a convenience method that records a channel redial
// attempt counter increment.
func (m *Metrics) RecordReconnect(ctx context.Context, status string) {
	m.Reconnects.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordAudioFrames is a convenience method that records n audio frames moved
// in the given direction ("capture" or "playback").
func (m *Metrics) RecordAudioFrames(ctx context.Context, direction string, n int64) {
	m.AudioFrames.Add(ctx, n,
		metric.WithAttributes(attribute.String("direction", direction)),
	)
}
