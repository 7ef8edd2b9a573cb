// Package observe provides application-wide observability primitives for
// livetalk: OpenTelemetry metrics, tracing helpers, trace-aware logging, and
// HTTP middleware for the diagnostics server.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them to Prometheus so they can be scraped from /metrics. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all livetalk metrics.
const meterName = "github.com/MrWong99/livetalk"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Uplink ---

	// UplinkChunks counts microphone chunks handed to the session. Use with
	// attribute.String("status", "sent"|"rejected"|"error").
	UplinkChunks metric.Int64Counter

	// CaptureDrops counts chunks the relay queue refused. Use with
	// attribute.String("reason", "full"|"closed").
	CaptureDrops metric.Int64Counter

	// --- Downlink ---

	// DownlinkMessages counts inbound messages by kind. Use with
	// attribute.String("kind", ...).
	DownlinkMessages metric.Int64Counter

	// PlaybackBytes counts response audio bytes. Use with
	// attribute.String("status", "admitted"|"dropped").
	PlaybackBytes metric.Int64Counter

	// PlaybackAdmitWait tracks how long admission waited for buffer space.
	PlaybackAdmitWait metric.Float64Histogram

	// ResumptionUpdates counts persisted resumption handles.
	ResumptionUpdates metric.Int64Counter

	// --- Tools ---

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ToolExecutionDuration tracks tool handler latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Session ---

	// SessionConnects counts connection attempts. Use with attributes:
	//   attribute.String("transport", ...), attribute.String("status", ...)
	SessionConnects metric.Int64Counter

	// ActiveSessions tracks the number of connected sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks diagnostics request time. Use with
	// attributes attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds).
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.UplinkChunks, err = m.Int64Counter("livetalk.uplink.chunks",
		metric.WithDescription("Microphone chunks handed to the live session by status."),
	); err != nil {
		return nil, err
	}
	if met.CaptureDrops, err = m.Int64Counter("livetalk.capture.drops",
		metric.WithDescription("Captured chunks dropped by the relay queue by reason."),
	); err != nil {
		return nil, err
	}
	if met.DownlinkMessages, err = m.Int64Counter("livetalk.downlink.messages",
		metric.WithDescription("Inbound live session messages by kind."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackBytes, err = m.Int64Counter("livetalk.playback.bytes",
		metric.WithDescription("Response audio bytes by admission status."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.PlaybackAdmitWait, err = m.Float64Histogram("livetalk.playback.admit_wait",
		metric.WithDescription("Time spent waiting for playback buffer space."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ResumptionUpdates, err = m.Int64Counter("livetalk.session.resumption_updates",
		metric.WithDescription("Session resumption handles persisted."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("livetalk.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("livetalk.tool_execution.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionConnects, err = m.Int64Counter("livetalk.session.connects",
		metric.WithDescription("Live session connection attempts by transport and status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("livetalk.active_sessions",
		metric.WithDescription("Number of connected live sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("livetalk.http.request.duration",
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
// fails, which does not happen with the global provider.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordUplink counts one uplink send with the given status.
func (m *Metrics) RecordUplink(ctx context.Context, status string) {
	m.UplinkChunks.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordCaptureDrop counts one chunk refused by the relay queue.
func (m *Metrics) RecordCaptureDrop(ctx context.Context, reason string) {
	m.CaptureDrops.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordDownlink counts one inbound message of the given kind.
func (m *Metrics) RecordDownlink(ctx context.Context, kind string) {
	m.DownlinkMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordPlayback counts n bytes of response audio with the given status.
func (m *Metrics) RecordPlayback(ctx context.Context, n int, status string) {
	m.PlaybackBytes.Add(ctx, int64(n), metric.WithAttributes(attribute.String("status", status)))
}

// RecordToolCall counts one tool invocation and records its latency.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolExecutionDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("tool", tool)))
}

// RecordConnect counts one connection attempt.
func (m *Metrics) RecordConnect(ctx context.Context, transport, status string) {
	m.SessionConnects.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("transport", transport),
			attribute.String("status", status),
		),
	)
}
