// Package observe provides the observability primitives shared by parley:
// OpenTelemetry metrics, tracing, trace-aware structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus via [InitProvider]. A package-level [DefaultMetrics] instance is
// provided for convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] so readings do not leak between tests.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all parley metrics.
const meterName = "github.com/MrWong99/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// CycleDuration tracks the wall time of one converse exchange. Use with
	// attribute.String("outcome", ...).
	CycleDuration metric.Float64Histogram

	// PlaybackWait tracks how long the endpoint took to report playback done.
	PlaybackWait metric.Float64Histogram

	// RecordingWait tracks how long the endpoint took to deliver a recording.
	RecordingWait metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool handler latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts backend calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts backend failures. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// ToolCalls counts MCP tool invocations by tool and status.
	ToolCalls metric.Int64Counter

	// Cycles counts finished converse exchanges by outcome.
	Cycles metric.Int64Counter

	// AudioChunks counts recorded audio payloads received from the endpoint.
	AudioChunks metric.Int64Counter

	// StaleAudioDropped counts queued recordings discarded by a drain. Use
	// with attribute.String("stage", "connect"|"listen").
	StaleAudioDropped metric.Int64Counter

	// Supersessions counts endpoint connections replaced by a newer one.
	Supersessions metric.Int64Counter

	// --- Gauges ---

	// ActiveConnections tracks open endpoint sockets, including superseded
	// ones that have not finished closing.
	ActiveConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets covers backend round-trips (seconds).
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// humanBuckets covers waits on a person: listening to speech, then talking.
var humanBuckets = []float64{
	0.5, 1, 2, 5, 10, 20, 30, 60, 120, 240,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TTSDuration, err = m.Float64Histogram("parley.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("parley.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CycleDuration, err = m.Float64Histogram("parley.converse.duration",
		metric.WithDescription("Wall time of one converse exchange by outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(humanBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackWait, err = m.Float64Histogram("parley.playback.wait",
		metric.WithDescription("Time between sending audio and the endpoint reporting playback done."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(humanBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecordingWait, err = m.Float64Histogram("parley.recording.wait",
		metric.WithDescription("Time between the listening instruction and the recording arriving."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(humanBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("parley.tool_execution.duration",
		metric.WithDescription("Latency of MCP tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(humanBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("parley.provider.requests",
		metric.WithDescription("Total backend requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("parley.provider.errors",
		metric.WithDescription("Total backend errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("parley.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.Cycles, err = m.Int64Counter("parley.converse.cycles",
		metric.WithDescription("Total converse exchanges by outcome."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunks, err = m.Int64Counter("parley.endpoint.audio_chunks",
		metric.WithDescription("Total recorded audio payloads received from the endpoint."),
	); err != nil {
		return nil, err
	}
	if met.StaleAudioDropped, err = m.Int64Counter("parley.queue.stale_dropped",
		metric.WithDescription("Total queued recordings discarded as stale, by stage."),
	); err != nil {
		return nil, err
	}
	if met.Supersessions, err = m.Int64Counter("parley.endpoint.supersessions",
		metric.WithDescription("Total endpoint connections replaced by a newer connection."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConnections, err = m.Int64UpDownCounter("parley.endpoint.connections",
		metric.WithDescription("Number of open endpoint connections."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records one backend call with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one backend failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordToolCall records one tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordCycle records a finished converse exchange and its duration.
func (m *Metrics) RecordCycle(ctx context.Context, outcome string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Cycles.Add(ctx, 1, attrs)
	m.CycleDuration.Record(ctx, seconds, attrs)
}

// RecordStaleDrop records n stale recordings discarded at the given stage.
// Zero is not recorded.
func (m *Metrics) RecordStaleDrop(ctx context.Context, stage string, n int) {
	if n <= 0 {
		return
	}
	m.StaleAudioDropped.Add(ctx, int64(n),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}
