// Package observe provides application-wide observability primitives for
// jarvis: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all jarvis metrics.
const meterName = "github.com/MrWong99/jarvis"

// Capability labels used for the "capability" attribute.
const (
	CapabilityLLM    = "llm"
	CapabilityTTS    = "tts"
	CapabilitySearch = "search"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per fallback chain ---

	// LLMDuration tracks a whole inference chain run, fallbacks included.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks time until a synthesiser produced its first audio.
	TTSDuration metric.Float64Histogram

	// SearchDuration tracks a whole search chain run.
	SearchDuration metric.Float64Histogram

	// PipelineDuration tracks a committed utterance from entry to the point
	// where both messages are in memory.
	PipelineDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider attempts. Use with attributes:
	//   attribute.String("capability", ...), attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts failed provider attempts. Use with attributes:
	//   attribute.String("capability", ...), attribute.String("provider", ...)
	ProviderErrors metric.Int64Counter

	// ChainExhausted counts chain runs in which every provider failed.
	ChainExhausted metric.Int64Counter

	// TurnTransitions counts turn-state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	TurnTransitions metric.Int64Counter

	// Interruptions counts cancelled responses. Use with attribute:
	//   attribute.String("reason", ...)
	Interruptions metric.Int64Counter

	// InvalidFrames counts audio frames rejected by the analyser.
	InvalidFrames metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of conversations accepting turns.
	ActiveSessions metric.Int64UpDownCounter

	// Connections tracks the number of connected clients.
	Connections metric.Int64UpDownCounter

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

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	// Histograms.
	if met.LLMDuration, err = histogram("jarvis.llm.duration", "Latency of the inference fallback chain."); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = histogram("jarvis.tts.duration", "Latency until the first synthesised audio chunk."); err != nil {
		return nil, err
	}
	if met.SearchDuration, err = histogram("jarvis.search.duration", "Latency of the search fallback chain."); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = histogram("jarvis.pipeline.duration", "Latency of one command pipeline run."); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("jarvis.provider.requests",
		metric.WithDescription("Total provider attempts by capability, provider, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("jarvis.provider.errors",
		metric.WithDescription("Total failed provider attempts by capability and provider."),
	); err != nil {
		return nil, err
	}
	if met.ChainExhausted, err = m.Int64Counter("jarvis.chain.exhausted",
		metric.WithDescription("Total fallback chain runs where every provider failed."),
	); err != nil {
		return nil, err
	}
	if met.TurnTransitions, err = m.Int64Counter("jarvis.turn.transitions",
		metric.WithDescription("Total turn-state transitions by source and target state."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("jarvis.interruptions",
		metric.WithDescription("Total responses cancelled by barge-in or force-stop."),
	); err != nil {
		return nil, err
	}
	if met.InvalidFrames, err = m.Int64Counter("jarvis.vad.invalid_frames",
		metric.WithDescription("Total audio frames rejected as malformed."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("jarvis.active_sessions",
		metric.WithDescription("Number of conversations currently accepting turns."),
	); err != nil {
		return nil, err
	}
	if met.Connections, err = m.Int64UpDownCounter("jarvis.connections",
		metric.WithDescription("Number of connected clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("jarvis.http.request.duration",
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

// ChainDuration returns the latency histogram for a capability, or nil for
// an unknown one.
func (m *Metrics) ChainDuration(capability string) metric.Float64Histogram {
	switch capability {
	case CapabilityLLM:
		return m.LLMDuration
	case CapabilityTTS:
		return m.TTSDuration
	case CapabilitySearch:
		return m.SearchDuration
	}
	return nil
}

// RecordProviderRequest records one provider attempt with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, capability, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("capability", capability),
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one failed provider attempt.
func (m *Metrics) RecordProviderError(ctx context.Context, capability, provider string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("capability", capability),
			attribute.String("provider", provider),
		),
	)
}

// RecordChainExhausted records a chain run where every provider failed.
func (m *Metrics) RecordChainExhausted(ctx context.Context, capability string) {
	m.ChainExhausted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("capability", capability)),
	)
}

// RecordTransition records a turn-state change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.TurnTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordInterruption records a cancelled response.
func (m *Metrics) RecordInterruption(ctx context.Context, reason string) {
	m.Interruptions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
