// Package observe provides application-wide observability primitives for
// voxbridge: OpenTelemetry metrics, structured-log retention, and the
// Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// via Prometheus ([InitProvider]). A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxbridge metrics.
const meterName = "github.com/dhkwon/voxbridge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// PlayDuration tracks wall-clock playback time per utterance, from
	// submission to terminal state. Use with attribute.String("status", ...).
	PlayDuration metric.Float64Histogram

	// Retries counts playback retry attempts.
	Retries metric.Int64Counter

	// VoiceFallbacks counts playbacks where a less-preferred voice was
	// substituted for the requested one.
	VoiceFallbacks metric.Int64Counter

	// BusMessages counts processed bus messages. Use with attributes:
	//   attribute.String("type", ...), attribute.String("status", ...)
	BusMessages metric.Int64Counter

	// DedupHits counts messages collapsed by the dedup window.
	DedupHits metric.Int64Counter

	// QueueDepth tracks the number of messages waiting in the bus queue.
	QueueDepth metric.Int64UpDownCounter

	// ProbeEdges counts listening-state transitions reported by page
	// probes. Use with attribute.String("site", ...).
	ProbeEdges metric.Int64Counter
}

// playbackBuckets defines histogram bucket boundaries (in seconds) sized
// for utterance playback times.
var playbackBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.PlayDuration, err = m.Float64Histogram("voxbridge.tts.play.duration",
		metric.WithDescription("Playback duration per utterance by terminal status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(playbackBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Retries, err = m.Int64Counter("voxbridge.tts.retries",
		metric.WithDescription("Total playback retry attempts."),
	); err != nil {
		return nil, err
	}
	if met.VoiceFallbacks, err = m.Int64Counter("voxbridge.tts.voice_fallbacks",
		metric.WithDescription("Total playbacks using a substituted voice."),
	); err != nil {
		return nil, err
	}
	if met.BusMessages, err = m.Int64Counter("voxbridge.bus.messages",
		metric.WithDescription("Total bus messages by type and status."),
	); err != nil {
		return nil, err
	}
	if met.DedupHits, err = m.Int64Counter("voxbridge.bus.dedup_hits",
		metric.WithDescription("Total messages collapsed by deduplication."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("voxbridge.bus.queue_depth",
		metric.WithDescription("Messages currently waiting in the bus queue."),
	); err != nil {
		return nil, err
	}
	if met.ProbeEdges, err = m.Int64Counter("voxbridge.probe.edges",
		metric.WithDescription("Listening-state transitions by site class."),
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

// RecordPlay records one finished playback with its terminal status
// ("ok", "error", "timeout", "stopped").
func (m *Metrics) RecordPlay(ctx context.Context, seconds float64, status string) {
	m.PlayDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordBusMessage records one processed message with its reply status
// ("ok", "error", "duplicate", "timeout").
func (m *Metrics) RecordBusMessage(ctx context.Context, msgType, status string) {
	m.BusMessages.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", msgType),
			attribute.String("status", status),
		),
	)
}

// RecordProbeEdge records one listening-state transition for a site class.
func (m *Metrics) RecordProbeEdge(ctx context.Context, site string) {
	m.ProbeEdges.Add(ctx, 1,
		metric.WithAttributes(attribute.String("site", site)),
	)
}
