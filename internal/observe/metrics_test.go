package observe_test

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/dhkwon/voxbridge/internal/observe"
)

func TestNewMetrics_CreatesAllInstruments(t *testing.T) {
	t.Parallel()
	mp := sdkmetric.NewMeterProvider()
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	if m.PlayDuration == nil || m.Retries == nil || m.VoiceFallbacks == nil ||
		m.BusMessages == nil || m.DedupHits == nil || m.QueueDepth == nil || m.ProbeEdges == nil {
		t.Error("instrument left nil")
	}
}

func TestMetrics_RecordersExport(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	ctx := context.Background()
	m.RecordPlay(ctx, 1.2, "ok")
	m.RecordBusMessage(ctx, "TTS_PLAY", "ok")
	m.RecordBusMessage(ctx, "TTS_PLAY", "duplicate")
	m.RecordProbeEdge(ctx, "google")
	m.QueueDepth.Add(ctx, 1)
	m.QueueDepth.Add(ctx, -1)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			names[metric.Name] = true
		}
	}
	for _, want := range []string{
		"voxbridge.tts.play.duration",
		"voxbridge.bus.messages",
		"voxbridge.bus.queue_depth",
		"voxbridge.probe.edges",
	} {
		if !names[want] {
			t.Errorf("metric %q not exported; have %v", want, names)
		}
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	t.Parallel()
	if observe.DefaultMetrics() != observe.DefaultMetrics() {
		t.Error("DefaultMetrics is not a singleton")
	}
}
