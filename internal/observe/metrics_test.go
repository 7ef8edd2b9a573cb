package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// snapshot indexes every collected instrument by name.
func snapshot(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		if sm.Scope.Name != meterName {
			t.Errorf("scope = %q, want %q", sm.Scope.Name, meterName)
		}
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

// point returns the int64 value for the data point carrying all attrs.
func point(t *testing.T, data metricdata.Aggregation, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("aggregation %T is not an int64 sum", data)
	}
	want := attribute.NewSet(attrs...)
	for _, dp := range sum.DataPoints {
		if dp.Attributes.Equals(&want) {
			return dp.Value
		}
	}
	return 0
}

func samples(t *testing.T, data metricdata.Aggregation) uint64 {
	t.Helper()
	hist, ok := data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("aggregation %T is not a float64 histogram", data)
	}
	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	return n
}

func TestMetrics_ConversationRecorders(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	// One spoken turn: three chunks go up (one while reconnecting), one chunk
	// is lost to a full queue, the reply arrives as audio plus a tool call.
	m.RecordConnect(ctx, "vertex", "error")
	m.RecordConnect(ctx, "vertex", "ok")
	m.ActiveSessions.Add(ctx, 1)
	m.RecordUplink(ctx, "sent")
	m.RecordUplink(ctx, "rejected")
	m.RecordUplink(ctx, "sent")
	m.RecordCaptureDrop(ctx, "full")
	m.RecordDownlink(ctx, "audio")
	m.RecordDownlink(ctx, "tool_call")
	m.RecordDownlink(ctx, "audio")
	m.RecordPlayback(ctx, 4800, "admitted")
	m.RecordPlayback(ctx, 480, "dropped")
	m.PlaybackAdmitWait.Record(ctx, 0.1)
	m.RecordToolCall(ctx, "getWeatherInfo", "ok", 0.002)
	m.ResumptionUpdates.Add(ctx, 1)

	got := snapshot(t, reader)

	counters := []struct {
		name  string
		attrs []attribute.KeyValue
		want  int64
	}{
		{"livetalk.session.connects", []attribute.KeyValue{Attr("transport", "vertex"), Attr("status", "ok")}, 1},
		{"livetalk.session.connects", []attribute.KeyValue{Attr("transport", "vertex"), Attr("status", "error")}, 1},
		{"livetalk.active_sessions", nil, 1},
		{"livetalk.uplink.chunks", []attribute.KeyValue{Attr("status", "sent")}, 2},
		{"livetalk.uplink.chunks", []attribute.KeyValue{Attr("status", "rejected")}, 1},
		{"livetalk.capture.drops", []attribute.KeyValue{Attr("reason", "full")}, 1},
		{"livetalk.downlink.messages", []attribute.KeyValue{Attr("kind", "audio")}, 2},
		{"livetalk.downlink.messages", []attribute.KeyValue{Attr("kind", "tool_call")}, 1},
		{"livetalk.playback.bytes", []attribute.KeyValue{Attr("status", "admitted")}, 4800},
		{"livetalk.playback.bytes", []attribute.KeyValue{Attr("status", "dropped")}, 480},
		{"livetalk.tool.calls", []attribute.KeyValue{Attr("tool", "getWeatherInfo"), Attr("status", "ok")}, 1},
		{"livetalk.session.resumption_updates", nil, 1},
	}
	for _, c := range counters {
		data, ok := got[c.name]
		if !ok {
			t.Errorf("%s: not collected", c.name)
			continue
		}
		if v := point(t, data, c.attrs...); v != c.want {
			t.Errorf("%s%v = %d, want %d", c.name, c.attrs, v, c.want)
		}
	}

	for name, want := range map[string]uint64{
		"livetalk.playback.admit_wait":     1,
		"livetalk.tool_execution.duration": 1,
	} {
		data, ok := got[name]
		if !ok {
			t.Errorf("%s: not collected", name)
			continue
		}
		if n := samples(t, data); n != want {
			t.Errorf("%s samples = %d, want %d", name, n, want)
		}
	}

	if _, ok := got["livetalk.http.request.duration"]; ok {
		t.Error("http histogram reported without any request")
	}
}

func TestMetrics_LatencyBuckets(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.ToolExecutionDuration.Record(context.Background(), 0.3)

	hist := snapshot(t, reader)["livetalk.tool_execution.duration"].(metricdata.Histogram[float64])
	bounds := hist.DataPoints[0].Bounds
	if len(bounds) != len(latencyBuckets) {
		t.Fatalf("bounds = %v, want %v", bounds, latencyBuckets)
	}
	for i := range bounds {
		if bounds[i] != latencyBuckets[i] {
			t.Errorf("bound[%d] = %v, want %v", i, bounds[i], latencyBuckets[i])
		}
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics is not a singleton")
	}
}
