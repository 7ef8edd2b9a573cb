package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/livetalk/internal/observe"
	"github.com/MrWong99/livetalk/internal/tools"
)

func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// counterValue sums the int64 data points of name whose attribute key has
// the given value.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name, key, value string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: data is %T, want Sum[int64]", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func newExecutor(t *testing.T, m *observe.Metrics) *tools.Executor {
	t.Helper()
	now := func() time.Time { return time.Date(2025, 3, 14, 9, 5, 7, 0, time.UTC) }
	reg, err := tools.NewRegistry(tools.Builtins(now)...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return tools.NewExecutor(reg, tools.WithMetrics(m))
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// fakeSpeaker records admitted audio.
type fakeSpeaker struct {
	mu        sync.Mutex
	admitted  [][]byte
	inits     int
	flushes   int
	teardowns int
	panicOn   int // panics on the n-th Admit (1-based) when > 0
	calls     int
}

func (s *fakeSpeaker) Init(string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inits++
	return nil
}

func (s *fakeSpeaker) Admit(_ context.Context, b []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.panicOn > 0 && s.calls == s.panicOn {
		panic("speaker exploded")
	}
	s.admitted = append(s.admitted, b)
	return true
}

func (s *fakeSpeaker) Flush() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	n := 0
	for _, b := range s.admitted {
		n += len(b)
	}
	s.admitted = nil
	return n
}

func (s *fakeSpeaker) Teardown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardowns++
	return nil
}

func (s *fakeSpeaker) snapshot() (admitted [][]byte, flushes, teardowns int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.admitted...), s.flushes, s.teardowns
}

// memHandles is an in-memory HandleStore.
type memHandles struct {
	mu    sync.Mutex
	saved []string
	err   error
}

func (h *memHandles) Save(handle string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.saved = append(h.saved, handle)
	return nil
}

func (h *memHandles) Last() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.saved) == 0 {
		return ""
	}
	return h.saved[len(h.saved)-1]
}

// memAudit is an in-memory AuditSink.
type memAudit struct {
	mu      sync.Mutex
	records []string
}

func (a *memAudit) Append(raw []byte) error {
	if len(raw) == 0 {
		return errors.New("empty record")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, string(raw))
	return nil
}

func (a *memAudit) all() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.records...)
}
