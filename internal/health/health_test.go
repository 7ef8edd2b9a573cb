package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/MrWong99/livetalk/internal/observe"
)

func pass(context.Context) error { return nil }

func failWith(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

// callJSON calls fn against a fresh recorder and decodes the JSON body.
func callJSON(t *testing.T, fn http.HandlerFunc, ctx context.Context) (int, result) {
	t.Helper()
	req := httptest.NewRequestWithContext(ctx, http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	fn(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	// Liveness ignores failing readiness checkers.
	h := New(Checker{Name: "session", Check: failWith("disconnected")})
	code, body := callJSON(t, h.Healthz, context.Background())
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", code, body.Status)
	}
	if len(body.Checks) != 0 {
		t.Errorf("healthz checks = %v, want none", body.Checks)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "session connected",
			checkers: []Checker{
				{Name: "session", Check: pass},
				{Name: "playback", Check: pass},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"session": "ok", "playback": "ok"},
		},
		{
			name: "session reconnecting",
			checkers: []Checker{
				{Name: "session", Check: failWith("session connecting")},
				{Name: "playback", Check: pass},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"session": "fail: session connecting", "playback": "ok"},
		},
		{
			name: "everything down",
			checkers: []Checker{
				{Name: "session", Check: failWith("session closed")},
				{Name: "playback", Check: failWith("device lost")},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"session": "fail: session closed", "playback": "fail: device lost"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			code, body := callJSON(t, New(tc.checkers...).Readyz, context.Background())
			if code != tc.wantCode {
				t.Errorf("code = %d, want %d", code, tc.wantCode)
			}
			if body.Status != tc.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tc.wantStatus)
			}
			if len(body.Checks) != len(tc.wantChecks) {
				t.Errorf("checks = %v, want %v", body.Checks, tc.wantChecks)
			}
			for name, want := range tc.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("checks[%s] = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_RequestContextBoundsChecks(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "session", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, body := callJSON(t, h.Readyz, ctx)
	if code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", code)
	}
	if !strings.HasPrefix(body.Checks["session"], "fail: ") {
		t.Errorf("session check = %q", body.Checks["session"])
	}
}

func diagnosticsMux(t *testing.T, gatherer prometheus.Gatherer, checkers ...Checker) http.Handler {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return NewMux(New(checkers...), gatherer, m)
}

// recordSpans installs an SDK tracer provider for the duration of the test so
// the middleware has trace ids to report.
func recordSpans(t *testing.T) {
	t.Helper()
	tp := sdktrace.NewTracerProvider()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
}

func TestNewMux_Routes(t *testing.T) {
	recordSpans(t)

	reg := prometheus.NewRegistry()
	turns := prometheus.NewCounter(prometheus.CounterOpts{Name: "livetalk_turns_total", Help: "turns"})
	reg.MustRegister(turns)
	turns.Add(3)

	srv := httptest.NewServer(diagnosticsMux(t, reg, Checker{Name: "session", Check: failWith("session closing")}))
	t.Cleanup(srv.Close)

	tests := []struct {
		method, path string
		wantCode     int
		wantBody     string
	}{
		{http.MethodGet, "/healthz", http.StatusOK, `"status":"ok"`},
		{http.MethodGet, "/readyz", http.StatusServiceUnavailable, `"session":"fail: session closing"`},
		{http.MethodGet, "/metrics", http.StatusOK, "livetalk_turns_total 3"},
		{http.MethodPost, "/healthz", http.StatusMethodNotAllowed, ""},
		{http.MethodGet, "/nope", http.StatusNotFound, ""},
	}
	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, srv.URL+tc.path, nil)
			if err != nil {
				t.Fatal(err)
			}
			resp, err := srv.Client().Do(req)
			if err != nil {
				t.Fatalf("%s %s: %v", tc.method, tc.path, err)
			}
			defer resp.Body.Close()
			raw, _ := io.ReadAll(resp.Body)

			if resp.StatusCode != tc.wantCode {
				t.Errorf("code = %d, want %d", resp.StatusCode, tc.wantCode)
			}
			if !strings.Contains(string(raw), tc.wantBody) {
				t.Errorf("body missing %q:\n%s", tc.wantBody, raw)
			}
			if id := resp.Header.Get(observe.TraceHeader); len(id) != 32 {
				t.Errorf("%s = %q, want a 32 character trace id", observe.TraceHeader, id)
			}
		})
	}
}

func TestNewMux_MetricsOptional(t *testing.T) {
	t.Parallel()

	h := diagnosticsMux(t, nil)
	for path, want := range map[string]int{"/metrics": http.StatusNotFound, "/readyz": http.StatusOK} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != want {
			t.Errorf("%s = %d, want %d", path, rec.Code, want)
		}
	}
}

func TestServe(t *testing.T) {
	t.Parallel()

	t.Run("stops on cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- Serve(ctx, "127.0.0.1:0", http.NotFoundHandler()) }()

		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve = %v, want nil", err)
		}
	})

	t.Run("bad address", func(t *testing.T) {
		if err := Serve(context.Background(), "not-an-address", http.NotFoundHandler()); err == nil {
			t.Error("Serve on an invalid address returned nil")
		}
	})
}
