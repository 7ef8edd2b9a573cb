package mcptools

import (
	"context"
	"errors"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/livetalk/internal/resilience"
	"github.com/MrWong99/livetalk/internal/tools"
)

type echoArgs struct {
	Text string `json:"text" jsonschema:"text to echo"`
}

// startServer runs an in-memory MCP server with an "echo" and a "refuse"
// tool and returns the client side transport plus the server session.
func startServer(t *testing.T) (mcpsdk.Transport, *mcpsdk.ServerSession) {
	t.Helper()
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "test-server", Version: "v0.0.1"}, nil)

	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "echo", Description: "echoes text"},
		func(_ context.Context, _ *mcpsdk.CallToolRequest, in echoArgs) (*mcpsdk.CallToolResult, any, error) {
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "echo: " + in.Text}},
			}, nil, nil
		})
	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "refuse", Description: "always refuses"},
		func(_ context.Context, _ *mcpsdk.CallToolRequest, _ echoArgs) (*mcpsdk.CallToolResult, any, error) {
			return &mcpsdk.CallToolResult{
				IsError: true,
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "not allowed"}},
			}, nil, nil
		})

	clientT, serverT := mcpsdk.NewInMemoryTransports()
	ss, err := server.Connect(context.Background(), serverT, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })
	return clientT, ss
}

func connect(t *testing.T, bcfg resilience.CircuitBreakerConfig) ([]tools.Tool, *mcpsdk.ServerSession) {
	t.Helper()
	transport, ss := startServer(t)

	h := New()
	t.Cleanup(func() { _ = h.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ts, err := h.ConnectTransport(ctx, "test", transport, bcfg)
	if err != nil {
		t.Fatalf("ConnectTransport: %v", err)
	}
	return ts, ss
}

func find(ts []tools.Tool, name string) *tools.Tool {
	for i := range ts {
		if ts[i].Declaration.Name == name {
			return &ts[i]
		}
	}
	return nil
}

func TestConnectTransport_DiscoversTools(t *testing.T) {
	ts, _ := connect(t, resilience.CircuitBreakerConfig{})

	if len(ts) != 2 {
		t.Fatalf("discovered %d tools, want 2", len(ts))
	}
	echo := find(ts, "echo")
	if echo == nil {
		t.Fatal("echo tool missing")
	}
	if echo.Declaration.Description != "echoes text" {
		t.Errorf("description = %q", echo.Declaration.Description)
	}
	if echo.Declaration.Parameters["type"] != "object" {
		t.Errorf("parameters type = %v, want object", echo.Declaration.Parameters["type"])
	}
	props, _ := echo.Declaration.Parameters["properties"].(map[string]any)
	if _, ok := props["text"]; !ok {
		t.Errorf("text property missing: %v", echo.Declaration.Parameters)
	}
}

func TestHandler_CallsServer(t *testing.T) {
	ts, _ := connect(t, resilience.CircuitBreakerConfig{})

	out, err := find(ts, "echo").Handler(context.Background(), map[string]any{"text": "こんにちは"})
	if err != nil {
		t.Fatalf("echo: %v", err)
	}
	if out != "echo: こんにちは" {
		t.Errorf("out = %q", out)
	}
}

func TestHandler_ToolErrorResult(t *testing.T) {
	ts, _ := connect(t, resilience.CircuitBreakerConfig{MaxFailures: 1})
	h := find(ts, "refuse").Handler

	_, err := h(context.Background(), map[string]any{"text": "x"})
	if !errors.Is(err, ErrToolFailed) {
		t.Fatalf("err = %v, want ErrToolFailed", err)
	}

	// A tool-level error must not trip the breaker.
	out, err := find(ts, "echo").Handler(context.Background(), map[string]any{"text": "ok"})
	if err != nil || out != "echo: ok" {
		t.Errorf("echo after refusal = %q, %v", out, err)
	}
}

func TestHandler_BreakerOpensOnTransportFailure(t *testing.T) {
	ts, ss := connect(t, resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	_ = ss.Close()

	h := find(ts, "echo").Handler
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := h(ctx, map[string]any{"text": "a"}); err == nil {
		t.Fatal("expected error after server closed")
	}
	if _, err := h(ctx, map[string]any{"text": "b"}); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("second call err = %v, want ErrCircuitOpen", err)
	}
}

func TestConnect_Validation(t *testing.T) {
	h := New()
	defer h.Close()
	ctx := context.Background()

	tests := []struct {
		name string
		cfg  ServerConfig
	}{
		{"empty name", ServerConfig{Transport: TransportStdio, Command: "x"}},
		{"stdio without command", ServerConfig{Name: "a", Transport: TransportStdio}},
		{"http without url", ServerConfig{Name: "b", Transport: TransportStreamableHTTP}},
		{"unknown transport", ServerConfig{Name: "c", Transport: "carrier-pigeon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.Connect(ctx, tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSplitCommand(t *testing.T) {
	exe, args := splitCommand("  /usr/bin/server --port 8080 ")
	if exe != "/usr/bin/server" || len(args) != 2 || args[1] != "8080" {
		t.Errorf("splitCommand = %q, %q", exe, args)
	}
	if exe, _ := splitCommand("   "); exe != "" {
		t.Errorf("blank command gave %q", exe)
	}
}

func TestTransport_IsValid(t *testing.T) {
	if !TransportStdio.IsValid() || !TransportStreamableHTTP.IsValid() {
		t.Error("known transports reported invalid")
	}
	if Transport("ws").IsValid() {
		t.Error("unknown transport reported valid")
	}
}
