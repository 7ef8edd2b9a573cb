// Package mcptools exposes the tools of external MCP servers as
// [tools.Tool] values. Each server is reached over stdio or streamable HTTP
// and every call to it passes through a per-server circuit breaker, so a
// dead server fails fast instead of stalling the conversation.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/livetalk/internal/resilience"
	"github.com/MrWong99/livetalk/internal/tools"
	"github.com/MrWong99/livetalk/pkg/provider/live"
)

// Transport selects how an MCP server is reached.
type Transport string

const (
	// TransportStdio spawns the server and talks over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP uses the MCP streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes one MCP server.
type ServerConfig struct {
	Name      string
	Transport Transport
	// Command is the executable and its arguments for stdio servers.
	Command string
	// URL is the endpoint for streamable HTTP servers.
	URL string
	// Env is added to the inherited environment of stdio servers.
	Env map[string]string
	// Breaker tunes the server's circuit breaker. Name is filled in.
	Breaker resilience.CircuitBreakerConfig
}

// ErrToolFailed wraps error results reported by a server.
var ErrToolFailed = errors.New("mcptools: tool reported an error")

// Host owns the client sessions to all connected servers.
type Host struct {
	client *mcpsdk.Client

	mu       sync.Mutex
	sessions map[string]*mcpsdk.ClientSession
}

// New returns a Host with no connected servers.
func New() *Host {
	return &Host{
		client:   mcpsdk.NewClient(&mcpsdk.Implementation{Name: "livetalk", Version: "1.0.0"}, nil),
		sessions: make(map[string]*mcpsdk.ClientSession),
	}
}

// Connect opens cfg's transport and returns the server's tools.
func (h *Host) Connect(ctx context.Context, cfg ServerConfig) ([]tools.Tool, error) {
	if cfg.Name == "" {
		return nil, errors.New("mcptools: server config must have a non-empty name")
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return nil, fmt.Errorf("mcptools: stdio server %q requires a command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcptools: streamable-http server %q requires a url", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}

	default:
		return nil, fmt.Errorf("mcptools: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	return h.ConnectTransport(ctx, cfg.Name, transport, cfg.Breaker)
}

// ConnectTransport connects over an already constructed transport. The
// returned tools route their calls through a breaker built from bcfg.
func (h *Host) ConnectTransport(ctx context.Context, name string, transport mcpsdk.Transport, bcfg resilience.CircuitBreakerConfig) ([]tools.Tool, error) {
	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcptools: connect to server %q: %w", name, err)
	}

	var discovered []*mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("mcptools: list tools of server %q: %w", name, err)
		}
		discovered = append(discovered, tool)
	}

	h.mu.Lock()
	if old, ok := h.sessions[name]; ok {
		_ = old.Close()
	}
	h.sessions[name] = session
	h.mu.Unlock()

	bcfg.Name = "mcp:" + name
	breaker := resilience.NewCircuitBreaker(bcfg)

	out := make([]tools.Tool, 0, len(discovered))
	for _, t := range discovered {
		out = append(out, tools.Tool{
			Declaration: live.ToolDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaToMap(t.InputSchema),
			},
			Handler: callHandler(session, breaker, t.Name),
		})
	}
	slog.Info("mcp server connected", "server", name, "tools", len(out))
	return out, nil
}

// callHandler invokes toolName on session. Transport failures count against
// the breaker; error results reported by the tool itself do not.
func callHandler(session *mcpsdk.ClientSession, breaker *resilience.CircuitBreaker, toolName string) tools.Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		var res *mcpsdk.CallToolResult
		err := breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			res, err = session.CallTool(ctx, &mcpsdk.CallToolParams{Name: toolName, Arguments: args})
			return err
		})
		if err != nil {
			return "", fmt.Errorf("mcptools: call %q: %w", toolName, err)
		}

		var sb strings.Builder
		for _, c := range res.Content {
			if tc, ok := c.(*mcpsdk.TextContent); ok {
				sb.WriteString(tc.Text)
			}
		}
		if res.IsError {
			return "", fmt.Errorf("%w: %s", ErrToolFailed, sb.String())
		}
		return sb.String(), nil
	}
}

// Close ends all server sessions.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for name, s := range h.sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mcptools: close server %q: %w", name, err))
		}
		delete(h.sessions, name)
	}
	return errors.Join(errs...)
}

// schemaToMap normalises a tool input schema into map form.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// splitCommand splits "/bin/foo --bar baz" into ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (string, []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
