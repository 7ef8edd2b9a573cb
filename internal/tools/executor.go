package tools

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/livetalk/internal/observe"
	"github.com/MrWong99/livetalk/pkg/provider/live"
)

// ResponseSender delivers tool responses to the model. [live.Session]
// satisfies it.
type ResponseSender interface {
	SendToolResponse(ctx context.Context, responses []live.FunctionResponse) error
}

// ExecutorOption configures an [Executor].
type ExecutorOption func(*Executor)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithCallTimeout bounds each handler invocation. Zero disables the bound.
func WithCallTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithIDGenerator overrides how missing call IDs are filled in.
func WithIDGenerator(fn func() string) ExecutorOption {
	return func(e *Executor) { e.newID = fn }
}

// Executor dispatches function calls. Its dispatch table is resolved once at
// construction; later registry changes are not observed.
type Executor struct {
	table   map[string]Handler
	metrics *observe.Metrics
	timeout time.Duration
	newID   func() string
}

// NewExecutor snapshots reg into a dispatch table.
func NewExecutor(reg *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		table: make(map[string]Handler),
		newID: uuid.NewString,
	}
	if reg != nil {
		for _, name := range reg.Names() {
			t, _ := reg.Lookup(name)
			e.table[name] = t.Handler
		}
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// Dispatch runs the handler for name and wraps its outcome in a response
// carrying id. Unknown names, handler errors, and panics become error text in
// the response content; Dispatch itself never fails.
func (e *Executor) Dispatch(ctx context.Context, name, id string, args map[string]any) live.FunctionResponse {
	ctx, span := observe.StartSpan(ctx, "tool "+name)
	span.SetAttributes(attribute.String("tool.name", name), attribute.String("tool.call_id", id))
	defer span.End()

	log := observe.Logger(ctx).With("tool", name, "id", id)
	start := time.Now()

	content, status := e.run(ctx, name, args)
	e.metrics.RecordToolCall(ctx, name, status, time.Since(start).Seconds())

	switch status {
	case "ok":
		log.Info("tool call", "args", args, "result", content)
	case "unknown":
		span.SetStatus(codes.Error, content)
		log.Warn("tool call for unknown function")
	default:
		span.SetStatus(codes.Error, content)
		log.Error("tool call failed", "args", args, "result", content)
	}

	return live.FunctionResponse{ID: id, Name: name, Content: content}
}

// run resolves and invokes the handler, turning every failure mode into
// response text.
func (e *Executor) run(ctx context.Context, name string, args map[string]any) (content, status string) {
	h, ok := e.table[name]
	if !ok {
		return "Unknown function: " + name, "unknown"
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool handler panicked", "tool", name, "panic", r, "stack", string(debug.Stack()))
			content = fmt.Sprintf("Function execution error: %v", r)
			status = "panic"
		}
	}()

	out, err := h(ctx, args)
	if err != nil {
		return "Function execution error: " + err.Error(), "error"
	}
	return out, "ok"
}

// Handle dispatches calls in order and sends one response per call. Missing
// IDs are filled in before dispatch. A failed send is logged and the batch
// continues; the first send error is returned after all calls are handled.
func (e *Executor) Handle(ctx context.Context, sender ResponseSender, calls []live.FunctionCall) error {
	var firstErr error
	for _, call := range calls {
		if call.ID == "" {
			call.ID = e.newID()
		}
		resp := e.Dispatch(ctx, call.Name, call.ID, call.Args)

		if err := sender.SendToolResponse(ctx, []live.FunctionResponse{resp}); err != nil {
			if ctx.Err() == nil {
				slog.Error("failed to send tool response", "tool", call.Name, "id", call.ID, "err", err)
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("tools: send response for %q: %w", call.Name, err)
			}
			continue
		}
		slog.Debug("tool response sent", "tool", call.Name, "id", call.ID)
	}
	return firstErr
}

// Names returns the dispatchable tool names in no particular order.
func (e *Executor) Names() []string {
	names := make([]string, 0, len(e.table))
	for n := range e.table {
		names = append(names, n)
	}
	return names
}
