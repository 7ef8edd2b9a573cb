// Package tools resolves and executes the function calls a live session asks
// for. Tools are registered once in a [Registry]; an [Executor] dispatches
// each [live.FunctionCall] to its handler and always produces exactly one
// [live.FunctionResponse], even for unknown names, handler errors, and panics.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/MrWong99/livetalk/pkg/provider/live"
)

// Handler executes a tool with the model-supplied arguments and returns the
// text placed in the response's content field. Handlers must respect ctx.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool pairs a model-facing declaration with its handler.
type Tool struct {
	Declaration live.ToolDeclaration
	Handler     Handler
}

// Typed adapts a handler taking a decoded argument struct. Arguments are
// round-tripped through JSON into T; decoding failures surface as handler
// errors.
func Typed[T any](fn func(ctx context.Context, args T) (string, error)) Handler {
	return func(ctx context.Context, raw map[string]any) (string, error) {
		var args T
		if len(raw) > 0 {
			b, err := json.Marshal(raw)
			if err != nil {
				return "", fmt.Errorf("encode arguments: %w", err)
			}
			if err := json.Unmarshal(b, &args); err != nil {
				return "", fmt.Errorf("decode arguments: %w", err)
			}
		}
		return fn(ctx, args)
	}
}

// Declare builds a declaration whose parameter schema is reflected from the
// exported fields of T. Field descriptions come from jsonschema_description
// tags; fields tagged omitempty are optional.
func Declare[T any](name, description string) live.ToolDeclaration {
	r := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
		Anonymous:      true,
	}
	return live.ToolDeclaration{
		Name:        name,
		Description: description,
		Parameters:  schemaMap(r.Reflect(new(T))),
	}
}

// schemaMap converts a reflected schema into the plain map form carried by
// declarations, without the draft metadata the live API rejects.
func schemaMap(s *jsonschema.Schema) map[string]any {
	b, err := json.Marshal(s)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	delete(m, "$schema")
	delete(m, "$id")
	delete(m, "additionalProperties")
	return m
}
