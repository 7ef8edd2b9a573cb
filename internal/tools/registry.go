package tools

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/livetalk/pkg/provider/live"
)

// ErrDuplicate is returned by [Registry.Register] for a name that is already
// taken.
var ErrDuplicate = errors.New("tools: duplicate tool name")

// Registry holds tools by name and remembers registration order, which is
// the order declarations are sent to the model.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry returns a registry holding the given tools. It fails on the
// first invalid or duplicate tool.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds t. Names must be non-empty and unique.
func (r *Registry) Register(t Tool) error {
	name := t.Declaration.Name
	if name == "" {
		return errors.New("tools: tool must have a non-empty name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tools: tool %q must have a non-nil handler", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Merge registers each tool whose name is still free and returns the names
// that were skipped because an earlier registration holds them. Invalid
// tools are skipped too.
func (r *Registry) Merge(ts ...Tool) (skipped []string) {
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			skipped = append(skipped, t.Declaration.Name)
		}
	}
	return skipped
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Declarations returns the declarations in registration order.
func (r *Registry) Declarations() []live.ToolDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]live.ToolDeclaration, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Declaration)
	}
	return out
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
