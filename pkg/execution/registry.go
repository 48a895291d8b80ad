package execution

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Handler is the node capability interface. Implementations receive the merged
// upstream inputs and the per-invocation context, and return the node's
// outputs or an error. Handlers must honor ctx cancellation on blocking work.
type Handler interface {
	Execute(ctx context.Context, inputs map[string]interface{}, nc NodeContext) (map[string]interface{}, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, inputs map[string]interface{}, nc NodeContext) (map[string]interface{}, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, inputs map[string]interface{}, nc NodeContext) (map[string]interface{}, error) {
	return f(ctx, inputs, nc)
}

// Constructor builds a handler instance for one node from its config map.
// It runs at build time, before any node executes; config errors should be
// returned here, not deferred to Execute.
type Constructor func(config map[string]interface{}) (Handler, error)

// Registry maps node type names to handler constructors. Each engine owns its
// registry; nothing is registered implicitly.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register binds a node type to a constructor, replacing any prior binding.
func (r *Registry) Register(nodeType string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[nodeType] = ctor
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.constructors))
	for t := range r.constructors {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Build constructs a handler for the given node type. An unknown type is a
// configuration error surfaced at build time.
func (r *Registry) Build(nodeType string, config map[string]interface{}) (Handler, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[nodeType]
	r.mu.RUnlock()
	if !ok {
		return nil, &ExecutionError{
			NodeType: nodeType,
			Category: CategoryConfiguration,
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("unknown node type %q", nodeType),
		}
	}
	handler, err := ctor(config)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s handler: %w", nodeType, err)
	}
	return handler, nil
}
