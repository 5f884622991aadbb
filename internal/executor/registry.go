package executor

import (
	"context"
	"slices"
	"sync"

	"github.com/watzon/dockd/internal/action"
)

// Operation runs one action against the hardware and returns its result event.
type Operation interface {
	Execute(ctx context.Context) (*action.Event, error)
}

// OperationFunc adapts a function to Operation.
type OperationFunc func(ctx context.Context) (*action.Event, error)

func (f OperationFunc) Execute(ctx context.Context) (*action.Event, error) {
	return f(ctx)
}

// OperationFactory builds the operation for an action.
type OperationFactory func(a *action.Action) Operation

// Registry maps action kinds to the operations that run them.
type Registry struct {
	mu        sync.RWMutex
	factories map[action.Kind]OperationFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[action.Kind]OperationFactory)}
}

// Register sets the factory for a kind, replacing any earlier one.
func (r *Registry) Register(kind action.Kind, f OperationFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Lookup returns the factory for a kind.
func (r *Registry) Lookup(kind action.Kind) (OperationFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[kind]
	return f, ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []action.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]action.Kind, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
