// Package facts provides the fact registry consumed by the condition evaluator.
//
// Fact handlers are registered explicitly by id. There is no dynamic lookup or
// code evaluation: an id that was never registered (and that no fallback
// source knows) fails with types.ErrFactNotFound.
package facts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/solatis/tripwire/internal/types"
)

// Handler resolves one fact for the given parameters.
type Handler interface {
	Resolve(ctx context.Context, params map[string]any) (any, error)
}

// Func adapts a function to Handler.
type Func func(ctx context.Context, params map[string]any) (any, error)

// Resolve implements Handler.
func (f Func) Resolve(ctx context.Context, params map[string]any) (any, error) {
	return f(ctx, params)
}

// Source resolves facts by id. *Registry and *Remote implement it, as does
// any rules.FactResolver.
type Source interface {
	Resolve(ctx context.Context, factID string, params map[string]any) (any, error)
}

// Registry maps fact ids to handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	fallback Source
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds id to h. Registering the same id twice is an error.
func (r *Registry) Register(id string, h Handler) error {
	if id == "" {
		return errors.New("fact id is required")
	}
	if h == nil {
		return fmt.Errorf("fact %q: nil handler", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[id]; exists {
		return fmt.Errorf("fact %q already registered", id)
	}
	r.handlers[id] = h
	return nil
}

// RegisterFunc binds id to fn.
func (r *Registry) RegisterFunc(id string, fn func(ctx context.Context, params map[string]any) (any, error)) error {
	return r.Register(id, Func(fn))
}

// SetFallback sets the source consulted for ids with no local handler.
func (r *Registry) SetFallback(src Source) {
	r.mu.Lock()
	r.fallback = src
	r.mu.Unlock()
}

// IDs returns the registered fact ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolve looks up factID and calls its handler.
func (r *Registry) Resolve(ctx context.Context, factID string, params map[string]any) (any, error) {
	r.mu.RLock()
	h, ok := r.handlers[factID]
	fallback := r.fallback
	r.mu.RUnlock()

	if !ok {
		if fallback != nil {
			return fallback.Resolve(ctx, factID, params)
		}
		return nil, fmt.Errorf("%w: %q", types.ErrFactNotFound, factID)
	}
	return h.Resolve(ctx, params)
}
