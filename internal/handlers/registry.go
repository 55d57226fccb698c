// Package handlers implements the closed set of built-in stage handler
// kinds (C7 step 3: input, transform, validation, output) plus the registry
// that looks them up by kind for the Stage Runner.
package handlers

import (
	"sort"
	"sync"

	pipeline "github.com/flowforge/pipelinectl/internal/domain/pipeline"
	"github.com/flowforge/pipelinectl/internal/ports"
)

// Registry implements ports.HandlerRegistry with an in-memory map keyed by
// stage kind. Handler kinds are pluggable by name; nothing beyond Register
// couples the registry to the four built-in kinds.
type Registry struct {
	mu       sync.RWMutex
	handlers map[pipeline.StageKind]ports.Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[pipeline.StageKind]ports.Handler)}
}

// NewDefaultRegistry creates a registry pre-populated with the four
// built-in handler kinds.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(InputHandler{})
	_ = r.Register(TransformHandler{})
	_ = r.Register(ValidationHandler{})
	_ = r.Register(OutputHandler{})
	return r
}

// Register stores a handler keyed by its kind, rejecting a duplicate
// registration for the same kind.
func (r *Registry) Register(h ports.Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[h.Kind()]; exists {
		return &pipeline.DomainError{
			Code:    pipeline.ErrCodeDuplicate,
			Message: "handler for kind already registered",
			Context: map[string]interface{}{"kind": string(h.Kind())},
		}
	}
	r.handlers[h.Kind()] = h
	return nil
}

// Get returns the handler registered for kind.
func (r *Registry) Get(kind pipeline.StageKind) (ports.Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[kind]
	if !ok {
		return nil, &pipeline.DomainError{
			Code:    pipeline.ErrCodeNotFound,
			Message: "no handler registered for stage kind",
			Context: map[string]interface{}{"kind": string(kind)},
		}
	}
	return h, nil
}

// List returns every registered handler, ordered by kind for deterministic
// output.
func (r *Registry) List() []ports.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]pipeline.StageKind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	out := make([]ports.Handler, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, r.handlers[k])
	}
	return out
}

var _ ports.HandlerRegistry = (*Registry)(nil)
