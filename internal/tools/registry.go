package tools

import (
	"errors"
	"fmt"
)

// Sentinel errors for registry operations.
var (
	// ErrNotRegistered indicates a lookup for a tool name no tool was
	// registered under. Callers treat this as a data condition, not a
	// programming error.
	ErrNotRegistered = errors.New("tool not registered")

	// ErrDuplicateTool indicates a second registration under an
	// already-taken name.
	ErrDuplicateTool = errors.New("tool already registered")
)

// Registry holds the tools available to the engine. Registration order is
// preserved: All and Describe return tools in the order they were added,
// so the decomposition prompt is stable across runs.
//
// Registration happens during startup wiring; after that the registry is
// read-only and safe for concurrent use.
type Registry struct {
	ordered []Tool
	byName  map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Tool)}
}

// Register adds a tool. The name must be non-empty and unused.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("tool is required")
	}
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.byName[name] = t
	r.ordered = append(r.ordered, t)
	return nil
}

// Lookup returns the tool registered under name.
// Returns ErrNotRegistered when no tool carries that name.
func (r *Registry) Lookup(name string) (Tool, error) {
	t, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return t, nil
}

// All returns the registered tools in registration order.
func (r *Registry) All() []Tool {
	out := make([]Tool, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ordered))
	for _, t := range r.ordered {
		names = append(names, t.Name())
	}
	return names
}

// Describe returns prompt-ready metadata for every registered tool, in
// registration order.
func (r *Registry) Describe() []Metadata {
	meta := make([]Metadata, 0, len(r.ordered))
	for _, t := range r.ordered {
		meta = append(meta, Metadata{Name: t.Name(), Description: t.Description()})
	}
	return meta
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	return len(r.ordered)
}
