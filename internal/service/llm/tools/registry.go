package tools

import (
	"sort"
	"sync"

	"cadence/internal/domain/models/llm"
)

// Describer is implemented by executors that can describe themselves to the model.
type Describer interface {
	Definition() llm.ToolDefinition
}

// ToolRegistry maps tool names to executors.
// It is thread-safe and read-mostly: sessions only look tools up while dispatching.
type ToolRegistry struct {
	mu        sync.RWMutex
	executors map[string]ToolExecutor
}

// NewToolRegistry creates a new tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		executors: make(map[string]ToolExecutor),
	}
}

// Register adds a tool executor to the registry.
// If a tool with the same name already exists, it will be replaced.
func (r *ToolRegistry) Register(name string, executor ToolExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[name] = executor
}

// Lookup retrieves a tool executor by name.
func (r *ToolRegistry) Lookup(name string) (ToolExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	executor, ok := r.executors[name]
	return executor, ok
}

// Names returns the registered tool names in sorted order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the definitions of every registered tool that implements
// Describer, sorted by name. Tools without a definition are dispatchable but not
// advertised to the model.
func (r *ToolRegistry) Definitions() []llm.ToolDefinition {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		if d, ok := r.executors[name].(Describer); ok {
			def := d.Definition()
			def.Name = name
			defs = append(defs, def)
		}
	}
	return defs
}
