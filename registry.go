package stepflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ToolRegistry holds named tools and is the single dispatch point for tool
// invocation. Registration happens once at startup; after that the registry
// is read-only and safe to share across concurrent runs.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering a second tool under the same name is
// rejected rather than silently shadowing the first.
func (r *ToolRegistry) Register(tool Tool) error {
	if tool == nil {
		return NewValidationError("registration", "tool cannot be nil", nil)
	}
	name := tool.Name()
	if name == "" {
		return NewValidationError("registration", "tool name cannot be empty", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return NewDuplicateToolError(name)
	}
	r.tools[name] = tool
	return nil
}

// Lookup returns the tool registered under name.
func (r *ToolRegistry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Invoke resolves name and executes the tool with the given inputs. Every
// failure mode is normalized to a typed error: an unknown name yields
// ErrCodeToolNotFound, and any error (or panic) raised by the tool itself is
// wrapped as ErrCodeToolExecution with the original message preserved.
func (r *ToolRegistry) Invoke(ctx context.Context, name string, inputs map[string]interface{}) (output interface{}, err error) {
	tool, ok := r.Lookup(name)
	if !ok {
		return nil, NewToolNotFoundError("execution", name)
	}

	defer func() {
		if rec := recover(); rec != nil {
			output = nil
			err = NewToolExecutionError("execution", name, fmt.Errorf("tool panicked: %v", rec))
		}
	}()

	if err := tool.Validate(inputs); err != nil {
		return nil, NewToolExecutionError("execution", name, err)
	}

	out, execErr := tool.Execute(ctx, inputs)
	if execErr != nil {
		if IsStepflowError(execErr) {
			return nil, execErr
		}
		return nil, NewToolExecutionError("execution", name, execErr)
	}
	return out, nil
}

// Names returns the registered tool names in sorted order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns a map of tool names to their full schemas, suitable for use
// in planner and react prompts.
func (r *ToolRegistry) Schemas() map[string]map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make(map[string]map[string]interface{}, len(r.tools))
	for name, tool := range r.tools {
		schemas[name] = tool.Schema()
	}
	return schemas
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
