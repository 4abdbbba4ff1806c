// ABOUTME: Tool interface, registry, and validation error type.
// ABOUTME: The JSON-RPC server dispatches tools/list and tools/call through here.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Definition describes a tool to clients, MCP-style.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Tool is an executable unit exposed over JSON-RPC. Execute receives the
// raw arguments object and the authenticated request context.
type Tool interface {
	Definition() Definition
	Execute(ctx context.Context, args json.RawMessage) (any, error)
}

// ValidationError marks argument problems the caller can fix. The server
// maps it to a distinct error code instead of a generic internal error.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// Validationf builds a ValidationError with fmt-style formatting.
func Validationf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// Registry holds the registered tools. Safe for concurrent use; in
// practice registration happens once at startup and reads dominate.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Definition().Name] = t
}

// Get returns the named tool, or nil if it is not registered.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Definitions returns all tool definitions sorted by name for stable
// tools/list output.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
