// Package tools implements the Tool Abstraction (spec §4.4): a uniform
// Tool interface agent turns dispatch against, a Registry collecting
// available tools, and a layered allow/deny PolicyEngine restricting
// which tools a given agent or provider call may use.
package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/relaycrew/gatewaycore/internal/providers"
)

// Tool is anything the agent runtime can dispatch a tool call to.
// Parameters returns a JSON-schema-shaped map describing the tool's
// arguments, used for provider tool-definitions; incoming calls are not
// validated against it.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Registry holds every tool known to the process, keyed by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool name, sorted for deterministic
// ordering (spec §4.9's parallel tool dispatch must re-sort results by
// original call order, not registry order, but a stable List keeps tool
// definitions sent to providers reproducible across turns).
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ToProviderDef converts a Tool into the provider-facing tool definition
// shape consumed by ChatRequest.Tools.
func ToProviderDef(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}
