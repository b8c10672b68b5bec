package tools

import (
	"log/slog"
	"strings"

	"github.com/relaycrew/gatewaycore/internal/providers"
)

// toolGroups map group names to member tool names, expanded when a
// policy spec references "group:<name>".
var toolGroups = map[string][]string{
	"fs":      {"read_file", "write_file", "list_files"},
	"runtime": {"exec"},
}

// RegisterToolGroup adds or replaces a tool group at runtime.
func RegisterToolGroup(name string, members []string) {
	toolGroups[name] = members
}

// Spec is a layered allow/deny tool policy (spec §4.4): a global policy,
// optionally narrowed per-provider, then narrowed again per-agent. Allow
// lists and deny lists may reference "group:<name>" in addition to exact
// tool names.
type Spec struct {
	Allow      []string
	Deny       []string
	AlsoAllow  []string // additive: restores tools removed by Deny
	ByProvider map[string]Spec
}

// PolicyEngine evaluates tool access against a global Spec plus an
// optional per-agent override Spec.
type PolicyEngine struct {
	global Spec
}

// NewPolicyEngine constructs a PolicyEngine from the global policy spec.
func NewPolicyEngine(global Spec) *PolicyEngine {
	return &PolicyEngine{global: global}
}

// FilterTools returns the provider tool definitions an agent call is
// permitted to use, given the registry, the target provider, and an
// optional per-agent override spec.
func (pe *PolicyEngine) FilterTools(registry *Registry, agentID, providerName string, agentSpec *Spec) []providers.ToolDefinition {
	all := registry.List()
	allowed := pe.evaluate(all, providerName, agentSpec)

	defs := make([]providers.ToolDefinition, 0, len(allowed))
	for _, name := range allowed {
		if t, ok := registry.Get(name); ok {
			defs = append(defs, ToProviderDef(t))
		}
	}

	slog.Debug("tool policy applied", "agent", agentID, "provider", providerName,
		"total_tools", len(all), "allowed", len(defs))
	return defs
}

func (pe *PolicyEngine) evaluate(allTools []string, providerName string, agentSpec *Spec) []string {
	allowed := applySpec(allTools, pe.global)
	if pp, ok := pe.global.ByProvider[providerName]; ok {
		allowed = intersectSpec(allowed, pp)
	}
	if agentSpec != nil {
		allowed = applySpecNarrowing(allowed, *agentSpec)
		if pp, ok := agentSpec.ByProvider[providerName]; ok {
			allowed = intersectSpec(allowed, pp)
		}
	}
	return allowed
}

// applySpec computes the initial allowed set from a Spec applied to the
// full tool catalog: an empty Allow means "everything", otherwise only
// the expanded Allow set; Deny always subtracts; AlsoAllow restores.
func applySpec(allTools []string, spec Spec) []string {
	var allowed []string
	if len(spec.Allow) == 0 {
		allowed = copySlice(allTools)
	} else {
		allowed = expandSpec(allTools, spec.Allow)
	}
	allowed = subtractSpec(allowed, spec.Deny)
	allowed = unionWithSpec(allowed, allTools, spec.AlsoAllow)
	return allowed
}

// applySpecNarrowing narrows an already-computed allowed set by a
// further (agent-level) Spec: Allow intersects, Deny subtracts,
// AlsoAllow restores from the full catalog represented by current.
func applySpecNarrowing(current []string, spec Spec) []string {
	catalog := current
	if len(spec.Allow) > 0 {
		current = intersectSpec(current, spec)
	}
	current = subtractSpec(current, spec.Deny)
	current = unionWithSpec(current, catalog, spec.AlsoAllow)
	return current
}

func intersectSpec(current []string, spec Spec) []string {
	expanded := expandNames(spec.Allow)
	var result []string
	for _, t := range current {
		if expanded[t] {
			result = append(result, t)
		}
	}
	return result
}

func subtractSpec(current []string, deny []string) []string {
	denied := expandNames(deny)
	var result []string
	for _, t := range current {
		if !denied[t] {
			result = append(result, t)
		}
	}
	return result
}

func unionWithSpec(current, allTools, spec []string) []string {
	existing := make(map[string]bool, len(current))
	for _, t := range current {
		existing[t] = true
	}
	for _, t := range expandSpec(allTools, spec) {
		if !existing[t] {
			current = append(current, t)
			existing[t] = true
		}
	}
	return current
}

func expandSpec(available []string, spec []string) []string {
	expanded := expandNames(spec)
	var result []string
	for _, t := range available {
		if expanded[t] {
			result = append(result, t)
		}
	}
	return result
}

func expandNames(spec []string) map[string]bool {
	expanded := make(map[string]bool)
	for _, s := range spec {
		if strings.HasPrefix(s, "group:") {
			for _, m := range toolGroups[strings.TrimPrefix(s, "group:")] {
				expanded[m] = true
			}
		} else {
			expanded[s] = true
		}
	}
	return expanded
}

func copySlice(s []string) []string {
	c := make([]string, len(s))
	copy(c, s)
	return c
}
