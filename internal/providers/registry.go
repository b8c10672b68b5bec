package providers

import (
	"fmt"
	"strings"
	"sync"
)

// Registry resolves a "provider/model" identifier (spec §4.3) to a
// Provider instance, instantiating and caching adapters lazily as
// credentials become available (literal, env-indirect, or auth-profile
// supplied by the caller).
type Registry struct {
	mu        sync.Mutex
	factories map[string]func(credential string) Provider
	cache     map[string]Provider
	fallback  func(providerName, credential, baseURL string) Provider
}

// NewRegistry builds an empty registry. Register known vendors with
// Register; RegisterFallback sets the OpenAI-compatible catch-all.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]func(credential string) Provider),
		cache:     make(map[string]Provider),
	}
}

// Register binds a vendor name (the provider segment of "provider/model")
// to a factory that builds a Provider from a resolved credential.
func (r *Registry) Register(name string, factory func(credential string) Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// RegisterFallback sets the OpenAI-compatible transport spec §4.3 mandates
// for any provider segment not otherwise registered.
func (r *Registry) RegisterFallback(factory func(providerName, credential, baseURL string) Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = factory
}

// ParseModelID splits "provider/model" into its two segments. A bare
// identifier with no "/" is treated as a model under the "anthropic"
// provider, matching the teacher's default vendor.
func ParseModelID(id string) (provider, model string) {
	if idx := strings.Index(id, "/"); idx >= 0 {
		return id[:idx], id[idx+1:]
	}
	return "anthropic", id
}

// Resolve returns the Provider for modelID, given a resolved credential
// and (for fallback transports only) a base URL. Results are cached per
// (provider, credential) pair so repeated turns reuse one http.Client.
func (r *Registry) Resolve(modelID, credential, fallbackBaseURL string) (Provider, string, error) {
	providerName, model := ParseModelID(modelID)

	r.mu.Lock()
	defer r.mu.Unlock()

	cacheKey := providerName + "|" + credential
	if p, ok := r.cache[cacheKey]; ok {
		return p, model, nil
	}

	if factory, ok := r.factories[providerName]; ok {
		p := factory(credential)
		r.cache[cacheKey] = p
		return p, model, nil
	}

	if r.fallback == nil {
		return nil, "", fmt.Errorf("providers: no adapter registered for %q and no fallback configured", providerName)
	}
	p := r.fallback(providerName, credential, fallbackBaseURL)
	r.cache[cacheKey] = p
	return p, model, nil
}
