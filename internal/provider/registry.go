package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aiwf/aiwf/internal/errors"
)

// Factory builds a provider instance from its configuration map. The map is
// the provider's block from config.yaml minus the "type" key.
type Factory func(cfg map[string]any) (ResponseProvider, error)

// Registry holds provider factories by type and built instances by key.
// Instances are what sessions reference; factories are how config blocks
// become instances.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	instances map[string]ResponseProvider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		instances: make(map[string]ResponseProvider),
	}
}

// RegisterFactory registers a factory for a provider type. Later
// registrations win.
func (r *Registry) RegisterFactory(typ string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = f
}

// RegisterInstance registers a built provider under a key.
func (r *Registry) RegisterInstance(key string, p ResponseProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[key] = p
}

// Get resolves a provider instance by key.
func (r *Registry) Get(key string) (ResponseProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.instances[key]
	if !ok {
		return nil, errors.ErrProviderNotFound(key)
	}
	return p, nil
}

// Keys returns the registered instance keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.instances))
	for k := range r.instances {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Types returns the registered factory types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Build constructs an instance of the given type without registering it.
func (r *Registry) Build(typ string, cfg map[string]any) (ResponseProvider, error) {
	r.mu.RLock()
	f, ok := r.factories[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.ErrProviderNotFound(typ)
	}
	return f(cfg)
}

// BuildFromConfig builds and registers one instance per configured provider
// block. Each block must carry a string "type" naming a registered factory.
func (r *Registry) BuildFromConfig(providers map[string]map[string]any) error {
	for key, block := range providers {
		typ, ok := block["type"].(string)
		if !ok || typ == "" {
			return errors.ErrConfigInvalid(
				fmt.Sprintf("providers.%s.type", key),
				"every provider block needs a string \"type\"")
		}
		cfg := make(map[string]any, len(block))
		for k, v := range block {
			if k != "type" {
				cfg[k] = v
			}
		}
		p, err := r.Build(typ, cfg)
		if err != nil {
			return err
		}
		r.RegisterInstance(key, p)
	}
	return nil
}

// Snapshot returns the current instance map. Restore puts a snapshot back.
// Tests use the pair to swap providers in and out of the default registry.
func (r *Registry) Snapshot() map[string]ResponseProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := make(map[string]ResponseProvider, len(r.instances))
	for k, v := range r.instances {
		snap[k] = v
	}
	return snap
}

// Restore replaces the instance map with a previously taken snapshot.
func (r *Registry) Restore(snap map[string]ResponseProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances = make(map[string]ResponseProvider, len(snap))
	for k, v := range snap {
		r.instances[k] = v
	}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// Get resolves an instance from the default registry.
func Get(key string) (ResponseProvider, error) { return defaultRegistry.Get(key) }

// RegisterInstance registers an instance in the default registry.
func RegisterInstance(key string, p ResponseProvider) { defaultRegistry.RegisterInstance(key, p) }

func init() {
	defaultRegistry.RegisterFactory("manual", newManualFromConfig)
	defaultRegistry.RegisterFactory("static", newStaticFromConfig)
	defaultRegistry.RegisterFactory("subprocess", newSubprocessFromConfig)
	defaultRegistry.RegisterFactory("anthropic", newAnthropicFromConfig)

	// A manual provider is always available so a zero-config install works.
	defaultRegistry.RegisterInstance("manual", NewManual())
}
