package profile

import (
	"sort"
	"sync"

	"github.com/aiwf/aiwf/internal/errors"
)

// Registry holds profiles by key. The process-wide default registry is
// populated at startup and frozen in normal operation; tests snapshot and
// restore it around mutations.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{profiles: make(map[string]Profile)}
}

// Register adds or replaces a profile under its metadata name.
func (r *Registry) Register(p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.Metadata().Name] = p
}

// Get resolves a profile by key.
func (r *Registry) Get(key string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[key]
	if !ok {
		return nil, errors.ErrProfileNotFound(key)
	}
	return p, nil
}

// Keys returns the registered profile keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.profiles))
	for k := range r.profiles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot copies the current registrations.
func (r *Registry) Snapshot() map[string]Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Profile, len(r.profiles))
	for k, v := range r.profiles {
		out[k] = v
	}
	return out
}

// Restore replaces all registrations with a snapshot.
func (r *Registry) Restore(snapshot map[string]Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles = make(map[string]Profile, len(snapshot))
	for k, v := range snapshot {
		r.profiles[k] = v
	}
}

// defaultRegistry is the process-wide profile registry.
var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a profile to the process-wide registry.
func Register(p Profile) {
	defaultRegistry.Register(p)
}

// Get resolves a profile from the process-wide registry.
func Get(key string) (Profile, error) {
	return defaultRegistry.Get(key)
}
