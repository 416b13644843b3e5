// Package standards assembles the coding-standards bundle injected into every
// workflow session. Providers produce the bundle text; the orchestrator writes
// it into the session directory and records its hash.
package standards

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/aiwf/aiwf/internal/errors"
)

// Provider produces a standards bundle. Config comes from the profile's
// standards config, possibly overlaid by engine config.
type Provider interface {
	// Name identifies the provider.
	Name() string
	// CreateBundle builds the bundle text.
	CreateBundle(ctx context.Context, cfg map[string]any) (string, error)
}

// Registry maps provider keys to providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its name. Later registrations win.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get resolves a provider by key.
func (r *Registry) Get(key string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[key]
	if !ok {
		return nil, errors.ErrProviderNotFound(key)
	}
	return p, nil
}

// Keys returns the registered provider keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.providers))
	for k := range r.providers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns the current provider map for later Restore.
func (r *Registry) Snapshot() map[string]Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := make(map[string]Provider, len(r.providers))
	for k, v := range r.providers {
		snap[k] = v
	}
	return snap
}

// Restore replaces the provider map with a snapshot.
func (r *Registry) Restore(snap map[string]Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = make(map[string]Provider, len(snap))
	for k, v := range snap {
		r.providers[k] = v
	}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// Get resolves a provider from the default registry.
func Get(key string) (Provider, error) { return defaultRegistry.Get(key) }

func init() {
	defaultRegistry.Register(&Dir{})
	defaultRegistry.Register(&Static{})
}

// defaultIncludes is used when the config does not name include globs.
var defaultIncludes = []string{"**/*.md"}

// Dir concatenates markdown files from a standards directory. Files are
// matched by include globs, sorted by path, and separated by "## <name>"
// headers so the bundle stays navigable.
type Dir struct{}

func (d *Dir) Name() string { return "dir" }

// CreateBundle reads cfg["dir"] (required) and cfg["includes"] (optional
// glob list). A missing directory is a provider error: the workflow must not
// start with silent, empty standards.
func (d *Dir) CreateBundle(_ context.Context, cfg map[string]any) (string, error) {
	dir, _ := cfg["dir"].(string)
	if dir == "" {
		return "", errors.ErrConfigInvalid("standards.dir", "dir standards provider needs a \"dir\" path")
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", errors.ErrProviderFailed("dir", fmt.Sprintf("standards directory %q not found", dir))
	}

	includes := defaultIncludes
	if raw, ok := cfg["includes"].([]any); ok && len(raw) > 0 {
		includes = nil
		for _, v := range raw {
			if s, ok := v.(string); ok {
				includes = append(includes, s)
			}
		}
	}

	matched := make(map[string]struct{})
	root := os.DirFS(dir)
	for _, pattern := range includes {
		err := doublestar.GlobWalk(root, pattern, func(path string, d fs.DirEntry) error {
			if !d.IsDir() {
				matched[path] = struct{}{}
			}
			return nil
		})
		if err != nil {
			return "", errors.ErrConfigInvalid("standards.includes", fmt.Sprintf("bad glob %q: %v", pattern, err))
		}
	}

	paths := make([]string, 0, len(matched))
	for p := range matched {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	b.WriteString("# Standards Bundle\n")
	for _, p := range paths {
		content, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(p)))
		if err != nil {
			return "", errors.ErrProviderFailed("dir", fmt.Sprintf("reading %s: %v", p, err))
		}
		b.WriteString("\n## ")
		b.WriteString(p)
		b.WriteString("\n\n")
		b.Write(content)
		if !strings.HasSuffix(string(content), "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

// Static serves bundle text straight from config, for tests and projects
// that keep standards inline in their profile.
type Static struct{}

func (s *Static) Name() string { return "static" }

func (s *Static) CreateBundle(_ context.Context, cfg map[string]any) (string, error) {
	text, ok := cfg["content"].(string)
	if !ok {
		return "", errors.ErrConfigInvalid("standards.content", "static standards provider needs a \"content\" string")
	}
	return text, nil
}
