// Package project maps resources to the project roots that own them.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ManifestName is the file marking a project root.
const ManifestName = "workbench.toml"

// ErrNoProject is returned when a resource belongs to no project.
var ErrNoProject = errors.New("project: no project found")

// FindRoot walks up from start looking for a manifest and returns the
// directory holding it.
func FindRoot(start string) (string, error) {
	dir, err := startDir(start)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, ManifestName)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("project: stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w for %s", ErrNoProject, start)
		}
		dir = parent
	}
}

// startDir returns the directory to search from. Files and paths that do
// not exist yet start from their parent.
func startDir(start string) (string, error) {
	if start == "" {
		start = "."
	}
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("project: resolve %q: %w", start, err)
	}
	info, err := os.Stat(abs)
	if err == nil && info.IsDir() {
		return abs, nil
	}
	return filepath.Dir(abs), nil
}

// Registry tracks known project roots. Creation is strict: a location that
// equals, contains or lies within an existing project is rejected.
type Registry struct {
	mu    sync.RWMutex
	roots map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{roots: make(map[string]struct{})}
}

// Create registers location as a project root.
func (r *Registry) Create(location string) error {
	location = filepath.Clean(location)
	r.mu.Lock()
	defer r.mu.Unlock()
	for root := range r.roots {
		switch {
		case root == location:
			return fmt.Errorf("project: %s already exists", location)
		case within(location, root):
			return fmt.Errorf("project: %s is nested in %s", location, root)
		case within(root, location):
			return fmt.Errorf("project: %s contains %s", location, root)
		}
	}
	r.roots[location] = struct{}{}
	return nil
}

// Get returns the root of the project enclosing resource.
func (r *Registry) Get(resource string) (string, bool) {
	resource = filepath.Clean(resource)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for root := range r.roots {
		if root == resource || within(resource, root) {
			return root, true
		}
	}
	return "", false
}

// Remove unregisters location.
func (r *Registry) Remove(location string) error {
	location = filepath.Clean(location)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roots[location]; !ok {
		return fmt.Errorf("project: %s does not exist", location)
	}
	delete(r.roots, location)
	return nil
}

// Roots returns the registered roots in sorted order.
func (r *Registry) Roots() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.roots))
	for root := range r.roots {
		out = append(out, root)
	}
	sort.Strings(out)
	return out
}

func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Resolver finds a resource's project, consulting the registry first and
// falling back to manifest discovery.
type Resolver struct {
	registry *Registry
}

func NewResolver(reg *Registry) *Resolver {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Resolver{registry: reg}
}

func (r *Resolver) Registry() *Registry { return r.registry }

// Resolve returns the project root owning resource. Roots found through a
// manifest are registered; losing a registration race is not an error.
func (r *Resolver) Resolve(resource string) (string, error) {
	abs, err := filepath.Abs(resource)
	if err != nil {
		return "", fmt.Errorf("project: resolve %q: %w", resource, err)
	}
	if root, ok := r.registry.Get(abs); ok {
		return root, nil
	}
	root, err := FindRoot(abs)
	if err != nil {
		return "", err
	}
	if err := r.registry.Create(root); err != nil {
		if existing, ok := r.registry.Get(abs); ok {
			return existing, nil
		}
		return "", err
	}
	return root, nil
}
