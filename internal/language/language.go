// Package language describes the languages a workbench can analyze.
package language

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ContextFacet marks a language as able to own analysis contexts.
// Persist controls whether its contexts are saved to the store on unload.
type ContextFacet struct {
	Persist bool
}

// Language is a language descriptor.
type Language struct {
	Name       string
	Extensions []string
	Grammar    string
	// Strategy names the script run for each analysis phase.
	Strategy   string
	ScriptsDir string
	Context    *ContextFacet
}

// HasContextFacet reports whether contexts may be created for the language.
func (l *Language) HasContextFacet() bool {
	return l != nil && l.Context != nil
}

// Registry maps names and file extensions to languages.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Language
	byExt  map[string]*Language
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Language), byExt: make(map[string]*Language)}
}

// Register adds l. Names and extensions must be unique.
func (r *Registry) Register(l *Language) error {
	if l == nil || l.Name == "" {
		return fmt.Errorf("language: register: missing name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[l.Name]; ok {
		return fmt.Errorf("language: %q already registered", l.Name)
	}
	for _, ext := range l.Extensions {
		ext = normalizeExt(ext)
		if other, ok := r.byExt[ext]; ok {
			return fmt.Errorf("language: extension %s of %q already claimed by %q", ext, l.Name, other.Name)
		}
	}
	r.byName[l.Name] = l
	for _, ext := range l.Extensions {
		r.byExt[normalizeExt(ext)] = l
	}
	return nil
}

func (r *Registry) ByName(name string) (*Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.byName[name]
	return l, ok
}

// ForFile returns the language claiming path's extension.
func (r *Registry) ForFile(path string) (*Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.byExt[normalizeExt(filepath.Ext(path))]
	return l, ok
}

// Names returns the registered language names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// defaultExtensions mirrors the grammars bundled with the syntax package.
var defaultExtensions = map[string][]string{
	"go":         {".go"},
	"typescript": {".ts", ".tsx"},
	"javascript": {".js", ".jsx", ".mjs"},
	"python":     {".py"},
	"rust":       {".rs"},
	"c":          {".c", ".h"},
	"cpp":        {".cpp", ".cc", ".cxx", ".hpp", ".hxx", ".hh"},
	"java":       {".java"},
	"php":        {".php"},
	"ruby":       {".rb"},
}

// Defaults returns a registry with every bundled grammar, each analyzed by
// strategy and able to own persistent contexts.
func Defaults(strategy string) *Registry {
	r := NewRegistry()
	names := make([]string, 0, len(defaultExtensions))
	for n := range defaultExtensions {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		_ = r.Register(&Language{
			Name:       n,
			Extensions: defaultExtensions[n],
			Grammar:    n,
			Strategy:   strategy,
			Context:    &ContextFacet{Persist: true},
		})
	}
	return r
}
