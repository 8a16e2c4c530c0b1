package workbench

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jward/workbench/internal/analyzer"
	"github.com/jward/workbench/internal/config"
	"github.com/jward/workbench/internal/constraint"
	"github.com/jward/workbench/internal/contexts"
	"github.com/jward/workbench/internal/language"
	"github.com/jward/workbench/internal/project"
	"github.com/jward/workbench/internal/runtime"
	"github.com/jward/workbench/internal/scopegraph"
	"github.com/jward/workbench/internal/solver"
	"github.com/jward/workbench/internal/store"
	"github.com/jward/workbench/internal/syntax"
	"github.com/jward/workbench/scripts"
)

// MetaScriptsHash is the store metadata key holding the hash of the
// strategy scripts that produced the persisted contexts.
const MetaScriptsHash = "scripts_hash"

// ErrNoStore is returned by operations that need a store when the
// workbench runs without one.
var ErrNoStore = errors.New("workbench: no store configured")

// Workbench orchestrates the analysis pipeline for one project: file
// discovery, change detection, parsing, per-language contexts, analysis
// and persistence.
type Workbench struct {
	root      string
	cfg       *config.Config
	languages *language.Registry
	only      map[string]bool // nil means all languages

	store     store.ContextStore
	ownsStore bool
	scriptsFS fs.FS
	strategy  string
	logger    *slog.Logger
	parser    *syntax.Parser
	runners   *runners
	service   *contexts.Service
	analyzer  *analyzer.Analyzer
	restored  bool
	parallel  *bool
	workers   int
	unchanged *bool
}

// Option configures a Workbench.
type Option func(*Workbench)

// WithConfig uses cfg instead of loading workbench.toml from the root.
func WithConfig(cfg *config.Config) Option {
	return func(w *Workbench) {
		w.cfg = cfg
	}
}

// WithLanguages restricts which languages the Workbench will process.
func WithLanguages(languages ...string) Option {
	return func(w *Workbench) {
		w.only = make(map[string]bool, len(languages))
		for _, lang := range languages {
			w.only[lang] = true
		}
	}
}

// WithParallel controls concurrent unit phases. The configured
// analysis.parallel setting applies when the option is not given.
func WithParallel(parallel bool) Option {
	return func(w *Workbench) {
		w.parallel = &parallel
	}
}

// WithIncludeUnchanged controls whether retained results of unchanged
// units take part in each solve.
func WithIncludeUnchanged(include bool) Option {
	return func(w *Workbench) {
		w.unchanged = &include
	}
}

// WithScriptsFS loads strategy scripts from fsys instead of the embedded
// library. Languages with their own scripts directory still load from disk.
func WithScriptsFS(fsys fs.FS) Option {
	return func(w *Workbench) {
		w.scriptsFS = fsys
	}
}

// WithStrategy overrides the strategy of every language.
func WithStrategy(strategy string) Option {
	return func(w *Workbench) {
		w.strategy = strategy
	}
}

// WithStore persists contexts in s. The caller keeps ownership of s.
func WithStore(s store.ContextStore) Option {
	return func(w *Workbench) {
		w.store = s
	}
}

// WithLogger sets the logger shared by every pipeline component.
func WithLogger(l *slog.Logger) Option {
	return func(w *Workbench) {
		w.logger = l
	}
}

// New creates a Workbench for the project at root. Without WithConfig the
// project's workbench.toml is loaded, falling back to defaults. Persisted
// contexts are restored only when the strategy scripts are unchanged since
// they were saved.
func New(ctx context.Context, root string, opts ...Option) (*Workbench, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workbench: resolve %s: %w", root, err)
	}
	w := &Workbench{
		root:      abs,
		scriptsFS: scripts.FS,
		logger:    slog.Default(),
		parser:    syntax.NewParser(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.cfg == nil {
		if w.cfg, err = config.LoadDir(abs); err != nil {
			return nil, fmt.Errorf("workbench: %w", err)
		}
	}
	w.languages = w.cfg.Registry()
	if w.parallel == nil {
		w.parallel = &w.cfg.Analysis.Parallel
	}
	if w.unchanged == nil {
		w.unchanged = &w.cfg.Analysis.IncludeUnchanged
	}
	w.workers = w.cfg.Analysis.Workers

	if w.store == nil && w.cfg.Store.Driver != config.DriverNone {
		s, err := store.Open(w.cfg.Store.Driver, w.cfg.StorePath())
		if err != nil {
			return nil, fmt.Errorf("workbench: %w", err)
		}
		w.store, w.ownsStore = s, true
	}

	w.runners = newRunners(w.languages, w.scriptsFS, w.parser, w.logger)

	registry := project.NewRegistry()
	if err := registry.Create(abs); err != nil {
		w.closeStore()
		return nil, fmt.Errorf("workbench: %w", err)
	}
	svcOpts := []contexts.Option{contexts.WithLogger(w.logger)}
	if w.store != nil {
		svcOpts = append(svcOpts, contexts.WithStore(w.store))
		if !w.ScriptsChanged(ctx) {
			svcOpts = append(svcOpts, contexts.WithLoader(w.store))
			w.restored = true
		} else {
			w.logger.Info("scripts changed, persisted contexts ignored", slog.String("root", abs))
		}
	}
	w.service = contexts.New(w.languages, project.NewResolver(registry), svcOpts...)

	anOpts := []analyzer.Option{
		analyzer.WithLogger(w.logger),
		analyzer.WithIncludeUnchanged(*w.unchanged),
	}
	if *w.parallel {
		anOpts = append(anOpts, analyzer.WithParallel(w.workers))
	}
	w.analyzer = analyzer.New(w.runners, solver.New(solver.WithLogger(w.logger)), anOpts...)
	return w, nil
}

// Close unloads every context, persisting them, and releases the store
// when the Workbench opened it.
func (w *Workbench) Close() error {
	err := w.Unload(context.Background())
	if cerr := w.closeStore(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (w *Workbench) closeStore() error {
	if w.store == nil || !w.ownsStore {
		return nil
	}
	return w.store.Close()
}

// Root returns the absolute project root.
func (w *Workbench) Root() string { return w.root }

// Config returns the effective configuration.
func (w *Workbench) Config() *config.Config { return w.cfg }

// Service returns the context service.
func (w *Workbench) Service() *contexts.Service { return w.service }

// Analyzer returns the analyzer.
func (w *Workbench) Analyzer() *analyzer.Analyzer { return w.analyzer }

// Store returns the store, or nil when persistence is disabled.
func (w *Workbench) Store() store.ContextStore { return w.store }

// Unload persists and releases every loaded context and records the
// scripts hash the persisted contexts were built with.
func (w *Workbench) Unload(ctx context.Context) error {
	if len(w.service.Loaded()) == 0 {
		return nil
	}
	err := w.service.Close(ctx)
	if w.store != nil {
		if serr := w.store.SetMetadata(ctx, MetaScriptsHash, w.scriptsHash()); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}

// Stored lists the contexts persisted in the store.
func (w *Workbench) Stored(ctx context.Context) ([]store.ContextInfo, error) {
	if w.store == nil {
		return nil, ErrNoStore
	}
	return w.store.Contexts(ctx)
}

// strategyFor returns the strategy analyzing lang.
func (w *Workbench) strategyFor(l *language.Language) string {
	if w.strategy != "" {
		return w.strategy
	}
	if l.Strategy != "" {
		return l.Strategy
	}
	return w.cfg.Analysis.Strategy
}

// languageFor returns the language analyzing path, honoring WithLanguages
// and skipping languages that cannot own contexts.
func (w *Workbench) languageFor(path string) (*language.Language, bool) {
	l, ok := w.languages.ForFile(path)
	if !ok {
		return nil, false
	}
	if w.only != nil && !w.only[l.Name] {
		return nil, false
	}
	if !w.service.Available(l.Name) {
		return nil, false
	}
	return l, true
}

// scriptsHash computes a SHA-256 over every Risor script the Workbench can
// load: the scripts filesystem and each language's scripts directory.
func (w *Workbench) scriptsHash() string {
	h := sha256.New()
	hashFS := func(label string, fsys fs.FS) {
		var paths []string
		_ = fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if !d.IsDir() && strings.HasSuffix(path, ".risor") {
				paths = append(paths, path)
			}
			return nil
		})
		sort.Strings(paths)
		for _, p := range paths {
			src, err := fs.ReadFile(fsys, p)
			if err != nil {
				continue
			}
			h.Write([]byte(label + "/" + p))
			h.Write(src)
		}
	}
	if w.scriptsFS != nil {
		hashFS("", w.scriptsFS)
	}
	for _, name := range w.languages.Names() {
		l, _ := w.languages.ByName(name)
		if l.ScriptsDir != "" {
			hashFS(name, os.DirFS(l.ScriptsDir))
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// ScriptsChanged reports whether the strategy scripts differ from those
// that built the persisted contexts. It is true when no hash is stored.
func (w *Workbench) ScriptsChanged(ctx context.Context) bool {
	if w.store == nil {
		return true
	}
	stored, err := w.store.GetMetadata(ctx, MetaScriptsHash)
	if err != nil || stored == "" {
		return true
	}
	return stored != w.scriptsHash()
}

// Restored reports whether persisted contexts are restored on first use.
func (w *Workbench) Restored() bool { return w.restored }

// runners dispatches phase actions to a Runtime per scripts directory.
// Languages without their own directory share the scripts filesystem.
type runners struct {
	languages *language.Registry
	parser    *syntax.Parser
	logger    *slog.Logger
	base      *runtime.Runtime

	mu    sync.Mutex
	byDir map[string]*runtime.Runtime
}

func newRunners(languages *language.Registry, fsys fs.FS, parser *syntax.Parser, logger *slog.Logger) *runners {
	opts := []runtime.RuntimeOption{runtime.WithParser(parser), runtime.WithLogger(logger)}
	if fsys != nil {
		opts = append(opts, runtime.WithRuntimeFS(fsys))
	}
	return &runners{
		languages: languages,
		parser:    parser,
		logger:    logger,
		base:      runtime.NewRuntime("", opts...),
		byDir:     make(map[string]*runtime.Runtime),
	}
}

func (r *runners) Run(ctx context.Context, strategy string, action constraint.Action, c *scopegraph.Context) (any, error) {
	return r.runtimeFor(c).Run(ctx, strategy, action, c)
}

func (r *runners) runtimeFor(c *scopegraph.Context) *runtime.Runtime {
	if c == nil {
		return r.base
	}
	l, ok := r.languages.ByName(c.ID().Language)
	if !ok || l.ScriptsDir == "" {
		return r.base
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.byDir[l.ScriptsDir]
	if !ok {
		rt = runtime.NewRuntime(l.ScriptsDir, runtime.WithParser(r.parser), runtime.WithLogger(r.logger))
		r.byDir[l.ScriptsDir] = rt
	}
	return rt
}
