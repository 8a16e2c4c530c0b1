package runtime

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"

	"github.com/jward/workbench/internal/constraint"
	"github.com/jward/workbench/internal/scopegraph"
	"github.com/jward/workbench/internal/syntax"
)

// ErrNoResult is returned when a strategy neither emits nor evaluates to a
// result term.
var ErrNoResult = errors.New("runtime: strategy produced no result")

// Runtime embeds a Risor VM and runs strategy scripts for each analysis
// phase. It holds no per-run state and may be used concurrently.
type Runtime struct {
	scriptsDir string
	fsys       fs.FS
	parser     *syntax.Parser
	logger     *slog.Logger
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS reads strategy scripts and their imports from fsys. The
// scripts directory is ignored.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// WithLogger sets the logger behind the scripts' log global.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		r.logger = l
	}
}

// WithParser sets the parser used by parse_src.
func WithParser(p *syntax.Parser) RuntimeOption {
	return func(r *Runtime) {
		r.parser = p
	}
}

// NewRuntime creates a Runtime loading scripts from scriptsDir.
func NewRuntime(scriptsDir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		scriptsDir: scriptsDir,
		parser:     syntax.NewParser(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs one analysis phase: it evaluates the strategy script with
// the action and context globals and returns the script's result term.
func (r *Runtime) Run(ctx context.Context, strategy string, action constraint.Action, c *scopegraph.Context) (any, error) {
	path := StrategyScriptPath(strategy)
	src, err := r.LoadScript(path)
	if err != nil {
		return nil, err
	}
	extra := map[string]any{
		"action":  action.Term(),
		"context": contextTerm(c),
	}
	return r.eval(ctx, src, path, extra)
}

// contextTerm exposes the context's identity. Unit state is not exposed:
// the analyzer holds the context's write lock while phases run.
func contextTerm(c *scopegraph.Context) map[string]any {
	if c == nil {
		return map[string]any{}
	}
	return map[string]any{
		"root":      c.ID().Root,
		"language":  c.ID().Language,
		"instance":  c.InstanceID(),
		"temporary": c.Temporary(),
	}
}

// RunScript evaluates the script at scriptPath. extraGlobals are added to,
// and may shadow, the host functions.
func (r *Runtime) RunScript(ctx context.Context, scriptPath string, extraGlobals map[string]any) (any, error) {
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		return nil, err
	}
	return r.eval(ctx, src, scriptPath, extraGlobals)
}

// RunSource evaluates source as if it were a script.
func (r *Runtime) RunSource(ctx context.Context, source string, extraGlobals map[string]any) (any, error) {
	return r.eval(ctx, source, "<source>", extraGlobals)
}

// eval runs source and returns the emitted term, falling back to the
// value of the script's final expression.
func (r *Runtime) eval(ctx context.Context, source, label string, extraGlobals map[string]any) (any, error) {
	out := &capture{}
	globals := r.buildGlobals(out, extraGlobals)

	names := make([]string, 0, len(globals))
	opts := make([]risor.Option, 0, len(globals)+1)
	for name, val := range globals {
		names = append(names, name)
		opts = append(opts, risor.WithGlobal(name, val))
	}
	// Imported modules see the same globals as the strategy itself.
	opts = append(opts, risor.WithImporter(importer.NewFSImporter(importer.FSImporterOptions{
		GlobalNames: names,
		SourceFS:    r.source(),
		Extensions:  []string{scriptExt},
	})))

	result, err := risor.Eval(ctx, source, opts...)
	if err != nil {
		return nil, fmt.Errorf("runtime: script %s: %w", label, err)
	}
	if out.set {
		return out.value, nil
	}
	if result != nil {
		if v := result.Interface(); v != nil {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoResult, label)
}

// source is the filesystem scripts and imports are read from.
func (r *Runtime) source() fs.FS {
	if r.fsys != nil {
		return r.fsys
	}
	dir := r.scriptsDir
	if dir == "" {
		dir = "."
	}
	return os.DirFS(dir)
}

// LoadScript returns the text of the script at path, relative to the
// script filesystem. A leading slash is ignored. Without WithRuntimeFS an
// absolute path is read from disk as is.
func (r *Runtime) LoadScript(path string) (string, error) {
	if r.fsys == nil && filepath.IsAbs(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("runtime: read script: %w", err)
		}
		return string(data), nil
	}
	name := strings.TrimPrefix(filepath.ToSlash(path), "/")
	data, err := fs.ReadFile(r.source(), name)
	if err != nil {
		return "", fmt.Errorf("runtime: read script %s: %w", name, err)
	}
	return string(data), nil
}

const scriptExt = ".risor"

// StrategyScriptPath returns the script implementing a strategy.
func StrategyScriptPath(strategy string) string {
	return strategy + scriptExt
}

// buildGlobals returns the host functions every script sees, overlaid
// with extra.
func (r *Runtime) buildGlobals(out *capture, extra map[string]any) map[string]any {
	globals := map[string]any{
		"emit":       makeEmitFn(out),
		"fail":       makeFailFn(),
		"constraint": makeConstraintFn(),
		"parse_src":  makeParseSrcFn(r.parser),
		"find":       makeFindFn(),
		"log":        mustProxy(&logObject{logger: r.logger}),
	}
	for k, v := range extra {
		globals[k] = v
	}
	return globals
}

// mustProxy wraps a Go value for Risor. Only host types defined in this
// package are proxied, so failure is a programming error.
func mustProxy(v any) object.Object {
	obj, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Errorf("runtime: proxy %T: %w", v, err))
	}
	return obj
}
