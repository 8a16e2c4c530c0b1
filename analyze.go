package workbench

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jward/workbench/internal/language"
	"github.com/jward/workbench/internal/message"
	"github.com/jward/workbench/internal/scopegraph"
	"github.com/jward/workbench/internal/syntax"
)

// FileResult is the outcome of one analyzed file.
type FileResult struct {
	Path      string
	Key       string
	Language  string
	Success   bool
	// Messages holds parse messages followed by analysis messages.
	Messages  []message.Message
	Duration  time.Duration
	// Refreshed marks an unchanged file whose diagnostics changed because
	// other files of its context changed.
	Refreshed bool
}

// Report summarizes one AnalyzeFiles, AnalyzeDirectory or RemoveFiles call.
type Report struct {
	Files []FileResult
	// Unchanged counts files skipped because their content hash matched.
	Unchanged int
	Removed   []string
}

// Messages returns every message of the report in file order.
func (r *Report) Messages() []message.Message {
	var out []message.Message
	for _, f := range r.Files {
		out = append(out, f.Messages...)
	}
	return out
}

// HasErrors reports whether any file has an error message.
func (r *Report) HasErrors() bool {
	for _, f := range r.Files {
		if message.HasErrors(f.Messages) {
			return true
		}
	}
	return false
}

func (r *Report) merge(o *Report) {
	r.Files = append(r.Files, o.Files...)
	r.Unchanged += o.Unchanged
	r.Removed = append(r.Removed, o.Removed...)
	sort.Slice(r.Files, func(i, j int) bool { return r.Files[i].Path < r.Files[j].Path })
	sort.Strings(r.Removed)
}

// batch is the work for one context.
type batch struct {
	ctx     *scopegraph.Context
	lang    *language.Language
	changed map[string]*syntax.ParseUnit
	paths   map[string]string // key -> absolute path
	removed []string
}

// keyFor returns path relative to the context root in slash form.
func keyFor(c *scopegraph.Context, path string) (string, error) {
	rel, err := filepath.Rel(c.Location(), path)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside %s", path, c.Location())
	}
	return filepath.ToSlash(rel), nil
}

// AnalyzeFiles analyzes the given files. For each file:
//  1. Detect the language from the extension; unsupported files are skipped
//  2. Resolve the file's context
//  3. Skip unchanged files (same content hash as the analyzed unit)
//  4. Parse
//
// Files are then analyzed together per context, contexts concurrently.
// Errors on individual files are collected; processing continues.
func (w *Workbench) AnalyzeFiles(ctx context.Context, paths []string) (*Report, error) {
	report := &Report{}
	batches := make(map[scopegraph.ID]*batch)
	var errs []error

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		skipped, err := w.prepareFile(ctx, path, batches)
		if err != nil {
			errs = append(errs, fmt.Errorf("analyze %s: %w", path, err))
			continue
		}
		if skipped {
			report.Unchanged++
		}
	}

	runErrs := w.runBatches(ctx, batches, report)
	errs = append(errs, runErrs...)
	if len(errs) > 0 {
		return report, fmt.Errorf("analysis had %d error(s): %w", len(errs), errors.Join(errs...))
	}
	return report, nil
}

// prepareFile adds path to its context's batch. It reports true when the
// file is unchanged since it was last analyzed.
func (w *Workbench) prepareFile(ctx context.Context, path string, batches map[scopegraph.ID]*batch) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	lang, ok := w.languageFor(abs)
	if !ok {
		return false, nil
	}
	c, err := w.service.Get(ctx, abs, lang.Name)
	if err != nil {
		return false, err
	}
	key, err := keyFor(c, abs)
	if err != nil {
		return false, err
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return false, fmt.Errorf("read file: %w", err)
	}
	hash := syntax.ContentHash(content)
	if u, ok := c.Lookup(key); ok && u.Analyzed() && u.Hash() == hash {
		return true, nil
	}

	pu, err := w.parser.Parse(ctx, key, lang.Grammar, content)
	if err != nil {
		return false, err
	}
	b := batchFor(batches, c, lang)
	b.changed[key] = pu
	b.paths[key] = abs
	return false, nil
}

func batchFor(batches map[scopegraph.ID]*batch, c *scopegraph.Context, lang *language.Language) *batch {
	b, ok := batches[c.ID()]
	if !ok {
		b = &batch{
			ctx:     c,
			lang:    lang,
			changed: make(map[string]*syntax.ParseUnit),
			paths:   make(map[string]string),
		}
		batches[c.ID()] = b
	}
	return b
}

// runBatches analyzes each context's batch in its own goroutine and merges
// the outcomes into report.
func (w *Workbench) runBatches(ctx context.Context, batches map[scopegraph.ID]*batch, report *Report) []error {
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs []error
	)
	for _, b := range batches {
		if len(b.changed) == 0 && len(b.removed) == 0 {
			continue
		}
		wg.Add(1)
		go func(b *batch) {
			defer wg.Done()
			part, err := w.runBatch(ctx, b)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("context %s: %w", b.ctx.ID(), err))
				return
			}
			report.merge(part)
		}(b)
	}
	wg.Wait()
	return errs
}

func (w *Workbench) runBatch(ctx context.Context, b *batch) (*Report, error) {
	res, err := w.analyzer.Analyze(ctx, b.changed, b.removed, b.ctx, w.strategyFor(b.lang))
	if err != nil {
		return nil, err
	}
	part := &Report{}
	for _, key := range b.removed {
		part.Removed = append(part.Removed, filepath.Join(b.ctx.Location(), filepath.FromSlash(key)))
	}
	for _, u := range res.Units {
		var msgs []message.Message
		if pu := b.changed[u.Source]; pu != nil {
			msgs = append(msgs, pu.Messages...)
		}
		msgs = append(msgs, u.Messages...)
		part.Files = append(part.Files, FileResult{
			Path:     b.paths[u.Source],
			Key:      u.Source,
			Language: b.lang.Name,
			Success:  u.Success && !message.HasErrors(msgs),
			Messages: msgs,
			Duration: u.Duration,
		})
	}
	for _, u := range res.Refreshed {
		var msgs []message.Message
		if unit, ok := b.ctx.Lookup(u.Source); ok && unit.ParseUnit() != nil {
			msgs = append(msgs, unit.ParseUnit().Messages...)
		}
		msgs = append(msgs, u.Messages...)
		part.Files = append(part.Files, FileResult{
			Path:      filepath.Join(b.ctx.Location(), filepath.FromSlash(u.Source)),
			Key:       u.Source,
			Language:  b.lang.Name,
			Success:   u.Success && !message.HasErrors(msgs),
			Messages:  msgs,
			Duration:  u.Duration,
			Refreshed: true,
		})
	}
	w.logger.Debug("context analyzed",
		slog.String("context", b.ctx.ID().String()),
		slog.String("run", res.RunID),
		slog.Int("changed", len(b.changed)),
		slog.Int("removed", len(b.removed)),
		slog.Int("refreshed", len(res.Refreshed)))
	return part, nil
}

// RemoveFiles drops the units of the given files from their contexts.
// Paths without a unit are ignored.
func (w *Workbench) RemoveFiles(ctx context.Context, paths []string) (*Report, error) {
	report := &Report{}
	batches := make(map[scopegraph.ID]*batch)
	var errs []error
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		lang, ok := w.languageFor(abs)
		if !ok {
			continue
		}
		c, err := w.service.Get(ctx, abs, lang.Name)
		if err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
			continue
		}
		key, err := keyFor(c, abs)
		if err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
			continue
		}
		if _, ok := c.Lookup(key); !ok {
			continue
		}
		b := batchFor(batches, c, lang)
		b.removed = append(b.removed, key)
	}
	errs = append(errs, w.runBatches(ctx, batches, report)...)
	if len(errs) > 0 {
		return report, fmt.Errorf("removal had %d error(s): %w", len(errs), errors.Join(errs...))
	}
	return report, nil
}

// Diagnostics returns the parse and analysis messages of the unit for path
// from its context. A file never analyzed has no diagnostics.
func (w *Workbench) Diagnostics(ctx context.Context, path string) ([]message.Message, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	lang, ok := w.languageFor(abs)
	if !ok {
		return nil, nil
	}
	c, err := w.service.Get(ctx, abs, lang.Name)
	if err != nil {
		return nil, err
	}
	key, err := keyFor(c, abs)
	if err != nil {
		return nil, err
	}
	u, ok := c.Lookup(key)
	if !ok {
		return nil, nil
	}
	var msgs []message.Message
	if pu := u.ParseUnit(); pu != nil {
		msgs = append(msgs, pu.Messages...)
	}
	return append(msgs, u.Messages()...), nil
}

// skipDirs are excluded from directory walks.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
}

// AnalyzeDirectory analyzes every supported file under dir and removes the
// units of files that no longer exist. Inside a git repository git ls-files
// is used to respect .gitignore; otherwise the filesystem is walked,
// skipping hidden directories, node_modules, vendor and __pycache__.
func (w *Workbench) AnalyzeDirectory(ctx context.Context, dir string) (*Report, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	paths, err := w.gitListFiles(ctx, abs)
	if err != nil {
		w.logger.Debug("git ls-files unavailable, walking", slog.String("dir", abs), slog.Any("error", err))
		if paths, err = w.walkListFiles(abs); err != nil {
			return nil, err
		}
	}

	report, err := w.AnalyzeFiles(ctx, paths)
	if err != nil {
		return report, err
	}
	gone, err := w.RemoveFiles(ctx, w.missingUnits(abs))
	if gone != nil {
		report.merge(gone)
	}
	return report, err
}

// missingUnits returns the paths of loaded units under dir whose files no
// longer exist.
func (w *Workbench) missingUnits(dir string) []string {
	var out []string
	for _, id := range w.service.Loaded() {
		c, ok := w.service.Lookup(id)
		if !ok {
			continue
		}
		for _, key := range c.Keys() {
			path := filepath.Join(c.Location(), filepath.FromSlash(key))
			if path != dir && !strings.HasPrefix(path, dir+string(filepath.Separator)) {
				continue
			}
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				out = append(out, path)
			}
		}
	}
	return out
}

// gitListFiles uses git ls-files to discover tracked and untracked (but not
// ignored) files under root, filtered to analyzable languages.
func (w *Workbench) gitListFiles(ctx context.Context, root string) ([]string, error) {
	// --cached: tracked files, --others: untracked files,
	// --exclude-standard: respect .gitignore, .git/info/exclude, global excludes.
	cmd := exec.CommandContext(ctx, "git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var paths []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		absPath := filepath.Join(root, line)
		if _, ok := w.languageFor(absPath); ok {
			paths = append(paths, absPath)
		}
	}
	return paths, nil
}

// walkListFiles discovers files by walking the filesystem.
func (w *Workbench) walkListFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := w.languageFor(path); ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return paths, nil
}
