// Package contexts implements the analysis-context service: the registry
// of long-lived per-project contexts and the factory for temporary ones.
package contexts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/jward/workbench/internal/language"
	"github.com/jward/workbench/internal/scopegraph"
	"github.com/jward/workbench/internal/store"
)

// Resolver maps a resource path to its project root.
type Resolver interface {
	Resolve(resource string) (string, error)
}

// Store persists contexts on unload.
type Store interface {
	Save(ctx context.Context, snap *scopegraph.Snapshot) error
}

// Loader restores a persisted context when it is first created. A missing
// snapshot is reported as store.ErrNotFound.
type Loader interface {
	Load(ctx context.Context, id scopegraph.ID) (*scopegraph.Snapshot, error)
}

// Service owns at most one Context per (root, language) pair.
type Service struct {
	languages *language.Registry
	resolver  Resolver
	store     Store
	loader    Loader
	logger    *slog.Logger

	contexts sync.Map // scopegraph.ID -> *scopegraph.Context
	flight   singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithStore persists contexts of languages whose facet asks for it when
// they are unloaded.
func WithStore(s Store) Option {
	return func(svc *Service) {
		svc.store = s
	}
}

// WithLoader restores persisted snapshots into newly created contexts.
func WithLoader(l Loader) Option {
	return func(svc *Service) {
		svc.loader = l
	}
}

// WithLogger sets the logger for context lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(svc *Service) {
		svc.logger = l
	}
}

// New creates a Service for the given languages.
func New(languages *language.Registry, resolver Resolver, opts ...Option) *Service {
	s := &Service{
		languages: languages,
		resolver:  resolver,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available reports whether lang has a context facet.
func (s *Service) Available(lang string) bool {
	l, ok := s.languages.ByName(lang)
	return ok && l.HasContextFacet()
}

// facet returns the language or panics when it cannot own contexts.
func (s *Service) facet(lang string) *language.Language {
	l, ok := s.languages.ByName(lang)
	if !ok || !l.HasContextFacet() {
		panic(fmt.Errorf("%w: %s", ErrMissingContextFacet, lang))
	}
	return l
}

// Get returns the context for the project enclosing resource, creating it
// on first use. Concurrent callers for the same pair get the same instance.
func (s *Service) Get(ctx context.Context, resource, lang string) (*scopegraph.Context, error) {
	s.facet(lang)
	root, err := s.resolver.Resolve(resource)
	if err != nil {
		return nil, &ContextError{Resource: resource, Language: lang, Op: "get", Err: err}
	}
	return s.getOrCreate(ctx, scopegraph.ID{Root: root, Language: lang})
}

// GetFrom returns the context for lang at the location of an existing
// context.
func (s *Service) GetFrom(ctx context.Context, c *scopegraph.Context, lang string) (*scopegraph.Context, error) {
	s.facet(lang)
	return s.getOrCreate(ctx, scopegraph.ID{Root: c.Location(), Language: lang})
}

// GetTemporary returns a fresh unregistered context for the project
// enclosing resource. The caller must Close it.
func (s *Service) GetTemporary(resource, lang string) (*scopegraph.TemporaryContext, error) {
	s.facet(lang)
	root, err := s.resolver.Resolve(resource)
	if err != nil {
		return nil, &ContextError{Resource: resource, Language: lang, Op: "get temporary", Err: err}
	}
	return scopegraph.NewTemporary(scopegraph.ID{Root: root, Language: lang}), nil
}

// GetTemporaryFrom returns a fresh unregistered context at the location of
// an existing context.
func (s *Service) GetTemporaryFrom(c *scopegraph.Context, lang string) *scopegraph.TemporaryContext {
	s.facet(lang)
	return scopegraph.NewTemporary(scopegraph.ID{Root: c.Location(), Language: lang})
}

func (s *Service) getOrCreate(ctx context.Context, id scopegraph.ID) (*scopegraph.Context, error) {
	if v, ok := s.contexts.Load(id); ok {
		return v.(*scopegraph.Context), nil
	}

	v, err, _ := s.flight.Do(id.String(), func() (any, error) {
		if v, ok := s.contexts.Load(id); ok {
			return v, nil
		}
		c, origin := s.build(ctx, id)
		actual, loaded := s.contexts.LoadOrStore(id, c)
		if !loaded {
			contextsCreated.WithLabelValues(id.Language, origin).Inc()
			contextsLoaded.Inc()
			s.logger.Debug("context created",
				slog.String("root", id.Root),
				slog.String("language", id.Language),
				slog.String("instance", c.InstanceID()),
				slog.String("origin", origin))
		}
		return actual, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*scopegraph.Context), nil
}

// build creates a context, restoring a persisted snapshot when a loader is
// configured. A snapshot that cannot be read is logged and ignored.
func (s *Service) build(ctx context.Context, id scopegraph.ID) (*scopegraph.Context, string) {
	c := scopegraph.New(id)
	if s.loader == nil {
		return c, "new"
	}

	ctx, span := tracer.Start(ctx, "contexts.restore")
	defer span.End()
	span.SetAttributes(attribute.String("root", id.Root), attribute.String("language", id.Language))

	snap, err := s.loader.Load(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return c, "new"
	}
	if err == nil {
		err = c.Restore(snap)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "restore failed")
		s.logger.Warn("context restore failed",
			slog.String("context", id.String()),
			slog.Any("error", err))
		return scopegraph.New(id), "new"
	}
	return c, "restored"
}

// Unload persists c (when a store is configured and the language asks for
// it) and evicts it. Unloading an unknown or already unloaded context is a
// no-op. A failed save is returned after the context has been evicted.
func (s *Service) Unload(ctx context.Context, c *scopegraph.Context) error {
	id := c.ID()
	if v, ok := s.contexts.Load(id); !ok || v != c {
		return nil
	}

	ctx, span := tracer.Start(ctx, "contexts.unload")
	defer span.End()
	span.SetAttributes(attribute.String("root", id.Root), attribute.String("language", id.Language))

	var saveErr error
	result := "skipped"
	if l, ok := s.languages.ByName(id.Language); ok && s.store != nil && l.HasContextFacet() && l.Context.Persist {
		result = "saved"
		if err := s.store.Save(ctx, c.Snapshot()); err != nil {
			result = "failed"
			saveErr = &ContextError{Resource: id.Root, Language: id.Language, Op: "save", Err: err}
			span.RecordError(err)
			span.SetStatus(codes.Error, "save failed")
		}
	}

	if !s.contexts.CompareAndDelete(id, c) {
		return saveErr
	}
	c.Close()
	contextsUnloaded.WithLabelValues(id.Language, result).Inc()
	contextsLoaded.Dec()
	s.logger.Debug("context unloaded",
		slog.String("context", id.String()),
		slog.String("save", result))
	return saveErr
}

// Loaded returns the ids of the registered contexts, sorted.
func (s *Service) Loaded() []scopegraph.ID {
	var ids []scopegraph.ID
	s.contexts.Range(func(k, _ any) bool {
		ids = append(ids, k.(scopegraph.ID))
		return true
	})
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
	return ids
}

// Lookup returns the registered context for id without creating it.
func (s *Service) Lookup(id scopegraph.ID) (*scopegraph.Context, bool) {
	v, ok := s.contexts.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*scopegraph.Context), true
}

// Close unloads every registered context and joins the save errors.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	for _, id := range s.Loaded() {
		if c, ok := s.Lookup(id); ok {
			if err := s.Unload(ctx, c); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
