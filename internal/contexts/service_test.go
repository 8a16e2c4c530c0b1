package contexts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/workbench/internal/language"
	"github.com/jward/workbench/internal/project"
	"github.com/jward/workbench/internal/scopegraph"
	"github.com/jward/workbench/internal/store"
	"github.com/jward/workbench/internal/syntax"
)

type resolverFunc func(string) (string, error)

func (f resolverFunc) Resolve(resource string) (string, error) { return f(resource) }

// fixedRoot resolves every resource to /proj except those under /nowhere.
var fixedRoot = resolverFunc(func(resource string) (string, error) {
	if resource == "/nowhere/x.go" {
		return "", project.ErrNoProject
	}
	return "/proj", nil
})

type recordingStore struct {
	mu    sync.Mutex
	saved []*scopegraph.Snapshot
	err   error
}

func (s *recordingStore) Save(_ context.Context, snap *scopegraph.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, snap)
	return nil
}

func (s *recordingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func testLanguages(t *testing.T) *language.Registry {
	t.Helper()
	reg := language.NewRegistry()
	require.NoError(t, reg.Register(&language.Language{
		Name: "go", Extensions: []string{".go"}, Grammar: "go",
		Context: &language.ContextFacet{Persist: true},
	}))
	require.NoError(t, reg.Register(&language.Language{
		Name: "python", Extensions: []string{".py"}, Grammar: "python",
		Context: &language.ContextFacet{},
	}))
	require.NoError(t, reg.Register(&language.Language{
		Name: "plain", Extensions: []string{".txt"}, Grammar: "go",
	}))
	return reg
}

func TestAvailable(t *testing.T) {
	t.Parallel()
	svc := New(testLanguages(t), fixedRoot)
	assert.True(t, svc.Available("go"))
	assert.False(t, svc.Available("plain"))
	assert.False(t, svc.Available("cobol"))
}

func TestGet_ReturnsRegisteredContext(t *testing.T) {
	t.Parallel()
	svc := New(testLanguages(t), fixedRoot)
	ctx := context.Background()

	a, err := svc.Get(ctx, "/proj/a.go", "go")
	require.NoError(t, err)
	b, err := svc.Get(ctx, "/proj/sub/b.go", "go")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, scopegraph.ID{Root: "/proj", Language: "go"}, a.ID())
	assert.Equal(t, []scopegraph.ID{a.ID()}, svc.Loaded())
}

func TestGet_ConcurrentSameInstance(t *testing.T) {
	t.Parallel()
	svc := New(testLanguages(t), fixedRoot)

	const n = 32
	got := make([]*scopegraph.Context, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := svc.Get(context.Background(), fmt.Sprintf("/proj/f%d.go", i), "go")
			if err == nil {
				got[i] = c
			}
		}(i)
	}
	wg.Wait()

	require.NotNil(t, got[0])
	for i := 1; i < n; i++ {
		assert.Same(t, got[0], got[i])
	}
	assert.Len(t, svc.Loaded(), 1)
}

func TestGet_ResolutionFailure(t *testing.T) {
	t.Parallel()
	svc := New(testLanguages(t), fixedRoot)

	_, err := svc.Get(context.Background(), "/nowhere/x.go", "go")
	require.Error(t, err)
	var ce *ContextError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "/nowhere/x.go", ce.Resource)
	assert.ErrorIs(t, err, project.ErrNoProject)
	assert.Empty(t, svc.Loaded())
}

func requireMissingFacetPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected panic")
		err, ok := r.(error)
		require.True(t, ok)
		assert.ErrorIs(t, err, ErrMissingContextFacet)
	}()
	fn()
}

func TestGet_MissingFacetPanics(t *testing.T) {
	t.Parallel()
	svc := New(testLanguages(t), fixedRoot)
	requireMissingFacetPanic(t, func() {
		_, _ = svc.Get(context.Background(), "/proj/a.txt", "plain")
	})
	requireMissingFacetPanic(t, func() {
		_, _ = svc.GetTemporary("/proj/a.txt", "cobol")
	})
}

func TestGetFrom_SiblingLanguage(t *testing.T) {
	t.Parallel()
	svc := New(testLanguages(t), fixedRoot)
	ctx := context.Background()

	goCtx, err := svc.Get(ctx, "/proj/a.go", "go")
	require.NoError(t, err)

	pyCtx, err := svc.GetFrom(ctx, goCtx, "python")
	require.NoError(t, err)
	assert.NotSame(t, goCtx, pyCtx)
	assert.Equal(t, "/proj", pyCtx.Location())

	same, err := svc.GetFrom(ctx, pyCtx, "go")
	require.NoError(t, err)
	assert.Same(t, goCtx, same)
}

func TestGetTemporary_NotRegistered(t *testing.T) {
	t.Parallel()
	svc := New(testLanguages(t), fixedRoot)

	tmp, err := svc.GetTemporary("/proj/a.go", "go")
	require.NoError(t, err)
	defer tmp.Close()

	c, err := tmp.Context()
	require.NoError(t, err)
	assert.True(t, c.Temporary())
	assert.Empty(t, svc.Loaded())

	persistent, err := svc.Get(context.Background(), "/proj/a.go", "go")
	require.NoError(t, err)
	assert.NotSame(t, c, persistent)

	other := svc.GetTemporaryFrom(persistent, "python")
	defer other.Close()
	oc, err := other.Context()
	require.NoError(t, err)
	assert.Equal(t, scopegraph.ID{Root: "/proj", Language: "python"}, oc.ID())
}

func TestGetTemporary_ResolutionFailure(t *testing.T) {
	t.Parallel()
	svc := New(testLanguages(t), fixedRoot)
	_, err := svc.GetTemporary("/nowhere/x.go", "go")
	var ce *ContextError
	assert.ErrorAs(t, err, &ce)
}

func TestUnload_Idempotent(t *testing.T) {
	t.Parallel()
	st := &recordingStore{}
	svc := New(testLanguages(t), fixedRoot, WithStore(st))
	ctx := context.Background()

	c, err := svc.Get(ctx, "/proj/a.go", "go")
	require.NoError(t, err)

	require.NoError(t, svc.Unload(ctx, c))
	require.NoError(t, svc.Unload(ctx, c))

	assert.Equal(t, 1, st.count())
	assert.Empty(t, svc.Loaded())
	assert.True(t, c.Closed())
	assert.ErrorIs(t, c.Update(func(*scopegraph.Writer) error { return nil }), scopegraph.ErrContextClosed)

	fresh, err := svc.Get(ctx, "/proj/a.go", "go")
	require.NoError(t, err)
	assert.NotSame(t, c, fresh)
}

func TestUnload_UnknownContextIsNoop(t *testing.T) {
	t.Parallel()
	st := &recordingStore{}
	svc := New(testLanguages(t), fixedRoot, WithStore(st))

	stray := scopegraph.New(scopegraph.ID{Root: "/proj", Language: "go"})
	require.NoError(t, svc.Unload(context.Background(), stray))
	assert.Zero(t, st.count())
	assert.False(t, stray.Closed())
}

func TestUnload_SkipsNonPersistentLanguage(t *testing.T) {
	t.Parallel()
	st := &recordingStore{}
	svc := New(testLanguages(t), fixedRoot, WithStore(st))
	ctx := context.Background()

	c, err := svc.Get(ctx, "/proj/a.py", "python")
	require.NoError(t, err)
	require.NoError(t, svc.Unload(ctx, c))
	assert.Zero(t, st.count())
	assert.Empty(t, svc.Loaded())
}

func TestUnload_SaveFailureStillEvicts(t *testing.T) {
	t.Parallel()
	st := &recordingStore{err: errors.New("disk full")}
	svc := New(testLanguages(t), fixedRoot, WithStore(st))
	ctx := context.Background()

	c, err := svc.Get(ctx, "/proj/a.go", "go")
	require.NoError(t, err)

	err = svc.Unload(ctx, c)
	var ce *ContextError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "save", ce.Op)
	assert.Empty(t, svc.Loaded())
}

func TestGet_RestoresPersistedSnapshot(t *testing.T) {
	t.Parallel()
	bs, err := store.OpenBadger(store.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { bs.Close() })

	ctx := context.Background()
	svc := New(testLanguages(t), fixedRoot, WithStore(bs), WithLoader(bs))

	c, err := svc.Get(ctx, "/proj/a.go", "go")
	require.NoError(t, err)
	require.NoError(t, c.Update(func(w *scopegraph.Writer) error {
		w.Unit("a.go").SetParseUnit(&syntax.ParseUnit{Source: "a.go", Hash: "h1"})
		return nil
	}))
	require.NoError(t, svc.Unload(ctx, c))

	restored, err := svc.Get(ctx, "/proj/a.go", "go")
	require.NoError(t, err)
	assert.NotSame(t, c, restored)
	u, ok := restored.Lookup("a.go")
	require.True(t, ok)
	assert.Equal(t, "h1", u.Hash())
}

func TestClose_UnloadsAll(t *testing.T) {
	t.Parallel()
	st := &recordingStore{}
	svc := New(testLanguages(t), fixedRoot, WithStore(st))
	ctx := context.Background()

	_, err := svc.Get(ctx, "/proj/a.go", "go")
	require.NoError(t, err)
	_, err = svc.Get(ctx, "/proj/a.py", "python")
	require.NoError(t, err)

	require.NoError(t, svc.Close(ctx))
	assert.Empty(t, svc.Loaded())
	assert.Equal(t, 1, st.count())
}
