package project

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestName), []byte("[analysis]\n"), 0o644))
}

func TestFindRoot(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeManifest(t, root)
	src := filepath.Join(root, "src", "pkg")
	require.NoError(t, os.MkdirAll(src, 0o755))
	file := filepath.Join(src, "a.go")
	require.NoError(t, os.WriteFile(file, []byte("package pkg\n"), 0o644))

	for _, start := range []string{root, src, file, filepath.Join(src, "not-yet.go")} {
		got, err := FindRoot(start)
		require.NoError(t, err, start)
		assert.Equal(t, root, got, start)
	}
}

func TestFindRoot_NoProject(t *testing.T) {
	t.Parallel()
	_, err := FindRoot(t.TempDir())
	assert.ErrorIs(t, err, ErrNoProject)
}

func TestRegistry_Strict(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, r.Create("/work/a"))
	require.NoError(t, r.Create("/work/ab"))

	assert.Error(t, r.Create("/work/a"))
	assert.Error(t, r.Create("/work/a/sub"))
	assert.Error(t, r.Create("/work"))

	root, ok := r.Get("/work/a/x/y.go")
	require.True(t, ok)
	assert.Equal(t, "/work/a", root)
	root, ok = r.Get("/work/ab/z.go")
	require.True(t, ok)
	assert.Equal(t, "/work/ab", root)
	_, ok = r.Get("/elsewhere/file")
	assert.False(t, ok)

	assert.Equal(t, []string{"/work/a", "/work/ab"}, r.Roots())
	require.NoError(t, r.Remove("/work/a"))
	assert.Error(t, r.Remove("/work/a"))
	require.NoError(t, r.Create("/work/a/sub"))
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeManifest(t, root)
	file := filepath.Join(root, "lib", "x.go")

	res := NewResolver(nil)
	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := res.Resolve(file)
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}
	wg.Wait()
	for _, got := range results {
		assert.Equal(t, root, got)
	}
	assert.Equal(t, []string{root}, res.Registry().Roots())

	_, err := res.Resolve(filepath.Join(t.TempDir(), "orphan.go"))
	assert.ErrorIs(t, err, ErrNoProject)
}
