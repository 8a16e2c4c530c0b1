package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "workbench.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
[analysis]
strategy = "mini"
parallel = true
include_unchanged = true
workers = 4

[store]
driver = "badger"
path = "state"

[[language]]
name = "mini"
extensions = [".mini"]
grammar = "go"
scripts = "lang/mini"

[[language]]
name = "notes"
extensions = [".notes"]
grammar = "python"
strategy = "prose"
context = false
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	root := filepath.Dir(path)
	assert.Equal(t, root, cfg.Root)
	assert.Equal(t, "mini", cfg.Analysis.Strategy)
	assert.True(t, cfg.Analysis.Parallel)
	assert.True(t, cfg.Analysis.IncludeUnchanged)
	assert.Equal(t, 4, cfg.Analysis.Workers)
	assert.Equal(t, DriverBadger, cfg.Store.Driver)
	assert.Equal(t, filepath.Join(root, "state"), cfg.StorePath())

	reg := cfg.Registry()
	assert.Equal(t, []string{"mini", "notes"}, reg.Names())
	mini, ok := reg.ForFile("a.mini")
	require.True(t, ok)
	assert.Equal(t, "mini", mini.Strategy)
	assert.Equal(t, filepath.Join(root, "lang", "mini"), mini.ScriptsDir)
	require.True(t, mini.HasContextFacet())
	assert.True(t, mini.Context.Persist)

	notes, ok := reg.ByName("notes")
	require.True(t, ok)
	assert.Equal(t, "prose", notes.Strategy)
	assert.False(t, notes.HasContextFacet())
}

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeConfig(t, "[analysis]\nparallel = true\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultStrategy, cfg.Analysis.Strategy)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.True(t, cfg.Analysis.IncludeUnchanged)
	assert.Len(t, cfg.Registry().Names(), 10)
}

func TestLoad_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"bad toml", "[analysis\n"},
		{"unknown driver", "[store]\ndriver = \"postgres\"\npath = \"x\"\n"},
		{"missing store path", "[store]\ndriver = \"sqlite\"\npath = \"\"\n"},
		{"empty strategy", "[analysis]\nstrategy = \"\"\n"},
		{"negative workers", "[analysis]\nworkers = -1\n"},
		{"unknown grammar", "[[language]]\nname = \"x\"\nextensions = [\".x\"]\ngrammar = \"cobol\"\n"},
		{"no extensions", "[[language]]\nname = \"x\"\nextensions = []\ngrammar = \"go\"\n"},
		{"duplicate language", "[[language]]\nname = \"x\"\nextensions = [\".x\"]\ngrammar = \"go\"\n[[language]]\nname = \"x\"\nextensions = [\".y\"]\ngrammar = \"go\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_StoreNoneNeedsNoPath(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeConfig(t, "[store]\ndriver = \"none\"\npath = \"\"\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.StorePath())
}

func TestLoadDir_Missing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Root)
	assert.Equal(t, filepath.Join(dir, ".workbench", "analysis.db"), cfg.StorePath())
}
