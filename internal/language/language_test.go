package language

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Register(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, r.Register(&Language{Name: "mini", Extensions: []string{"mini", ".MN"}, Grammar: "go"}))

	l, ok := r.ForFile("/p/src/a.mini")
	require.True(t, ok)
	assert.Equal(t, "mini", l.Name)
	l, ok = r.ForFile("B.mn")
	require.True(t, ok)
	assert.Equal(t, "mini", l.Name)

	_, ok = r.ForFile("README")
	assert.False(t, ok)

	assert.Error(t, r.Register(&Language{Name: "mini"}))
	assert.Error(t, r.Register(&Language{Name: "other", Extensions: []string{".mini"}}))
	assert.Error(t, r.Register(&Language{}))
	assert.Equal(t, []string{"mini"}, r.Names())
}

func TestLanguage_HasContextFacet(t *testing.T) {
	t.Parallel()
	assert.False(t, (&Language{Name: "x"}).HasContextFacet())
	assert.True(t, (&Language{Name: "x", Context: &ContextFacet{}}).HasContextFacet())

	var nilLang *Language
	assert.False(t, nilLang.HasContextFacet())
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	r := Defaults("scopes")
	assert.Len(t, r.Names(), 10)

	l, ok := r.ForFile("main.go")
	require.True(t, ok)
	assert.Equal(t, "go", l.Grammar)
	assert.Equal(t, "scopes", l.Strategy)
	assert.True(t, l.HasContextFacet())

	l, ok = r.ForFile("x.hpp")
	require.True(t, ok)
	assert.Equal(t, "cpp", l.Name)
}
