package scripts_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/workbench/internal/analyzer"
	"github.com/jward/workbench/internal/message"
	"github.com/jward/workbench/internal/runtime"
	"github.com/jward/workbench/internal/scopegraph"
	"github.com/jward/workbench/internal/solver"
	"github.com/jward/workbench/internal/syntax"
	"github.com/jward/workbench/scripts"
)

type testEnv struct {
	t      *testing.T
	parser *syntax.Parser
	an     *analyzer.Analyzer
}

func newTestEnv(t *testing.T, opts ...analyzer.Option) *testEnv {
	t.Helper()
	rt := runtime.NewRuntime("", runtime.WithRuntimeFS(scripts.FS))
	return &testEnv{t: t, parser: syntax.NewParser(), an: analyzer.New(rt, solver.New(), opts...)}
}

func (e *testEnv) parse(grammar string, files map[string]string) map[string]*syntax.ParseUnit {
	e.t.Helper()
	out := make(map[string]*syntax.ParseUnit, len(files))
	for key, src := range files {
		pu, err := e.parser.Parse(context.Background(), key, grammar, []byte(src))
		require.NoError(e.t, err)
		require.True(e.t, pu.Valid(), "fixture %s should parse cleanly", key)
		out[key] = pu
	}
	return out
}

func unitBySource(t *testing.T, res *analyzer.Results, source string) analyzer.AnalyzedUnit {
	t.Helper()
	for _, u := range res.Units {
		if u.Source == source {
			return u
		}
	}
	t.Fatalf("no unit %s in results", source)
	return analyzer.AnalyzedUnit{}
}

func TestScopes_Go(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	c := scopegraph.New(scopegraph.ID{Root: "/demo", Language: "go"})

	files := map[string]string{
		"pkg/a.go": `package demo

type Point struct{ X int }

func Helper() Point {
	return Point{X: 1}
}
`,
		"pkg/b.go": `package demo

func Use() int {
	f := func() int { return 1 }
	Helper()
	Missing()
	return f() + len("x") + int(3)
}
`,
	}
	res, err := env.an.Analyze(context.Background(), env.parse("go", files), nil, c, scripts.Default)
	require.NoError(t, err)
	require.Len(t, res.Units, 2)

	a := unitBySource(t, res, "pkg/a.go")
	assert.True(t, a.Success)
	assert.Empty(t, a.Messages)

	b := unitBySource(t, res, "pkg/b.go")
	assert.False(t, b.Success)
	require.Len(t, b.Messages, 1)
	msg := b.Messages[0]
	assert.Equal(t, message.Error, msg.Severity)
	assert.Equal(t, "unresolved reference 'Missing'", msg.Text)
	require.NotNil(t, msg.Region)
	assert.Equal(t, 5, msg.Region.StartLine)
	assert.Equal(t, 1, msg.Region.StartCol)

	require.NotNil(t, res.Final)
	v, ok := res.Final.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "go", v["language"])
	assert.EqualValues(t, 2, v["units"])
}

func TestScopes_GoPackagesAreSeparate(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	c := scopegraph.New(scopegraph.ID{Root: "/demo", Language: "go"})

	files := map[string]string{
		"one/a.go": "package one\n\nfunc Only() {}\n",
		"two/b.go": "package two\n\nfunc Call() { Only() }\n",
	}
	res, err := env.an.Analyze(context.Background(), env.parse("go", files), nil, c, scripts.Default)
	require.NoError(t, err)

	b := unitBySource(t, res, "two/b.go")
	require.Len(t, b.Messages, 1)
	assert.Equal(t, "unresolved reference 'Only'", b.Messages[0].Text)
}

func TestScopes_GoIncrementalWithRetainedUnits(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, analyzer.WithIncludeUnchanged(true))
	c := scopegraph.New(scopegraph.ID{Root: "/demo", Language: "go"})
	ctx := context.Background()

	_, err := env.an.Analyze(ctx, env.parse("go", map[string]string{
		"a.go": "package demo\n\nfunc Helper() {}\n",
		"b.go": "package demo\n\nfunc Use() { Helper() }\n",
	}), nil, c, scripts.Default)
	require.NoError(t, err)

	// Only b.go changes; Helper still resolves through a.go's retained result.
	res, err := env.an.Analyze(ctx, env.parse("go", map[string]string{
		"b.go": "package demo\n\nfunc Use() { Helper(); Helper() }\n",
	}), nil, c, scripts.Default)
	require.NoError(t, err)
	require.Len(t, res.Units, 1)
	assert.True(t, res.Units[0].Success)
	assert.Empty(t, res.Units[0].Messages)
}

func TestScopes_Python(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	c := scopegraph.New(scopegraph.ID{Root: "/demo", Language: "python"})

	files := map[string]string{
		"app.py": `import os
from util import helper as h

def greet(name):
    def inner():
        return name
    print(inner())
    return h(name)

class Box:
    def size(self):
        return len(self)

greet("x")
unknown()
`,
	}
	res, err := env.an.Analyze(context.Background(), env.parse("python", files), nil, c, scripts.Default)
	require.NoError(t, err)
	require.Len(t, res.Units, 1)

	u := res.Units[0]
	// Unresolved references are warnings for languages without a stricter setting.
	assert.True(t, u.Success)
	require.Len(t, u.Messages, 1)
	assert.Equal(t, message.Warning, u.Messages[0].Severity)
	assert.Equal(t, "unresolved reference 'unknown'", u.Messages[0].Text)
	assert.Equal(t, 14, u.Messages[0].Region.StartLine)
}

func TestScopes_UnknownLanguageHasNoReferences(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	c := scopegraph.New(scopegraph.ID{Root: "/demo", Language: "ruby"})

	res, err := env.an.Analyze(context.Background(), env.parse("ruby", map[string]string{
		"a.rb": "def hi\n  bye\nend\n",
	}), nil, c, scripts.Default)
	require.NoError(t, err)
	require.Len(t, res.Units, 1)
	assert.True(t, res.Units[0].Success)
	assert.Empty(t, res.Units[0].Messages)
}

func TestFS_ContainsStrategies(t *testing.T) {
	t.Parallel()
	for _, name := range []string{runtime.StrategyScriptPath(scripts.Default), "kinds.risor"} {
		data, err := scripts.FS.ReadFile(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, data)
	}
}
