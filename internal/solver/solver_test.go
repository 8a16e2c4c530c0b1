package solver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/workbench/internal/constraint"
	"github.com/jward/workbench/internal/message"
)

func c(kind, source string, args ...string) constraint.Constraint {
	out := constraint.Constraint{Kind: kind, Source: source, Args: map[string]any{}}
	for i := 0; i+1 < len(args); i += 2 {
		out.Args[args[i]] = args[i+1]
	}
	return out
}

func texts(recs []constraint.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Source+": "+r.Text)
	}
	return out
}

func TestSolve_ResolvesThroughEdges(t *testing.T) {
	t.Parallel()
	cs := []constraint.Constraint{
		c(KindScope, "/p", "name", "global"),
		c(KindDecl, "/p", "scope", "global", "name", "print"),
		c(KindScope, "a", "name", "a"),
		c(KindEdge, "a", "from", "a", "to", "global"),
		c(KindDecl, "a", "scope", "a", "name", "x"),
		c(KindRef, "a", "scope", "a", "name", "x"),
		c(KindRef, "a", "scope", "a", "name", "print"),
		c(KindRef, "a", "scope", "a", "name", "missing"),
	}
	sol, err := New().Solve(context.Background(), constraint.DefaultConfig(), cs)
	require.NoError(t, err)
	assert.Equal(t, []string{"a: unresolved reference 'missing'"}, texts(sol.Errors))
	assert.Empty(t, sol.Warnings)
}

func TestSolve_NearestDeclarationWins(t *testing.T) {
	t.Parallel()
	cs := []constraint.Constraint{
		c(KindDecl, "a", "scope", "outer", "name", "x", "type", "string"),
		c(KindDecl, "a", "scope", "inner", "name", "x", "type", "int"),
		c(KindEdge, "a", "from", "inner", "to", "outer"),
		c(KindRef, "a", "scope", "inner", "name", "x", "type", "int"),
	}
	sol, err := New().Solve(context.Background(), constraint.DefaultConfig(), cs)
	require.NoError(t, err)
	assert.True(t, sol.Empty())
}

func TestSolve_SeverityConfig(t *testing.T) {
	t.Parallel()
	cs := []constraint.Constraint{
		c(KindDecl, "a", "scope", "s", "name", "x"),
		c(KindDecl, "b", "scope", "s", "name", "x"),
		c(KindRef, "c", "scope", "s", "name", "y"),
	}
	cfg := constraint.Config{Unresolved: message.Note, Duplicate: message.Warning}
	sol, err := New().Solve(context.Background(), cfg, cs)
	require.NoError(t, err)
	assert.Empty(t, sol.Errors)
	assert.Equal(t, []string{"b: duplicate declaration of 'x'"}, texts(sol.Warnings))
	assert.Equal(t, []string{"c: unresolved reference 'y'"}, texts(sol.Notes))
}

func TestSolve_ExplicitMessages(t *testing.T) {
	t.Parallel()
	region := &message.Region{StartLine: 4, StartCol: 2, EndLine: 4, EndCol: 9}
	e := c(KindError, "b", "message", "bad thing")
	e.Region = region
	cs := []constraint.Constraint{
		e,
		c(KindNote, "c", "message", "fyi"),
		c(KindWarning, "a"),
	}
	sol, err := New().Solve(context.Background(), constraint.DefaultConfig(), cs)
	require.NoError(t, err)
	require.Len(t, sol.Errors, 1)
	assert.Equal(t, region, sol.Errors[0].Region)
	assert.Equal(t, []string{"c: fyi"}, texts(sol.Notes))
	assert.Equal(t, []string{"a: warning"}, texts(sol.Warnings))
}

func TestSolve_TypeUnification(t *testing.T) {
	t.Parallel()
	cs := []constraint.Constraint{
		c(KindDecl, "a", "scope", "g", "name", "n", "type", "?t"),
		c(KindEq, "a", "left", "?t", "right", "int"),
		c(KindRef, "b", "scope", "g", "name", "n", "type", "int"),
		c(KindRef, "c", "scope", "g", "name", "n", "type", "string"),
		c(KindEq, "d", "left", "?t", "right", "bool"),
	}
	sol, err := New().Solve(context.Background(), constraint.DefaultConfig(), cs)
	require.NoError(t, err)
	assert.Equal(t, []string{"c: type mismatch: expected int, got string"}, texts(sol.Errors))
}

// resolve returns the ground type bound to t, if any.
func (u *unifier) resolve(t typeTerm) (string, bool) {
	g, ok := u.ground[u.class(t)]
	return g, ok
}

func TestUnifier_VariablesAreSourceLocal(t *testing.T) {
	t.Parallel()
	u := newUnifier()
	require.NoError(t, u.unify(typeTerm{"a", "?t"}, typeTerm{"a", "int"}))
	require.NoError(t, u.unify(typeTerm{"b", "?t"}, typeTerm{"b", "string"}))

	g, ok := u.resolve(typeTerm{"a", "?t"})
	require.True(t, ok)
	assert.Equal(t, "int", g)
	g, ok = u.resolve(typeTerm{"b", "?t"})
	require.True(t, ok)
	assert.Equal(t, "string", g)

	_, ok = u.resolve(typeTerm{"c", "?free"})
	assert.False(t, ok)

	require.NoError(t, u.unify(typeTerm{"a", "?x"}, typeTerm{"a", "?y"}))
	require.NoError(t, u.unify(typeTerm{"a", "?y"}, typeTerm{"a", "bool"}))
	g, ok = u.resolve(typeTerm{"a", "?x"})
	require.True(t, ok)
	assert.Equal(t, "bool", g)
}

func TestSolve_FalseIsUnsatisfiable(t *testing.T) {
	t.Parallel()
	cs := []constraint.Constraint{
		c(KindFalse, "b", "reason", "no"),
		c(KindRef, "a", "scope", "s", "name", "x"),
		c(KindFalse, "a"),
		c(KindFalse, "b"),
	}
	_, err := New().Solve(context.Background(), constraint.DefaultConfig(), cs)
	var unsat *constraint.UnsatisfiableError
	require.ErrorAs(t, err, &unsat)
	assert.Equal(t, []string{"a", "b"}, unsat.Sources)
	assert.Equal(t, "no", unsat.Reason)
}

func TestSolve_MaxMessagesPerSource(t *testing.T) {
	t.Parallel()
	cs := []constraint.Constraint{
		c(KindRef, "a", "scope", "s", "name", "x"),
		c(KindRef, "a", "scope", "s", "name", "w"),
		c(KindRef, "b", "scope", "s", "name", "y"),
		c(KindRef, "c", "scope", "s", "name", "z"),
	}
	cfg := constraint.DefaultConfig()
	cfg.MaxMessages = 1
	sol, err := New().Solve(context.Background(), cfg, cs)
	require.NoError(t, err)
	// Every source keeps its first error; only a's second one is dropped.
	require.Len(t, sol.Errors, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{sol.Errors[0].Source, sol.Errors[1].Source, sol.Errors[2].Source})
	assert.Equal(t, "c: unresolved reference 'z'", texts(sol.Errors)[2])
}

func TestSolve_Deterministic(t *testing.T) {
	t.Parallel()
	cs := []constraint.Constraint{
		c(KindRef, "z", "scope", "s", "name", "x"),
		c(KindRef, "a", "scope", "s", "name", "y"),
		c(KindError, "m", "message", "explicit"),
	}
	first, err := New().Solve(context.Background(), constraint.DefaultConfig(), cs)
	require.NoError(t, err)
	second, err := New().Solve(context.Background(), constraint.DefaultConfig(), cs)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"a: unresolved reference 'y'", "m: explicit", "z: unresolved reference 'x'"}, texts(first.Errors))
}

func TestSolve_Canceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Solve(ctx, constraint.DefaultConfig(), nil)
	require.ErrorIs(t, err, context.Canceled)
}
