package scopegraph

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/workbench/internal/constraint"
	"github.com/jward/workbench/internal/message"
	"github.com/jward/workbench/internal/syntax"
)

var testID = ID{Root: "/proj", Language: "go"}

func TestUnit_ClearKeepsParse(t *testing.T) {
	t.Parallel()
	u := newUnit("a.go")
	root := &syntax.Node{Kind: "source_file"}
	u.SetParseUnit(&syntax.ParseUnit{Source: "a.go", Hash: "h1", Root: root})
	u.SetUnitResult(&constraint.UnitResult{AST: &syntax.Node{Kind: "rewritten"}})
	u.SetSolution(&constraint.Solution{Errors: []constraint.Record{{Source: "a.go", Text: "x"}}})
	u.SetFinalResult(&constraint.FinalResult{Value: "done"})
	u.SetOutcome(false, []message.Message{message.NewAnalysisError("a.go", nil, "x")}, time.Second)

	assert.Equal(t, "rewritten", u.AST().Kind)
	assert.True(t, u.Analyzed())
	assert.False(t, u.Success())

	u.Clear()
	assert.Nil(t, u.UnitResult())
	assert.Nil(t, u.Solution())
	assert.Nil(t, u.FinalResult())
	assert.Empty(t, u.Messages())
	assert.False(t, u.Analyzed())
	assert.Zero(t, u.Duration())
	assert.Equal(t, "h1", u.Hash())
	assert.Same(t, root, u.AST())
}

func TestUnit_MessagesIsACopy(t *testing.T) {
	t.Parallel()
	u := newUnit("a")
	u.SetOutcome(true, []message.Message{message.NewAnalysisNote("a", nil, "n")}, 0)
	msgs := u.Messages()
	msgs[0].Text = "changed"
	assert.Equal(t, "n", u.Messages()[0].Text)
}

func TestContext_UpdateAndRead(t *testing.T) {
	t.Parallel()
	c := New(testID)
	assert.Equal(t, "/proj", c.Location())
	assert.NotEmpty(t, c.InstanceID())
	assert.False(t, c.Temporary())

	err := c.Update(func(w *Writer) error {
		w.Unit("b")
		w.Unit("a")
		assert.Same(t, w.Unit("a"), w.Unit("a"))
		assert.Same(t, c, w.Context())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, c.Keys())
	assert.Equal(t, 2, c.Len())

	_, ok := c.Lookup("a")
	assert.True(t, ok)
	_, ok = c.Lookup("zzz")
	assert.False(t, ok)

	require.NoError(t, c.Update(func(w *Writer) error {
		assert.True(t, w.Remove("a"))
		assert.False(t, w.Remove("a"))
		assert.Equal(t, []string{"b"}, w.Keys())
		return nil
	}))
	assert.Equal(t, []string{"b"}, c.Keys())
}

func TestContext_UpdateIsExclusive(t *testing.T) {
	t.Parallel()
	c := New(testID)
	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Update(func(w *Writer) error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive)
}

func TestTemporaryContext_Close(t *testing.T) {
	t.Parallel()
	tmp := NewTemporary(testID)
	c, err := tmp.Context()
	require.NoError(t, err)
	assert.True(t, c.Temporary())
	require.NoError(t, c.Update(func(w *Writer) error {
		w.Unit("a")
		return nil
	}))

	require.NoError(t, tmp.Close())
	require.NoError(t, tmp.Close())

	_, err = tmp.Context()
	assert.ErrorIs(t, err, ErrContextClosed)
	assert.True(t, c.Closed())
	assert.ErrorIs(t, c.Update(func(*Writer) error { return nil }), ErrContextClosed)
	assert.Zero(t, c.Len())
}

func TestContext_Close(t *testing.T) {
	t.Parallel()
	c := New(testID)
	require.NoError(t, c.Update(func(w *Writer) error {
		w.Unit("a")
		return nil
	}))

	c.Close()
	assert.True(t, c.Closed())
	assert.ErrorIs(t, c.Update(func(*Writer) error { return nil }), ErrContextClosed)
	_, ok := c.Lookup("a")
	assert.True(t, ok)
}

func TestContext_SnapshotRestore(t *testing.T) {
	t.Parallel()
	c := New(testID)
	region := &message.Region{StartLine: 1}
	require.NoError(t, c.Update(func(w *Writer) error {
		u := w.Unit("a.go")
		u.SetParseUnit(&syntax.ParseUnit{Source: "a.go", Hash: "abc"})
		u.SetUnitResult(&constraint.UnitResult{Constraints: []constraint.Constraint{{Kind: "ref", Source: "a.go"}}})
		u.SetSolution(&constraint.Solution{Warnings: []constraint.Record{{Source: "a.go", Region: region, Text: "w"}}})
		u.SetOutcome(true, []message.Message{message.NewAnalysisWarning("a.go", region, "w")}, time.Millisecond)
		w.Unit("b.go")
		return nil
	}))

	snap := c.Snapshot()
	require.Len(t, snap.Units, 2)
	assert.Equal(t, "a.go", snap.Units[0].Source)
	assert.Equal(t, "abc", snap.Units[0].Hash)

	fresh := New(testID)
	require.NoError(t, fresh.Restore(snap))
	assert.Equal(t, []string{"a.go", "b.go"}, fresh.Keys())
	u, ok := fresh.Lookup("a.go")
	require.True(t, ok)
	assert.Equal(t, "abc", u.Hash())
	assert.True(t, u.Success())
	assert.Equal(t, c.Snapshot().Units[0].Messages, u.Messages())
	assert.Nil(t, u.ParseUnit())

	other := New(ID{Root: "/other", Language: "go"})
	assert.Error(t, other.Restore(snap))
	assert.NoError(t, other.Restore(nil))
}
