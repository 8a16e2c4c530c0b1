package message

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverity_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "NOTE", Note.String())
	assert.Equal(t, "WARNING", Warning.String())
	assert.Equal(t, "ERROR", Error.String())
	assert.Equal(t, "UNKNOWN", Severity(9).String())
}

func TestParseSeverity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Severity
		ok   bool
	}{
		{"error", Error, true},
		{"WARNING", Warning, true},
		{"note", Note, true},
		{"fatal", Note, false},
	}
	for _, tt := range tests {
		got, ok := ParseSeverity(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestAnalysisErrorAtTop(t *testing.T) {
	t.Parallel()
	cause := errors.New("boom")
	m := AnalysisErrorAtTop("a.mini", "File analysis failed.", cause)

	assert.True(t, m.AtTop())
	assert.Equal(t, Error, m.Severity)
	assert.Equal(t, Analysis, m.Kind)
	assert.ErrorIs(t, m.Cause, cause)
	assert.Equal(t, "a.mini: ERROR: File analysis failed.", m.String())
}

func TestMessage_StringWithRegion(t *testing.T) {
	t.Parallel()
	m := NewAnalysisWarning("b.mini", &Region{StartLine: 2, StartCol: 4}, "unused")
	assert.Equal(t, "b.mini:3:5: WARNING: unused", m.String())
}

func TestCountAndHasErrors(t *testing.T) {
	t.Parallel()
	msgs := []Message{
		NewAnalysisNote("a", nil, "n"),
		NewAnalysisWarning("a", nil, "w"),
		NewAnalysisWarning("a", nil, "w2"),
	}
	assert.Equal(t, 2, Count(msgs, Warning))
	assert.False(t, HasErrors(msgs))

	msgs = append(msgs, NewAnalysisError("a", nil, "e"))
	assert.True(t, HasErrors(msgs))
}

func TestSort(t *testing.T) {
	t.Parallel()
	msgs := []Message{
		NewAnalysisNote("b", &Region{StartLine: 1}, "late source"),
		NewAnalysisWarning("a", &Region{StartLine: 5}, "line five"),
		NewAnalysisError("a", &Region{StartLine: 1, StartCol: 2}, "line one"),
		NewAnalysisError("a", nil, "top"),
	}
	Sort(msgs)

	require.Len(t, msgs, 4)
	assert.Equal(t, "top", msgs[0].Text)
	assert.Equal(t, "line one", msgs[1].Text)
	assert.Equal(t, "line five", msgs[2].Text)
	assert.Equal(t, "late source", msgs[3].Text)
}
