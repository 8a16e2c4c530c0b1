// Package message defines the diagnostics reported to workbench callers.
package message

import (
	"fmt"
	"sort"
)

// Severity defines the importance of a message.
type Severity uint8

const (
	Note Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Note:
		return "NOTE"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	}
	return "UNKNOWN"
}

// ParseSeverity maps a lower- or upper-case severity name to a Severity.
func ParseSeverity(s string) (Severity, bool) {
	switch s {
	case "note", "NOTE":
		return Note, true
	case "warning", "WARNING":
		return Warning, true
	case "error", "ERROR":
		return Error, true
	}
	return Note, false
}

// Kind records which stage produced a message.
type Kind uint8

const (
	Analysis Kind = iota
	Parse
	Internal
)

func (k Kind) String() string {
	switch k {
	case Analysis:
		return "analysis"
	case Parse:
		return "parse"
	case Internal:
		return "internal"
	}
	return "unknown"
}

// Region is a 0-based source range, matching tree-sitter points.
type Region struct {
	StartLine int `json:"start_line" msgpack:"sl"`
	StartCol  int `json:"start_col" msgpack:"sc"`
	EndLine   int `json:"end_line" msgpack:"el"`
	EndCol    int `json:"end_col" msgpack:"ec"`
}

// Before orders regions by start position.
func (r Region) Before(o Region) bool {
	if r.StartLine != o.StartLine {
		return r.StartLine < o.StartLine
	}
	return r.StartCol < o.StartCol
}

// Message is a single diagnostic attached to a source.
// A nil Region places the message at the top of the source.
type Message struct {
	Source   string   `msgpack:"s"`
	Severity Severity `msgpack:"v"`
	Kind     Kind     `msgpack:"k"`
	Region   *Region  `msgpack:"r,omitempty"`
	Text     string   `msgpack:"t"`
	// Cause is kept in memory only.
	Cause error `msgpack:"-"`
}

// AtTop reports whether the message has no source position.
func (m Message) AtTop() bool {
	return m.Region == nil
}

func (m Message) String() string {
	if m.Region == nil {
		return fmt.Sprintf("%s: %s: %s", m.Source, m.Severity, m.Text)
	}
	return fmt.Sprintf("%s:%d:%d: %s: %s", m.Source, m.Region.StartLine+1, m.Region.StartCol+1, m.Severity, m.Text)
}

func newAnalysis(source string, sev Severity, region *Region, text string) Message {
	return Message{Source: source, Severity: sev, Kind: Analysis, Region: region, Text: text}
}

func NewAnalysisError(source string, region *Region, text string) Message {
	return newAnalysis(source, Error, region, text)
}

func NewAnalysisWarning(source string, region *Region, text string) Message {
	return newAnalysis(source, Warning, region, text)
}

func NewAnalysisNote(source string, region *Region, text string) Message {
	return newAnalysis(source, Note, region, text)
}

// AnalysisErrorAtTop creates a top-level analysis error carrying its cause.
func AnalysisErrorAtTop(source, text string, cause error) Message {
	m := newAnalysis(source, Error, nil, text)
	m.Cause = cause
	return m
}

// Count returns the number of messages with the given severity.
func Count(msgs []Message, sev Severity) int {
	n := 0
	for i := range msgs {
		if msgs[i].Severity == sev {
			n++
		}
	}
	return n
}

// HasErrors reports whether any message has Error severity.
func HasErrors(msgs []Message) bool {
	return Count(msgs, Error) > 0
}

// Sort orders messages by source, then position (top-level first), then
// descending severity. The sort is stable.
func Sort(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		a, b := msgs[i], msgs[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.AtTop() != b.AtTop() {
			return a.AtTop()
		}
		if !a.AtTop() && *a.Region != *b.Region {
			return a.Region.Before(*b.Region)
		}
		return a.Severity > b.Severity
	})
}
