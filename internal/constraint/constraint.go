// Package constraint defines the typed data exchanged between the analyzer,
// the strategy phases that contribute constraints, and the solver.
package constraint

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jward/workbench/internal/message"
)

// Constraint is a fact contributed by the initial or unit phase. The
// analyzer never interprets Kind or Args; only the solver does.
type Constraint struct {
	Kind   string          `msgpack:"k"`
	Source string          `msgpack:"s"`
	Region *message.Region `msgpack:"r,omitempty"`
	Args   map[string]any  `msgpack:"a,omitempty"`
}

// Arg returns the string argument key, or "" when absent or not a string.
func (c Constraint) Arg(key string) string {
	s, _ := c.Args[key].(string)
	return s
}

// Record is one solver-produced diagnostic.
type Record struct {
	Source string          `msgpack:"s"`
	Region *message.Region `msgpack:"r,omitempty"`
	Text   string          `msgpack:"t"`
}

// Solution is the solver output: three disjoint diagnostic collections.
type Solution struct {
	Errors   []Record `msgpack:"e,omitempty"`
	Warnings []Record `msgpack:"w,omitempty"`
	Notes    []Record `msgpack:"n,omitempty"`
}

// Empty reports whether the solution carries no records at all.
func (s *Solution) Empty() bool {
	return s == nil || len(s.Errors)+len(s.Warnings)+len(s.Notes) == 0
}

// For returns the part of the solution whose records belong to source.
func (s *Solution) For(source string) *Solution {
	if s == nil {
		return &Solution{}
	}
	return &Solution{
		Errors:   filter(s.Errors, source),
		Warnings: filter(s.Warnings, source),
		Notes:    filter(s.Notes, source),
	}
}

func filter(recs []Record, source string) []Record {
	var out []Record
	for _, r := range recs {
		if r.Source == source {
			out = append(out, r)
		}
	}
	return out
}

// Add appends a record to the collection matching sev.
func (s *Solution) Add(sev message.Severity, r Record) {
	switch sev {
	case message.Error:
		s.Errors = append(s.Errors, r)
	case message.Warning:
		s.Warnings = append(s.Warnings, r)
	default:
		s.Notes = append(s.Notes, r)
	}
}

// Sort orders every collection by source, position and text so solutions
// compare equal across runs.
func (s *Solution) Sort() {
	for _, recs := range [][]Record{s.Errors, s.Warnings, s.Notes} {
		sort.SliceStable(recs, func(i, j int) bool {
			a, b := recs[i], recs[j]
			if a.Source != b.Source {
				return a.Source < b.Source
			}
			if (a.Region == nil) != (b.Region == nil) {
				return a.Region == nil
			}
			if a.Region != nil && *a.Region != *b.Region {
				return a.Region.Before(*b.Region)
			}
			return a.Text < b.Text
		})
	}
}

// Config is the solver configuration produced by the initial phase.
type Config struct {
	// Unresolved is the severity of references without a declaration.
	Unresolved message.Severity `msgpack:"u"`
	// Duplicate is the severity of repeated declarations in one scope.
	Duplicate message.Severity `msgpack:"d"`
	// MaxMessages caps each collection of the solution per source; 0 means
	// no cap.
	MaxMessages int `msgpack:"m"`
}

// DefaultConfig reports unresolved references and duplicates as errors.
func DefaultConfig() Config {
	return Config{Unresolved: message.Error, Duplicate: message.Error}
}

// Solver resolves a constraint set into a Solution. Implementations return
// *UnsatisfiableError when no solution exists.
type Solver interface {
	Solve(ctx context.Context, cfg Config, constraints []Constraint) (*Solution, error)
}

// UnsatisfiableError reports that a constraint set has no solution. Sources
// lists the units whose constraints were found to conflict; it may be empty
// when the conflict cannot be attributed.
type UnsatisfiableError struct {
	Sources []string
	Reason  string
}

func (e *UnsatisfiableError) Error() string {
	if len(e.Sources) == 0 {
		return fmt.Sprintf("constraint: unsatisfiable: %s", e.Reason)
	}
	return fmt.Sprintf("constraint: unsatisfiable in %s: %s", strings.Join(e.Sources, ", "), e.Reason)
}
