// Package scopegraph holds the per-project semantic model: analysis
// contexts and the scope-graph units they own, one per source.
package scopegraph

import (
	"sync"
	"time"

	"github.com/jward/workbench/internal/constraint"
	"github.com/jward/workbench/internal/message"
	"github.com/jward/workbench/internal/syntax"
)

// Unit is the semantic state of one source within a Context. Fields derived
// by analysis (result, solution, final result, messages) are only
// meaningful after a complete pass; Clear resets them.
type Unit struct {
	source string

	mu       sync.RWMutex
	parse    *syntax.ParseUnit
	hash     string
	result   *constraint.UnitResult
	solution *constraint.Solution
	final    *constraint.FinalResult
	messages []message.Message
	analyzed bool
	success  bool
	duration time.Duration
}

func newUnit(source string) *Unit {
	return &Unit{source: source}
}

// Source returns the unit's key within its context.
func (u *Unit) Source() string { return u.source }

func (u *Unit) ParseUnit() *syntax.ParseUnit {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.parse
}

// SetParseUnit records the latest parse of the source and its content hash.
func (u *Unit) SetParseUnit(p *syntax.ParseUnit) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.parse = p
	if p != nil {
		u.hash = p.Hash
	}
}

// Hash is the content hash of the last parsed (or restored) text.
func (u *Unit) Hash() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.hash
}

func (u *Unit) UnitResult() *constraint.UnitResult {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.result
}

func (u *Unit) SetUnitResult(r *constraint.UnitResult) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.result = r
}

// AST returns the transformed tree when the strategy produced one and the
// parsed tree otherwise.
func (u *Unit) AST() *syntax.Node {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.result != nil && u.result.AST != nil {
		return u.result.AST
	}
	if u.parse != nil {
		return u.parse.Root
	}
	return nil
}

func (u *Unit) Solution() *constraint.Solution {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.solution
}

func (u *Unit) SetSolution(s *constraint.Solution) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.solution = s
}

func (u *Unit) FinalResult() *constraint.FinalResult {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.final
}

func (u *Unit) SetFinalResult(f *constraint.FinalResult) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.final = f
}

// Messages returns a copy of the unit's diagnostics from its last analysis.
func (u *Unit) Messages() []message.Message {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]message.Message(nil), u.messages...)
}

// SetOutcome records the result of an analysis pass over the unit.
func (u *Unit) SetOutcome(success bool, msgs []message.Message, d time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.analyzed = true
	u.success = success
	u.messages = msgs
	u.duration = d
}

// Analyzed reports whether the unit completed an analysis pass since its
// last Clear.
func (u *Unit) Analyzed() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.analyzed
}

func (u *Unit) Success() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.success
}

func (u *Unit) Duration() time.Duration {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.duration
}

// Clear drops every analysis-derived field. The parse unit and hash stay.
func (u *Unit) Clear() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.result = nil
	u.solution = nil
	u.final = nil
	u.messages = nil
	u.analyzed = false
	u.success = false
	u.duration = 0
}
