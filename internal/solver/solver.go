// Package solver implements a small scope-graph constraint solver.
//
// Scopes form a graph through edge constraints; references resolve to the
// nearest declaration reachable from their scope. Types attached to
// declarations and references are unified, with "?name" terms acting as
// variables local to the source that mentions them.
package solver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jward/workbench/internal/constraint"
	"github.com/jward/workbench/internal/message"
)

// Constraint kinds understood by the solver. Anything else is ignored.
const (
	KindScope   = "scope"
	KindEdge    = "edge"
	KindDecl    = "decl"
	KindRef     = "ref"
	KindEq      = "eq"
	KindError   = "error"
	KindWarning = "warning"
	KindNote    = "note"
	KindFalse   = "false"
)

// Option configures a Solver.
type Option func(*Solver)

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Solver) { s.logger = l }
}

// Solver is the reference constraint.Solver. It keeps no state between
// calls and is safe for concurrent use.
type Solver struct {
	logger *slog.Logger
}

var _ constraint.Solver = (*Solver)(nil)

// New creates a Solver.
func New(opts ...Option) *Solver {
	s := &Solver{logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

type decl struct {
	name string
	typ  typeTerm
}

// state is the working set of a single Solve call.
type state struct {
	cfg     constraint.Config
	parents map[string][]string
	decls   map[string][]decl
	types   *unifier
	sol     *constraint.Solution
}

// Solve resolves constraints under cfg. It returns *constraint.UnsatisfiableError
// when the set contains false constraints.
func (s *Solver) Solve(ctx context.Context, cfg constraint.Config, constraints []constraint.Constraint) (*constraint.Solution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := unsatisfiable(constraints); err != nil {
		return nil, err
	}

	st := &state{
		cfg:     cfg,
		parents: make(map[string][]string),
		decls:   make(map[string][]decl),
		types:   newUnifier(),
		sol:     &constraint.Solution{},
	}

	var refs, eqs []constraint.Constraint
	for _, c := range constraints {
		switch c.Kind {
		case KindScope:
			if _, ok := st.parents[c.Arg("name")]; !ok {
				st.parents[c.Arg("name")] = nil
			}
		case KindEdge:
			from, to := c.Arg("from"), c.Arg("to")
			st.parents[from] = append(st.parents[from], to)
		case KindDecl:
			st.declare(c)
		case KindRef:
			refs = append(refs, c)
		case KindEq:
			eqs = append(eqs, c)
		case KindError:
			st.report(message.Error, c, c.Arg("message"))
		case KindWarning:
			st.report(message.Warning, c, c.Arg("message"))
		case KindNote:
			st.report(message.Note, c, c.Arg("message"))
		default:
			s.logger.Debug("solver: ignoring constraint", slog.String("kind", c.Kind), slog.String("source", c.Source))
		}
	}

	for _, c := range eqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		left := typeTerm{source: c.Source, name: c.Arg("left")}
		right := typeTerm{source: c.Source, name: c.Arg("right")}
		if err := st.types.unify(left, right); err != nil {
			st.report(message.Error, c, err.Error())
		}
	}
	for _, c := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st.resolve(c)
	}

	st.sol.Sort()
	if cfg.MaxMessages > 0 {
		st.sol.Errors = capPerSource(st.sol.Errors, cfg.MaxMessages)
		st.sol.Warnings = capPerSource(st.sol.Warnings, cfg.MaxMessages)
		st.sol.Notes = capPerSource(st.sol.Notes, cfg.MaxMessages)
	}
	return st.sol, nil
}

// unsatisfiable collects every false constraint into a single error.
func unsatisfiable(constraints []constraint.Constraint) error {
	found := false
	seen := make(map[string]bool)
	var sources, reasons []string
	for _, c := range constraints {
		if c.Kind != KindFalse {
			continue
		}
		found = true
		if r := c.Arg("reason"); r != "" {
			reasons = append(reasons, r)
		}
		if c.Source != "" && !seen[c.Source] {
			seen[c.Source] = true
			sources = append(sources, c.Source)
		}
	}
	if !found {
		return nil
	}
	sort.Strings(sources)
	reason := "false constraint"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, "; ")
	}
	return &constraint.UnsatisfiableError{Sources: sources, Reason: reason}
}

func (st *state) declare(c constraint.Constraint) {
	scope, name := c.Arg("scope"), c.Arg("name")
	for _, d := range st.decls[scope] {
		if d.name == name {
			st.report(st.cfg.Duplicate, c, fmt.Sprintf("duplicate declaration of '%s'", name))
			return
		}
	}
	d := decl{name: name}
	if t := c.Arg("type"); t != "" {
		d.typ = typeTerm{source: c.Source, name: t}
	}
	st.decls[scope] = append(st.decls[scope], d)
}

// resolve looks name up breadth first from the reference's scope, so the
// nearest declaration wins.
func (st *state) resolve(c constraint.Constraint) {
	name := c.Arg("name")
	d, ok := st.lookup(c.Arg("scope"), name)
	if !ok {
		st.report(st.cfg.Unresolved, c, fmt.Sprintf("unresolved reference '%s'", name))
		return
	}
	t := c.Arg("type")
	if t == "" || d.typ.name == "" {
		return
	}
	if err := st.types.unify(typeTerm{source: c.Source, name: t}, d.typ); err != nil {
		st.report(message.Error, c, err.Error())
	}
}

func (st *state) lookup(scope, name string) (decl, bool) {
	visited := map[string]bool{scope: true}
	frontier := []string{scope}
	for len(frontier) > 0 {
		var next []string
		for _, s := range frontier {
			for _, d := range st.decls[s] {
				if d.name == name {
					return d, true
				}
			}
			for _, p := range st.parents[s] {
				if !visited[p] {
					visited[p] = true
					next = append(next, p)
				}
			}
		}
		frontier = next
	}
	return decl{}, false
}

func (st *state) report(sev message.Severity, c constraint.Constraint, text string) {
	if text == "" {
		text = c.Kind
	}
	st.sol.Add(sev, constraint.Record{Source: c.Source, Region: c.Region, Text: text})
}

// capPerSource keeps at most n records of each source, so every source
// with a record keeps at least one.
func capPerSource(recs []constraint.Record, n int) []constraint.Record {
	out := recs[:0:0]
	seen := make(map[string]int)
	for _, r := range recs {
		if seen[r.Source] < n {
			out = append(out, r)
		}
		seen[r.Source]++
	}
	return out
}
