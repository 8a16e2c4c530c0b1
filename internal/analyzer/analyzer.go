// Package analyzer runs the incremental constraint-based analysis of a
// context: an initial phase, one phase per changed unit, a single combined
// solve and a final phase, followed by per-unit diagnostic assembly.
package analyzer

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jward/workbench/internal/constraint"
	"github.com/jward/workbench/internal/message"
	"github.com/jward/workbench/internal/scopegraph"
	"github.com/jward/workbench/internal/syntax"
)

// PhaseRunner executes one phase action of a strategy and returns its
// result term.
type PhaseRunner interface {
	Run(ctx context.Context, strategy string, action constraint.Action, c *scopegraph.Context) (any, error)
}

// AnalyzedUnit is the outcome of one changed unit.
type AnalyzedUnit struct {
	Source   string
	Analyzed bool
	// Success is false when the unit failed or its solution has errors.
	Success  bool
	AST      *syntax.Node
	Messages []message.Message
	Duration time.Duration
}

// Results holds one AnalyzedUnit per changed key, in key order.
type Results struct {
	RunID     string
	Context   *scopegraph.Context
	Units     []AnalyzedUnit
	// Refreshed holds unchanged units whose diagnostics changed in this
	// run because of other units, in key order.
	Refreshed []AnalyzedUnit
	// Final is the final-phase result, nil when no unit was solved.
	Final     *constraint.FinalResult
}

// Analyzer runs analysis passes. It holds no per-run state; concurrent
// passes on one context are serialized by the context's write lock.
type Analyzer struct {
	runner           PhaseRunner
	solver           constraint.Solver
	logger           *slog.Logger
	parallel         bool
	workers          int
	includeUnchanged bool
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithParallel runs unit phases concurrently on up to workers goroutines.
// workers <= 0 uses the number of CPUs.
func WithParallel(workers int) Option {
	return func(a *Analyzer) {
		a.parallel = true
		a.workers = workers
	}
}

// WithIncludeUnchanged adds the retained unit results of unchanged units
// to the combined solve, so references into files that were not edited
// still resolve. Unchanged units whose diagnostics change are reported in
// Results.Refreshed.
func WithIncludeUnchanged(include bool) Option {
	return func(a *Analyzer) {
		a.includeUnchanged = include
	}
}

// WithLogger sets the logger for run and unit events.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) {
		a.logger = l
	}
}

// New creates an Analyzer driving runner and solver.
func New(runner PhaseRunner, solver constraint.Solver, opts ...Option) *Analyzer {
	a := &Analyzer{
		runner: runner,
		solver: solver,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// outcome tracks one changed unit through a run.
type outcome struct {
	key      string
	unit     *scopegraph.Unit
	parse    *syntax.ParseUnit
	result   *constraint.UnitResult
	err      error
	duration time.Duration
}

// pass is the state of one run inside the context's write session.
type pass struct {
	id       string
	strategy string
	c        *scopegraph.Context
	w        *scopegraph.Writer
	logger   *slog.Logger
}

// Analyze removes the removed keys, then analyzes every changed unit of c
// with strategy. Unit-level failures are reported as failed units; a
// failure of the initial phase, the solver or the final phase is returned
// as an *AnalysisError with no results.
func (a *Analyzer) Analyze(ctx context.Context, changed map[string]*syntax.ParseUnit, removed []string, c *scopegraph.Context, strategy string) (*Results, error) {
	runID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "analyzer.Analyze", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("context", c.ID().String()),
		attribute.String("strategy", strategy),
		attribute.Int("changed", len(changed)),
		attribute.Int("removed", len(removed)),
	))
	defer span.End()

	logger := a.logger.With(slog.String("run", runID), slog.String("context", c.ID().String()))
	start := time.Now()

	var res *Results
	err := c.Update(func(w *scopegraph.Writer) error {
		p := &pass{id: runID, strategy: strategy, c: c, w: w, logger: logger}
		var err error
		res, err = a.analyze(ctx, p, changed, removed)
		return err
	})
	if err != nil {
		var ae *AnalysisError
		if !errors.As(err, &ae) {
			err = &AnalysisError{Context: c.ID(), Phase: "context", Err: err}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis failed")
		runsTotal.WithLabelValues("failed").Inc()
		logger.Warn("analysis failed", slog.Any("error", err))
		return nil, err
	}

	runsTotal.WithLabelValues("ok").Inc()
	logger.Debug("analysis complete",
		slog.Int("units", len(res.Units)),
		slog.Duration("elapsed", time.Since(start)))
	return res, nil
}

func (a *Analyzer) analyze(ctx context.Context, p *pass, changed map[string]*syntax.ParseUnit, removed []string) (*Results, error) {
	for _, key := range removed {
		if p.w.Remove(key) {
			p.logger.Debug("unit removed", slog.String("unit", key))
		}
	}

	res := &Results{RunID: p.id, Context: p.c}
	keys := sortedKeys(changed)
	if len(keys) == 0 {
		return res, nil
	}

	resource := p.c.Location()
	fail := func(phase string, err error) error {
		return &AnalysisError{Context: p.c.ID(), Phase: phase, Err: err}
	}

	var initial *constraint.InitialResult
	if err := a.phase(ctx, "initial", func(ctx context.Context) error {
		var err error
		initial, err = a.initial(ctx, p, resource, keys)
		return err
	}); err != nil {
		return nil, fail("initial", err)
	}

	outcomes := make([]*outcome, len(keys))
	for i, key := range keys {
		u := p.w.Unit(key)
		u.Clear()
		if pu := changed[key]; pu != nil {
			u.SetParseUnit(pu)
		}
		outcomes[i] = &outcome{key: key, unit: u, parse: changed[key]}
	}
	if err := a.phase(ctx, "unit", func(ctx context.Context) error {
		return a.unitPhase(ctx, p, outcomes, initial.Args)
	}); err != nil {
		return nil, fail("unit", err)
	}

	retained := a.retained(p, changed)
	dropped := make(map[string]error)
	var sol *constraint.Solution
	if err := a.phase(ctx, "solve", func(ctx context.Context) error {
		var err error
		sol, err = a.solve(ctx, p, initial, outcomes, retained, dropped)
		return err
	}); err != nil {
		return nil, fail("solve", err)
	}

	var solved []string
	for _, o := range outcomes {
		if o.err == nil {
			solved = append(solved, o.key)
		}
	}
	if len(solved) > 0 {
		if err := a.phase(ctx, "final", func(ctx context.Context) error {
			var err error
			res.Final, err = a.final(ctx, p, resource, solved)
			return err
		}); err != nil {
			return nil, fail("final", err)
		}
	}

	for _, o := range outcomes {
		res.Units = append(res.Units, a.assemble(p, o, sol, res.Final))
	}
	res.Refreshed = a.refresh(p, retained, dropped, sol)
	return res, nil
}

// phase runs fn inside a span and records its duration.
func (a *Analyzer) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "analyzer."+name)
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	phaseDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (a *Analyzer) initial(ctx context.Context, p *pass, resource string, keys []string) (*constraint.InitialResult, error) {
	action := constraint.Action{Kind: constraint.ActionInitial, Resource: resource, Units: keys}
	term, err := a.runner.Run(ctx, p.strategy, action, p.c)
	if err != nil {
		return nil, &PhaseExecutionError{Phase: constraint.ActionInitial, Resource: resource, Err: err}
	}
	return constraint.DecodeInitial(term, resource)
}

// unitPhase runs the unit action of every outcome. Failures are recorded
// on the outcome; only cancellation fails the phase.
func (a *Analyzer) unitPhase(ctx context.Context, p *pass, outcomes []*outcome, args any) error {
	if !a.parallel || len(outcomes) < 2 {
		for _, o := range outcomes {
			if err := ctx.Err(); err != nil {
				return err
			}
			a.runUnit(ctx, p, o, args)
		}
		return nil
	}

	workers := a.workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(workers, len(outcomes)))
	for _, o := range outcomes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a.runUnit(gctx, p, o, args)
			return nil
		})
	}
	return g.Wait()
}

func (a *Analyzer) runUnit(ctx context.Context, p *pass, o *outcome, args any) {
	start := time.Now()
	defer func() {
		o.duration = time.Since(start)
		phaseDuration.WithLabelValues("unit_each").Observe(o.duration.Seconds())
	}()

	action := constraint.Action{Kind: constraint.ActionUnit, Resource: o.key, Args: args}
	if o.parse != nil {
		action.AST = o.parse.Root
	}
	term, err := a.runner.Run(ctx, p.strategy, action, p.c)
	if err != nil {
		o.err = &PhaseExecutionError{Phase: constraint.ActionUnit, Resource: o.key, Err: err}
		p.logger.Warn("unit analysis failed", slog.String("unit", o.key), slog.Any("error", o.err))
		return
	}
	res, err := constraint.DecodeUnit(term, o.key)
	if err != nil {
		o.err = err
		p.logger.Warn("unit analysis failed", slog.String("unit", o.key), slog.Any("error", err))
		return
	}
	o.result = res
	o.unit.SetUnitResult(res)
}

// solve solves the initial constraints together with those of every
// successful unit and every retained unit. On unsatisfiability the named
// units are failed and the solve is retried without them: named retained
// units move from retained to dropped. When no contributing unit is named,
// every remaining changed unit fails. The solution is nil when no changed
// unit is left to solve.
func (a *Analyzer) solve(ctx context.Context, p *pass, initial *constraint.InitialResult, outcomes []*outcome, retained map[string][]constraint.Constraint, dropped map[string]error) (*constraint.Solution, error) {
	var active []*outcome
	for _, o := range outcomes {
		if o.err == nil {
			active = append(active, o)
		}
	}

	for len(active) > 0 {
		cs := append([]constraint.Constraint(nil), initial.Constraints...)
		for _, o := range active {
			cs = append(cs, o.result.Constraints...)
		}
		for _, key := range sortedKeys(retained) {
			cs = append(cs, retained[key]...)
		}

		sol, err := a.solver.Solve(ctx, initial.Config, cs)
		if err == nil {
			return sol, nil
		}
		var unsat *constraint.UnsatisfiableError
		if !errors.As(err, &unsat) {
			return nil, err
		}

		named := make(map[string]bool, len(unsat.Sources))
		for _, src := range unsat.Sources {
			named[src] = true
		}
		progress := false
		next := active[:0:0]
		for _, o := range active {
			if named[o.key] {
				o.err = unsat
				progress = true
				continue
			}
			next = append(next, o)
		}
		for key := range retained {
			if named[key] {
				delete(retained, key)
				dropped[key] = unsat
				progress = true
			}
		}
		if !progress {
			for _, o := range next {
				o.err = unsat
			}
			next = nil
		}
		p.logger.Warn("constraints unsatisfiable",
			slog.Any("sources", unsat.Sources),
			slog.String("reason", unsat.Reason),
			slog.Int("remaining", len(next)))
		active = next
	}
	return nil, nil
}

// retained collects the unit results of units that did not change in this
// run. Units that failed were cleared and have none.
func (a *Analyzer) retained(p *pass, changed map[string]*syntax.ParseUnit) map[string][]constraint.Constraint {
	out := make(map[string][]constraint.Constraint)
	if !a.includeUnchanged {
		return out
	}
	for _, key := range p.w.Keys() {
		if _, ok := changed[key]; ok {
			continue
		}
		u, _ := p.w.Lookup(key)
		if r := u.UnitResult(); r != nil {
			out[key] = r.Constraints
		}
	}
	return out
}

func (a *Analyzer) final(ctx context.Context, p *pass, resource string, units []string) (*constraint.FinalResult, error) {
	action := constraint.Action{Kind: constraint.ActionFinal, Resource: resource, Units: units}
	term, err := a.runner.Run(ctx, p.strategy, action, p.c)
	if err != nil {
		return nil, &PhaseExecutionError{Phase: constraint.ActionFinal, Resource: resource, Err: err}
	}
	return constraint.DecodeFinal(term)
}

// assemble records the outcome on its unit and converts it to an
// AnalyzedUnit.
func (a *Analyzer) assemble(p *pass, o *outcome, sol *constraint.Solution, final *constraint.FinalResult) AnalyzedUnit {
	if o.err != nil {
		msgs := []message.Message{message.AnalysisErrorAtTop(o.key, FailedText, o.err)}
		o.unit.Clear()
		o.unit.SetOutcome(false, msgs, o.duration)
		unitsAnalyzed.WithLabelValues("failed").Inc()
		return AnalyzedUnit{Source: o.key, Analyzed: true, Messages: msgs, Duration: o.duration}
	}

	part := sol.For(o.key)
	o.unit.SetSolution(part)
	o.unit.SetFinalResult(final)
	ast := o.unit.AST()
	msgs := unitMessages(o.key, part, ast)
	success := len(part.Errors) == 0
	o.unit.SetOutcome(success, msgs, o.duration)

	if success {
		unitsAnalyzed.WithLabelValues("success").Inc()
	} else {
		unitsAnalyzed.WithLabelValues("errors").Inc()
	}
	p.logger.Debug("unit analyzed",
		slog.String("unit", o.key),
		slog.Bool("success", success),
		slog.Int("messages", len(msgs)))
	return AnalyzedUnit{
		Source:   o.key,
		Analyzed: true,
		Success:  success,
		AST:      ast,
		Messages: msgs,
		Duration: o.duration,
	}
}

// refresh brings unchanged units up to date with this run. Dropped units
// are failed; the others take their part of the combined solution. Only
// units whose diagnostics changed are returned.
func (a *Analyzer) refresh(p *pass, retained map[string][]constraint.Constraint, dropped map[string]error, sol *constraint.Solution) []AnalyzedUnit {
	var out []AnalyzedUnit
	for _, key := range sortedKeys(dropped) {
		u, _ := p.w.Lookup(key)
		d := u.Duration()
		msgs := []message.Message{message.AnalysisErrorAtTop(key, FailedText, dropped[key])}
		u.Clear()
		u.SetOutcome(false, msgs, d)
		unitsAnalyzed.WithLabelValues("failed").Inc()
		p.logger.Warn("unchanged unit failed", slog.String("unit", key), slog.Any("error", dropped[key]))
		out = append(out, AnalyzedUnit{Source: key, Analyzed: true, Messages: msgs, Duration: d})
	}
	if sol != nil {
		for _, key := range sortedKeys(retained) {
			u, _ := p.w.Lookup(key)
			part := sol.For(key)
			ast := u.AST()
			msgs := unitMessages(key, part, ast)
			if sameMessages(msgs, u.Messages()) {
				continue
			}
			success := len(part.Errors) == 0
			u.SetSolution(part)
			u.SetOutcome(success, msgs, u.Duration())
			p.logger.Debug("unchanged unit refreshed",
				slog.String("unit", key),
				slog.Bool("success", success),
				slog.Int("messages", len(msgs)))
			out = append(out, AnalyzedUnit{
				Source:   key,
				Analyzed: true,
				Success:  success,
				AST:      ast,
				Messages: msgs,
				Duration: u.Duration(),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
