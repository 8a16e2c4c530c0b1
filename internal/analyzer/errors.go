package analyzer

import (
	"fmt"

	"github.com/jward/workbench/internal/constraint"
	"github.com/jward/workbench/internal/scopegraph"
)

// PhaseExecutionError reports that the phase runner failed to execute an
// action.
type PhaseExecutionError struct {
	Phase    constraint.ActionKind
	Resource string
	Err      error
}

func (e *PhaseExecutionError) Error() string {
	return fmt.Sprintf("analyzer: %s phase for %s: %v", e.Phase, e.Resource, e.Err)
}

func (e *PhaseExecutionError) Unwrap() error {
	return e.Err
}

// AnalysisError is a run-level failure: the initial phase, the solver or
// the final phase failed and the run produced no results.
type AnalysisError struct {
	Context scopegraph.ID
	Phase   string
	Err     error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analyzer: analysis of %s failed in %s: %v", e.Context, e.Phase, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}
