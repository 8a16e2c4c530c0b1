package contexts

import (
	"errors"
	"fmt"
)

// ErrMissingContextFacet is the panic value raised when a context is
// requested for a language that declares no context facet. Callers check
// Available first.
var ErrMissingContextFacet = errors.New("contexts: language has no context facet")

// ContextError reports that no context could be obtained or persisted for
// a resource.
type ContextError struct {
	Resource string
	Language string
	Op       string
	Err      error
}

func (e *ContextError) Error() string {
	return fmt.Sprintf("contexts: %s %s (%s): %v", e.Op, e.Resource, e.Language, e.Err)
}

func (e *ContextError) Unwrap() error {
	return e.Err
}
