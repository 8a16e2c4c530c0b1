package store

import (
	"errors"
	"time"

	"github.com/jward/workbench/internal/scopegraph"
)

// ErrNotFound is returned when no snapshot is stored for a context.
var ErrNotFound = errors.New("store: context not found")

// ContextInfo summarizes one persisted context.
type ContextInfo struct {
	ID         scopegraph.ID
	InstanceID string
	Hash       string
	Units      int
	Errors     int
	SavedAt    time.Time
}
