package workbench

import (
	"github.com/jward/workbench/internal/message"
	"github.com/jward/workbench/internal/store"
)

// Public aliases for internal types returned by the Workbench API.

type Message = message.Message
type Severity = message.Severity
type Region = message.Region
type ContextInfo = store.ContextInfo

// Severities.
const (
	Error   = message.Error
	Warning = message.Warning
	Note    = message.Note
)
