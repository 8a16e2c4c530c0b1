package analyzer

import (
	"github.com/jward/workbench/internal/constraint"
	"github.com/jward/workbench/internal/message"
	"github.com/jward/workbench/internal/syntax"
)

// FailedText is the top-level message of a unit whose analysis failed.
const FailedText = "File analysis failed."

// AmbiguityText is the message reported at each ambiguous fragment.
const AmbiguityText = "Fragment is ambiguous"

// Messages converts solver records into diagnostics for source. Records
// without a region are reported at the top of the source.
func Messages(source string, records []constraint.Record, sev message.Severity) []message.Message {
	msgs := make([]message.Message, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, message.Message{
			Source:   source,
			Severity: sev,
			Kind:     message.Analysis,
			Region:   r.Region,
			Text:     r.Text,
		})
	}
	return msgs
}

// Ambiguities reports a warning at every outermost ambiguity node of ast.
func Ambiguities(source string, ast *syntax.Node) []message.Message {
	var msgs []message.Message
	ast.Walk(func(n *syntax.Node) bool {
		if n.Kind != syntax.AmbiguityKind {
			return true
		}
		region := n.Region
		msgs = append(msgs, message.NewAnalysisWarning(source, &region, AmbiguityText))
		return false
	})
	return msgs
}

// unitMessages assembles the diagnostics of one solved unit in the order
// errors, warnings, notes, ambiguities.
func unitMessages(source string, sol *constraint.Solution, ast *syntax.Node) []message.Message {
	var msgs []message.Message
	msgs = append(msgs, Messages(source, sol.Errors, message.Error)...)
	msgs = append(msgs, Messages(source, sol.Warnings, message.Warning)...)
	msgs = append(msgs, Messages(source, sol.Notes, message.Note)...)
	msgs = append(msgs, Ambiguities(source, ast)...)
	return msgs
}

// sameMessages compares diagnostics by what they report, ignoring causes.
func sameMessages(a, b []message.Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.Source != y.Source || x.Severity != y.Severity || x.Kind != y.Kind || x.Text != y.Text {
			return false
		}
		if (x.Region == nil) != (y.Region == nil) || (x.Region != nil && *x.Region != *y.Region) {
			return false
		}
	}
	return true
}
