package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/jward/workbench"
	"github.com/jward/workbench/internal/message"
)

var (
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	noteColor    = color.New(color.FgCyan)
	pathColor    = color.New(color.Bold)
)

func severityColor(sev message.Severity) *color.Color {
	switch sev {
	case message.Error:
		return errorColor
	case message.Warning:
		return warningColor
	}
	return noteColor
}

// toCLIMessage converts m, shifting its 0-based region to 1-based lines and
// columns. file is the path shown for the message's source.
func toCLIMessage(file string, m message.Message) CLIMessage {
	out := CLIMessage{
		File:     file,
		Severity: strings.ToLower(m.Severity.String()),
		Kind:     m.Kind.String(),
		Text:     m.Text,
	}
	if r := m.Region; r != nil {
		out.StartLine, out.StartCol = r.StartLine+1, r.StartCol+1
		out.EndLine, out.EndCol = r.EndLine+1, r.EndCol+1
	}
	return out
}

// toCLIReport converts report, showing paths relative to base.
func toCLIReport(report *workbench.Report, base string) CLIReport {
	out := CLIReport{Files: []CLIFile{}, Unchanged: report.Unchanged}
	for _, f := range report.Files {
		file := CLIFile{
			Path:       displayPath(base, f.Path),
			Language:   f.Language,
			Success:    f.Success,
			DurationMS: float64(f.Duration) / float64(time.Millisecond),
			Refreshed:  f.Refreshed,
			Messages:   []CLIMessage{},
		}
		for _, m := range f.Messages {
			file.Messages = append(file.Messages, toCLIMessage(file.Path, m))
		}
		out.Errors += message.Count(f.Messages, message.Error)
		out.Warnings += message.Count(f.Messages, message.Warning)
		out.Files = append(out.Files, file)
	}
	for _, p := range report.Removed {
		out.Removed = append(out.Removed, displayPath(base, p))
	}
	return out
}

// displayPath returns path relative to base when it lies below it.
func displayPath(base, path string) string {
	if base == "" {
		return path
	}
	rel, err := filepath.Rel(base, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

// formatMessagesText writes one "file:line:col: severity: text" line per
// message of the report.
func formatMessagesText(w io.Writer, report CLIReport) {
	for _, f := range report.Files {
		for _, m := range f.Messages {
			loc := f.Path
			if m.StartLine > 0 {
				loc = fmt.Sprintf("%s:%d:%d", f.Path, m.StartLine, m.StartCol)
			}
			sev, _ := message.ParseSeverity(m.Severity)
			fmt.Fprintf(w, "%s: %s: %s\n", pathColor.Sprint(loc), severityColor(sev).Sprint(m.Severity), m.Text)
		}
	}
}

// formatSummaryText writes the closing summary line of a run.
func formatSummaryText(w io.Writer, report CLIReport) {
	refreshed := 0
	for _, f := range report.Files {
		if f.Refreshed {
			refreshed++
		}
	}
	summary := fmt.Sprintf("%d file(s) analyzed, %d unchanged", len(report.Files)-refreshed, report.Unchanged)
	if refreshed > 0 {
		summary += fmt.Sprintf(", %d refreshed", refreshed)
	}
	if len(report.Removed) > 0 {
		summary += fmt.Sprintf(", %d removed", len(report.Removed))
	}
	summary += fmt.Sprintf(": %s, %s",
		plural(report.Errors, "error"), plural(report.Warnings, "warning"))
	fmt.Fprintln(w, summary)
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

// formatContextsText formats CLIContext results as aligned columns.
func formatContextsText(w io.Writer, ctxs []CLIContext) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ROOT\tLANGUAGE\tUNITS\tERRORS\tSAVED")
	for _, c := range ctxs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", c.Root, c.Language, c.Units, c.Errors, c.SavedAt)
	}
	tw.Flush()
}

// outputResult writes result in the selected format.
func outputResult(w io.Writer, result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(w, result)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type.
func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case CLIReport:
		formatMessagesText(w, v)
		formatSummaryText(w, v)
	case []CLIContext:
		formatContextsText(w, v)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to w as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(w, stderr io.Writer, command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(stderr, "Error: %s\n", err)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(CLIResult{Command: command, Error: err.Error()})
	return err
}

// validFormats lists accepted values for --format.
var validFormats = []string{"text", "json"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
