package main

// CLIResult is the top-level JSON envelope for all commands.
type CLIResult struct {
	Command string `json:"command"`
	Results any    `json:"results"`
	Error   string `json:"error,omitempty"`
}

// CLIMessage is a JSON-friendly diagnostic. Lines and columns are 1-based.
type CLIMessage struct {
	File      string `json:"file"`
	Severity  string `json:"severity"`
	Kind      string `json:"kind"`
	StartLine int    `json:"start_line,omitempty"`
	StartCol  int    `json:"start_col,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
	EndCol    int    `json:"end_col,omitempty"`
	Text      string `json:"text"`
}

// CLIFile is the outcome of one analyzed file.
type CLIFile struct {
	Path       string       `json:"path"`
	Language   string       `json:"language"`
	Success    bool         `json:"success"`
	DurationMS float64      `json:"duration_ms"`
	Refreshed  bool         `json:"refreshed,omitempty"`
	Messages   []CLIMessage `json:"messages"`
}

// CLIReport summarizes an analysis run.
type CLIReport struct {
	Files     []CLIFile `json:"files"`
	Unchanged int       `json:"unchanged"`
	Removed   []string  `json:"removed,omitempty"`
	Errors    int       `json:"errors"`
	Warnings  int       `json:"warnings"`
}

// CLIContext describes a persisted context.
type CLIContext struct {
	Root     string `json:"root"`
	Language string `json:"language"`
	Instance string `json:"instance"`
	Units    int    `json:"units"`
	Errors   int    `json:"errors"`
	SavedAt  string `json:"saved_at"`
	Hash     string `json:"hash"`
}
