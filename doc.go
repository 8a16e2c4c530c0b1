// Package workbench provides incremental, scope-aware analysis of source
// projects built on tree-sitter and Risor strategy scripts.
//
// # Pipeline
//
// Each analyzed file becomes a unit of an analysis context. A context is
// owned per (project root, language) pair and holds the semantic state of
// every unit of that language in the project. An analysis pass over the
// changed units of a context runs four phases:
//
//  1. Initial: the strategy declares global constraints and solver
//     configuration once per pass.
//  2. Unit: each changed unit's syntax tree is turned into constraints,
//     optionally in parallel.
//  3. Solve: the constraints of all units are solved together; solver
//     records become diagnostics of the unit they belong to.
//  4. Final: the strategy summarizes the pass.
//
// A unit whose phase fails is reported with a single error and excluded
// from the solve; the other units of the pass are unaffected.
//
// # Usage
//
//	wb, err := workbench.New(ctx, "path/to/project")
//	if err != nil { ... }
//	defer wb.Close()
//
//	report, err := wb.AnalyzeDirectory(ctx, "path/to/project")
//	for _, m := range report.Messages() {
//		fmt.Println(m)
//	}
//
// # Incremental analysis
//
// [Workbench.AnalyzeFiles] skips files whose content hash matches their
// analyzed unit. Unchanged units keep their last results; with
// include_unchanged set (the default) their constraints join each solve so
// references into them keep resolving. [Workbench.Watch] drives the same
// path from file system events.
//
// # Persistence
//
// Contexts are saved to the configured store (SQLite or Badger) when they
// are unloaded and restored on first use, as long as the strategy scripts
// are unchanged since they were saved.
//
// # Scripts
//
// Strategies are Risor scripts named <strategy>.risor. The embedded
// library in package scripts provides the default "scopes" strategy; a
// language may point at its own scripts directory in workbench.toml.
package workbench
