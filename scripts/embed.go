// Package scripts holds the strategy scripts bundled with workbench.
package scripts

import "embed"

// FS contains the default strategy library. Strategies are looked up as
// <name>.risor at its root; kinds.risor is shared by them through import.
//
//go:embed *.risor
var FS embed.FS

// Default is the strategy used when none is configured.
const Default = "scopes"
