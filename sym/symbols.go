// Package sym defines canonical glyphs for Signet subsystems and CLI markers.
// These symbols are stable across CLI output, logs, and documentation.
package sym

// Subsystem glyphs — prefixed on CLI command help and status lines.
const (
	Daemon  = "◉" // the always-on host process
	DB      = "⊔" // database/storage layer
	Memory  = "◈" // memory store, recall, session context
	Distill = "⧖" // long-cycle synthesis passes
	Export  = "⤒" // portable agent state out
	Import  = "⤓" // portable agent state in
	Hook    = "↯" // harness lifecycle hooks
)

// Infrastructure glyphs — markers with no command of their own.
const (
	Eye    = "⊙" // perception/capture layer
	Refine = "⥁" // capture→memory refinement cycle
)

// Commands is the canonical ordering for help text and documentation.
var Commands = []string{"daemon", "db", "memory", "distill", "export", "import", "hook"}

// SymbolToCommand maps glyph strings to their CLI command equivalents.
var SymbolToCommand = map[string]string{
	Daemon:  "daemon",
	DB:      "db",
	Memory:  "memory",
	Distill: "distill",
	Export:  "export",
	Import:  "import",
	Hook:    "hook",
}

// CommandToSymbol maps CLI commands to their canonical glyph strings.
var CommandToSymbol = map[string]string{
	"daemon":  Daemon,
	"db":      DB,
	"memory":  Memory,
	"distill": Distill,
	"export":  Export,
	"import":  Import,
	"hook":    Hook,
}

// CommandDescriptions provides human-readable explanations for help output.
var CommandDescriptions = map[string]string{
	"daemon":  "Daemon — the ambient capture and memory host",
	"db":      "Database — migrations, statistics, embedding maintenance",
	"memory":  "Memory — remember, recall, audit, prune",
	"distill": "Distill — cognitive profile, expertise graph, agent card",
	"export":  "Export — portable agent state out",
	"import":  "Import — portable agent state in",
	"hook":    "Hook — harness lifecycle integration points",
}
