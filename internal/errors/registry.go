package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Configuration Errors (E100-E199)
	// ============================================

	"E100": {
		Category: CategoryConfig,
		Message:  "Failed to read configuration",
		Detail:   "The configuration file exists but could not be read or parsed.",
	},
	"E101": {
		Category: CategoryConfig,
		Message:  "Invalid configuration",
		Detail:   "A configuration value is out of range or malformed.",
	},
	"E102": {
		Category: CategoryConfig,
		Message:  "Configuration file not found",
		Detail:   "No lx.yaml, lx.yml or lx.json was found in the directory or its parents.",
	},
	"E103": {
		Category: CategoryConfig,
		Message:  "Failed to write configuration",
		Detail:   "The configuration could not be encoded or written to disk.",
	},
	"E104": {
		Category: CategoryConfig,
		Message:  "Configuration file already exists",
		Detail:   "lx init does not overwrite an existing configuration file.",
	},

	// ============================================
	// Command Line Errors (E200-E299)
	// ============================================

	"E200": {
		Category: CategoryCLI,
		Message:  "Invalid argument",
		Detail:   "A command argument or flag has an unsupported value.",
	},
	"E201": {
		Category: CategoryCLI,
		Message:  "Unknown benchmark scenario",
		Detail:   "The bench command only runs the scenarios it lists with --list.",
	},

	// ============================================
	// Devtools Errors (E300-E399)
	// ============================================

	"E300": {
		Category: CategoryDevtools,
		Message:  "Devtools server unreachable",
		Detail:   "The nodes command could not connect to the devtools server.",
	},
	"E301": {
		Category: CategoryDevtools,
		Message:  "Node not found",
		Detail:   "No live node with that id is known to the devtools registry.",
	},
	"E302": {
		Category: CategoryDevtools,
		Message:  "Unexpected devtools response",
		Detail:   "The devtools server answered with a status or body the client does not understand.",
	},
	"E303": {
		Category: CategoryDevtools,
		Message:  "Invalid node id",
		Detail:   "Node ids are positive decimal integers.",
	},
}

// Lookup returns the template registered for code.
func Lookup(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
