// Package errors provides coded, actionable error messages for the lx
// command line tools.
//
// Each error carries a code (e.g., "E101") registered with a category, a
// short message and a longer explanation, plus an optional hint:
//
//	err := errors.New("E101").
//	    WithDetail("log.level must be one of debug, info, warn, error").
//	    WithSuggestion(`Set "log.level: info" in lx.yaml`)
//
//	fmt.Print(err.Format())
//	// ERROR E101: Invalid configuration
//	//
//	//   log.level must be one of debug, info, warn, error
//	//
//	//   Hint: Set "log.level: info" in lx.yaml
//
// # Error Codes
//
//   - E1xx: configuration
//   - E2xx: command line usage
//   - E3xx: devtools server and client
package errors
