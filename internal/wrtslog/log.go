// Package wrtslog centralizes the module's zerolog default: every
// constructor option that accepts a *zerolog.Logger falls back to
// Default() so library code never needs a nil check and stays silent unless
// a caller wires a sink in, mirroring xg2g's logger injection.
package wrtslog

import "github.com/rs/zerolog"

// Default returns a no-op logger, used whenever a component's
// Options.Logger is left unset.
func Default() zerolog.Logger {
	return zerolog.Nop()
}

// Or returns *logger if logger is non-nil, otherwise Default().
func Or(logger *zerolog.Logger) zerolog.Logger {
	if logger == nil {
		return Default()
	}
	return *logger
}
