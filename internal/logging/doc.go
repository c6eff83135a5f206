// Package logging constructs the slog loggers used across sdstored and
// provides attribute helpers so call sites stay terse.
package logging
