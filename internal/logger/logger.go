// Package logger builds the root zerolog logger that every component
// derives its own from.
package logger

import (
	"os"

	"github.com/rs/zerolog"
)

// New returns the process-wide logger: one JSON line per event on stdout,
// tagged with the service name. Components narrow it further with a
// "component" field.
func New(serviceName string) zerolog.Logger {
	return zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}
