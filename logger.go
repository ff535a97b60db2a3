package edgeguard

import (
	"os"

	"github.com/oarkflow/log"
)

// defaultLogger is the package fallback used by components that were not
// handed an explicit logger.
var defaultLogger = &log.Logger{
	Level:     log.InfoLevel,
	TimeField: "ts",
	Writer:    &log.IOWriter{Writer: os.Stderr},
}

// NewConsoleLogger returns a human-readable logger suited for the demo binary
// and local development.
func NewConsoleLogger(debug bool) *log.Logger {
	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}
	return &log.Logger{
		Level:     level,
		TimeField: "ts",
		Writer: &log.ConsoleWriter{
			ColorOutput:    true,
			EndWithMessage: true,
		},
	}
}

func orDefaultLogger(l *log.Logger) *log.Logger {
	if l == nil {
		return defaultLogger
	}
	return l
}
