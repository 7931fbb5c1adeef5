// Package applog is a thin wrapper around the standard logger, matching
// the teacher's habit of gated fmt.Fprintf(os.Stderr, ...) diagnostics
// rather than a structured logging framework.
package applog

import (
	"fmt"
	"log"
	"os"
)

// Logger writes verbose diagnostics to stderr when enabled.
type Logger struct {
	verbose bool
	std     *log.Logger
}

func New(verbose bool) *Logger {
	return &Logger{
		verbose: verbose,
		std:     log.New(os.Stderr, "", log.LstdFlags),
	}
}

// Verbosef logs only when the logger was constructed with verbose=true.
func (l *Logger) Verbosef(format string, args ...interface{}) {
	if l == nil || !l.verbose {
		return
	}
	l.std.Printf(format, args...)
}

// Errorf always logs, regardless of verbosity.
func (l *Logger) Errorf(format string, args ...interface{}) {
	if l == nil {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
		return
	}
	l.std.Printf(format, args...)
}
