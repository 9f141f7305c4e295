// Package logging provides the level-based stderr logger used by every
// mapreduce component for ambient trace-level output. High-cardinality
// metrics and spans go through internal/mapreduce/telemetry instead.
package logging

import (
	"io"
	"log"
	"os"
)

// Logger provides level-based logging functionality.
type Logger struct {
	debugEnabled bool
	infoLogger   *log.Logger
	debugLogger  *log.Logger
}

// New creates a Logger writing to stderr, so stdout stays free for any
// structured output a caller redirects (e.g. a CLI driver's own JSON).
func New(debugMode bool) *Logger {
	var output io.Writer = os.Stderr
	return &Logger{
		debugEnabled: debugMode,
		infoLogger:   log.New(output, "", log.LstdFlags),
		debugLogger:  log.New(output, "", log.LstdFlags),
	}
}

// Noop returns a Logger that discards everything. Useful as a default
// for components constructed without an explicit logger.
func Noop() *Logger {
	return &Logger{
		infoLogger:  log.New(io.Discard, "", 0),
		debugLogger: log.New(io.Discard, "", 0),
	}
}

func (l *Logger) Info(format string, args ...interface{}) {
	if l != nil {
		l.infoLogger.Printf(format, args...)
	}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l != nil && l.debugEnabled {
		l.debugLogger.Printf("DEBUG: "+format, args...)
	}
}

func (l *Logger) Error(format string, args ...interface{}) {
	if l != nil {
		l.infoLogger.Printf("ERROR: "+format, args...)
	}
}

func (l *Logger) IsDebugEnabled() bool {
	return l != nil && l.debugEnabled
}
