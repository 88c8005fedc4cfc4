// Package logger provides leveled, component-tagged logging on top of the
// standard library's log package.
package logger

import (
	"log"
	"os"
	"strings"
)

// Level represents the logging level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a LOG_LEVEL string to a Level, defaulting to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

var defaultLevel = ParseLevel(os.Getenv("LOG_LEVEL"))

// SetDefaultLevel sets the level applied to loggers constructed after the
// call; main invokes it once the configuration has been loaded (the .env
// file may carry LOG_LEVEL where the process environment does not).
func SetDefaultLevel(level Level) { defaultLevel = level }

// Logger tags every line it writes with a component name, e.g. "registry"
// or "storage.sqlite", so multi-package log output stays attributable.
type Logger struct {
	component string
	level     Level
}

// New returns a Logger for component, level-gated by the default level
// current at the time of the call (see SetDefaultLevel).
func New(component string) *Logger {
	return &Logger{component: component, level: defaultLevel}
}

// SetLevel overrides the level for this logger only.
func (l *Logger) SetLevel(level Level) {
	l.level = level
}

func (l *Logger) logf(level Level, tag, format string, v ...interface{}) {
	if level < l.level {
		return
	}
	args := append([]interface{}{tag, l.component}, v...)
	log.Printf("[%s] (%s) "+format, args...)
}

// Debug logs a debug message (only shown when LOG_LEVEL=debug).
func (l *Logger) Debug(format string, v ...interface{}) { l.logf(LevelDebug, "DEBUG", format, v...) }

// Info logs an info message.
func (l *Logger) Info(format string, v ...interface{}) { l.logf(LevelInfo, "INFO", format, v...) }

// Warn logs a warning message.
func (l *Logger) Warn(format string, v ...interface{}) { l.logf(LevelWarn, "WARN", format, v...) }

// Error logs an error message.
func (l *Logger) Error(format string, v ...interface{}) { l.logf(LevelError, "ERROR", format, v...) }

// Fatal logs a fatal message and exits the program.
func (l *Logger) Fatal(format string, v ...interface{}) {
	log.Fatalf("[FATAL] (%s) "+format, append([]interface{}{l.component}, v...)...)
}

func init() {
	log.SetFlags(log.Ldate | log.Ltime)
}
