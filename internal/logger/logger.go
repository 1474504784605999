// Package logger provides the leveled logging helpers used across captiond.
package logger

import (
	"log"
	"strings"
	"sync/atomic"
)

// Level controls which messages are emitted. Messages below the current
// level are dropped.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var currentLevel atomic.Int32

// SetLevel sets the minimum level that will be logged.
func SetLevel(l Level) {
	currentLevel.Store(int32(l))
}

// ParseLevel maps a config string onto a Level. Unknown values fall back to
// info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func enabled(l Level) bool {
	return int32(l) >= currentLevel.Load()
}

// Info logs informational messages
func Info(format string, args ...interface{}) {
	if enabled(LevelInfo) {
		log.Printf("INFO: "+format, args...)
	}
}

// Warn logs warning messages
func Warn(format string, args ...interface{}) {
	if enabled(LevelWarn) {
		log.Printf("WARN: "+format, args...)
	}
}

// Error logs error messages
func Error(format string, args ...interface{}) {
	if enabled(LevelError) {
		log.Printf("ERROR: "+format, args...)
	}
}

// Debug logs debug messages
func Debug(format string, args ...interface{}) {
	if enabled(LevelDebug) {
		log.Printf("DEBUG: "+format, args...)
	}
}
