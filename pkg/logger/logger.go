// Package logger provides the leveled logging used across the runner.
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
)

// Level is a log severity level.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var currentLevel atomic.Int32

func init() {
	currentLevel.Store(int32(LevelInfo))
}

// SetLevel sets the minimum level that gets emitted.
func SetLevel(level Level) {
	currentLevel.Store(int32(level))
}

// SetLevelFromString sets the level from a configuration string. Unknown
// values fall back to info.
func SetLevelFromString(level string) {
	switch strings.ToLower(level) {
	case "debug":
		SetLevel(LevelDebug)
	case "info":
		SetLevel(LevelInfo)
	case "warn", "warning":
		SetLevel(LevelWarn)
	case "error":
		SetLevel(LevelError)
	default:
		SetLevel(LevelInfo)
	}
}

// IsDebugEnabled reports whether debug logging is active.
func IsDebugEnabled() bool {
	return Level(currentLevel.Load()) <= LevelDebug
}

// Debug logs a debug message.
func Debug(format string, args ...any) {
	logAt(LevelDebug, "DEBUG", format, args...)
}

// Info logs an informational message.
func Info(format string, args ...any) {
	logAt(LevelInfo, "INFO", format, args...)
}

// Warn logs a warning.
func Warn(format string, args ...any) {
	logAt(LevelWarn, "WARN", format, args...)
}

// Error logs an error.
func Error(format string, args ...any) {
	logAt(LevelError, "ERROR", format, args...)
}

func logAt(level Level, tag, format string, args ...any) {
	if Level(currentLevel.Load()) > level {
		return
	}
	fmt.Fprintf(os.Stderr, "["+tag+"] "+format+"\n", args...)
}
