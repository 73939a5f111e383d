package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// SetupLogger configures the structured logger for the CLI on stderr.
// Valid levels are: DEBUG, INFO, WARN, ERROR.
// If verboseMode is true, it overrides logLevel to DEBUG.
func SetupLogger(verboseMode bool, logLevel string) *slog.Logger {
	return NewTextLogger(os.Stderr, verboseMode, logLevel)
}

// NewTextLogger builds a text-handler logger writing to w.
func NewTextLogger(w io.Writer, verboseMode bool, logLevel string) *slog.Logger {
	level := ParseLogLevel(logLevel)
	if verboseMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// ParseLogLevel converts a string log level to slog.Level.
// Defaults to INFO if an invalid level is provided.
func ParseLogLevel(levelStr string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogDebug logs a debug message if logger is not nil
func LogDebug(logger *slog.Logger, msg string, args ...any) {
	if logger != nil {
		logger.Debug(msg, args...)
	}
}

// LogInfo logs an informational message
func LogInfo(logger *slog.Logger, msg string, args ...any) {
	if logger != nil {
		logger.Info(msg, args...)
	}
}

// LogWarn logs a warning message
func LogWarn(logger *slog.Logger, msg string, args ...any) {
	if logger != nil {
		logger.Warn(msg, args...)
	}
}

// LogError logs an error message
func LogError(logger *slog.Logger, msg string, args ...any) {
	if logger != nil {
		logger.Error(msg, args...)
	}
}

// LogVerbose writes "[VERBOSE]" diagnostics to stderr, bypassing the
// structured logger.
func LogVerbose(verbose bool, format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] "+format+"\n", args...)
	}
}
