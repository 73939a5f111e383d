package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Logger is an append-only action log. Every row gets a timestamp prepended.
type Logger interface {
	WriteHeader(columns []string) error
	WriteRow(row []string) error
	ShouldWriteHeader() (bool, error)
	// Flush forces buffered rows to disk.
	Flush() error
	Path() string
	Close() error
}

// LogFormat selects the on-disk format of an action log.
type LogFormat string

const (
	LogFormatCSV  LogFormat = "csv"
	LogFormatJSON LogFormat = "json"
)

// ParseLogFormat converts a flag value into a LogFormat.
func ParseLogFormat(s string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return LogFormatCSV, nil
	case "json", "jsonl":
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported log format: %s (valid: csv, json)", s)
	}
}

// NewLogger opens the action log for toolName/action in the given format.
// An empty dir means the system temp directory.
func NewLogger(format LogFormat, dir, toolName, action string) (Logger, error) {
	switch format {
	case LogFormatJSON:
		return NewJSONLogger(dir, toolName, action)
	case LogFormatCSV, "":
		return NewCSVLogger(dir, toolName, action)
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

// logFilePath builds {dir}/_{toolName}_{action}_{date}.{ext}.
func logFilePath(dir, toolName, action, ext string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	dateStr := time.Now().Format("2006-01-02")
	return filepath.Join(dir, fmt.Sprintf("_%s_%s_%s.%s", toolName, action, dateStr, ext))
}

// openAppend opens path for appending, creating it if needed. Existing
// content is never truncated.
func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("could not create log directory: %w", err)
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

// EnsureHeader writes the header when the logger still needs one.
func EnsureHeader(l Logger, columns []string) error {
	shouldWrite, err := l.ShouldWriteHeader()
	if err != nil {
		return err
	}
	if !shouldWrite {
		return nil
	}
	return l.WriteHeader(columns)
}
