package logger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// JSONLogger writes action rows as JSON Lines, one object per row keyed by the
// header columns plus a "timestamp" field.
type JSONLogger struct {
	buf        *bufio.Writer
	file       *os.File
	path       string
	columns    []string
	rowCount   int
	lastFlush  time.Time
	flushEvery int
}

// NewJSONLogger opens (or creates) {dir}/_{toolName}_{action}_{date}.jsonl.
func NewJSONLogger(dir, toolName, action string) (*JSONLogger, error) {
	filePath := logFilePath(dir, toolName, action, "jsonl")

	file, err := openAppend(filePath)
	if err != nil {
		return nil, fmt.Errorf("could not create JSON log file: %w", err)
	}

	return &JSONLogger{
		buf:        bufio.NewWriter(file),
		file:       file,
		path:       filePath,
		lastFlush:  time.Now(),
		flushEvery: 10,
	}, nil
}

// Path returns the file the logger appends to.
func (l *JSONLogger) Path() string {
	return l.path
}

// WriteHeader records the column names used as keys. Nothing is written to
// the file since every JSON line carries its own keys.
func (l *JSONLogger) WriteHeader(columns []string) error {
	l.columns = make([]string, len(columns))
	copy(l.columns, columns)
	return nil
}

// WriteRow writes one JSON object. WriteHeader must have been called and the
// row must have one value per column.
func (l *JSONLogger) WriteRow(row []string) error {
	if l.columns == nil {
		return fmt.Errorf("JSON logger: WriteHeader must be called before WriteRow")
	}
	if len(row) != len(l.columns) {
		return fmt.Errorf("JSON logger: row has %d values, header has %d columns", len(row), len(l.columns))
	}

	obj := make(map[string]string, len(row)+1)
	obj["timestamp"] = time.Now().Format(time.RFC3339)
	for i, col := range l.columns {
		obj[col] = row[i]
	}

	line, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to encode JSON row: %w", err)
	}
	if _, err := l.buf.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write JSON row: %w", err)
	}

	l.rowCount++
	if l.rowCount%l.flushEvery == 0 || time.Since(l.lastFlush) > 5*time.Second {
		l.lastFlush = time.Now()
		if err := l.buf.Flush(); err != nil {
			return fmt.Errorf("failed to flush JSON log: %w", err)
		}
	}
	return nil
}

// Flush forces buffered rows to disk.
func (l *JSONLogger) Flush() error {
	l.lastFlush = time.Now()
	return l.buf.Flush()
}

// Close flushes buffered rows and closes the file.
func (l *JSONLogger) Close() error {
	if l.file == nil {
		return nil
	}
	if err := l.buf.Flush(); err != nil {
		return fmt.Errorf("error flushing JSON log on close: %w", err)
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ShouldWriteHeader reports whether WriteHeader still has to be called on this
// logger. Unlike CSV, every JSON logger instance needs its columns, even when
// appending to a file that already has rows.
func (l *JSONLogger) ShouldWriteHeader() (bool, error) {
	return l.columns == nil, nil
}
