package logger

import (
	"encoding/csv"
	"fmt"
	"os"
	"time"
)

// CSVLogger writes action rows to a CSV file with periodic buffering.
type CSVLogger struct {
	writer     *csv.Writer
	file       *os.File
	path       string
	toolName   string    // Tool name for filename (e.g., "soatool")
	action     string    // Action being performed
	rowCount   int       // Number of rows written since open
	lastFlush  time.Time // Time of last flush
	flushEvery int       // Flush every N rows
}

// NewCSVLogger opens (or creates) the CSV log for toolName and action.
// Filename pattern: {dir}/_{toolName}_{action}_{date}.csv
//
// Examples:
//   - _soatool_set_2026-01-09.csv
//   - _soatool_list_2026-01-09.csv
func NewCSVLogger(dir, toolName, action string) (*CSVLogger, error) {
	filePath := logFilePath(dir, toolName, action, "csv")

	file, err := openAppend(filePath)
	if err != nil {
		return nil, fmt.Errorf("could not create CSV log file: %w", err)
	}

	return &CSVLogger{
		writer:     csv.NewWriter(file),
		file:       file,
		path:       filePath,
		toolName:   toolName,
		action:     action,
		lastFlush:  time.Now(),
		flushEvery: 10, // Flush every 10 rows or on close
	}, nil
}

// Path returns the file the logger appends to.
func (l *CSVLogger) Path() string {
	return l.path
}

// WriteHeader writes a CSV header with the provided column names.
// The timestamp column is automatically prepended to the header.
func (l *CSVLogger) WriteHeader(columns []string) error {
	header := append([]string{"Timestamp"}, columns...)
	if err := l.writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	l.writer.Flush()
	return l.writer.Error()
}

// WriteRow writes a row to the CSV file with periodic buffering.
// Rows are flushed every N rows or every 5 seconds.
func (l *CSVLogger) WriteRow(row []string) error {
	if l.writer == nil {
		return fmt.Errorf("CSV writer is not initialized")
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	fullRow := append([]string{timestamp}, row...)

	if err := l.writer.Write(fullRow); err != nil {
		return fmt.Errorf("failed to write CSV row: %w", err)
	}

	l.rowCount++

	if l.rowCount%l.flushEvery == 0 || time.Since(l.lastFlush) > 5*time.Second {
		l.writer.Flush()
		l.lastFlush = time.Now()
		if err := l.writer.Error(); err != nil {
			return fmt.Errorf("failed to flush CSV: %w", err)
		}
	}

	return nil
}

// Flush forces buffered rows to disk.
func (l *CSVLogger) Flush() error {
	l.writer.Flush()
	l.lastFlush = time.Now()
	return l.writer.Error()
}

// Close flushes buffered rows and closes the file.
func (l *CSVLogger) Close() error {
	if l.writer != nil {
		l.writer.Flush()
		if err := l.writer.Error(); err != nil {
			return fmt.Errorf("error flushing CSV on close: %w", err)
		}
	}
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// ShouldWriteHeader reports whether the file is empty and needs a header.
func (l *CSVLogger) ShouldWriteHeader() (bool, error) {
	fileInfo, err := os.Stat(l.path)
	if err != nil {
		return false, fmt.Errorf("could not stat CSV file: %w", err)
	}
	return fileInfo.Size() == 0, nil
}
