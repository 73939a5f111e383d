package main

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"soatool/internal/common/logger"
	"soatool/internal/mailbox"
)

var auditColumns = []string{"Actor", "Started", "Identity", "Before", "After", "Expected", "Outcome", "Message"}

// auditLog appends one row per set attempt to the "set" action log. Rows are
// flushed immediately; the file is never truncated or rotated.
type auditLog struct {
	mu  sync.Mutex
	log logger.Logger
}

func newAuditLog(l logger.Logger) (*auditLog, error) {
	if err := logger.EnsureHeader(l, auditColumns); err != nil {
		return nil, fmt.Errorf("could not write audit log header: %w", err)
	}
	return &auditLog{log: l}, nil
}

// Append implements mailbox.AuditSink.
func (a *auditLog) Append(e mailbox.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	row := []string{
		e.Actor,
		e.Timestamp.Format(time.RFC3339),
		e.Identity,
		mailbox.FormatFlag(e.Before),
		mailbox.FormatFlag(e.After),
		strconv.FormatBool(e.Expected),
		e.Outcome,
		e.Message,
	}
	if err := a.log.WriteRow(row); err != nil {
		return err
	}
	return a.log.Flush()
}

// Path returns the audit file location.
func (a *auditLog) Path() string {
	return a.log.Path()
}

// actionLog records one row per non-mutating action.
type actionLog struct {
	log logger.Logger
}

func newActionLog(l logger.Logger, columns []string) *actionLog {
	if l == nil {
		return &actionLog{}
	}
	if err := logger.EnsureHeader(l, columns); err != nil {
		return &actionLog{}
	}
	return &actionLog{log: l}
}

// Write appends a row; failures only cost the log line.
func (a *actionLog) Write(values ...string) {
	if a == nil || a.log == nil {
		return
	}
	_ = a.log.WriteRow(values)
}
