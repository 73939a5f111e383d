package mailbox

import "errors"

var (
	// ErrNotConnected is returned when no directory session is active.
	ErrNotConnected = errors.New("not connected")

	// ErrNotFound is returned when the identity lookup fails.
	ErrNotFound = errors.New("mailbox not found")

	// ErrPreconditionFailed is returned for mailboxes that are not directory-synced.
	// No write is ever issued for them.
	ErrPreconditionFailed = errors.New("not directory-synced; change blocked")

	// ErrWriteFailed is returned when the remote write call errors.
	ErrWriteFailed = errors.New("write failed")
)

// Outcome classifies a SetManaged call that did not fail.
type Outcome int

const (
	// OutcomeChanged means the write was issued and the re-read confirms it.
	OutcomeChanged Outcome = iota
	// OutcomeNoChange means the mailbox was already at the requested value.
	OutcomeNoChange
	// OutcomeUnverified means the write succeeded but the re-read disagrees
	// (or could not be done).
	OutcomeUnverified
	// OutcomeWouldChange is reported in dry-run mode instead of writing.
	OutcomeWouldChange
)

func (o Outcome) String() string {
	switch o {
	case OutcomeChanged:
		return "Changed"
	case OutcomeNoChange:
		return "NoChange"
	case OutcomeUnverified:
		return "Unverified"
	case OutcomeWouldChange:
		return "WhatIf"
	default:
		return "Unknown"
	}
}

// ErrorOutcome names the audit outcome for a failed call.
func ErrorOutcome(err error) string {
	switch {
	case errors.Is(err, ErrNotConnected):
		return "NotConnected"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrPreconditionFailed):
		return "PreconditionFailed"
	case errors.Is(err, ErrWriteFailed):
		return "WriteFailed"
	default:
		return "Error"
	}
}
