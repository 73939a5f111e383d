package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"soatool/internal/common/logger"
)

// Directory is the mailbox service the core reads from and writes to.
// Errors are opaque to the core; it never interprets or retries them.
type Directory interface {
	ListMailboxes(ctx context.Context) ([]RawRecord, error)
	GetMailbox(ctx context.Context, identity string) (RawRecord, error)
	SetCloudManaged(ctx context.Context, identity string, managed bool) error
}

// AuditEntry is one before/after line of the mutation audit trail.
type AuditEntry struct {
	Actor     string
	Timestamp time.Time
	Identity  string
	Before    *bool
	After     *bool
	Expected  bool
	Outcome   string
	Message   string
}

// AuditSink receives one entry per SetManaged call. It is append-only.
type AuditSink interface {
	Append(entry AuditEntry) error
}

// Result describes a SetManaged call that did not fail.
type Result struct {
	Identity string
	Outcome  Outcome
	Before   *bool
	After    *bool
	Expected bool
	// Row is the last row read from the service, nil if the re-read failed.
	Row     *MailboxRow
	Message string
}

// Applier runs the guarded read-modify-verify cycle against a Directory.
type Applier struct {
	Dir    Directory
	Audit  AuditSink
	Logger *slog.Logger
	Actor  string
	// DryRun stops before the write and reports OutcomeWouldChange.
	DryRun bool
	// Now defaults to time.Now.
	Now func() time.Time
}

// SetManaged sets the cloud-managed flag of identity to target. Each call is
// terminal: failures are returned, never retried, and always audited.
func (a *Applier) SetManaged(ctx context.Context, identity string, target bool) (Result, error) {
	entry := AuditEntry{
		Actor:     a.Actor,
		Timestamp: a.now(),
		Identity:  identity,
		Expected:  target,
	}

	res, err := a.apply(ctx, identity, target)
	entry.Before = res.Before
	entry.After = res.After
	if err != nil {
		entry.Outcome = ErrorOutcome(err)
		entry.Message = err.Error()
	} else {
		entry.Outcome = res.Outcome.String()
		entry.Message = res.Message
	}
	a.audit(entry)

	return res, err
}

func (a *Applier) apply(ctx context.Context, identity string, target bool) (Result, error) {
	res := Result{Identity: identity, Expected: target}
	if a.Dir == nil {
		return res, ErrNotConnected
	}

	raw, err := a.Dir.GetMailbox(ctx, identity)
	if err != nil {
		return res, fmt.Errorf("%w: %s: %w", ErrNotFound, identity, err)
	}
	before := Normalize(raw)
	res.Before = copyBool(before.IsCloudManaged)
	res.Row = &before

	if before.IsDirectorySynced == nil || !*before.IsDirectorySynced {
		res.After = copyBool(before.IsCloudManaged)
		return res, fmt.Errorf("%w: %s", ErrPreconditionFailed, identity)
	}

	if before.IsCloudManaged != nil && *before.IsCloudManaged == target {
		res.Outcome = OutcomeNoChange
		res.After = copyBool(before.IsCloudManaged)
		res.Message = fmt.Sprintf("%s already has cloud-managed=%t; no change made", identity, target)
		return res, nil
	}

	if a.DryRun {
		res.Outcome = OutcomeWouldChange
		res.After = copyBool(before.IsCloudManaged)
		res.Message = fmt.Sprintf("what if: would set cloud-managed on %s from %s to %t",
			identity, FormatFlag(before.IsCloudManaged), target)
		return res, nil
	}

	logger.LogDebug(a.Logger, "Writing cloud-managed flag", "identity", identity, "target", target)
	if err := a.Dir.SetCloudManaged(ctx, identity, target); err != nil {
		res.After = copyBool(before.IsCloudManaged)
		return res, fmt.Errorf("%w: %s: %w", ErrWriteFailed, identity, err)
	}

	raw, err = a.Dir.GetMailbox(ctx, identity)
	if err != nil {
		res.Row = nil
		res.Outcome = OutcomeUnverified
		res.Message = fmt.Sprintf("write accepted for %s but verification read failed: %v", identity, err)
		logger.LogWarn(a.Logger, "Verification read failed", "identity", identity, "error", err)
		return res, nil
	}
	after := Normalize(raw)
	res.Row = &after
	res.After = copyBool(after.IsCloudManaged)

	if after.IsCloudManaged == nil || *after.IsCloudManaged != target {
		res.Outcome = OutcomeUnverified
		res.Message = fmt.Sprintf("write accepted for %s but service reports cloud-managed=%s (expected %t); the change may still be replicating",
			identity, FormatFlag(after.IsCloudManaged), target)
		logger.LogWarn(a.Logger, "Cloud-managed flag not yet reflected", "identity", identity,
			"expected", target, "actual", FormatFlag(after.IsCloudManaged))
		return res, nil
	}

	res.Outcome = OutcomeChanged
	res.Message = fmt.Sprintf("cloud-managed on %s changed from %s to %t",
		identity, FormatFlag(before.IsCloudManaged), target)
	return res, nil
}

func (a *Applier) audit(entry AuditEntry) {
	if a.Audit == nil {
		return
	}
	if err := a.Audit.Append(entry); err != nil {
		logger.LogWarn(a.Logger, "Could not append audit entry", "identity", entry.Identity, "error", err)
	}
}

func (a *Applier) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}
