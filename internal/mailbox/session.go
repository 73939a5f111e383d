package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"soatool/internal/common/logger"
)

// SessionOptions configures a Session.
type SessionOptions struct {
	Audit  AuditSink
	Logger *slog.Logger
	Actor  string
	DryRun bool
	Now    func() time.Time
}

// Session owns the directory handle and the cache snapshot for one connected
// run of the tool. It is driven by a single caller; the cache itself is safe
// for concurrent readers.
type Session struct {
	dir     Directory
	cache   *Cache
	applier *Applier
	logger  *slog.Logger
}

// NewSession creates a session over dir. A nil dir yields a session that
// fails every remote operation with ErrNotConnected.
func NewSession(dir Directory, opts SessionOptions) *Session {
	return &Session{
		dir:    dir,
		cache:  NewCache(),
		logger: opts.Logger,
		applier: &Applier{
			Dir:    dir,
			Audit:  opts.Audit,
			Logger: opts.Logger,
			Actor:  opts.Actor,
			DryRun: opts.DryRun,
			Now:    opts.Now,
		},
	}
}

// Connected reports whether the session has a directory handle.
func (s *Session) Connected() bool {
	return s.dir != nil
}

// Cache exposes the snapshot for read-only use by the presentation layer.
func (s *Session) Cache() *Cache {
	return s.cache
}

// Reload replaces the cache with a fresh bulk read. On error the previous
// snapshot is left untouched.
func (s *Session) Reload(ctx context.Context) (int, error) {
	if s.dir == nil {
		return 0, ErrNotConnected
	}
	start := time.Now()
	raws, err := s.dir.ListMailboxes(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load mailboxes: %w", err)
	}
	dropped := s.cache.Replace(NormalizeAll(raws))
	if dropped > 0 {
		logger.LogWarn(s.logger, "Dropped mailboxes with duplicate primary address", "count", dropped)
	}
	logger.LogInfo(s.logger, "Mailbox cache loaded", "rows", s.cache.Len(), "elapsed", time.Since(start).Round(time.Millisecond))
	return s.cache.Len(), nil
}

// Query filters the current snapshot. After Close it fails with
// ErrNotConnected rather than returning an empty view.
func (s *Session) Query(text string, filter StatusFilter) ([]MailboxRow, error) {
	if s.dir == nil {
		return nil, ErrNotConnected
	}
	return Query(s.cache.Rows(), text, filter), nil
}

// Lookup reads a single mailbox from the service without touching the cache.
func (s *Session) Lookup(ctx context.Context, identity string) (MailboxRow, error) {
	if s.dir == nil {
		return MailboxRow{}, ErrNotConnected
	}
	raw, err := s.dir.GetMailbox(ctx, identity)
	if err != nil {
		return MailboxRow{}, fmt.Errorf("%w: %s: %w", ErrNotFound, identity, err)
	}
	return Normalize(raw), nil
}

// SetManaged runs the applier and patches the cached row with the row read
// back from the service.
func (s *Session) SetManaged(ctx context.Context, identity string, target bool) (Result, error) {
	res, err := s.applier.SetManaged(ctx, identity, target)
	if res.Row != nil && s.cache.Patch(*res.Row) {
		logger.LogDebug(s.logger, "Cache row refreshed", "identity", identity, "status", res.Row.Status())
	}
	return res, err
}

// Close clears the cache and drops the directory handle.
func (s *Session) Close() {
	s.cache.Clear()
	s.dir = nil
	s.applier.Dir = nil
}
