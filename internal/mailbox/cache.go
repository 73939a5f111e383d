package mailbox

import (
	"sync"
	"time"
)

// Cache holds the snapshot of rows from the last bulk read. A reload swaps the
// whole snapshot under the write lock, so readers never see a partial load.
type Cache struct {
	mu       sync.RWMutex
	rows     []MailboxRow
	index    map[string]int
	loadedAt time.Time
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{index: make(map[string]int)}
}

// Replace discards the current snapshot and installs rows in their given order.
// Rows repeating an already seen primary address are dropped; the number of
// dropped rows is returned.
func (c *Cache) Replace(rows []MailboxRow) int {
	snapshot := make([]MailboxRow, 0, len(rows))
	index := make(map[string]int, len(rows))
	dropped := 0
	for _, row := range rows {
		key := row.Key()
		if _, seen := index[key]; seen {
			dropped++
			continue
		}
		index[key] = len(snapshot)
		snapshot = append(snapshot, copyRow(row))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = snapshot
	c.index = index
	c.loadedAt = time.Now()
	return dropped
}

// Patch replaces the row with the same primary address in place.
// Returns false if the address is not part of the snapshot.
func (c *Cache) Patch(row MailboxRow) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.index[row.Key()]
	if !ok {
		return false
	}
	c.rows[i] = copyRow(row)
	return true
}

// Get returns the cached row for a primary address.
func (c *Cache) Get(address string) (MailboxRow, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.index[addressKey(address)]
	if !ok {
		return MailboxRow{}, false
	}
	return copyRow(c.rows[i]), true
}

// Rows returns a copy of the snapshot in load order.
func (c *Cache) Rows() []MailboxRow {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]MailboxRow, len(c.rows))
	for i, row := range c.rows {
		out[i] = copyRow(row)
	}
	return out
}

// Len returns the number of cached rows.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rows)
}

// Loaded reports whether a bulk read has been installed since the last Clear.
func (c *Cache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.loadedAt.IsZero()
}

// LoadedAt returns when the current snapshot was installed.
func (c *Cache) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}

// Clear drops the snapshot.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = nil
	c.index = make(map[string]int)
	c.loadedAt = time.Time{}
}

func copyRow(row MailboxRow) MailboxRow {
	row.IsDirectorySynced = copyBool(row.IsDirectorySynced)
	row.IsCloudManaged = copyBool(row.IsCloudManaged)
	return row
}
