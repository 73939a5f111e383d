package mailbox

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// StatusFilter narrows a query to one state of authority.
type StatusFilter int

const (
	FilterAll StatusFilter = iota
	FilterOnline
	FilterOnPrem
)

func (f StatusFilter) String() string {
	switch f {
	case FilterOnline:
		return "online"
	case FilterOnPrem:
		return "onprem"
	default:
		return "all"
	}
}

// ParseStatusFilter accepts all, online and onprem (case-insensitive).
// An empty string means all.
func ParseStatusFilter(s string) (StatusFilter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return FilterAll, nil
	case "online", "cloud":
		return FilterOnline, nil
	case "onprem", "on-prem", "onpremises":
		return FilterOnPrem, nil
	default:
		return FilterAll, fmt.Errorf("invalid status filter: %s (valid: all, online, onprem)", s)
	}
}

func (f StatusFilter) match(row MailboxRow) bool {
	switch f {
	case FilterOnline:
		return row.Status() == StatusOnline
	case FilterOnPrem:
		return row.Status() == StatusOnPrem
	default:
		return true
	}
}

// Query filters rows by status first and then by a case-insensitive substring
// match on display name or primary address. Input order is kept. An empty text
// with FilterAll returns every row.
func Query(rows []MailboxRow, text string, filter StatusFilter) []MailboxRow {
	// A Caser keeps state between calls and must not be shared across goroutines.
	fold := cases.Fold()
	needle := fold.String(text)
	out := make([]MailboxRow, 0, len(rows))
	for _, row := range rows {
		if !filter.match(row) {
			continue
		}
		if needle != "" &&
			!strings.Contains(fold.String(row.DisplayName), needle) &&
			!strings.Contains(fold.String(row.PrimaryAddress), needle) {
			continue
		}
		out = append(out, row)
	}
	return out
}

// foldCase applies Unicode case folding to a single value, such as a cache key.
func foldCase(s string) string {
	if s == "" {
		return s
	}
	return cases.Fold().String(s)
}
