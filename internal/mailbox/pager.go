package mailbox

// DefaultPageSize is used whenever a caller supplies a non-positive size.
const DefaultPageSize = 50

// TotalPages returns ceil(n/size), or 0 for an empty view or invalid size.
func TotalPages(n, size int) int {
	if n <= 0 || size <= 0 {
		return 0
	}
	return (n + size - 1) / size
}

// Page returns the rows of view on page index. Out-of-range indexes and
// non-positive sizes yield an empty page; clamping is the caller's job.
func Page(view []MailboxRow, index, size int) []MailboxRow {
	if size <= 0 || index < 0 {
		return []MailboxRow{}
	}
	start := index * size
	if start >= len(view) {
		return []MailboxRow{}
	}
	end := start + size
	if end > len(view) {
		end = len(view)
	}
	return view[start:end]
}

// ClampIndex keeps index within [0, totalPages-1], or 0 when there are no pages.
func ClampIndex(index, totalPages int) int {
	if totalPages <= 0 || index < 0 {
		return 0
	}
	if index >= totalPages {
		return totalPages - 1
	}
	return index
}

// Pager tracks the current page over a filtered view. Page counts are
// recomputed on every call so a new view or size is always reflected.
type Pager struct {
	view  []MailboxRow
	size  int
	index int
}

// NewPager creates a pager with the given page size (clamped to the default).
func NewPager(size int) *Pager {
	p := &Pager{}
	p.SetSize(size)
	return p
}

// SetView installs a new filtered view and clamps the current index.
func (p *Pager) SetView(view []MailboxRow) {
	p.view = view
	p.index = ClampIndex(p.index, p.TotalPages())
}

// SetSize changes the page size; non-positive sizes fall back to DefaultPageSize.
func (p *Pager) SetSize(size int) {
	if size <= 0 {
		size = DefaultPageSize
	}
	p.size = size
	p.index = ClampIndex(p.index, p.TotalPages())
}

// SetIndex moves to page index, clamped to the available pages.
func (p *Pager) SetIndex(index int) {
	p.index = ClampIndex(index, p.TotalPages())
}

// Next advances one page if possible.
func (p *Pager) Next() { p.SetIndex(p.index + 1) }

// Prev goes back one page if possible.
func (p *Pager) Prev() { p.SetIndex(p.index - 1) }

func (p *Pager) Index() int      { return p.index }
func (p *Pager) Size() int       { return p.size }
func (p *Pager) ViewLen() int    { return len(p.view) }
func (p *Pager) TotalPages() int { return TotalPages(len(p.view), p.size) }

// Current returns the rows of the current page.
func (p *Pager) Current() []MailboxRow {
	return Page(p.view, p.index, p.size)
}
