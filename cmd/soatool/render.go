package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"soatool/internal/mailbox"
)

// pageView is one rendered page of the filtered cache.
type pageView struct {
	Search     string               `json:"search,omitempty"`
	Filter     string               `json:"filter"`
	Page       int                  `json:"page"` // 1-based
	TotalPages int                  `json:"totalPages"`
	PageSize   int                  `json:"pageSize"`
	Matching   int                  `json:"matching"`
	Total      int                  `json:"total"`
	LoadedAt   time.Time            `json:"loadedAt"`
	Rows       []rowView            `json:"rows"`
}

// rowView is the JSON shape of a single mailbox with its derived status.
type rowView struct {
	mailbox.MailboxRow
	Status mailbox.Status `json:"status"`
}

// newPageView captures the pager's current page.
func newPageView(p *mailbox.Pager, search string, filter mailbox.StatusFilter, cache *mailbox.Cache) pageView {
	return pageView{
		Search:     search,
		Filter:     filter.String(),
		Page:       p.Index() + 1,
		TotalPages: p.TotalPages(),
		PageSize:   p.Size(),
		Matching:   p.ViewLen(),
		Total:      cache.Len(),
		LoadedAt:   cache.LoadedAt(),
		Rows:       toRowViews(p.Current()),
	}
}

func toRowViews(rows []mailbox.MailboxRow) []rowView {
	views := make([]rowView, len(rows))
	for i, r := range rows {
		views[i] = rowView{MailboxRow: r, Status: r.Status()}
	}
	return views
}

// renderPage writes a page as a table with a position footer.
func renderPage(w io.Writer, v pageView) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.Style().Options.DrawBorder = false
	t.Style().Options.SeparateColumns = false

	t.AppendHeader(table.Row{"#", "Display Name", "Primary Address", "Synced", "Cloud Managed", "Status"})
	first := (v.Page - 1) * v.PageSize
	for i, r := range v.Rows {
		t.AppendRow(table.Row{
			first + i + 1,
			r.DisplayName,
			r.PrimaryAddress,
			mailbox.FormatFlag(r.IsDirectorySynced),
			mailbox.FormatFlag(r.IsCloudManaged),
			colorStatus(r.Status),
		})
	}

	pages := v.TotalPages
	if pages == 0 {
		pages = 1
	}
	t.AppendFooter(table.Row{
		"",
		text.Bold.Sprintf("page %d/%d", v.Page, pages),
		text.Bold.Sprintf("%d shown, %d matching, %d total", len(v.Rows), v.Matching, v.Total),
		"", "", "",
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 4, Align: text.AlignCenter, AlignHeader: text.AlignCenter},
		{Number: 5, Align: text.AlignCenter, AlignHeader: text.AlignCenter},
		{Number: 6, Align: text.AlignCenter, AlignHeader: text.AlignCenter},
	})
	t.Render()

	if len(v.Rows) == 0 {
		fmt.Fprintln(w, "No mailboxes match the current search and filter.")
	}
}

// renderRow writes one mailbox as a two-column table.
func renderRow(w io.Writer, title string, r mailbox.MailboxRow) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.Style().Options.DrawBorder = false
	t.Style().Options.SeparateColumns = false
	t.SetTitle(title)
	t.AppendRows([]table.Row{
		{"Display Name", r.DisplayName},
		{"Primary Address", r.PrimaryAddress},
		{"User Principal Name", ifEmpty(r.UserPrincipalName, "-")},
		{"Recipient Type", ifEmpty(r.RecipientType, "-")},
		{"Directory Synced", mailbox.FormatFlag(r.IsDirectorySynced)},
		{"Cloud Managed", mailbox.FormatFlag(r.IsCloudManaged)},
		{"Status", colorStatus(r.Status())},
	})
	t.Render()
}

// resultView is the JSON shape of a set outcome.
type resultView struct {
	Identity string   `json:"identity"`
	Outcome  string   `json:"outcome"`
	Before   string   `json:"before"`
	After    string   `json:"after"`
	Expected bool     `json:"expected"`
	Message  string   `json:"message"`
	Row      *rowView `json:"row,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func newResultView(res mailbox.Result, err error) resultView {
	v := resultView{
		Identity: res.Identity,
		Outcome:  res.Outcome.String(),
		Before:   mailbox.FormatFlag(res.Before),
		After:    mailbox.FormatFlag(res.After),
		Expected: res.Expected,
		Message:  res.Message,
	}
	if res.Row != nil {
		v.Row = &rowView{MailboxRow: *res.Row, Status: res.Row.Status()}
	}
	if err != nil {
		v.Outcome = mailbox.ErrorOutcome(err)
		v.Message = err.Error()
		v.Error = err.Error()
	}
	return v
}

// renderResult writes the outcome of a set call.
func renderResult(w io.Writer, v resultView) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.Style().Options.DrawBorder = false
	t.Style().Options.SeparateColumns = false
	t.SetTitle("Set cloud-managed: " + v.Identity)
	t.AppendRows([]table.Row{
		{"Outcome", colorOutcome(v.Outcome)},
		{"Before", v.Before},
		{"Expected", v.Expected},
		{"After", v.After},
	})
	t.Render()
	fmt.Fprintln(w, v.Message)
}

func colorStatus(s mailbox.Status) string {
	switch s {
	case mailbox.StatusOnline:
		return text.FgGreen.Sprint(s.String())
	case mailbox.StatusOnPrem:
		return text.FgYellow.Sprint(s.String())
	default:
		return text.FgHiBlack.Sprint(s.String())
	}
}

func colorOutcome(outcome string) string {
	switch outcome {
	case mailbox.OutcomeChanged.String(), mailbox.OutcomeNoChange.String():
		return text.FgGreen.Sprint(outcome)
	case mailbox.OutcomeUnverified.String(), mailbox.OutcomeWouldChange.String():
		return text.FgYellow.Sprint(outcome)
	default:
		return text.FgRed.Sprint(outcome)
	}
}
