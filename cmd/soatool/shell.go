package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"soatool/internal/common/logger"
	"soatool/internal/mailbox"
)

const shellHelp = `Commands:
  reload                    reload all mailboxes from Exchange Online
  find [text]               search display name and primary address (empty clears)
  status all|online|onprem  filter by state of authority
  page N | next | prev      move between pages
  size N                    set rows per page (1-1000)
  get <identity>            read one mailbox from the service
  set <identity> true|false set IsExchangeCloudManaged
  export                    write the current view to a JSON file
  help                      show this text
  quit | exit               leave the shell
`

// errQuit ends the shell loop without an error.
var errQuit = errors.New("quit")

// shell is the state of an interactive session: one cache, one view.
type shell struct {
	app    *app
	search string
	filter mailbox.StatusFilter
	pager  *mailbox.Pager
}

// runShell reads commands from in until EOF, quit or context cancellation.
// Command errors are printed and the loop continues.
func (a *app) runShell(ctx context.Context, in io.Reader) error {
	filter, err := a.config.StatusFilter()
	if err != nil {
		return err
	}
	sh := &shell{
		app:    a,
		search: a.config.Search,
		filter: filter,
		pager:  mailbox.NewPager(a.config.PageSize),
	}

	if err := a.reload(ctx); err != nil {
		return err
	}
	if err := sh.requery(); err != nil {
		return err
	}
	sh.pager.SetIndex(a.config.Page - 1)
	sh.show()

	done := make(chan struct{})
	defer close(done)
	lines, scanErr := scanLines(in, done)

	for {
		fmt.Fprint(a.out, "soatool> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(a.out)
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(a.out)
				return <-scanErr
			}
			if err := sh.exec(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				fmt.Fprintf(a.out, "Error: %v\n", err)
			}
		}
	}
}

// scanLines feeds lines from in until EOF or until done is closed. The error
// channel receives exactly once, before lines is closed. A reader blocked in
// Read is only released by its next line or EOF.
func scanLines(in io.Reader, done <-chan struct{}) (<-chan string, <-chan error) {
	lines := make(chan string)
	finished := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				finished <- nil
				return
			}
		}
		finished <- scanner.Err()
	}()
	return lines, finished
}

// exec runs a single command line.
func (sh *shell) exec(ctx context.Context, line string) error {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)
	a := sh.app

	switch strings.ToLower(cmd) {
	case "":
		return nil
	case "help", "?":
		fmt.Fprint(a.out, shellHelp)
	case "quit", "exit":
		return errQuit
	case "reload":
		if err := a.reload(ctx); err != nil {
			return err
		}
		if err := sh.requery(); err != nil {
			return err
		}
		sh.show()
	case "find":
		sh.search = rest
		if err := sh.requery(); err != nil {
			return err
		}
		sh.show()
	case "status":
		filter, err := mailbox.ParseStatusFilter(rest)
		if err != nil {
			return err
		}
		sh.filter = filter
		if err := sh.requery(); err != nil {
			return err
		}
		sh.show()
	case "page":
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 {
			return fmt.Errorf("page must be a positive number (got %q)", rest)
		}
		sh.pager.SetIndex(n - 1)
		sh.show()
	case "next", "n":
		sh.pager.Next()
		sh.show()
	case "prev", "p":
		sh.pager.Prev()
		sh.show()
	case "size":
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 || n > maxPageSize {
			return fmt.Errorf("size must be between 1 and %d (got %q)", maxPageSize, rest)
		}
		sh.pager.SetSize(n)
		sh.show()
	case "get":
		if rest == "" {
			return errors.New("usage: get <identity>")
		}
		return a.runGet(ctx, rest)
	case "set":
		identity, value, _ := strings.Cut(rest, " ")
		target, err := strconv.ParseBool(strings.TrimSpace(value))
		if identity == "" || err != nil {
			return errors.New("usage: set <identity> true|false")
		}
		setErr := a.runSet(ctx, identity, target)
		// The cached row may have been patched.
		index := sh.pager.Index()
		if err := sh.requery(); err != nil {
			return err
		}
		sh.pager.SetIndex(index)
		return setErr
	case "export":
		_, err := a.runExport(ctx, sh.search, sh.filter.String())
		return err
	default:
		return fmt.Errorf("unknown command %q (type help)", cmd)
	}
	return nil
}

// requery rebuilds the view from the cache and returns to the first page.
func (sh *shell) requery() error {
	rows, err := sh.app.session.Query(sh.search, sh.filter)
	if err != nil {
		return err
	}
	sh.pager.SetView(rows)
	sh.pager.SetIndex(0)
	logger.LogDebug(sh.app.logger, "View updated", "search", sh.search, "filter", sh.filter.String(), "matching", sh.pager.ViewLen())
	return nil
}

func (sh *shell) show() {
	view := newPageView(sh.pager, sh.search, sh.filter, sh.app.session.Cache())
	if sh.app.config.OutputFormat == "json" {
		if err := printJSON(sh.app.out, view); err != nil {
			logger.LogWarn(sh.app.logger, "Could not render page", "error", err)
		}
		return
	}
	renderPage(sh.app.out, view)
}
