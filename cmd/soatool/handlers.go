package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/jedib0t/go-pretty/v6/table"

	"soatool/internal/common/logger"
	"soatool/internal/exchange"
	"soatool/internal/mailbox"
	"soatool/internal/stdout"
)

const exchangeRole = "Exchange.ManageAsApp"

// app is everything an action needs once the tool is connected.
type app struct {
	config  *Config
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer
	ind     *stdout.Indicator
	session *mailbox.Session
	tenant  *tenantInfo
	org     string
	roles   []string // Exchange token roles, filled for connect
	audit   *auditLog
	actions *actionLog
	closers []func() error
}

// newApp authenticates, discovers the tenant and opens the Exchange session
// and log files for config.Action.
func newApp(ctx context.Context, config *Config, slogger *slog.Logger, in io.Reader, out, errOut io.Writer) (*app, error) {
	a := &app{
		config: config,
		logger: slogger,
		in:     in,
		out:    out,
		ind:    stdout.New(config.Quiet || config.OutputFormat == "json", errOut),
	}

	logger.LogDebug(slogger, "Setting up credentials", "tenantID", maskGUID(config.TenantID), "clientID", maskGUID(config.ClientID))
	cred, err := getCredential(config, slogger)
	if err != nil {
		return nil, fmt.Errorf("authentication setup failed: %w", err)
	}

	if config.VerboseMode {
		if err := printTokenInfo(ctx, errOut, cred, graphScope); err != nil {
			logger.LogVerbose(true, "Warning: %v", err)
		}
	}

	a.tenant, err = discoverTenant(config, slogger, func() (*tenantInfo, error) {
		var info *tenantInfo
		err := a.ind.Track("Reading tenant information", func() error {
			graph, err := newGraphClient(cred)
			if err != nil {
				return err
			}
			info, err = fetchTenantInfo(ctx, graph, config, slogger)
			return err
		})
		return info, err
	})
	if err != nil {
		return nil, err
	}

	a.org, err = anchorOrganization(config, a.tenant)
	if err != nil {
		return nil, err
	}

	client, err := exchange.NewClient(cred, exchange.ClientOptions{
		TenantID:     config.TenantID,
		Organization: a.org,
		Endpoint:     config.Endpoint,
		RateLimit:    config.RateLimit,
		MaxRetries:   config.MaxRetries,
		RetryDelay:   config.RetryDelay,
		Logger:       slogger,
	})
	if err != nil {
		return nil, err
	}

	if config.Action == ActionConnect || config.VerboseMode {
		a.roles = exchangeRoles(ctx, cred, slogger)
		if config.VerboseMode {
			if err := printTokenInfo(ctx, errOut, cred, exchange.Scope); err != nil {
				logger.LogVerbose(true, "Warning: %v", err)
			}
		}
	}

	opts := mailbox.SessionOptions{
		Logger: slogger,
		Actor:  resolveActor(config),
		DryRun: config.WhatIf,
	}
	if config.Action == ActionSet || config.Action == ActionShell {
		audit, err := a.openAudit()
		if err != nil {
			return nil, err
		}
		opts.Audit = audit
	}
	a.openActionLog()

	a.session = mailbox.NewSession(client, opts)
	logger.LogInfo(slogger, "Connected", "tenant", a.tenant.name(), "organization", a.org)
	return a, nil
}

// openAudit opens the set log. Mutations are refused without it.
func (a *app) openAudit() (*auditLog, error) {
	format, _ := logger.ParseLogFormat(a.config.LogFormat)
	l, err := logger.NewLogger(format, a.config.LogDir, "soatool", ActionSet)
	if err != nil {
		return nil, fmt.Errorf("could not open audit log: %w", err)
	}
	a.closers = append(a.closers, l.Close)
	audit, err := newAuditLog(l)
	if err != nil {
		return nil, err
	}
	a.audit = audit
	logger.LogDebug(a.logger, "Audit log opened", "path", l.Path())
	return audit, nil
}

// openActionLog opens the per-action log for actions that do not mutate.
// Failure to open it only costs the log.
func (a *app) openActionLog() {
	columns, ok := actionColumns[a.config.Action]
	if !ok {
		return
	}
	format, _ := logger.ParseLogFormat(a.config.LogFormat)
	l, err := logger.NewLogger(format, a.config.LogDir, "soatool", a.config.Action)
	if err != nil {
		logger.LogWarn(a.logger, "Could not initialize action log", "error", err)
		return
	}
	a.closers = append(a.closers, l.Close)
	a.actions = newActionLog(l, columns)
}

var actionColumns = map[string][]string{
	ActionConnect: {"Action", "Status", "Tenant", "Organization", "DirSync", "ExchangeRole"},
	ActionList:    {"Action", "Status", "Search", "Filter", "Page", "Shown", "Matching", "Total"},
	ActionGet:     {"Action", "Status", "Identity", "Synced", "CloudManaged", "State"},
	ActionExport:  {"Action", "Status", "Path", "Rows"},
}

func (a *app) close() {
	if a.session != nil {
		a.session.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.LogWarn(a.logger, "Error closing log", "error", err)
		}
	}
}

// executeAction dispatches to the handler for config.Action.
func executeAction(ctx context.Context, a *app) error {
	switch a.config.Action {
	case ActionConnect:
		return a.runConnect()
	case ActionList:
		return a.runList(ctx)
	case ActionGet:
		return a.runGet(ctx, a.config.Identity)
	case ActionSet:
		target, err := a.config.TargetState()
		if err != nil {
			return err
		}
		return a.runSet(ctx, a.config.Identity, target)
	case ActionExport:
		_, err := a.runExport(ctx, a.config.Search, a.config.Status)
		return err
	case ActionShell:
		return a.runShell(ctx, a.in)
	default:
		return fmt.Errorf("unknown action: %s", a.config.Action)
	}
}

func (a *app) runConnect() error {
	if a.tenant == nil {
		return mailbox.ErrNotConnected
	}
	hasRole := (&TokenClaims{Roles: a.roles}).hasRole(exchangeRole)
	a.actions.Write(ActionConnect, "SUCCESS", a.tenant.DisplayName, a.org,
		mailbox.FormatFlag(a.tenant.DirSyncEnabled), strconv.FormatBool(hasRole))

	if a.config.OutputFormat == "json" {
		return printJSON(a.out, struct {
			Tenant       *tenantInfo `json:"tenant"`
			Organization string      `json:"organization"`
			Roles        []string    `json:"exchangeRoles"`
		}{a.tenant, a.org, a.roles})
	}

	t := table.NewWriter()
	t.SetOutputMirror(a.out)
	t.Style().Options.DrawBorder = false
	t.Style().Options.SeparateColumns = false
	t.SetTitle("Connected")
	t.AppendRows([]table.Row{
		{"Tenant", a.tenant.DisplayName},
		{"Tenant ID", a.tenant.ID},
		{"Anchor Organization", a.org},
		{"Default Domain", ifEmpty(a.tenant.DefaultDomain, "-")},
		{"Verified Domains", len(a.tenant.VerifiedDomains)},
		{"Directory Sync", mailbox.FormatFlag(a.tenant.DirSyncEnabled)},
		{"Exchange Roles", formatRoles(a.roles)},
	})
	if a.tenant.LastDirSync != nil {
		t.AppendRow(table.Row{"Last Directory Sync", a.tenant.LastDirSync.Local().Format("2006-01-02 15:04:05")})
	}
	t.Render()
	if !hasRole {
		fmt.Fprintf(a.out, "Warning: the Exchange token has no %s role; list and set will be rejected.\n", exchangeRole)
	}
	return nil
}

// exchangeRoles returns the roles of an Exchange token, nil if none could
// be read.
func exchangeRoles(ctx context.Context, cred azcore.TokenCredential, slogger *slog.Logger) []string {
	token, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{exchange.Scope}})
	if err != nil {
		logger.LogWarn(slogger, "Could not acquire Exchange token", "error", err)
		return nil
	}
	claims, err := parseTokenClaims(token.Token)
	if err != nil {
		logger.LogWarn(slogger, "Could not read Exchange token claims", "error", err)
		return nil
	}
	return claims.Roles
}

// reload refreshes the cache with the indicator running.
func (a *app) reload(ctx context.Context) error {
	return a.ind.Track("Loading mailboxes", func() error {
		n, err := a.session.Reload(ctx)
		if err != nil {
			return enrichAPIError(err, a.logger, "mailbox list")
		}
		a.ind.Update(fmt.Sprintf("Loaded %d mailboxes", n))
		return nil
	})
}

func (a *app) runList(ctx context.Context) error {
	filter, err := a.config.StatusFilter()
	if err != nil {
		return err
	}
	if err := a.reload(ctx); err != nil {
		a.actions.Write(ActionList, "FAILURE", a.config.Search, filter.String(), "", "", "", "")
		return err
	}

	rows, err := a.session.Query(a.config.Search, filter)
	if err != nil {
		return err
	}
	pager := mailbox.NewPager(a.config.PageSize)
	pager.SetView(rows)
	pager.SetIndex(a.config.Page - 1)
	if pager.Index() != a.config.Page-1 {
		logger.LogInfo(a.logger, "Requested page out of range; showing nearest page", "requested", a.config.Page, "shown", pager.Index()+1)
	}
	view := newPageView(pager, a.config.Search, filter, a.session.Cache())

	a.actions.Write(ActionList, "SUCCESS", a.config.Search, filter.String(),
		strconv.Itoa(view.Page), strconv.Itoa(len(view.Rows)), strconv.Itoa(view.Matching), strconv.Itoa(view.Total))

	if a.config.OutputFormat == "json" {
		return printJSON(a.out, view)
	}
	renderPage(a.out, view)
	return nil
}

func (a *app) runGet(ctx context.Context, identity string) error {
	var row mailbox.MailboxRow
	err := a.ind.Track("Reading "+identity, func() error {
		var err error
		row, err = a.session.Lookup(ctx, identity)
		return err
	})
	if err != nil {
		a.actions.Write(ActionGet, "FAILURE", maskIdentity(identity), "", "", "")
		return enrichAPIError(err, a.logger, "mailbox lookup")
	}

	a.actions.Write(ActionGet, "SUCCESS", maskIdentity(identity),
		mailbox.FormatFlag(row.IsDirectorySynced), mailbox.FormatFlag(row.IsCloudManaged), row.Status().String())

	if a.config.OutputFormat == "json" {
		return printJSON(a.out, rowView{MailboxRow: row, Status: row.Status()})
	}
	renderRow(a.out, row.PrimaryAddress, row)
	return nil
}

func (a *app) runSet(ctx context.Context, identity string, target bool) error {
	var res mailbox.Result
	var setErr error
	_ = a.ind.Track(fmt.Sprintf("Setting cloud-managed=%t on %s", target, identity), func() error {
		res, setErr = a.session.SetManaged(ctx, identity, target)
		return setErr
	})

	view := newResultView(res, setErr)
	if a.config.OutputFormat == "json" {
		if err := printJSON(a.out, view); err != nil {
			return err
		}
	} else {
		renderResult(a.out, view)
		if a.audit != nil {
			fmt.Fprintf(a.out, "Audit: %s\n", a.audit.Path())
		}
	}
	return explainSetError(setErr, a.logger)
}

// explainSetError turns core errors into operator guidance.
func explainSetError(err error, slogger *slog.Logger) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mailbox.ErrPreconditionFailed):
		return fmt.Errorf("%w: only directory-synced mailboxes have a state of authority to change", err)
	case errors.Is(err, mailbox.ErrNotFound):
		return fmt.Errorf("%w: check the address, or run -action list to search", err)
	case errors.Is(err, mailbox.ErrWriteFailed):
		return enrichAPIError(err, slogger, "Set-Mailbox")
	default:
		return err
	}
}
