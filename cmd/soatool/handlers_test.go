//go:build !integration
// +build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"soatool/internal/mailbox"
	"soatool/internal/stdout"
)

// fakeDirectory is an in-memory mailbox.Directory keyed by lower-cased
// primary address.
type fakeDirectory struct {
	records map[string]mailbox.RawRecord
	order   []string
	listErr error
	setErr  error
	writes  int
}

func boolPtr(b bool) *bool { return &b }

func newFakeDirectory() *fakeDirectory {
	d := &fakeDirectory{records: make(map[string]mailbox.RawRecord)}
	d.add("Alice Smith", "alice@contoso.com", true, boolPtr(false))
	d.add("Bob Smith", "bob@contoso.com", true, boolPtr(true))
	d.add("Carol Cloud", "carol@contoso.com", false, boolPtr(true))
	d.add("Dave Jones", "dave@contoso.com", true, boolPtr(false))
	d.add("Erin Unknown", "erin@contoso.com", true, nil)
	return d
}

func (d *fakeDirectory) add(name, address string, synced bool, managed *bool) {
	key := strings.ToLower(address)
	d.records[key] = mailbox.RawRecord{
		DisplayName:            name,
		PrimarySmtpAddress:     address,
		IsDirSynced:            boolPtr(synced),
		IsExchangeCloudManaged: managed,
	}
	d.order = append(d.order, key)
}

func (d *fakeDirectory) ListMailboxes(ctx context.Context) ([]mailbox.RawRecord, error) {
	if d.listErr != nil {
		return nil, d.listErr
	}
	out := make([]mailbox.RawRecord, 0, len(d.order))
	for _, key := range d.order {
		out = append(out, d.records[key])
	}
	return out, nil
}

func (d *fakeDirectory) GetMailbox(ctx context.Context, identity string) (mailbox.RawRecord, error) {
	r, ok := d.records[strings.ToLower(identity)]
	if !ok {
		return mailbox.RawRecord{}, errors.New("The operation couldn't be performed because object '" + identity + "' couldn't be found")
	}
	return r, nil
}

func (d *fakeDirectory) SetCloudManaged(ctx context.Context, identity string, managed bool) error {
	d.writes++
	if d.setErr != nil {
		return d.setErr
	}
	key := strings.ToLower(identity)
	r := d.records[key]
	r.IsExchangeCloudManaged = boolPtr(managed)
	d.records[key] = r
	return nil
}

// newTestApp builds a connected app over dir without touching the network.
func newTestApp(t *testing.T, dir mailbox.Directory, modify func(c *Config)) (*app, *bytes.Buffer) {
	t.Helper()

	config := validConfig()
	config.Quiet = true
	config.Actor = "tester"
	config.LogDir = t.TempDir()
	config.ExportDir = t.TempDir()
	if modify != nil {
		modify(config)
	}

	out := &bytes.Buffer{}
	a := &app{
		config: config,
		out:    out,
		ind:    stdout.New(true, io.Discard),
		org:    "contoso.onmicrosoft.com",
		tenant: &tenantInfo{ID: testTenantID, DisplayName: "Contoso", InitialDomain: "contoso.onmicrosoft.com"},
	}

	opts := mailbox.SessionOptions{Actor: resolveActor(config), DryRun: config.WhatIf}
	if config.Action == ActionSet || config.Action == ActionShell {
		audit, err := a.openAudit()
		if err != nil {
			t.Fatalf("openAudit() error: %v", err)
		}
		opts.Audit = audit
	}
	a.openActionLog()
	a.session = mailbox.NewSession(dir, opts)
	t.Cleanup(a.close)
	return a, out
}

type jsonRow struct {
	DisplayName    string `json:"displayName"`
	PrimaryAddress string `json:"primaryAddress"`
	IsCloudManaged *bool  `json:"isCloudManaged"`
	Status         string `json:"status"`
}

type jsonPage struct {
	Filter     string    `json:"filter"`
	Page       int       `json:"page"`
	TotalPages int       `json:"totalPages"`
	Matching   int       `json:"matching"`
	Total      int       `json:"total"`
	Rows       []jsonRow `json:"rows"`
}

func TestRunList_JSON(t *testing.T) {
	tests := []struct {
		name         string
		search       string
		status       string
		page         int
		pageSize     int
		wantPage     int
		wantPages    int
		wantMatching int
		wantFirst    string
	}{
		{"all rows", "", "all", 1, 50, 1, 1, 5, "alice@contoso.com"},
		{"second page", "", "all", 2, 2, 2, 3, 5, "carol@contoso.com"},
		{"page past end clamps", "", "all", 9, 2, 3, 3, 5, "erin@contoso.com"},
		{"onprem filter", "", "onprem", 1, 50, 1, 1, 2, "alice@contoso.com"},
		{"online with search", "SMITH", "online", 1, 50, 1, 1, 1, "bob@contoso.com"},
		{"no match", "nobody", "all", 1, 50, 1, 0, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, out := newTestApp(t, newFakeDirectory(), func(c *Config) {
				c.OutputFormat = "json"
				c.Search, c.Status, c.Page, c.PageSize = tt.search, tt.status, tt.page, tt.pageSize
			})
			if err := a.runList(context.Background()); err != nil {
				t.Fatalf("runList() error: %v", err)
			}

			var got jsonPage
			if err := json.Unmarshal(out.Bytes(), &got); err != nil {
				t.Fatalf("invalid JSON output: %v\n%s", err, out.String())
			}
			if got.Page != tt.wantPage || got.TotalPages != tt.wantPages {
				t.Errorf("page %d/%d, want %d/%d", got.Page, got.TotalPages, tt.wantPage, tt.wantPages)
			}
			if got.Matching != tt.wantMatching || got.Total != 5 {
				t.Errorf("matching/total = %d/%d, want %d/5", got.Matching, got.Total, tt.wantMatching)
			}
			if tt.wantFirst == "" {
				if len(got.Rows) != 0 {
					t.Errorf("rows = %v, want none", got.Rows)
				}
				return
			}
			if len(got.Rows) == 0 || got.Rows[0].PrimaryAddress != tt.wantFirst {
				t.Errorf("first row = %+v, want %s", got.Rows, tt.wantFirst)
			}
		})
	}
}

func TestRunList_TextAndStatusLabels(t *testing.T) {
	a, out := newTestApp(t, newFakeDirectory(), nil)
	if err := a.runList(context.Background()); err != nil {
		t.Fatalf("runList() error: %v", err)
	}
	text := out.String()
	for _, want := range []string{"alice@contoso.com", "Erin Unknown", "OnPrem", "Online", "Unknown"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestRunList_LoadError(t *testing.T) {
	dir := newFakeDirectory()
	dir.listErr = errors.New("service unavailable")
	a, _ := newTestApp(t, dir, nil)

	err := a.runList(context.Background())
	if err == nil || !strings.Contains(err.Error(), "service unavailable") {
		t.Fatalf("runList() error = %v, want load failure", err)
	}
	if a.session.Cache().Loaded() {
		t.Error("cache marked loaded after failed reload")
	}
}

func TestRunGet(t *testing.T) {
	a, out := newTestApp(t, newFakeDirectory(), func(c *Config) {
		c.Action = ActionGet
		c.OutputFormat = "json"
	})

	if err := a.runGet(context.Background(), "BOB@contoso.com"); err != nil {
		t.Fatalf("runGet() error: %v", err)
	}
	var row jsonRow
	if err := json.Unmarshal(out.Bytes(), &row); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if row.PrimaryAddress != "bob@contoso.com" || row.Status != "Online" {
		t.Errorf("row = %+v", row)
	}

	err := a.runGet(context.Background(), "nobody@contoso.com")
	if !errors.Is(err, mailbox.ErrNotFound) {
		t.Errorf("runGet(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestRunSet(t *testing.T) {
	tests := []struct {
		name        string
		identity    string
		target      bool
		whatIf      bool
		setErr      error
		wantOutcome string
		wantErr     error
		wantWrites  int
	}{
		{name: "changes on-prem to online", identity: "alice@contoso.com", target: true, wantOutcome: "Changed", wantWrites: 1},
		{name: "already at target", identity: "bob@contoso.com", target: true, wantOutcome: "NoChange"},
		{name: "cloud-only blocked", identity: "carol@contoso.com", target: false, wantOutcome: "PreconditionFailed", wantErr: mailbox.ErrPreconditionFailed},
		{name: "unknown mailbox", identity: "zed@contoso.com", target: true, wantOutcome: "NotFound", wantErr: mailbox.ErrNotFound},
		{name: "what if", identity: "dave@contoso.com", target: true, whatIf: true, wantOutcome: "WhatIf"},
		{name: "write rejected", identity: "dave@contoso.com", target: true, setErr: errors.New("access denied"), wantOutcome: "WriteFailed", wantErr: mailbox.ErrWriteFailed, wantWrites: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := newFakeDirectory()
			dir.setErr = tt.setErr
			a, out := newTestApp(t, dir, func(c *Config) {
				c.Action = ActionSet
				c.OutputFormat = "json"
				c.WhatIf = tt.whatIf
			})

			err := a.runSet(context.Background(), tt.identity, tt.target)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("runSet() unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("runSet() error = %v, want %v", err, tt.wantErr)
			}
			if dir.writes != tt.wantWrites {
				t.Errorf("writes = %d, want %d", dir.writes, tt.wantWrites)
			}

			var view struct {
				Outcome string `json:"outcome"`
			}
			if err := json.Unmarshal(out.Bytes(), &view); err != nil {
				t.Fatalf("invalid JSON output: %v\n%s", err, out.String())
			}
			if view.Outcome != tt.wantOutcome {
				t.Errorf("outcome = %q, want %q", view.Outcome, tt.wantOutcome)
			}

			a.close()
			data, err := os.ReadFile(a.audit.Path())
			if err != nil {
				t.Fatalf("audit log not readable: %v", err)
			}
			audit := string(data)
			if !strings.HasPrefix(audit, "Timestamp,Actor,Started,Identity,Before,After,Expected,Outcome,Message") {
				t.Errorf("audit header missing:\n%s", audit)
			}
			if strings.Count(audit, "\n") != 2 {
				t.Errorf("audit log should hold header plus one row:\n%s", audit)
			}
			if !strings.Contains(audit, "tester") || !strings.Contains(audit, ","+tt.wantOutcome+",") {
				t.Errorf("audit row missing actor or outcome %q:\n%s", tt.wantOutcome, audit)
			}
		})
	}
}

func TestRunSet_PatchesCache(t *testing.T) {
	a, _ := newTestApp(t, newFakeDirectory(), func(c *Config) { c.Action = ActionSet })
	ctx := context.Background()
	if err := a.reload(ctx); err != nil {
		t.Fatalf("reload() error: %v", err)
	}
	if err := a.runSet(ctx, "dave@contoso.com", true); err != nil {
		t.Fatalf("runSet() error: %v", err)
	}
	row, ok := a.session.Cache().Get("dave@contoso.com")
	if !ok || row.Status() != mailbox.StatusOnline {
		t.Errorf("cached row = %+v, %v; want Online", row, ok)
	}
}

func TestRunExport(t *testing.T) {
	a, out := newTestApp(t, newFakeDirectory(), func(c *Config) { c.Action = ActionExport })

	path, err := a.runExport(context.Background(), "", "onprem")
	if err != nil {
		t.Fatalf("runExport() error: %v", err)
	}
	if !strings.Contains(out.String(), path) {
		t.Errorf("output does not name the export file:\n%s", out.String())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("export not readable: %v", err)
	}
	var snap struct {
		Tool         string    `json:"tool"`
		Organization string    `json:"organization"`
		Filter       string    `json:"filter"`
		Count        int       `json:"count"`
		Rows         []jsonRow `json:"rows"`
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("invalid export JSON: %v", err)
	}
	if snap.Tool != "soatool" || snap.Organization != "contoso.onmicrosoft.com" || snap.Filter != "onprem" {
		t.Errorf("snapshot header = %+v", snap)
	}
	if snap.Count != 2 || len(snap.Rows) != 2 {
		t.Fatalf("count = %d rows = %d, want 2", snap.Count, len(snap.Rows))
	}
	for _, r := range snap.Rows {
		if r.Status != "OnPrem" {
			t.Errorf("exported row %s has status %s", r.PrimaryAddress, r.Status)
		}
	}

	if _, err := a.runExport(context.Background(), "", "sideways"); err == nil {
		t.Error("runExport() expected error for invalid filter")
	}
}

func TestRunConnect_JSON(t *testing.T) {
	a, out := newTestApp(t, newFakeDirectory(), func(c *Config) {
		c.Action = ActionConnect
		c.OutputFormat = "json"
	})
	a.roles = []string{exchangeRole}

	if err := a.runConnect(); err != nil {
		t.Fatalf("runConnect() error: %v", err)
	}
	var got struct {
		Tenant       tenantInfo `json:"tenant"`
		Organization string     `json:"organization"`
		Roles        []string   `json:"exchangeRoles"`
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got.Tenant.DisplayName != "Contoso" || got.Organization != "contoso.onmicrosoft.com" {
		t.Errorf("got %+v", got)
	}
	if len(got.Roles) != 1 || got.Roles[0] != exchangeRole {
		t.Errorf("roles = %v", got.Roles)
	}
}

func TestRunConnect_WarnsWithoutRole(t *testing.T) {
	a, out := newTestApp(t, newFakeDirectory(), func(c *Config) { c.Action = ActionConnect })
	if err := a.runConnect(); err != nil {
		t.Fatalf("runConnect() error: %v", err)
	}
	if !strings.Contains(out.String(), "has no "+exchangeRole+" role") {
		t.Errorf("missing role warning:\n%s", out.String())
	}
}

func TestDiscoverTenant(t *testing.T) {
	contoso := &tenantInfo{DisplayName: "Contoso", InitialDomain: "contoso.onmicrosoft.com"}
	forbidden := errors.New("access denied: Organization.Read.All missing")

	tests := []struct {
		name       string
		action     string
		org        string
		lookupErr  error
		wantTenant bool
		wantErr    bool
	}{
		{"lookup succeeds", ActionList, "", nil, true, false},
		{"lookup fails without organization", ActionList, "", forbidden, false, true},
		{"lookup fails with organization", ActionList, "contoso.onmicrosoft.com", forbidden, false, false},
		{"set with organization", ActionSet, "contoso.onmicrosoft.com", forbidden, false, false},
		{"connect always needs the tenant", ActionConnect, "contoso.onmicrosoft.com", forbidden, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			config.Action = tt.action
			config.Organization = tt.org

			calls := 0
			info, err := discoverTenant(config, nil, func() (*tenantInfo, error) {
				calls++
				if tt.lookupErr != nil {
					return nil, tt.lookupErr
				}
				return contoso, nil
			})
			if calls != 1 {
				t.Errorf("lookup called %d times, want 1", calls)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("discoverTenant() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, forbidden) {
				t.Errorf("error = %v, want lookup error", err)
			}
			if (info != nil) != tt.wantTenant {
				t.Errorf("tenant = %+v, want present %v", info, tt.wantTenant)
			}
		})
	}
}

func TestActions_WithoutTenant(t *testing.T) {
	dir := newFakeDirectory()
	a, out := newTestApp(t, dir, func(c *Config) {
		c.Action = ActionSet
		c.Organization = "contoso.onmicrosoft.com"
	})
	a.tenant = nil

	if err := a.runList(context.Background()); err != nil {
		t.Fatalf("runList() error: %v", err)
	}
	if err := a.runSet(context.Background(), "alice@contoso.com", true); err != nil {
		t.Fatalf("runSet() error: %v", err)
	}
	if dir.writes != 1 {
		t.Errorf("writes = %d, want 1", dir.writes)
	}

	path, err := a.runExport(context.Background(), "", "all")
	if err != nil {
		t.Fatalf("runExport() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), `"tenant"`) {
		t.Errorf("export carries a tenant without discovery:\n%s", data)
	}
	if !strings.Contains(out.String(), "alice@contoso.com") {
		t.Errorf("list output missing rows:\n%s", out.String())
	}

	if err := a.runConnect(); !errors.Is(err, mailbox.ErrNotConnected) {
		t.Errorf("runConnect() without tenant = %v, want ErrNotConnected", err)
	}
}

func TestExecuteAction_Dispatch(t *testing.T) {
	a, out := newTestApp(t, newFakeDirectory(), func(c *Config) {
		c.Action = ActionGet
		c.Identity = "alice@contoso.com"
	})
	if err := executeAction(context.Background(), a); err != nil {
		t.Fatalf("executeAction(get) error: %v", err)
	}
	if !strings.Contains(out.String(), "Alice Smith") {
		t.Errorf("get output missing mailbox:\n%s", out.String())
	}

	a.config.Action = "bogus"
	if err := executeAction(context.Background(), a); err == nil {
		t.Error("executeAction(bogus) expected error")
	}
}

func TestExplainSetError(t *testing.T) {
	if explainSetError(nil, nil) != nil {
		t.Error("explainSetError(nil) != nil")
	}
	for _, base := range []error{mailbox.ErrPreconditionFailed, mailbox.ErrNotFound, mailbox.ErrWriteFailed, mailbox.ErrNotConnected} {
		err := explainSetError(base, nil)
		if !errors.Is(err, base) {
			t.Errorf("explainSetError(%v) lost the sentinel: %v", base, err)
		}
	}
}
