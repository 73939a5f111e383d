package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"soatool/internal/common/logger"
	"soatool/internal/common/version"
	"soatool/internal/mailbox"
)

// exportSnapshot is a one-shot dump of the filtered cache. It carries no
// compatibility promise beyond the row shape.
type exportSnapshot struct {
	Tool         string    `json:"tool"`
	Version      string    `json:"version"`
	ExportedAt   time.Time `json:"exportedAt"`
	Tenant       string    `json:"tenant,omitempty"`
	Organization string    `json:"organization,omitempty"`
	Search       string    `json:"search,omitempty"`
	Filter       string    `json:"filter"`
	Count        int       `json:"count"`
	Rows         []rowView `json:"rows"`
}

// runExport writes the rows matching search and status to a JSON file in
// the export directory and returns its path. The cache is reloaded first
// unless it already holds a snapshot (shell mode).
func (a *app) runExport(ctx context.Context, search, status string) (string, error) {
	filter, err := mailbox.ParseStatusFilter(status)
	if err != nil {
		return "", err
	}
	if !a.session.Cache().Loaded() {
		if err := a.reload(ctx); err != nil {
			a.actions.Write(ActionExport, "FAILURE", "", "")
			return "", err
		}
	}

	rows, err := a.session.Query(search, filter)
	if err != nil {
		a.actions.Write(ActionExport, "FAILURE", "", "")
		return "", err
	}
	snap := exportSnapshot{
		Tool:       "soatool",
		Version:    version.Get(),
		ExportedAt: time.Now().UTC(),
		Search:     search,
		Filter:     filter.String(),
		Count:      len(rows),
		Rows:       toRowViews(rows),
	}
	snap.Tenant = a.tenant.name()
	snap.Organization = a.org

	path, err := writeSnapshot(a.config.ExportDir, snap)
	if err != nil {
		a.actions.Write(ActionExport, "FAILURE", path, strconv.Itoa(len(rows)))
		return "", err
	}
	a.actions.Write(ActionExport, "SUCCESS", path, strconv.Itoa(len(rows)))
	logger.LogInfo(a.logger, "Export written", "path", path, "rows", len(rows))

	if a.config.OutputFormat == "json" {
		return path, printJSON(a.out, struct {
			Path  string `json:"path"`
			Count int    `json:"count"`
		}{path, len(rows)})
	}
	fmt.Fprintf(a.out, "Exported %d mailboxes to %s\n", len(rows), path)
	return path, nil
}

// writeSnapshot writes snap to dir/soatool_export_{timestamp}.json. The
// file is written under a temporary name and renamed so a partial export is
// never left behind.
func writeSnapshot(dir string, snap exportSnapshot) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode export: %w", err)
	}

	name := fmt.Sprintf("soatool_export_%s.json", snap.ExportedAt.Local().Format("20060102_150405"))
	path := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, ".soatool_export_*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to finalize export file: %w", err)
	}
	return path, nil
}
