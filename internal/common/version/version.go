// Package version exposes the soatool release number embedded at build time.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var versionRaw string

// Version is the current release, trimmed of whitespace.
var Version = strings.TrimSpace(versionRaw)

// Get returns the current version string.
func Get() string {
	return Version
}

// UserAgent returns the product token sent with admin API requests.
func UserAgent() string {
	return "soatool/" + Version
}
