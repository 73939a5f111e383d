package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"soatool/internal/common/logger"
	"soatool/internal/common/ratelimit"
	"soatool/internal/common/validation"
	"soatool/internal/common/version"
	"soatool/internal/exchange"
	"soatool/internal/mailbox"
)

// Actions
const (
	ActionConnect = "connect"
	ActionList    = "list"
	ActionGet     = "get"
	ActionSet     = "set"
	ActionExport  = "export"
	ActionShell   = "shell"
)

// envPrefix is prepended to the upper-cased flag name, e.g. SOATENANTID.
const envPrefix = "SOA"

const maxPageSize = 1000

var validActions = []string{ActionConnect, ActionList, ActionGet, ActionSet, ActionExport, ActionShell}

// Config holds all application configuration merged from defaults, an
// optional config file, SOA* environment variables and command-line flags.
type Config struct {
	ShowVersion bool
	ConfigFile  string
	Action      string

	// Authentication (one of Secret, PfxPath, Thumbprint)
	TenantID   string
	ClientID   string
	Secret     string
	PfxPath    string
	PfxPass    string
	Thumbprint string

	// Exchange Online
	Organization string // anchor domain, discovered through Graph when empty
	Endpoint     string

	// Mailbox selection
	Identity     string
	CloudManaged string // "true" or "false" for the set action
	Search       string
	Status       string
	Page         int // 1-based
	PageSize     int

	// Output
	OutputFormat string // text, json
	ExportDir    string
	Quiet        bool

	// Mutation
	WhatIf bool
	Actor  string

	// Network
	ProxyURL   string
	MaxRetries int
	RetryDelay time.Duration
	RateLimit  float64

	// Logging
	VerboseMode bool
	LogLevel    string
	LogFormat   string
	LogDir      string
}

// NewConfig returns a Config with default values.
func NewConfig() *Config {
	return &Config{
		Action:       ActionList,
		Endpoint:     exchange.DefaultEndpoint,
		Status:       "all",
		Page:         1,
		PageSize:     mailbox.DefaultPageSize,
		OutputFormat: "text",
		MaxRetries:   3,
		RetryDelay:   2000 * time.Millisecond,
		LogLevel:     "INFO",
		LogFormat:    "csv",
	}
}

// TargetState parses CloudManaged.
func (c *Config) TargetState() (bool, error) {
	v, err := strconv.ParseBool(strings.TrimSpace(c.CloudManaged))
	if err != nil {
		return false, fmt.Errorf("-cloudmanaged must be true or false (got %q)", c.CloudManaged)
	}
	return v, nil
}

// StatusFilter parses Status.
func (c *Config) StatusFilter() (mailbox.StatusFilter, error) {
	return mailbox.ParseStatusFilter(c.Status)
}

// envName maps a flag name to its environment variable.
func envName(flagName string) string {
	return envPrefix + strings.ToUpper(flagName)
}

// defineFlags binds every flag to a field of config.
func defineFlags(fs *flag.FlagSet, config *Config, retryDelayMs *int) {
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "soatool - Exchange Online state of authority toggle - Version %s\n\n", version.Get())
		fmt.Fprintf(out, "Usage: %s [options]\n\n", fs.Name())
		fmt.Fprintf(out, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(out, "\nEnvironment Variables:\n")
		fmt.Fprintf(out, "  All flags can be set via environment variables with %s prefix\n", envPrefix)
		fmt.Fprintf(out, "  Example: %s, %s, %s\n", envName("tenantid"), envName("clientid"), envName("secret"))
		fmt.Fprintf(out, "  Precedence: flags > environment > config file > defaults\n\n")
		fmt.Fprintf(out, "Examples:\n")
		fmt.Fprintf(out, "  %s -tenantid \"...\" -clientid \"...\" -pfx app.pfx -action list -status onprem -search smith\n", fs.Name())
		fmt.Fprintf(out, "  %s -tenantid \"...\" -clientid \"...\" -thumbprint \"ABC123\" -action set -identity user@example.com -cloudmanaged true\n\n", fs.Name())
	}

	fs.BoolVar(&config.ShowVersion, "version", false, "Show version information")
	fs.StringVar(&config.ConfigFile, "config", "", "Path to a YAML or JSON config file whose keys are flag names (env: SOACONFIG)")
	fs.StringVar(&config.Action, "action", config.Action, "Action to perform: "+strings.Join(validActions, ", ")+" (env: SOAACTION)")

	fs.StringVar(&config.TenantID, "tenantid", "", "The Entra ID tenant ID (env: SOATENANTID)")
	fs.StringVar(&config.ClientID, "clientid", "", "The application (client) ID (env: SOACLIENTID)")
	fs.StringVar(&config.Secret, "secret", "", "The client secret (env: SOASECRET)")
	fs.StringVar(&config.PfxPath, "pfx", "", "Path to the .pfx certificate file (env: SOAPFX)")
	fs.StringVar(&config.PfxPass, "pfxpass", "", "Password for the .pfx file (env: SOAPFXPASS)")
	fs.StringVar(&config.Thumbprint, "thumbprint", "", "Thumbprint of the certificate in the CurrentUser\\My store, Windows only (env: SOATHUMBPRINT)")

	fs.StringVar(&config.Organization, "organization", "", "Tenant domain used to anchor Exchange calls; discovered when empty (env: SOAORGANIZATION)")
	fs.StringVar(&config.Endpoint, "endpoint", config.Endpoint, "Exchange Online endpoint (env: SOAENDPOINT)")

	fs.StringVar(&config.Identity, "identity", "", "Mailbox identity for get and set: address, UPN or object ID (env: SOAIDENTITY)")
	fs.StringVar(&config.CloudManaged, "cloudmanaged", "", "Target cloud-managed state for set: true or false (env: SOACLOUDMANAGED)")
	fs.StringVar(&config.Search, "search", "", "Case-insensitive substring matched against display name and address (env: SOASEARCH)")
	fs.StringVar(&config.Status, "status", config.Status, "Status filter: all, online, onprem (env: SOASTATUS)")
	fs.IntVar(&config.Page, "page", config.Page, "Page number to show, starting at 1 (env: SOAPAGE)")
	fs.IntVar(&config.PageSize, "pagesize", config.PageSize, "Rows per page (env: SOAPAGESIZE)")

	fs.StringVar(&config.OutputFormat, "output", config.OutputFormat, "Output format: text, json (env: SOAOUTPUT)")
	fs.StringVar(&config.ExportDir, "exportdir", "", "Directory for export snapshots, defaults to the current directory (env: SOAEXPORTDIR)")
	fs.BoolVar(&config.Quiet, "quiet", false, "Suppress the progress indicator (env: SOAQUIET)")

	fs.BoolVar(&config.WhatIf, "whatif", false, "Dry run: report what set would change without writing (env: SOAWHATIF)")
	fs.StringVar(&config.Actor, "actor", "", "Operator name recorded in the audit log, defaults to the OS user (env: SOAACTOR)")

	fs.StringVar(&config.ProxyURL, "proxy", "", "HTTP/HTTPS/SOCKS5 proxy URL (env: SOAPROXY)")
	fs.IntVar(&config.MaxRetries, "maxretries", config.MaxRetries, "Maximum retry attempts for transient read failures (env: SOAMAXRETRIES)")
	fs.IntVar(retryDelayMs, "retrydelay", int(config.RetryDelay/time.Millisecond), "Base delay between retries in milliseconds (env: SOARETRYDELAY)")
	fs.Float64Var(&config.RateLimit, "ratelimit", 0, "Maximum Exchange requests per second, 0 for unlimited (env: SOARATELIMIT)")

	fs.BoolVar(&config.VerboseMode, "verbose", false, "Enable verbose output (configuration, token claims, API details) (env: SOAVERBOSE)")
	fs.StringVar(&config.LogLevel, "loglevel", config.LogLevel, "Logging level: DEBUG, INFO, WARN, ERROR (env: SOALOGLEVEL)")
	fs.StringVar(&config.LogFormat, "logformat", config.LogFormat, "Action log format: csv, json (env: SOALOGFORMAT)")
	fs.StringVar(&config.LogDir, "logdir", "", "Directory for action and audit logs, defaults to the temp directory (env: SOALOGDIR)")
}

// parseAndConfigureFlags parses args into a Config. Values come, lowest
// precedence first, from defaults, the config file, the environment and the
// command line.
func parseAndConfigureFlags(fs *flag.FlagSet, args []string, getenv func(string) string) (*Config, error) {
	config := NewConfig()
	var retryDelayMs int
	defineFlags(fs, config, &retryDelayMs)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	providedFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		providedFlags[f.Name] = true
	})

	if !providedFlags["config"] {
		config.ConfigFile = getenv(envName("config"))
	}
	var fileValues map[string]string
	if config.ConfigFile != "" {
		var err error
		fileValues, err = loadConfigFile(config.ConfigFile, fs)
		if err != nil {
			return nil, err
		}
	}

	var applyErr error
	fs.VisitAll(func(f *flag.Flag) {
		if applyErr != nil || providedFlags[f.Name] || f.Name == "config" || f.Name == "version" {
			return
		}
		value, source := getenv(envName(f.Name)), "environment variable "+envName(f.Name)
		if value == "" {
			value, source = fileValues[f.Name], "config file key "+f.Name
		}
		if value == "" {
			return
		}
		if err := fs.Set(f.Name, value); err != nil {
			applyErr = fmt.Errorf("invalid value %q for %s: %w", value, source, err)
		}
	})
	if applyErr != nil {
		return nil, applyErr
	}

	config.RetryDelay = time.Duration(retryDelayMs) * time.Millisecond
	config.Action = strings.ToLower(strings.TrimSpace(config.Action))
	config.OutputFormat = strings.ToLower(strings.TrimSpace(config.OutputFormat))
	config.Identity = strings.TrimSpace(config.Identity)
	return config, nil
}

// loadConfigFile reads a YAML or JSON file keyed by flag name. The format is
// chosen by extension: .json, .yaml, .yml.
func loadConfigFile(path string, fs *flag.FlagSet) (map[string]string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for config file %q: %w", path, err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %q: %w", absPath, err)
	}

	raw := make(map[string]any)
	switch ext := strings.ToLower(filepath.Ext(absPath)); ext {
	case ".json":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON in config file %q: %w", absPath, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid YAML in config file %q: %w", absPath, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format %q; supported: .json, .yaml, .yml", ext)
	}

	values := make(map[string]string, len(raw))
	var unknown []string
	for key, v := range raw {
		name := strings.ToLower(key)
		if fs.Lookup(name) == nil || name == "config" || name == "version" {
			unknown = append(unknown, key)
			continue
		}
		switch v := v.(type) {
		case nil:
		case string:
			values[name] = v
		case float64:
			values[name] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			values[name] = fmt.Sprint(v)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown keys in config file %q: %s", absPath, strings.Join(unknown, ", "))
	}
	return values, nil
}

// validateConfiguration checks the merged configuration before any network
// call is made.
func validateConfiguration(config *Config) error {
	if !isValidAction(config.Action) {
		return fmt.Errorf("invalid action %q (valid: %s)", config.Action, strings.Join(validActions, ", "))
	}

	if err := validation.ValidateGUID(config.TenantID, "Tenant ID"); err != nil {
		return err
	}
	if err := validation.ValidateGUID(config.ClientID, "Client ID"); err != nil {
		return err
	}

	authMethodCount := 0
	for _, v := range []string{config.Secret, config.PfxPath, config.Thumbprint} {
		if v != "" {
			authMethodCount++
		}
	}
	if authMethodCount == 0 {
		return errors.New("missing authentication: must provide one of -secret, -pfx, or -thumbprint")
	}
	if authMethodCount > 1 {
		return errors.New("multiple authentication methods provided: use only one of -secret, -pfx, or -thumbprint")
	}
	if err := validation.ValidateFilePath(config.PfxPath, "PFX certificate file"); err != nil {
		return err
	}
	if config.Thumbprint != "" {
		if b, err := hex.DecodeString(config.Thumbprint); err != nil || len(b) != 20 {
			return fmt.Errorf("thumbprint must be 40 hexadecimal characters (SHA-1)")
		}
	}

	if config.Organization != "" {
		if err := validation.ValidateHostname(config.Organization); err != nil {
			return fmt.Errorf("invalid organization: %w", err)
		}
	}
	if err := validation.ValidateEndpoint(config.Endpoint); err != nil {
		return err
	}
	if err := validation.ValidateProxyURL(config.ProxyURL); err != nil {
		return err
	}

	switch config.Action {
	case ActionGet, ActionSet:
		if err := validation.ValidateIdentity(config.Identity); err != nil {
			return fmt.Errorf("-identity is required for %s: %w", config.Action, err)
		}
	}
	if config.Action == ActionSet {
		if _, err := config.TargetState(); err != nil {
			return err
		}
	}

	if _, err := config.StatusFilter(); err != nil {
		return err
	}
	if config.Page < 1 {
		return fmt.Errorf("-page must be 1 or greater (got %d)", config.Page)
	}
	if config.PageSize < 1 || config.PageSize > maxPageSize {
		return fmt.Errorf("-pagesize must be between 1 and %d (got %d)", maxPageSize, config.PageSize)
	}
	if config.OutputFormat != "text" && config.OutputFormat != "json" {
		return fmt.Errorf("invalid output format %q (valid: text, json)", config.OutputFormat)
	}
	if _, err := logger.ParseLogFormat(config.LogFormat); err != nil {
		return err
	}

	if config.MaxRetries < 0 {
		return fmt.Errorf("-maxretries cannot be negative")
	}
	if config.RetryDelay <= 0 {
		return fmt.Errorf("-retrydelay must be positive")
	}
	if config.RateLimit < 0 {
		return fmt.Errorf("-ratelimit cannot be negative")
	}

	return nil
}

func isValidAction(action string) bool {
	for _, a := range validActions {
		if a == action {
			return true
		}
	}
	return false
}

// printVerboseConfig prints the merged configuration with secrets masked.
func printVerboseConfig(w io.Writer, config *Config) {
	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintln(w, "--------------")
	fmt.Fprintf(w, "  Version:       %s\n", version.Get())
	fmt.Fprintf(w, "  Action:        %s\n", config.Action)
	fmt.Fprintf(w, "  Tenant ID:     %s\n", maskGUID(config.TenantID))
	fmt.Fprintf(w, "  Client ID:     %s\n", maskGUID(config.ClientID))
	switch {
	case config.Secret != "":
		fmt.Fprintf(w, "  Auth:          client secret (%s)\n", maskSecret(config.Secret))
	case config.PfxPath != "":
		fmt.Fprintf(w, "  Auth:          PFX certificate %s\n", config.PfxPath)
	case config.Thumbprint != "":
		fmt.Fprintf(w, "  Auth:          certificate store thumbprint %s\n", config.Thumbprint)
	}
	fmt.Fprintf(w, "  Organization:  %s\n", ifEmpty(config.Organization, "(discover)"))
	fmt.Fprintf(w, "  Endpoint:      %s\n", config.Endpoint)
	if config.Identity != "" {
		fmt.Fprintf(w, "  Identity:      %s\n", maskIdentity(config.Identity))
	}
	fmt.Fprintf(w, "  Search:        %s\n", ifEmpty(config.Search, "(none)"))
	fmt.Fprintf(w, "  Status filter: %s\n", config.Status)
	fmt.Fprintf(w, "  Page:          %d (size %d)\n", config.Page, config.PageSize)
	fmt.Fprintf(w, "  Output:        %s\n", config.OutputFormat)
	fmt.Fprintf(w, "  WhatIf:        %t\n", config.WhatIf)
	fmt.Fprintf(w, "  Proxy:         %s\n", ifEmpty(config.ProxyURL, "(none)"))
	fmt.Fprintf(w, "  Retries:       %d (base delay %s)\n", config.MaxRetries, config.RetryDelay)
	fmt.Fprintf(w, "  Rate limit:    %s\n", ratelimit.New(config.RateLimit))
	fmt.Fprintf(w, "  Log format:    %s\n", config.LogFormat)
	fmt.Fprintln(w)
}
