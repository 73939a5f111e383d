// Package main provides soatool, a CLI for viewing and toggling the Exchange
// Online "state of authority" of directory-synced mailboxes.
//
// The tool loads every mailbox once, lets the operator search, filter and page
// through the snapshot, and flips IsExchangeCloudManaged on a single mailbox
// with a read-back check. Every set attempt is appended to an audit log in the
// system temp directory.
//
// Authentication methods supported:
//   - Client Secret: Standard App Registration secret
//   - PFX Certificate: Certificate file with private key
//   - Windows Certificate Store: Thumbprint-based certificate retrieval (Windows only)
//
// Example usage:
//
//	soatool -tenantid "..." -clientid "..." -pfx app.pfx -action list -status onprem
//	soatool -tenantid "..." -clientid "..." -secret "..." -action set -identity user@example.com -cloudmanaged true
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"soatool/internal/common/logger"
	"soatool/internal/common/version"
)

func main() {
	if err := run(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

// setupSignalHandling cancels the returned context on Ctrl+C or SIGTERM.
func setupSignalHandling() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\n\nReceived interrupt signal. Shutting down gracefully...")
		cancel()
	}()

	return ctx, cancel
}

// run parses configuration, connects and executes the requested action.
func run() error {
	ctx, cancel := setupSignalHandling()
	defer cancel()

	config, err := parseAndConfigureFlags(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		return err
	}

	if config.ShowVersion {
		fmt.Printf("soatool - Exchange Online state of authority toggle - Version %s\n", version.Get())
		return nil
	}

	if err := validateConfiguration(config); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}

	slogger := logger.SetupLogger(config.VerboseMode, config.LogLevel)
	logger.LogInfo(slogger, "Application starting", "version", version.Get(), "action", config.Action)
	if config.VerboseMode {
		printVerboseConfig(os.Stderr, config)
	}

	configureProxy(config.ProxyURL, slogger)

	a, err := newApp(ctx, config, slogger, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		return err
	}
	defer a.close()

	return executeAction(ctx, a)
}
