package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/user"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"

	"soatool/internal/common/logger"
	"soatool/internal/common/security"
)

func maskGUID(guid string) string         { return security.MaskGUID(guid) }
func maskSecret(secret string) string     { return security.MaskSecret(secret) }
func maskIdentity(identity string) string { return security.MaskIdentity(identity) }

// ifEmpty returns defaultVal if s is empty, otherwise returns s
func ifEmpty(s, defaultVal string) string {
	if s == "" {
		return defaultVal
	}
	return s
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON output: %w", err)
	}
	return nil
}

// resolveActor picks the name written to the audit log: the -actor value,
// then the OS account, then the application ID.
func resolveActor(config *Config) string {
	if config.Actor != "" {
		return config.Actor
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	for _, env := range []string{"USERNAME", "USER"} {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	return "app:" + config.ClientID
}

// configureProxy exports the proxy to the environment. The Azure identity,
// Graph and Exchange transports all honor HTTP_PROXY/HTTPS_PROXY.
func configureProxy(proxyURL string, slogger *slog.Logger) {
	if proxyURL == "" {
		return
	}
	os.Setenv("HTTP_PROXY", proxyURL)
	os.Setenv("HTTPS_PROXY", proxyURL)
	logger.LogInfo(slogger, "Using proxy", "proxy", proxyURL)
}

// enrichAPIError adds operator guidance to Graph and Exchange errors, in
// particular throttling (429 with Retry-After) and permission problems.
func enrichAPIError(err error, slogger *slog.Logger, operation string) error {
	if err == nil {
		return nil
	}

	var odataErr *odataerrors.ODataError
	if errors.As(err, &odataErr) && odataErr.GetErrorEscaped() != nil {
		info := odataErr.GetErrorEscaped()
		code, message := "", ""
		if info.GetCode() != nil {
			code = *info.GetCode()
		}
		if info.GetMessage() != nil {
			message = *info.GetMessage()
		}
		retryAfter := ""
		if h := odataErr.GetResponseHeaders(); h != nil {
			if v := h.Get("Retry-After"); len(v) > 0 {
				retryAfter = v[0]
			}
		}
		logger.LogDebug(slogger, "Graph API error", "operation", operation, "code", code, "message", message)
		return classifyStatus(err, operation, odataErr.ResponseStatusCode, retryAfter)
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		retryAfter := ""
		if respErr.RawResponse != nil {
			retryAfter = respErr.RawResponse.Header.Get("Retry-After")
		}
		logger.LogDebug(slogger, "Exchange API error", "operation", operation, "status", respErr.StatusCode, "code", respErr.ErrorCode)
		return classifyStatus(err, operation, respErr.StatusCode, retryAfter)
	}

	return err
}

func classifyStatus(err error, operation string, status int, retryAfter string) error {
	switch status {
	case http.StatusTooManyRequests:
		msg := fmt.Sprintf("rate limit exceeded during %s", operation)
		if retryAfter != "" {
			msg += fmt.Sprintf(" (retry after %s seconds)", retryAfter)
		}
		return fmt.Errorf("%s; lower -ratelimit or raise -retrydelay: %w", msg, err)
	case http.StatusUnauthorized:
		return fmt.Errorf("authentication rejected during %s; check the credential and tenant: %w", operation, err)
	case http.StatusForbidden:
		return fmt.Errorf("access denied during %s; the app needs Exchange.ManageAsApp and an Exchange administrator role: %w", operation, err)
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("service temporarily unavailable during %s: %w", operation, err)
	}
	return err
}

// formatRoles joins token roles for display.
func formatRoles(roles []string) string {
	if len(roles) == 0 {
		return "(none)"
	}
	return strings.Join(roles, ", ")
}
