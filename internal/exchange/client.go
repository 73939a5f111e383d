// Package exchange is a small client for the Exchange Online admin REST
// surface (InvokeCommand). It runs the handful of mailbox cmdlets soatool
// needs and implements mailbox.Directory.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"

	"soatool/internal/common/logger"
	"soatool/internal/common/ratelimit"
	"soatool/internal/common/version"
)

const (
	// DefaultEndpoint is the worldwide Exchange Online host.
	DefaultEndpoint = "https://outlook.office365.com"

	// Scope is the app-only token scope for the admin API.
	Scope = "https://outlook.office365.com/.default"

	// systemMailbox routes admin calls to the tenant's arbitration mailbox.
	systemMailbox = "SystemMailbox{bb558c35-97f1-4cb9-8ff7-d53741dc928c}"

	maxPageSize = 1000
	moduleName  = "soatool/exchange"
)

// ClientOptions configures a Client. TenantID and Organization are required.
type ClientOptions struct {
	TenantID string
	// Organization is a verified domain of the tenant, usually the initial
	// *.onmicrosoft.com domain. It anchors requests to the system mailbox.
	Organization string
	Endpoint     string
	// RateLimit is the maximum requests per second, 0 for no limit.
	RateLimit float64
	// MaxRetries and RetryDelay apply to reads only.
	MaxRetries int
	RetryDelay time.Duration
	// Transport overrides the HTTP client (proxy, tests).
	Transport policy.Transporter
	Logger    *slog.Logger
}

// Client issues cmdlets through InvokeCommand.
type Client struct {
	pl         runtime.Pipeline
	invokeURL  string
	anchor     string
	org        string
	limiter    *ratelimit.Limiter
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewClient builds a client that authenticates every request with cred.
func NewClient(cred azcore.TokenCredential, opts ClientOptions) (*Client, error) {
	if cred == nil {
		return nil, errors.New("exchange: credential is required")
	}
	if strings.TrimSpace(opts.TenantID) == "" {
		return nil, errors.New("exchange: tenant ID is required")
	}
	if strings.TrimSpace(opts.Organization) == "" {
		return nil, errors.New("exchange: organization domain is required")
	}
	endpoint := strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	clientOpts := &policy.ClientOptions{
		// Reads are retried by the caller; writes must never be replayed.
		Retry:     policy.RetryOptions{MaxRetries: -1},
		Telemetry: policy.TelemetryOptions{ApplicationID: version.UserAgent()},
		Transport: opts.Transport,
	}
	bearer := runtime.NewBearerTokenPolicy(cred, []string{Scope}, nil)
	pl := runtime.NewPipeline(moduleName, version.Get(), runtime.PipelineOptions{
		PerRetry: []policy.Policy{bearer},
	}, clientOpts)

	return &Client{
		pl:         pl,
		invokeURL:  endpoint + "/adminapi/beta/" + url.PathEscape(opts.TenantID) + "/InvokeCommand",
		anchor:     "UPN:" + systemMailbox + "@" + opts.Organization,
		org:        opts.Organization,
		limiter:    ratelimit.New(opts.RateLimit),
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		logger:     opts.Logger,
	}, nil
}

// Organization returns the anchor domain.
func (c *Client) Organization() string {
	return c.org
}

type cmdletInput struct {
	CmdletName string         `json:"CmdletName"`
	Parameters map[string]any `json:"Parameters,omitempty"`
}

type invokeRequest struct {
	CmdletInput cmdletInput `json:"CmdletInput"`
}

type commandPage struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

// InvokeCommand runs one cmdlet and returns every result object, following
// @odata.nextLink until the last page.
func (c *Client) InvokeCommand(ctx context.Context, cmdlet string, params map[string]any) ([]json.RawMessage, error) {
	body := invokeRequest{CmdletInput: cmdletInput{CmdletName: cmdlet, Parameters: params}}

	var results []json.RawMessage
	target := c.invokeURL
	pages := 0
	for target != "" {
		page, err := c.post(ctx, target, body)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cmdlet, err)
		}
		pages++
		results = append(results, page.Value...)

		if page.NextLink == target {
			return nil, fmt.Errorf("%s: next page link repeats %s", cmdlet, target)
		}
		target = page.NextLink
	}

	logger.LogDebug(c.logger, "Cmdlet completed", "cmdlet", cmdlet, "pages", pages, "objects", len(results))
	return results, nil
}

func (c *Client) post(ctx context.Context, target string, body invokeRequest) (commandPage, error) {
	var page commandPage

	if err := c.limiter.Wait(ctx); err != nil {
		return page, err
	}

	req, err := runtime.NewRequest(ctx, http.MethodPost, target)
	if err != nil {
		return page, err
	}
	req.Raw().Header.Set("X-ResponseFormat", "json")
	req.Raw().Header.Set("X-AnchorMailbox", c.anchor)
	req.Raw().Header.Set("Prefer", fmt.Sprintf("odata.maxpagesize=%d", maxPageSize))
	if err := runtime.MarshalAsJSON(req, body); err != nil {
		return page, err
	}

	resp, err := c.pl.Do(req)
	if err != nil {
		return page, err
	}
	if !runtime.HasStatusCode(resp, http.StatusOK) {
		return page, runtime.NewResponseError(resp)
	}
	if err := runtime.UnmarshalAsJSON(resp, &page); err != nil {
		return page, fmt.Errorf("decoding response: %w", err)
	}
	return page, nil
}
