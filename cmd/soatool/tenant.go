package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"

	"soatool/internal/common/logger"
	"soatool/internal/common/retry"
)

const graphScope = "https://graph.microsoft.com/.default"

// errNoInitialDomain is returned when the organization lists no initial
// domain and -organization was not given.
var errNoInitialDomain = errors.New("tenant has no initial domain; pass -organization")

// tenantInfo is what the connect action reports about the tenant.
type tenantInfo struct {
	ID              string     `json:"id"`
	DisplayName     string     `json:"displayName"`
	InitialDomain   string     `json:"initialDomain,omitempty"`
	DefaultDomain   string     `json:"defaultDomain,omitempty"`
	VerifiedDomains []string   `json:"verifiedDomains"`
	DirSyncEnabled  *bool      `json:"dirSyncEnabled"`
	LastDirSync     *time.Time `json:"lastDirSync,omitempty"`
}

// newGraphClient creates the Graph client used for tenant discovery.
func newGraphClient(cred azcore.TokenCredential) (*msgraphsdk.GraphServiceClient, error) {
	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, []string{graphScope})
	if err != nil {
		return nil, fmt.Errorf("graph client initialization failed: %w", err)
	}
	return client, nil
}

// fetchTenantInfo reads /organization. App-only tokens see exactly one
// organization: the tenant the app authenticated to.
func fetchTenantInfo(ctx context.Context, client *msgraphsdk.GraphServiceClient, config *Config, slogger *slog.Logger) (*tenantInfo, error) {
	var orgs []models.Organizationable
	err := retry.RetryWithBackoff(ctx, slogger, config.MaxRetries, config.RetryDelay, func() error {
		resp, err := client.Organization().Get(ctx, nil)
		if err != nil {
			return err
		}
		orgs = resp.GetValue()
		return nil
	})
	if err != nil {
		return nil, enrichAPIError(err, slogger, "organization lookup")
	}
	if len(orgs) == 0 {
		return nil, errors.New("organization lookup returned no tenant")
	}

	info := tenantFromOrganization(orgs[0])
	logger.LogDebug(slogger, "Tenant discovered",
		"tenant", info.DisplayName,
		"initialDomain", info.InitialDomain,
		"domains", len(info.VerifiedDomains))
	return info, nil
}

func tenantFromOrganization(org models.Organizationable) *tenantInfo {
	info := &tenantInfo{
		ID:             deref(org.GetId()),
		DisplayName:    deref(org.GetDisplayName()),
		DirSyncEnabled: org.GetOnPremisesSyncEnabled(),
		LastDirSync:    org.GetOnPremisesLastSyncDateTime(),
	}
	for _, d := range org.GetVerifiedDomains() {
		name := strings.TrimSpace(deref(d.GetName()))
		if name == "" {
			continue
		}
		info.VerifiedDomains = append(info.VerifiedDomains, name)
		if isTrue(d.GetIsInitial()) {
			info.InitialDomain = name
		}
		if isTrue(d.GetIsDefault()) {
			info.DefaultDomain = name
		}
	}
	return info
}

// discoverTenant runs lookup. Tenant details are only required by connect and
// to derive the anchor domain, so with -organization set a failed lookup (an
// app without Graph Organization.Read.All, say) is logged and the run goes on
// without them.
func discoverTenant(config *Config, slogger *slog.Logger, lookup func() (*tenantInfo, error)) (*tenantInfo, error) {
	info, err := lookup()
	if err == nil {
		return info, nil
	}
	if config.Organization == "" || config.Action == ActionConnect {
		return nil, err
	}
	logger.LogWarn(slogger, "Tenant discovery failed; continuing with -organization",
		"organization", config.Organization, "error", err)
	return nil, nil
}

// name is the tenant display name, empty when discovery was skipped.
func (t *tenantInfo) name() string {
	if t == nil {
		return ""
	}
	return t.DisplayName
}

// anchorOrganization picks the domain used to anchor Exchange calls.
func anchorOrganization(config *Config, info *tenantInfo) (string, error) {
	if config.Organization != "" {
		return config.Organization, nil
	}
	if info == nil || info.InitialDomain == "" {
		return "", errNoInitialDomain
	}
	return info.InitialDomain, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func isTrue(b *bool) bool {
	return b != nil && *b
}
