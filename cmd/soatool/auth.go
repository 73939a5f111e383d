package main

import (
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/golang-jwt/jwt/v5"
	"software.sslmate.com/src/go-pkcs12"

	"soatool/internal/common/certinfo"
	"soatool/internal/common/logger"
	"soatool/internal/common/security"
)

// TokenClaims represents relevant claims from Microsoft Entra ID access tokens
type TokenClaims struct {
	AppDisplayName string   `json:"app_displayname"` // Application display name from Entra ID
	Roles          []string `json:"roles"`           // Application roles, e.g. Exchange.ManageAsApp
	TenantID       string   `json:"tid"`
	jwt.RegisteredClaims
}

// getCredential builds the app-only credential from whichever of secret,
// PFX file or certificate store thumbprint was configured.
func getCredential(config *Config, slogger *slog.Logger) (azcore.TokenCredential, error) {
	// 1. Client Secret
	if config.Secret != "" {
		logger.LogDebug(slogger, "Authentication method: Client Secret")
		return azidentity.NewClientSecretCredential(config.TenantID, config.ClientID, config.Secret, nil)
	}

	// 2. PFX File
	if config.PfxPath != "" {
		logger.LogDebug(slogger, "Authentication method: PFX Certificate File", "path", config.PfxPath)
		pfxData, err := os.ReadFile(config.PfxPath)
		if err != nil {
			logger.LogError(slogger, "Failed to read PFX file", "path", config.PfxPath, "error", err)
			return nil, fmt.Errorf("failed to read PFX file: %w", err)
		}
		cred, _, err := createCertCredential(config.TenantID, config.ClientID, pfxData, config.PfxPass, slogger)
		return cred, err
	}

	// 3. Windows Cert Store (Thumbprint)
	if config.Thumbprint != "" {
		logger.LogDebug(slogger, "Authentication method: Windows Certificate Store", "thumbprint", config.Thumbprint)
		pfxData, tempPass, err := exportCertFromStore(config.Thumbprint)
		if err != nil {
			return nil, fmt.Errorf("failed to export cert from store: %w", err)
		}
		logger.LogDebug(slogger, "Certificate exported from store", "bytes", len(pfxData))
		cred, info, err := createCertCredential(config.TenantID, config.ClientID, pfxData, tempPass, slogger)
		if err != nil {
			return nil, err
		}
		if !info.MatchesThumbprint(config.Thumbprint) {
			return nil, fmt.Errorf("certificate store returned %s, expected thumbprint %s", info.Thumbprint, config.Thumbprint)
		}
		return cred, nil
	}

	return nil, fmt.Errorf("no valid authentication method provided (use -secret, -pfx, or -thumbprint)")
}

// createCertCredential decodes a PFX and builds a certificate credential.
// Expired or not-yet-valid certificates are rejected here rather than by the
// identity platform.
func createCertCredential(tenantID, clientID string, pfxData []byte, password string, slogger *slog.Logger) (*azidentity.ClientCertificateCredential, *certinfo.Info, error) {
	key, cert, caCerts, err := pkcs12.DecodeChain(pfxData, password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode PFX: %w", err)
	}

	privKey, ok := key.(crypto.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("decoded key is not a valid crypto.PrivateKey")
	}

	// Leaf certificate first
	certs := append([]*x509.Certificate{cert}, caCerts...)

	info, err := certinfo.Analyze(certs, time.Now())
	if err != nil {
		return nil, nil, err
	}
	logger.LogDebug(slogger, "Client certificate",
		"subject", info.Subject,
		"thumbprint", info.Thumbprint,
		"validTo", info.ValidTo.Format("2006-01-02"),
		"key", fmt.Sprintf("%s %d", info.PublicKeyAlgorithm, info.PublicKeySize),
		"chain", info.ChainLength)
	if err := info.Problem(); err != nil {
		return nil, info, err
	}
	if info.ExpiresSoon() {
		logger.LogWarn(slogger, "Client certificate expires soon", "thumbprint", info.Thumbprint, "days", info.DaysUntilExpiry)
	}

	cred, err := azidentity.NewClientCertificateCredential(tenantID, clientID, certs, privKey,
		&azidentity.ClientCertificateCredentialOptions{SendCertificateChain: true})
	if err != nil {
		return nil, info, err
	}
	return cred, info, nil
}

// printTokenInfo acquires a token for scope and prints its lifetime and claims.
// The Exchange token must carry the Exchange.ManageAsApp role.
func printTokenInfo(ctx context.Context, w io.Writer, cred azcore.TokenCredential, scope string) error {
	token, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{scope}})
	if err != nil {
		return fmt.Errorf("could not acquire token for %s: %w", scope, err)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Token Information (%s):\n", scope)
	fmt.Fprintln(w, "------------------")
	fmt.Fprintf(w, "Expires at: %s\n", token.ExpiresOn.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "Valid for: %s\n", time.Until(token.ExpiresOn).Round(time.Second))
	fmt.Fprintf(w, "Token (masked): %s\n", security.MaskAccessToken(token.Token))

	claims, err := parseTokenClaims(token.Token)
	if err != nil {
		fmt.Fprintf(w, "  (Could not parse JWT claims: %v)\n", err)
		return nil
	}
	fmt.Fprintf(w, "  Application Name: %s\n", ifEmpty(claims.AppDisplayName, "(not available)"))
	fmt.Fprintf(w, "  Assigned Roles: %s\n", formatRoles(claims.Roles))
	fmt.Fprintln(w)
	return nil
}

// parseTokenClaims reads the claims of an access token without verifying the
// signature; the token came straight from the identity platform.
func parseTokenClaims(tokenString string) (*TokenClaims, error) {
	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, &TokenClaims{})
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT: %w", err)
	}
	claims, ok := token.Claims.(*TokenClaims)
	if !ok {
		return nil, fmt.Errorf("failed to extract claims from token")
	}
	return claims, nil
}

// hasRole reports whether the token claims grant role.
func (c *TokenClaims) hasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}
