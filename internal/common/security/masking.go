// Package security masks credentials and mailbox identities before they are
// written to console or log output.
package security

import "strings"

const mask = "****"

// maskMiddle keeps the first and last two characters. Values of four
// characters or less are fully masked.
func maskMiddle(s string) string {
	if len(s) <= 4 {
		return mask
	}
	return s[:2] + mask + s[len(s)-2:]
}

// MaskSecret masks a client secret or certificate password.
// Shows first 4 characters only. Empty secrets return empty string.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return mask
	}
	return secret[:4] + mask
}

// MaskAccessToken masks a bearer token for verbose output.
// Shows first 8 and last 4 characters for long tokens, half on each side
// for short ones.
func MaskAccessToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 16 {
		return token[:len(token)/2] + "..." + token[len(token)/2:]
	}
	return token[:8] + "..." + token[len(token)-4:]
}

// MaskGUID masks a tenant, client or object ID.
// Shows first 8 characters followed by asterisks.
func MaskGUID(guid string) string {
	if len(guid) <= 8 {
		return guid + mask
	}
	return guid[:8] + mask
}

// MaskEmail masks an SMTP address or UPN.
// Example: "user@example.com" becomes "us****@ex****"
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}

	local, domain, found := strings.Cut(email, "@")
	if !found {
		return maskMiddle(email)
	}

	maskedLocal := mask
	if len(local) > 2 {
		maskedLocal = local[:2] + mask
	}
	maskedDomain := mask
	if len(domain) > 2 {
		maskedDomain = domain[:2] + mask
	}
	return maskedLocal + "@" + maskedDomain
}

// MaskIdentity masks a mailbox identity of any form: address, object ID or
// alias.
func MaskIdentity(identity string) string {
	identity = strings.TrimSpace(identity)
	switch {
	case identity == "":
		return ""
	case strings.Contains(identity, "@"):
		return MaskEmail(identity)
	case len(identity) == 36 && strings.Count(identity, "-") == 4:
		return MaskGUID(identity)
	default:
		return maskMiddle(identity)
	}
}
