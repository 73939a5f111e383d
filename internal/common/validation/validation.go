package validation

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
)

// maxIdentityLength bounds mailbox identities accepted on the command line.
const maxIdentityLength = 320

// ValidateEmail performs basic email format validation.
// Checks for the presence of @ and validates the local and domain parts.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email cannot be empty")
	}
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email format: %s (missing @)", email)
	}
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("invalid email format: %s", email)
	}
	if strings.ContainsFunc(email, unicode.IsControl) {
		return fmt.Errorf("invalid email format: contains control characters")
	}
	return nil
}

// ValidateGUID validates that a string matches standard GUID format (8-4-4-4-12).
// Example: 12345678-1234-1234-1234-123456789012
func ValidateGUID(guid, fieldName string) error {
	guid = strings.TrimSpace(guid)
	if guid == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if len(guid) != 36 {
		return fmt.Errorf("%s should be a GUID (36 characters, format: 12345678-1234-1234-1234-123456789012)", fieldName)
	}
	if guid[8] != '-' || guid[13] != '-' || guid[18] != '-' || guid[23] != '-' {
		return fmt.Errorf("%s has invalid GUID format (dashes at wrong positions)", fieldName)
	}
	return nil
}

// ValidateIdentity checks a mailbox identity given by the operator. Exchange
// resolves addresses, UPNs, aliases and object IDs, so only the shape is
// checked here.
func ValidateIdentity(identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return fmt.Errorf("identity cannot be empty")
	}
	if len(identity) > maxIdentityLength {
		return fmt.Errorf("identity too long (max %d characters)", maxIdentityLength)
	}
	if strings.ContainsFunc(identity, unicode.IsControl) {
		return fmt.Errorf("identity contains control characters")
	}
	if strings.Contains(identity, "@") {
		return ValidateEmail(identity)
	}
	return nil
}

// ValidateFilePath validates and sanitizes a file path for security and usability.
// Checks for path traversal attempts, verifies file exists and is accessible.
func ValidateFilePath(path, fieldName string) error {
	if path == "" {
		return nil // Empty is allowed for optional fields
	}

	cleanPath := filepath.Clean(path)
	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return fmt.Errorf("%s: invalid path: %w", fieldName, err)
	}

	// Relative paths must stay inside the working directory tree.
	if !filepath.IsAbs(path) && strings.Contains(cleanPath, "..") {
		return fmt.Errorf("%s: path contains directory traversal (..) which is not allowed", fieldName)
	}

	fileInfo, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: file not found: %s", fieldName, path)
		}
		if os.IsPermission(err) {
			return fmt.Errorf("%s: permission denied: %s", fieldName, path)
		}
		return fmt.Errorf("%s: cannot access file: %w", fieldName, err)
	}

	if !fileInfo.Mode().IsRegular() {
		return fmt.Errorf("%s: not a regular file (is it a directory?): %s", fieldName, path)
	}

	return nil
}

// ValidateHostname validates a hostname or IP address.
// Accepts DNS names, IPv4 addresses, and IPv6 addresses.
func ValidateHostname(hostname string) error {
	hostname = strings.TrimSpace(hostname)
	if hostname == "" {
		return fmt.Errorf("hostname cannot be empty")
	}

	if net.ParseIP(hostname) != nil {
		return nil
	}

	if len(hostname) > 253 {
		return fmt.Errorf("hostname too long (max 253 characters)")
	}

	for _, ch := range hostname {
		if !((ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') ||
			(ch >= '0' && ch <= '9') || ch == '.' || ch == '-') {
			return fmt.Errorf("hostname contains invalid character: %c", ch)
		}
	}

	if strings.HasPrefix(hostname, "-") || strings.HasSuffix(hostname, "-") ||
		strings.HasPrefix(hostname, ".") || strings.HasSuffix(hostname, ".") {
		return fmt.Errorf("hostname cannot start or end with hyphen or dot")
	}

	return nil
}

// ValidatePort validates that a port number is in the valid range (1-65535).
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535 (got %d)", port)
	}
	return nil
}

// ValidateProxyURL validates an outbound proxy URL. Supported schemes are
// http, https and socks5. An empty URL means no proxy.
func ValidateProxyURL(proxyURL string) error {
	if proxyURL == "" {
		return nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy URL format: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https", "socks5":
	default:
		return fmt.Errorf("unsupported proxy scheme %q (use http, https or socks5)", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("proxy URL must include hostname: %s", proxyURL)
	}
	if err := ValidateHostname(host); err != nil {
		return fmt.Errorf("invalid proxy hostname: %w", err)
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid proxy port %q: %w", p, err)
		}
		if err := ValidatePort(port); err != nil {
			return fmt.Errorf("invalid proxy port: %w", err)
		}
	}

	if u.User != nil && u.User.Username() == "" {
		return fmt.Errorf("proxy URL has credentials with an empty username")
	}

	return nil
}

// ValidateEndpoint checks the Exchange Online admin endpoint. It must be an
// absolute https URL without query or fragment.
func ValidateEndpoint(endpoint string) error {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return fmt.Errorf("invalid endpoint URL: %w", err)
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return fmt.Errorf("endpoint must use https (got %q)", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("endpoint must include hostname: %s", endpoint)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("endpoint must not contain a query or fragment: %s", endpoint)
	}
	return nil
}
