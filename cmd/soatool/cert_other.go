//go:build !windows

package main

import "errors"

// exportCertFromStore is only available on Windows.
func exportCertFromStore(thumbprint string) ([]byte, string, error) {
	return nil, "", errors.New("-thumbprint requires the Windows certificate store; use -pfx or -secret on this platform")
}
