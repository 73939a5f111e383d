// Package certinfo summarizes the client certificate an app registration
// authenticates with, so an expired or unsuitable certificate is reported
// before the identity platform rejects it.
package certinfo

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ExpiryWarningDays is how close to NotAfter a certificate is reported as
// expiring soon.
const ExpiryWarningDays = 30

// Info describes the leaf certificate of a credential chain.
type Info struct {
	Subject            string
	Issuer             string
	Thumbprint         string // SHA-1 of the DER bytes, upper-case hex as shown by Entra ID
	SerialNumber       string
	ValidFrom          time.Time
	ValidTo            time.Time
	KeyUsage           []string
	ExtKeyUsage        []string
	PublicKeyAlgorithm string
	PublicKeySize      int
	ChainLength        int
	DaysUntilExpiry    int // negative once expired
	IsExpired          bool
	NotYetValid        bool
	IsSelfSigned       bool
}

// Analyze inspects certs, leaf first, at time now.
func Analyze(certs []*x509.Certificate, now time.Time) (*Info, error) {
	if len(certs) == 0 || certs[0] == nil {
		return nil, fmt.Errorf("no certificate in chain")
	}
	leaf := certs[0]
	sum := sha1.Sum(leaf.Raw)

	return &Info{
		Subject:            leaf.Subject.String(),
		Issuer:             leaf.Issuer.String(),
		Thumbprint:         strings.ToUpper(hex.EncodeToString(sum[:])),
		SerialNumber:       fmt.Sprintf("%X", leaf.SerialNumber),
		ValidFrom:          leaf.NotBefore,
		ValidTo:            leaf.NotAfter,
		KeyUsage:           keyUsage(leaf),
		ExtKeyUsage:        extKeyUsage(leaf),
		PublicKeyAlgorithm: leaf.PublicKeyAlgorithm.String(),
		PublicKeySize:      publicKeySize(leaf),
		ChainLength:        len(certs),
		DaysUntilExpiry:    int(leaf.NotAfter.Sub(now).Hours() / 24),
		IsExpired:          now.After(leaf.NotAfter),
		NotYetValid:        now.Before(leaf.NotBefore),
		IsSelfSigned:       leaf.Subject.String() == leaf.Issuer.String(),
	}, nil
}

// ExpiresSoon reports a valid certificate inside the warning window.
func (i *Info) ExpiresSoon() bool {
	return !i.IsExpired && i.DaysUntilExpiry < ExpiryWarningDays
}

// Problem returns why the certificate cannot be used, or nil.
func (i *Info) Problem() error {
	switch {
	case i.IsExpired:
		return fmt.Errorf("certificate %s expired on %s", i.Thumbprint, i.ValidTo.Format("2006-01-02"))
	case i.NotYetValid:
		return fmt.Errorf("certificate %s is not valid before %s", i.Thumbprint, i.ValidFrom.Format("2006-01-02"))
	case len(i.KeyUsage) > 0 && !contains(i.KeyUsage, "DigitalSignature"):
		return fmt.Errorf("certificate %s does not allow digital signatures", i.Thumbprint)
	}
	return nil
}

// MatchesThumbprint compares against a thumbprint as typed by an operator:
// case, spaces and colons are ignored.
func (i *Info) MatchesThumbprint(thumbprint string) bool {
	clean := strings.NewReplacer(" ", "", ":", "").Replace(thumbprint)
	return strings.EqualFold(clean, i.Thumbprint)
}

func keyUsage(cert *x509.Certificate) []string {
	var usage []string
	for _, u := range []struct {
		bit  x509.KeyUsage
		name string
	}{
		{x509.KeyUsageDigitalSignature, "DigitalSignature"},
		{x509.KeyUsageContentCommitment, "ContentCommitment"},
		{x509.KeyUsageKeyEncipherment, "KeyEncipherment"},
		{x509.KeyUsageDataEncipherment, "DataEncipherment"},
		{x509.KeyUsageKeyAgreement, "KeyAgreement"},
		{x509.KeyUsageCertSign, "CertSign"},
		{x509.KeyUsageCRLSign, "CRLSign"},
	} {
		if cert.KeyUsage&u.bit != 0 {
			usage = append(usage, u.name)
		}
	}
	return usage
}

func extKeyUsage(cert *x509.Certificate) []string {
	var usage []string
	for _, eku := range cert.ExtKeyUsage {
		switch eku {
		case x509.ExtKeyUsageAny:
			usage = append(usage, "Any")
		case x509.ExtKeyUsageServerAuth:
			usage = append(usage, "ServerAuth")
		case x509.ExtKeyUsageClientAuth:
			usage = append(usage, "ClientAuth")
		case x509.ExtKeyUsageCodeSigning:
			usage = append(usage, "CodeSigning")
		case x509.ExtKeyUsageEmailProtection:
			usage = append(usage, "EmailProtection")
		}
	}
	return usage
}

func publicKeySize(cert *x509.Certificate) int {
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		return pub.N.BitLen()
	case *ecdsa.PublicKey:
		return pub.Curve.Params().BitSize
	case ed25519.PublicKey:
		return 256
	default:
		return 0
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
