package certinfo

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"math/big"
	"strings"
	"testing"
	"time"
)

func newCert(t *testing.T, notBefore, notAfter time.Time, usage x509.KeyUsage) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(0xBEEF),
		Subject:      pkix.Name{CommonName: "soatool-app"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     usage,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return cert
}

func TestAnalyze(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	cert := newCert(t, now.AddDate(0, -1, 0), now.AddDate(1, 0, 0), x509.KeyUsageDigitalSignature)

	info, err := Analyze([]*x509.Certificate{cert}, now)
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}

	sum := sha1.Sum(cert.Raw)
	if info.Thumbprint != strings.ToUpper(hex.EncodeToString(sum[:])) {
		t.Errorf("Thumbprint = %s", info.Thumbprint)
	}
	if info.SerialNumber != "BEEF" {
		t.Errorf("SerialNumber = %s, want BEEF", info.SerialNumber)
	}
	if info.PublicKeyAlgorithm != "ECDSA" || info.PublicKeySize != 256 {
		t.Errorf("key = %s %d, want ECDSA 256", info.PublicKeyAlgorithm, info.PublicKeySize)
	}
	if !info.IsSelfSigned || info.ChainLength != 1 {
		t.Errorf("IsSelfSigned/ChainLength = %v/%d", info.IsSelfSigned, info.ChainLength)
	}
	if len(info.ExtKeyUsage) != 1 || info.ExtKeyUsage[0] != "ClientAuth" {
		t.Errorf("ExtKeyUsage = %v", info.ExtKeyUsage)
	}
	if info.Problem() != nil || info.ExpiresSoon() {
		t.Errorf("Problem/ExpiresSoon = %v/%v for a valid certificate", info.Problem(), info.ExpiresSoon())
	}
}

func TestAnalyze_Validity(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		notBefore   time.Time
		notAfter    time.Time
		usage       x509.KeyUsage
		wantProblem string
		wantSoon    bool
	}{
		{"valid", now.AddDate(0, -1, 0), now.AddDate(0, 6, 0), x509.KeyUsageDigitalSignature, "", false},
		{"expires in ten days", now.AddDate(0, -1, 0), now.AddDate(0, 0, 10), x509.KeyUsageDigitalSignature, "", true},
		{"expired", now.AddDate(-1, 0, 0), now.AddDate(0, 0, -1), x509.KeyUsageDigitalSignature, "expired on 2026-10-15", false},
		{"not yet valid", now.AddDate(0, 0, 2), now.AddDate(1, 0, 0), x509.KeyUsageDigitalSignature, "not valid before", false},
		{"encipherment only", now.AddDate(0, -1, 0), now.AddDate(1, 0, 0), x509.KeyUsageKeyEncipherment, "digital signatures", false},
		{"no key usage extension", now.AddDate(0, -1, 0), now.AddDate(1, 0, 0), 0, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := Analyze([]*x509.Certificate{newCert(t, tt.notBefore, tt.notAfter, tt.usage)}, now)
			if err != nil {
				t.Fatalf("Analyze() error: %v", err)
			}
			problem := info.Problem()
			switch {
			case tt.wantProblem == "" && problem != nil:
				t.Errorf("Problem() = %v, want nil", problem)
			case tt.wantProblem != "" && (problem == nil || !strings.Contains(problem.Error(), tt.wantProblem)):
				t.Errorf("Problem() = %v, want containing %q", problem, tt.wantProblem)
			}
			if info.ExpiresSoon() != tt.wantSoon {
				t.Errorf("ExpiresSoon() = %v, want %v (days %d)", info.ExpiresSoon(), tt.wantSoon, info.DaysUntilExpiry)
			}
		})
	}
}

func TestAnalyze_Empty(t *testing.T) {
	if _, err := Analyze(nil, time.Now()); err == nil {
		t.Error("Analyze(nil) expected error")
	}
}

func TestMatchesThumbprint(t *testing.T) {
	info := &Info{Thumbprint: "0123456789ABCDEF0123456789ABCDEF01234567"}
	for in, want := range map[string]bool{
		"0123456789ABCDEF0123456789ABCDEF01234567":                    true,
		"0123456789abcdef0123456789abcdef01234567":                    true,
		"01 23 45 67 89 ab cd ef 01 23 45 67 89 ab cd ef 01 23 45 67": true,
		"01:23:45:67:89:AB:CD:EF:01:23:45:67:89:AB:CD:EF:01:23:45:67": true,
		"FFFF456789ABCDEF0123456789ABCDEF01234567":                    false,
	} {
		if got := info.MatchesThumbprint(in); got != want {
			t.Errorf("MatchesThumbprint(%q) = %v, want %v", in, got, want)
		}
	}
	if info.MatchesThumbprint("") {
		t.Error("MatchesThumbprint(\"\") = true")
	}
}
