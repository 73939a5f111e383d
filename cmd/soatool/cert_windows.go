//go:build windows

package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"syscall"
	"unsafe"
)

var (
	modcrypt32 = syscall.NewLazyDLL("crypt32.dll")

	procCertOpenSystemStoreW             = modcrypt32.NewProc("CertOpenSystemStoreW")
	procCertFindCertificateInStore       = modcrypt32.NewProc("CertFindCertificateInStore")
	procCertOpenStore                    = modcrypt32.NewProc("CertOpenStore")
	procCertAddCertificateContextToStore = modcrypt32.NewProc("CertAddCertificateContextToStore")
	procCertCloseStore                   = modcrypt32.NewProc("CertCloseStore")
	procPFXExportCertStoreEx             = modcrypt32.NewProc("PFXExportCertStoreEx")
	procCertFreeCertificateContext       = modcrypt32.NewProc("CertFreeCertificateContext")
)

const (
	x509ASNEncoding  = 0x00000001
	pkcs7ASNEncoding = 0x00010000

	certFindSHA1Hash    = 1 << 16
	certStoreProvMemory = 2
	certStoreAddAlways  = 4
	exportPrivateKeys   = 0x0004
	reportNoPrivateKey  = 0x0008
	reportNotExportable = 0x0010
)

// cryptBlob mirrors CRYPT_DATA_BLOB.
type cryptBlob struct {
	DataSize uint32
	Data     *byte
}

// exportCertFromStore exports the certificate with the given SHA-1 thumbprint
// from CurrentUser\My as a PFX protected by a random password. The private
// key must be marked exportable.
func exportCertFromStore(thumbprint string) ([]byte, string, error) {
	hash, err := hex.DecodeString(thumbprint)
	if err != nil || len(hash) == 0 {
		return nil, "", fmt.Errorf("invalid thumbprint format: %s", thumbprint)
	}

	storeName, _ := syscall.UTF16PtrFromString("MY")
	userStore, _, err := procCertOpenSystemStoreW.Call(0, uintptr(unsafe.Pointer(storeName)))
	if userStore == 0 {
		return nil, "", fmt.Errorf("failed to open system certificate store: %v", err)
	}
	defer procCertCloseStore.Call(userStore, 0)

	hashBlob := cryptBlob{DataSize: uint32(len(hash)), Data: &hash[0]}
	certCtx, _, _ := procCertFindCertificateInStore.Call(
		userStore,
		uintptr(x509ASNEncoding|pkcs7ASNEncoding),
		0,
		uintptr(certFindSHA1Hash),
		uintptr(unsafe.Pointer(&hashBlob)),
		0,
	)
	if certCtx == 0 {
		return nil, "", fmt.Errorf("certificate with thumbprint %s not found in CurrentUser\\My", thumbprint)
	}
	defer procCertFreeCertificateContext.Call(certCtx)

	// A memory store holding only this certificate keeps the export to one
	// certificate and its key.
	memStore, _, err := procCertOpenStore.Call(uintptr(certStoreProvMemory), 0, 0, 0, 0)
	if memStore == 0 {
		return nil, "", fmt.Errorf("failed to create temporary memory store: %v", err)
	}
	defer procCertCloseStore.Call(memStore, 0)

	if ret, _, err := procCertAddCertificateContextToStore.Call(memStore, certCtx, uintptr(certStoreAddAlways), 0); ret == 0 {
		return nil, "", fmt.Errorf("failed to add certificate to memory store: %v", err)
	}

	password, err := randomPassword()
	if err != nil {
		return nil, "", err
	}
	data, err := exportPFX(memStore, password)
	if err != nil {
		return nil, "", err
	}
	return data, password, nil
}

// exportPFX calls PFXExportCertStoreEx twice: once for the size, once for
// the data.
func exportPFX(store uintptr, password string) ([]byte, error) {
	pw, _ := syscall.UTF16PtrFromString(password)
	flags := uintptr(exportPrivateKeys | reportNoPrivateKey | reportNotExportable)

	var blob cryptBlob
	if ret, _, err := procPFXExportCertStoreEx.Call(store, uintptr(unsafe.Pointer(&blob)), uintptr(unsafe.Pointer(pw)), 0, flags); ret == 0 {
		return nil, fmt.Errorf("failed to determine PFX size (key might not be exportable): %v", err)
	}

	buf := make([]byte, blob.DataSize)
	blob.Data = &buf[0]
	if ret, _, err := procPFXExportCertStoreEx.Call(store, uintptr(unsafe.Pointer(&blob)), uintptr(unsafe.Pointer(pw)), 0, flags); ret == 0 {
		return nil, fmt.Errorf("failed to export PFX data: %v", err)
	}
	return buf, nil
}

func randomPassword() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random password: %w", err)
	}
	return hex.EncodeToString(b), nil
}
