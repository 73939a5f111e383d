// Package mailbox holds the in-memory directory cache for Exchange Online mailboxes
// and the operations the CLI runs against it: normalizing raw service records,
// filtering and paging a cache snapshot, and the guarded read-modify-verify cycle
// that flips the cloud-managed (state of authority) flag on a single mailbox.
package mailbox

import (
	"fmt"
	"strings"
)

// Status is the state of authority label derived from the cloud-managed flag.
type Status int

const (
	StatusUnknown Status = iota
	StatusOnline
	StatusOnPrem
)

// String returns the label shown in tables and exports.
func (s Status) String() string {
	switch s {
	case StatusOnline:
		return "Online"
	case StatusOnPrem:
		return "OnPrem"
	default:
		return "Unknown"
	}
}

// MarshalText lets exports carry the label instead of the integer.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// RawRecord is a mailbox record as returned by the mailbox service.
// Field names follow the Exchange Online Get-Mailbox output.
type RawRecord struct {
	DisplayName               string `json:"DisplayName"`
	PrimarySmtpAddress        string `json:"PrimarySmtpAddress"`
	UserPrincipalName         string `json:"UserPrincipalName,omitempty"`
	RecipientTypeDetails      string `json:"RecipientTypeDetails,omitempty"`
	ExternalDirectoryObjectId string `json:"ExternalDirectoryObjectId,omitempty"`
	IsDirSynced               *bool  `json:"IsDirSynced"`
	IsExchangeCloudManaged    *bool  `json:"IsExchangeCloudManaged"`
}

// MailboxRow is the fixed-shape display row kept in the cache.
type MailboxRow struct {
	DisplayName       string `json:"displayName"`
	PrimaryAddress    string `json:"primaryAddress"`
	UserPrincipalName string `json:"userPrincipalName,omitempty"`
	RecipientType     string `json:"recipientType,omitempty"`
	IsDirectorySynced *bool  `json:"isDirectorySynced"`
	IsCloudManaged    *bool  `json:"isCloudManaged"`
}

// Status derives the label from IsCloudManaged on every call.
func (r MailboxRow) Status() Status {
	if r.IsCloudManaged == nil {
		return StatusUnknown
	}
	if *r.IsCloudManaged {
		return StatusOnline
	}
	return StatusOnPrem
}

// Key is the cache key for the row: the primary address, case-folded.
func (r MailboxRow) Key() string {
	return addressKey(r.PrimaryAddress)
}

// Normalize maps a raw service record onto a MailboxRow.
func Normalize(raw RawRecord) MailboxRow {
	return MailboxRow{
		DisplayName:       strings.TrimSpace(raw.DisplayName),
		PrimaryAddress:    strings.TrimSpace(raw.PrimarySmtpAddress),
		UserPrincipalName: strings.TrimSpace(raw.UserPrincipalName),
		RecipientType:     strings.TrimSpace(raw.RecipientTypeDetails),
		IsDirectorySynced: copyBool(raw.IsDirSynced),
		IsCloudManaged:    copyBool(raw.IsExchangeCloudManaged),
	}
}

// NormalizeAll maps a bulk read onto rows, keeping the service order.
func NormalizeAll(raws []RawRecord) []MailboxRow {
	rows := make([]MailboxRow, 0, len(raws))
	for _, raw := range raws {
		rows = append(rows, Normalize(raw))
	}
	return rows
}

// FormatFlag renders an optional flag for tables and audit lines.
func FormatFlag(b *bool) string {
	if b == nil {
		return "Unknown"
	}
	return fmt.Sprintf("%t", *b)
}

func copyBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

func addressKey(address string) string {
	return foldCase(strings.TrimSpace(address))
}
