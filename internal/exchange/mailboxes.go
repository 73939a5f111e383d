package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"soatool/internal/common/retry"
	"soatool/internal/mailbox"
)

// ErrMailboxNotFound is returned when an identity resolves to no mailbox.
var ErrMailboxNotFound = errors.New("mailbox not found")

var _ mailbox.Directory = (*Client)(nil)

// ListMailboxes runs Get-Mailbox -ResultSize Unlimited.
func (c *Client) ListMailboxes(ctx context.Context) ([]mailbox.RawRecord, error) {
	var objects []json.RawMessage
	err := retry.RetryWithBackoff(ctx, c.logger, c.maxRetries, c.retryDelay, func() error {
		var err error
		objects, err = c.InvokeCommand(ctx, "Get-Mailbox", map[string]any{
			"ResultSize": "Unlimited",
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return decodeRecords(objects)
}

// GetMailbox runs Get-Mailbox -Identity.
func (c *Client) GetMailbox(ctx context.Context, identity string) (mailbox.RawRecord, error) {
	var objects []json.RawMessage
	err := retry.RetryWithBackoff(ctx, c.logger, c.maxRetries, c.retryDelay, func() error {
		var err error
		objects, err = c.InvokeCommand(ctx, "Get-Mailbox", map[string]any{
			"Identity": identity,
		})
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return mailbox.RawRecord{}, fmt.Errorf("%w: %s", ErrMailboxNotFound, identity)
		}
		return mailbox.RawRecord{}, err
	}

	records, err := decodeRecords(objects)
	if err != nil {
		return mailbox.RawRecord{}, err
	}
	switch len(records) {
	case 0:
		return mailbox.RawRecord{}, fmt.Errorf("%w: %s", ErrMailboxNotFound, identity)
	case 1:
		return records[0], nil
	default:
		return mailbox.RawRecord{}, fmt.Errorf("identity %q matches %d mailboxes", identity, len(records))
	}
}

// SetCloudManaged runs Set-Mailbox -IsExchangeCloudManaged. It is attempted
// exactly once.
func (c *Client) SetCloudManaged(ctx context.Context, identity string, managed bool) error {
	_, err := c.InvokeCommand(ctx, "Set-Mailbox", map[string]any{
		"Identity":               identity,
		"IsExchangeCloudManaged": managed,
	})
	if err != nil && isNotFound(err) {
		return fmt.Errorf("%w: %s", ErrMailboxNotFound, identity)
	}
	return err
}

func decodeRecords(objects []json.RawMessage) ([]mailbox.RawRecord, error) {
	records := make([]mailbox.RawRecord, 0, len(objects))
	for i, obj := range objects {
		var rec mailbox.RawRecord
		if err := json.Unmarshal(obj, &rec); err != nil {
			return nil, fmt.Errorf("decoding mailbox %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// isNotFound recognizes the admin API's answer for an unknown identity. The
// service reports it either as 404 or as a 400 carrying the cmdlet's
// ManagementObjectNotFoundException text.
func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	if respErr.StatusCode == http.StatusNotFound {
		return true
	}
	msg := strings.ToLower(respErr.Error())
	return strings.Contains(msg, "couldn't be found") ||
		strings.Contains(msg, "managementobjectnotfound")
}
