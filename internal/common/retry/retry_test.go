package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

func responseError(status int) error {
	return &azcore.ResponseError{
		StatusCode: status,
		RawResponse: &http.Response{
			StatusCode: status,
			Status:     http.StatusText(status),
			Header:     http.Header{},
			Body:       http.NoBody,
			Request:    httptest.NewRequest(http.MethodPost, "https://outlook.office365.com/adminapi/beta/t/InvokeCommand", nil),
		},
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"wrapped deadline", fmt.Errorf("list: %w", context.DeadlineExceeded), false},
		{"429", responseError(http.StatusTooManyRequests), true},
		{"503 wrapped", fmt.Errorf("Get-Mailbox: %w", responseError(http.StatusServiceUnavailable)), true},
		{"500", responseError(http.StatusInternalServerError), true},
		{"401", responseError(http.StatusUnauthorized), false},
		{"403", responseError(http.StatusForbidden), false},
		{"404", responseError(http.StatusNotFound), false},
		{"timeout text", errors.New("i/o timeout"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"dns", errors.New("dial tcp: lookup outlook.office365.com: no such host"), true},
		{"permanent", errors.New("invalid identity"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableError(tt.err); got != tt.want {
				t.Errorf("IsRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRetryableStatus(t *testing.T) {
	for code, want := range map[int]bool{
		200: false, 400: false, 404: false, 429: true, 500: true, 501: false, 502: true, 503: true, 504: true,
	} {
		if got := IsRetryableStatus(code); got != want {
			t.Errorf("IsRetryableStatus(%d) = %v, want %v", code, got, want)
		}
	}
}

func TestRetryWithBackoff(t *testing.T) {
	transient := errors.New("connection refused")
	permanent := errors.New("access denied")

	tests := []struct {
		name         string
		maxRetries   int
		failures     int
		failWith     error
		wantErr      bool
		wantAttempts int
	}{
		{"success first try", 3, 0, nil, false, 1},
		{"success after two transient failures", 3, 2, transient, false, 3},
		{"transient exhausts retries", 2, 10, transient, true, 3},
		{"permanent fails immediately", 3, 10, permanent, true, 1},
		{"zero retries", 0, 10, transient, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := RetryWithBackoff(context.Background(), nil, tt.maxRetries, time.Millisecond, func() error {
				attempts++
				if attempts <= tt.failures {
					return tt.failWith
				}
				return nil
			})
			if (err != nil) != tt.wantErr {
				t.Errorf("RetryWithBackoff() error = %v, wantErr %v", err, tt.wantErr)
			}
			if attempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", attempts, tt.wantAttempts)
			}
			if tt.wantErr && !errors.Is(err, tt.failWith) {
				t.Errorf("error %v does not wrap %v", err, tt.failWith)
			}
		})
	}
}

func TestRetryWithBackoff_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := RetryWithBackoff(ctx, nil, 5, time.Hour, func() error {
		attempts++
		cancel()
		return errors.New("timeout")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}
