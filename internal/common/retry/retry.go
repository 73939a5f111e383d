package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"soatool/internal/common/logger"
)

// maxDelay caps the exponential backoff between attempts.
const maxDelay = 30 * time.Second

// IsRetryableError determines if an error is transient and worth retrying.
// Returns true for throttling and gateway responses from the admin API and
// for network timeouts and connection errors.
// Returns false for context cancellation, authentication failures and other
// permanent errors.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Check for context cancellation - never retry these
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return IsRetryableStatus(respErr.StatusCode)
	}

	// Check error message for common transient patterns
	errMsg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection reset",
		"connection refused",
		"temporary failure",
		"try again",
		"no such host",
		"network is unreachable",
		"broken pipe",
		"unexpected eof",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}

	return false
}

// IsRetryableStatus reports whether an HTTP status code signals a temporary
// condition: throttling (429) or an unavailable backend (500, 502, 503, 504).
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// RetryWithBackoff wraps an operation with exponential backoff retry logic.
// The operation is retried up to maxRetries times with exponentially increasing delays.
// Base delay doubles on each attempt (capped at 30 seconds).
// Context cancellation is respected and will stop retries immediately.
//
// Only idempotent reads should go through here; writes are attempted once.
//
// Example usage:
//
//	err := retry.RetryWithBackoff(ctx, slogger, 3, 2*time.Second, func() error {
//	    rows, err = client.ListMailboxes(ctx)
//	    return err
//	})
func RetryWithBackoff(ctx context.Context, slogger *slog.Logger, maxRetries int, baseDelay time.Duration, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = operation()

		if lastErr == nil {
			if attempt > 0 {
				logger.LogInfo(slogger, "Operation succeeded after retry", "retries", attempt)
			}
			return nil
		}

		if !IsRetryableError(lastErr) {
			return lastErr
		}

		if attempt == maxRetries {
			return fmt.Errorf("operation failed after %d retries: %w", maxRetries, lastErr)
		}

		delay := baseDelay * time.Duration(1<<uint(attempt))
		if delay > maxDelay {
			delay = maxDelay
		}

		logger.LogWarn(slogger, "Retryable error encountered",
			"attempt", attempt+1,
			"maxRetries", maxRetries,
			"error", lastErr,
			"delay", delay)

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	return lastErr
}
