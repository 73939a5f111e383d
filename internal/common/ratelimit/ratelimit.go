// Package ratelimit throttles outgoing requests to the admin APIs with a
// token bucket (burst of one).
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Limiter wraps rate.Limiter. A zero or negative rate disables limiting.
type Limiter struct {
	limiter *rate.Limiter
	rps     float64
}

// New creates a limiter allowing rps requests per second.
func New(rps float64) *Limiter {
	if rps <= 0 {
		return &Limiter{}
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		rps:     rps,
	}
}

// Enabled reports whether requests are throttled.
func (l *Limiter) Enabled() bool {
	return l != nil && l.limiter != nil
}

// Wait blocks until a request may proceed or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if !l.Enabled() {
		return nil
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

func (l *Limiter) String() string {
	if !l.Enabled() {
		return "rate limiting disabled"
	}
	if l.rps < 1 {
		interval := time.Duration(float64(time.Second) / l.rps)
		return fmt.Sprintf("1 request per %s", interval.Round(time.Millisecond))
	}
	return fmt.Sprintf("%.2f rps", l.rps)
}
