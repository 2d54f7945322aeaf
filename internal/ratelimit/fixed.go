// Package ratelimit implements the request pacing strategies: a fixed-rate
// token bucket and an adaptive feedback-controlled rate.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/skimmer-dev/skimmer/internal/metrics"
)

// Fixed is a classic token bucket: capacity = burst, refill = requests/second.
// Acquire is the only intentionally blocking call on the hot path.
type Fixed struct {
	limiter *rate.Limiter
}

// NewFixed builds a fixed-rate controller.
func NewFixed(rps float64, burst int) (*Fixed, error) {
	if rps <= 0 {
		return nil, fmt.Errorf("rate limit must be > 0, got %v", rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Fixed{limiter: rate.NewLimiter(rate.Limit(rps), burst)}, nil
}

// Acquire blocks until a token is available or the context ends.
func (f *Fixed) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := f.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateWait(waited)
	}
	return nil
}

// ReportOutcome is a no-op in fixed mode.
func (f *Fixed) ReportOutcome(_, _ bool) {}
