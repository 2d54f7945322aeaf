package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/skimmer-dev/skimmer/internal/metrics"
)

// AdaptiveConfig bounds and tunes the feedback-controlled rate.
type AdaptiveConfig struct {
	InitialRPS float64
	MinRPS     float64
	MaxRPS     float64
	Burst      int

	// SuccessStreak consecutive successes raise the rate by IncreaseStep;
	// one throttled failure multiplies it by DecayFactor.
	SuccessStreak int
	IncreaseStep  float64
	DecayFactor   float64
}

// Adaptive adjusts its rate from reported outcomes, bounded to
// [MinRPS, MaxRPS]. Adjustments run under an exclusive lock so concurrent
// reports never lose updates.
type Adaptive struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	cfg     AdaptiveConfig
	current float64
	streak  int
}

// AdaptiveStats is a point-in-time view for the report and status API.
type AdaptiveStats struct {
	CurrentRPS    float64 `json:"current_rps"`
	SuccessStreak int     `json:"success_streak"`
	MinRPS        float64 `json:"min_rps"`
	MaxRPS        float64 `json:"max_rps"`
}

// NewAdaptive builds an adaptive controller, failing fast on inverted bounds.
func NewAdaptive(cfg AdaptiveConfig) (*Adaptive, error) {
	if cfg.MinRPS <= 0 {
		cfg.MinRPS = 0.1
	}
	if cfg.MaxRPS < cfg.MinRPS {
		return nil, fmt.Errorf("max rate %v below min rate %v", cfg.MaxRPS, cfg.MinRPS)
	}
	if cfg.SuccessStreak <= 0 {
		cfg.SuccessStreak = 10
	}
	if cfg.IncreaseStep <= 0 {
		cfg.IncreaseStep = 0.5
	}
	if cfg.DecayFactor <= 0 || cfg.DecayFactor >= 1 {
		cfg.DecayFactor = 0.5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	current := cfg.InitialRPS
	if current < cfg.MinRPS {
		current = cfg.MinRPS
	}
	if current > cfg.MaxRPS {
		current = cfg.MaxRPS
	}

	return &Adaptive{
		limiter: rate.NewLimiter(rate.Limit(current), cfg.Burst),
		cfg:     cfg,
		current: current,
	}, nil
}

// Acquire blocks until a token is available or the context ends.
func (a *Adaptive) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateWait(waited)
	}
	return nil
}

// ReportOutcome adjusts the rate. A throttled failure halves the rate (down
// to MinRPS) and resets the streak; sustained successes raise it additively
// up to MaxRPS. Non-throttled failures only break the streak.
func (a *Adaptive) ReportOutcome(success, throttled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if success {
		a.streak++
		if a.streak >= a.cfg.SuccessStreak {
			a.streak = 0
			if a.current < a.cfg.MaxRPS {
				a.setRate(a.current + a.cfg.IncreaseStep)
			}
		}
		return
	}

	a.streak = 0
	if throttled {
		a.setRate(a.current * a.cfg.DecayFactor)
	}
}

// Rate returns the current requests-per-second target.
func (a *Adaptive) Rate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Stats snapshots the controller state.
func (a *Adaptive) Stats() AdaptiveStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AdaptiveStats{
		CurrentRPS:    a.current,
		SuccessStreak: a.streak,
		MinRPS:        a.cfg.MinRPS,
		MaxRPS:        a.cfg.MaxRPS,
	}
}

// setRate clamps and applies a new rate. Caller holds the lock.
func (a *Adaptive) setRate(rps float64) {
	if rps < a.cfg.MinRPS {
		rps = a.cfg.MinRPS
	}
	if rps > a.cfg.MaxRPS {
		rps = a.cfg.MaxRPS
	}
	a.current = rps
	a.limiter.SetLimit(rate.Limit(rps))
	metrics.SetAdaptiveRate(rps)
}
