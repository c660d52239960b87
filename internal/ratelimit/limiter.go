// Package ratelimit paces replayed requests so a fuzzing run does not flood the target.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter combines a global token bucket with a per-host minimum spacing.
type Limiter struct {
	limiter      *rate.Limiter
	requestDelay time.Duration
	nextSlot     map[string]time.Time
	mu           sync.Mutex
}

// Config contains rate limiting configuration
type Config struct {
	// RequestsPerSecond limits the global replay rate. Zero or less disables the global limit.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`

	// BurstSize allows brief bursts above the rate limit
	BurstSize int `mapstructure:"burst_size"`

	// MinDelay is the minimum spacing between requests to the same host
	MinDelay time.Duration `mapstructure:"min_delay"`
}

// DefaultConfig returns the replay pacing defaults.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10.0,
		BurstSize:         5,
		MinDelay:          50 * time.Millisecond,
	}
}

// NewLimiter creates a new rate limiter with the given configuration
func NewLimiter(config Config) *Limiter {
	limit := rate.Limit(config.RequestsPerSecond)
	if config.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := config.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiter:      rate.NewLimiter(limit, burst),
		requestDelay: config.MinDelay,
		nextSlot:     make(map[string]time.Time),
	}
}

// WaitForHost waits for the global limiter and then for the host's next free slot.
// Slots are reserved under the lock and slept on outside it, so callers for
// different hosts never block each other.
func (l *Limiter) WaitForHost(ctx context.Context, host string) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	now := time.Now()
	slot := now
	if next, ok := l.nextSlot[host]; ok && next.After(now) {
		slot = next
	}
	l.nextSlot[host] = slot.Add(l.requestDelay)
	l.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
