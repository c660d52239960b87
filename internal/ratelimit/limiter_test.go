package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLimiterDefaults(t *testing.T) {
	cfg := DefaultConfig()
	l := NewLimiter(cfg)

	require.NotNil(t, l)
	assert.Equal(t, cfg.MinDelay, l.requestDelay)
	assert.Equal(t, cfg.BurstSize, l.limiter.Burst())
}

func TestWaitForHostSpacesSameHost(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 100, BurstSize: 10, MinDelay: 50 * time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.WaitForHost(ctx, "api.clinic.test"))
	assert.Less(t, time.Since(start), 20*time.Millisecond)

	start = time.Now()
	require.NoError(t, l.WaitForHost(ctx, "api.clinic.test"))
	assert.GreaterOrEqual(t, time.Since(start), 45*time.Millisecond)
}

func TestWaitForHostIndependentHosts(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 100, BurstSize: 10, MinDelay: 100 * time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	for _, host := range []string{"api1.clinic.test", "api2.clinic.test", "api3.clinic.test"} {
		require.NoError(t, l.WaitForHost(ctx, host))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Len(t, l.nextSlot, 3)
}

func TestWaitForHostGlobalRate(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 10, BurstSize: 1})
	ctx := context.Background()

	require.NoError(t, l.WaitForHost(ctx, "a.test"))
	start := time.Now()
	require.NoError(t, l.WaitForHost(ctx, "b.test"))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestUnlimitedConfig(t *testing.T) {
	l := NewLimiter(Config{})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, l.WaitForHost(ctx, "staging.internal"))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 1, l.limiter.Burst())
}

func TestWaitForHostHonoursContext(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 100, BurstSize: 10, MinDelay: time.Second})
	require.NoError(t, l.WaitForHost(context.Background(), "api.test"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.WaitForHost(ctx, "api.test"), context.DeadlineExceeded)

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	slow := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1})
	require.NoError(t, slow.WaitForHost(context.Background(), "api.test"))
	assert.Error(t, slow.WaitForHost(cancelled, "other.test"))
}
