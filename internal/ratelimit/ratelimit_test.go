package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterBurstThenDeny(t *testing.T) {
	limiter := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         5,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	for i := 0; i < 5; i++ {
		require.True(t, limiter.Allow("203.0.113.7"), "request %d within burst", i)
	}
	assert.False(t, limiter.Allow("203.0.113.7"))

	// 60/min replenishes one token per second.
	time.Sleep(1100 * time.Millisecond)
	assert.True(t, limiter.Allow("203.0.113.7"))
}

func TestLimiterIsolatesClients(t *testing.T) {
	limiter := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         3,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		limiter.Allow("client-a")
	}
	assert.False(t, limiter.Allow("client-a"))
	assert.True(t, limiter.Allow("client-b"))
}

func TestLimiterReplenishment(t *testing.T) {
	limiter := New(Config{
		RequestsPerMinute: 600,
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	require.True(t, limiter.Allow("client"))
	assert.False(t, limiter.Allow("client"))

	// 600/min is 10 per second, so a token lands within ~100ms.
	time.Sleep(110 * time.Millisecond)
	assert.True(t, limiter.Allow("client"))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 60, cfg.RequestsPerMinute)
	assert.Equal(t, 10, cfg.BurstSize)
	assert.Equal(t, time.Minute, cfg.CleanupInterval)
}
