package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudbridge/internal/clock"
	"cloudbridge/internal/config"
)

func testConfig() *config.RateLimitConfig {
	return &config.RateLimitConfig{
		RequestsPerSecond: 1000,
		Burst:             2,
		BaseDelay:         10 * time.Millisecond,
		MaxDelay:          40 * time.Millisecond,
	}
}

func TestBurstThenRefill(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
	l := newWithClock(testConfig(), clk)

	assert.Equal(t, time.Duration(0), l.reserve())
	assert.Equal(t, time.Duration(0), l.reserve())
	assert.Greater(t, l.reserve(), time.Duration(0))

	clk.Advance(10 * time.Millisecond)
	assert.Equal(t, time.Duration(0), l.reserve())
}

func TestWaitHonoursContext(t *testing.T) {
	l := New(&config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1})
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)
}

func TestFailureBackoff(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
	l := newWithClock(testConfig(), clk)

	assert.Equal(t, time.Duration(0), l.currentPause())

	l.OnFailure()
	first := l.currentPause()
	assert.InDelta(t, float64(10*time.Millisecond), float64(first), float64(2*time.Millisecond))

	l.OnFailure()
	second := l.currentPause()
	assert.Greater(t, second, first)

	for i := 0; i < 5; i++ {
		l.OnFailure()
	}
	assert.LessOrEqual(t, l.currentPause(), 44*time.Millisecond)

	clk.Advance(failureWindow + time.Second)
	assert.Equal(t, time.Duration(0), l.currentPause())

	l.OnFailure()
	l.OnSuccess()
	assert.Equal(t, time.Duration(0), l.currentPause())

	require.NoError(t, l.Wait(context.Background()))
}

func TestRegistrySharesLimiters(t *testing.T) {
	r := &Registry{}
	a := r.Get("aliyun:key", testConfig())
	b := r.Get("aliyun:key", nil)
	c := r.Get("aliyun:other", testConfig())

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Same(t, For("shared", nil), For("shared", nil))
}
