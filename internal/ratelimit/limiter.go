// Package ratelimit paces calls to provider APIs that need many requests per
// operation, such as per-day bill queries.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"cloudbridge/internal/clock"
	"cloudbridge/internal/config"
	"cloudbridge/internal/logging"
)

// failureWindow is how long a failure keeps slowing down later calls
const failureWindow = 5 * time.Minute

// Limiter is a token bucket that additionally pauses after failed calls
type Limiter struct {
	mu          sync.Mutex
	rate        float64
	burst       float64
	tokens      float64
	last        time.Time
	clock       clock.Clock
	backoff     *backoff.ExponentialBackOff
	pause       time.Duration
	failures    int
	lastFailure time.Time
}

// New creates a limiter. If cfg is nil, it uses config.DefaultRateLimitConfig.
func New(cfg *config.RateLimitConfig) *Limiter {
	return newWithClock(cfg, clock.RealClock{})
}

func newWithClock(cfg *config.RateLimitConfig, clk clock.Clock) *Limiter {
	if cfg == nil {
		cfg = &config.DefaultRateLimitConfig
	}
	rate := cfg.RequestsPerSecond
	if rate <= 0 {
		rate = config.DefaultRateLimitConfig.RequestsPerSecond
	}
	burst := float64(cfg.Burst)
	if burst < 1 {
		burst = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BaseDelay
	b.MaxInterval = cfg.MaxDelay
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0 // never give up; the window below resets instead
	b.Reset()

	return &Limiter{
		rate:    rate,
		burst:   burst,
		tokens:  burst,
		last:    clk.Now(),
		clock:   clk,
		backoff: b,
	}
}

// currentPause returns the pause owed for recent failures
func (l *Limiter) currentPause() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failures == 0 || l.clock.Now().Sub(l.lastFailure) > failureWindow {
		return 0
	}
	return l.pause
}

// reserve takes a token if one is available, otherwise reports how long until one is
func (l *Limiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.tokens += now.Sub(l.last).Seconds() * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.last = now

	if l.tokens >= 1 {
		l.tokens--
		return 0
	}
	return time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
}

// Wait blocks until a call may be made or ctx is done
func (l *Limiter) Wait(ctx context.Context) error {
	if pause := l.currentPause(); pause > 0 {
		logging.Debug("Rate limiter applying backoff", map[string]interface{}{
			"backoff_ms": pause.Milliseconds(),
		})
		if err := sleep(ctx, pause); err != nil {
			return err
		}
	}

	for {
		wait := l.reserve()
		if wait == 0 {
			return nil
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// OnSuccess clears the failure backoff
func (l *Limiter) OnSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failures > 0 {
		logging.Debug("Rate limiter resetting backoff after success", map[string]interface{}{
			"previous_failure_count": l.failures,
		})
		l.failures = 0
		l.pause = 0
		l.lastFailure = time.Time{}
		l.backoff.Reset()
	}
}

// OnFailure records a failed call and grows the pause before the next one
func (l *Limiter) OnFailure() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures++
	l.lastFailure = l.clock.Now()
	l.pause = l.backoff.NextBackOff()

	logging.Debug("Rate limiter recorded failure", map[string]interface{}{
		"failure_count":   l.failures,
		"next_backoff_ms": l.pause.Milliseconds(),
	})
}

// Registry hands out one limiter per key
type Registry struct {
	limiters sync.Map
}

var globalRegistry = &Registry{}

// Get returns the limiter for key, creating it from cfg on first use
func (r *Registry) Get(key string, cfg *config.RateLimitConfig) *Limiter {
	if limiter, ok := r.limiters.Load(key); ok {
		return limiter.(*Limiter)
	}
	actual, _ := r.limiters.LoadOrStore(key, New(cfg))
	return actual.(*Limiter)
}

// For returns the shared limiter for key
func For(key string, cfg *config.RateLimitConfig) *Limiter {
	return globalRegistry.Get(key, cfg)
}
