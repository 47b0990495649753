package config

import "time"

// RateLimitConfig holds configuration for pacing provider calls
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained request rate
	RequestsPerSecond float64
	// Burst is how many requests may be issued back to back
	Burst int
	// BaseDelay is the first pause applied after a failed call
	BaseDelay time.Duration
	// MaxDelay caps the pause after repeated failures
	MaxDelay time.Duration
}

var (
	// DefaultRateLimitConfig provides default values for rate limiting
	DefaultRateLimitConfig = RateLimitConfig{
		RequestsPerSecond: 5.0,
		Burst:             5,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
	}
)
