package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/YallaPapi/i2v-sub001/errors"
)

// RetryConfig configures the retry policy.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first)
	// for network and transient server failures.
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
	// UnknownMaxAttempts caps unclassified failures; kept low because the
	// failure may well be permanent.
	UnknownMaxAttempts int `yaml:"unknown_max_attempts" mapstructure:"unknown_max_attempts"`
	// InitialBackoff is the initial delay between retries.
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	// MaxBackoff is the maximum delay between retries.
	MaxBackoff time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	// BackoffFactor is the multiplier for exponential backoff.
	BackoffFactor float64 `yaml:"backoff_factor" mapstructure:"backoff_factor"`
	// Jitter adds randomness to backoff (0.0 to 1.0).
	Jitter float64 `yaml:"jitter" mapstructure:"jitter"`
	// RateLimitInitialBackoff is the initial delay after a rate-limit rejection.
	RateLimitInitialBackoff time.Duration `yaml:"rate_limit_initial_backoff" mapstructure:"rate_limit_initial_backoff"`
	// RateLimitMaxBackoff is the maximum delay after a rate-limit rejection.
	RateLimitMaxBackoff time.Duration `yaml:"rate_limit_max_backoff" mapstructure:"rate_limit_max_backoff"`
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:             3,
		UnknownMaxAttempts:      2,
		InitialBackoff:          500 * time.Millisecond,
		MaxBackoff:              30 * time.Second,
		BackoffFactor:           2.0,
		Jitter:                  0.2,
		RateLimitInitialBackoff: 5 * time.Second,
		RateLimitMaxBackoff:     2 * time.Minute,
	}
}

// ApplyDefaults fills zero fields with defaults.
func (c *RetryConfig) ApplyDefaults() {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.UnknownMaxAttempts <= 0 {
		c.UnknownMaxAttempts = def.UnknownMaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = def.BackoffFactor
	}
	if c.RateLimitInitialBackoff <= 0 {
		c.RateLimitInitialBackoff = def.RateLimitInitialBackoff
	}
	if c.RateLimitMaxBackoff <= 0 {
		c.RateLimitMaxBackoff = def.RateLimitMaxBackoff
	}
}

// Policy decides whether a classified failure is retried and how long to
// wait before the next attempt.
type Policy struct {
	cfg RetryConfig
}

// NewPolicy creates a retry policy from config.
func NewPolicy(cfg RetryConfig) *Policy {
	cfg.ApplyDefaults()
	return &Policy{cfg: cfg}
}

// ShouldRetry reports whether another attempt is allowed after attempts
// tries have been consumed. InvalidInput and Permanent failures never retry.
func (p *Policy) ShouldRetry(kind errors.Kind, attempts int) bool {
	if !errors.IsRetryableKind(kind) {
		return false
	}
	return attempts < p.maxAttempts(kind)
}

// Backoff computes the delay before the given attempt is retried. A
// provider-supplied retryAfter hint takes precedence over the computed
// backoff for rate-limit failures.
func (p *Policy) Backoff(kind errors.Kind, attempts int, retryAfter time.Duration) time.Duration {
	if kind == errors.KindRateLimit && retryAfter > 0 {
		return retryAfter
	}

	initial, cap := p.cfg.InitialBackoff, p.cfg.MaxBackoff
	if kind == errors.KindRateLimit {
		initial, cap = p.cfg.RateLimitInitialBackoff, p.cfg.RateLimitMaxBackoff
	}

	backoff := float64(initial) * math.Pow(p.cfg.BackoffFactor, float64(attempts-1))
	if backoff > float64(cap) {
		backoff = float64(cap)
	}

	if p.cfg.Jitter > 0 {
		backoff += rand.Float64() * p.cfg.Jitter * backoff
	}

	return time.Duration(backoff)
}

// MaxAttempts returns the attempt limit for a kind.
func (p *Policy) MaxAttempts(kind errors.Kind) int {
	return p.maxAttempts(kind)
}

func (p *Policy) maxAttempts(kind errors.Kind) int {
	switch kind {
	case errors.KindInvalidInput, errors.KindPermanent:
		return 1
	case errors.KindUnknown:
		return p.cfg.UnknownMaxAttempts
	default:
		return p.cfg.MaxAttempts
	}
}

// Sleep waits for d or until the context is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
