package engine

import (
	"time"

	"github.com/YallaPapi/i2v-sub001/resilience"
)

// Config configures the execution engine.
type Config struct {
	// Gate bounds in-flight provider calls.
	Gate resilience.GateConfig `yaml:"gate" mapstructure:"gate"`
	// Retry configures backoff for classified failures.
	Retry resilience.RetryConfig `yaml:"retry" mapstructure:"retry"`
	// PollInterval is the delay between provider polls.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	// PollTimeout bounds one attempt's total polling duration. Exceeding it
	// is a network-class failure handled by the retry policy, not a hang.
	PollTimeout time.Duration `yaml:"poll_timeout" mapstructure:"poll_timeout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Gate:         resilience.DefaultGateConfig(),
		Retry:        resilience.DefaultRetryConfig(),
		PollInterval: 2 * time.Second,
		PollTimeout:  10 * time.Minute,
	}
}

// ApplyDefaults fills zero fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.Gate.MaxInFlight <= 0 {
		c.Gate.MaxInFlight = resilience.DefaultGateConfig().MaxInFlight
	}
	c.Retry.ApplyDefaults()
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 10 * time.Minute
	}
}
