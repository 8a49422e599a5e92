package config

import (
	"fmt"
	"time"

	"github.com/YallaPapi/i2v-sub001/engine"
	"github.com/YallaPapi/i2v-sub001/logger"
	"github.com/YallaPapi/i2v-sub001/pricing"
)

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// Addr returns the host:port listen address.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ObservabilityConfig configures OTLP trace and metric export.
type ObservabilityConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	Endpoint       string        `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure       bool          `yaml:"insecure" mapstructure:"insecure"`
	SampleRate     float64       `yaml:"sample_rate" mapstructure:"sample_rate"`
	MetricInterval time.Duration `yaml:"metric_interval" mapstructure:"metric_interval"`
}

// ServiceConfig is the complete configuration of the daemon.
type ServiceConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Environment string `yaml:"environment" mapstructure:"environment"`
	Version     string `yaml:"version" mapstructure:"version"`
	Debug       bool   `yaml:"debug" mapstructure:"debug"`

	Logging       logger.Config       `yaml:"logging" mapstructure:"logging"`
	HTTP          HTTPConfig          `yaml:"http" mapstructure:"http"`
	Engine        engine.Config       `yaml:"engine" mapstructure:"engine"`
	Pricing       pricing.Config      `yaml:"pricing" mapstructure:"pricing"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
}

// ApplyDefaults fills unset fields with development defaults.
func (c *ServiceConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "i2vd"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Environment == "development" {
		c.Debug = true
	}
	c.Logging.ApplyDefaults()

	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeout <= 0 {
		c.HTTP.ReadTimeout = 30 * time.Second
	}
	if c.HTTP.WriteTimeout <= 0 {
		// SSE streams write for a long time.
		c.HTTP.WriteTimeout = 10 * time.Minute
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = 15 * time.Second
	}

	c.Engine.ApplyDefaults()

	if c.Observability.Endpoint == "" {
		c.Observability.Endpoint = "localhost:4318"
	}
	if c.Observability.SampleRate == 0 {
		c.Observability.SampleRate = 1.0
	}
	if c.Observability.MetricInterval <= 0 {
		c.Observability.MetricInterval = 15 * time.Second
	}
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *ServiceConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config.name is required")
	}
	validEnvs := []string{"development", "staging", "production"}
	found := false
	for _, env := range validEnvs {
		if c.Environment == env {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("config.environment must be one of [development, staging, production] (got: %s)", c.Environment)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("config.logging: %w", err)
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("config.http.port must be in [1, 65535] (got: %d)", c.HTTP.Port)
	}
	if c.Engine.Gate.MaxInFlight < 1 {
		return fmt.Errorf("config.engine.gate.max_in_flight must be positive (got: %d)", c.Engine.Gate.MaxInFlight)
	}
	for model, limit := range c.Engine.Gate.PerModel {
		if limit < 1 {
			return fmt.Errorf("config.engine.gate.per_model[%s] must be positive (got: %d)", model, limit)
		}
	}
	if c.Observability.Enabled && c.Observability.Endpoint == "" {
		return fmt.Errorf("config.observability.endpoint is required when observability is enabled")
	}
	return nil
}
