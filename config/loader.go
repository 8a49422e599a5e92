package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LoaderOption customizes Load.
type LoaderOption func(*loaderOptions)

type loaderOptions struct {
	configFile string
	envFile    string
}

// WithConfigFile sets an explicit config file path, skipping the search.
func WithConfigFile(path string) LoaderOption {
	return func(o *loaderOptions) { o.configFile = path }
}

// WithEnvFile sets an explicit .env file path, skipping the search.
func WithEnvFile(path string) LoaderOption {
	return func(o *loaderOptions) { o.envFile = path }
}

// Load reads the daemon configuration, applies defaults and validates it.
// Search order for the YAML file: $I2V_CONFIG, ./config.yml,
// ./cmd/i2vd/config.yml, /etc/i2vd/config.yml. Environment variables
// override file values (I2V_HTTP_PORT overrides http.port).
func Load(opts ...LoaderOption) (*ServiceConfig, error) {
	var o loaderOptions
	for _, opt := range opts {
		opt(&o)
	}

	if o.envFile == "" {
		o.envFile = findFirst(".env.i2vd", ".env")
	}
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil {
			return nil, fmt.Errorf("loading env file %s: %w", o.envFile, err)
		}
	}

	if o.configFile == "" {
		if p := os.Getenv("I2V_CONFIG"); p != "" {
			o.configFile = p
		} else {
			o.configFile = findFirst("config.yml", "cmd/i2vd/config.yml", "/etc/i2vd/config.yml")
		}
	}

	v := viper.New()
	if o.configFile != "" {
		v.SetConfigFile(o.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", o.configFile, err)
		}
	}

	v.SetEnvPrefix("I2V")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvOverrides(v)

	var cfg ServiceConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func findFirst(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// bindEnvOverrides maps I2V_* environment variables onto nested viper keys.
// AutomaticEnv only resolves keys viper already knows about, which misses
// keys absent from the config file, so every prefixed variable is set
// explicitly under each plausible nesting.
func bindEnvOverrides(v *viper.Viper) {
	const prefix = "I2V_"
	for _, env := range os.Environ() {
		pair := strings.SplitN(env, "=", 2)
		if len(pair) != 2 || !strings.HasPrefix(pair[0], prefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(pair[0], prefix))
		for _, variant := range keyVariants(key) {
			v.Set(variant, pair[1])
		}
	}
}

// keyVariants expands an underscore key into its possible nested forms:
// http_read_timeout yields http.read_timeout and http.read.timeout.
func keyVariants(key string) []string {
	parts := strings.Split(key, "_")
	if len(parts) <= 1 {
		return []string{key}
	}
	variants := []string{strings.Join(parts, ".")}
	for i := 1; i < len(parts); i++ {
		variants = append(variants, strings.Join(parts[:i], ".")+"."+strings.Join(parts[i:], "_"))
	}
	return variants
}
