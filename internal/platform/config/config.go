// Package config loads service configuration from a YAML file and
// environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/quantrail/marketsizer/internal/orchestrator"
	"github.com/quantrail/marketsizer/internal/platform/cache"
	"github.com/quantrail/marketsizer/internal/sources"
	"github.com/spf13/viper"
)

// Config holds all configuration for the aggregator service
type Config struct {
	Cache         cache.Config        `mapstructure:"cache"`
	Sources       SourcesConfig       `mapstructure:"sources"`
	Orchestrator  orchestrator.Config `mapstructure:"orchestrator"`
	AWS           AWSConfig           `mapstructure:"aws"`
	Alerting      AlertingConfig      `mapstructure:"alerting"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	HTTP          HTTPConfig          `mapstructure:"http"`
}

// SourcesConfig holds configuration for all data providers
type SourcesConfig struct {
	// CacheTTL is how long provider answers stay cached
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// WarmupIDs are identifiers pre-fetched through the lookup pipeline at
	// startup to populate the cache.
	WarmupIDs []string `mapstructure:"warmup_ids"`

	// Providers maps provider name to its configuration. Absent providers
	// run with built-in defaults and no credential.
	Providers map[string]ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig holds per-provider configuration
type ProviderConfig struct {
	BaseURL   string          `mapstructure:"base_url"`
	APIKey    string          `mapstructure:"api_key"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

// SourceConfigs converts the providers map into adapter construction form.
func (s SourcesConfig) SourceConfigs() map[string]sources.Config {
	out := make(map[string]sources.Config, len(s.Providers))
	for name, p := range s.Providers {
		out[name] = sources.Config{
			BaseURL:        p.BaseURL,
			APIKey:         p.APIKey,
			RateLimitRPM:   p.RateLimit.RequestsPerMinute,
			RateLimitBurst: p.RateLimit.Burst,
		}
	}
	return out
}

// AWSConfig holds AWS service configuration
type AWSConfig struct {
	Region string `mapstructure:"region"`
}

// AlertingConfig holds provider-exhaustion alerting configuration
type AlertingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	SNSTopicARN string `mapstructure:"sns_topic_arn"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not fatal if env vars are set
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Cache defaults
	v.SetDefault("cache.type", cache.TypeMemory)
	v.SetDefault("cache.cleanup_interval", "5m")
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.key_prefix", "marketsizer")
	v.SetDefault("cache.enable_fallback", true)
	v.SetDefault("cache.dial_timeout", "5s")
	v.SetDefault("cache.command_timeout", "3s")
	v.SetDefault("cache.read_timeout", "1s")

	// Sources defaults
	v.SetDefault("sources.cache_ttl", "1h")

	// AWS defaults
	v.SetDefault("aws.region", "us-east-1")

	// Alerting defaults
	v.SetDefault("alerting.enabled", false)

	// Observability defaults
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")

	// HTTP defaults
	v.SetDefault("http.port", 8080)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Cache.Type {
	case cache.TypeMemory, cache.TypeRedis, cache.TypeHybrid:
	default:
		return fmt.Errorf("invalid cache type: %q", c.Cache.Type)
	}

	if c.Cache.Type != cache.TypeMemory && c.Cache.Addr == "" {
		return fmt.Errorf("cache address is required for %s backend", c.Cache.Type)
	}

	if c.Alerting.Enabled {
		if c.AWS.Region == "" {
			return fmt.Errorf("AWS region is required when alerting is enabled")
		}
		if c.Alerting.SNSTopicARN == "" {
			return fmt.Errorf("SNS topic ARN is required when alerting is enabled")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Observability.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Observability.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Observability.Logging.Format)
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", c.HTTP.Port)
	}

	return nil
}
