package config

import (
	"fmt"
	"os"
	"time"

	"github.com/coastalcabana/gptbatch/pkg/models"
	"github.com/coastalcabana/gptbatch/pkg/retry"
	"gopkg.in/yaml.v3"
)

// Config holds all gptbatch configuration.
type Config struct {
	Provider   ProviderConfig `yaml:"provider"`
	Retry      RetryConfig    `yaml:"retry"`
	Pricing    PricingConfig  `yaml:"pricing"`
	DBPath     string         `yaml:"db_path"`
	Cache      CacheConfig    `yaml:"cache"`
	Budget     BudgetConfig   `yaml:"budget"`
	PromptsDir string         `yaml:"prompts_dir"`
}

// ProviderConfig defines the chat-completion endpoint and its HTTP client.
type ProviderConfig struct {
	URL                string        `yaml:"url"`
	APIKey             string        `yaml:"api_key"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxConnections     int           `yaml:"max_connections"`
	MaxIdleConnections int           `yaml:"max_idle_connections"`
	// RequestsPerSecond paces outgoing calls; 0 disables pacing.
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Breaker           BreakerConfig `yaml:"breaker"`
}

// BreakerConfig controls the optional circuit breaker around the endpoint.
type BreakerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	MaxRequests  uint32        `yaml:"max_requests"`
	Interval     time.Duration `yaml:"interval"`
	Timeout      time.Duration `yaml:"timeout"`
	MinRequests  uint32        `yaml:"min_requests"`
	FailureRatio float64       `yaml:"failure_ratio"`
}

// RetryConfig controls per-request retries.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	MinWait     time.Duration `yaml:"min_wait"`
	MaxWait     time.Duration `yaml:"max_wait"`
}

// Policy converts the configuration into a retry.Policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{MaxAttempts: r.MaxAttempts, Min: r.MinWait, Max: r.MaxWait}
}

// PricingConfig selects the price table. An empty File uses the bundled table.
type PricingConfig struct {
	File string `yaml:"file"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// BudgetConfig controls spend enforcement.
type BudgetConfig struct {
	Enabled  bool                  `yaml:"enabled"`
	Policies []models.BudgetPolicy `yaml:"policies"`
}

// Default returns a Config with sensible defaults. The API key is taken from
// OPENAI_API_KEY.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			URL:                "https://api.openai.com",
			APIKey:             os.Getenv("OPENAI_API_KEY"),
			Timeout:            10 * time.Minute,
			MaxConnections:     100,
			MaxIdleConnections: 20,
			Breaker: BreakerConfig{
				MaxRequests:  3,
				Interval:     10 * time.Second,
				Timeout:      30 * time.Second,
				MinRequests:  5,
				FailureRatio: 0.6,
			},
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			MinWait:     time.Second,
			MaxWait:     time.Minute,
		},
		DBPath: "gptbatch.db",
		Cache: CacheConfig{
			Enabled: false,
			TTL:     24 * time.Hour,
		},
		PromptsDir: "prompts",
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a batch.
func (c *Config) Validate() error {
	if c.Provider.URL == "" {
		return fmt.Errorf("config: provider.url is required")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry.max_attempts must be at least 1")
	}
	if c.Retry.MinWait <= 0 || c.Retry.MaxWait < c.Retry.MinWait {
		return fmt.Errorf("config: retry waits must satisfy 0 < min_wait <= max_wait")
	}
	for i, p := range c.Budget.Policies {
		switch p.Period {
		case models.BudgetDaily, models.BudgetMonthly:
		default:
			return fmt.Errorf("config: budget policy %d: unknown period %q", i, p.Period)
		}
	}
	return nil
}
