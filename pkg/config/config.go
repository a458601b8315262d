// Package config provides the engine configuration shared by the chatflow binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dukex/chatflow/pkg/apiclient"
	"github.com/dukex/chatflow/pkg/ratelimit"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the engine tunables. Zero values are replaced by Default() when loading.
type Config struct {
	Execution  ExecutionConfig                        `yaml:"execution"`
	Queue      QueueConfig                            `yaml:"queue"`
	API        APIConfig                              `yaml:"api"`
	Sweeper    SweeperConfig                          `yaml:"sweeper"`
	RateLimits map[ratelimit.LimitType]ratelimit.Rule `yaml:"rate_limits" validate:"dive"`
}

// ExecutionConfig bounds a single run.
type ExecutionConfig struct {
	MaxSteps           int           `yaml:"max_steps"            validate:"gte=1"`
	StepTimeout        time.Duration `yaml:"step_timeout"         validate:"gt=0"`
	Timeout            time.Duration `yaml:"timeout"              validate:"gt=0,gtefield=StepTimeout"`
	HeavyNodeThreshold int           `yaml:"heavy_node_threshold" validate:"gte=0"`
}

// QueueConfig configures the asynchronous job queue and its worker pool.
type QueueConfig struct {
	Concurrency  int           `yaml:"concurrency"   validate:"gte=1"`
	MaxAttempts  int           `yaml:"max_attempts"  validate:"gte=1"`
	Backoff      time.Duration `yaml:"backoff"       validate:"gt=0"`
	FailedLimit  int64         `yaml:"failed_limit"  validate:"gte=1"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
}

// APIConfig configures the outbound API client.
type APIConfig struct {
	CacheTTL        time.Duration `yaml:"cache_ttl"         validate:"gt=0"`
	CacheMaxEntries int           `yaml:"cache_max_entries" validate:"gte=1"`
	BackoffBase     time.Duration `yaml:"backoff_base"      validate:"gt=0"`
}

// SweeperConfig schedules the expired-variable cleanup.
type SweeperConfig struct {
	Schedule string `yaml:"schedule" validate:"required"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Execution: ExecutionConfig{
			MaxSteps:           100,
			StepTimeout:        30 * time.Second,
			Timeout:            5 * time.Minute,
			HeavyNodeThreshold: 50,
		},
		Queue: QueueConfig{
			Concurrency:  4,
			MaxAttempts:  3,
			Backoff:      2 * time.Second,
			FailedLimit:  1000,
			PollInterval: time.Second,
		},
		API: APIConfig{
			CacheTTL:        apiclient.DefaultCacheTTL,
			CacheMaxEntries: apiclient.DefaultCacheMaxEntries,
			BackoffBase:     time.Second,
		},
		Sweeper: SweeperConfig{
			Schedule: "@every 5m",
		},
		RateLimits: ratelimit.DefaultRules(),
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if cfg.RateLimits == nil {
		cfg.RateLimits = make(map[ratelimit.LimitType]ratelimit.Rule)
	}

	for limitType, rule := range ratelimit.DefaultRules() {
		if _, ok := cfg.RateLimits[limitType]; !ok {
			cfg.RateLimits[limitType] = rule
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks every field against its constraints.
func (c Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	if err := validate.Struct(c); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return fmt.Errorf("invalid configuration: %s", validationErrors[0].Namespace()+" failed on "+validationErrors[0].Tag())
		}

		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}
