// Package config loads the spark configuration file: provider candidates,
// loop limits, validation rules, cache tuning, and the durable store. A
// missing file yields the defaults; environment variables override
// credentials last.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/louipr/spark-sub001/internal/cache"
	"github.com/louipr/spark-sub001/internal/controller"
	"github.com/louipr/spark-sub001/internal/types"
	"github.com/louipr/spark-sub001/internal/validation"
)

// Config holds all spark configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Provider candidate set, filtered on Enabled per dispatch.
	Providers []types.ProviderConfig `yaml:"providers"`

	// Iteration loop limits
	Loop LoopConfig `yaml:"loop"`

	// Document validation rules
	Validation validation.Config `yaml:"validation"`

	// Response cache tuning
	Cache CacheConfig `yaml:"cache"`

	// Durable storage
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LoopConfig bounds the refinement loop. Durations are strings so the YAML
// reads naturally ("5m", "120s").
type LoopConfig struct {
	MaxIterations        int     `yaml:"max_iterations"`
	ConvergenceThreshold float64 `yaml:"convergence_threshold"`
	ImprovementThreshold float64 `yaml:"improvement_threshold"`
	Timeout              string  `yaml:"timeout"`
	RetryPerIteration    int     `yaml:"retry_per_iteration"`
}

// Limits converts the YAML form into controller limits. Unset fields fall
// through to the controller defaults.
func (c LoopConfig) Limits() controller.Limits {
	return controller.Limits{
		MaxIterations:        c.MaxIterations,
		ConvergenceThreshold: c.ConvergenceThreshold,
		ImprovementThreshold: c.ImprovementThreshold,
		Timeout:              parseDuration(c.Timeout, 0),
		RetryPerIteration:    c.RetryPerIteration,
	}
}

// CacheConfig tunes the response cache.
type CacheConfig struct {
	TTL           string `yaml:"ttl"`
	MaxSizeBytes  int64  `yaml:"max_size_bytes"`
	SweepInterval string `yaml:"sweep_interval"`
}

// CacheConfig converts the YAML form into the cache's own config.
func (c CacheConfig) CacheConfig() cache.Config {
	defaults := cache.DefaultConfig()
	out := cache.Config{
		DefaultTTL:    parseDuration(c.TTL, defaults.DefaultTTL),
		MaxSize:       c.MaxSizeBytes,
		SweepInterval: parseDuration(c.SweepInterval, defaults.SweepInterval),
	}
	if out.MaxSize == 0 {
		out.MaxSize = defaults.MaxSize
	}
	return out
}

// StoreConfig configures durable storage. With Durable false everything
// stays in memory and DatabasePath is ignored.
type StoreConfig struct {
	Durable      bool   `yaml:"durable"`
	DatabasePath string `yaml:"database_path"`
	SessionTTL   string `yaml:"session_ttl"`
	UsageDir     string `yaml:"usage_dir"`
}

// SessionTTLDuration parses the session expiry; zero disables expiry.
func (c StoreConfig) SessionTTLDuration() time.Duration {
	return parseDuration(c.SessionTTL, 0)
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the configuration used when no file is present: the
// deterministic static backend enabled so the loop runs without credentials,
// plus a disabled Gemini candidate as a wiring example.
func DefaultConfig() *Config {
	return &Config{
		Name:    "spark",
		Version: "1.0.0",

		Providers: []types.ProviderConfig{
			{
				Name:          "gemini",
				Kind:          "gemini",
				Model:         "gemini-2.0-flash",
				Temperature:   0.7,
				MaxTokens:     8192,
				Priority:      types.TierMust,
				Enabled:       false,
				Capabilities:  []types.Capability{types.CapStreaming, types.CapFunctionCalling, types.CapJSONMode},
				Pricing:       types.Pricing{InputPer1K: 0.0001, OutputPer1K: 0.0004},
				CredentialEnv: "GEMINI_API_KEY",
			},
			{
				Name:        "static",
				Kind:        "static",
				Model:       "static-template",
				Priority:    types.TierNice,
				Enabled:     true,
				Temperature: 0,
			},
		},

		Loop: LoopConfig{
			MaxIterations:        3,
			ConvergenceThreshold: 0.9,
			ImprovementThreshold: 0.05,
			Timeout:              "5m",
			RetryPerIteration:    2,
		},

		Validation: validation.DefaultConfig(),

		Cache: CacheConfig{
			TTL:           "1h",
			MaxSizeBytes:  64 << 20,
			SweepInterval: "1m",
		},

		Store: StoreConfig{
			Durable:      false,
			DatabasePath: "data/spark.db",
			SessionTTL:   "24h",
			UsageDir:     "data",
		},

		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from a YAML file, starting from the defaults.
// A missing file returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// SPARK_API_KEY is the catch-all credential: providers without an
	// explicit credential reference read it.
	if os.Getenv("SPARK_API_KEY") != "" {
		for i := range c.Providers {
			if c.Providers[i].CredentialEnv == "" {
				c.Providers[i].CredentialEnv = "SPARK_API_KEY"
			}
		}
	}

	if path := os.Getenv("SPARK_DB"); path != "" {
		c.Store.DatabasePath = path
		c.Store.Durable = true
	}

	if level := os.Getenv("SPARK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
