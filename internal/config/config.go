// Package config defines the groomflow configuration, loaded through viper
// from a YAML file with GROOMFLOW_* environment overrides.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete groomflow configuration.
type Config struct {
	Scoring  ScoringConfig  `mapstructure:"scoring"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ScoringConfig controls routing thresholds and the rescore cap.
type ScoringConfig struct {
	// AutoThreshold is the overall score at or above which an item is
	// auto-approved without human review (default: 75).
	AutoThreshold float64 `mapstructure:"auto_threshold"`
	// HumanThreshold is the overall score at or above which an item goes
	// to human approval rather than a context request (default: 50).
	HumanThreshold float64 `mapstructure:"human_threshold"`
	// MaxRescoreAttempts caps how many context/rescore rounds one item may
	// consume before it is forced to rejected_final (default: 3).
	MaxRescoreAttempts int `mapstructure:"max_rescore_attempts"`
}

// PipelineConfig controls which stages run and how item-scoped stages fan out.
type PipelineConfig struct {
	// DependencyMapping enables the dependency-mapping stage (default: true).
	DependencyMapping bool `mapstructure:"dependency_mapping"`
	// Parallelism bounds concurrent per-item work within one stage
	// invocation (default: 4).
	Parallelism int `mapstructure:"parallelism"`
}

// RetryConfig controls retries of transient stage failures.
type RetryConfig struct {
	// MaxAttempts is the total number of tries per stage call, including
	// the first (default: 3).
	MaxAttempts int `mapstructure:"max_attempts"`
	// InitialInterval is the first backoff delay (default: 200ms).
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	// MaxInterval caps the backoff delay (default: 5s).
	MaxInterval time.Duration `mapstructure:"max_interval"`
}

// StorageConfig controls where sessions and checkpoints live.
type StorageConfig struct {
	// BaseDir is the root under which .groomflow/sessions is created.
	// Defaults to the current working directory.
	BaseDir string `mapstructure:"base_dir"`
	// DocsDir, when set, points the enrichment stage's document retriever
	// at a directory of reference material (markdown/text).
	DocsDir string `mapstructure:"docs_dir"`
}

// LoggingConfig controls the session debug log.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (default: INFO).
	Level string `mapstructure:"level"`
}

// SetDefaults registers default values for all configuration keys.
// Call before reading the config file so defaults apply even without one.
func SetDefaults() {
	viper.SetDefault("scoring.auto_threshold", 75.0)
	viper.SetDefault("scoring.human_threshold", 50.0)
	viper.SetDefault("scoring.max_rescore_attempts", 3)

	viper.SetDefault("pipeline.dependency_mapping", true)
	viper.SetDefault("pipeline.parallelism", 4)

	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.initial_interval", 200*time.Millisecond)
	viper.SetDefault("retry.max_interval", 5*time.Second)

	viper.SetDefault("storage.base_dir", ".")
	viper.SetDefault("storage.docs_dir", "")
	viper.SetDefault("logging.level", "INFO")
}

// Load unmarshals the current viper state into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config populated with the documented defaults, without
// touching global viper state. Used by tests and as a construction fallback.
func Default() *Config {
	return &Config{
		Scoring: ScoringConfig{
			AutoThreshold:      75,
			HumanThreshold:     50,
			MaxRescoreAttempts: 3,
		},
		Pipeline: PipelineConfig{
			DependencyMapping: true,
			Parallelism:       4,
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
		Storage: StorageConfig{BaseDir: "."},
		Logging: LoggingConfig{Level: "INFO"},
	}
}

// ConfigDir returns the directory groomflow looks in for its config file,
// honoring XDG_CONFIG_HOME.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "groomflow")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "groomflow")
}
