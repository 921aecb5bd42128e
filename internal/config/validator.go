package config

import (
	"fmt"
	"strings"
)

// ValidationError aggregates all configuration problems found in one pass so
// the user can fix them together.
type ValidationError struct {
	Problems []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration:\n  - %s", strings.Join(e.Problems, "\n  - "))
}

// Validate checks the configuration for contradictions and out-of-range
// values. It returns a *ValidationError listing every problem, or nil.
func (c *Config) Validate() error {
	var problems []string

	if c.Scoring.AutoThreshold < 0 || c.Scoring.AutoThreshold > 100 {
		problems = append(problems, fmt.Sprintf("scoring.auto_threshold must be in [0,100], got %v", c.Scoring.AutoThreshold))
	}
	if c.Scoring.HumanThreshold < 0 || c.Scoring.HumanThreshold > 100 {
		problems = append(problems, fmt.Sprintf("scoring.human_threshold must be in [0,100], got %v", c.Scoring.HumanThreshold))
	}
	if c.Scoring.HumanThreshold > c.Scoring.AutoThreshold {
		problems = append(problems, fmt.Sprintf("scoring.human_threshold (%v) must not exceed scoring.auto_threshold (%v)",
			c.Scoring.HumanThreshold, c.Scoring.AutoThreshold))
	}
	if c.Scoring.MaxRescoreAttempts < 1 {
		problems = append(problems, fmt.Sprintf("scoring.max_rescore_attempts must be at least 1, got %d", c.Scoring.MaxRescoreAttempts))
	}

	if c.Pipeline.Parallelism < 1 {
		problems = append(problems, fmt.Sprintf("pipeline.parallelism must be at least 1, got %d", c.Pipeline.Parallelism))
	}

	if c.Retry.MaxAttempts < 1 {
		problems = append(problems, fmt.Sprintf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.InitialInterval <= 0 {
		problems = append(problems, "retry.initial_interval must be positive")
	}
	if c.Retry.MaxInterval < c.Retry.InitialInterval {
		problems = append(problems, "retry.max_interval must be at least retry.initial_interval")
	}

	if c.Storage.BaseDir == "" {
		problems = append(problems, "storage.base_dir must not be empty")
	}

	switch strings.ToUpper(c.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		problems = append(problems, fmt.Sprintf("logging.level must be one of DEBUG, INFO, WARN, ERROR; got %q", c.Logging.Level))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
