// Package config provides configuration loading for designd.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the engine. It is loaded once at
// startup and never mutated afterwards.
type Config struct {
	// Workspace is the root directory for documents, backlog and state.
	Workspace string `koanf:"workspace"`

	Rounds     RoundsConfig     `koanf:"rounds"`
	Split      SplitConfig      `koanf:"split"`
	Diagrams   DiagramsConfig   `koanf:"diagrams"`
	Delegation DelegationConfig `koanf:"delegation"`
	Reasoning  ReasoningConfig  `koanf:"reasoning"`
	Logging    LoggingConfig    `koanf:"logging"`
	Template   TemplateConfig   `koanf:"template"`
}

// RoundsConfig bounds the clarification loop per phase.
type RoundsConfig struct {
	// MaxClarification is the round cap before a gate decision is forced.
	MaxClarification int `koanf:"max_clarification"`

	// ForceProgression advances past a blocked gate after the cap,
	// recording defects as unresolved items. When false, exhausting the
	// cap surfaces a GateBlockedError instead.
	ForceProgression bool `koanf:"force_progression"`
}

// SplitConfig sets document size thresholds.
type SplitConfig struct {
	// MaxSections is the section count above which a document is split.
	MaxSections int `koanf:"max_sections"`

	// MaxLines is the body line count above which a document is split.
	MaxLines int `koanf:"max_lines"`
}

// DiagramsConfig controls diagram generation requests.
type DiagramsConfig struct {
	Enabled bool `koanf:"enabled"`
}

// DelegationConfig controls task dispatch to the executor.
type DelegationConfig struct {
	// MaxAttempts caps delegation attempts per task.
	MaxAttempts int `koanf:"max_attempts"`

	// Workers bounds concurrent delegation of independent tasks.
	Workers int `koanf:"workers"`

	// AttemptTimeout bounds a single executor call. Expiry is treated as
	// a retryable failure, not a fatal error.
	AttemptTimeout time.Duration `koanf:"attempt_timeout"`

	// SystemicFailureThreshold is the number of rejected tasks in one
	// backlog that triggers rollback to the architecture phase.
	SystemicFailureThreshold int `koanf:"systemic_failure_threshold"`
}

// ReasoningConfig controls calls to the external reasoning service.
type ReasoningConfig struct {
	// Timeout bounds a single Ask or Propose call.
	Timeout time.Duration `koanf:"timeout"`

	// MaxRetries is the retry budget for timed-out calls.
	MaxRetries int `koanf:"max_retries"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`
}

// TemplateConfig selects the document template style.
type TemplateConfig struct {
	// Style names the template set; only "standard" is currently defined.
	Style string `koanf:"style"`
}

// Default returns the hardcoded defaults applied before file and env
// overrides.
func Default() *Config {
	return &Config{
		Workspace: ".",
		Rounds: RoundsConfig{
			MaxClarification: 3,
			ForceProgression: true,
		},
		Split: SplitConfig{
			MaxSections: 12,
			MaxLines:    1000,
		},
		Diagrams: DiagramsConfig{
			Enabled: true,
		},
		Delegation: DelegationConfig{
			MaxAttempts:              2,
			Workers:                  4,
			AttemptTimeout:           10 * time.Minute,
			SystemicFailureThreshold: 3,
		},
		Reasoning: ReasoningConfig{
			Timeout:    5 * time.Minute,
			MaxRetries: 2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Template: TemplateConfig{
			Style: "standard",
		},
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Workspace == "" {
		return fmt.Errorf("workspace must not be empty")
	}
	if c.Rounds.MaxClarification < 1 {
		return fmt.Errorf("rounds.max_clarification must be >= 1, got %d", c.Rounds.MaxClarification)
	}
	if c.Split.MaxSections < 2 {
		return fmt.Errorf("split.max_sections must be >= 2, got %d", c.Split.MaxSections)
	}
	if c.Split.MaxLines < 1 {
		return fmt.Errorf("split.max_lines must be >= 1, got %d", c.Split.MaxLines)
	}
	if c.Delegation.MaxAttempts < 1 {
		return fmt.Errorf("delegation.max_attempts must be >= 1, got %d", c.Delegation.MaxAttempts)
	}
	if c.Delegation.Workers < 1 {
		return fmt.Errorf("delegation.workers must be >= 1, got %d", c.Delegation.Workers)
	}
	if c.Delegation.AttemptTimeout <= 0 {
		return fmt.Errorf("delegation.attempt_timeout must be positive")
	}
	if c.Delegation.SystemicFailureThreshold < 1 {
		return fmt.Errorf("delegation.systemic_failure_threshold must be >= 1, got %d", c.Delegation.SystemicFailureThreshold)
	}
	if c.Reasoning.Timeout <= 0 {
		return fmt.Errorf("reasoning.timeout must be positive")
	}
	if c.Reasoning.MaxRetries < 0 {
		return fmt.Errorf("reasoning.max_retries must be >= 0, got %d", c.Reasoning.MaxRetries)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console; got %q", c.Logging.Format)
	}
	return nil
}
