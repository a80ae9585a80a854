package config

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// envKeys maps DESIGND_* environment variables to config keys. Compound
// field names make a generic underscore-to-dot transform ambiguous, so the
// mapping is explicit.
var envKeys = map[string]string{
	"DESIGND_WORKSPACE":                             "workspace",
	"DESIGND_ROUNDS_MAX_CLARIFICATION":              "rounds.max_clarification",
	"DESIGND_ROUNDS_FORCE_PROGRESSION":              "rounds.force_progression",
	"DESIGND_SPLIT_MAX_SECTIONS":                    "split.max_sections",
	"DESIGND_SPLIT_MAX_LINES":                       "split.max_lines",
	"DESIGND_DIAGRAMS_ENABLED":                      "diagrams.enabled",
	"DESIGND_DELEGATION_MAX_ATTEMPTS":               "delegation.max_attempts",
	"DESIGND_DELEGATION_WORKERS":                    "delegation.workers",
	"DESIGND_DELEGATION_ATTEMPT_TIMEOUT":            "delegation.attempt_timeout",
	"DESIGND_DELEGATION_SYSTEMIC_FAILURE_THRESHOLD": "delegation.systemic_failure_threshold",
	"DESIGND_REASONING_TIMEOUT":                     "reasoning.timeout",
	"DESIGND_REASONING_MAX_RETRIES":                 "reasoning.max_retries",
	"DESIGND_LOGGING_LEVEL":                         "logging.level",
	"DESIGND_LOGGING_FORMAT":                        "logging.format",
	"DESIGND_TEMPLATE_STYLE":                        "template.style",
}

// Load reads configuration with the following precedence, highest first:
//
//  1. DESIGND_* environment variables
//  2. YAML config file (configPath; skipped when empty or missing)
//  3. Hardcoded defaults
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file %s: %w", configPath, err)
			}
		} else if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("DESIGND_", ".", func(s string) string {
		return envKeys[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment overrides: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
