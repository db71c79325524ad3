package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global
// config, defaults. Missing files are not errors; malformed JSON is.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}
	return cfg, nil
}

// LoadDefault loads configuration from the conventional paths:
// global ~/.elisa/config.json, project .elisa/config.json.
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}
	return Load(
		filepath.Join(homeDir, ".elisa", "config.json"),
		filepath.Join(".elisa", "config.json"),
	)
}

// fileConfig mirrors Config with optional run fields so a partial file
// only overrides what it mentions.
type fileConfig struct {
	Providers map[string]ProviderConfig `json:"providers"`
	Agents    map[string]AgentConfig    `json:"agents"`
	Run       *runFileConfig            `json:"run"`
}

type runFileConfig struct {
	MaxParallel            *int64  `json:"max_parallel"`
	MaxAttempts            *int    `json:"max_attempts"`
	QuestionTimeoutSeconds *int    `json:"question_timeout_seconds"`
	GitCommits             *bool   `json:"git_commits"`
	DatabasePath           *string `json:"database_path"`
}

func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded fileConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	for key, provider := range loaded.Providers {
		base.Providers[key] = provider
	}
	for key, agent := range loaded.Agents {
		base.Agents[key] = agent
	}
	if loaded.Run != nil {
		if loaded.Run.MaxParallel != nil {
			base.Run.MaxParallel = *loaded.Run.MaxParallel
		}
		if loaded.Run.MaxAttempts != nil {
			base.Run.MaxAttempts = *loaded.Run.MaxAttempts
		}
		if loaded.Run.QuestionTimeoutSeconds != nil {
			base.Run.QuestionTimeoutSeconds = *loaded.Run.QuestionTimeoutSeconds
		}
		if loaded.Run.GitCommits != nil {
			base.Run.GitCommits = *loaded.Run.GitCommits
		}
		if loaded.Run.DatabasePath != nil {
			base.Run.DatabasePath = *loaded.Run.DatabasePath
		}
	}
	return nil
}
