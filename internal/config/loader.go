package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config,
// defaults. Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*EngineConfig, error) {
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

// LoadDefault loads configuration from conventional paths.
// Global: ~/.maker/config.json
// Project: .maker/config.json (relative to cwd)
func LoadDefault() (*EngineConfig, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".maker", "config.json")
	projectPath := filepath.Join(".maker", "config.json")

	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a JSON config file and merges it into the base
// config. Missing files are silently skipped.
func mergeConfigFile(base *EngineConfig, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded EngineConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	mergeLimits(&base.Limits, loaded.Limits)
	for key, provider := range loaded.Providers {
		base.Providers[key] = provider
	}
	for role, providers := range loaded.Routing {
		base.Routing[role] = providers
	}
	if loaded.DBPath != "" {
		base.DBPath = loaded.DBPath
	}

	return nil
}

// mergeLimits overrides only the limits a file actually sets.
func mergeLimits(base *LimitsConfig, loaded LimitsConfig) {
	if loaded.MaxRetries > 0 {
		base.MaxRetries = loaded.MaxRetries
	}
	if loaded.MaxFixAttempts > 0 {
		base.MaxFixAttempts = loaded.MaxFixAttempts
	}
	if loaded.WorkerConcurrency > 0 {
		base.WorkerConcurrency = loaded.WorkerConcurrency
	}
	if loaded.MaxConcurrentProjects > 0 {
		base.MaxConcurrentProjects = loaded.MaxConcurrentProjects
	}
	if loaded.LeaseSeconds > 0 {
		base.LeaseSeconds = loaded.LeaseSeconds
	}
	if loaded.WorkerTimeoutSeconds > 0 {
		base.WorkerTimeoutSeconds = loaded.WorkerTimeoutSeconds
	}
}
