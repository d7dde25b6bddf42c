package config

// DefaultConfig returns the built-in configuration: a Claude-first routing
// table with OpenAI and a local endpoint as fallbacks.
func DefaultConfig() *EngineConfig {
	return &EngineConfig{
		Limits: LimitsConfig{
			MaxRetries:            3,
			MaxFixAttempts:        5,
			WorkerConcurrency:     4,
			MaxConcurrentProjects: 8,
			LeaseSeconds:          600,
			WorkerTimeoutSeconds:  120,
		},
		Providers: map[string]ProviderConfig{
			"claude": {
				Kind:      "anthropic",
				APIKeyEnv: "ANTHROPIC_API_KEY",
				Model:     "claude-sonnet-4-20250514",
			},
			"openai": {
				Kind:      "openai",
				APIKeyEnv: "OPENAI_API_KEY",
				Model:     "gpt-4o",
			},
			"local": {
				Kind:    "local",
				BaseURL: "http://localhost:11434/v1",
				Model:   "qwen2.5-coder",
			},
		},
		Routing: map[string][]string{
			"planning":        {"claude", "openai"},
			"code_generation": {"claude", "openai", "local"},
			"debugging":       {"claude", "openai"},
			"testing":         {"openai", "claude", "local"},
		},
	}
}
