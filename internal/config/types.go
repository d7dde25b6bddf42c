package config

import (
	"os"
	"time"

	"github.com/softsmith/maker/internal/orchestrator"
	"github.com/softsmith/maker/internal/router"
)

// ProviderConfig defines one LLM endpoint. Kind selects the wire format;
// the API key is read from the environment so secrets stay out of config
// files.
type ProviderConfig struct {
	Kind           string  `json:"kind"` // "openai", "anthropic", or "local" (OpenAI-compatible)
	BaseURL        string  `json:"base_url,omitempty"`
	APIKeyEnv      string  `json:"api_key_env,omitempty"`
	Model          string  `json:"model,omitempty"`
	MaxTokens      int     `json:"max_tokens,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
	TimeoutSeconds int     `json:"timeout_seconds,omitempty"`
}

// LimitsConfig carries the engine's retry, fairness, and capacity knobs.
type LimitsConfig struct {
	MaxRetries            int `json:"max_retries"`
	MaxFixAttempts        int `json:"max_fix_attempts"`
	WorkerConcurrency     int `json:"worker_concurrency"`
	MaxConcurrentProjects int `json:"max_concurrent_projects"`
	LeaseSeconds          int `json:"lease_seconds"`
	WorkerTimeoutSeconds  int `json:"worker_timeout_seconds"`
}

// EngineConfig is the top-level configuration.
type EngineConfig struct {
	Limits    LimitsConfig              `json:"limits"`
	Providers map[string]ProviderConfig `json:"providers"`
	Routing   map[string][]string       `json:"routing"` // role -> ordered provider names
	DBPath    string                    `json:"db_path,omitempty"`
}

// OrchestratorConfig converts the limits into the value injected into the
// engine.
func (c *EngineConfig) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		MaxRetries:            c.Limits.MaxRetries,
		MaxFixAttempts:        c.Limits.MaxFixAttempts,
		WorkerConcurrency:     c.Limits.WorkerConcurrency,
		MaxConcurrentProjects: c.Limits.MaxConcurrentProjects,
		LeaseDuration:         time.Duration(c.Limits.LeaseSeconds) * time.Second,
		WorkerTimeout:         time.Duration(c.Limits.WorkerTimeoutSeconds) * time.Second,
	}
}

// RoutingPolicy converts the routing table into an immutable policy
// snapshot.
func (c *EngineConfig) RoutingPolicy() router.Policy {
	routes := make(map[router.Role][]string, len(c.Routing))
	for role, providers := range c.Routing {
		routes[router.Role(role)] = append([]string(nil), providers...)
	}
	return router.Policy{Routes: routes}
}

// BuildProviders instantiates the configured providers with their per-call
// option defaults.
func (c *EngineConfig) BuildProviders() []router.Provider {
	var providers []router.Provider
	for name, pc := range c.Providers {
		apiKey := ""
		if pc.APIKeyEnv != "" {
			apiKey = os.Getenv(pc.APIKeyEnv)
		}
		opts := router.Options{MaxTokens: pc.MaxTokens, Temperature: pc.Temperature}
		switch pc.Kind {
		case "anthropic":
			providers = append(providers, router.NewAnthropicProvider(name, pc.BaseURL, apiKey, pc.Model, opts))
		default:
			// "openai" and "local" both speak the chat-completions format.
			providers = append(providers, router.NewOpenAIProvider(name, pc.BaseURL, apiKey, pc.Model, opts))
		}
	}
	return providers
}

// CallTimeout returns the router's per-call timeout: the largest configured
// provider timeout, so the slowest provider still fits inside one attempt.
// Zero means the router default.
func (c *EngineConfig) CallTimeout() time.Duration {
	seconds := 0
	for _, pc := range c.Providers {
		if pc.TimeoutSeconds > seconds {
			seconds = pc.TimeoutSeconds
		}
	}
	return time.Duration(seconds) * time.Second
}
