package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// AnthropicProvider speaks the Anthropic messages API.
type AnthropicProvider struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	opts    Options
	client  *http.Client
}

// NewAnthropicProvider creates an Anthropic provider. baseURL defaults to
// the public API.
func NewAnthropicProvider(name, baseURL, apiKey, model string, opts Options) *AnthropicProvider {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	return &AnthropicProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		opts:    opts,
		client:  &http.Client{},
	}
}

// Name returns the provider's registered name.
func (p *AnthropicProvider) Name() string { return p.name }

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Invoke posts a messages request and returns the first text block.
func (p *AnthropicProvider) Invoke(ctx context.Context, req Request) (Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.opts.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 4096 // The messages API requires max_tokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.opts.Temperature
	}

	body, err := json.Marshal(anthropicRequest{
		Model:       p.model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		System:      req.System,
		Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return Response{}, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("provider %q: %w", p.name, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 16<<20))
	if err != nil {
		return Response{}, fmt.Errorf("provider %q: reading response: %w", p.name, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("provider %q: status %d: %s", p.name, httpResp.StatusCode, truncate(data, 256))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Response{}, fmt.Errorf("provider %q: malformed response: %w", p.name, err)
	}
	if parsed.Error != nil {
		return Response{}, fmt.Errorf("provider %q: %s", p.name, parsed.Error.Message)
	}
	for _, block := range parsed.Content {
		if block.Type == "text" {
			return Response{Content: block.Text, Provider: p.name}, nil
		}
	}
	return Response{}, fmt.Errorf("provider %q: no text content", p.name)
}
