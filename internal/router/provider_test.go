package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestOpenAIProviderAppliesOptionDefaults(t *testing.T) {
	var mu sync.Mutex
	var got openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"hi"}}]}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test", srv.URL, "", "test-model", Options{MaxTokens: 512, Temperature: 0.2})

	resp, err := p.Invoke(context.Background(), Request{Prompt: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hi" {
		t.Errorf("content = %q", resp.Content)
	}
	mu.Lock()
	if got.Model != "test-model" || got.MaxTokens != 512 || got.Temperature != 0.2 {
		t.Errorf("request with defaults = %+v, want model/512/0.2", got)
	}
	mu.Unlock()

	// Explicit request values win over the configured defaults.
	if _, err := p.Invoke(context.Background(), Request{Prompt: "x", MaxTokens: 64, Temperature: 0.9}); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	if got.MaxTokens != 64 || got.Temperature != 0.9 {
		t.Errorf("request with overrides = %+v, want 64/0.9", got)
	}
	mu.Unlock()
}

func TestAnthropicProviderAppliesOptionDefaults(t *testing.T) {
	var mu sync.Mutex
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		fmt.Fprint(w, `{"content":[{"type":"text","text":"hi"}]}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test", srv.URL, "key", "test-model", Options{MaxTokens: 1024, Temperature: 0.5})

	resp, err := p.Invoke(context.Background(), Request{Prompt: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hi" {
		t.Errorf("content = %q", resp.Content)
	}
	mu.Lock()
	if got.MaxTokens != 1024 || got.Temperature != 0.5 {
		t.Errorf("request with defaults = %+v, want 1024/0.5", got)
	}
	mu.Unlock()
}

func TestAnthropicProviderMaxTokensFloor(t *testing.T) {
	var mu sync.Mutex
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"content":[{"type":"text","text":"hi"}]}`)
	}))
	defer srv.Close()

	// No configured default: the messages API still requires max_tokens.
	p := NewAnthropicProvider("test", srv.URL, "key", "test-model", Options{})
	if _, err := p.Invoke(context.Background(), Request{Prompt: "hello"}); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	if got.MaxTokens != 4096 {
		t.Errorf("max_tokens = %d, want the 4096 floor", got.MaxTokens)
	}
	mu.Unlock()
}
