package router

import (
	"context"
)

// Role is the logical purpose of an LLM call. The routing policy maps each
// role to an ordered provider fallback list.
type Role string

const (
	RolePlanning       Role = "planning"
	RoleCodeGeneration Role = "code_generation"
	RoleDebugging      Role = "debugging"
	RoleTesting        Role = "testing"
)

// Request is the payload handed to a provider.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Response is a successful provider reply.
type Response struct {
	Content  string
	Provider string // Name of the provider that answered
}

// Options are per-provider defaults applied when a request leaves the
// corresponding field unset.
type Options struct {
	MaxTokens   int
	Temperature float64
}

// Provider is one LLM endpoint family. Invoke must honor ctx cancellation;
// the router imposes a hard timeout so a provider that never responds
// counts as a failure, not a hang.
type Provider interface {
	Name() string
	Invoke(ctx context.Context, req Request) (Response, error)
}
