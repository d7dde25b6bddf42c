// Package router selects among configured LLM providers per logical role
// with ordered fallback. Policy swaps are snapshot-based: calls in flight
// keep the list they started with.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrAllProvidersExhausted is returned when every provider in a role's
// fallback list has failed for one logical call.
var ErrAllProvidersExhausted = errors.New("all providers exhausted")

// DefaultCallTimeout bounds a single provider invocation.
const DefaultCallTimeout = 120 * time.Second

// Policy maps roles to ordered provider name lists. A Policy is immutable
// once handed to the router; hot reload installs a whole new snapshot.
type Policy struct {
	Routes map[Role][]string
}

// providersFor returns the fallback list for a role, or nil.
func (p *Policy) providersFor(role Role) []string {
	if p == nil {
		return nil
	}
	return p.Routes[role]
}

// Router routes requests to providers per the current policy snapshot.
type Router struct {
	providers map[string]Provider
	policy    atomic.Pointer[Policy]
	breakers  *BreakerRegistry
	timeout   time.Duration
}

// New creates a router over the given providers. timeout bounds each
// provider call; zero means DefaultCallTimeout.
func New(providers []Provider, policy Policy, timeout time.Duration) *Router {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	r := &Router{
		providers: byName,
		breakers:  NewBreakerRegistry(),
		timeout:   timeout,
	}
	r.policy.Store(&policy)
	return r
}

// SwapPolicy atomically installs a new policy snapshot. Calls already in
// flight are unaffected.
func (r *Router) SwapPolicy(policy Policy) {
	r.policy.Store(&policy)
}

// Invoke calls the role's providers in policy order and returns the first
// success. Provider errors (timeout, rate limit, malformed response, open
// breaker) advance to the next provider; there is no same-provider retry
// within one call. When the list is exhausted the error wraps
// ErrAllProvidersExhausted.
func (r *Router) Invoke(ctx context.Context, role Role, req Request) (Response, error) {
	names := r.policy.Load().providersFor(role)
	if len(names) == 0 {
		return Response{}, fmt.Errorf("no providers configured for role %q", role)
	}

	var lastErr error
	for _, name := range names {
		p, ok := r.providers[name]
		if !ok {
			lastErr = fmt.Errorf("provider %q not registered", name)
			continue
		}

		resp, err := r.callOne(ctx, p, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// Caller cancellation is not a provider failure; stop the chain.
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
	}

	return Response{}, fmt.Errorf("%w for role %q: %v", ErrAllProvidersExhausted, role, lastErr)
}

// callOne runs a single provider invocation under its circuit breaker with
// a hard timeout.
func (r *Router) callOne(ctx context.Context, p Provider, req Request) (Response, error) {
	cb := r.breakers.Get(p.Name())

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := cb.Execute(func() (interface{}, error) {
		return p.Invoke(callCtx, req)
	})
	if err != nil {
		return Response{}, err
	}
	return result.(Response), nil
}
