// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify the pipeline sends correct
// CompletionRequests and to feed controlled responses without a live model
// backend. Configure the response fields before use; mutating them during a
// concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    Response: &llm.CompletionResponse{Content: `{"cleaned_text": "…"}`},
//	}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/clarivox/pkg/provider/llm"
)

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

// Call records a single invocation of Complete.
type Call struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
// Zero values cause Complete to return (nil, nil). Set Err to inject errors,
// Delay to simulate a slow backend (Complete then honours ctx cancellation),
// and Responses to script a sequence of distinct replies.
type Provider struct {
	mu sync.Mutex

	// --- Configurable behaviour ---

	// Response is returned by every Complete call when Responses is empty.
	Response *llm.CompletionResponse

	// Responses, when non-empty, is consumed one element per Complete call;
	// after exhaustion the last element is repeated.
	Responses []*llm.CompletionResponse

	// Err, if non-nil, is returned as the error from Complete.
	Err error

	// Delay makes Complete block for the given duration before responding.
	// If ctx is cancelled first, ctx.Err() is returned — this is how tests
	// simulate a model timeout.
	Delay time.Duration

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// --- Call records (read after test) ---

	// Calls records every invocation of Complete in order.
	Calls []Call
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Ctx: ctx, Req: req})
	n := len(p.Calls)
	delay := p.Delay
	err := p.Err
	resp := p.Response
	if len(p.Responses) > 0 {
		idx := n - 1
		if idx >= len(p.Responses) {
			idx = len(p.Responses) - 1
		}
		resp = p.Responses[idx]
	}
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Name implements llm.Provider.
func (p *Provider) Name() string {
	if p.ProviderName != "" {
		return p.ProviderName
	}
	return "mock"
}

// CallCount returns the number of Complete invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastCall returns the most recent Complete invocation, or a zero Call when
// none have occurred.
func (p *Provider) LastCall() Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return Call{}
	}
	return p.Calls[len(p.Calls)-1]
}
