// Package llm defines the Provider interface for the external cleaning and
// decision models.
//
// A provider wraps a remote or local model API (e.g., OpenAI, Anthropic via
// any-llm-go, or a local Ollama instance) and exposes a uniform
// request/response interface for the pipeline without coupling to any specific
// SDK. The pipeline is strictly request/response — each turn issues at most
// one cleaning call and one decision call — so no streaming surface is
// exposed.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly: when ctx is cancelled or its deadline passes, Complete
// must return as quickly as possible.
package llm

import "context"

// Message represents a single message in a model conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting information returned by the model backend.
// Counts are in the model's native token unit and may differ between backends
// for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the model needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation to send. The last message is
	// typically from the "user" role and drives the response.
	Messages []Message

	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation. Backends without a dedicated system slot prepend it
	// as a "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. The pipeline
	// uses low values — cleaning and function decisions should be
	// near-deterministic.
	Temperature float64

	// MaxTokens caps the completion length. Zero means backend default.
	MaxTokens int
}

// CompletionResponse is the model's full reply.
type CompletionResponse struct {
	// Content is the literal text of the reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any model backend.
//
// Implementations must be safe for concurrent use from multiple goroutines.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or ctx is cancelled before the
	// completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Name returns a short identifier for the backend (e.g. "openai",
	// "anyllm/anthropic"), used in logs and metric attributes.
	Name() string
}
