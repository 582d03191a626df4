package resilience

import (
	"context"
	"strings"

	"github.com/MrWong99/clarivox/pkg/provider/llm"
)

// ModelFallback implements [llm.Provider] with automatic failover across
// multiple model backends. Each backend has its own breaker; when the
// primary fails or its breaker is open, the next healthy fallback serves
// the call. Wrap the cleaning and decision providers in one of these to
// keep the pipeline alive through a backend outage.
type ModelFallback struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*ModelFallback)(nil)

// NewModelFallback creates a [ModelFallback] with primary as the preferred
// backend.
func NewModelFallback(primary llm.Provider, cfg FallbackConfig) *ModelFallback {
	return &ModelFallback{
		group: NewFallbackGroup(primary, primary.Name(), cfg),
	}
}

// AddFallback registers an additional backend, tried after all earlier ones.
func (f *ModelFallback) AddFallback(provider llm.Provider) {
	f.group.AddFallback(provider.Name(), provider)
}

// Complete implements [llm.Provider].
func (f *ModelFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Name implements [llm.Provider]. It lists the chain members in try order.
func (f *ModelFallback) Name() string {
	return "fallback(" + strings.Join(f.group.Names(), ",") + ")"
}
