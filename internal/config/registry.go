package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/clarivox/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned by [Registry.CreateModel] when no
// factory has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// ModelFactory builds an [llm.Provider] from its configuration entry.
type ModelFactory func(ProviderEntry) (llm.Provider, error)

// Registry maps model provider names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	models map[string]ModelFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		models: make(map[string]ModelFactory),
	}
}

// RegisterModel registers a model provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterModel(name string, factory ModelFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[name] = factory
}

// CreateModel instantiates a model provider using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateModel(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.models[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: model/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Names returns the registered provider names in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	return names
}
