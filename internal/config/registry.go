package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/jarvis/pkg/memory"
	"github.com/MrWong99/jarvis/pkg/provider/llm"
	"github.com/MrWong99/jarvis/pkg/provider/search"
	"github.com/MrWong99/jarvis/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// is registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// MemoryFactory opens a persistence backend. The returned close function
// releases it and may be nil.
type MemoryFactory func(ctx context.Context, cfg MemoryConfig) (memory.Persister, func() error, error)

// Registry maps provider names to constructors. It is safe for concurrent
// use.
type Registry struct {
	mu     sync.RWMutex
	llm    map[string]func(ProviderEntry) (llm.Provider, error)
	tts    map[string]func(ProviderEntry) (tts.Provider, error)
	search map[string]func(ProviderEntry) (search.Provider, error)
	memory map[MemoryBackend]MemoryFactory
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:    make(map[string]func(ProviderEntry) (llm.Provider, error)),
		tts:    make(map[string]func(ProviderEntry) (tts.Provider, error)),
		search: make(map[string]func(ProviderEntry) (search.Provider, error)),
		memory: make(map[MemoryBackend]MemoryFactory),
	}
}

// RegisterLLM registers an inference provider factory under name, replacing
// any earlier one.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterTTS registers a synthesis provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterSearch registers a search provider factory under name.
func (r *Registry) RegisterSearch(name string, factory func(ProviderEntry) (search.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.search[name] = factory
}

// RegisterMemory registers the factory of a persistence backend.
func (r *Registry) RegisterMemory(backend MemoryBackend, factory MemoryFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memory[backend] = factory
}

// CreateLLM builds the inference provider named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(r, r.llm, "llm", entry)
}

// CreateTTS builds the synthesis provider named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(r, r.tts, "tts", entry)
}

// CreateSearch builds the search provider named by entry.Name.
func (r *Registry) CreateSearch(entry ProviderEntry) (search.Provider, error) {
	return create(r, r.search, "search", entry)
}

// OpenMemory opens the backend selected by cfg.Backend.
func (r *Registry) OpenMemory(ctx context.Context, cfg MemoryConfig) (memory.Persister, func() error, error) {
	r.mu.RLock()
	factory, ok := r.memory[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: memory/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(ctx, cfg)
}

func create[T any](r *Registry, m map[string]func(ProviderEntry) (T, error), kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := m[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}
