package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/jarvis/internal/config"
	"github.com/MrWong99/jarvis/pkg/provider/llm"
	"github.com/MrWong99/jarvis/pkg/provider/search"
	"github.com/MrWong99/jarvis/pkg/provider/tts"
)

// BuildProviders instantiates every provider named in cfg using reg and
// opens the memory backend. The returned close function releases the
// backend; it is never nil.
//
// Entries whose name is not registered are skipped with a warning so one
// unknown entry does not take down the whole chain. Construction errors
// are fatal.
func BuildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*Providers, func() error, error) {
	ps := &Providers{}
	noop := func() error { return nil }

	var err error
	if ps.LLM, err = buildChain("llm", cfg.Providers.LLM.Entries, reg.CreateLLM); err != nil {
		return nil, noop, err
	}
	if ps.TTS, err = buildChain("tts", cfg.Providers.TTS.Entries, reg.CreateTTS); err != nil {
		return nil, noop, err
	}
	if ps.Search, err = buildChain("search", cfg.Providers.Search.Entries, reg.CreateSearch); err != nil {
		return nil, noop, err
	}

	if entry := cfg.Providers.Classifier; entry != nil {
		p, err := reg.CreateLLM(*entry)
		if err != nil {
			return nil, noop, fmt.Errorf("create classifier %q: %w", entry.Label(), err)
		}
		ps.Classifier = p
		slog.Info("provider created", "kind", "classifier", "name", entry.Name, "model", entry.Model)
	}

	persister, closeFn, err := reg.OpenMemory(ctx, cfg.Memory)
	if err != nil {
		return nil, noop, fmt.Errorf("open memory backend %q: %w", cfg.Memory.Backend, err)
	}
	if closeFn == nil {
		closeFn = noop
	}
	ps.Persister = persister
	slog.Info("memory backend opened", "backend", cfg.Memory.Backend)

	return ps, closeFn, nil
}

func buildChain[T any](kind string, entries []config.ProviderEntry, create func(config.ProviderEntry) (T, error)) ([]Named[T], error) {
	out := make([]Named[T], 0, len(entries))
	for _, entry := range entries {
		p, err := create(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("provider not registered, skipping", "kind", kind, "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create %s provider %q: %w", kind, entry.Label(), err)
		}
		out = append(out, Named[T]{ID: entry.Label(), Provider: p})
		slog.Info("provider created", "kind", kind, "id", entry.Label(), "name", entry.Name, "model", entry.Model)
	}
	return out, nil
}

// Compile-time checks that the registry constructors fit buildChain.
var (
	_ func(config.ProviderEntry) (llm.Provider, error)    = (*config.Registry)(nil).CreateLLM
	_ func(config.ProviderEntry) (tts.Provider, error)    = (*config.Registry)(nil).CreateTTS
	_ func(config.ProviderEntry) (search.Provider, error) = (*config.Registry)(nil).CreateSearch
)
