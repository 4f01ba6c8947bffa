package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/jarvis/internal/config"
	"github.com/MrWong99/jarvis/pkg/memory"
	"github.com/MrWong99/jarvis/pkg/memory/memstore"
	"github.com/MrWong99/jarvis/pkg/memory/postgres"
	"github.com/MrWong99/jarvis/pkg/memory/redis"
	"github.com/MrWong99/jarvis/pkg/provider/llm"
	"github.com/MrWong99/jarvis/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/jarvis/pkg/provider/llm/openai"
	"github.com/MrWong99/jarvis/pkg/provider/search"
	"github.com/MrWong99/jarvis/pkg/provider/search/duckduckgo"
	"github.com/MrWong99/jarvis/pkg/provider/search/tavily"
	"github.com/MrWong99/jarvis/pkg/provider/tts"
	"github.com/MrWong99/jarvis/pkg/provider/tts/elevenlabs"
	oatts "github.com/MrWong99/jarvis/pkg/provider/tts/openai"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation package.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// Everything except openai goes through any-llm: optional APIKey plus
	// optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	// openai and every OpenAI-compatible endpoint use the official SDK.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oallm.WithTimeout(d))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(voice))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oatts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oatts.WithModel(entry.Model))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, oatts.WithVoice(voice))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oatts.WithTimeout(d))
		}
		return oatts.New(entry.APIKey, opts...)
	})

	// ── Search ────────────────────────────────────────────────────────────────

	reg.RegisterSearch("tavily", func(entry config.ProviderEntry) (search.Provider, error) {
		var opts []tavily.Option
		if entry.BaseURL != "" {
			opts = append(opts, tavily.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, tavily.WithTimeout(d))
		}
		return tavily.New(entry.APIKey, opts...)
	})

	reg.RegisterSearch("duckduckgo", func(entry config.ProviderEntry) (search.Provider, error) {
		var opts []duckduckgo.Option
		if entry.BaseURL != "" {
			opts = append(opts, duckduckgo.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, duckduckgo.WithTimeout(d))
		}
		return duckduckgo.New(opts...), nil
	})

	// ── Memory ────────────────────────────────────────────────────────────────

	reg.RegisterMemory(config.BackendMemory, func(context.Context, config.MemoryConfig) (memory.Persister, func() error, error) {
		return memstore.New(), nil, nil
	})

	reg.RegisterMemory(config.BackendPostgres, func(ctx context.Context, mc config.MemoryConfig) (memory.Persister, func() error, error) {
		s, err := postgres.NewStore(ctx, mc.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { s.Close(); return nil }, nil
	})

	reg.RegisterMemory(config.BackendRedis, func(ctx context.Context, mc config.MemoryConfig) (memory.Persister, func() error, error) {
		var opts []redis.Option
		if mc.RedisPrefix != "" {
			opts = append(opts, redis.WithPrefix(mc.RedisPrefix))
		}
		// Keys outlive the in-memory expiry so an expired session can
		// still be resumed for a while.
		if mc.InactivityTimeout > 0 {
			opts = append(opts, redis.WithTTL(24*time.Hour+mc.InactivityTimeout))
		}
		s, err := redis.NewFromURL(ctx, mc.RedisURL, opts...)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optDuration reads a duration such as "10s" from Options. Unparseable
// values are logged and ignored.
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring provider option", "key", key, "value", s, "err", fmt.Errorf("parse duration: %w", err))
		return 0
	}
	return d
}
