package app_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/jarvis/internal/app"
	"github.com/MrWong99/jarvis/internal/config"
	"github.com/MrWong99/jarvis/pkg/memory"
	memorymock "github.com/MrWong99/jarvis/pkg/memory/mock"
	"github.com/MrWong99/jarvis/pkg/provider/llm"
	llmmock "github.com/MrWong99/jarvis/pkg/provider/llm/mock"
	"github.com/MrWong99/jarvis/pkg/provider/search"
	searchmock "github.com/MrWong99/jarvis/pkg/provider/search/mock"
)

func testRegistry(closed *bool) *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterLLM("mock", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
	reg.RegisterLLM("broken", func(config.ProviderEntry) (llm.Provider, error) { return nil, errors.New("bad key") })
	reg.RegisterSearch("mock", func(config.ProviderEntry) (search.Provider, error) { return &searchmock.Provider{}, nil })
	reg.RegisterMemory(config.BackendMemory, func(context.Context, config.MemoryConfig) (memory.Persister, func() error, error) {
		return &memorymock.Persister{}, func() error { *closed = true; return nil }, nil
	})
	return reg
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Providers.LLM.Entries = []config.ProviderEntry{
		{Name: "mock", ID: "fast"},
		{Name: "unknown"},
		{Name: "mock"},
	}
	cfg.Providers.Search.Entries = []config.ProviderEntry{{Name: "mock"}}
	cfg.Providers.Classifier = &config.ProviderEntry{Name: "mock"}

	var closed bool
	ps, closeFn, err := app.BuildProviders(context.Background(), cfg, testRegistry(&closed))
	if err != nil {
		t.Fatalf("BuildProviders() returned error: %v", err)
	}
	if len(ps.LLM) != 2 || ps.LLM[0].ID != "fast" || ps.LLM[1].ID != "mock" {
		t.Errorf("LLM = %+v, want [fast mock]", ps.LLM)
	}
	if len(ps.Search) != 1 || len(ps.TTS) != 0 {
		t.Errorf("search/tts = %d/%d, want 1/0", len(ps.Search), len(ps.TTS))
	}
	if ps.Classifier == nil || ps.Persister == nil {
		t.Error("classifier or persister missing")
	}
	if err := closeFn(); err != nil || !closed {
		t.Errorf("close = %v, closed %v", err, closed)
	}
}

func TestBuildProviders_ConstructionError(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Providers.LLM.Entries = []config.ProviderEntry{{Name: "broken"}}

	var closed bool
	_, closeFn, err := app.BuildProviders(context.Background(), cfg, testRegistry(&closed))
	if err == nil {
		t.Fatal("BuildProviders() accepted a failing provider")
	}
	if closeFn == nil {
		t.Fatal("close function is nil")
	}
}
