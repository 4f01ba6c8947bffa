package search_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/jarvis/pkg/provider/search"
	"github.com/MrWong99/jarvis/pkg/provider/search/mock"
)

func TestCached_HitsAvoidBackend(t *testing.T) {
	t.Parallel()

	backend := &mock.Provider{Results: []search.Result{{Title: "T", Snippet: "S"}}}
	c := search.NewCached(backend, time.Minute)

	for _, q := range []string{"Weather in Boston", "  weather   in boston "} {
		res, err := c.Search(context.Background(), q, 3)
		if err != nil {
			t.Fatalf("Search(%q): %v", q, err)
		}
		if len(res) != 1 {
			t.Fatalf("Search(%q) = %v", q, res)
		}
	}
	if n := backend.CallCount(); n != 1 {
		t.Errorf("backend calls = %d, want 1", n)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestCached_ErrorsNotCached(t *testing.T) {
	t.Parallel()

	backend := &mock.Provider{Err: search.ErrNoResults}
	c := search.NewCached(backend, time.Minute)
	for range 2 {
		if _, err := c.Search(context.Background(), "q", 3); !errors.Is(err, search.ErrNoResults) {
			t.Fatalf("err = %v", err)
		}
	}
	if n := backend.CallCount(); n != 2 {
		t.Errorf("backend calls = %d, want 2", n)
	}
}

func TestFormatContext(t *testing.T) {
	t.Parallel()

	got := search.FormatContext([]search.Result{
		{Title: "Boston Weather", URL: "https://e.com", Snippet: "Clear skies all day"},
		{Snippet: "Warm"},
	}, 5)
	want := "1. Boston Weather: Clear… (https://e.com)\n2. Warm"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if search.FormatContext(nil, 0) != "" {
		t.Error("expected empty context for no results")
	}
}
