// Package search defines the Provider interface for web search and
// instant-answer backends.
//
// A search provider turns a natural-language query into a short list of
// snippets that the command pipeline folds into the prompt as grounding
// context. Only the request/response contract is modelled; ranking and
// payload details stay inside each backend.
//
// Implementations must be safe for concurrent use.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoResults is returned when a backend answered successfully but found
// nothing usable. Fallback chains treat it like any other failure and move on
// to the next backend.
var ErrNoResults = errors.New("search: no results")

// Result is one search hit.
type Result struct {
	// Title is the page or answer heading.
	Title string

	// URL is the source location. May be empty for direct answers.
	URL string

	// Snippet is a short plain-text excerpt suitable for a prompt.
	Snippet string
}

// Provider is the abstraction over any search backend.
type Provider interface {
	// Search runs query and returns at most maxResults hits. It returns
	// [ErrNoResults] (possibly wrapped) when nothing was found.
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// FormatContext renders results as a compact numbered list for inclusion in a
// prompt. Each snippet is cut to maxSnippet runes when maxSnippet > 0.
func FormatContext(results []Result, maxSnippet int) string {
	var b strings.Builder
	for i, r := range results {
		snippet := strings.TrimSpace(r.Snippet)
		if maxSnippet > 0 {
			if runes := []rune(snippet); len(runes) > maxSnippet {
				snippet = string(runes[:maxSnippet]) + "…"
			}
		}
		fmt.Fprintf(&b, "%d. ", i+1)
		if r.Title != "" {
			b.WriteString(r.Title)
			b.WriteString(": ")
		}
		b.WriteString(snippet)
		if r.URL != "" {
			fmt.Fprintf(&b, " (%s)", r.URL)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
