// Package mock provides a test double for the search.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Results: []search.Result{{Title: "Boston", Snippet: "Sunny, 21°C"}}}
//	res, err := p.Search(ctx, "weather in boston", 3)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/jarvis/pkg/provider/search"
)

// SearchCall records a single invocation of Search.
type SearchCall struct {
	Ctx        context.Context
	Query      string
	MaxResults int
}

// Provider is a mock implementation of search.Provider.
type Provider struct {
	mu sync.Mutex

	// Results is returned by Search.
	Results []search.Result

	// Err, if non-nil, is returned by Search.
	Err error

	// Block makes Search wait for ctx cancellation and return ctx.Err().
	Block bool

	// SearchCalls records every call to Search in order.
	SearchCalls []SearchCall
}

// Search records the call and returns Results, Err.
func (p *Provider) Search(ctx context.Context, query string, maxResults int) ([]search.Result, error) {
	p.mu.Lock()
	p.SearchCalls = append(p.SearchCalls, SearchCall{Ctx: ctx, Query: query, MaxResults: maxResults})
	block, results, err := p.Block, p.Results, p.Err
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	out := make([]search.Result, len(results))
	copy(out, results)
	return out, nil
}

// CallCount returns the number of Search calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SearchCalls)
}

var _ search.Provider = (*Provider)(nil)
