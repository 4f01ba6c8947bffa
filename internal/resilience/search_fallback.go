package resilience

import (
	"context"

	"github.com/MrWong99/jarvis/pkg/provider/search"
)

// SearchFallback implements [search.Provider] with ordered failover across
// search backends. A backend that answers with no results counts as failed
// so the next one gets a chance.
type SearchFallback struct {
	chain *Chain[search.Provider]
}

// Compile-time interface assertion.
var _ search.Provider = (*SearchFallback)(nil)

// NewSearchFallback wraps chain.
func NewSearchFallback(chain *Chain[search.Provider]) *SearchFallback {
	return &SearchFallback{chain: chain}
}

// Chain returns the underlying chain.
func (f *SearchFallback) Chain() *Chain[search.Provider] { return f.chain }

// Search implements [search.Provider].
func (f *SearchFallback) Search(ctx context.Context, query string, maxResults int) ([]search.Result, error) {
	res, err := f.SearchWithResult(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// SearchWithResult is Search plus the ID of the backend that answered.
func (f *SearchFallback) SearchWithResult(ctx context.Context, query string, maxResults int) (Result[[]search.Result], error) {
	return Execute(ctx, f.chain, func(ctx context.Context, p search.Provider) ([]search.Result, error) {
		hits, err := p.Search(ctx, query, maxResults)
		if err != nil {
			return nil, err
		}
		if len(hits) == 0 {
			return nil, search.ErrNoResults
		}
		return hits, nil
	})
}
