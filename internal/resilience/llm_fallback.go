package resilience

import (
	"context"

	"github.com/MrWong99/jarvis/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with ordered failover across
// inference backends, typically a local model server followed by cloud
// models.
type LLMFallback struct {
	chain *Chain[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback wraps chain.
func NewLLMFallback(chain *Chain[llm.Provider]) *LLMFallback {
	return &LLMFallback{chain: chain}
}

// Chain returns the underlying chain.
func (f *LLMFallback) Chain() *Chain[llm.Provider] { return f.chain }

// Complete implements [llm.Provider]. The response's Provider field is set to
// the chain ID of the backend that answered.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	res, err := f.CompleteWithResult(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// CompleteWithResult is Complete plus attempt bookkeeping.
func (f *LLMFallback) CompleteWithResult(ctx context.Context, req llm.CompletionRequest) (Result[*llm.CompletionResponse], error) {
	res, err := Execute(ctx, f.chain, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		resp, err := p.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, errEmptyResponse
		}
		return resp, nil
	})
	if err != nil {
		return res, err
	}
	cp := *res.Value
	cp.Provider = res.Provider
	res.Value = &cp
	return res, nil
}

// Capabilities returns the capabilities of the provider that would be tried
// first. Capabilities are static metadata and do not trigger an attempt.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	if p, ok := f.chain.First(); ok {
		return p.Capabilities()
	}
	return llm.ModelCapabilities{}
}
