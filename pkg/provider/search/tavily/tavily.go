// Package tavily provides a search.Provider backed by the Tavily web search API.
package tavily

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/MrWong99/jarvis/pkg/provider/search"
)

const defaultBaseURL = "https://api.tavily.com"

// Option is a functional option for [New].
type Option func(*resty.Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *resty.Client) { c.SetBaseURL(strings.TrimRight(url, "/")) }
}

// WithTimeout sets an HTTP timeout on every request.
func WithTimeout(d time.Duration) Option {
	return func(c *resty.Client) { c.SetTimeout(d) }
}

// Provider implements search.Provider using Tavily.
type Provider struct {
	client *resty.Client
}

// New returns a Tavily provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("tavily: apiKey must not be empty")
	}
	c := resty.New().
		SetBaseURL(defaultBaseURL).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json")
	for _, o := range opts {
		o(c)
	}
	return &Provider{client: c}, nil
}

type searchRequest struct {
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	MaxResults    int    `json:"max_results"`
	IncludeAnswer bool   `json:"include_answer"`
}

type searchResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search implements search.Provider. Tavily's synthesised answer, when
// present, is returned as the first hit.
func (p *Provider) Search(ctx context.Context, query string, maxResults int) ([]search.Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("tavily: query is required")
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	var decoded searchResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(searchRequest{Query: query, SearchDepth: "basic", MaxResults: maxResults, IncludeAnswer: true}).
		SetResult(&decoded).
		Post("/search")
	if err != nil {
		return nil, fmt.Errorf("tavily: request: %w", err)
	}
	if resp.IsError() {
		body := resp.String()
		if len(body) > 512 {
			body = body[:512]
		}
		return nil, fmt.Errorf("tavily: status %d: %s", resp.StatusCode(), strings.TrimSpace(body))
	}

	var out []search.Result
	if a := strings.TrimSpace(decoded.Answer); a != "" {
		out = append(out, search.Result{Title: "Answer", Snippet: a})
	}
	for _, r := range decoded.Results {
		if len(out) >= maxResults {
			break
		}
		out = append(out, search.Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("tavily: %w", search.ErrNoResults)
	}
	return out, nil
}

var _ search.Provider = (*Provider)(nil)
