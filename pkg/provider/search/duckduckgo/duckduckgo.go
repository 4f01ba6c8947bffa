// Package duckduckgo provides a search.Provider backed by the DuckDuckGo
// Instant Answer API. It needs no API key and returns encyclopedia-style
// abstracts, direct answers and related topics rather than full web results,
// which makes it a good secondary backend.
package duckduckgo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/MrWong99/jarvis/pkg/provider/search"
)

const defaultBaseURL = "https://api.duckduckgo.com"

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

// Provider implements search.Provider using DuckDuckGo instant answers.
type Provider struct {
	client *resty.Client
}

// New returns a DuckDuckGo provider.
func New(opts ...Option) *Provider {
	c := resty.New().
		SetBaseURL(defaultBaseURL).
		SetHeader("Accept", "application/json")
	for _, o := range opts {
		o(c)
	}
	return &Provider{client: c}
}

type topic struct {
	Text     string  `json:"Text"`
	FirstURL string  `json:"FirstURL"`
	Topics   []topic `json:"Topics"`
}

type instantAnswer struct {
	Heading       string  `json:"Heading"`
	Answer        string  `json:"Answer"`
	Definition    string  `json:"Definition"`
	DefinitionURL string  `json:"DefinitionURL"`
	AbstractText  string  `json:"AbstractText"`
	AbstractURL   string  `json:"AbstractURL"`
	RelatedTopics []topic `json:"RelatedTopics"`
}

// Search implements search.Provider.
func (p *Provider) Search(ctx context.Context, query string, maxResults int) ([]search.Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("duckduckgo: query is required")
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":             query,
			"format":        "json",
			"no_html":       "1",
			"skip_disambig": "1",
		}).
		Get("/")
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("duckduckgo: status %d", resp.StatusCode())
	}

	// The API labels its JSON as application/x-javascript, so decode by hand.
	var ia instantAnswer
	if err := json.Unmarshal(resp.Body(), &ia); err != nil {
		return nil, fmt.Errorf("duckduckgo: decode: %w", err)
	}

	out := collect(ia, maxResults)
	if len(out) == 0 {
		return nil, fmt.Errorf("duckduckgo: %w", search.ErrNoResults)
	}
	return out, nil
}

func collect(ia instantAnswer, maxResults int) []search.Result {
	var out []search.Result
	add := func(r search.Result) {
		if len(out) < maxResults && strings.TrimSpace(r.Snippet) != "" {
			out = append(out, r)
		}
	}
	add(search.Result{Title: "Answer", Snippet: ia.Answer})
	add(search.Result{Title: ia.Heading, URL: ia.AbstractURL, Snippet: ia.AbstractText})
	add(search.Result{Title: "Definition", URL: ia.DefinitionURL, Snippet: ia.Definition})

	var walk func([]topic)
	walk = func(ts []topic) {
		for _, t := range ts {
			if len(t.Topics) > 0 {
				walk(t.Topics)
				continue
			}
			add(search.Result{URL: t.FirstURL, Snippet: t.Text})
		}
	}
	walk(ia.RelatedTopics)
	return out
}

var _ search.Provider = (*Provider)(nil)
