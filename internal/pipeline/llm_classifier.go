package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrWong99/jarvis/pkg/provider/llm"
)

const classifierPrompt = `You decide whether a voice assistant needs a web search to answer the user.

Search is needed for anything that changes over time or that a language model cannot know:
weather, news, sports results, prices, opening hours, today's date, recent events, or facts about
specific current people, places and products.
Search is NOT needed for small talk, general knowledge, maths, definitions, advice or creative requests.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"search": true|false, "query": "<short web search query, empty when search is false>"}`

type classifierResponse struct {
	Search bool   `json:"search"`
	Query  string `json:"query"`
}

// LLMClassifier asks a language model whether an utterance needs search.
// Plug it into a [SearchClassifier] with [WithOverride]. Unparseable model
// output is reported as an error so the rule table decides instead.
type LLMClassifier struct {
	llm llm.Provider
}

// Compile-time interface assertion.
var _ Classifier = (*LLMClassifier)(nil)

// NewLLMClassifier returns a classifier backed by provider. Use a small,
// fast model; the call sits on the reply path.
func NewLLMClassifier(provider llm.Provider) *LLMClassifier {
	return &LLMClassifier{llm: provider}
}

// Classify implements [Classifier].
func (c *LLMClassifier) Classify(ctx context.Context, utterance string) (Decision, error) {
	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: classifierPrompt,
		Temperature:  0.1,
		MaxTokens:    64,
		Messages:     []llm.Message{{Role: "user", Content: utterance}},
	})
	if err != nil {
		return Decision{}, fmt.Errorf("llm classifier: complete: %w", err)
	}
	var r classifierResponse
	if err := json.Unmarshal([]byte(stripMarkdown(resp.Content)), &r); err != nil {
		return Decision{}, fmt.Errorf("llm classifier: parse response: %w", err)
	}
	d := Decision{Search: r.Search, Category: "classifier"}
	if r.Search {
		d.Query = strings.TrimSpace(r.Query)
	}
	return d, nil
}

// stripMarkdown removes the code fences some models wrap JSON output in.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
