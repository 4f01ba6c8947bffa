package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/jarvis/pkg/provider/llm"
	llmmock "github.com/MrWong99/jarvis/pkg/provider/llm/mock"
)

func TestSearchQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"What's the weather in Boston?", "What's the weather in Boston"},
		{"Hey Jarvis, can you please tell me the latest news", "the latest news"},
		{"search for cheap flights to Rome please", "cheap flights to Rome"},
		{"Look up the bitcoin price, thanks!", "the bitcoin price"},
		{"  who won the game   last night ", "who won the game last night"},
		{"please?", "please?"},
	}
	for _, tt := range tests {
		if got := SearchQuery(tt.in); got != tt.want {
			t.Errorf("SearchQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSearchClassifier_Rules(t *testing.T) {
	t.Parallel()

	c, err := NewSearchClassifier(DefaultSearchRules())
	if err != nil {
		t.Fatalf("NewSearchClassifier: %v", err)
	}

	tests := []struct {
		in       string
		search   bool
		category string
	}{
		{"What's the weather in Boston?", true, "weather"},
		{"Will it be raining tomorrow", true, "weather"},
		{"Give me the headlines", true, "news"},
		{"What day is it today?", true, "datetime"},
		{"How much is a Tesla Model 3", true, "prices"},
		{"Who won the match last night?", true, "sports"},
		{"Who is the current president of France", true, "question"},
		{"What are people talking about these days", true, "question"},
		{"Look up the opening hours of the museum", true, "lookup"},
		{"Tell me a joke", false, ""},
		{"What is the capital of France?", false, ""},
		{"How do I boil an egg", false, ""},
	}
	for _, tt := range tests {
		d := c.Classify(context.Background(), tt.in)
		if d.Search != tt.search || d.Category != tt.category {
			t.Errorf("Classify(%q) = %+v, want search=%v category=%q", tt.in, d, tt.search, tt.category)
		}
		if d.Search && d.Query == "" {
			t.Errorf("Classify(%q): empty query", tt.in)
		}
	}
}

func TestNewSearchClassifier_BadPattern(t *testing.T) {
	t.Parallel()

	_, err := NewSearchClassifier([]SearchRule{{Category: "broken", Pattern: `(`}})
	if err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

type classifierFunc func(ctx context.Context, utterance string) (Decision, error)

func (f classifierFunc) Classify(ctx context.Context, utterance string) (Decision, error) {
	return f(ctx, utterance)
}

func TestSearchClassifier_Override(t *testing.T) {
	t.Parallel()

	override := classifierFunc(func(context.Context, string) (Decision, error) {
		return Decision{Search: true}, nil
	})
	c, err := NewSearchClassifier(DefaultSearchRules(), WithOverride(override, 0))
	if err != nil {
		t.Fatal(err)
	}

	d := c.Classify(context.Background(), "Sing me a song")
	if !d.Search {
		t.Fatal("override said search, got no search")
	}
	if d.Query != "Sing me a song" {
		t.Errorf("Query = %q, want utterance-derived query", d.Query)
	}
	if d.Category != "classifier" {
		t.Errorf("Category = %q, want classifier", d.Category)
	}
}

func TestSearchClassifier_OverrideFailureFallsBackToRules(t *testing.T) {
	t.Parallel()

	override := classifierFunc(func(ctx context.Context, _ string) (Decision, error) {
		<-ctx.Done()
		return Decision{}, ctx.Err()
	})
	c, err := NewSearchClassifier(DefaultSearchRules(), WithOverride(override, 20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	d := c.Classify(context.Background(), "What's the weather in Boston?")
	if !d.Search || d.Category != "weather" {
		t.Errorf("got %+v, want rule-based weather decision", d)
	}
}

func TestLLMClassifier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		err     error
		want    Decision
		wantErr bool
	}{
		{
			name:    "search",
			content: `{"search": true, "query": "boston weather"}`,
			want:    Decision{Search: true, Query: "boston weather", Category: "classifier"},
		},
		{
			name:    "fenced json",
			content: "```json\n{\"search\": false, \"query\": \"ignored\"}\n```",
			want:    Decision{Category: "classifier"},
		},
		{
			name:    "prose",
			content: "I think you should search.",
			wantErr: true,
		},
		{
			name:    "provider error",
			err:     errors.New("unavailable"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &llmmock.Provider{CompleteErr: tt.err}
			if tt.err == nil {
				p.CompleteResponse = &llm.CompletionResponse{Content: tt.content}
			}
			got, err := NewLLMClassifier(p).Classify(context.Background(), "weather in boston")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
			calls := p.Calls()
			if len(calls) != 1 {
				t.Fatalf("calls = %d, want 1", len(calls))
			}
			if calls[0].Req.Messages[0].Content != "weather in boston" {
				t.Errorf("user message = %q", calls[0].Req.Messages[0].Content)
			}
		})
	}
}
