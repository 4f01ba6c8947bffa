package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

// SearchRule is one (category, pattern) pair of the search classifier.
// Patterns are Go regular expressions, matched case-insensitively.
type SearchRule struct {
	Category string `yaml:"category"`
	Pattern  string `yaml:"pattern"`
}

// DefaultSearchRules covers requests whose answer changes over time.
func DefaultSearchRules() []SearchRule {
	return []SearchRule{
		{Category: "weather", Pattern: `\b(weather|forecast|temperature|rain(ing|y)?|snow(ing|y)?|sunny|humidity|windy|umbrella)\b`},
		{Category: "news", Pattern: `\b(news|headlines?|breaking|current events|what happened)\b`},
		{Category: "datetime", Pattern: `\b(what(?:'s| is) (the )?(date|day)( today)?|what day is (it|today)|what time is it|today'?s date)\b`},
		{Category: "prices", Pattern: `\b(prices?|cost of|how much (is|are|does)|stocks?|share price|exchange rate|bitcoin|crypto(currency)?)\b`},
		{Category: "sports", Pattern: `\b(scores?|who won|standings|playoffs?|fixtures?|match result)\b`},
		{Category: "question", Pattern: `^\s*(who|what|when|where) (is|are|was|were) (the )?(current|latest|new|president|prime minister|ceo)\b`},
		{Category: "question", Pattern: `\b(latest|currently|right now|these days|this week|this year|recently)\b`},
		{Category: "lookup", Pattern: `^\s*(please )?(search( for)?|look up|google|find out)\b`},
	}
}

// Decision is the outcome of search classification.
type Decision struct {
	// Search reports whether web search context is warranted.
	Search bool

	// Query is the text to search for.
	Query string

	// Category names the matching rule, or "classifier" for an override.
	Category string
}

// Classifier is a richer, typically model-backed, search classifier. When
// configured it overrides the rule table; on error the rules decide.
type Classifier interface {
	Classify(ctx context.Context, utterance string) (Decision, error)
}

type compiledSearchRule struct {
	category string
	re       *regexp.Regexp
}

// SearchClassifier decides whether an utterance needs web search context.
type SearchClassifier struct {
	rules    []compiledSearchRule
	override Classifier
	timeout  time.Duration
}

// ClassifierOption configures a [SearchClassifier].
type ClassifierOption func(*SearchClassifier)

// WithOverride consults c before the rules. c gets at most timeout; zero
// means one second.
func WithOverride(c Classifier, timeout time.Duration) ClassifierOption {
	return func(s *SearchClassifier) {
		s.override = c
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// NewSearchClassifier compiles rules.
func NewSearchClassifier(rules []SearchRule, opts ...ClassifierOption) (*SearchClassifier, error) {
	s := &SearchClassifier{timeout: time.Second}
	for i, r := range rules {
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("pipeline: search rule %d (%s): %w", i, r.Category, err)
		}
		s.rules = append(s.rules, compiledSearchRule{category: r.Category, re: re})
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Classify decides whether utterance needs search.
func (s *SearchClassifier) Classify(ctx context.Context, utterance string) Decision {
	if s.override != nil {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		d, err := s.override.Classify(cctx, utterance)
		cancel()
		if err == nil {
			if d.Search && strings.TrimSpace(d.Query) == "" {
				d.Query = SearchQuery(utterance)
			}
			if d.Category == "" {
				d.Category = "classifier"
			}
			return d
		}
		slog.Debug("search classifier override failed, using rules", "error", err)
	}
	for _, r := range s.rules {
		if r.re.MatchString(utterance) {
			return Decision{Search: true, Query: SearchQuery(utterance), Category: r.category}
		}
	}
	return Decision{}
}

var (
	leadingFiller = regexp.MustCompile(`(?i)^\s*((hey|ok|okay)\s+)?(jarvis[\s,]*)?((can|could|would) you\s+)?(please\s+)?((tell|show) me\s+)?((search( for)?|look up|google|find out)\s+)?`)
	trailingJunk  = regexp.MustCompile(`(?i)[\s,]*(please|jarvis|thanks|thank you)?[\s?.!]*$`)
)

// SearchQuery strips conversational filler from utterance so it reads as a
// search query.
func SearchQuery(utterance string) string {
	q := leadingFiller.ReplaceAllString(utterance, "")
	q = trailingJunk.ReplaceAllString(q, "")
	q = strings.Join(strings.Fields(q), " ")
	if q == "" {
		return strings.TrimSpace(utterance)
	}
	return q
}
