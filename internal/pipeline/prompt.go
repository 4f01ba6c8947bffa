package pipeline

import (
	"strings"
	"time"

	"github.com/MrWong99/jarvis/pkg/provider/llm"
)

// DefaultSystemPrompt is used when no system prompt is configured.
const DefaultSystemPrompt = `You are Jarvis, a friendly voice assistant. Your replies are spoken aloud, so:
- answer in one to three short sentences of plain conversational English,
- never use markdown, lists, tables, emojis or URLs,
- write numbers, units and symbols the way they are said.
If you do not know something current, say so briefly instead of guessing.`

// PromptInput is everything that goes into one inference request.
type PromptInput struct {
	SystemPrompt string

	// Summary is the compact transcript of the recent conversation.
	Summary string

	// SearchQuery and SearchContext are set when web results are available.
	SearchQuery   string
	SearchContext string

	// Utterance is the user's current turn.
	Utterance string

	Now         time.Time
	Temperature float64
	MaxTokens   int
}

// BuildRequest composes the inference request. The system prompt carries
// the current time, the conversation summary and any search results; the
// single user message is the current utterance.
func BuildRequest(in PromptInput) llm.CompletionRequest {
	var sb strings.Builder
	sys := strings.TrimSpace(in.SystemPrompt)
	if sys == "" {
		sys = DefaultSystemPrompt
	}
	sb.WriteString(sys)

	if !in.Now.IsZero() {
		sb.WriteString("\n\nCurrent date and time: ")
		sb.WriteString(in.Now.Format("Monday, January 2, 2006, 15:04 MST"))
		sb.WriteByte('.')
	}
	if s := strings.TrimSpace(in.Summary); s != "" {
		sb.WriteString("\n\nConversation so far:\n")
		sb.WriteString(s)
	}
	if c := strings.TrimSpace(in.SearchContext); c != "" {
		sb.WriteString("\n\nWeb search results")
		if in.SearchQuery != "" {
			sb.WriteString(` for "`)
			sb.WriteString(in.SearchQuery)
			sb.WriteByte('"')
		}
		sb.WriteString(":\n")
		sb.WriteString(c)
		sb.WriteString("\n\nUse these results to answer. Do not mention that you searched or read out any links.")
	}

	return llm.CompletionRequest{
		SystemPrompt: sb.String(),
		Messages:     []llm.Message{{Role: "user", Content: strings.TrimSpace(in.Utterance)}},
		Temperature:  in.Temperature,
		MaxTokens:    in.MaxTokens,
	}
}
