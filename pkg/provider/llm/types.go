package llm

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// Local is true for models served on the same host or network, which the
	// inference chain prefers first.
	Local bool
}

// EstimateTokens approximates the number of tokens msgs would consume in a
// context window. It assumes roughly four characters per token plus a small
// per-message overhead and never undercounts by much for English prose.
func EstimateTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += (len(m.Content)+3)/4 + 4
	}
	return total
}
