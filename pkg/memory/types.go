package memory

import "time"

// Role identifies who produced a [Message].
type Role string

const (
	// RoleUser marks a message spoken by the human.
	RoleUser Role = "user"

	// RoleAssistant marks a reply produced by the assistant.
	RoleAssistant Role = "assistant"
)

// Metadata carries per-message bookkeeping that is useful for analytics and
// prompt construction but never spoken.
type Metadata struct {
	// SearchUsed reports whether web search context was folded into the prompt
	// that produced this reply.
	SearchUsed bool `json:"search_used,omitempty"`

	// SearchProvider names the search backend that answered, if any.
	SearchProvider string `json:"search_provider,omitempty"`

	// LLMProvider names the inference backend that produced the reply.
	LLMProvider string `json:"llm_provider,omitempty"`

	// TTSProvider names the synthesiser that voiced the reply.
	TTSProvider string `json:"tts_provider,omitempty"`

	// Fallback is set when the reply is the canned apology substituted after
	// every provider failed.
	Fallback bool `json:"fallback,omitempty"`

	// Command is the local control command that produced a canned reply
	// (greeting, farewell). Empty for model replies.
	Command string `json:"command,omitempty"`

	// Interrupted is set when playback was cut short by the user.
	Interrupted bool `json:"interrupted,omitempty"`
}

// Message is one entry in a conversation.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Metadata  Metadata  `json:"metadata"`
}

// Session is the persisted form of a conversation. Messages holds the
// persisted log, which may be longer than the in-memory prompt window.
type Session struct {
	ID string `json:"id"`

	// Owner is the user the session belongs to. A user has at most one
	// active session. Empty for anonymous clients.
	Owner string `json:"owner,omitempty"`

	Messages       []Message `json:"messages"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Active         bool      `json:"active"`
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	out := s
	if s.Messages != nil {
		out.Messages = make([]Message, len(s.Messages))
		copy(out.Messages, s.Messages)
	}
	return out
}
