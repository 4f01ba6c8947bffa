package session

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/jarvis/pkg/memory"
)

const (
	// DefaultSummaryMessages is how many trailing messages Summary covers
	// when asked for n <= 0.
	DefaultSummaryMessages = 6

	// maxSummaryLine caps each rendered message, in runes.
	maxSummaryLine = 240
)

// Summary renders the last n messages of session id as a compact transcript
// for prompt augmentation. It never mutates the session. Unknown sessions
// yield "".
func (s *Store) Summary(id string, n int) string {
	e, ok := s.sessions.Peek(id)
	if !ok {
		return ""
	}
	e.mu.Lock()
	msgs := e.sess.Messages
	if n <= 0 {
		n = DefaultSummaryMessages
	}
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := Summarize(msgs)
	e.mu.Unlock()
	return out
}

// Summarize renders msgs one per line as "User: ..." / "Assistant: ...".
// Long messages are shortened at a word boundary. Empty messages are
// skipped, as are interrupted assistant replies, which were never heard.
func Summarize(msgs []memory.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		if m.Role == memory.RoleAssistant && m.Metadata.Interrupted {
			continue
		}
		text := strings.Join(strings.Fields(m.Content), " ")
		if text == "" {
			continue
		}
		speaker := "User"
		if m.Role == memory.RoleAssistant {
			speaker = "Assistant"
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%s: %s", speaker, shorten(text, maxSummaryLine))
	}
	return sb.String()
}

// shorten cuts s to at most limit runes, preferring the last space.
func shorten(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	cut := string([]rune(s)[:limit])
	if i := strings.LastIndexByte(cut, ' '); i > limit/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:") + "…"
}
