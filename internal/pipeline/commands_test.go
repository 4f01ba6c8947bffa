package pipeline

import (
	"testing"

	"github.com/MrWong99/jarvis/internal/pipeline/phonetic"
	"github.com/MrWong99/jarvis/internal/turn"
)

func TestCommandMatcher_Match(t *testing.T) {
	t.Parallel()

	m := NewCommandMatcher(turn.DefaultCueTable(), phonetic.New())
	tests := []struct {
		in   string
		want Command
	}{
		{"stop", CommandStop},
		{"Stop, Jarvis!", CommandStop},
		{"be quiet", CommandStop},
		{"never mind", CommandStop},
		{"Goodbye", CommandFarewell},
		{"bye bye jarvis", CommandFarewell},
		{"end the conversation", CommandFarewell},
		{"Hello Jarvis", CommandGreeting},
		{"good morning", CommandGreeting},
		{"Hello, what's the weather like?", CommandNone},
		{"stop the music and play some jazz", CommandNone},
		{"What's the weather in Boston?", CommandNone},
		{"", CommandNone},

		// Misrecognised short commands.
		{"stap", CommandStop},
		{"Jarvis stap", CommandStop},
		{"be quite", CommandStop},
		{"goodby", CommandFarewell},
	}
	for _, tt := range tests {
		if got := m.Match(tt.in); got != tt.want {
			t.Errorf("Match(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCommandMatcher_NoPhonetic(t *testing.T) {
	t.Parallel()

	m := NewCommandMatcher(turn.DefaultCueTable(), nil)
	if got := m.Match("stap"); got != CommandNone {
		t.Errorf("Match(stap) = %q without phonetic pass, want none", got)
	}
	if got := m.Match("stop"); got != CommandStop {
		t.Errorf("Match(stop) = %q, want stop", got)
	}
}

func TestCommandMatcher_SetCues(t *testing.T) {
	t.Parallel()

	m := NewCommandMatcher(turn.DefaultCueTable(), nil)
	custom, err := turn.NewCueTable([]turn.CueRule{{Pattern: `^halt$`, Class: turn.CueStop}})
	if err != nil {
		t.Fatal(err)
	}
	m.SetCues(custom)

	if got := m.Match("halt"); got != CommandStop {
		t.Errorf("Match(halt) = %q, want stop", got)
	}
	if got := m.Match("goodbye"); got != CommandNone {
		t.Errorf("Match(goodbye) = %q after swapping cues, want none", got)
	}
}
