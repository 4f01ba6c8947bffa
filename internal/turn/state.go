// Package turn implements the turn-taking state machine that decides when
// the human has finished speaking and the assistant may answer.
//
// The machine is driven by three inputs: per-frame VAD decisions, transcript
// events (interim or final) and the response lifecycle reported by the
// session actor. Every method takes the current time explicitly so tests can
// simulate the clock.
package turn

import (
	"strings"
	"time"
)

// State is the turn state of one session.
type State int

const (
	// Idle: nobody is speaking.
	Idle State = iota

	// Listening: the human is speaking or has just paused.
	Listening

	// TurnTaking: the human seems done; the grace period is running.
	TurnTaking

	// Processing: the turn is committed and a reply is being prepared.
	Processing

	// Responding: the reply is being played.
	Responding
)

// String returns the snake_case name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case TurnTaking:
		return "turn_taking"
	case Processing:
		return "processing"
	case Responding:
		return "responding"
	default:
		return "unknown"
	}
}

// Transition is emitted whenever the state changes.
type Transition struct {
	From   State
	To     State
	At     time.Time
	Reason string
}

// Utterance is one transcript event, or the committed turn text.
type Utterance struct {
	Text    string
	IsFinal bool
	Start   time.Time
	End     time.Time
}

// transcript accumulates the text of the current turn. Interim text is
// replaced on every update; finals are appended.
type transcript struct {
	finals  []string
	interim string
	start   time.Time
	end     time.Time
}

func (t *transcript) update(u Utterance) {
	text := strings.TrimSpace(u.Text)
	if t.start.IsZero() || (!u.Start.IsZero() && u.Start.Before(t.start)) {
		t.start = u.Start
	}
	if u.End.After(t.end) {
		t.end = u.End
	}
	if u.IsFinal {
		if text != "" {
			t.finals = append(t.finals, text)
		}
		t.interim = ""
		return
	}
	t.interim = text
}

// text returns the finals followed by any pending interim text.
func (t *transcript) text() string {
	parts := t.finals
	if t.interim != "" {
		parts = append(parts[:len(parts):len(parts)], t.interim)
	}
	return strings.Join(parts, " ")
}

// final returns the finals only.
func (t *transcript) final() string { return strings.Join(t.finals, " ") }

func (t *transcript) reset() { *t = transcript{} }
