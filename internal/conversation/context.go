// Package conversation runs one voice conversation: the session actor.
//
// An [Actor] owns the turn state and the VAD state of a single session. A
// fixed-rate tick feeds captured frames through the detector and advances
// the turn timers; transcripts and commands arrive through mailboxes. Every
// reply runs in its own cancellable goroutine, supervised by the actor, so
// the tick never waits on the network.
package conversation

import (
	"github.com/MrWong99/jarvis/internal/interrupt"
	"github.com/MrWong99/jarvis/internal/pipeline"
	"github.com/MrWong99/jarvis/internal/turn"
	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/provider/vad"
)

// Context is the per-session state shared by the actor's components. It is
// handed to each of them explicitly; none of them reaches into another.
type Context struct {
	// SessionID keys the conversation in the session store. The session is
	// opened on the first committed turn if it does not exist yet.
	SessionID string

	// Owner is the user the session belongs to, or "" for an anonymous
	// client.
	Owner string

	// VAD is this session's detector. Required.
	VAD vad.SessionHandle

	// Player is the playback sink. Required.
	Player audio.Player

	// Hooks carries the session's synthesisers for the pipeline.
	// OnSubtitle is set by the actor.
	Hooks pipeline.Hooks

	// Turn and Interrupt are built by [New] when nil.
	Turn      *turn.Machine
	Interrupt *interrupt.Handler
}

// Events receives what the actor exposes to its client. Callbacks run on
// the actor's goroutines and must not block.
type Events struct {
	// OnTransition is called for every turn state change.
	OnTransition func(turn.Transition)

	// OnSubtitle is called with the text of each reply.
	OnSubtitle func(text string)

	// OnInterrupt is called when a reply was cut short.
	OnInterrupt func(interrupt.Event)

	// OnEnd is called once, when the conversation has ended and before
	// Done is closed. It may block briefly.
	OnEnd func(sessionID string)
}
