// Package interrupt cancels an in-flight reply when the human barges in or
// asks the assistant to stop.
//
// A reply is registered with [Handler.Begin] before inference starts. From
// then on a single [Handler.Interrupt] or [Handler.Stop] cancels its context,
// silences the player and moves the turn machine. Triggers that race each
// other (a VAD onset and a "stop" command in the same tick, say) collapse
// into one cancellation: the player is stopped once per reply and the
// interruption is counted once.
package interrupt

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/pkg/audio"
)

// Reasons reported to metrics and listeners.
const (
	ReasonBargeIn = "barge_in"
	ReasonCommand = "command"
	ReasonEnd     = "end_conversation"
)

// TurnMachine is the part of the turn state machine the handler drives.
// [turn.Machine] satisfies it.
type TurnMachine interface {
	// Interrupt moves Processing or Responding to Listening.
	Interrupt(now time.Time) bool

	// Reset moves any state to Idle.
	Reset(now time.Time) bool
}

// Event describes one effective interruption.
type Event struct {
	Generation uint64
	Reason     string
	At         time.Time

	// WasResponding reports whether reply audio had started.
	WasResponding bool
}

// Option configures a [Handler].
type Option func(*Handler)

// WithMetrics records interruptions on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithListener registers fn to receive every effective interruption. fn runs
// on the caller's goroutine after the handler's lock is released.
func WithListener(fn func(Event)) Option {
	return func(h *Handler) { h.onEvent = fn }
}

// Handler owns the cancellation of the current reply of one session.
// It is safe for concurrent use.
type Handler struct {
	player  audio.Player
	machine TurnMachine
	metrics *observe.Metrics
	onEvent func(Event)

	mu         sync.Mutex
	gen        uint64
	cancel     context.CancelFunc // nil when nothing is in flight
	responding bool
}

// New creates a handler that silences player and drives machine.
func New(player audio.Player, machine TurnMachine, opts ...Option) *Handler {
	h := &Handler{player: player, machine: machine}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Begin registers a new in-flight reply whose work is cancelled by cancel.
// Any reply still registered is cancelled first. The returned generation
// identifies the reply in later calls.
func (h *Handler) Begin(cancel context.CancelFunc) uint64 {
	h.mu.Lock()
	prev := h.cancel
	h.gen++
	gen := h.gen
	h.cancel = cancel
	h.responding = false
	h.mu.Unlock()

	if prev != nil {
		prev()
	}
	return gen
}

// Responding marks the reply gen as audible. It reports false when gen has
// already been cancelled or replaced.
func (h *Handler) Responding(gen uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if gen != h.gen || h.cancel == nil {
		return false
	}
	h.responding = true
	return true
}

// Done releases the reply gen after it finished on its own. It reports
// false, and does nothing, when gen was already cancelled or replaced.
func (h *Handler) Done(gen uint64) bool {
	h.mu.Lock()
	if gen != h.gen || h.cancel == nil {
		h.mu.Unlock()
		return false
	}
	cancel := h.cancel
	h.cancel = nil
	h.responding = false
	h.mu.Unlock()
	cancel()
	return true
}

// InFlight reports whether a reply is registered and whether its audio has
// started.
func (h *Handler) InFlight() (inFlight, responding bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancel != nil, h.responding
}

// Interrupt cancels the current reply and hands the floor back to the human
// (Listening). It reports whether anything was cancelled or the turn
// machine moved; repeated calls return false.
func (h *Handler) Interrupt(now time.Time, reason string) bool {
	ev, cancelled := h.claim(now, reason)
	moved := h.machine.Interrupt(now)
	return h.finish(ev, cancelled, moved)
}

// Stop cancels the current reply and returns the turn machine to Idle. It
// is used for the force-stop command and when the conversation ends.
func (h *Handler) Stop(now time.Time, reason string) bool {
	ev, cancelled := h.claim(now, reason)
	moved := h.machine.Reset(now)
	return h.finish(ev, cancelled, moved)
}

// claim takes ownership of the in-flight reply, if any, and cancels it. Only
// one caller can claim a given reply.
func (h *Handler) claim(now time.Time, reason string) (Event, bool) {
	h.mu.Lock()
	cancel := h.cancel
	ev := Event{Generation: h.gen, Reason: reason, At: now, WasResponding: h.responding}
	h.cancel = nil
	h.responding = false
	h.mu.Unlock()

	if cancel == nil {
		return ev, false
	}
	cancel()
	h.player.Stop()
	return ev, true
}

// finish reports the outcome. Only the caller that cancelled the reply
// records it, so racing triggers are counted once.
func (h *Handler) finish(ev Event, cancelled, moved bool) bool {
	if !cancelled {
		return moved
	}
	if h.metrics != nil {
		h.metrics.RecordInterruption(context.Background(), ev.Reason)
	}
	slog.Debug("reply interrupted",
		"generation", ev.Generation,
		"reason", ev.Reason,
		"was_responding", ev.WasResponding,
	)
	if h.onEvent != nil {
		h.onEvent(ev)
	}
	return true
}
