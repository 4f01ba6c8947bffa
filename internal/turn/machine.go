package turn

import (
	"sync"
	"time"
)

// Config holds the timing parameters of the machine.
type Config struct {
	// MinSpeechDuration is the shortest span of voice activity that counts as
	// a turn when no final transcript backs it. Shorter bursts are noise.
	MinSpeechDuration time.Duration

	// EndOfSpeechPause is how long the human must stay silent before the
	// machine considers the turn finished.
	EndOfSpeechPause time.Duration

	// TurnTakingDelay is the grace period between TurnTaking and committing.
	TurnTakingDelay time.Duration

	// FinalTranscriptWait bounds how long past the grace period the machine
	// waits for the final transcript of pending interim text. Interim text
	// is never committed.
	FinalTranscriptWait time.Duration
}

// DefaultConfig returns the default timings.
func DefaultConfig() Config {
	return Config{
		MinSpeechDuration:   500 * time.Millisecond,
		EndOfSpeechPause:    1200 * time.Millisecond,
		TurnTakingDelay:     400 * time.Millisecond,
		FinalTranscriptWait: time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinSpeechDuration <= 0 {
		c.MinSpeechDuration = d.MinSpeechDuration
	}
	if c.EndOfSpeechPause <= 0 {
		c.EndOfSpeechPause = d.EndOfSpeechPause
	}
	if c.TurnTakingDelay <= 0 {
		c.TurnTakingDelay = d.TurnTakingDelay
	}
	if c.FinalTranscriptWait <= 0 {
		c.FinalTranscriptWait = d.FinalTranscriptWait
	}
	return c
}

// Option configures a [Machine].
type Option func(*Machine)

// WithConfig sets the timings. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(m *Machine) { m.cfg = cfg.withDefaults() }
}

// WithCues sets the cue table used for end-of-turn and continuation checks.
func WithCues(t *CueTable) Option {
	return func(m *Machine) { m.cues = t }
}

// WithTransitionListener registers fn to receive every transition. fn is
// called synchronously after the machine's lock is released.
func WithTransitionListener(fn func(Transition)) Option {
	return func(m *Machine) { m.onTransition = fn }
}

// Machine is the turn-taking state machine of one session.
//
// All methods are safe for concurrent use, but the machine is meant to be
// driven by a single owner (the session actor).
type Machine struct {
	mu           sync.Mutex
	cfg          Config
	cues         *CueTable
	onTransition func(Transition)

	state State

	speechStart time.Time
	speechEnd   time.Time // zero while speech is ongoing
	inSpeech    bool
	graceStart  time.Time

	text transcript

	// held is the transcript text that already caused one continuation hold.
	// The same text cannot hold the turn again, so a speaker who trails off
	// and goes quiet is still answered.
	held string
}

// New creates a machine in [Idle].
func New(opts ...Option) *Machine {
	m := &Machine{cfg: DefaultConfig(), cues: DefaultCueTable()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Config returns the current timings.
func (m *Machine) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// SetConfig replaces the timings. Running timers are evaluated against the
// new values from the next call on.
func (m *Machine) SetConfig(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg.withDefaults()
	m.mu.Unlock()
}

// SetCues replaces the cue table.
func (m *Machine) SetCues(t *CueTable) {
	m.mu.Lock()
	m.cues = t
	m.mu.Unlock()
}

// OnTransition replaces the transition listener.
func (m *Machine) OnTransition(fn func(Transition)) {
	m.mu.Lock()
	m.onTransition = fn
	m.mu.Unlock()
}

// OnVAD feeds one VAD decision. agentSpeaking reports whether assistant
// audio is currently audible; speech onset is ignored while it is, because
// barge-in is handled by the interruption path instead.
func (m *Machine) OnVAD(now time.Time, active, agentSpeaking bool) {
	var ts []Transition
	m.mu.Lock()
	switch m.state {
	case Idle:
		if active && !agentSpeaking {
			m.speechStart = now
			m.speechEnd = time.Time{}
			m.inSpeech = true
			ts = append(ts, m.to(Listening, now, "speech_start"))
		}
	case Listening:
		m.trackSpeech(now, active)
	case TurnTaking:
		if active {
			m.inSpeech = true
			m.speechEnd = time.Time{}
			ts = append(ts, m.to(Listening, now, "speech_resumed"))
		}
	}
	m.mu.Unlock()
	m.emit(ts)
}

func (m *Machine) trackSpeech(now time.Time, active bool) {
	switch {
	case active:
		m.inSpeech = true
		m.speechEnd = time.Time{}
	case m.inSpeech:
		m.inSpeech = false
		m.speechEnd = now
	}
}

// OnTranscript records a transcript event for the current turn. Interim text
// replaces the previous interim; finals accumulate. Text arriving while a
// reply is being prepared or played is discarded.
//
// A continuation cue in TurnTaking returns the machine to Listening at once.
func (m *Machine) OnTranscript(now time.Time, u Utterance) {
	var ts []Transition
	m.mu.Lock()
	switch m.state {
	case Idle, Listening, TurnTaking:
		m.text.update(u)
		if m.state == TurnTaking && m.holdForContinuation(now) {
			ts = append(ts, m.to(Listening, now, "continuation"))
		}
	}
	m.mu.Unlock()
	m.emit(ts)
}

// holdForContinuation reports whether the current text carries a fresh
// continuation cue. On true it restarts the pause timer.
func (m *Machine) holdForContinuation(now time.Time) bool {
	text := m.text.text()
	if text == "" || text == m.held {
		return false
	}
	if m.cues.FirstOf(text, CueContinuation, CueEndOfTurn) != CueContinuation {
		return false
	}
	m.held = text
	m.inSpeech = false
	m.speechEnd = now
	return true
}

// Tick advances the timers. It returns the committed utterance and true when
// the turn moves to [Processing]. Only final transcript text is committed:
// while interim text is pending the machine holds for its final, up to
// FinalTranscriptWait past the grace period, then commits the finals it has
// or drops to [Idle].
func (m *Machine) Tick(now time.Time) (Utterance, bool) {
	var (
		ts        []Transition
		committed Utterance
		ok        bool
	)
	m.mu.Lock()
	switch m.state {
	case Listening:
		if m.inSpeech || m.speechEnd.IsZero() || now.Sub(m.speechEnd) <= m.cfg.EndOfSpeechPause {
			break
		}
		spoke := m.speechEnd.Sub(m.speechStart)
		if spoke < m.cfg.MinSpeechDuration && len(m.text.finals) == 0 {
			m.clearTurn()
			ts = append(ts, m.to(Idle, now, "noise"))
			break
		}
		m.graceStart = now
		ts = append(ts, m.to(TurnTaking, now, "end_of_speech"))
		if m.holdForContinuation(now) {
			ts = append(ts, m.to(Listening, now, "continuation"))
		}
	case TurnTaking:
		if m.holdForContinuation(now) {
			ts = append(ts, m.to(Listening, now, "continuation"))
			break
		}
		pending := m.text.interim != ""
		text := m.text.final()
		cue := CueNone
		if !pending {
			cue = m.cues.FirstOf(text, CueContinuation, CueEndOfTurn)
		}
		waited := now.Sub(m.graceStart)
		if cue != CueEndOfTurn && waited < m.cfg.TurnTakingDelay {
			break
		}
		if pending && waited < m.cfg.TurnTakingDelay+m.cfg.FinalTranscriptWait {
			break
		}
		if text == "" {
			reason := "no_transcript"
			if pending {
				reason = "no_final_transcript"
			}
			m.clearTurn()
			ts = append(ts, m.to(Idle, now, reason))
			break
		}
		committed = Utterance{
			Text:    text,
			IsFinal: true,
			Start:   m.text.start,
			End:     m.text.end,
		}
		if committed.Start.IsZero() {
			committed.Start = m.speechStart
		}
		if committed.End.IsZero() {
			committed.End = m.speechEnd
		}
		ok = true
		reason := "grace_elapsed"
		if cue == CueEndOfTurn {
			reason = "end_of_turn_cue"
		}
		m.clearTurn()
		ts = append(ts, m.to(Processing, now, reason))
	}
	m.mu.Unlock()
	m.emit(ts)
	return committed, ok
}

// ResponseReady moves Processing to Responding. It reports whether the
// transition happened.
func (m *Machine) ResponseReady(now time.Time) bool {
	return m.move(now, Responding, "response_ready", Processing)
}

// Finish returns to Idle once playback completed or was cancelled, or when
// processing ended without anything to play.
func (m *Machine) Finish(now time.Time) bool {
	return m.move(now, Idle, "response_done", Processing, Responding)
}

// Interrupt moves a turn in Processing or Responding back to Listening and
// stamps a fresh speech start. Calling it again is a no-op that returns
// false.
func (m *Machine) Interrupt(now time.Time) bool {
	var ts []Transition
	m.mu.Lock()
	if m.state == Processing || m.state == Responding {
		m.clearTurn()
		m.speechStart = now
		m.inSpeech = true
		ts = append(ts, m.to(Listening, now, "interrupted"))
	}
	m.mu.Unlock()
	m.emit(ts)
	return len(ts) > 0
}

// Reset returns to Idle from any state and forgets the pending turn.
func (m *Machine) Reset(now time.Time) bool {
	var ts []Transition
	m.mu.Lock()
	m.clearTurn()
	if m.state != Idle {
		ts = append(ts, m.to(Idle, now, "reset"))
	}
	m.mu.Unlock()
	m.emit(ts)
	return len(ts) > 0
}

func (m *Machine) move(now time.Time, to State, reason string, from ...State) bool {
	var ts []Transition
	m.mu.Lock()
	for _, f := range from {
		if m.state == f {
			ts = append(ts, m.to(to, now, reason))
			break
		}
	}
	m.mu.Unlock()
	m.emit(ts)
	return len(ts) > 0
}

func (m *Machine) clearTurn() {
	m.text.reset()
	m.held = ""
	m.inSpeech = false
	m.speechStart = time.Time{}
	m.speechEnd = time.Time{}
	m.graceStart = time.Time{}
}

// to switches state. Callers hold mu.
func (m *Machine) to(s State, now time.Time, reason string) Transition {
	t := Transition{From: m.state, To: s, At: now, Reason: reason}
	m.state = s
	return t
}

func (m *Machine) emit(ts []Transition) {
	if len(ts) == 0 {
		return
	}
	m.mu.Lock()
	fn := m.onTransition
	m.mu.Unlock()
	if fn == nil {
		return
	}
	for _, t := range ts {
		fn(t)
	}
}
