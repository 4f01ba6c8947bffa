package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/jarvis/internal/interrupt"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/pipeline"
	"github.com/MrWong99/jarvis/internal/session"
	"github.com/MrWong99/jarvis/internal/turn"
	"github.com/MrWong99/jarvis/pkg/audio"
)

// Errors returned by [New].
var (
	ErrNoVAD    = errors.New("conversation: VAD session is required")
	ErrNoPlayer = errors.New("conversation: player is required")
)

// Command is a client-issued control command.
type Command string

const (
	// CommandForceStop cancels whatever the assistant is doing and returns
	// to Idle.
	CommandForceStop Command = "force_stop"

	// CommandEnd closes the conversation.
	CommandEnd Command = "end_conversation"
)

// Config tunes an [Actor]. Zero values take defaults.
type Config struct {
	// TickInterval is the analysis tick period. Default: 50ms.
	TickInterval time.Duration

	// FrameBuffer is how many frames may queue between ticks before the
	// oldest are dropped. Default: 16.
	FrameBuffer int

	// Turn and Cues configure the turn machine built by [New].
	Turn turn.Config
	Cues *turn.CueTable
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 50 * time.Millisecond
	}
	if c.FrameBuffer <= 0 {
		c.FrameBuffer = 16
	}
	return c
}

// Option configures an [Actor].
type Option func(*Actor)

// WithConfig sets the tuning values.
func WithConfig(cfg Config) Option {
	return func(a *Actor) { a.cfg = cfg.withDefaults() }
}

// WithEvents sets the client event callbacks.
func WithEvents(ev Events) Option {
	return func(a *Actor) { a.events = ev }
}

// WithMetrics records transitions, interruptions and invalid frames on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Actor) { a.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Actor) { a.now = now }
}

// Actor is the single owner of one session's turn and VAD state.
type Actor struct {
	cfg      Config
	cc       Context
	pipeline *pipeline.Pipeline
	store    *session.Store
	events   Events
	metrics  *observe.Metrics
	now      func() time.Time

	frames      chan audio.Frame
	transcripts chan turn.Utterance
	commands    chan Command
	done        chan struct{}
	endOnce     sync.Once
	// stopped is closed when the event loop exits.
	stopped chan struct{}

	mu      sync.Mutex
	group   *errgroup.Group
	baseCtx context.Context
	// lastReply is closed when the most recently started reply is over.
	// Replies run one after another, so an interrupted reply finishes
	// recording before the next one starts.
	lastReply chan struct{}
}

// New creates the actor for cc.SessionID.
func New(cc Context, p *pipeline.Pipeline, store *session.Store, opts ...Option) (*Actor, error) {
	if cc.VAD == nil {
		return nil, ErrNoVAD
	}
	if cc.Player == nil {
		return nil, ErrNoPlayer
	}
	a := &Actor{
		cfg:      Config{}.withDefaults(),
		pipeline: p,
		store:    store,
		now:      time.Now,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		baseCtx:  context.Background(),
	}
	for _, o := range opts {
		o(a)
	}
	a.frames = make(chan audio.Frame, a.cfg.FrameBuffer)
	a.transcripts = make(chan turn.Utterance, 32)
	a.commands = make(chan Command, 4)

	if cc.Turn == nil {
		topts := []turn.Option{turn.WithConfig(a.cfg.Turn)}
		if a.cfg.Cues != nil {
			topts = append(topts, turn.WithCues(a.cfg.Cues))
		}
		cc.Turn = turn.New(topts...)
	}
	cc.Turn.OnTransition(a.onTransition)
	if cc.Interrupt == nil {
		cc.Interrupt = interrupt.New(cc.Player, cc.Turn,
			interrupt.WithMetrics(a.metrics),
			interrupt.WithListener(a.onInterrupt),
		)
	}
	cc.Hooks.OnSubtitle = a.onSubtitle
	a.cc = cc
	return a, nil
}

// Context returns the actor's session context.
func (a *Actor) Context() Context { return a.cc }

// SessionID returns the conversation's session ID.
func (a *Actor) SessionID() string { return a.cc.SessionID }

// Owner returns the user this conversation belongs to.
func (a *Actor) Owner() string { return a.cc.Owner }

// State returns the current turn state.
func (a *Actor) State() turn.State { return a.cc.Turn.State() }

// Done is closed when the conversation has ended.
func (a *Actor) Done() <-chan struct{} { return a.done }

// SetTuning swaps the turn timings and cue table while the actor runs. A
// nil table keeps the current one.
func (a *Actor) SetTuning(cfg turn.Config, cues *turn.CueTable) {
	a.cc.Turn.SetConfig(cfg)
	if cues != nil {
		a.cc.Turn.SetCues(cues)
	}
}

// PushFrame queues a captured frame for the next tick. When the queue is
// full the oldest frame is dropped; the tick must never fall behind.
func (a *Actor) PushFrame(f audio.Frame) {
	for {
		select {
		case a.frames <- f:
			return
		default:
		}
		select {
		case <-a.frames:
		default:
		}
	}
}

// PushTranscript delivers a transcript event to the actor's mailbox.
func (a *Actor) PushTranscript(u turn.Utterance) {
	select {
	case a.transcripts <- u:
	case <-a.done:
	case <-a.stopped:
	}
}

// ForceStop cancels any reply and returns to Idle. Safe to call at any time
// and from any goroutine.
func (a *Actor) ForceStop() { a.push(CommandForceStop) }

// EndConversation closes the conversation gracefully.
func (a *Actor) EndConversation() { a.push(CommandEnd) }

func (a *Actor) push(c Command) {
	select {
	case a.commands <- c:
	case <-a.done:
	case <-a.stopped:
	}
}

// Run drives the actor until ctx is cancelled or the conversation ends.
// Reply goroutines are supervised: Run returns only after they have
// finished.
func (a *Actor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	a.mu.Lock()
	a.group = g
	a.baseCtx = gctx
	a.mu.Unlock()

	g.Go(func() error { return a.loop(gctx) })
	err := g.Wait()
	if cerr := a.cc.VAD.Close(); cerr != nil {
		slog.Debug("conversation: vad close", "session_id", a.cc.SessionID, "error", cerr)
	}
	return err
}

func (a *Actor) loop(ctx context.Context) error {
	defer close(a.stopped)
	ticker := time.NewTicker(a.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.cc.Interrupt.Stop(a.now(), interrupt.ReasonEnd)
			return nil
		case <-a.done:
			return nil
		case <-ticker.C:
			a.Step(a.now(), a.drainFrames()...)
		case u := <-a.transcripts:
			a.HandleTranscript(a.now(), u)
		case c := <-a.commands:
			a.HandleCommand(a.now(), c)
		}
	}
}

func (a *Actor) drainFrames() []audio.Frame {
	var out []audio.Frame
	for {
		select {
		case f := <-a.frames:
			out = append(out, f)
		default:
			return out
		}
	}
}

// Step is one analysis tick: every frame goes through the detector, speech
// while the assistant is audible interrupts it, and the turn timers
// advance. A committed turn starts a reply.
func (a *Actor) Step(now time.Time, frames ...audio.Frame) {
	for _, f := range frames {
		ev, err := a.cc.VAD.ProcessFrame(f)
		if err != nil {
			if a.metrics != nil {
				a.metrics.InvalidFrames.Add(context.Background(), 1)
			}
			slog.Debug("conversation: frame skipped", "session_id", a.cc.SessionID, "error", err)
			continue
		}
		a.onVAD(now, ev.Active)
	}
	if u, ok := a.cc.Turn.Tick(now); ok {
		a.startReply(now, u)
	}
}

func (a *Actor) onVAD(now time.Time, active bool) {
	responding := a.cc.Turn.State() == turn.Responding
	if active && responding {
		a.cc.Interrupt.Interrupt(now, interrupt.ReasonBargeIn)
		responding = false
	}
	a.cc.Turn.OnVAD(now, active, responding)
}

// HandleTranscript feeds a transcript event to the turn machine.
func (a *Actor) HandleTranscript(now time.Time, u turn.Utterance) {
	a.cc.Turn.OnTranscript(now, u)
	if u.IsFinal {
		a.store.Touch(a.cc.SessionID)
	}
}

// HandleCommand executes a control command.
func (a *Actor) HandleCommand(now time.Time, c Command) {
	switch c {
	case CommandForceStop:
		a.cc.Interrupt.Stop(now, interrupt.ReasonCommand)
		a.cc.VAD.Reset()
	case CommandEnd:
		a.end(now)
	default:
		slog.Warn("conversation: unknown command", "session_id", a.cc.SessionID, "command", c)
	}
}

// Wait blocks until every reply started so far has finished.
func (a *Actor) Wait() {
	a.mu.Lock()
	last := a.lastReply
	a.mu.Unlock()
	if last != nil {
		<-last
	}
}

func (a *Actor) startReply(now time.Time, u turn.Utterance) {
	done := make(chan struct{})
	a.mu.Lock()
	base, g, prev := a.baseCtx, a.group, a.lastReply
	a.lastReply = done
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(base)
	gen := a.cc.Interrupt.Begin(cancel)
	slog.Debug("conversation: turn committed", "session_id", a.cc.SessionID, "generation", gen, "at", now)

	run := func() error {
		defer close(done)
		if prev != nil {
			<-prev
		}
		a.reply(ctx, gen, u)
		return nil
	}
	if g != nil {
		g.Go(run)
		return
	}
	go run()
}

// reply runs the pipeline for u and plays the result.
func (a *Actor) reply(ctx context.Context, gen uint64, u turn.Utterance) {
	id := a.cc.SessionID
	if !a.store.IsActive(id) {
		// First turn of a new conversation, or housekeeping closed the
		// session during a long silence.
		if err := a.store.Open(ctx, id, a.cc.Owner); err != nil {
			slog.Warn("conversation: could not open session", "session_id", id, "error", err)
		}
	}

	out := a.pipeline.Run(ctx, id, u, a.cc.Hooks)
	if out.Err != nil {
		slog.Warn("conversation: reply degraded", "session_id", id, "error", out.Err)
	}

	if out.Command == pipeline.CommandStop {
		if a.cc.Interrupt.Done(gen) {
			a.cc.Turn.Reset(a.now())
		}
		return
	}
	if out.Stream == nil {
		if a.cc.Interrupt.Done(gen) {
			a.cc.Turn.Finish(a.now())
			if out.EndConversation {
				a.end(a.now())
			}
		}
		return
	}
	defer out.Stream.Close()

	if !a.cc.Interrupt.Responding(gen) {
		return
	}
	a.cc.Turn.ResponseReady(a.now())

	err := a.cc.Player.Play(ctx, out.Stream.Audio)
	if err != nil && ctx.Err() == nil {
		slog.Warn("conversation: playback failed", "session_id", id, "error", err)
	}
	if !a.cc.Interrupt.Done(gen) {
		return
	}
	a.cc.Turn.Finish(a.now())
	if out.EndConversation {
		a.end(a.now())
	}
}

// end stops everything and closes the session. It runs once.
func (a *Actor) end(now time.Time) {
	a.endOnce.Do(func() {
		a.cc.Interrupt.Stop(now, interrupt.ReasonEnd)
		a.mu.Lock()
		ctx := context.WithoutCancel(a.baseCtx)
		a.mu.Unlock()
		if err := a.store.End(ctx, a.cc.SessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
			slog.Warn("conversation: could not end session", "session_id", a.cc.SessionID, "error", err)
		}
		slog.Info("conversation ended", "session_id", a.cc.SessionID)
		if a.events.OnEnd != nil {
			a.events.OnEnd(a.cc.SessionID)
		}
		close(a.done)
	})
}

func (a *Actor) onTransition(t turn.Transition) {
	if a.metrics != nil {
		a.metrics.RecordTransition(context.Background(), t.From.String(), t.To.String())
	}
	slog.Debug("turn transition",
		"session_id", a.cc.SessionID,
		"from", t.From.String(),
		"to", t.To.String(),
		"reason", t.Reason,
	)
	if a.events.OnTransition != nil {
		a.events.OnTransition(t)
	}
}

func (a *Actor) onInterrupt(ev interrupt.Event) {
	if a.events.OnInterrupt != nil {
		a.events.OnInterrupt(ev)
	}
}

func (a *Actor) onSubtitle(text string) {
	if a.events.OnSubtitle != nil {
		a.events.OnSubtitle(text)
	}
}
