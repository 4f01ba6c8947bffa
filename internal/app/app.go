// Package app wires the Jarvis subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the provider chains,
// the session store and the reply pipeline, NewActor starts one
// conversation per client connection, and Shutdown tears everything down
// in order.
//
// For testing, inject mock providers through [Providers] and a fake clock
// through the functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MrWong99/jarvis/internal/config"
	"github.com/MrWong99/jarvis/internal/conversation"
	"github.com/MrWong99/jarvis/internal/health"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/pipeline"
	"github.com/MrWong99/jarvis/internal/pipeline/phonetic"
	"github.com/MrWong99/jarvis/internal/resilience"
	"github.com/MrWong99/jarvis/internal/session"
	"github.com/MrWong99/jarvis/internal/turn"
	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/memory"
	"github.com/MrWong99/jarvis/pkg/provider/llm"
	"github.com/MrWong99/jarvis/pkg/provider/search"
	"github.com/MrWong99/jarvis/pkg/provider/tts"
	"github.com/MrWong99/jarvis/pkg/provider/tts/native"
	"github.com/MrWong99/jarvis/pkg/provider/vad"
	"github.com/MrWong99/jarvis/pkg/provider/vad/spectral"
)

// ErrNoLLM is returned by [New] when no inference provider is configured.
var ErrNoLLM = errors.New("app: no llm provider configured")

// Named pairs a provider with the ID it is reported under.
type Named[T any] struct {
	ID       string
	Provider T
}

// Providers holds the configured backends in preference order. Populated
// by [BuildProviders] or by tests.
type Providers struct {
	LLM    []Named[llm.Provider]
	TTS    []Named[tts.Provider]
	Search []Named[search.Provider]

	// Classifier, when set, decides whether a request needs a web search.
	Classifier llm.Provider

	// Persister stores sessions. Nil keeps them in memory only.
	Persister memory.Persister

	// VAD creates per-session detectors. Nil uses the spectral engine.
	VAD vad.Engine
}

// Client is what a conversation needs from its connection: somewhere to
// play audio and a device voice to fall back on.
type Client interface {
	audio.Player
	native.Speaker
}

type tuning struct {
	turn turn.Config
	cues *turn.CueTable
	vad  vad.Config
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	now       func() time.Time

	llm    *resilience.Chain[llm.Provider]
	tts    *resilience.Chain[tts.Provider]
	search *resilience.Chain[search.Provider]

	store    *session.Store
	pipeline *pipeline.Pipeline
	vad      vad.Engine
	tuning   atomic.Pointer[tuning]
	live     *liveSet
	cron     *cron.Cron

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records chain, store, pipeline and actor metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithClock overrides the clock used by the store, the chains and the
// actors.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// WithCloser registers fn to run during Shutdown, after the app's own
// teardown. Used for backends opened by the caller.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// New creates an App by wiring all subsystems together. It restores
// persisted sessions and starts the housekeeping schedule.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || len(providers.LLM) == 0 {
		return nil, ErrNoLLM
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		now:       time.Now,
		live:      newLiveSet(),
	}
	for _, o := range opts {
		o(a)
	}

	// 1. Provider chains.
	a.initChains()

	// 2. Session store.
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// 3. Reply pipeline.
	if err := a.initPipeline(); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// 4. Voice activity detection.
	a.vad = providers.VAD
	if a.vad == nil {
		a.vad = spectral.New()
	}
	cues, err := compileCues(cfg.Cues)
	if err != nil {
		return nil, err
	}
	a.tuning.Store(&tuning{turn: cfg.Turn.Machine(), cues: cues, vad: cfg.VAD})
	a.pipeline.Commands().SetCues(cues)

	// 5. Housekeeping.
	if err := a.initHousekeeping(ctx); err != nil {
		return nil, fmt.Errorf("app: init housekeeping: %w", err)
	}

	slog.Info("app ready",
		"llm", len(providers.LLM),
		"tts", len(providers.TTS),
		"search", len(providers.Search),
		"persistent", providers.Persister != nil,
	)
	return a, nil
}

func (a *App) chainConfig(capability string, cc config.ChainConfig) resilience.ChainConfig {
	return resilience.ChainConfig{
		Capability: capability,
		Timeout:    cc.Timeout,
		RetryAfter: cc.RetryAfter,
		Metrics:    a.metrics,
		Now:        a.now,
	}
}

func (a *App) initChains() {
	p := a.providers
	a.llm = resilience.NewChain[llm.Provider](a.chainConfig("llm", a.cfg.Providers.LLM))
	for _, n := range p.LLM {
		a.llm.Add(n.ID, n.Provider)
	}
	a.tts = resilience.NewChain[tts.Provider](a.chainConfig("tts", a.cfg.Providers.TTS))
	for _, n := range p.TTS {
		a.tts.Add(n.ID, n.Provider)
	}
	a.search = resilience.NewChain[search.Provider](a.chainConfig("search", a.cfg.Providers.Search))
	for _, n := range p.Search {
		sp := n.Provider
		if ttl := a.cfg.Providers.SearchCacheTTL; ttl > 0 {
			sp = search.NewCached(sp, ttl)
		}
		a.search.Add(n.ID, sp)
	}
}

func (a *App) initStore(ctx context.Context) error {
	mc := a.cfg.Memory
	opts := []session.Option{session.WithClock(a.now)}
	if a.metrics != nil {
		opts = append(opts, session.WithMetrics(a.metrics))
	}
	if a.providers.Persister != nil {
		opts = append(opts, session.WithPersister(a.providers.Persister))
	}
	store, err := session.NewStore(session.Config{
		WindowSize:        mc.WindowSize,
		LogSize:           mc.LogSize,
		InactivityTimeout: mc.InactivityTimeout,
		MaxSessions:       mc.MaxSessions,
	}, opts...)
	if err != nil {
		return err
	}
	a.store = store
	if _, err := store.Restore(ctx); err != nil {
		// The guard already falls back to memory; start with what we have.
		slog.Warn("could not restore sessions", "error", err)
	}
	return nil
}

func (a *App) initPipeline() error {
	ac := a.cfg.Assistant

	var pm *phonetic.Matcher
	if ac.PhoneticMatching == nil || *ac.PhoneticMatching {
		pm = phonetic.New()
	}
	commands := pipeline.NewCommandMatcher(nil, pm)

	rules := ac.SearchRules
	if len(rules) == 0 {
		rules = pipeline.DefaultSearchRules()
	}
	var copts []pipeline.ClassifierOption
	if a.providers.Classifier != nil {
		copts = append(copts, pipeline.WithOverride(pipeline.NewLLMClassifier(a.providers.Classifier), time.Second))
	}
	classifier, err := pipeline.NewSearchClassifier(rules, copts...)
	if err != nil {
		return err
	}

	opts := []pipeline.Option{
		pipeline.WithConfig(pipeline.Config{
			SystemPrompt: ac.SystemPrompt,
			Voice: tts.VoiceProfile{
				ID:          ac.Voice.ID,
				Name:        ac.Voice.Name,
				SpeedFactor: ac.Voice.SpeedFactor,
			},
			Replies:          ac.Replies,
			SearchTimeout:    ac.SearchTimeout,
			MaxSearchResults: ac.MaxSearchResults,
			MaxResponseChars: ac.MaxResponseChars,
			SummaryMessages:  ac.SummaryMessages,
			Temperature:      ac.Temperature,
			MaxTokens:        ac.MaxTokens,
		}),
		pipeline.WithCommands(commands),
		pipeline.WithClassifier(classifier),
		pipeline.WithClock(a.now),
	}
	if a.search.Len() > 0 {
		opts = append(opts, pipeline.WithSearch(resilience.NewSearchFallback(a.search)))
	}
	if a.metrics != nil {
		opts = append(opts, pipeline.WithMetrics(a.metrics))
	}
	a.pipeline = pipeline.New(a.store,
		resilience.NewLLMFallback(a.llm),
		resilience.NewTTSFallback(a.tts),
		opts...,
	)
	return nil
}

func (a *App) initHousekeeping(ctx context.Context) error {
	spec := a.cfg.Memory.Housekeeping
	if spec == "" {
		return nil
	}
	bg := context.WithoutCancel(ctx)
	a.cron = cron.New()
	if _, err := a.cron.AddFunc(spec, func() { a.Housekeep(bg) }); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	a.cron.Start()
	return nil
}

// compileCues builds the cue table; no rules means the built-in set.
func compileCues(rules []turn.CueRule) (*turn.CueTable, error) {
	if len(rules) == 0 {
		return turn.DefaultCueTable(), nil
	}
	t, err := turn.NewCueTable(rules)
	if err != nil {
		return nil, fmt.Errorf("app: compile cues: %w", err)
	}
	return t, nil
}

// Housekeep expires idle sessions and enforces the session cap. It runs
// on the configured schedule; tests call it directly.
func (a *App) Housekeep(ctx context.Context) session.HousekeepResult {
	res := a.store.Housekeep(ctx, a.now())
	if len(res.Expired) > 0 || len(res.Evicted) > 0 {
		slog.Info("housekeeping", "expired", len(res.Expired), "evicted", len(res.Evicted))
	}
	return res
}

// Store returns the session store.
func (a *App) Store() *session.Store { return a.store }

// Pipeline returns the reply pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// LiveSessions returns the IDs of sessions with a running conversation.
func (a *App) LiveSessions() []string { return a.live.ids() }

// Start names who a new conversation belongs to and which session it
// continues.
type Start struct {
	// Owner is the user the conversation belongs to. Empty is anonymous.
	Owner string
	// ResumeID is the session to continue. Empty starts a new one.
	ResumeID string
}

// NewActor starts a conversation for client. A ResumeID that the store can
// resume for the owner continues that session; otherwise a fresh session ID
// is allocated and the session opens with the first committed turn.
// The returned actor is not running yet: the caller drives it with Run.
// It stays registered until it ends or ctx is done.
func (a *App) NewActor(ctx context.Context, st Start, client Client, ev conversation.Events) (*conversation.Actor, error) {
	if st.Owner != "" && a.live.hasOwner(st.Owner) {
		return nil, fmt.Errorf("app: owner %s: %w", st.Owner, ErrSessionBusy)
	}
	id := st.ResumeID
	if id != "" {
		if a.live.has(id) {
			return nil, fmt.Errorf("app: session %s: %w", id, ErrSessionBusy)
		}
		if err := a.store.Resume(ctx, id, st.Owner); err != nil {
			slog.Info("could not resume session, starting a new one", "session_id", id, "owner", st.Owner, "error", err)
			id = ""
		}
	}
	if id == "" {
		id = a.store.NewID()
	}

	t := a.tuning.Load()
	det, err := a.vad.NewSession(t.vad)
	if err != nil {
		return nil, fmt.Errorf("app: vad session: %w", err)
	}

	// The device voice is the last resort of this session's synthesis
	// chain, so a reply is heard even when every cloud voice is down.
	local := native.New(client)
	synth := a.tts.Fork()
	synth.AddLastResort("native", local)

	opts := []conversation.Option{
		conversation.WithEvents(ev),
		conversation.WithClock(a.now),
		conversation.WithConfig(conversation.Config{
			TickInterval: a.cfg.Turn.TickInterval,
			Turn:         t.turn,
			Cues:         t.cues,
		}),
	}
	if a.metrics != nil {
		opts = append(opts, conversation.WithMetrics(a.metrics))
	}
	actor, err := conversation.New(conversation.Context{
		SessionID: id,
		Owner:     st.Owner,
		VAD:       det,
		Player:    client,
		Hooks: pipeline.Hooks{
			TTS:   resilience.NewTTSFallback(synth),
			Local: local,
		},
	}, a.pipeline, a.store, opts...)
	if err != nil {
		_ = det.Close()
		return nil, fmt.Errorf("app: new actor: %w", err)
	}

	if !a.live.add(actor) {
		_ = det.Close()
		return nil, fmt.Errorf("app: session %s: %w", id, ErrSessionBusy)
	}
	go func() {
		select {
		case <-actor.Done():
		case <-ctx.Done():
		}
		a.live.remove(actor)
	}()
	return actor, nil
}

// ApplyTuning applies the hot-reloadable parts of cfg. Turn timings and
// cue rules reach running conversations; VAD settings apply to
// conversations started afterwards.
func (a *App) ApplyTuning(cfg *config.Config, d config.ConfigDiff) error {
	if !d.VADChanged && !d.TurnChanged && !d.CuesChanged {
		return nil
	}
	old := a.tuning.Load()
	next := &tuning{turn: old.turn, cues: old.cues, vad: old.vad}
	if d.CuesChanged {
		cues, err := compileCues(cfg.Cues)
		if err != nil {
			return err
		}
		next.cues = cues
		a.pipeline.Commands().SetCues(cues)
	}
	if d.TurnChanged {
		next.turn = cfg.Turn.Machine()
	}
	if d.VADChanged {
		next.vad = cfg.VAD
	}
	a.tuning.Store(next)

	if d.TurnChanged || d.CuesChanged {
		for _, actor := range a.live.actors() {
			actor.SetTuning(next.turn, next.cues)
		}
	}
	slog.Info("tuning applied",
		"vad", d.VADChanged,
		"turn", d.TurnChanged,
		"cues", d.CuesChanged,
		"live_sessions", a.live.len(),
	)
	return nil
}

// Checkers returns the readiness checks. Persistence is optional: the
// store keeps working in memory without it. Inference is required.
func (a *App) Checkers() []health.Checker {
	return []health.Checker{
		{
			Name:     "memory",
			Optional: true,
			Check: func(ctx context.Context) error {
				g := a.store.Persister()
				if g == nil {
					return nil
				}
				return g.Ping(ctx)
			},
		},
		{
			Name:  "llm",
			Check: func(context.Context) error { return chainUsable(a.llm) },
		},
		{
			Name:     "tts",
			Optional: true,
			Check:    func(context.Context) error { return chainUsable(a.tts) },
		},
	}
}

// chainUsable fails when every provider of c is marked broken.
func chainUsable[T any](c *resilience.Chain[T]) error {
	specs := c.Specs()
	if len(specs) == 0 {
		return nil
	}
	for _, s := range specs {
		if s.Status != resilience.StatusBroken {
			return nil
		}
	}
	return fmt.Errorf("all %d %s providers are failing", len(specs), c.Capability())
}

// Shutdown ends the housekeeping schedule and runs the closers in order.
// It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers), "live_sessions", a.live.len())

		if a.cron != nil {
			select {
			case <-a.cron.Stop().Done():
			case <-ctx.Done():
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				errs = append(errs, ctx.Err())
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
				errs = append(errs, err)
			}
		}

		slog.Info("shutdown complete")
	})
	return errors.Join(errs...)
}
