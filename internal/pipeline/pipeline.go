// Package pipeline turns a committed utterance into a spoken reply.
//
// For every turn [Pipeline.Run] executes, in order:
//
//  1. local command check (stop, greeting, farewell), which short-circuits
//     every provider chain;
//  2. search classification (rule table, optional model override);
//  3. the search chain, with its own deadline; failures mean "no context";
//  4. prompt composition from the conversation summary, search context and
//     utterance;
//  5. the inference chain;
//  6. sanitisation for speech;
//  7. the synthesis chain;
//  8. appending the user and assistant messages to the session store.
//
// Failures and panics in steps 3 to 7 are contained: the turn still reaches
// step 8, with a spoken apology in place of the reply.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/resilience"
	"github.com/MrWong99/jarvis/internal/session"
	"github.com/MrWong99/jarvis/internal/turn"
	"github.com/MrWong99/jarvis/pkg/memory"
	"github.com/MrWong99/jarvis/pkg/provider/llm"
	"github.com/MrWong99/jarvis/pkg/provider/search"
	"github.com/MrWong99/jarvis/pkg/provider/tts"
)

// Completer runs the inference chain. [resilience.LLMFallback] implements it.
type Completer interface {
	CompleteWithResult(ctx context.Context, req llm.CompletionRequest) (resilience.Result[*llm.CompletionResponse], error)
}

// Searcher runs the search chain. [resilience.SearchFallback] implements it.
type Searcher interface {
	SearchWithResult(ctx context.Context, query string, maxResults int) (resilience.Result[[]search.Result], error)
}

// Synthesizer runs the synthesis chain. [resilience.TTSFallback] implements it.
type Synthesizer interface {
	Stream(ctx context.Context, text string, voice tts.VoiceProfile) (resilience.Stream, error)
}

// Replies holds the canned texts spoken without a model.
type Replies struct {
	Greeting string `yaml:"greeting"`
	Farewell string `yaml:"farewell"`
	Apology  string `yaml:"apology"`
}

// DefaultReplies returns the built-in canned texts.
func DefaultReplies() Replies {
	return Replies{
		Greeting: "Hello! How can I help you?",
		Farewell: "Goodbye! Talk to you soon.",
		Apology:  "Sorry, I'm having trouble answering right now. Please try again in a moment.",
	}
}

// Config tunes the pipeline. Zero values take defaults.
type Config struct {
	SystemPrompt     string
	Voice            tts.VoiceProfile
	Replies          Replies
	SearchTimeout    time.Duration
	MaxSearchResults int
	MaxSnippetChars  int
	MaxResponseChars int
	SummaryMessages  int
	Temperature      float64
	MaxTokens        int
}

func (c Config) withDefaults() Config {
	d := DefaultReplies()
	if c.Replies.Greeting == "" {
		c.Replies.Greeting = d.Greeting
	}
	if c.Replies.Farewell == "" {
		c.Replies.Farewell = d.Farewell
	}
	if c.Replies.Apology == "" {
		c.Replies.Apology = d.Apology
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = 4 * time.Second
	}
	if c.MaxSearchResults <= 0 {
		c.MaxSearchResults = 3
	}
	if c.MaxSnippetChars <= 0 {
		c.MaxSnippetChars = 300
	}
	if c.MaxResponseChars <= 0 {
		c.MaxResponseChars = DefaultMaxResponseChars
	}
	if c.SummaryMessages <= 0 {
		c.SummaryMessages = session.DefaultSummaryMessages
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 300
	}
	return c
}

// Hooks carries the per-session collaborators of one run.
type Hooks struct {
	// TTS overrides the pipeline's synthesis chain, typically with a fork
	// whose last resort speaks on this session's client.
	TTS Synthesizer

	// Local speaks canned replies. It is never a chain. When nil, canned
	// replies are only shown as subtitles.
	Local tts.Provider

	// OnSubtitle receives the reply text once it is final.
	OnSubtitle func(text string)
}

// Outcome describes what one run produced.
type Outcome struct {
	// Command is the local command that handled the turn, if any.
	Command Command

	// Reply is the text that was handed to synthesis.
	Reply string

	// Stream is the audio to play. Nil when there is nothing to play.
	Stream *resilience.Stream

	// Metadata is what was stored with the assistant message.
	Metadata memory.Metadata

	// EndConversation is set for a farewell.
	EndConversation bool

	// Err is the first contained failure, for logging. The run itself
	// always completes.
	Err error
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithConfig sets the tuning values.
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) { p.cfg = cfg.withDefaults() }
}

// WithSearch enables web search context.
func WithSearch(s Searcher) Option {
	return func(p *Pipeline) { p.search = s }
}

// WithCommands sets the local command matcher.
func WithCommands(m *CommandMatcher) Option {
	return func(p *Pipeline) { p.commands = m }
}

// WithClassifier sets the search classifier.
func WithClassifier(c *SearchClassifier) Option {
	return func(p *Pipeline) { p.classifier = c }
}

// WithMetrics records pipeline durations on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock overrides time.Now for prompts and message timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline is shared by all sessions and safe for concurrent use. Per-turn
// ordering is the caller's job: one run per session at a time.
type Pipeline struct {
	cfg        Config
	store      *session.Store
	llm        Completer
	tts        Synthesizer
	search     Searcher
	commands   *CommandMatcher
	classifier *SearchClassifier
	metrics    *observe.Metrics
	now        func() time.Time
}

// New creates a pipeline that stores turns in store and answers through
// the given inference and synthesis chains.
func New(store *session.Store, completer Completer, synth Synthesizer, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:   Config{}.withDefaults(),
		store: store,
		llm:   completer,
		tts:   synth,
		now:   time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.commands == nil {
		p.commands = NewCommandMatcher(turn.DefaultCueTable(), nil)
	}
	if p.classifier == nil {
		p.classifier, _ = NewSearchClassifier(DefaultSearchRules())
	}
	return p
}

// Commands returns the command matcher, for hot-reloading cues.
func (p *Pipeline) Commands() *CommandMatcher { return p.commands }

// Run handles one committed utterance of session sessionID. ctx is the
// reply context: cancelling it (an interruption) aborts inference and
// synthesis, but the turn is still recorded.
func (p *Pipeline) Run(ctx context.Context, sessionID string, u turn.Utterance, h Hooks) Outcome {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "pipeline.run")
	defer span.End()

	text := strings.TrimSpace(u.Text)
	userMsg := memory.Message{Role: memory.RoleUser, Content: text, Timestamp: u.End}
	if userMsg.Timestamp.IsZero() {
		userMsg.Timestamp = p.now()
	}

	var out Outcome
	cmd := p.commands.Match(text)
	span.SetAttributes(attribute.String("session.id", sessionID), attribute.String("command", string(cmd)))

	switch cmd {
	case CommandStop:
		// Nothing to say; the caller has already silenced playback.
		userMsg.Metadata.Command = string(cmd)
		out = Outcome{Command: cmd}
		p.record(ctx, sessionID, &out, userMsg)
	case CommandGreeting, CommandFarewell:
		userMsg.Metadata.Command = string(cmd)
		out = p.canned(ctx, cmd, h)
		p.record(ctx, sessionID, &out, userMsg, memory.Message{
			Role:     memory.RoleAssistant,
			Content:  out.Reply,
			Metadata: out.Metadata,
		})
	default:
		out = p.respond(ctx, sessionID, text, h)
		p.record(ctx, sessionID, &out, userMsg, memory.Message{
			Role:     memory.RoleAssistant,
			Content:  out.Reply,
			Metadata: out.Metadata,
		})
	}

	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
	}
	if p.metrics != nil {
		p.metrics.PipelineDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			observe.Attr("command", string(out.Command)),
			attribute.Bool("search_used", out.Metadata.SearchUsed),
			attribute.Bool("fallback", out.Metadata.Fallback),
		))
	}
	return out
}

// canned answers a greeting or farewell with a fixed text on the local
// synthesiser.
func (p *Pipeline) canned(ctx context.Context, cmd Command, h Hooks) Outcome {
	out := Outcome{Command: cmd, EndConversation: cmd == CommandFarewell}
	out.Reply = p.cfg.Replies.Greeting
	if cmd == CommandFarewell {
		out.Reply = p.cfg.Replies.Farewell
	}
	out.Metadata.Command = string(cmd)
	if h.OnSubtitle != nil {
		h.OnSubtitle(out.Reply)
	}
	if h.Local == nil {
		return out
	}
	audio, err := h.Local.Synthesize(ctx, out.Reply, p.cfg.Voice)
	if err != nil {
		out.Err = fmt.Errorf("pipeline: local synthesis: %w", err)
		return out
	}
	out.Stream = &resilience.Stream{Audio: audio, Provider: "local", ClientSide: h.Local.Capabilities().ClientSide}
	out.Metadata.TTSProvider = "local"
	return out
}

// respond runs steps 2 to 7. It never panics and always returns a reply.
func (p *Pipeline) respond(ctx context.Context, sessionID, text string, h Hooks) (out Outcome) {
	synth := p.tts
	if h.TTS != nil {
		synth = h.TTS
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("pipeline: recovered from panic", "session_id", sessionID, "panic", r)
			out.Err = errors.Join(out.Err, fmt.Errorf("pipeline: panic: %v", r))
			if out.Stream != nil {
				_ = out.Stream.Close()
				out.Stream = nil
			}
			out.Reply = p.cfg.Replies.Apology
			out.Metadata.Fallback = true
			out.Metadata.TTSProvider = ""
			p.apologise(ctx, &out, h)
		}
	}()

	// Steps 2 and 3.
	var searchQuery, searchContext string
	if p.search != nil {
		if d := p.classifier.Classify(ctx, text); d.Search {
			searchQuery = d.Query
			searchContext = p.lookup(ctx, d, &out)
		}
	}

	// Step 4.
	req := BuildRequest(PromptInput{
		SystemPrompt:  p.cfg.SystemPrompt,
		Summary:       p.store.Summary(sessionID, p.cfg.SummaryMessages),
		SearchQuery:   searchQuery,
		SearchContext: searchContext,
		Utterance:     text,
		Now:           p.now(),
		Temperature:   p.cfg.Temperature,
		MaxTokens:     p.cfg.MaxTokens,
	})

	// Step 5.
	res, err := p.llm.CompleteWithResult(ctx, req)
	switch {
	case err != nil:
		out.Err = fmt.Errorf("pipeline: inference: %w", err)
		out.Reply = p.cfg.Replies.Apology
		out.Metadata.Fallback = true
		if ctx.Err() != nil {
			out.Metadata.Interrupted = true
			return out
		}
		observe.Logger(ctx).Warn("pipeline: inference failed, apologising", "session_id", sessionID, "error", err)
	default:
		out.Metadata.LLMProvider = res.Provider
		// Step 6.
		out.Reply = Sanitize(res.Value.Content, p.cfg.MaxResponseChars)
		if out.Reply == "" {
			out.Reply = p.cfg.Replies.Apology
			out.Metadata.Fallback = true
		}
	}

	// Step 7.
	p.speak(ctx, &out, synth, h)
	return out
}

// lookup runs the search chain under its own deadline. Failures yield no
// context.
func (p *Pipeline) lookup(ctx context.Context, d Decision, out *Outcome) string {
	sctx, cancel := context.WithTimeout(ctx, p.cfg.SearchTimeout)
	defer cancel()
	res, err := p.search.SearchWithResult(sctx, d.Query, p.cfg.MaxSearchResults)
	if err != nil {
		observe.Logger(ctx).Info("pipeline: search gave no context", "query", d.Query, "category", d.Category, "error", err)
		return ""
	}
	out.Metadata.SearchUsed = true
	out.Metadata.SearchProvider = res.Provider
	return search.FormatContext(res.Value, p.cfg.MaxSnippetChars)
}

// speak publishes the subtitle and opens the audio stream for out.Reply.
func (p *Pipeline) speak(ctx context.Context, out *Outcome, synth Synthesizer, h Hooks) {
	if h.OnSubtitle != nil {
		h.OnSubtitle(out.Reply)
	}
	if ctx.Err() != nil {
		out.Metadata.Interrupted = true
		return
	}
	stream, err := synth.Stream(ctx, out.Reply, p.cfg.Voice)
	if err != nil {
		out.Err = errors.Join(out.Err, fmt.Errorf("pipeline: synthesis: %w", err))
		if ctx.Err() != nil {
			out.Metadata.Interrupted = true
		}
		return
	}
	out.Stream = &stream
	out.Metadata.TTSProvider = stream.Provider
}

// apologise speaks the apology on the local synthesiser after a panic. The
// chains are not retried; one of them may be what panicked.
func (p *Pipeline) apologise(ctx context.Context, out *Outcome, h Hooks) {
	if h.OnSubtitle != nil {
		h.OnSubtitle(out.Reply)
	}
	if h.Local == nil || ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			out.Stream = nil
		}
	}()
	audio, err := h.Local.Synthesize(ctx, out.Reply, p.cfg.Voice)
	if err != nil {
		return
	}
	out.Stream = &resilience.Stream{Audio: audio, Provider: "local", ClientSide: h.Local.Capabilities().ClientSide}
	out.Metadata.TTSProvider = "local"
}

// record is step 8. The store is written even when ctx was cancelled, so
// an interrupted turn is still remembered.
func (p *Pipeline) record(ctx context.Context, sessionID string, out *Outcome, msgs ...memory.Message) {
	if err := p.store.Append(context.WithoutCancel(ctx), sessionID, msgs...); err != nil {
		slog.Warn("pipeline: could not record turn", "session_id", sessionID, "error", err)
		out.Err = errors.Join(out.Err, err)
	}
}
