package app_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/jarvis/internal/app"
	"github.com/MrWong99/jarvis/internal/config"
	"github.com/MrWong99/jarvis/internal/conversation"
	"github.com/MrWong99/jarvis/internal/pipeline"
	"github.com/MrWong99/jarvis/internal/turn"
	audiomock "github.com/MrWong99/jarvis/pkg/audio/mock"
	"github.com/MrWong99/jarvis/pkg/memory"
	memorymock "github.com/MrWong99/jarvis/pkg/memory/mock"
	"github.com/MrWong99/jarvis/pkg/provider/llm"
	llmmock "github.com/MrWong99/jarvis/pkg/provider/llm/mock"
	"github.com/MrWong99/jarvis/pkg/provider/tts"
	ttsmock "github.com/MrWong99/jarvis/pkg/provider/tts/mock"
	vadmock "github.com/MrWong99/jarvis/pkg/provider/vad/mock"
)

// testConfig returns the default config with a fast tick and no
// housekeeping schedule.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Memory.Housekeeping = ""
	cfg.Turn.TickInterval = 5 * time.Millisecond
	return cfg
}

// testProviders returns one mock provider per chain.
func testProviders() *app.Providers {
	return &app.Providers{
		LLM: []app.Named[llm.Provider]{{ID: "primary", Provider: &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: "Sure."},
		}}},
		TTS: []app.Named[tts.Provider]{{ID: "cloud", Provider: &ttsmock.Provider{
			SynthesizeChunks: [][]byte{{1, 2}},
		}}},
		VAD: &vadmock.Engine{},
	}
}

// client is a test double for [app.Client].
type client struct {
	audiomock.Player

	mu     sync.Mutex
	spoken []string
}

func (c *client) Speak(_ context.Context, text string, _ tts.VoiceProfile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spoken = append(c.spoken, text)
	return nil
}

func (c *client) said() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.spoken)
}

func newApp(t *testing.T, cfg *config.Config, ps *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, ps, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew_RequiresLLM(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), testConfig(), &app.Providers{})
	if !errors.Is(err, app.ErrNoLLM) {
		t.Fatalf("New() error = %v, want ErrNoLLM", err)
	}
}

func TestNew_RestoresPersistedSessions(t *testing.T) {
	t.Parallel()

	now := time.Now()
	persister := &memorymock.Persister{}
	persister.Seed(memory.Session{
		ID:             "earlier",
		Messages:       []memory.Message{{Role: memory.RoleUser, Content: "hi", Timestamp: now}},
		CreatedAt:      now,
		LastActivityAt: now,
		Active:         true,
	})
	ps := testProviders()
	ps.Persister = persister

	a := newApp(t, testConfig(), ps)
	if !a.Store().IsActive("earlier") {
		t.Fatal("persisted session was not restored")
	}
	if got := a.Store().History("earlier"); len(got) != 1 {
		t.Errorf("restored history = %d messages, want 1", len(got))
	}
}

func TestNewActor_OpensLazilyAndResumes(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(), testProviders())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	actor, err := a.NewActor(ctx, app.Start{}, &client{}, conversation.Events{})
	if err != nil {
		t.Fatalf("NewActor() returned error: %v", err)
	}
	id := actor.SessionID()
	if id == "" {
		t.Fatal("NewActor() allocated no session ID")
	}
	if a.Store().IsActive(id) {
		t.Fatalf("session %s active before any turn was committed", id)
	}
	// As the first committed turn does.
	if err := a.Store().Open(ctx, id, ""); err != nil {
		t.Fatalf("Open() returned error: %v", err)
	}
	if got := a.LiveSessions(); !slices.Equal(got, []string{id}) {
		t.Fatalf("LiveSessions() = %v, want [%s]", got, id)
	}

	if _, err := a.NewActor(ctx, app.Start{ResumeID: id}, &client{}, conversation.Events{}); !errors.Is(err, app.ErrSessionBusy) {
		t.Fatalf("second NewActor() error = %v, want ErrSessionBusy", err)
	}

	runDone := make(chan error, 1)
	go func() { runDone <- actor.Run(ctx) }()
	actor.EndConversation()
	select {
	case <-actor.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("conversation did not end")
	}
	if err := <-runDone; err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	waitFor(t, "live set to empty", func() bool { return len(a.LiveSessions()) == 0 })
	if a.Store().IsActive(id) {
		t.Fatal("session still active after the conversation ended")
	}

	resumed, err := a.NewActor(ctx, app.Start{ResumeID: id}, &client{}, conversation.Events{})
	if err != nil {
		t.Fatalf("resume NewActor() returned error: %v", err)
	}
	if resumed.SessionID() != id {
		t.Errorf("resumed session = %s, want %s", resumed.SessionID(), id)
	}
	if !a.Store().IsActive(id) {
		t.Error("resumed session not active")
	}
}

func TestNewActor_UnknownSessionStartsNew(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(), testProviders())
	actor, err := a.NewActor(t.Context(), app.Start{ResumeID: "does-not-exist"}, &client{}, conversation.Events{})
	if err != nil {
		t.Fatalf("NewActor() returned error: %v", err)
	}
	if actor.SessionID() == "does-not-exist" {
		t.Fatal("unknown session ID was reused")
	}
}

func TestNewActor_OneLiveConversationPerOwner(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(), testProviders())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := a.NewActor(ctx, app.Start{Owner: "alice"}, &client{}, conversation.Events{})
	if err != nil {
		t.Fatalf("NewActor(alice) returned error: %v", err)
	}
	if first.Owner() != "alice" {
		t.Errorf("Owner() = %q, want alice", first.Owner())
	}

	tests := []struct {
		name     string
		start    app.Start
		wantBusy bool
	}{
		{name: "same owner", start: app.Start{Owner: "alice"}, wantBusy: true},
		{name: "same owner resuming", start: app.Start{Owner: "alice", ResumeID: "elsewhere"}, wantBusy: true},
		{name: "other owner", start: app.Start{Owner: "bob"}},
		{name: "anonymous", start: app.Start{}},
	}
	for _, tt := range tests {
		_, err := a.NewActor(ctx, tt.start, &client{}, conversation.Events{})
		if got := errors.Is(err, app.ErrSessionBusy); got != tt.wantBusy {
			t.Errorf("%s: NewActor() error = %v, want busy %v", tt.name, err, tt.wantBusy)
		}
	}

	cancel()
	waitFor(t, "live set to empty", func() bool { return len(a.LiveSessions()) == 0 })
	if _, err := a.NewActor(t.Context(), app.Start{Owner: "alice"}, &client{}, conversation.Events{}); err != nil {
		t.Fatalf("NewActor(alice) after release returned error: %v", err)
	}
}

func TestNewActor_ForeignSessionStartsNew(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(), testProviders())
	theirs := a.Store().Begin(t.Context(), "alice")

	actor, err := a.NewActor(t.Context(), app.Start{Owner: "bob", ResumeID: theirs}, &client{}, conversation.Events{})
	if err != nil {
		t.Fatalf("NewActor() returned error: %v", err)
	}
	if actor.SessionID() == theirs {
		t.Fatal("another owner's session was resumed")
	}
	if !a.Store().IsActive(theirs) {
		t.Error("owner's session was closed by a foreign resume")
	}
}

func TestNewActor_ReleasedWhenContextEnds(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(), testProviders())
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := a.NewActor(ctx, app.Start{}, &client{}, conversation.Events{}); err != nil {
		t.Fatalf("NewActor() returned error: %v", err)
	}
	cancel()
	waitFor(t, "live set to empty", func() bool { return len(a.LiveSessions()) == 0 })
}

func TestNewActor_DeviceVoiceIsLastResort(t *testing.T) {
	t.Parallel()

	ps := testProviders()
	ps.TTS = []app.Named[tts.Provider]{{ID: "cloud", Provider: &ttsmock.Provider{SynthesizeErr: errors.New("quota exceeded")}}}
	a := newApp(t, testConfig(), ps)

	c := &client{}
	actor, err := a.NewActor(t.Context(), app.Start{}, c, conversation.Events{})
	if err != nil {
		t.Fatalf("NewActor() returned error: %v", err)
	}
	stream, err := actor.Context().Hooks.TTS.Stream(t.Context(), "Good evening.", tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("Stream() returned error: %v", err)
	}
	defer stream.Close()
	for range stream.Audio {
	}
	if stream.Provider != "native" || !stream.ClientSide {
		t.Errorf("stream served by %q (client side %v), want native", stream.Provider, stream.ClientSide)
	}
	if got := c.said(); !slices.Equal(got, []string{"Good evening."}) {
		t.Errorf("client spoke %q", got)
	}
}

func TestNewActor_UsesCurrentVADConfig(t *testing.T) {
	t.Parallel()

	engine := &vadmock.Engine{}
	ps := testProviders()
	ps.VAD = engine
	cfg := testConfig()
	a := newApp(t, cfg, ps)

	if _, err := a.NewActor(t.Context(), app.Start{}, &client{}, conversation.Events{}); err != nil {
		t.Fatalf("NewActor() returned error: %v", err)
	}

	next := *cfg
	next.VAD.ActivationScore = cfg.VAD.ActivationScore + 0.1
	if err := a.ApplyTuning(&next, config.Diff(cfg, &next)); err != nil {
		t.Fatalf("ApplyTuning() returned error: %v", err)
	}
	if _, err := a.NewActor(t.Context(), app.Start{}, &client{}, conversation.Events{}); err != nil {
		t.Fatalf("NewActor() returned error: %v", err)
	}

	calls := engine.NewSessionCalls
	if len(calls) != 2 {
		t.Fatalf("NewSession calls = %d, want 2", len(calls))
	}
	if calls[0].Cfg.ActivationScore != cfg.VAD.ActivationScore {
		t.Errorf("first session threshold = %v, want %v", calls[0].Cfg.ActivationScore, cfg.VAD.ActivationScore)
	}
	if calls[1].Cfg.ActivationScore != next.VAD.ActivationScore {
		t.Errorf("second session threshold = %v, want %v", calls[1].Cfg.ActivationScore, next.VAD.ActivationScore)
	}
}

func TestApplyTuning_Cues(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	a := newApp(t, cfg, testProviders())

	next := *cfg
	next.Cues = []turn.CueRule{{Pattern: `^halt$`, Class: turn.CueStop}}
	if err := a.ApplyTuning(&next, config.Diff(cfg, &next)); err != nil {
		t.Fatalf("ApplyTuning() returned error: %v", err)
	}
	if got := a.Pipeline().Commands().Match("halt"); got != pipeline.CommandStop {
		t.Errorf("Match(halt) = %q, want stop", got)
	}

	bad := next
	bad.Cues = []turn.CueRule{{Pattern: `(`, Class: turn.CueStop}}
	if err := a.ApplyTuning(&bad, config.Diff(&next, &bad)); err == nil {
		t.Error("ApplyTuning() accepted an invalid cue")
	}
}

func TestCheckers(t *testing.T) {
	t.Parallel()

	persister := &memorymock.Persister{PingErr: errors.New("connection refused")}
	ps := testProviders()
	ps.Persister = persister
	a := newApp(t, testConfig(), ps)

	got := map[string]error{}
	optional := map[string]bool{}
	for _, c := range a.Checkers() {
		got[c.Name] = c.Check(t.Context())
		optional[c.Name] = c.Optional
	}
	if got["memory"] == nil || !optional["memory"] {
		t.Errorf("memory check = %v (optional %v), want optional failure", got["memory"], optional["memory"])
	}
	if got["llm"] != nil || optional["llm"] {
		t.Errorf("llm check = %v (optional %v), want required success", got["llm"], optional["llm"])
	}
}

func TestHousekeep_ExpiresIdleSessions(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	cfg := testConfig()
	cfg.Memory.InactivityTimeout = time.Minute
	a := newApp(t, cfg, testProviders(), app.WithClock(clock))

	id := a.Store().Begin(t.Context(), "")
	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	res := a.Housekeep(t.Context())
	if !slices.Contains(res.Expired, id) {
		t.Fatalf("Expired = %v, want %s", res.Expired, id)
	}
	if a.Store().IsActive(id) {
		t.Error("idle session still active")
	}
}

func TestNew_RejectsBadSchedule(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Memory.Housekeeping = "every now and then"
	if _, err := app.New(context.Background(), cfg, testProviders()); err == nil {
		t.Fatal("New() accepted an invalid housekeeping schedule")
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()

	var order []int
	cfg := testConfig()
	cfg.Memory.Housekeeping = "@every 1h"
	a, err := app.New(context.Background(), cfg, testProviders(),
		app.WithCloser(func() error { order = append(order, 1); return nil }),
		app.WithCloser(func() error { order = append(order, 2); return errors.New("flush failed") }),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	err = a.Shutdown(context.Background())
	if err == nil || err.Error() != "flush failed" {
		t.Errorf("Shutdown() error = %v, want flush failed", err)
	}
	if !slices.Equal(order, []int{1, 2}) {
		t.Errorf("closer order = %v, want [1 2]", order)
	}

	// Second call is a no-op.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() returned error: %v", err)
	}
	if len(order) != 2 {
		t.Errorf("closers ran again: %v", order)
	}
}

func TestApp_ShutdownDeadline(t *testing.T) {
	t.Parallel()

	ran := false
	a, err := app.New(context.Background(), testConfig(), testProviders(),
		app.WithCloser(func() error { ran = true; return nil }),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown() error = %v, want context.Canceled", err)
	}
	if ran {
		t.Error("closer ran after the deadline")
	}
}
