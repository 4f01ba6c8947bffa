package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/jarvis/pkg/provider/llm"
	llmmock "github.com/MrWong99/jarvis/pkg/provider/llm/mock"
	"github.com/MrWong99/jarvis/pkg/provider/search"
	searchmock "github.com/MrWong99/jarvis/pkg/provider/search/mock"
	"github.com/MrWong99/jarvis/pkg/provider/tts"
	ttsmock "github.com/MrWong99/jarvis/pkg/provider/tts/mock"
	"github.com/MrWong99/jarvis/pkg/provider/tts/native"
)

func collectAudio(t *testing.T, ch <-chan []byte) []string {
	t.Helper()
	var out []string
	timeout := time.After(2 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, string(c))
		case <-timeout:
			t.Fatal("audio stream did not close")
		}
	}
}

// ─── LLM ─────────────────────────────────────────────────────────────────────

func TestLLMFallback_Failover(t *testing.T) {
	t.Parallel()
	local := &llmmock.Provider{CompleteErr: errors.New("connection refused")}
	cloudA := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "from cloud A", Provider: "openai"}}
	cloudB := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "from cloud B"}}

	c := NewChain[llm.Provider](ChainConfig{Capability: "llm"})
	c.Add("ollama", local, "local")
	c.Add("openai", cloudA, "cloud")
	c.Add("anthropic", cloudB, "cloud")
	fb := NewLLMFallback(c)

	res, err := fb.CompleteWithResult(context.Background(), llm.CompletionRequest{Messages: []llm.Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Value.Content != "from cloud A" || res.Value.Provider != "openai" || res.Attempts != 2 {
		t.Fatalf("result = %+v / %+v", res, res.Value)
	}
	if len(cloudB.Calls()) != 0 {
		t.Error("third provider should not be called")
	}
	if len(local.Calls()) != 1 {
		t.Errorf("local called %d times, want 1", len(local.Calls()))
	}
}

func TestLLMFallback_NilResponseIsFailure(t *testing.T) {
	t.Parallel()
	empty := &llmmock.Provider{}
	good := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}

	c := NewChain[llm.Provider](ChainConfig{Capability: "llm"})
	c.Add("empty", empty)
	c.Add("good", good)

	resp, err := NewLLMFallback(c).Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "good" {
		t.Fatalf("provider = %q, want good", resp.Provider)
	}
}

func TestLLMFallback_AllFail(t *testing.T) {
	t.Parallel()
	c := NewChain[llm.Provider](ChainConfig{Capability: "llm", Timeout: 20 * time.Millisecond})
	c.Add("a", &llmmock.Provider{CompleteErr: errTest})
	c.Add("b", &llmmock.Provider{Block: true})

	_, err := NewLLMFallback(c).Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllProvidersExhausted) {
		t.Fatalf("err = %v, want ErrAllProvidersExhausted", err)
	}
	if !errors.Is(err, ErrProviderTimeout) {
		t.Errorf("err = %v, want it to include a timeout", err)
	}
}

func TestLLMFallback_Capabilities(t *testing.T) {
	t.Parallel()
	c := NewChain[llm.Provider](ChainConfig{})
	if got := NewLLMFallback(c).Capabilities(); got != (llm.ModelCapabilities{}) {
		t.Errorf("empty chain capabilities = %+v", got)
	}
	c.Add("local", &llmmock.Provider{ModelCapabilities: llm.ModelCapabilities{ContextWindow: 8192, Local: true}})
	if got := NewLLMFallback(c).Capabilities(); !got.Local || got.ContextWindow != 8192 {
		t.Errorf("capabilities = %+v", got)
	}
}

// ─── TTS ─────────────────────────────────────────────────────────────────────

func TestTTSFallback_PremiumServes(t *testing.T) {
	t.Parallel()
	premium := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("a"), []byte("b"), []byte("c")}}
	alt := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("x")}}

	c := NewChain[tts.Provider](ChainConfig{Capability: "tts"})
	c.Add("elevenlabs", premium)
	c.Add("openai", alt)

	s, err := NewTTSFallback(c).Stream(context.Background(), "Hello.", tts.VoiceProfile{ID: "v"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Provider != "elevenlabs" || s.ClientSide {
		t.Fatalf("stream = %+v", s)
	}
	got := collectAudio(t, s.Audio)
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("audio = %v", got)
	}
	if len(alt.Calls()) != 0 {
		t.Error("alternate provider should not be called")
	}
}

func TestTTSFallback_ReplaysTextToNextProvider(t *testing.T) {
	t.Parallel()
	premium := &ttsmock.Provider{SynthesizeErr: errors.New("quota exceeded")}
	silent := &ttsmock.Provider{} // closes without audio
	alt := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("pcm")}}

	c := NewChain[tts.Provider](ChainConfig{Capability: "tts"})
	c.Add("elevenlabs", premium)
	c.Add("silent", silent)
	c.Add("openai", alt)

	s, err := NewTTSFallback(c).Stream(context.Background(), "It is sunny.", tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Provider != "openai" {
		t.Fatalf("provider = %q, want openai", s.Provider)
	}
	if got := collectAudio(t, s.Audio); len(got) != 1 || got[0] != "pcm" {
		t.Fatalf("audio = %v", got)
	}
	for _, p := range []*ttsmock.Provider{premium, silent, alt} {
		calls := p.Calls()
		if len(calls) != 1 || calls[0].Text != "It is sunny." {
			t.Errorf("calls = %+v", calls)
		}
	}
	if first := c.Specs()[0]; first.ID != "openai" || first.Status != StatusWorking {
		t.Errorf("serving provider should sort first: %+v", first)
	}
}

func TestTTSFallback_StalledProviderTimesOut(t *testing.T) {
	t.Parallel()
	stalled := &ttsmock.Provider{Hang: true}
	alt := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("ok")}}

	c := NewChain[tts.Provider](ChainConfig{Capability: "tts", Timeout: 30 * time.Millisecond})
	c.Add("stalled", stalled)
	c.Add("alt", alt)

	s, err := NewTTSFallback(c).Stream(context.Background(), "hi", tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Provider != "alt" {
		t.Fatalf("provider = %q, want alt", s.Provider)
	}
	collectAudio(t, s.Audio)

	// The stalled provider's stream must have been cancelled.
	calls := stalled.Calls()
	if len(calls) != 1 {
		t.Fatalf("stalled calls = %d", len(calls))
	}
	select {
	case <-calls[0].Ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("stalled provider's context was not cancelled")
	}
}

func TestTTSFallback_StreamOutlivesAttemptTimeout(t *testing.T) {
	t.Parallel()
	slowTail := make(chan []byte)
	p := &streamProvider{ch: slowTail}

	c := NewChain[tts.Provider](ChainConfig{Capability: "tts", Timeout: 20 * time.Millisecond})
	c.Add("p", p)

	go func() {
		slowTail <- []byte("first")
		time.Sleep(60 * time.Millisecond) // longer than the attempt timeout
		slowTail <- []byte("second")
		close(slowTail)
	}()

	s, err := NewTTSFallback(c).Stream(context.Background(), "hi", tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := collectAudio(t, s.Audio); len(got) != 2 {
		t.Fatalf("audio = %v, want both chunks", got)
	}
}

func TestTTSFallback_NativeLastResort(t *testing.T) {
	t.Parallel()
	spoken := make(chan string, 1)
	speaker := native.SpeakerFunc(func(_ context.Context, text string, _ tts.VoiceProfile) error {
		spoken <- text
		return nil
	})

	c := NewChain[tts.Provider](ChainConfig{Capability: "tts", Timeout: 20 * time.Millisecond})
	c.Add("elevenlabs", &ttsmock.Provider{SynthesizeErr: errTest})
	c.Add("openai", &ttsmock.Provider{Hang: true})
	c.AddLastResort("native", native.New(speaker))

	s, err := NewTTSFallback(c).Stream(context.Background(), "Fallback voice.", tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Provider != "native" || !s.ClientSide {
		t.Fatalf("stream = %+v", s)
	}
	if got := collectAudio(t, s.Audio); len(got) != 0 {
		t.Errorf("native stream carried audio: %v", got)
	}
	if got := <-spoken; got != "Fallback voice." {
		t.Errorf("spoken = %q", got)
	}
}

func TestTTSFallback_CloseCancelsStream(t *testing.T) {
	t.Parallel()
	hang := &streamProvider{ch: make(chan []byte, 1)}
	hang.ch <- []byte("first")

	c := NewChain[tts.Provider](ChainConfig{Capability: "tts"})
	c.Add("hang", hang)

	s, err := NewTTSFallback(c).Stream(context.Background(), "hi", tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-s.Audio
	_ = s.Close()
	_ = s.Close()
	collectAudio(t, s.Audio)
	if hang.ctx().Err() == nil {
		t.Error("provider context not cancelled by Close")
	}
}

func TestTTSFallback_AllFail(t *testing.T) {
	t.Parallel()
	c := NewChain[tts.Provider](ChainConfig{Capability: "tts"})
	c.Add("a", &ttsmock.Provider{SynthesizeErr: errTest})
	c.Add("b", &ttsmock.Provider{})

	_, err := NewTTSFallback(c).Synthesize(context.Background(), "hi", tts.VoiceProfile{})
	if !errors.Is(err, ErrAllProvidersExhausted) {
		t.Fatalf("err = %v, want ErrAllProvidersExhausted", err)
	}
	if !errors.Is(err, tts.ErrNoAudio) {
		t.Errorf("err = %v, want it to include ErrNoAudio", err)
	}
}

// ─── Search ──────────────────────────────────────────────────────────────────

func TestSearchFallback_EmptyResultsAdvance(t *testing.T) {
	t.Parallel()
	primary := &searchmock.Provider{} // no results, no error
	secondary := &searchmock.Provider{Results: []search.Result{{Title: "Boston", Snippet: "Sunny"}}}

	c := NewChain[search.Provider](ChainConfig{Capability: "search"})
	c.Add("tavily", primary)
	c.Add("duckduckgo", secondary)

	res, err := NewSearchFallback(c).SearchWithResult(context.Background(), "weather boston", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Provider != "duckduckgo" || len(res.Value) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if primary.CallCount() != 1 {
		t.Errorf("primary calls = %d", primary.CallCount())
	}
}

func TestSearchFallback_AllFail(t *testing.T) {
	t.Parallel()
	c := NewChain[search.Provider](ChainConfig{Capability: "search"})
	c.Add("tavily", &searchmock.Provider{Err: errTest})
	c.Add("duckduckgo", &searchmock.Provider{Err: search.ErrNoResults})

	_, err := NewSearchFallback(c).Search(context.Background(), "q", 3)
	if !errors.Is(err, ErrAllProvidersExhausted) {
		t.Fatalf("err = %v", err)
	}
}

// streamProvider returns a caller-controlled channel and remembers its
// context.
type streamProvider struct {
	ch     chan []byte
	gotCtx context.Context
}

func (p *streamProvider) Synthesize(ctx context.Context, _ string, _ tts.VoiceProfile) (<-chan []byte, error) {
	p.gotCtx = ctx
	return p.ch, nil
}

func (p *streamProvider) ctx() context.Context { return p.gotCtx }

func (p *streamProvider) Capabilities() tts.Capabilities { return tts.Capabilities{} }
