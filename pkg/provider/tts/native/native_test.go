package native_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/jarvis/pkg/provider/tts"
	"github.com/MrWong99/jarvis/pkg/provider/tts/native"
)

func TestSynthesize_WaitsForSpeaker(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	spoken := make(chan string, 1)
	p := native.New(native.SpeakerFunc(func(ctx context.Context, text string, _ tts.VoiceProfile) error {
		spoken <- text
		<-release
		return nil
	}))

	ch, err := p.Synthesize(context.Background(), "Hello.", tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got := <-spoken; got != "Hello." {
		t.Errorf("spoken = %q", got)
	}

	select {
	case <-ch:
		t.Fatal("stream closed before the speaker finished")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	if _, ok := <-ch; ok {
		t.Fatal("expected no audio bytes")
	}
}

func TestSynthesize_NeverFails(t *testing.T) {
	t.Parallel()

	for _, p := range []*native.Provider{
		native.New(nil),
		native.New(native.SpeakerFunc(func(context.Context, string, tts.VoiceProfile) error {
			return errors.New("client gone")
		})),
	} {
		ch, err := p.Synthesize(context.Background(), "x", tts.VoiceProfile{})
		if err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		for range ch {
			t.Error("unexpected audio")
		}
	}
}

func TestCapabilities_ClientSide(t *testing.T) {
	t.Parallel()

	if !native.New(nil).Capabilities().ClientSide {
		t.Error("native provider must report ClientSide")
	}
}
