// Package native provides the last-resort TTS provider: it asks the listener's
// device to speak the text with its own built-in synthesiser.
//
// The provider never fails. It hands the text to a [Speaker] (normally the
// session transport) and returns an audio channel that carries no bytes and
// closes once the device reports that it finished speaking. Without a Speaker
// the text is only logged.
package native

import (
	"context"
	"log/slog"

	"github.com/MrWong99/jarvis/pkg/provider/tts"
)

// Speaker renders text on the client side.
type Speaker interface {
	// Speak asks the client to say text and blocks until it has finished, ctx
	// is cancelled, or the request fails.
	Speak(ctx context.Context, text string, voice tts.VoiceProfile) error
}

// SpeakerFunc adapts a function to [Speaker].
type SpeakerFunc func(ctx context.Context, text string, voice tts.VoiceProfile) error

// Speak implements [Speaker].
func (f SpeakerFunc) Speak(ctx context.Context, text string, voice tts.VoiceProfile) error {
	return f(ctx, text, voice)
}

// Provider implements tts.Provider on top of a [Speaker].
type Provider struct {
	speaker Speaker
}

// New returns a Provider. speaker may be nil.
func New(speaker Speaker) *Provider {
	return &Provider{speaker: speaker}
}

// Synthesize implements tts.Provider. It never returns an error.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	ch := make(chan []byte)
	go func() {
		defer close(ch)
		if p.speaker == nil {
			slog.Info("native tts: no client speaker attached", "text", text)
			return
		}
		if err := p.speaker.Speak(ctx, text, voice); err != nil && ctx.Err() == nil {
			slog.Warn("native tts: client speech failed", "error", err)
		}
	}()
	return ch, nil
}

// Capabilities implements tts.Provider.
func (p *Provider) Capabilities() tts.Capabilities {
	return tts.Capabilities{ClientSide: true}
}

var _ tts.Provider = (*Provider)(nil)
