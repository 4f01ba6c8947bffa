// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs, the OpenAI
// speech endpoint, or the listener's own device) and presents a uniform
// streaming interface. Synthesize accepts the complete reply text and returns
// a channel of raw PCM audio bytes as they become available, so playback can
// begin before synthesis has finished.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrNoAudio is reported when a server-side provider closes its stream without
// producing any audio. Fallback wrappers treat it as a provider failure.
var ErrNoAudio = errors.New("tts: stream produced no audio")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize starts synthesising text and returns a channel that emits raw
	// PCM audio byte slices as they arrive.
	//
	// The returned audio channel is closed by the implementation when all text
	// has been synthesised or when ctx is cancelled. The caller must drain the
	// channel to avoid blocking the provider's internal goroutines.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// encountered mid-stream are signalled by closing the channel early.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (<-chan []byte, error)

	// Capabilities returns static metadata about the backend.
	Capabilities() Capabilities
}
