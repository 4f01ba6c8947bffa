package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/jarvis/pkg/provider/tts"
)

var errEmptyResponse = errors.New("provider returned an empty response")

// Stream is an audio stream opened by [TTSFallback.Stream].
type Stream struct {
	// Audio carries the synthesised chunks and is closed when synthesis ends
	// or the stream is closed. For client-side providers it carries no bytes
	// and closes once the client finished speaking.
	Audio <-chan []byte

	// Provider is the chain ID of the synthesiser that serves the stream.
	Provider string

	// ClientSide is true when the audio is rendered by the client.
	ClientSide bool

	cancel context.CancelFunc
}

// Close stops synthesis. It is safe to call more than once.
func (s Stream) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// TTSFallback implements [tts.Provider] with ordered failover across speech
// synthesisers. The text is replayed to the next provider when one fails.
//
// An attempt succeeds once the provider has produced its first audio chunk
// within the chain timeout; what follows is streamed without a deadline.
// Client-side providers succeed as soon as they accept the request.
type TTSFallback struct {
	chain *Chain[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback wraps chain.
func NewTTSFallback(chain *Chain[tts.Provider]) *TTSFallback {
	return &TTSFallback{chain: chain}
}

// Chain returns the underlying chain.
func (f *TTSFallback) Chain() *Chain[tts.Provider] { return f.chain }

// Synthesize implements [tts.Provider].
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	s, err := f.Stream(ctx, text, voice)
	if err != nil {
		return nil, err
	}
	return s.Audio, nil
}

// Stream synthesises text and reports which provider serves the audio. The
// stream lives until ctx is cancelled, the audio ends, or Close is called.
func (f *TTSFallback) Stream(ctx context.Context, text string, voice tts.VoiceProfile) (Stream, error) {
	res, err := Execute(ctx, f.chain, func(attemptCtx context.Context, p tts.Provider) (Stream, error) {
		return openStream(ctx, attemptCtx, p, text, voice)
	})
	if err != nil {
		return Stream{}, err
	}
	s := res.Value
	s.Provider = res.Provider
	return s, nil
}

// Capabilities returns the capabilities of the provider that would be tried
// first.
func (f *TTSFallback) Capabilities() tts.Capabilities {
	if p, ok := f.chain.First(); ok {
		return p.Capabilities()
	}
	return tts.Capabilities{}
}

// openStream starts p under a context derived from parent, so the stream can
// outlive attemptCtx, and waits for the first chunk while attemptCtx lasts.
func openStream(parent, attemptCtx context.Context, p tts.Provider, text string, voice tts.VoiceProfile) (Stream, error) {
	streamCtx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(attemptCtx, cancel)

	ch, err := p.Synthesize(streamCtx, text, voice)
	if err != nil {
		stop()
		cancel()
		return Stream{}, err
	}
	if ch == nil {
		stop()
		cancel()
		return Stream{}, fmt.Errorf("synthesize: %w", errEmptyResponse)
	}

	if p.Capabilities().ClientSide {
		if !stop() {
			cancel()
			return Stream{}, attemptCtx.Err()
		}
		out := make(chan []byte)
		go forward(streamCtx, cancel, nil, ch, out)
		return Stream{Audio: out, ClientSide: true, cancel: cancel}, nil
	}

	var first []byte
	select {
	case chunk, ok := <-ch:
		if !ok {
			stop()
			cancel()
			if err := attemptCtx.Err(); err != nil {
				return Stream{}, err
			}
			return Stream{}, tts.ErrNoAudio
		}
		first = chunk
	case <-attemptCtx.Done():
		cancel()
		return Stream{}, attemptCtx.Err()
	}

	// The attempt deadline no longer applies once audio is flowing.
	if !stop() {
		cancel()
		return Stream{}, attemptCtx.Err()
	}

	out := make(chan []byte, 16)
	go forward(streamCtx, cancel, first, ch, out)
	return Stream{Audio: out, cancel: cancel}, nil
}

// forward copies first and then everything from in to out until in closes or
// ctx is done.
func forward(ctx context.Context, cancel context.CancelFunc, first []byte, in <-chan []byte, out chan<- []byte) {
	defer close(out)
	defer cancel()
	if first != nil {
		select {
		case out <- first:
		case <-ctx.Done():
			return
		}
	}
	for {
		select {
		case chunk, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
