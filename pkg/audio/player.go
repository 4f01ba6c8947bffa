// Package audio defines the frame type consumed by the analysis tick and the
// playback sink that synthesised speech is written to.
//
// Capture and playback devices are external collaborators: the core only sees
// [Frame] values flowing in and hands byte streams to a [Player]. Transport
// adapters (see internal/transport/ws) implement [Player] on top of whatever
// connection carries audio to the listener.
package audio

import "context"

// Player is the "play audio" sink. It accepts synthesised audio chunks and
// reports completion or cancellation.
//
// Implementations must be safe for concurrent use: Stop is typically invoked
// from the interruption path while Play is blocked on another goroutine.
type Player interface {
	// Play writes every chunk received on audio to the output and blocks until
	// playback has finished or ctx is cancelled. It returns nil on natural
	// completion and ctx.Err() (or a transport error) otherwise. The caller must
	// not assume audio has been drained when Play returns early.
	Play(ctx context.Context, audio <-chan []byte) error

	// Stop halts anything currently audible. It is idempotent and safe to call
	// when nothing is playing.
	Stop()
}
