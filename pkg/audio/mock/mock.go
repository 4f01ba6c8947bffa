// Package mock provides an in-memory implementation of [audio.Player] for use
// in unit tests.
//
// The mock is safe for concurrent use. It records every chunk it plays and
// counts Stop calls so tests can assert that an interruption cancelled
// playback exactly once.
//
// Typical usage:
//
//	p := &mock.Player{}
//	err := p.Play(ctx, audioCh)
//	if p.StopCount() != 1 { ... }
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/jarvis/pkg/audio"
)

// Player is a mock implementation of [audio.Player].
type Player struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by Play after the audio channel drains.
	PlayErr error

	// Block, when true, makes Play wait for ctx cancellation after draining
	// audio instead of returning. Use it to simulate a long response that is
	// still audible when an interruption arrives.
	Block bool

	// Started, if non-nil, receives a value each time Play begins.
	Started chan struct{}

	chunks    [][]byte
	playCalls int
	stopCalls int
}

// Play implements [audio.Player]. It copies every chunk into the recorded
// history until the channel closes or ctx is cancelled.
func (p *Player) Play(ctx context.Context, ch <-chan []byte) error {
	p.mu.Lock()
	p.playCalls++
	started := p.Started
	block := p.Block
	p.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}

	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				if block {
					<-ctx.Done()
					return ctx.Err()
				}
				p.mu.Lock()
				defer p.mu.Unlock()
				return p.PlayErr
			}
			cp := make([]byte, len(chunk))
			copy(cp, chunk)
			p.mu.Lock()
			p.chunks = append(p.chunks, cp)
			p.mu.Unlock()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop implements [audio.Player] and counts the call.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopCalls++
}

// Chunks returns a copy of every chunk played so far.
func (p *Player) Chunks() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.chunks))
	copy(out, p.chunks)
	return out
}

// PlayCount returns the number of Play calls.
func (p *Player) PlayCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playCalls
}

// StopCount returns the number of Stop calls.
func (p *Player) StopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopCalls
}

var _ audio.Player = (*Player)(nil)
