package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/jarvis/internal/conversation"
	"github.com/MrWong99/jarvis/internal/interrupt"
	"github.com/MrWong99/jarvis/internal/turn"
	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/provider/tts"
	"github.com/MrWong99/jarvis/pkg/provider/tts/native"
)

// ErrClosed is returned by a blocked [Conn.Play] or [Conn.Speak] when the
// connection goes away.
var ErrClosed = errors.New("ws: connection closed")

// ErrAckTimeout is returned when the client never acknowledged playback or
// speech.
var ErrAckTimeout = errors.New("ws: client did not acknowledge")

// Conn is the client side of one conversation. It implements [audio.Player]
// for server-synthesised audio and [native.Speaker] for replies rendered by
// the client's own voice.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	ackTimeout   time.Duration

	events chan ServerMessage
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan struct{}
}

func newConn(c *websocket.Conn, writeTimeout, ackTimeout time.Duration) *Conn {
	return &Conn{
		ws:           c,
		writeTimeout: writeTimeout,
		ackTimeout:   ackTimeout,
		events:       make(chan ServerMessage, 64),
		closed:       make(chan struct{}),
		pending:      make(map[uint64]chan struct{}),
	}
}

var (
	_ audio.Player   = (*Conn)(nil)
	_ native.Speaker = (*Conn)(nil)
)

// Play streams every chunk as a binary message, marks the end with
// "audio_end" and waits for the client's "playback_done". A stream without
// bytes (client-side speech) completes at once.
func (c *Conn) Play(ctx context.Context, stream <-chan []byte) error {
	sent := false
	for done := false; !done; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return ErrClosed
		case chunk, ok := <-stream:
			if !ok {
				done = true
				break
			}
			if len(chunk) == 0 {
				continue
			}
			if err := c.write(ctx, func(wctx context.Context) error {
				return c.ws.Write(wctx, websocket.MessageBinary, chunk)
			}); err != nil {
				return fmt.Errorf("ws: write audio: %w", err)
			}
			sent = true
		}
	}
	if !sent {
		return nil
	}

	id, ack := c.expect()
	defer c.forget(id)
	if err := c.send(ctx, ServerMessage{Type: TypeAudioEnd, ID: id}); err != nil {
		return err
	}
	return c.await(ctx, ack)
}

// Stop tells the client to silence its output. Safe to call at any time.
func (c *Conn) Stop() {
	select {
	case <-c.closed:
		return
	default:
	}
	if err := c.send(context.Background(), ServerMessage{Type: TypeStopAudio}); err != nil {
		slog.Debug("ws: stop audio", "error", err)
	}
}

// Speak asks the client to say text with its own synthesiser and waits for
// "speech_done".
func (c *Conn) Speak(ctx context.Context, text string, voice tts.VoiceProfile) error {
	id, ack := c.expect()
	defer c.forget(id)
	if err := c.send(ctx, ServerMessage{Type: TypeSpeak, ID: id, Text: text, Voice: voice.Name}); err != nil {
		return err
	}
	return c.await(ctx, ack)
}

// Events returns callbacks that mirror the conversation to the client.
func (c *Conn) Events() conversation.Events {
	return conversation.Events{
		OnTransition: func(t turn.Transition) {
			c.post(ServerMessage{Type: TypeState, State: t.To.String(), From: t.From.String(), Reason: t.Reason})
		},
		OnSubtitle: func(text string) {
			c.post(ServerMessage{Type: TypeSubtitle, Text: text})
		},
		OnInterrupt: func(ev interrupt.Event) {
			slog.Debug("ws: reply interrupted", "generation", ev.Generation, "reason", ev.Reason)
		},
		OnEnd: func(sessionID string) {
			c.flush()
			if err := c.send(context.Background(), ServerMessage{Type: TypeEnded, SessionID: sessionID}); err != nil {
				slog.Debug("ws: send ended", "session_id", sessionID, "error", err)
			}
		},
	}
}

// post queues an event for the writer. Events are dropped when the client
// cannot keep up.
func (c *Conn) post(m ServerMessage) {
	select {
	case c.events <- m:
	case <-c.closed:
	default:
		slog.Warn("ws: event dropped, client too slow", "type", m.Type)
	}
}

// writeEvents sends queued events until ctx is done. Pending events are
// flushed before it returns.
func (c *Conn) writeEvents(ctx context.Context) error {
	for {
		select {
		case m := <-c.events:
			if err := c.send(ctx, m); err != nil {
				return err
			}
		case <-ctx.Done():
			c.flush()
			return nil
		}
	}
}

func (c *Conn) flush() {
	for {
		select {
		case m := <-c.events:
			if err := c.send(context.Background(), m); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) send(ctx context.Context, m ServerMessage) error {
	err := c.write(ctx, func(wctx context.Context) error {
		return wsjson.Write(wctx, c.ws, m)
	})
	if err != nil {
		return fmt.Errorf("ws: write %s: %w", m.Type, err)
	}
	return nil
}

func (c *Conn) write(ctx context.Context, fn func(context.Context) error) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.writeTimeout)
	defer cancel()
	return fn(wctx)
}

func (c *Conn) expect() (uint64, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	ch := make(chan struct{})
	c.pending[c.nextID] = ch
	return c.nextID, ch
}

func (c *Conn) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// ack resolves the wait registered under id. Unknown ids are stale and
// ignored.
func (c *Conn) ack(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.pending[id]
	if ok {
		close(ch)
		delete(c.pending, id)
	}
	return ok
}

func (c *Conn) await(ctx context.Context, ack <-chan struct{}) error {
	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return ErrClosed
	case <-timer.C:
		return ErrAckTimeout
	}
}

func (c *Conn) markClosed() {
	c.once.Do(func() { close(c.closed) })
}
