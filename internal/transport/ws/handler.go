package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/jarvis/internal/conversation"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/turn"
	"github.com/MrWong99/jarvis/pkg/audio"
)

// Opener starts the conversation for a new connection. hello carries the
// user and the session the client asked to continue; both may be empty.
type Opener func(ctx context.Context, c *Conn, hello ClientMessage) (*conversation.Actor, error)

// Config tunes the handler.
type Config struct {
	// OriginPatterns are the accepted cross-origin hosts.
	OriginPatterns []string

	// ReadLimit caps the size of one client message in bytes.
	ReadLimit int64

	// HelloTimeout bounds the wait for the client's hello.
	HelloTimeout time.Duration

	// WriteTimeout bounds every single write.
	WriteTimeout time.Duration

	// AckTimeout bounds the wait for playback_done and speech_done.
	AckTimeout time.Duration

	// SampleRate is assumed for binary PCM frames when hello names none.
	SampleRate int

	// Metrics, when set, counts open connections.
	Metrics *observe.Metrics
}

func (c Config) withDefaults() Config {
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	if c.HelloTimeout <= 0 {
		c.HelloTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 2 * time.Minute
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	return c
}

// Handler upgrades HTTP requests and runs one conversation per connection.
type Handler struct {
	cfg  Config
	open Opener
	now  func() time.Time
}

// NewHandler returns a Handler that starts conversations with open.
func NewHandler(open Opener, cfg Config) *Handler {
	return &Handler{cfg: cfg.withDefaults(), open: open, now: time.Now}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.cfg.OriginPatterns})
	if err != nil {
		slog.Warn("ws: accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(h.cfg.ReadLimit)
	if m := h.cfg.Metrics; m != nil {
		m.Connections.Add(r.Context(), 1)
		defer m.Connections.Add(context.WithoutCancel(r.Context()), -1)
	}

	ctx, span := observe.StartSpan(r.Context(), "ws.conversation")
	defer span.End()

	if err := h.serve(ctx, conn); err != nil {
		slog.Info("ws: connection closed", "remote", r.RemoteAddr, "error", err)
		if errors.Is(err, errBadHello) {
			_ = conn.Close(websocket.StatusPolicyViolation, "expected hello")
			return
		}
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn) error {
	hello, err := h.readHello(ctx, conn)
	if err != nil {
		return err
	}
	rate := hello.SampleRate
	if rate <= 0 {
		rate = h.cfg.SampleRate
	}

	c := newConn(conn, h.cfg.WriteTimeout, h.cfg.AckTimeout)
	defer c.markClosed()

	actor, err := h.open(ctx, c, hello)
	if err != nil {
		_ = c.send(ctx, ServerMessage{Type: TypeError, Message: "could not start conversation"})
		return fmt.Errorf("ws: open conversation: %w", err)
	}
	resumed := hello.SessionID != "" && hello.SessionID == actor.SessionID()
	if err := c.send(ctx, ServerMessage{Type: TypeSession, SessionID: actor.SessionID(), Resumed: resumed}); err != nil {
		return err
	}
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("session_id", actor.SessionID()), attribute.Bool("resumed", resumed))
	observe.Logger(ctx).Info("ws: conversation started", "session_id", actor.SessionID(), "resumed", resumed, "sample_rate", rate)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.writeEvents(gctx) })
	g.Go(func() error { return actor.Run(gctx) })
	g.Go(func() error {
		err := h.readLoop(gctx, c, actor, rate)
		c.markClosed()
		return err
	})
	g.Go(func() error {
		select {
		case <-actor.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "conversation ended")
			return errEnded
		case <-gctx.Done():
			return nil
		}
	})

	err = g.Wait()
	slog.Info("ws: conversation finished", "session_id", actor.SessionID())
	if errors.Is(err, errEnded) || isClosure(err) {
		return nil
	}
	return err
}

var (
	errEnded    = errors.New("conversation ended")
	errBadHello = errors.New("ws: expected hello")
)

func isClosure(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, context.Canceled)
}

func (h *Handler) readHello(ctx context.Context, conn *websocket.Conn) (ClientMessage, error) {
	hctx, cancel := context.WithTimeout(ctx, h.cfg.HelloTimeout)
	defer cancel()
	var m ClientMessage
	if err := wsjson.Read(hctx, conn, &m); err != nil {
		return m, fmt.Errorf("ws: read hello: %w", err)
	}
	if m.Type != TypeHello {
		return m, fmt.Errorf("%w, got %q", errBadHello, m.Type)
	}
	return m, nil
}

// readLoop dispatches client messages to the actor until the connection
// fails or ctx is done.
func (h *Handler) readLoop(ctx context.Context, c *Conn, actor *conversation.Actor, rate int) error {
	var pcmSamples int64
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			select {
			case <-actor.Done():
				return nil
			default:
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if typ == websocket.MessageBinary {
			ts := time.Duration(pcmSamples) * time.Second / time.Duration(rate)
			f, err := audio.FromPCM16(data, rate, ts)
			if err != nil {
				slog.Debug("ws: bad pcm frame", "session_id", actor.SessionID(), "error", err)
				continue
			}
			pcmSamples += int64(len(f.Samples))
			actor.PushFrame(f)
			continue
		}

		var m ClientMessage
		if err := json.Unmarshal(data, &m); err != nil {
			slog.Debug("ws: bad message", "session_id", actor.SessionID(), "error", err)
			continue
		}
		h.dispatch(c, actor, m, rate)
	}
}

func (h *Handler) dispatch(c *Conn, actor *conversation.Actor, m ClientMessage, rate int) {
	switch m.Type {
	case TypeFrame:
		sr := m.SampleRate
		if sr <= 0 {
			sr = rate
		}
		actor.PushFrame(audio.FromAnalyserBytes(m.TimeDomain, m.Frequency, sr, time.Duration(m.TimestampMS)*time.Millisecond))
	case TypeTranscript:
		now := h.now()
		actor.PushTranscript(turn.Utterance{Text: m.Text, IsFinal: m.Final, End: now})
	case TypeCommand:
		switch conversation.Command(m.Command) {
		case conversation.CommandForceStop:
			actor.ForceStop()
		case conversation.CommandEnd:
			actor.EndConversation()
		default:
			c.post(ServerMessage{Type: TypeError, Message: "unknown command " + m.Command})
		}
	case TypePlaybackDone, TypeSpeechDone:
		if !c.ack(m.ID) {
			slog.Debug("ws: stale acknowledgement", "session_id", actor.SessionID(), "id", m.ID)
		}
	case TypeHello:
	default:
		c.post(ServerMessage{Type: TypeError, Message: "unknown message type " + m.Type})
	}
}
