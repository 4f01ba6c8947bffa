package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/jarvis/pkg/provider/tts"
)

func TestBuildWSMessage_WithVoiceSettings(t *testing.T) {
	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	data, err := buildWSMessage("Hello world", vs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg["text"] != "Hello world" {
		t.Errorf("text = %v", msg["text"])
	}
	settings, ok := msg["voice_settings"].(map[string]any)
	if !ok {
		t.Fatal("expected voice_settings object")
	}
	if settings["stability"] != 0.5 {
		t.Errorf("stability = %v, want 0.5", settings["stability"])
	}
	if _, ok := settings["speed"]; ok {
		t.Error("speed should be omitted when zero")
	}
}

func TestBuildWSMessage_FlushCommand(t *testing.T) {
	data, err := buildWSMessage("", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"text":""}` {
		t.Errorf("flush payload = %s", data)
	}
}

func TestBuildURLForVoice(t *testing.T) {
	got := buildURLForVoice("wss://api.elevenlabs.io", "voice123", "eleven_flash_v2_5", "pcm_16000")
	want := "wss://api.elevenlabs.io/v1/text-to-speech/voice123/stream-input?model_id=eleven_flash_v2_5&output_format=pcm_16000"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestNew_DefaultsAndOptions(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel || p.outputFormat != defaultOutputFmt || p.endpoint != defaultEndpoint {
		t.Errorf("unexpected defaults: %+v", p)
	}
	if got := p.Capabilities().SampleRate; got != 16000 {
		t.Errorf("SampleRate = %d, want 16000", got)
	}

	p, _ = New("key", WithModel("m"), WithOutputFormat("pcm_24000"), WithEndpoint("ws://x/"), WithDefaultVoice("v"))
	if p.model != "m" || p.endpoint != "ws://x" || p.defaultVoice != "v" {
		t.Errorf("options not applied: %+v", p)
	}
	if got := p.Capabilities().SampleRate; got != 24000 {
		t.Errorf("SampleRate = %d, want 24000", got)
	}
}

func TestSynthesize_StreamsAudio(t *testing.T) {
	type captured struct{ path, key, text string }
	seen := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		var boi boiMessage
		if err := wsjson.Read(ctx, conn, &boi); err != nil {
			return
		}
		var text, flush textMessage
		_ = wsjson.Read(ctx, conn, &text)
		_ = wsjson.Read(ctx, conn, &flush)
		seen <- captured{path: r.URL.Path, key: boi.XiAPIKey, text: text.Text}

		for _, chunk := range []string{"abc", "def"} {
			_ = wsjson.Write(ctx, conn, audioResponse{Audio: base64.StdEncoding.EncodeToString([]byte(chunk))})
		}
		_ = wsjson.Write(ctx, conn, audioResponse{IsFinal: true})
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	defer srv.Close()

	p, _ := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := p.Synthesize(ctx, "Hello there.", tts.VoiceProfile{ID: "v1"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	var got []string
	for chunk := range ch {
		got = append(got, string(chunk))
	}
	if strings.Join(got, ",") != "abc,def" {
		t.Errorf("audio = %v, want [abc def]", got)
	}
	c := <-seen
	if c.key != "secret" {
		t.Errorf("api key = %q", c.key)
	}
	if c.text != "Hello there. " {
		t.Errorf("text = %q", c.text)
	}
	if !strings.Contains(c.path, "/v1/text-to-speech/v1/stream-input") {
		t.Errorf("path = %q", c.path)
	}
}

func TestSynthesize_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := New("bad", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if _, err := p.Synthesize(context.Background(), "hi", tts.VoiceProfile{}); err == nil {
		t.Fatal("expected dial error")
	}
}
