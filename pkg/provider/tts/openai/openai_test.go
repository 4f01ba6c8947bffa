package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/jarvis/pkg/provider/tts"
)

func TestNew_MissingAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestSynthesize_StreamsPCM(t *testing.T) {
	pcm := bytes.Repeat([]byte{1, 2}, chunkBytes) // two full chunks
	bodies := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/speech") {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		bodies <- body
		w.Header().Set("Content-Type", "audio/pcm")
		_, _ = w.Write(pcm)
	}))
	defer srv.Close()

	p, err := New("sk-test", WithBaseURL(srv.URL+"/v1/"), WithVoice("nova"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch, err := p.Synthesize(context.Background(), "Good evening.", tts.VoiceProfile{SpeedFactor: 1.2})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	var got []byte
	chunks := 0
	for c := range ch {
		chunks++
		got = append(got, c...)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("received %d bytes, want %d", len(got), len(pcm))
	}
	if chunks != 2 {
		t.Errorf("chunks = %d, want 2", chunks)
	}

	body := <-bodies
	if body["input"] != "Good evening." || body["voice"] != "nova" || body["response_format"] != "pcm" {
		t.Errorf("unexpected request body: %v", body)
	}
	if body["speed"] != 1.2 {
		t.Errorf("speed = %v, want 1.2", body["speed"])
	}
}

func TestSynthesize_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, _ := New("sk-test", WithBaseURL(srv.URL+"/v1/"))
	if _, err := p.Synthesize(context.Background(), "hi", tts.VoiceProfile{}); err == nil {
		t.Fatal("expected error for 429 response")
	}
}

func TestStreamBody_DropsOddTrailingByte(t *testing.T) {
	ch := make(chan []byte, 4)
	streamBody(context.Background(), bytes.NewReader([]byte{1, 2, 3}), ch)
	close(ch)
	var got []byte
	for c := range ch {
		got = append(got, c...)
	}
	if !bytes.Equal(got, []byte{1, 2}) {
		t.Errorf("got %v, want [1 2]", got)
	}
}

func TestCapabilities(t *testing.T) {
	p, _ := New("sk-test")
	if c := p.Capabilities(); c.SampleRate != 24000 || c.ClientSide {
		t.Errorf("Capabilities = %+v", c)
	}
}
