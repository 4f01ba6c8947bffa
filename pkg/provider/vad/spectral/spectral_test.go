package spectral_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/audio/analysis"
	"github.com/MrWong99/jarvis/pkg/provider/vad"
	"github.com/MrWong99/jarvis/pkg/provider/vad/spectral"
)

const sampleRate = 16000

// tone builds a frame holding a sine of the given frequency whose RMS level is
// approximately db dBFS.
func tone(hz, db float64) audio.Frame {
	amp := math.Pow(10, db/20) * math.Sqrt2
	samples := make([]float32, 512)
	for i := range samples {
		samples[i] = float32(amp * math.Sin(2*math.Pi*hz*float64(i)/sampleRate))
	}
	return audio.Frame{Samples: samples, Spectrum: audio.MagnitudeSpectrum(samples), SampleRate: sampleRate}
}

func newSession(t *testing.T, cfg vad.Config) vad.SessionHandle {
	t.Helper()
	s, err := spectral.New().NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func process(t *testing.T, s vad.SessionHandle, f audio.Frame) vad.Event {
	t.Helper()
	ev, err := s.ProcessFrame(f)
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	return ev
}

func TestProcessFrame_SpeechEdges(t *testing.T) {
	t.Parallel()

	s := newSession(t, vad.DefaultConfig())

	if ev := process(t, s, tone(1000, -70)); ev.Active || ev.Type != vad.Silence {
		t.Fatalf("quiet frame: got %+v, want inactive silence", ev.Type)
	}

	ev := process(t, s, tone(1000, -15))
	if !ev.Active || ev.Type != vad.SpeechStart {
		t.Fatalf("loud voiced frame: active=%v type=%v, want speech_start", ev.Active, ev.Type)
	}
	if ev.Confidence <= 0.6 {
		t.Errorf("Confidence = %v, want > 0.6", ev.Confidence)
	}

	if ev := process(t, s, tone(1000, -15)); ev.Type != vad.SpeechContinue {
		t.Errorf("second voiced frame: type=%v, want speech_continue", ev.Type)
	}

	silence := audio.Frame{Samples: make([]float32, 512), Spectrum: make([]float32, 256), SampleRate: sampleRate}
	if ev := process(t, s, silence); ev.Active || ev.Type != vad.SpeechEnd {
		t.Errorf("silent frame: active=%v type=%v, want speech_end", ev.Active, ev.Type)
	}
}

func TestProcessFrame_TemporalConsistencyAddsConfidence(t *testing.T) {
	t.Parallel()

	s := newSession(t, vad.DefaultConfig())
	first := process(t, s, tone(1000, -15))
	process(t, s, tone(1000, -15))
	third := process(t, s, tone(1000, -15))

	if math.Abs(first.Confidence-0.9) > 1e-9 {
		t.Errorf("first frame confidence = %v, want 0.9", first.Confidence)
	}
	if math.Abs(third.Confidence-1.0) > 1e-9 {
		t.Errorf("third frame confidence = %v, want 1.0", third.Confidence)
	}
}

func TestProcessFrame_RejectsLoudHiss(t *testing.T) {
	t.Parallel()

	s := newSession(t, vad.DefaultConfig())
	for i := range 5 {
		ev := process(t, s, tone(7000, -10))
		if ev.Active {
			t.Fatalf("frame %d: hiss classified as speech (confidence %v)", i, ev.Confidence)
		}
	}
}

func TestProcessFrame_NoiseFloorAdapts(t *testing.T) {
	t.Parallel()

	s := newSession(t, vad.DefaultConfig())
	var ev vad.Event
	for range 1000 {
		ev = process(t, s, tone(1000, -55))
	}
	if ev.NoiseFloorDb < -56 || ev.NoiseFloorDb > -54 {
		t.Errorf("NoiseFloorDb = %v, want ~-55", ev.NoiseFloorDb)
	}
	if math.Abs(ev.SpeechThresholdDb-(ev.NoiseFloorDb+20)) > 1e-9 {
		t.Errorf("SpeechThresholdDb = %v, want floor+20", ev.SpeechThresholdDb)
	}
	if math.Abs(ev.SilenceThresholdDb-(ev.NoiseFloorDb+5)) > 1e-9 {
		t.Errorf("SilenceThresholdDb = %v, want floor+5", ev.SilenceThresholdDb)
	}
	// -38 dB cleared the initial -40 dB threshold but not the adapted one.
	if ev := process(t, s, tone(1000, -38)); ev.Active {
		t.Errorf("-38 dB frame active after floor rose to %v", ev.NoiseFloorDb)
	}
}

func TestProcessFrame_FloorHoldsDuringSpeech(t *testing.T) {
	t.Parallel()

	s := newSession(t, vad.DefaultConfig())
	var ev vad.Event
	for range 200 {
		ev = process(t, s, tone(1000, -15))
	}
	if ev.NoiseFloorDb != -60 {
		t.Errorf("NoiseFloorDb = %v, want unchanged -60 while speaking", ev.NoiseFloorDb)
	}
}

func TestProcessFrame_InvalidFrameDegrades(t *testing.T) {
	t.Parallel()

	s := newSession(t, vad.DefaultConfig())
	process(t, s, tone(1000, -15))

	ev, err := s.ProcessFrame(audio.Frame{SampleRate: sampleRate})
	if !errors.Is(err, analysis.ErrInvalidFrame) {
		t.Fatalf("err = %v, want ErrInvalidFrame", err)
	}
	if ev.Active {
		t.Error("invalid frame reported active")
	}

	// The session keeps working afterwards.
	if ev := process(t, s, tone(1000, -15)); !ev.Active {
		t.Error("valid frame after invalid one not active")
	}
}

func TestProcessFrame_SampleRateMismatch(t *testing.T) {
	t.Parallel()

	cfg := vad.DefaultConfig()
	cfg.SampleRate = 48000
	s := newSession(t, cfg)
	if _, err := s.ProcessFrame(tone(1000, -15)); !errors.Is(err, analysis.ErrInvalidFrame) {
		t.Errorf("err = %v, want ErrInvalidFrame", err)
	}
}

func TestSession_ResetAndClose(t *testing.T) {
	t.Parallel()

	s := newSession(t, vad.DefaultConfig())
	for range 300 {
		process(t, s, tone(1000, -55))
	}
	s.Reset()
	if ev := process(t, s, tone(1000, -70)); ev.NoiseFloorDb > -59 {
		t.Errorf("NoiseFloorDb after Reset = %v, want ~-60", ev.NoiseFloorDb)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := s.ProcessFrame(tone(1000, -15)); !errors.Is(err, vad.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestNewSession_InvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := vad.DefaultConfig()
	cfg.HistoryMinActive = 9
	cfg.Weights.Energy = -1
	if _, err := spectral.New().NewSession(cfg); err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestActivationScoreIsTunable(t *testing.T) {
	t.Parallel()

	cfg := vad.DefaultConfig()
	cfg.ActivationScore = 0.95
	s := newSession(t, cfg)
	if ev := process(t, s, tone(1000, -15)); ev.Active {
		t.Errorf("first frame active with activation score 0.95 (confidence %v)", ev.Confidence)
	}
}
