package analysis_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/audio/analysis"
)

func sine(hz float64, n, sampleRate int, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*hz*float64(i)/float64(sampleRate)))
	}
	return out
}

func toneFrame(hz float64, amp float64) audio.Frame {
	samples := sine(hz, 1024, 16000, amp)
	return audio.Frame{
		Samples:    samples,
		Spectrum:   audio.MagnitudeSpectrum(samples),
		SampleRate: 16000,
	}
}

func TestAnalyze_Tone(t *testing.T) {
	t.Parallel()

	a := analysis.New(analysis.DefaultConfig())
	fv, err := a.Analyze(toneFrame(1000, 0.5))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	// RMS of a sine with amplitude A is A/sqrt(2).
	if want := 0.5 / math.Sqrt2; math.Abs(fv.RMS-want) > 0.01 {
		t.Errorf("RMS = %v, want ~%v", fv.RMS, want)
	}
	if fv.RMSDb > -8 || fv.RMSDb < -10 {
		t.Errorf("RMSDb = %v, want ~-9", fv.RMSDb)
	}
	// 1 kHz at 16 kHz crosses zero twice per 16 samples.
	if math.Abs(fv.ZeroCrossingRate-0.125) > 0.01 {
		t.Errorf("ZeroCrossingRate = %v, want ~0.125", fv.ZeroCrossingRate)
	}
	if math.Abs(fv.SpectralCentroid-1000) > 100 {
		t.Errorf("SpectralCentroid = %v, want ~1000", fv.SpectralCentroid)
	}
	if fv.VoiceRatio < 0.9 {
		t.Errorf("VoiceRatio = %v, want > 0.9 for an in-band tone", fv.VoiceRatio)
	}
	if fv.Nyquist != 8000 {
		t.Errorf("Nyquist = %v, want 8000", fv.Nyquist)
	}
}

func TestAnalyze_BandSplit(t *testing.T) {
	t.Parallel()

	a := analysis.New(analysis.DefaultConfig())
	tests := []struct {
		name string
		hz   float64
		band func(analysis.Bands) float64
	}{
		{name: "rumble", hz: 100, band: func(b analysis.Bands) float64 { return b.Low }},
		{name: "speech", hz: 1200, band: func(b analysis.Bands) float64 { return b.Mid }},
		{name: "hiss", hz: 6000, band: func(b analysis.Bands) float64 { return b.High }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fv, err := a.Analyze(toneFrame(tt.hz, 0.8))
			if err != nil {
				t.Fatalf("Analyze: %v", err)
			}
			if got := tt.band(fv.Bands); got < 0.8 {
				t.Errorf("band share = %v, want > 0.8 (bands %+v)", got, fv.Bands)
			}
			sum := fv.Bands.Low + fv.Bands.Mid + fv.Bands.High
			if math.Abs(sum-1) > 1e-9 {
				t.Errorf("band shares sum to %v, want 1", sum)
			}
		})
	}
}

func TestAnalyze_Silence(t *testing.T) {
	t.Parallel()

	a := analysis.New(analysis.DefaultConfig())
	fv, err := a.Analyze(audio.Frame{
		Samples:    make([]float32, 256),
		Spectrum:   make([]float32, 128),
		SampleRate: 16000,
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if math.IsInf(fv.RMSDb, 0) || math.IsNaN(fv.RMSDb) {
		t.Fatalf("RMSDb = %v, want finite", fv.RMSDb)
	}
	if fv.RMSDb > -150 {
		t.Errorf("RMSDb = %v, want very low", fv.RMSDb)
	}
	if fv.SpectralCentroid != 0 || fv.SpectralRolloff != 0 || fv.VoiceRatio != 0 {
		t.Errorf("expected zero spectral features for silence, got %+v", fv)
	}
}

func TestAnalyze_ClampsOutOfRange(t *testing.T) {
	t.Parallel()

	a := analysis.New(analysis.DefaultConfig())
	fv, err := a.Analyze(audio.Frame{
		Samples:    []float32{4, -4, 4, -4},
		Spectrum:   []float32{0, 1},
		SampleRate: 8000,
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if fv.RMS != 1 {
		t.Errorf("RMS = %v, want 1 after clamping", fv.RMS)
	}
	if fv.ZeroCrossingRate != 1 {
		t.Errorf("ZeroCrossingRate = %v, want 1", fv.ZeroCrossingRate)
	}
}

func TestAnalyze_RolloffNeverExceedsNyquist(t *testing.T) {
	t.Parallel()

	a := analysis.New(analysis.DefaultConfig())
	for _, rate := range []int{8000, 16000, 44100, 48000} {
		spectrum := make([]float32, 64)
		for i := range spectrum {
			spectrum[i] = 1
		}
		spectrum[len(spectrum)-1] = 100
		fv, err := a.Analyze(audio.Frame{
			Samples:    []float32{0.1, -0.1},
			Spectrum:   spectrum,
			SampleRate: rate,
		})
		if err != nil {
			t.Fatalf("rate %d: Analyze: %v", rate, err)
		}
		if fv.SpectralRolloff > fv.Nyquist {
			t.Errorf("rate %d: rolloff %v > Nyquist %v", rate, fv.SpectralRolloff, fv.Nyquist)
		}
		if fv.SpectralRolloff < fv.SpectralCentroid {
			t.Errorf("rate %d: rolloff %v below centroid %v for a top-heavy spectrum", rate, fv.SpectralRolloff, fv.SpectralCentroid)
		}
	}
}

func TestAnalyze_InvalidFrame(t *testing.T) {
	t.Parallel()

	a := analysis.New(analysis.DefaultConfig())
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	tests := []struct {
		name  string
		frame audio.Frame
	}{
		{name: "empty", frame: audio.Frame{SampleRate: 16000}},
		{name: "no spectrum", frame: audio.Frame{Samples: []float32{0}, SampleRate: 16000}},
		{name: "no samples", frame: audio.Frame{Spectrum: []float32{0}, SampleRate: 16000}},
		{name: "zero rate", frame: audio.Frame{Samples: []float32{0}, Spectrum: []float32{0}}},
		{name: "nan sample", frame: audio.Frame{Samples: []float32{nan}, Spectrum: []float32{0}, SampleRate: 16000}},
		{name: "inf bin", frame: audio.Frame{Samples: []float32{0}, Spectrum: []float32{inf}, SampleRate: 16000}},
		{name: "negative bin", frame: audio.Frame{Samples: []float32{0}, Spectrum: []float32{-1}, SampleRate: 16000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Analyze(tt.frame)
			if !errors.Is(err, analysis.ErrInvalidFrame) {
				t.Errorf("err = %v, want ErrInvalidFrame", err)
			}
		})
	}
}

func TestNew_FixesInvertedBands(t *testing.T) {
	t.Parallel()

	a := analysis.New(analysis.Config{LowCutHz: 500, HighCutHz: 100})
	fv, err := a.Analyze(toneFrame(700, 0.5))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if fv.Bands.Mid < 0.8 {
		t.Errorf("Mid = %v, want 700 Hz inside the repaired mid band", fv.Bands.Mid)
	}
}
