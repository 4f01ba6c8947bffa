// Package analysis turns raw audio frames into the scalar features used for
// voice activity detection.
//
// [Analyzer.Analyze] is pure: it holds no per-stream state, never blocks and
// only fails on malformed input, which it reports as [ErrInvalidFrame]. The
// returned [FeatureVector] always has finite fields and a spectral rolloff
// that does not exceed the frame's Nyquist frequency.
package analysis

import (
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/jarvis/pkg/audio"
)

// ErrInvalidFrame is returned for frames that cannot be analysed: no samples,
// no spectrum, a non-positive sample rate, or non-finite values. It is fatal
// to that frame only; callers skip it and continue with the next one.
var ErrInvalidFrame = errors.New("analysis: invalid frame")

// epsilon keeps the dB conversion away from log10(0).
const epsilon = 1e-10

// rolloffFraction is the share of spectral energy below the rolloff frequency.
const rolloffFraction = 0.95

// Bands holds the fraction of spectral energy in each band. The three
// fractions sum to 1 when the frame has any energy, and are all 0 otherwise.
type Bands struct {
	Low  float64
	Mid  float64
	High float64
}

// FeatureVector is the per-frame feature set consumed by the VAD.
type FeatureVector struct {
	// RMS is the root-mean-square amplitude of the normalised samples.
	RMS float64

	// RMSDb is 20*log10(RMS + ε). Silence maps to roughly -200 dB, not -Inf.
	RMSDb float64

	// ZeroCrossingRate is the fraction of adjacent sample pairs whose sign
	// differs, in [0, 1].
	ZeroCrossingRate float64

	// SpectralCentroid is the energy-weighted mean frequency in Hz.
	SpectralCentroid float64

	// SpectralRolloff is the frequency in Hz below which 95 % of the spectral
	// energy lies. Always ≤ Nyquist.
	SpectralRolloff float64

	// Bands is the low/mid/high energy split.
	Bands Bands

	// VoiceRatio is the mid-band share of energy; it is high when the speech
	// band dominates rumble and hiss.
	VoiceRatio float64

	// Nyquist is half the frame's sample rate in Hz.
	Nyquist float64
}

// Config sets the band edges used for [Bands]. The defaults (300 Hz and
// 3400 Hz) bracket the telephone speech band.
type Config struct {
	// LowCutHz separates the low band from the mid band.
	LowCutHz float64

	// HighCutHz separates the mid band from the high band.
	HighCutHz float64
}

// DefaultConfig returns the default band edges.
func DefaultConfig() Config {
	return Config{LowCutHz: 300, HighCutHz: 3400}
}

// Analyzer computes [FeatureVector] values. The zero value is not usable; call
// [New]. An Analyzer is immutable and safe for concurrent use.
type Analyzer struct {
	cfg Config
}

// New returns an [Analyzer]. Zero or inverted band edges fall back to
// [DefaultConfig].
func New(cfg Config) *Analyzer {
	def := DefaultConfig()
	if cfg.LowCutHz <= 0 {
		cfg.LowCutHz = def.LowCutHz
	}
	if cfg.HighCutHz <= cfg.LowCutHz {
		cfg.HighCutHz = max(def.HighCutHz, cfg.LowCutHz*2)
	}
	return &Analyzer{cfg: cfg}
}

// Analyze derives the features of a single frame.
func (a *Analyzer) Analyze(frame audio.Frame) (FeatureVector, error) {
	if err := validate(frame); err != nil {
		return FeatureVector{}, err
	}

	fv := FeatureVector{Nyquist: frame.Nyquist()}
	fv.RMS, fv.ZeroCrossingRate = timeDomain(frame.Samples)
	fv.RMSDb = 20 * math.Log10(fv.RMS+epsilon)

	var (
		total    float64
		weighted float64
		low      float64
		mid      float64
		high     float64
	)
	energies := make([]float64, len(frame.Spectrum))
	for i, m := range frame.Spectrum {
		e := float64(m) * float64(m)
		energies[i] = e
		freq := frame.BinFrequency(i)
		total += e
		weighted += e * freq
		switch {
		case freq < a.cfg.LowCutHz:
			low += e
		case freq <= a.cfg.HighCutHz:
			mid += e
		default:
			high += e
		}
	}

	if total > 0 {
		fv.SpectralCentroid = weighted / total
		fv.Bands = Bands{Low: low / total, Mid: mid / total, High: high / total}
		fv.VoiceRatio = fv.Bands.Mid

		target := rolloffFraction * total
		var cum float64
		for i, e := range energies {
			cum += e
			if cum >= target {
				fv.SpectralRolloff = frame.BinFrequency(i)
				break
			}
		}
	}
	fv.SpectralRolloff = min(fv.SpectralRolloff, fv.Nyquist)
	return fv, nil
}

// timeDomain returns the RMS and zero-crossing rate of samples, clamping each
// sample into [-1, 1] first.
func timeDomain(samples []float32) (rms, zcr float64) {
	var sum float64
	crossings := 0
	prev := clamp(float64(samples[0]))
	for i, s := range samples {
		v := clamp(float64(s))
		sum += v * v
		if i > 0 && (v >= 0) != (prev >= 0) {
			crossings++
		}
		prev = v
	}
	rms = math.Sqrt(sum / float64(len(samples)))
	if len(samples) > 1 {
		zcr = float64(crossings) / float64(len(samples)-1)
	}
	return rms, zcr
}

func clamp(v float64) float64 {
	return max(-1, min(1, v))
}

func validate(frame audio.Frame) error {
	switch {
	case frame.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %d", ErrInvalidFrame, frame.SampleRate)
	case len(frame.Samples) == 0:
		return fmt.Errorf("%w: no time-domain samples", ErrInvalidFrame)
	case len(frame.Spectrum) == 0:
		return fmt.Errorf("%w: no frequency bins", ErrInvalidFrame)
	}
	for i, s := range frame.Samples {
		if !finite(float64(s)) {
			return fmt.Errorf("%w: sample %d is not finite", ErrInvalidFrame, i)
		}
	}
	for i, m := range frame.Spectrum {
		if !finite(float64(m)) || m < 0 {
			return fmt.Errorf("%w: bin %d magnitude %v", ErrInvalidFrame, i, m)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
