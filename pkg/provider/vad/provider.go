// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine combines per-frame signal features into a confidence score and a
// binary speech/silence decision, and surfaces it as a stateful, per-stream
// session. Each session maintains its own state (energy ring buffer, adaptive
// noise floor) so that multiple concurrent audio streams can be processed
// independently.
//
// ProcessFrame is synchronous. It returns immediately with a detection result
// and never performs network or blocking calls, so it can run on the
// fixed-rate analysis tick that gates turn-taking.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import (
	"errors"
	"fmt"

	"github.com/MrWong99/jarvis/pkg/audio"
)

// Weights are the contributions of each boolean criterion to the confidence
// score. The defaults sum to 1 so that the score stays in [0, 1].
type Weights struct {
	// Energy rewards frames whose level is above the adaptive speech threshold.
	Energy float64 `yaml:"energy"`

	// SpectralRange rewards frames whose centroid and zero-crossing rate fall in
	// the ranges typical of voiced speech.
	SpectralRange float64 `yaml:"spectral_range"`

	// VoiceLikelihood rewards frames whose speech-band energy ratio is high.
	VoiceLikelihood float64 `yaml:"voice_likelihood"`

	// Temporal rewards frames preceded by a run of energetic frames.
	Temporal float64 `yaml:"temporal"`
}

// Config holds the parameters for a VAD session. Every threshold and weight is
// configuration so that detection can be tuned per room and per test.
type Config struct {
	// SampleRate is the expected sample rate in Hz. Zero accepts any rate.
	SampleRate int `yaml:"sample_rate"`

	// Weights of the four criteria.
	Weights Weights `yaml:"weights"`

	// ActivationScore is the score a frame must exceed to count as speech.
	// Typical: 0.6.
	ActivationScore float64 `yaml:"activation_score"`

	// CentroidMinHz and CentroidMaxHz bound the spectral centroid of speech.
	CentroidMinHz float64 `yaml:"centroid_min_hz"`
	CentroidMaxHz float64 `yaml:"centroid_max_hz"`

	// ZCRMin and ZCRMax bound the zero-crossing rate of speech.
	ZCRMin float64 `yaml:"zcr_min"`
	ZCRMax float64 `yaml:"zcr_max"`

	// VoiceRatioMin is the speech-band energy share above which the voice
	// likelihood criterion holds.
	VoiceRatioMin float64 `yaml:"voice_ratio_min"`

	// InitialNoiseFloorDb seeds the adaptive noise floor.
	InitialNoiseFloorDb float64 `yaml:"initial_noise_floor_db"`

	// NoiseSmoothing is the weight kept by the old noise floor on each update
	// (noiseFloor = s*noiseFloor + (1-s)*level). Typical: 0.99.
	NoiseSmoothing float64 `yaml:"noise_smoothing"`

	// SpeechOffsetDb is added to the noise floor to obtain the speech threshold.
	SpeechOffsetDb float64 `yaml:"speech_offset_db"`

	// SilenceOffsetDb is added to the noise floor to obtain the silence threshold.
	SilenceOffsetDb float64 `yaml:"silence_offset_db"`

	// NoiseGateDb is subtracted from the speech threshold; frames below the
	// result update the noise floor.
	NoiseGateDb float64 `yaml:"noise_gate_db"`

	// HistorySize is the length of the energy ring buffer and HistoryMinActive
	// the number of its entries that must be above threshold for temporal
	// consistency.
	HistorySize      int `yaml:"history_size"`
	HistoryMinActive int `yaml:"history_min_active"`
}

// DefaultConfig returns empirically chosen defaults. They are starting points
// for tuning against real recordings, not invariants.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Energy:          0.4,
			SpectralRange:   0.3,
			VoiceLikelihood: 0.2,
			Temporal:        0.1,
		},
		ActivationScore:     0.6,
		CentroidMinHz:       300,
		CentroidMaxHz:       4000,
		ZCRMin:              0.1,
		ZCRMax:              0.7,
		VoiceRatioMin:       0.3,
		InitialNoiseFloorDb: -60,
		NoiseSmoothing:      0.99,
		SpeechOffsetDb:      20,
		SilenceOffsetDb:     5,
		NoiseGateDb:         10,
		HistorySize:         5,
		HistoryMinActive:    3,
	}
}

// Validate reports every invalid field of cfg as a joined error.
func (c Config) Validate() error {
	var errs []error
	w := c.Weights
	if w.Energy < 0 || w.SpectralRange < 0 || w.VoiceLikelihood < 0 || w.Temporal < 0 {
		errs = append(errs, errors.New("vad: weights must be non-negative"))
	}
	if c.ActivationScore < 0 || c.ActivationScore > 1 {
		errs = append(errs, fmt.Errorf("vad: activation_score %v out of range [0, 1]", c.ActivationScore))
	}
	if c.CentroidMinHz > c.CentroidMaxHz {
		errs = append(errs, fmt.Errorf("vad: centroid_min_hz %v > centroid_max_hz %v", c.CentroidMinHz, c.CentroidMaxHz))
	}
	if c.ZCRMin > c.ZCRMax {
		errs = append(errs, fmt.Errorf("vad: zcr_min %v > zcr_max %v", c.ZCRMin, c.ZCRMax))
	}
	if c.NoiseSmoothing < 0 || c.NoiseSmoothing >= 1 {
		errs = append(errs, fmt.Errorf("vad: noise_smoothing %v out of range [0, 1)", c.NoiseSmoothing))
	}
	if c.HistorySize <= 0 {
		errs = append(errs, fmt.Errorf("vad: history_size %d must be positive", c.HistorySize))
	}
	if c.HistoryMinActive <= 0 || c.HistoryMinActive > c.HistorySize {
		errs = append(errs, fmt.Errorf("vad: history_min_active %d out of range [1, %d]", c.HistoryMinActive, c.HistorySize))
	}
	return errors.Join(errs...)
}

// SessionHandle represents an active VAD session for a single audio stream. It is
// an interface so that test code can supply mock implementations without a live
// engine. Each session maintains its own detection state; Reset clears this state
// without closing the session.
type SessionHandle interface {
	// ProcessFrame analyses a single frame and returns the detection result.
	// Malformed frames never panic: the returned event is inactive and the
	// error wraps [analysis.ErrInvalidFrame]. Callers skip the frame and carry on.
	//
	// This method is designed to be called synchronously in the analysis tick;
	// it must not block.
	ProcessFrame(frame audio.Frame) (Event, error)

	// Reset clears all accumulated detection state (ring buffer, noise floor)
	// without closing the session.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// ProcessFrame returns [ErrClosed]. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// ErrClosed is returned by ProcessFrame after the session has been closed.
var ErrClosed = errors.New("vad: session closed")

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may call
// NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The
	// session is immediately ready to accept frames. Returns an error if the
	// configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
