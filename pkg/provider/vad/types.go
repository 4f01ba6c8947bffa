package vad

import "github.com/MrWong99/jarvis/pkg/audio/analysis"

// Event represents a voice activity detection result for a single frame.
type Event struct {
	// Type is the edge-aware detection result.
	Type EventType

	// Active is the binary decision: the confidence exceeded the activation score.
	Active bool

	// Confidence is the weighted criterion score in [0, 1] when the weights sum
	// to at most 1.
	Confidence float64

	// Features are the analysed features of the frame.
	Features analysis.FeatureVector

	// NoiseFloorDb, SpeechThresholdDb and SilenceThresholdDb describe the
	// adaptive thresholds after this frame was processed.
	NoiseFloorDb       float64
	SpeechThresholdDb  float64
	SilenceThresholdDb float64
}

// EventType enumerates VAD detection states.
type EventType int

const (
	// SpeechStart indicates speech has just begun.
	SpeechStart EventType = iota

	// SpeechContinue indicates ongoing speech.
	SpeechContinue

	// SpeechEnd indicates speech has just ended.
	SpeechEnd

	// Silence indicates no speech detected.
	Silence
)

// String returns a lowercase label for t.
func (t EventType) String() string {
	switch t {
	case SpeechStart:
		return "speech_start"
	case SpeechContinue:
		return "speech_continue"
	case SpeechEnd:
		return "speech_end"
	case Silence:
		return "silence"
	default:
		return "unknown"
	}
}

// Criteria are the four boolean inputs to the confidence score.
type Criteria struct {
	Energy          bool
	SpectralRange   bool
	VoiceLikelihood bool
	Temporal        bool
}

// Score returns the weighted sum of the criteria that hold. It is
// monotonically non-decreasing in each weight.
func Score(c Criteria, w Weights) float64 {
	var s float64
	if c.Energy {
		s += w.Energy
	}
	if c.SpectralRange {
		s += w.SpectralRange
	}
	if c.VoiceLikelihood {
		s += w.VoiceLikelihood
	}
	if c.Temporal {
		s += w.Temporal
	}
	return s
}
