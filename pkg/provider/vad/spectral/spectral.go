// Package spectral implements [vad.Engine] with a weighted multi-criterion
// detector over signal features.
//
// Each frame is scored on four criteria: energy above an adaptive speech
// threshold, spectral centroid and zero-crossing rate inside the voiced-speech
// range, speech-band energy share, and temporal consistency over a short ring
// buffer of recent energy decisions. The frame is active when the weighted
// score exceeds [vad.Config.ActivationScore].
//
// The speech threshold floats on an adaptive noise floor that is smoothed only
// during frames clearly below it, so detection keeps working in loud and quiet
// rooms alike. While a speech segment is open the energy criterion uses the
// lower silence threshold, giving the decision hysteresis.
package spectral

import (
	"fmt"
	"sync"

	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/audio/analysis"
	"github.com/MrWong99/jarvis/pkg/provider/vad"
)

// Engine creates spectral VAD sessions. It is safe for concurrent use.
type Engine struct {
	analyzer *analysis.Analyzer
}

// Option is a functional option for [New].
type Option func(*Engine)

// WithAnalyzer replaces the default feature analyser.
func WithAnalyzer(a *analysis.Analyzer) Option {
	return func(e *Engine) { e.analyzer = a }
}

// New returns an [Engine] using the default band edges unless overridden.
func New(opts ...Option) *Engine {
	e := &Engine{analyzer: analysis.New(analysis.DefaultConfig())}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("spectral: %w", err)
	}
	s := &Session{cfg: cfg, analyzer: e.analyzer}
	s.resetLocked()
	return s, nil
}

var _ vad.Engine = (*Engine)(nil)

// Session is the per-stream detector state. Its methods are safe for
// concurrent use, although a session is normally owned by a single analysis
// tick.
type Session struct {
	cfg      vad.Config
	analyzer *analysis.Analyzer

	mu         sync.Mutex
	closed     bool
	active     bool
	noiseFloor float64
	history    []bool
	next       int
}

// ProcessFrame implements [vad.SessionHandle].
func (s *Session) ProcessFrame(frame audio.Frame) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.idleEvent(), vad.ErrClosed
	}
	if s.cfg.SampleRate > 0 && frame.SampleRate != s.cfg.SampleRate {
		return s.idleEvent(), fmt.Errorf("spectral: %w: sample rate %d, want %d",
			analysis.ErrInvalidFrame, frame.SampleRate, s.cfg.SampleRate)
	}
	fv, err := s.analyzer.Analyze(frame)
	if err != nil {
		return s.idleEvent(), fmt.Errorf("spectral: %w", err)
	}

	speechTh := s.speechThreshold()
	energyTh := speechTh
	if s.active {
		energyTh = s.silenceThreshold()
	}

	c := vad.Criteria{
		Energy: fv.RMSDb > energyTh,
		SpectralRange: fv.SpectralCentroid >= s.cfg.CentroidMinHz &&
			fv.SpectralCentroid <= s.cfg.CentroidMaxHz &&
			fv.ZeroCrossingRate >= s.cfg.ZCRMin &&
			fv.ZeroCrossingRate <= s.cfg.ZCRMax,
		VoiceLikelihood: fv.VoiceRatio > s.cfg.VoiceRatioMin,
	}

	s.history[s.next] = fv.RMSDb > speechTh
	s.next = (s.next + 1) % len(s.history)
	c.Temporal = s.countActive() >= s.cfg.HistoryMinActive

	score := vad.Score(c, s.cfg.Weights)
	active := score > s.cfg.ActivationScore

	if fv.RMSDb < speechTh-s.cfg.NoiseGateDb {
		a := s.cfg.NoiseSmoothing
		s.noiseFloor = a*s.noiseFloor + (1-a)*fv.RMSDb
	}

	typ := edge(s.active, active)
	s.active = active

	return vad.Event{
		Type:               typ,
		Active:             active,
		Confidence:         score,
		Features:           fv,
		NoiseFloorDb:       s.noiseFloor,
		SpeechThresholdDb:  s.speechThreshold(),
		SilenceThresholdDb: s.silenceThreshold(),
	}, nil
}

// Reset implements [vad.SessionHandle].
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// NoiseFloorDb returns the current adaptive noise floor.
func (s *Session) NoiseFloorDb() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.noiseFloor
}

func (s *Session) resetLocked() {
	s.active = false
	s.noiseFloor = s.cfg.InitialNoiseFloorDb
	s.history = make([]bool, s.cfg.HistorySize)
	s.next = 0
}

func (s *Session) speechThreshold() float64  { return s.noiseFloor + s.cfg.SpeechOffsetDb }
func (s *Session) silenceThreshold() float64 { return s.noiseFloor + s.cfg.SilenceOffsetDb }

func (s *Session) countActive() int {
	n := 0
	for _, h := range s.history {
		if h {
			n++
		}
	}
	return n
}

// idleEvent is returned for frames that could not be scored. The detector
// state is left untouched.
func (s *Session) idleEvent() vad.Event {
	return vad.Event{
		Type:               vad.Silence,
		NoiseFloorDb:       s.noiseFloor,
		SpeechThresholdDb:  s.speechThreshold(),
		SilenceThresholdDb: s.silenceThreshold(),
	}
}

func edge(was, now bool) vad.EventType {
	switch {
	case !was && now:
		return vad.SpeechStart
	case was && now:
		return vad.SpeechContinue
	case was && !now:
		return vad.SpeechEnd
	default:
		return vad.Silence
	}
}

var _ vad.SessionHandle = (*Session)(nil)
