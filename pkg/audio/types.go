package audio

import "time"

// Frame is one analysis window of captured audio. Frames are produced by the
// capture side (a browser analyser node, a microphone loop, a transport
// adapter) at a fixed cadence and consumed exactly once by the analysis tick.
type Frame struct {
	// Samples holds the time-domain waveform normalised to [-1, 1].
	Samples []float32

	// Spectrum holds linear magnitudes for evenly spaced frequency bins between
	// 0 Hz and the Nyquist frequency (SampleRate/2). Bin i is centred on
	// i * Nyquist / len(Spectrum).
	Spectrum []float32

	// SampleRate in Hz (e.g., 16000, 44100, 48000).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Nyquist returns the highest representable frequency of the frame in Hz.
func (f Frame) Nyquist() float64 {
	return float64(f.SampleRate) / 2
}

// BinFrequency returns the centre frequency in Hz of spectrum bin i.
func (f Frame) BinFrequency(i int) float64 {
	if len(f.Spectrum) == 0 {
		return 0
	}
	return float64(i) * f.Nyquist() / float64(len(f.Spectrum))
}
