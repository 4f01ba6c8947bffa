package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/cmplx"
	"time"
)

// FromAnalyserBytes builds a [Frame] from the unsigned byte arrays produced by
// analyser-style capture nodes: timeDomain is a waveform centred on 128 and
// freq holds per-bin magnitudes in 0..255. Both slices may be empty; the
// analysis stage decides whether the result is usable.
func FromAnalyserBytes(timeDomain, freq []byte, sampleRate int, ts time.Duration) Frame {
	samples := make([]float32, len(timeDomain))
	for i, b := range timeDomain {
		samples[i] = (float32(b) - 128) / 128
	}
	spectrum := make([]float32, len(freq))
	for i, b := range freq {
		spectrum[i] = float32(b) / 255
	}
	return Frame{
		Samples:    samples,
		Spectrum:   spectrum,
		SampleRate: sampleRate,
		Timestamp:  ts,
	}
}

// FromPCM16 decodes little-endian signed 16-bit mono PCM into a [Frame] and
// derives its magnitude spectrum with [MagnitudeSpectrum]. It returns an error
// when pcm has an odd byte count.
func FromPCM16(pcm []byte, sampleRate int, ts time.Duration) (Frame, error) {
	if len(pcm)%2 != 0 {
		return Frame{}, fmt.Errorf("audio: odd byte count %d in 16-bit PCM", len(pcm))
	}
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(s) / 32768
	}
	return Frame{
		Samples:    samples,
		Spectrum:   MagnitudeSpectrum(samples),
		SampleRate: sampleRate,
		Timestamp:  ts,
	}, nil
}

// MagnitudeSpectrum returns the linear magnitude of the first half of the
// Hann-windowed DFT of samples. The input is zero-padded to the next power of
// two; the result has n/2 bins covering 0 Hz up to (but excluding) Nyquist.
func MagnitudeSpectrum(samples []float32) []float32 {
	if len(samples) == 0 {
		return nil
	}
	n := 1
	for n < len(samples) {
		n <<= 1
	}
	buf := make([]complex128, n)
	last := float64(len(samples) - 1)
	for i, s := range samples {
		w := 1.0
		if last > 0 {
			w = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/last)
		}
		buf[i] = complex(float64(s)*w, 0)
	}
	fft(buf)

	out := make([]float32, n/2)
	scale := 2 / float64(n)
	for i := range out {
		out[i] = float32(cmplx.Abs(buf[i]) * scale)
	}
	return out
}

// fft is an in-place iterative radix-2 Cooley-Tukey transform. len(x) must be
// a power of two.
func fft(x []complex128) {
	n := len(x)
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			x[i], x[j] = x[j], x[i]
		}
	}
	for size := 2; size <= n; size <<= 1 {
		step := cmplx.Exp(complex(0, -2*math.Pi/float64(size)))
		for start := 0; start < n; start += size {
			w := complex(1, 0)
			for k := 0; k < size/2; k++ {
				a := x[start+k]
				b := x[start+k+size/2] * w
				x[start+k] = a + b
				x[start+k+size/2] = a - b
				w *= step
			}
		}
	}
}
