package vad_test

import (
	"testing"

	"github.com/MrWong99/jarvis/pkg/provider/vad"
)

func allCriteria() []vad.Criteria {
	var out []vad.Criteria
	for mask := range 16 {
		out = append(out, vad.Criteria{
			Energy:          mask&1 != 0,
			SpectralRange:   mask&2 != 0,
			VoiceLikelihood: mask&4 != 0,
			Temporal:        mask&8 != 0,
		})
	}
	return out
}

func TestScore_DefaultWeights(t *testing.T) {
	t.Parallel()

	w := vad.DefaultConfig().Weights
	tests := []struct {
		c    vad.Criteria
		want float64
	}{
		{vad.Criteria{}, 0},
		{vad.Criteria{Energy: true}, 0.4},
		{vad.Criteria{Energy: true, SpectralRange: true}, 0.7},
		{vad.Criteria{SpectralRange: true, VoiceLikelihood: true, Temporal: true}, 0.6},
		{vad.Criteria{Energy: true, SpectralRange: true, VoiceLikelihood: true, Temporal: true}, 1},
	}
	for _, tt := range tests {
		if got := vad.Score(tt.c, w); got < tt.want-1e-9 || got > tt.want+1e-9 {
			t.Errorf("Score(%+v) = %v, want %v", tt.c, got, tt.want)
		}
	}
}

func TestScore_MonotonicInEachWeight(t *testing.T) {
	t.Parallel()

	bump := []func(*vad.Weights, float64){
		func(w *vad.Weights, d float64) { w.Energy += d },
		func(w *vad.Weights, d float64) { w.SpectralRange += d },
		func(w *vad.Weights, d float64) { w.VoiceLikelihood += d },
		func(w *vad.Weights, d float64) { w.Temporal += d },
	}
	for _, c := range allCriteria() {
		for i, b := range bump {
			w := vad.DefaultConfig().Weights
			prev := vad.Score(c, w)
			for range 10 {
				b(&w, 0.05)
				got := vad.Score(c, w)
				if got < prev {
					t.Fatalf("criteria %+v weight %d: score fell from %v to %v", c, i, prev, got)
				}
				prev = got
			}
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	if err := vad.DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig invalid: %v", err)
	}

	bad := vad.DefaultConfig()
	bad.ZCRMin = 0.9
	bad.NoiseSmoothing = 1
	if err := bad.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}
