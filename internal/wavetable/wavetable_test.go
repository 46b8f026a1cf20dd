package wavetable

import (
	"math"
	"testing"

	"github.com/sauaudio/sau/internal/program"
)

func TestSampleSinZeroPhase(t *testing.T) {
	if got := Sample(program.WaveSin, 0); math.Abs(got) > 1e-9 {
		t.Errorf("Sample(sin, 0) = %v, want ~0", got)
	}
}

func TestSampleSinQuarter(t *testing.T) {
	got := Sample(program.WaveSin, 0.25)
	if math.Abs(got-1) > 1e-2 {
		t.Errorf("Sample(sin, 0.25) = %v, want ~1", got)
	}
}

func TestSampleSquareHalves(t *testing.T) {
	if got := Sample(program.WaveSqr, 0.1); got != 1 {
		t.Errorf("Sample(sqr, 0.1) = %v, want 1", got)
	}
	if got := Sample(program.WaveSqr, 0.9); got != -1 {
		t.Errorf("Sample(sqr, 0.9) = %v, want -1", got)
	}
}

func TestSampleWrapsNegativeAndLargePhase(t *testing.T) {
	a := Sample(program.WaveSaw, 0.3)
	b := Sample(program.WaveSaw, -0.7)
	c := Sample(program.WaveSaw, 3.3)
	if math.Abs(a-b) > 1e-6 || math.Abs(a-c) > 1e-6 {
		t.Errorf("Sample should wrap phase: a=%v b=%v c=%v", a, b, c)
	}
}
