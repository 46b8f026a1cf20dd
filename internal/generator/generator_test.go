package generator

import (
	"math"
	"testing"

	"github.com/sauaudio/sau/internal/lower"
	"github.com/sauaudio/sau/internal/parse"
)

func build(t *testing.T, src string) *Generator {
	t.Helper()
	g, _, err := parse.Parse([]byte(src))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	prog, _, err := lower.Lower(g, "test")
	if err != nil {
		t.Fatalf("lower error: %v", err)
	}
	return New(prog, 44100)
}

func TestRenderAllTerminates(t *testing.T) {
	gen := build(t, "Osin t0.01 f440 a0.5")
	pcm := gen.RenderAll()
	if len(pcm) == 0 {
		t.Fatalf("expected non-empty PCM output")
	}
	if len(pcm)%2 != 0 {
		t.Errorf("PCM length %d is not an even (stereo) count", len(pcm))
	}
}

func TestRenderAllEmptyProgramProducesNothing(t *testing.T) {
	gen := build(t, "S t0")
	pcm := gen.RenderAll()
	if len(pcm) != 0 {
		t.Errorf("len(pcm) = %d, want 0 for an empty program", len(pcm))
	}
}

func TestRenderRespectsAmplitude(t *testing.T) {
	gen := build(t, "Osin t0.02 f440 a0.9")
	pcm := gen.RenderAll()
	var peak int16
	for i := 0; i < len(pcm); i += 2 {
		if pcm[i] > peak {
			peak = pcm[i]
		}
	}
	if peak == 0 {
		t.Errorf("expected a non-zero peak sample for an audible tone")
	}
	// a0.9 scales full range: the peak should sit just under 0.9*MaxInt16.
	want := 0.9 * math.MaxInt16
	if float64(peak) < 0.95*want || float64(peak) > want+1 {
		t.Errorf("peak = %d, want about %.0f for a0.9", peak, want)
	}
}
