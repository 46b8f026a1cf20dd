package audio

import "testing"

func TestPcmSourceProcessConvertsAndPads(t *testing.T) {
	src := &pcmSource{pcm: []int16{16384, -16384, 32767, -32768}}
	dst := make([]float32, 6) // 3 frames requested, only 2 available
	src.Process(dst)
	if dst[0] <= 0.49 || dst[0] >= 0.51 {
		t.Errorf("dst[0] = %v, want ~0.5", dst[0])
	}
	if dst[4] != 0 || dst[5] != 0 {
		t.Errorf("unfilled tail should be zeroed, got %v %v", dst[4], dst[5])
	}
	if !src.Finished() {
		t.Errorf("expected Finished() after consuming all buffered PCM")
	}
}

func TestPcmSourcePartialConsumption(t *testing.T) {
	src := &pcmSource{pcm: []int16{0, 0, 0, 0, 0, 0, 0, 0}}
	dst := make([]float32, 4)
	src.Process(dst)
	if src.Finished() {
		t.Errorf("source should not be finished after a partial read")
	}
}
