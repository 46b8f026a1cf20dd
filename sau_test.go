package sau

import "testing"

// fakeSink records what the generator writes, for tests that don't need a
// real audio device or file.
type fakeSink struct {
	frames []int16
	closed bool
}

func (s *fakeSink) Write(frames []int16) error {
	s.frames = append(s.frames, frames...)
	return nil
}

func (s *fakeSink) Close() error {
	s.closed = true
	return nil
}

func TestBuildSilence(t *testing.T) {
	prog, _, err := Build("silence", []byte("S t0"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	info := Describe(prog)
	if info.NumEvents != 0 {
		t.Errorf("expected an empty program, got %+v", info)
	}
}

func TestBuildAndRenderSine(t *testing.T) {
	prog, _, err := Build("sine", []byte("Osin t0.5 f440"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	sink := &fakeSink{}
	diags, err := Render(prog, []RenderTarget{{Sink: sink, SampleRate: 48000}})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(diags) != 0 {
		t.Errorf("unexpected diagnostics for a single render target: %v", diags)
	}

	wantFrames := 24000 // 0.5s @ 48kHz
	gotFrames := len(sink.frames) / 2
	if gotFrames != wantFrames {
		t.Errorf("got %d frames, want %d", gotFrames, wantFrames)
	}
}

func TestRenderDoubleRendersOnRateMismatch(t *testing.T) {
	prog, _, err := Build("sine", []byte("Osin t0.1 f440"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	device := &fakeSink{}
	wav := &fakeSink{}
	diags, err := Render(prog, []RenderTarget{
		{Sink: device, SampleRate: 44100},
		{Sink: wav, SampleRate: 48000},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(diags) == 0 {
		t.Errorf("expected a diagnostic when sinks negotiate different sample rates")
	}
	if len(device.frames) == len(wav.frames) {
		t.Errorf("expected different frame counts at different sample rates, got %d == %d",
			len(device.frames), len(wav.frames))
	}
}
