package audio

import (
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Sink is the external-output contract the Generator writes rendered PCM
// to: Write accepts one block of interleaved stereo int16 frames, and
// Close finalizes the stream. The interface has no open step; the
// constructors (OpenDeviceSink, NewWAVSink) take a fixed sample rate,
// always use two channels, and never adjust the rate.
type Sink interface {
	Write(frames []int16) error
	Close() error
}

// pcmSource adapts a pre-rendered interleaved int16 buffer into the
// audio.SampleSource the teacher's ebiten-backed StreamReader pulls from,
// converting to float32 on demand one block at a time.
type pcmSource struct {
	pcm    []int16
	cursor int
}

func (s *pcmSource) Process(dst []float32) {
	frames := len(dst) / 2
	avail := (len(s.pcm) - s.cursor) / 2
	n := frames
	if avail < n {
		n = avail
	}
	for i := 0; i < n*2; i++ {
		dst[i] = float32(s.pcm[s.cursor+i]) / 32768.0
	}
	for i := n * 2; i < len(dst); i++ {
		dst[i] = 0
	}
	s.cursor += n * 2
}

func (s *pcmSource) Finished() bool { return s.cursor >= len(s.pcm) }

// DeviceSink plays rendered PCM through the host audio device via the
// shared ebiten audio context (internal/audio.Player).
type DeviceSink struct {
	player *Player
	source *pcmSource
}

// OpenDeviceSink opens a device sink at sampleRate Hz. It buffers the
// entire program's PCM before starting playback, matching the Generator's
// pull-to-completion RenderAll usage from the CLI (spec 6.1).
func OpenDeviceSink(sampleRate int) (*DeviceSink, error) {
	src := &pcmSource{}
	p, err := NewPlayer(sampleRate, src)
	if err != nil {
		return nil, err
	}
	return &DeviceSink{player: p, source: src}, nil
}

func (d *DeviceSink) Write(frames []int16) error {
	d.source.pcm = append(d.source.pcm, frames...)
	return nil
}

// Play starts device playback of whatever has been written so far; the
// caller is expected to poll IsPlaying itself, since Play itself is
// non-blocking, matching the teacher's Player.Play.
func (d *DeviceSink) Play() { d.player.Play() }

func (d *DeviceSink) IsPlaying() bool { return d.player.IsPlaying() }

func (d *DeviceSink) Close() error { return d.player.Stop() }

// WAVSink writes 16-bit PCM stereo to a RIFF/WAVE file (spec 6.2), built
// on go-audio/wav + go-audio/audio rather than the teacher's hand-rolled
// float32 WAV writer (offline.go's EncodeWAVFloat32LE), which used a
// 32-bit IEEE-float data chunk the spec's "16-bit PCM" requirement rules
// out.
type WAVSink struct {
	enc        *wav.Encoder
	closer     io.Closer
	sampleRate int
}

// NewWAVSink wraps w (typically an *os.File) with a 16-bit, 2-channel PCM
// WAV encoder at sampleRate Hz. The caller must Close the sink (which also
// closes the underlying writer if it implements io.Closer) to back-patch
// the RIFF/data chunk sizes.
func NewWAVSink(w io.WriteSeeker, sampleRate int) *WAVSink {
	enc := wav.NewEncoder(w, sampleRate, 16, 2, 1)
	s := &WAVSink{enc: enc, sampleRate: sampleRate}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

func (s *WAVSink) Write(frames []int16) error {
	data := make([]int, len(frames))
	for i, v := range frames {
		data[i] = int(v)
	}
	buf := &goaudio.IntBuffer{
		Data:           data,
		SourceBitDepth: 16,
		Format: &goaudio.Format{
			SampleRate:  s.sampleRate,
			NumChannels: 2,
		},
	}
	return s.enc.Write(buf)
}

func (s *WAVSink) Close() error {
	if err := s.enc.Close(); err != nil {
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
