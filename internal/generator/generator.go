// Package generator implements the core DSP engine: a pull-mode walker
// over a program.Program that maintains per-operator run state and renders
// 16-bit stereo PCM in blocks (spec 4.5).
package generator

import (
	"math"

	"github.com/sauaudio/sau/internal/program"
	"github.com/sauaudio/sau/internal/wavetable"
)

// BlockFrames is the nominal chunk size rendering proceeds in.
const BlockFrames = 256

// opRuntime is the per-operator run state the generator advances sample by
// sample: an oscillator phase accumulator plus the resolved parameter set
// the most recent update assigned.
type opRuntime struct {
	wave Wave
	freq, freq2 program.Ramp
	amp, amp2   program.Ramp
	phase0      float64 // static phase offset in [0,1) from the last update
	oscPhase    float64 // running oscillator position in cycles

	fmod, pmod, amod []program.OpID

	attr program.OpAttr

	timeMS    int // total resolved duration; <0 means linked/open-ended
	elapsedMS float64
	paramMS   float64 // time since freq/amp/phase were last assigned, drives Ramp.At

	active  bool
	carrier bool // true if this op is a voice carrier (top-level)
}

type Wave = program.Wave

type voiceRuntime struct {
	pan      program.Ramp
	chanMix  program.ChanMix
	panMS    float64
	carriers []program.OpID
}

// Generator walks one Program and renders it to 16-bit interleaved stereo
// PCM. A Generator instance owns all of its mutable state; a Program may be
// shared read-only across many Generator instances (spec 5).
type Generator struct {
	prog       *program.Program
	sampleRate int
	msPerFrame float64

	ops    map[program.OpID]*opRuntime
	voices map[program.VoiceID]*voiceRuntime

	nextEvent      int
	waitRemainMS   float64
	eventPending   bool
	done           bool
}

// New creates a Generator for prog rendering at sampleRate Hz.
func New(prog *program.Program, sampleRate int) *Generator {
	g := &Generator{
		prog:       prog,
		sampleRate: sampleRate,
		msPerFrame: 1000.0 / float64(sampleRate),
		ops:        make(map[program.OpID]*opRuntime),
		voices:     make(map[program.VoiceID]*voiceRuntime),
	}
	if len(prog.Events) > 0 {
		g.waitRemainMS = float64(prog.Events[0].WaitMS)
		g.eventPending = true
	} else {
		g.done = true
	}
	return g
}

// Done reports whether every run node has finished: no more events are
// pending and every active operator has exhausted its time (spec 4.5
// "Termination").
func (g *Generator) Done() bool {
	if !g.done {
		return false
	}
	// Only carriers gate termination: a modulator with no explicit time
	// (LINKED) is driven purely by its carrier's calls into sampleOp and
	// has no expiry of its own (spec 8 invariant 5).
	for _, op := range g.ops {
		if op.carrier && op.active {
			return false
		}
	}
	return true
}

// RenderAll renders the whole program to completion and returns interleaved
// stereo int16 PCM frames.
func (g *Generator) RenderAll() []int16 {
	var out []int16
	buf := make([]int16, BlockFrames*2)
	for !g.Done() {
		n := g.Render(buf)
		out = append(out, buf[:n*2]...)
		if n == 0 {
			break
		}
	}
	return out
}

// Render fills dst (capacity in stereo frames, so len(dst)/2 frames) with
// the next block of rendered audio and returns the number of frames
// produced. A return of 0 with Done()==true signals end of stream.
func (g *Generator) Render(dst []int16) int {
	frames := len(dst) / 2
	produced := 0
	for produced < frames {
		if g.Done() {
			break
		}
		// Event pump: shorten the block so event boundaries, and any
		// carrier's time expiry, land exactly on a sample (spec 4.5
		// "Event pump").
		chunk := frames - produced
		if g.eventPending {
			waitFrames := int(math.Ceil(g.waitRemainMS/g.msPerFrame - frameEpsilon))
			if waitFrames < chunk {
				chunk = waitFrames
			}
		}
		if opFrames := g.framesToNextExpiry(); opFrames < chunk {
			chunk = opFrames
		}
		if chunk == 0 {
			if g.eventPending && g.waitRemainMS <= 1e-6 {
				g.applyNextEvent()
			} else {
				g.expireOps()
			}
			continue
		}
		for i := 0; i < chunk; i++ {
			l, r := g.renderFrame()
			dst[(produced+i)*2] = pcm16(l)
			dst[(produced+i)*2+1] = pcm16(r)
		}
		produced += chunk
		elapsed := float64(chunk) * g.msPerFrame
		g.advance(elapsed)
		if g.eventPending {
			g.waitRemainMS -= elapsed
			if g.waitRemainMS <= 1e-6 {
				g.applyNextEvent()
			}
		}
	}
	return produced
}

// framesToNextExpiry returns the number of frames remaining before the
// soonest-expiring active, time-bounded operator reaches its duration, or
// a large sentinel if none is bounded.
func (g *Generator) framesToNextExpiry() int {
	const noExpiry = 1 << 30
	best := noExpiry
	for _, op := range g.ops {
		if !op.active || op.timeMS < 0 {
			continue
		}
		remainMS := float64(op.timeMS) - op.elapsedMS
		if remainMS < 0 {
			remainMS = 0
		}
		frames := int(math.Ceil(remainMS/g.msPerFrame - frameEpsilon))
		if frames < best {
			best = frames
		}
	}
	return best
}

// frameEpsilon absorbs floating-point error in ms-to-frame conversions, so
// that e.g. 500ms at 48kHz counts as 24000 frames, not 24001.
const frameEpsilon = 1e-6

// expireOps deactivates every active, time-bounded operator whose
// resolved duration has already been reached (to within frameEpsilon of
// a frame).
func (g *Generator) expireOps() {
	for _, op := range g.ops {
		if op.active && op.timeMS >= 0 && (float64(op.timeMS)-op.elapsedMS)/g.msPerFrame <= frameEpsilon {
			op.active = false
		}
	}
}

func (g *Generator) advance(elapsedMS float64) {
	for _, op := range g.ops {
		if !op.active {
			continue
		}
		op.elapsedMS += elapsedMS
		op.paramMS += elapsedMS
		if op.timeMS >= 0 && op.elapsedMS >= float64(op.timeMS) {
			op.active = false
		}
	}
	for _, v := range g.voices {
		v.panMS += elapsedMS
	}
}

// applyNextEvent consumes prog.Events[nextEvent] (a Prepare step, spec
// 4.5), then advances to the following event and primes its wait.
func (g *Generator) applyNextEvent() {
	if g.nextEvent >= len(g.prog.Events) {
		g.eventPending = false
		g.done = true
		return
	}
	ev := g.prog.Events[g.nextEvent]
	for _, u := range ev.Ops {
		g.applyOpUpdate(u)
	}
	if ev.Voice != nil {
		g.applyVoiceUpdate(*ev.Voice)
	}
	g.nextEvent++
	if g.nextEvent < len(g.prog.Events) {
		g.waitRemainMS = float64(g.prog.Events[g.nextEvent].WaitMS)
		g.eventPending = true
	} else {
		g.eventPending = false
		g.done = true
	}
}

func (g *Generator) applyOpUpdate(u program.OpUpdate) {
	op, ok := g.ops[u.Op]
	if !ok {
		op = &opRuntime{}
		g.ops[u.Op] = op
	}
	if u.Params&program.ParamWave != 0 {
		op.wave = u.Wave
	}
	if u.Params&program.ParamAttr != 0 {
		op.attr = u.Attr
	}
	if u.Params&program.ParamTime != 0 {
		if op.attr&program.AttrTimeLinked != 0 {
			op.timeMS = -1 // no expiry of its own; sounds while a carrier samples it
		} else {
			op.timeMS = u.TimeMS
		}
	}
	if u.Params&program.ParamFreq != 0 {
		op.freq = u.Freq
		op.paramMS = 0
	}
	if u.Params&program.ParamFreq2 != 0 {
		op.freq2 = u.Freq2
	}
	if u.Params&program.ParamAmp != 0 {
		op.amp = u.Amp
		op.paramMS = 0
	}
	if u.Params&program.ParamAmp2 != 0 {
		op.amp2 = u.Amp2
	}
	if u.Params&program.ParamPhase != 0 {
		op.phase0 = u.Phase
		op.oscPhase = u.Phase
	}
	if u.Params&program.ParamFMod != 0 {
		op.fmod = u.FMod
	}
	if u.Params&program.ParamPMod != 0 {
		op.pmod = u.PMod
	}
	if u.Params&program.ParamAMod != 0 {
		op.amod = u.AMod
	}
	op.active = true
	op.elapsedMS = 0
}

func (g *Generator) applyVoiceUpdate(u program.VoiceUpdate) {
	v, ok := g.voices[u.Voice]
	if !ok {
		v = &voiceRuntime{}
		g.voices[u.Voice] = v
	}
	if len(u.Carriers) > 0 {
		v.carriers = u.Carriers
		for _, c := range u.Carriers {
			if op, ok := g.ops[c]; ok {
				op.carrier = true
			}
		}
	}
	if u.Params&program.VoiceParamPan != 0 {
		v.pan = u.Pan
		v.panMS = 0
	}
	if u.Params&program.VoiceParamChanMix != 0 {
		v.chanMix = u.ChanMix
	}
}

// renderFrame mixes every active voice's carriers into one stereo sample,
// applying each voice's pan (spec 4.5 "Render").
func (g *Generator) renderFrame() (float64, float64) {
	var left, right float64
	for _, v := range g.voices {
		if len(v.carriers) == 0 {
			continue
		}
		var s float64
		for _, c := range v.carriers {
			op, ok := g.ops[c]
			if !ok || !op.active {
				continue
			}
			s += g.sampleOp(op, 440, false)
		}
		pan := g.resolvePan(v)
		l, r := panSplit(s, pan)
		left += l
		right += r
	}
	return left, right
}

func (g *Generator) resolvePan(v *voiceRuntime) float64 {
	switch v.chanMix {
	case program.ChanLeft:
		return -1
	case program.ChanRight:
		return 1
	default:
		if v.pan.Set() {
			return v.pan.At(int(v.panMS), 0)
		}
		return 0
	}
}

func panSplit(s, pan float64) (float64, float64) {
	// Equal-power-ish split: centered pan (0) reproduces s on both
	// channels; full left/right silences the other.
	l := s * (1 - math.Max(pan, 0))
	r := s * (1 + math.Min(pan, 0))
	return l, r
}

// sampleOp is the recursive evaluator (spec 4.5 "Recursive evaluator"). It
// runs in two modes: signed-sample (asEnvelope=false, for carriers and PM
// modulators) and wave-envelope (asEnvelope=true, for AM/FM modulators),
// which share the same oscillator read but differ in what the caller does
// with the result.
func (g *Generator) sampleOp(op *opRuntime, parentFreq float64, asEnvelope bool) float64 {
	// Ramp.At already applies the parent multiplier when the ramp's own
	// state/goal was authored as a ratio ("r" syntax); AttrFreqRatio on
	// the OpUpdate is descriptive metadata for the Program, not a second
	// multiplication to perform here.
	freqVal := op.freq.At(int(op.paramMS), parentFreq)
	if len(op.fmod) > 0 {
		fm := 0.0
		for _, ref := range op.fmod {
			if mod, ok := g.ops[ref]; ok && mod.active {
				fm += g.sampleOp(mod, freqVal, true)
			}
		}
		dynfreq := op.freq2.At(int(op.paramMS), parentFreq)
		freqVal += (dynfreq - freqVal) * fm
	}

	ampVal := op.amp.At(int(op.paramMS), 1)
	if len(op.amod) > 0 {
		am := 0.0
		for _, ref := range op.amod {
			if mod, ok := g.ops[ref]; ok && mod.active {
				am += g.sampleOp(mod, freqVal, true)
			}
		}
		dynamp := op.amp2.At(int(op.paramMS), 1)
		ampVal += am * (dynamp - ampVal)
	}

	phaseOffset := 0.0
	if len(op.pmod) > 0 {
		for _, ref := range op.pmod {
			if mod, ok := g.ops[ref]; ok && mod.active {
				phaseOffset += g.sampleOp(mod, freqVal, false)
			}
		}
	}

	s := wavetable.Sample(op.wave, op.oscPhase+phaseOffset)
	op.oscPhase += freqVal / float64(g.sampleRate)
	if op.oscPhase >= 1 {
		op.oscPhase -= math.Floor(op.oscPhase)
	}

	if asEnvelope {
		return s
	}
	return s * ampVal
}

func pcm16(s float64) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(s * math.MaxInt16)
}
