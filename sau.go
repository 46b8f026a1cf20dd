// Package sau is the high-level API: compile a script source to a Program
// and render it to one or more AudioSinks (spec 2, 6.1).
package sau

import (
	"fmt"

	"github.com/sauaudio/sau/internal/audio"
	"github.com/sauaudio/sau/internal/generator"
	"github.com/sauaudio/sau/internal/lower"
	"github.com/sauaudio/sau/internal/parse"
	"github.com/sauaudio/sau/internal/program"
)

// Diagnostic is a non-fatal warning surfaced by compilation (spec 7).
type Diagnostic string

// Build compiles script source into an immutable Program, running the
// parser and then the four lowering passes (spec 4.2-4.3). A failed build
// never returns a partial Program — either lowering succeeds or err is
// non-nil and prog is nil (spec 4.2 "Failure semantics").
func Build(name string, src []byte) (prog *program.Program, diags []Diagnostic, err error) {
	g, parseDiags, err := parse.Parse(src)
	for _, d := range parseDiags {
		diags = append(diags, Diagnostic(d.String()))
	}
	if err != nil {
		return nil, diags, fmt.Errorf("sau: parse %q: %w", name, err)
	}

	prog, lowerDiags, err := lower.Lower(g, name)
	for _, d := range lowerDiags {
		diags = append(diags, Diagnostic(d))
	}
	if err != nil {
		return nil, diags, fmt.Errorf("sau: build %q: %w", name, err)
	}
	return prog, diags, nil
}

// Info is the printable summary the CLI's -p flag prints (SPEC_FULL
// "Program info printing").
type Info struct {
	Name        string
	NumOps      int
	NumVoices   int
	DurationMS  int
	NumEvents   int
}

// Describe summarizes a compiled Program for -p reporting.
func Describe(prog *program.Program) Info {
	return Info{
		Name:       prog.Name,
		NumOps:     prog.NumOps,
		NumVoices:  prog.NumVoices,
		DurationMS: prog.DurationMS(),
		NumEvents:  len(prog.Events),
	}
}

// RenderTarget is one destination a Program is rendered to: either the
// audio device, a WAV file, or both, each potentially at its own
// negotiated sample rate (spec 4.6).
type RenderTarget struct {
	Sink       audio.Sink
	SampleRate int
}

// Render renders prog once per distinct sample rate among targets,
// writing the resulting PCM to every target sharing that rate. The spec
// requires a double render (and a diagnostic) when the device and WAV
// sinks negotiate different rates (spec 4.6, §9 open question #3).
func Render(prog *program.Program, targets []RenderTarget) ([]Diagnostic, error) {
	byRate := map[int][]audio.Sink{}
	var order []int
	for _, t := range targets {
		if _, ok := byRate[t.SampleRate]; !ok {
			order = append(order, t.SampleRate)
		}
		byRate[t.SampleRate] = append(byRate[t.SampleRate], t.Sink)
	}

	var diags []Diagnostic
	if len(order) > 1 {
		diags = append(diags, Diagnostic(fmt.Sprintf(
			"sau: device and WAV sinks negotiated different sample rates %v; rendering once per rate", order)))
	}

	for _, rate := range order {
		g := generator.New(prog, rate)
		pcm := g.RenderAll()
		for _, sink := range byRate[rate] {
			if err := sink.Write(pcm); err != nil {
				return diags, fmt.Errorf("sau: sink write at %d Hz: %w", rate, err)
			}
		}
	}
	return diags, nil
}
