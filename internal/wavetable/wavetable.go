// Package wavetable builds the process-global single-cycle lookup tables
// for the named periodic functions a script can select (spec 4.2 "Wave
// types"), merging the teacher's per-voice table array and its FM engine's
// waveformSample switch into one table-plus-enum the generator samples by
// phase.
package wavetable

import (
	"math"

	"github.com/sauaudio/sau/internal/program"
)

const twoPi = math.Pi * 2

// tableLen is the number of samples per cycle. High enough that linear
// interpolation between entries stays well under audible quantization
// error across the generator's supported pitch range.
const tableLen = 2048

var tables [4][tableLen]float64

func init() {
	for i := 0; i < tableLen; i++ {
		t := float64(i) / float64(tableLen)
		tables[program.WaveSin][i] = math.Sin(twoPi * t)
		tables[program.WaveTri][i] = 2*math.Abs(2*(t-math.Floor(t+0.5))) - 1
		tables[program.WaveSaw][i] = 2*t - 1
		if t < 0.5 {
			tables[program.WaveSqr][i] = 1
		} else {
			tables[program.WaveSqr][i] = -1
		}
	}
}

// Sample returns the waveform's value at phase (in cycles, any real
// number — wrapped into [0,1) before lookup) using linear interpolation
// between the table's nearest two entries.
func Sample(w program.Wave, phase float64) float64 {
	table := &tables[w&3]
	p := phase - math.Floor(phase)
	pos := p * float64(tableLen)
	i0 := int(pos)
	i1 := (i0 + 1) % tableLen
	frac := pos - float64(i0)
	return table[i0]*(1-frac) + table[i1]*frac
}
