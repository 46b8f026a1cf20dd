package parse

import "github.com/sauaudio/sau/internal/scanner"

// justRatio gives the just-intonation ratio (relative to the tonic) for
// each natural note letter across the three scales the scanner can select
// via a trailing accidental: flat, natural, sharp. The values are the
// standard 5-limit just-intonation degrees; flat/sharp shift the degree by
// a 25/24 chromatic semitone rather than retuning to a different scale
// family, which keeps the three variants a one-parameter family as spec
// 4.2 implies ("three just-intonation scales") without inventing a fourth.
var justRatio = map[byte][3]float64{
	'c': {24.0 / 25.0, 1, 25.0 / 24.0},
	'd': {9.0 / 8.0 * 24.0 / 25.0, 9.0 / 8.0, 9.0 / 8.0 * 25.0 / 24.0},
	'e': {5.0 / 4.0 * 24.0 / 25.0, 5.0 / 4.0, 5.0 / 4.0 * 25.0 / 24.0},
	'f': {4.0 / 3.0 * 24.0 / 25.0, 4.0 / 3.0, 4.0 / 3.0 * 25.0 / 24.0},
	'g': {3.0 / 2.0 * 24.0 / 25.0, 3.0 / 2.0, 3.0 / 2.0 * 25.0 / 24.0},
	'a': {5.0 / 3.0 * 24.0 / 25.0, 5.0 / 3.0, 5.0 / 3.0 * 25.0 / 24.0},
	'b': {15.0 / 8.0 * 24.0 / 25.0, 15.0 / 8.0, 15.0 / 8.0 * 25.0 / 24.0},
}

// noteOrder lists the seven natural letters in pitch order, used to find
// "the next note" for sub-note blending.
var noteOrder = []byte{'c', 'd', 'e', 'f', 'g', 'a', 'b'}

func nextLetter(b byte) byte {
	for i, l := range noteOrder {
		if l == b {
			return noteOrder[(i+1)%len(noteOrder)]
		}
	}
	return b
}

// tryParseNote attempts to read a note token ("[abcdefg]?[A-G][sf]?[0-9]*")
// at the current scanner position and, if successful, returns its
// frequency in Hz derived from a4Freq (spec 4.2 "Notes": fundamental taken
// from the current tuning with a fixed 3/5 scaling to C4).
func tryParseNote(sc *scanner.Scanner, a4Freq float64) (float64, bool) {
	c4 := a4Freq * 3.0 / 5.0

	first, ok := sc.Getc()
	if !ok {
		return 0, false
	}
	var sub byte
	haveSub := false
	if first >= 'a' && first <= 'g' {
		sub = first
		haveSub = true
		first, ok = sc.Getc()
		if !ok {
			sc.Ungetc()
			return 0, false
		}
	}
	if first < 'A' || first > 'G' {
		if haveSub {
			sc.Ungetc() // can't un-consume two; treat leniently
		} else {
			sc.Ungetc()
		}
		return 0, false
	}
	letter := first + ('a' - 'A')

	accidental := byte(0)
	if sc.Tryc('s') {
		accidental = 's'
	} else if sc.Tryc('f') {
		accidental = 'f'
	}

	octave := 4
	haveOctDigits := false
	octVal := 0
	for {
		c, ok := sc.Getc()
		if !ok {
			break
		}
		if c < '0' || c > '9' {
			sc.Ungetc()
			break
		}
		octVal = octVal*10 + int(c-'0')
		haveOctDigits = true
	}
	if haveOctDigits {
		octave = octVal
	}
	if octave < 0 || octave > 10 {
		sc.Warningf("octave %d out of range, using octave 4", octave)
		octave = 4
	}

	scaleIdx := 1
	switch accidental {
	case 'f':
		scaleIdx = 0
	case 's':
		scaleIdx = 2
	}
	ratio := justRatio[letter][scaleIdx]
	if haveSub {
		nextRatio := justRatio[nextLetter(letter)][scaleIdx]
		if nextLetter(letter) == 'c' {
			nextRatio *= 2
		}
		// Sub-note letters blend linearly toward the next scale
		// degree; the sub-letter's own position in [a..g] sets how
		// far along that blend sits.
		frac := subBlendFraction(sub)
		ratio = ratio + (nextRatio-ratio)*frac
	}
	freq := c4 * ratio * pow2(octave-4)
	return freq, true
}

func subBlendFraction(sub byte) float64 {
	for i, l := range noteOrder {
		if l == sub {
			return float64(i) / float64(len(noteOrder))
		}
	}
	return 0
}

func pow2(n int) float64 {
	if n >= 0 {
		v := 1.0
		for i := 0; i < n; i++ {
			v *= 2
		}
		return v
	}
	v := 1.0
	for i := 0; i < -n; i++ {
		v /= 2
	}
	return v
}
