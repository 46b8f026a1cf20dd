package program

import "math"

// RampShape selects the interpolation curve a Ramp uses between v0 and vt.
type RampShape int

const (
	ShapeState RampShape = iota // constant v0, no transition
	ShapeLin
	ShapeExp
	ShapeLog
)

// RampFlag marks which optional facets of a Ramp are in effect.
type RampFlag uint8

const (
	FlagState RampFlag = 1 << iota // v0 has been assigned
	FlagGoal                      // vt has been assigned; ramp transitions
	FlagStateRatio                 // v0 is a multiplier on a parent value
	FlagGoalRatio                  // vt is a multiplier on a parent value
	FlagTimeExplicit               // time_ms was authored, not inherited
)

// Ramp is a scalar parameter with an optional timed transition from an
// initial value v0 to a target value vt along Shape.
type Ramp struct {
	V0     float64
	Vt     float64
	TimeMS int
	Shape  RampShape
	Flags  RampFlag
}

// Set reports whether the ramp has an assigned initial value.
func (r Ramp) Set() bool { return r.Flags&FlagState != 0 }

// HasGoal reports whether the ramp transitions to vt.
func (r Ramp) HasGoal() bool { return r.Flags&FlagGoal != 0 }

// At evaluates the ramp at elapsed time t (ms), given a parent value used
// when the ramp's state or goal is expressed as a ratio.
func (r Ramp) At(tMS int, parent float64) float64 {
	v0 := r.V0
	if r.Flags&FlagStateRatio != 0 {
		v0 *= parent
	}
	if !r.HasGoal() || r.TimeMS <= 0 {
		return v0
	}
	vt := r.Vt
	if r.Flags&FlagGoalRatio != 0 {
		vt *= parent
	}
	if tMS >= r.TimeMS {
		return vt
	}
	if tMS <= 0 {
		return v0
	}
	x := float64(tMS) / float64(r.TimeMS)
	switch r.Shape {
	case ShapeLin:
		return v0 + (vt-v0)*x
	case ShapeExp:
		// Slow start, fast finish: x^steepness.
		return v0 + (vt-v0)*math.Pow(x, rampSteepness)
	case ShapeLog:
		// Fast start, slow finish: the mirror of ShapeExp.
		return v0 + (vt-v0)*(1-math.Pow(1-x, rampSteepness))
	default:
		return v0
	}
}

const rampSteepness = 2.5

// Constant builds a ramp with only a state value, no transition.
func Constant(v0 float64) Ramp {
	return Ramp{V0: v0, Shape: ShapeState, Flags: FlagState}
}
