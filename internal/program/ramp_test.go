package program

import "testing"

func TestRampNoGoalIsConstant(t *testing.T) {
	r := Constant(5)
	for _, t_ := range []int{0, 10, 1000} {
		if v := r.At(t_, 1); v != 5 {
			t.Errorf("At(%d) = %v, want 5", t_, v)
		}
	}
}

func TestRampGoalBoundary(t *testing.T) {
	r := Ramp{V0: 0, Vt: 10, TimeMS: 100, Shape: ShapeLin, Flags: FlagState | FlagGoal}
	if v := r.At(0, 1); v != 0 {
		t.Errorf("At(0) = %v, want 0", v)
	}
	if v := r.At(100, 1); v != 10 {
		t.Errorf("At(time_ms) = %v, want 10", v)
	}
	if v := r.At(200, 1); v != 10 {
		t.Errorf("At(beyond time_ms) = %v, want 10 (clamped)", v)
	}
}

func TestRampLinearMidpoint(t *testing.T) {
	r := Ramp{V0: 0, Vt: 10, TimeMS: 100, Shape: ShapeLin, Flags: FlagState | FlagGoal}
	if v := r.At(50, 1); v != 5 {
		t.Errorf("At(50) = %v, want 5", v)
	}
}

func TestRampStateRatio(t *testing.T) {
	r := Ramp{V0: 2, Shape: ShapeState, Flags: FlagState | FlagStateRatio}
	if v := r.At(0, 100); v != 200 {
		t.Errorf("At ratio = %v, want 200", v)
	}
}

func TestRampShapesMonotonic(t *testing.T) {
	for _, shape := range []RampShape{ShapeExp, ShapeLog} {
		r := Ramp{V0: 0, Vt: 1, TimeMS: 100, Shape: shape, Flags: FlagState | FlagGoal}
		prev := -1.0
		for tms := 0; tms <= 100; tms += 10 {
			v := r.At(tms, 1)
			if v < prev {
				t.Errorf("shape %v not monotonic at t=%d: %v < %v", shape, tms, v, prev)
			}
			prev = v
		}
	}
}
