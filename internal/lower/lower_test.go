package lower

import (
	"testing"

	"github.com/sauaudio/sau/internal/parse"
	"github.com/sauaudio/sau/internal/program"
)

func TestLowerSilenceOnlyScript(t *testing.T) {
	g, _, err := parse.Parse([]byte("S t0"))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	prog, _, err := Lower(g, "test")
	if err != nil {
		t.Fatalf("Lower error: %v", err)
	}
	if got := prog.DurationMS(); got != 0 {
		t.Errorf("DurationMS() = %d, want 0", got)
	}
	if len(prog.Events) != 0 {
		t.Errorf("len(Events) = %d, want 0", len(prog.Events))
	}
}

func TestLowerSingleSineDuration(t *testing.T) {
	g, _, err := parse.Parse([]byte("Osin t0.5 f440"))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	prog, _, err := Lower(g, "test")
	if err != nil {
		t.Fatalf("Lower error: %v", err)
	}
	if len(prog.Events) != 1 {
		t.Fatalf("len(Events) = %d, want 1", len(prog.Events))
	}
	op := prog.Events[0].Ops[0]
	if op.TimeMS != 500 {
		t.Errorf("TimeMS = %d, want 500", op.TimeMS)
	}
}

func TestLowerCompositeFlattening(t *testing.T) {
	g, _, err := parse.Parse([]byte("Osin f440 t0.1; t0.1 f880; t0.1 f1320"))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	prog, _, err := Lower(g, "test")
	if err != nil {
		t.Fatalf("Lower error: %v", err)
	}
	if len(prog.Events) != 3 {
		t.Fatalf("len(Events) = %d, want 3 flattened composite steps", len(prog.Events))
	}
	freqs := []float64{440, 880, 1320}
	wantOp := prog.Events[0].Ops[0].Op
	for i, want := range freqs {
		got := prog.Events[i].Ops[0].Freq.V0
		if got != want {
			t.Errorf("event %d freq = %v, want %v", i, got, want)
		}
		// Every composite step is a later update to the carrier the main
		// event created, not a distinct operator of its own — otherwise
		// none of these steps would ever land in a voice's Carriers and
		// the generator would never render past the first segment.
		if gotOp := prog.Events[i].Ops[0].Op; gotOp != wantOp {
			t.Errorf("event %d targets op %d, want %d (the carrier)", i, gotOp, wantOp)
		}
	}
}

func TestLowerGroupSyncsToMax(t *testing.T) {
	g, _, err := parse.Parse([]byte("Osin t1 | Osin t0.5 | Osin t2"))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	prog, _, err := Lower(g, "test")
	if err != nil {
		t.Fatalf("Lower error: %v", err)
	}
	// "|" chains one run: every operator defined across the whole run
	// (even the trailing one with no terminating "|") synchronises to
	// the run's longest member, 2000ms from the third Osin.
	if len(prog.Events) != 1 {
		t.Fatalf("len(Events) = %d, want 1 (no wait between the grouped operators)", len(prog.Events))
	}
	ops := prog.Events[0].Ops
	if len(ops) != 3 {
		t.Fatalf("len(Ops) = %d, want 3", len(ops))
	}
	for i, op := range ops {
		if op.TimeMS != 2000 {
			t.Errorf("operator %d TimeMS = %d, want 2000 (group max)", i, op.TimeMS)
		}
	}
}

func TestLowerWaitForPreviousAddsDuration(t *testing.T) {
	g, _, err := parse.Parse([]byte(`Osin f200 t0.5 \t Osin f400 t0.5`))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	prog, _, err := Lower(g, "test")
	if err != nil {
		t.Fatalf("Lower error: %v", err)
	}
	total := 0
	for _, ev := range prog.Events {
		total += ev.WaitMS
	}
	if total != 500 {
		t.Errorf("total wait = %d, want 500 (first operator's duration)", total)
	}
}

func TestLowerUnsetAmpAndFreqTakeDefaults(t *testing.T) {
	g, _, err := parse.Parse([]byte("Osin t0.5"))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	prog, _, err := Lower(g, "test")
	if err != nil {
		t.Fatalf("Lower error: %v", err)
	}
	op := prog.Events[0].Ops[0]
	if op.Params&program.ParamFreq == 0 {
		t.Fatalf("ParamFreq not set for an operator that never wrote 'f'")
	}
	if op.Freq.V0 != prog.Defaults.Freq {
		t.Errorf("Freq.V0 = %v, want default %v", op.Freq.V0, prog.Defaults.Freq)
	}
	if op.Params&program.ParamAmp == 0 {
		t.Fatalf("ParamAmp not set for an operator that never wrote 'a'")
	}
	if op.Amp.V0 != prog.Defaults.AmpMul {
		t.Errorf("Amp.V0 = %v, want default %v", op.Amp.V0, prog.Defaults.AmpMul)
	}
}

func TestLowerBackLinks(t *testing.T) {
	g, _, err := parse.Parse([]byte("'x Osin f220 \\0.1 @x a0.5"))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	prog, _, err := Lower(g, "test")
	if err != nil {
		t.Fatalf("Lower error: %v", err)
	}
	if len(prog.Events) != 2 {
		t.Fatalf("len(Events) = %d, want 2", len(prog.Events))
	}
	op := prog.Events[1].Ops[0]
	if prev, ok := prog.Events[1].PrevForOp[op.Op]; !ok || prev != 0 {
		t.Errorf("PrevForOp[%d] = %d,%v, want 0,true", op.Op, prev, ok)
	}
}
