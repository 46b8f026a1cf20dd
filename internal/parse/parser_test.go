package parse

import "testing"

func TestParseEmptyScript(t *testing.T) {
	g, _, err := Parse([]byte("S t0"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if g.Defaults.TimeMS != 0 {
		t.Errorf("Defaults.TimeMS = %d, want 0", g.Defaults.TimeMS)
	}
	if len(g.Ops) != 0 {
		t.Errorf("len(Ops) = %d, want 0", len(g.Ops))
	}
}

func TestParseSingleOperator(t *testing.T) {
	g, _, err := Parse([]byte("Osin t0.5 f440"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(g.Ops) != 1 {
		t.Fatalf("len(Ops) = %d, want 1", len(g.Ops))
	}
	op := g.Ops[0]
	if op.TimeMS != 500 {
		t.Errorf("TimeMS = %d, want 500", op.TimeMS)
	}
	if !op.FreqSet || op.Freq.V0 != 440 {
		t.Errorf("Freq = %+v, want V0=440", op.Freq)
	}
}

func TestParseLabelDefAndRef(t *testing.T) {
	g, diags, err := Parse([]byte("'x Osin f220 \\0.1 @x a0.5"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(g.Ops) != 2 {
		t.Fatalf("len(Ops) = %d, want 2 (definition + update)", len(g.Ops))
	}
	update := g.Ops[1]
	if update.Flags&FlagIsUpdate == 0 {
		t.Errorf("second op should be an update node")
	}
	if update.RefOp != g.Ops[0].ID {
		t.Errorf("RefOp = %d, want %d", update.RefOp, g.Ops[0].ID)
	}
	if !update.AmpSet || update.Amp.V0 != 0.5 {
		t.Errorf("Amp = %+v, want V0=0.5", update.Amp)
	}
	_ = diags
}

func TestParseUndefinedLabelWarns(t *testing.T) {
	g, diags, err := Parse([]byte("@missing a0.5"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(g.Ops) != 0 {
		t.Errorf("len(Ops) = %d, want 0 for unresolved reference", len(g.Ops))
	}
	if len(diags) == 0 {
		t.Errorf("expected a diagnostic for undefined label reference")
	}
}

func TestParseComposite(t *testing.T) {
	g, _, err := Parse([]byte("Osin f440 t0.1; t0.1 f880; t0.1 f1320"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(g.Ops) != 3 {
		t.Fatalf("len(Ops) = %d, want 3 composite steps", len(g.Ops))
	}
	if g.Ops[0].CompositeNext != g.Ops[1].ID {
		t.Errorf("first composite link broken")
	}
	if g.Ops[1].CompositeNext != g.Ops[2].ID {
		t.Errorf("second composite link broken")
	}
}

func TestParseFMNest(t *testing.T) {
	g, _, err := Parse([]byte("Osin f137 t1 p+[Osin f32 p+[Osin f42]]"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(g.Ops) != 3 {
		t.Fatalf("len(Ops) = %d, want 3 (carrier + 2 PM modulators)", len(g.Ops))
	}
	top := g.Ops[0]
	if len(top.PMod) != 1 {
		t.Fatalf("len(PMod) = %d, want 1", len(top.PMod))
	}
	mid := g.Op(top.PMod[0])
	if len(mid.PMod) != 1 {
		t.Fatalf("mid PMod len = %d, want 1", len(mid.PMod))
	}
	if mid.Flags&FlagNested == 0 {
		t.Errorf("mid operator should be flagged Nested")
	}
}

func TestParseWaitForPrevious(t *testing.T) {
	g, _, err := Parse([]byte(`Osin f200 t0.5 \t Osin f400 t0.5`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(g.Ops) != 2 {
		t.Fatalf("len(Ops) = %d, want 2", len(g.Ops))
	}
	if !g.Ops[0].AddWaitDuration {
		t.Errorf("first operator should be flagged AddWaitDuration")
	}
	if len(g.Events) < 2 {
		t.Fatalf("len(Events) = %d, want >= 2", len(g.Events))
	}
	found := false
	for _, e := range g.Events {
		if e.WaitIsPrevDur {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an event with WaitIsPrevDur set")
	}
}

func TestParseGroup(t *testing.T) {
	g, _, err := Parse([]byte("Osin t1 | Osin t0.5 | Osin t2"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	// One cumulative group per "|", plus the final group that closes the
	// run and takes in the trailing "Osin t2".
	if len(g.Groups) != 3 {
		t.Fatalf("len(Groups) = %d, want 3", len(g.Groups))
	}
}

func TestParseBindScope(t *testing.T) {
	g, _, err := Parse([]byte("@[Osin f440 Osin f441]"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	var bound *Op
	for i := range g.Ops {
		if g.Ops[i].Flags&FlagMultiple != 0 {
			bound = &g.Ops[i]
		}
	}
	if bound == nil {
		t.Fatalf("expected a Multiple bind node")
	}
	if len(bound.Members) != 2 {
		t.Errorf("len(Members) = %d, want 2", len(bound.Members))
	}
}
