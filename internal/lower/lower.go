// Package lower implements ScriptLowering: the four ordered passes that
// turn a parse.Graph into an immutable program.Program (spec 4.3).
package lower

import (
	"fmt"
	"sort"

	"github.com/sauaudio/sau/internal/parse"
	"github.com/sauaudio/sau/internal/program"
)

// opContext tracks, per operator, the lowering-time bookkeeping the spec
// calls out in "Adjacency construction": the most recent update node and
// the predecessor chain for op_prev.
type opContext struct {
	newest map[parse.OpRef]parse.OpRef
	prev   map[parse.OpRef]parse.OpRef
}

func newOpContext() *opContext {
	return &opContext{newest: make(map[parse.OpRef]parse.OpRef), prev: make(map[parse.OpRef]parse.OpRef)}
}

// Lowering drives the four passes and accumulates non-fatal diagnostics,
// in the same spirit as the scanner/parser's warning collection.
type Lowering struct {
	g     *parse.Graph
	diags []string
}

func New(g *parse.Graph) *Lowering { return &Lowering{g: g} }

func (l *Lowering) Diagnostics() []string { return l.diags }

func (l *Lowering) warnf(format string, args ...any) {
	l.diags = append(l.diags, fmt.Sprintf(format, args...))
}

// Lower runs the time, composite, group, and flatten passes in order and
// builds the resulting Program. It returns an error only for the "build
// error" class in spec 7 (internal invariant violations); syntax-adjacent
// issues are reported as diagnostics, matching the parser's policy.
func Lower(g *parse.Graph, name string) (*program.Program, []string, error) {
	l := New(g)
	l.timePass()
	l.compositePass()
	l.groupPass()
	events, err := l.flattenPass()
	if err != nil {
		return nil, l.diags, err
	}

	prog := &program.Program{
		Name:     name,
		Defaults: g.Defaults,
		Events:   events,
	}
	l.assignIDs(prog)
	return prog, l.diags, nil
}

// timePass implements spec 4.3 pass 1: resolve each operator's duration,
// marking nested operators LINKED unless they carry composites or an
// explicit time, folding silence into time_ms, and propagating "\t"'s
// ADD_WAIT_DURATION into the following event's wait.
func (l *Lowering) timePass() {
	for i := range l.g.Events {
		ev := &l.g.Events[i]
		for _, ref := range ev.NewOps {
			l.timeOperator(ref)
		}
		for _, ref := range ev.UpdateOps {
			l.timeOperator(ref)
		}
	}
	// "\t" propagation: an operator flagged AddWaitDuration contributes
	// its resolved time_ms to the wait of the event immediately
	// following the one that referenced it (the WaitIsPrevDur event).
	for i := range l.g.Events {
		ev := &l.g.Events[i]
		if !ev.WaitIsPrevDur {
			continue
		}
		if i == 0 {
			continue
		}
		prevEv := &l.g.Events[i-1]
		if len(prevEv.NewOps) == 0 {
			continue
		}
		// The operator referenced by "\t" is the scope's most
		// recently defined operator at the point of the wait, which
		// the parser flagged AddWaitDuration on directly.
		for _, ref := range allOps(prevEv) {
			op := l.g.Op(ref)
			if op.AddWaitDuration {
				ev.WaitMS += op.TimeMS
			}
		}
	}
}

func allOps(ev *parse.Event) []parse.OpRef {
	out := make([]parse.OpRef, 0, len(ev.NewOps)+len(ev.UpdateOps))
	out = append(out, ev.NewOps...)
	out = append(out, ev.UpdateOps...)
	return out
}

func (l *Lowering) timeOperator(ref parse.OpRef) {
	op := l.g.Op(ref)
	nested := op.Flags&parse.FlagNested != 0
	hasComposite := op.CompositeNext != parse.NoOp
	explicitTime := op.Flags&parse.FlagTimeSet != 0

	if nested && !explicitTime && !hasComposite {
		op.Flags |= parse.FlagLinked
	} else {
		if op.TimeMS == 0 && !explicitTime {
			op.TimeMS = l.g.Defaults.TimeMS
		}
		if op.Flags&parse.FlagSilenceAdded == 0 {
			op.TimeMS += op.Silence
			op.Flags |= parse.FlagSilenceAdded
		}
	}

	// A freshly defined operator (not a composite/label-ref update, which
	// inherits whatever the operator it targets was last set to) that
	// never authored an "a" or "f" step takes the S-line defaults (spec
	// 4.3 "Defaults", program.Defaults.AmpMul/Freq) rather than silence.
	if op.Flags&parse.FlagIsUpdate == 0 {
		if !op.FreqSet {
			op.Freq = program.Ramp{V0: l.g.Defaults.Freq, Shape: program.ShapeState, Flags: program.FlagState}
			op.FreqSet = true
		}
		if !op.AmpSet {
			op.Amp = program.Ramp{V0: l.g.Defaults.AmpMul, Shape: program.ShapeState, Flags: program.FlagState}
			op.AmpSet = true
		}
	}

	// Recurse into modulator sub-lists (spec 4.3: "Recurse into all
	// modulator sub-lists").
	for _, sub := range op.FMod {
		l.timeOperator(sub)
	}
	for _, sub := range op.PMod {
		l.timeOperator(sub)
	}
	for _, sub := range op.AMod {
		l.timeOperator(sub)
	}
	for _, sub := range op.Members {
		l.timeOperator(sub)
	}

	// A bind scope (Multiple node) shares one duration: every member, and
	// the node itself, takes the longest member's time.
	if op.Flags&parse.FlagMultiple != 0 && len(op.Members) > 0 {
		maxDur := 0
		for _, sub := range op.Members {
			if d := l.g.Op(sub).TimeMS; d > maxDur {
				maxDur = d
			}
		}
		for _, sub := range op.Members {
			l.g.Op(sub).TimeMS = maxDur
		}
		op.TimeMS = maxDur
	}
}

// compositePass implements spec 4.3 pass 2: propagate the main operator's
// time into each composite step, inheriting or linking as appropriate,
// and sum the chain's durations back onto the main operator.
func (l *Lowering) compositePass() {
	for i := range l.g.Ops {
		op := &l.g.Ops[i]
		if op.CompositeNext == parse.NoOp {
			continue
		}
		if !isMainComposite(l.g, op.ID) {
			continue
		}
		total := op.TimeMS
		cur := op.CompositeNext
		prevDur := op.TimeMS - op.Silence
		linked := op.Flags&parse.FlagLinked != 0
		for cur != parse.NoOp {
			step := l.g.Op(cur)
			if step.Flags&parse.FlagTimeSet == 0 {
				step.TimeMS = prevDur
			}
			if step.Flags&parse.FlagNested != 0 && step.CompositeNext == parse.NoOp {
				step.Flags |= parse.FlagLinked
				linked = true
			}
			prevDur = step.TimeMS - step.Silence
			total += step.TimeMS
			cur = step.CompositeNext
		}
		if linked {
			op.Flags |= parse.FlagLinked
		} else {
			op.TimeMS = total
		}
	}
}

// isMainComposite reports whether ref is the head of a composite chain
// (i.e. not itself a composite step of some earlier operator).
func isMainComposite(g *parse.Graph, ref parse.OpRef) bool {
	for i := range g.Ops {
		if g.Ops[i].CompositeNext == ref {
			return false
		}
	}
	return true
}

// groupPass implements spec 4.3 pass 3: synchronises the duration of
// every operator in a "|"-delimited group to the group's longest member.
// Operators that authored an explicit time take the group max outright;
// operators left unset take the max plus a per-member stagger ("wait +
// waitcount"), so that within one group later-declared unset operators
// still start after earlier ones rather than colliding. A group's max is
// absorbed into the wait of the event following it exactly once, even
// when several "|"-bounded groups over the same run share that event (the
// run's final, largest group subsumes the absorption already made by its
// prefixes).
func (l *Lowering) groupPass() {
	absorbed := map[parse.EventID]int{}
	for _, grp := range l.g.Groups {
		maxDur := 0
		for _, ref := range grp.Ops {
			if d := l.g.Op(ref).TimeMS; d > maxDur {
				maxDur = d
			}
		}
		waitcount := 0
		for _, ref := range grp.Ops {
			op := l.g.Op(ref)
			if op.Flags&parse.FlagTimeSet == 0 {
				op.TimeMS = maxDur + waitcount
				waitcount++
			} else {
				op.TimeMS = maxDur
			}
		}
		if int(grp.After) < len(l.g.Events) {
			if maxDur > absorbed[grp.After] {
				l.g.Events[grp.After].WaitMS += maxDur - absorbed[grp.After]
				absorbed[grp.After] = maxDur
			}
		}
	}
}

// compositeFlatten is one composite step pending insertion into the flat
// timeline, carrying enough information to order it deterministically.
type compositeFlatten struct {
	mainEvent  parse.EventID
	op         parse.OpRef
	order      int // declaration order, the flatten tie-break (Open Question 4)
	offsetMS   int // accumulated wait since the main event
}

// flattenPass implements spec 4.3 pass 4: splice composite chains into
// the main timeline as their own events, ordered by accumulated wait and,
// on exact ties, by declaration order (the stable rule this rewrite
// documents for Open Question 4 in DESIGN.md).
func (l *Lowering) flattenPass() ([]program.Event, error) {
	var pending []compositeFlatten
	for i := range l.g.Events {
		ev := &l.g.Events[i]
		for _, ref := range ev.NewOps {
			l.collectComposites(parse.EventID(i), ref, &pending)
		}
		for _, ref := range ev.UpdateOps {
			l.collectComposites(parse.EventID(i), ref, &pending)
		}
	}
	sort.SliceStable(pending, func(a, b int) bool {
		if pending[a].mainEvent != pending[b].mainEvent {
			return pending[a].mainEvent < pending[b].mainEvent
		}
		if pending[a].offsetMS != pending[b].offsetMS {
			return pending[a].offsetMS < pending[b].offsetMS
		}
		return pending[a].order < pending[b].order
	})

	events := make([]program.Event, 0, len(l.g.Events)+len(pending))
	pendingByEvent := make(map[parse.EventID][]compositeFlatten)
	for _, cf := range pending {
		pendingByEvent[cf.mainEvent] = append(pendingByEvent[cf.mainEvent], cf)
	}

	ctx := newOpContext()
	lastEventForOp := make(map[program.OpID]int)
	lastVoiceEvent := -1
	link := func(pe *program.Event) {
		idx := len(events)
		for _, u := range pe.Ops {
			if prev, ok := lastEventForOp[u.Op]; ok {
				pe.PrevForOp[u.Op] = prev
			}
			lastEventForOp[u.Op] = idx
		}
		if pe.Voice != nil {
			pe.PrevForVoice = lastVoiceEvent
			lastVoiceEvent = idx
		}
	}

	for i := range l.g.Events {
		src := &l.g.Events[i]
		pe, err := l.buildEvent(src, ctx)
		if err != nil {
			return nil, err
		}
		// A vacuous event (no wait, no operator or voice update) is
		// dropped rather than emitted: the boundary case "a script
		// consisting only of S" must produce an empty Program (spec
		// 8), and the parser always opens one placeholder top-level
		// event before the first real statement.
		if pe.WaitMS == 0 && len(pe.Ops) == 0 && pe.Voice == nil {
			continue
		}
		link(&pe)
		events = append(events, pe)
		for _, cf := range pendingByEvent[parse.EventID(i)] {
			step := l.g.Op(cf.op)
			ce, err := l.buildCompositeEvent(step, ctx)
			if err != nil {
				return nil, err
			}
			link(&ce)
			events = append(events, ce)
		}
	}
	return events, nil
}

func (l *Lowering) collectComposites(mainEvent parse.EventID, ref parse.OpRef, pending *[]compositeFlatten) {
	op := l.g.Op(ref)
	offset := op.TimeMS
	order := 0
	cur := op.CompositeNext
	for cur != parse.NoOp {
		step := l.g.Op(cur)
		order++
		*pending = append(*pending, compositeFlatten{
			mainEvent: mainEvent,
			op:        cur,
			order:     order,
			offsetMS:  offset,
		})
		offset += step.TimeMS
		cur = step.CompositeNext
	}
}

func (l *Lowering) buildEvent(src *parse.Event, ctx *opContext) (program.Event, error) {
	pe := program.Event{
		WaitMS:       src.WaitMS,
		PrevForVoice: -1,
		PrevForOp:    make(map[program.OpID]int),
	}
	for _, ref := range src.NewOps {
		if err := l.appendOpUpdates(ref, ctx, &pe); err != nil {
			return pe, err
		}
	}
	for _, ref := range src.UpdateOps {
		if err := l.appendOpUpdates(ref, ctx, &pe); err != nil {
			return pe, err
		}
	}
	// Every event that introduces a new top-level (non-nested) operator
	// roots a voice: the spec's Voice has no dedicated grammar production,
	// so this rewrite identifies a voice with its first carrier's OpID
	// (documented in DESIGN.md's Open Question 6 discussion).
	var carriers []program.OpID
	for _, ref := range src.NewOps {
		collectCarriers(l.g, ref, &carriers)
	}
	if len(carriers) > 0 || src.ChanMixSet || src.PanSet {
		pe.Voice = &program.VoiceUpdate{Carriers: carriers}
		if len(carriers) > 0 {
			pe.Voice.Voice = program.VoiceID(carriers[0])
		}
		if src.ChanMixSet {
			pe.Voice.ChanMix = src.ChanMix
			pe.Voice.Params |= program.VoiceParamChanMix
		} else {
			pe.Voice.ChanMix = src.ChanMix
		}
		if src.PanSet {
			pe.Voice.Pan = src.Pan
			pe.Voice.Params |= program.VoiceParamPan
		}
	}
	return pe, nil
}

// collectCarriers appends the operator IDs of every non-nested operator
// reachable from ref (expanding bind-scope members) — the carriers for
// the voice this event roots (spec glossary "Carrier").
func collectCarriers(g *parse.Graph, ref parse.OpRef, out *[]program.OpID) {
	op := g.Op(ref)
	if op.Flags&parse.FlagMultiple != 0 {
		for _, m := range op.Members {
			collectCarriers(g, m, out)
		}
		return
	}
	if op.Flags&parse.FlagNested == 0 {
		*out = append(*out, program.OpID(op.RefOp))
	}
}

func (l *Lowering) buildCompositeEvent(step *parse.Op, ctx *opContext) (program.Event, error) {
	upd, err := l.opUpdateFrom(step, ctx)
	if err != nil {
		return program.Event{}, err
	}
	return program.Event{
		WaitMS:       0,
		Ops:          []program.OpUpdate{upd},
		PrevForVoice: -1,
		PrevForOp:    make(map[program.OpID]int),
	}, nil
}

// appendOpUpdates emits one OpUpdate per addressable operator reachable
// from ref. Bind-scope (Multiple) nodes are a lowering-only grouping
// construct (Open Question 1 decision, DESIGN.md) with no Program
// identity of their own: they expand into their member operators, each
// sharing the duration groupPass/timePass already assigned the group.
func (l *Lowering) appendOpUpdates(ref parse.OpRef, ctx *opContext, pe *program.Event) error {
	op := l.g.Op(ref)
	if op.Flags&parse.FlagMultiple != 0 {
		for _, member := range op.Members {
			if err := l.appendOpUpdates(member, ctx, pe); err != nil {
				return err
			}
		}
		return nil
	}
	upd, err := l.opUpdateFrom(op, ctx)
	if err != nil {
		return err
	}
	pe.Ops = append(pe.Ops, upd)
	return nil
}

func (l *Lowering) opUpdateFrom(op *parse.Op, ctx *opContext) (program.OpUpdate, error) {
	if ctx.newestFor(op.RefOp) != parse.NoOp {
		ctx.prev[op.ID] = ctx.newestFor(op.RefOp)
	}
	ctx.setNewest(op.RefOp, op.ID)

	upd := program.OpUpdate{
		Op:     program.OpID(op.RefOp),
		Wave:   op.Wave,
		TimeMS: op.TimeMS,
	}
	upd.Params |= program.ParamWave | program.ParamTime
	if op.Silence != 0 {
		upd.Silence = op.Silence
		upd.Params |= program.ParamSilence
	}
	if op.FreqSet {
		upd.Freq = op.Freq
		upd.Params |= program.ParamFreq
	}
	if op.Freq2Set {
		upd.Freq2 = op.Freq2
		upd.Params |= program.ParamFreq2
	}
	if op.AmpSet {
		upd.Amp = op.Amp
		upd.Params |= program.ParamAmp
	}
	if op.Amp2Set {
		upd.Amp2 = op.Amp2
		upd.Params |= program.ParamAmp2
	}
	if op.PhaseSet {
		upd.Phase = op.Phase
		upd.Params |= program.ParamPhase
	}
	attr := program.OpAttr(0)
	if op.Flags&parse.FlagRelFreq != 0 {
		attr |= program.AttrFreqRatio
	}
	if op.Flags&parse.FlagLinked != 0 {
		attr |= program.AttrTimeLinked
	}
	if op.Flags&parse.FlagTimeSet != 0 {
		attr |= program.AttrTimeSet
	}
	if op.Flags&parse.FlagSilenceAdded != 0 {
		attr |= program.AttrSilenceAdded
	}
	upd.Attr = attr
	upd.Params |= program.ParamAttr

	if len(op.FMod) > 0 {
		upd.FMod = mapOpIDs(op.FMod)
		upd.Params |= program.ParamFMod
	}
	if len(op.PMod) > 0 {
		upd.PMod = mapOpIDs(op.PMod)
		upd.Params |= program.ParamPMod
	}
	if len(op.AMod) > 0 {
		upd.AMod = mapOpIDs(op.AMod)
		upd.Params |= program.ParamAMod
	}
	return upd, nil
}

func mapOpIDs(refs []parse.OpRef) []program.OpID {
	out := make([]program.OpID, len(refs))
	for i, r := range refs {
		out[i] = program.OpID(r)
	}
	return out
}

func (c *opContext) newestFor(ref parse.OpRef) parse.OpRef {
	if v, ok := c.newest[ref]; ok {
		return v
	}
	return parse.NoOp
}

func (c *opContext) setNewest(ref parse.OpRef, node parse.OpRef) {
	c.newest[ref] = node
}

// assignIDs counts distinct operators and voices referenced by the
// flattened event stream so the Program can size its flat state arrays.
func (l *Lowering) assignIDs(prog *program.Program) {
	ops := make(map[program.OpID]bool)
	voices := make(map[program.VoiceID]bool)
	for _, ev := range prog.Events {
		for _, u := range ev.Ops {
			ops[u.Op] = true
		}
		if ev.Voice != nil && len(ev.Voice.Carriers) > 0 {
			voices[ev.Voice.Voice] = true
		}
	}
	prog.NumOps = len(ops)
	prog.NumVoices = len(voices)
}
