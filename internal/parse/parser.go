package parse

import (
	"fmt"
	"math"

	"github.com/sauaudio/sau/internal/program"
	"github.com/sauaudio/sau/internal/scanner"
)

// Group records a "|"-terminated span of newly-defined operators whose
// durations must be synchronised by the lowering group pass (spec 4.3).
// Membership is tracked by operator, not by event range, because several
// "|"-separated groups commonly share a single event (no "\" wait
// appears between them).
type Group struct {
	Ops []OpRef
	// After EventID is the event immediately following the group's
	// last member event, which absorbs the group's max duration into
	// its own wait.
	After EventID
}

// scopeKind distinguishes the four nesting levels the parser tracks.
type scopeKind int

const (
	scopeTop scopeKind = iota
	scopeBlock
	scopeBind
	scopeNest
)

// listKind selects which modulator list (or the main graph) new operators
// in the current scope are appended to.
type listKind int

const (
	listGraph listKind = iota
	listFMod
	listPMod
	listAMod
	listBind
)

type scopeFrame struct {
	kind         scopeKind
	curEvent     EventID
	lastOp       OpRef // most recently defined/updated operator, for "\t"
	listKind     listKind
	groupMembers []OpRef // operators defined since the run of "|"s began in this scope
	groupFlushed int     // len(groupMembers) already captured by a "|" in the current run; 0 means no "|" has fired yet
	bindOps      []OpRef // accumulated for scopeBind
	compIndex    int     // running composite-chain counter for the enclosing operator
}

// Parser performs the recursive-descent parse of SAU script source into a
// Graph of events and operator references.
type Parser struct {
	sc     *scanner.Scanner
	syms   *scanner.SymbolTable
	g      *Graph
	scopes []scopeFrame
	groups []Group
	failed bool

	pendingLabel     scanner.SymbolID
	havePendingLabel bool
}

// Parse compiles src into a Graph. Syntax errors are recovered locally and
// reported as warnings (spec 4.2 "Failure semantics"); Parse only returns
// an error for conditions the scanner contract treats as fatal (none at
// present — kept for interface symmetry with lowering/program, which can
// fail).
func Parse(src []byte) (*Graph, []scanner.Diagnostic, error) {
	syms := scanner.NewSymbolTable()
	sc := scanner.New(src, syms)
	sc.SetWhitespaceMode(scanner.WSSkip)
	p := &Parser{sc: sc, syms: syms, g: NewGraph(syms)}
	p.parseScript()
	if p.failed {
		return nil, sc.Diagnostics(), fmt.Errorf("compile failed")
	}
	p.g.Groups = p.groups
	return p.g, sc.Diagnostics(), nil
}

func (p *Parser) top() *scopeFrame { return &p.scopes[len(p.scopes)-1] }

func (p *Parser) pushScope(kind scopeKind, ev EventID, lk listKind) {
	p.scopes = append(p.scopes, scopeFrame{kind: kind, curEvent: ev, lastOp: NoOp, listKind: lk})
}

func (p *Parser) popScope() scopeFrame {
	f := &p.scopes[len(p.scopes)-1]
	p.flushGroupRun(f, f.curEvent+1)
	ret := *f
	p.scopes = p.scopes[:len(p.scopes)-1]
	return ret
}

func (p *Parser) newEventInScope() EventID {
	f := p.top()
	p.flushGroupRun(f, f.curEvent+1)
	id := p.g.newEvent()
	f.curEvent = id
	return id
}

// flushGroupRun closes out a run of "|"-separated groups in the given
// frame once a real timing or scope boundary is reached (a "\" wait, a
// scope close, or the end of a top-level line). If the run picked up
// members after its last "|" (a trailing operator with no terminating
// "|"), those members still belong to the synchronised run, so one final
// Group covering all of them is recorded here.
func (p *Parser) flushGroupRun(f *scopeFrame, after EventID) {
	if f.groupFlushed > 0 && len(f.groupMembers) > f.groupFlushed {
		p.groups = append(p.groups, Group{Ops: append([]OpRef(nil), f.groupMembers...), After: after})
	}
	f.groupMembers = nil
	f.groupFlushed = 0
}

func (p *Parser) parseScript() {
	ev := p.g.newEvent()
	p.pushScope(scopeTop, ev, listGraph)
	for {
		p.skipLineBreaks()
		c, ok := p.sc.Getc()
		if !ok {
			break
		}
		p.sc.Ungetc()
		if c == 'S' {
			p.parseSettingsLine()
		} else {
			p.parseEventSeq(endOfLine)
		}
		f := p.top()
		p.flushGroupRun(f, f.curEvent+1)
		if p.sc.Quit() {
			break
		}
	}
	p.popScope()
}

func (p *Parser) skipLineBreaks() {
	// Getc already normalises space/tab/CR/linebreak under WSSkip, so
	// lines are implicitly joined; top-level statement boundaries are
	// recognised lexically by their leading keyword, not by explicit
	// line-break tokens.
}

// endOfLine is a sentinel terminator set understood by parseEventSeq: the
// byte that should stop the current event sequence (0 means "run to EOF
// or a bracket close handled by the caller").
type terminator byte

const endOfLine terminator = 0
const endBracket terminator = ']'

func (p *Parser) parseSettingsLine() {
	p.sc.Getc() // consume 'S'
	for {
		c, ok := p.sc.Getc()
		if !ok {
			return
		}
		switch c {
		case 'a':
			if v, ok := p.sc.Getd(nil); ok {
				p.g.Defaults.AmpMul = v
			}
		case 'n':
			if v, ok := p.sc.Getd(nil); ok {
				p.g.Defaults.A4Freq = v
			}
		case 'f':
			if v, ok := p.readNoteOrNumber(); ok {
				p.g.Defaults.Freq = v
			}
		case 'r':
			if v, ok := p.sc.Getd(nil); ok {
				p.g.Defaults.RelFreq = v
			}
		case 't':
			if v, ok := p.sc.Getd(nil); ok {
				p.g.Defaults.TimeMS = msFromSeconds(v)
			}
		case 'c':
			p.parseChanMixToken(&p.g.Defaults.ChanMix, nil)
		default:
			p.sc.Ungetc()
			return
		}
	}
}

// parseEventSeq parses a run of wait/label/operator/block/bind statements
// until EOF, the given terminator byte, or a byte it does not recognise
// (at which point it stops without consuming, letting the caller decide).
func (p *Parser) parseEventSeq(term terminator) {
	for {
		c, ok := p.sc.Getc()
		if !ok {
			return
		}
		if term != endOfLine && c == byte(term) {
			return
		}
		switch c {
		case '\\':
			p.parseWait()
		case '\'':
			p.parseLabelDef()
		case '@':
			p.parseAtToken()
		case 'O':
			p.parseOperator()
		case '[':
			p.parseBlock()
		case '|':
			p.parseGroupEnd()
		case 'S':
			// A new settings line ends this sequence at top level.
			if term == endOfLine {
				p.sc.Ungetc()
				return
			}
			p.sc.Warningf("unexpected 'S' inside scope")
		default:
			p.sc.Warningf("unknown character %q", c)
		}
		if p.sc.Quit() {
			return
		}
	}
}

func (p *Parser) parseWait() {
	if p.sc.Tryc('t') {
		frame := p.top()
		ref := frame.lastOp
		if ref == NoOp {
			p.sc.Warningf("\\t with no previous operator")
			return
		}
		p.g.Op(ref).AddWaitDuration = true
		id := p.newEventInScope()
		p.g.Event(id).WaitIsPrevDur = true
		return
	}
	v, ok := p.sc.Getd(nil)
	if !ok {
		p.sc.Warningf("expected time value after '\\\\'")
		return
	}
	if v < 0 {
		p.sc.Warningf("negative wait time discarded")
		v = 0
	}
	id := p.newEventInScope()
	p.g.Event(id).WaitMS = msFromSeconds(v)
}

// parseGroupEnd handles a "|" token. Unlike the other group-run boundaries,
// it does not clear groupMembers: several "|"s commonly chain in one run
// ("Osin... | Osin... | Osin..."), and every operator defined since the run
// began must end up in the final (largest) group, not just the pair
// straddling one "|".
func (p *Parser) parseGroupEnd() {
	f := p.top()
	if len(f.groupMembers) == 0 {
		return
	}
	after := f.curEvent + 1
	p.groups = append(p.groups, Group{Ops: append([]OpRef(nil), f.groupMembers...), After: after})
	f.groupFlushed = len(f.groupMembers)
}

func (p *Parser) parseLabelDef() {
	id, ok := p.sc.GetSymstr()
	if !ok {
		p.sc.Warningf("expected label name after \"'\"")
		return
	}
	p.pendingLabel = id
	p.havePendingLabel = true
}

func (p *Parser) parseAtToken() {
	if p.sc.Tryc('[') {
		p.parseBind()
		return
	}
	id, ok := p.sc.GetSymstr()
	if !ok {
		p.sc.Warningf("expected label name after '@'")
		return
	}
	ref, found := p.g.Labels[id]
	if !found {
		p.sc.Warningf("reference to undefined label %q", p.syms.String(id))
		return
	}
	frame := p.top()
	op := p.g.newOp(frame.curEvent, p.g.Op(ref).Wave)
	o := p.g.Op(op)
	o.Flags |= FlagIsUpdate
	o.RefOp = ref
	o.Flags |= p.g.Op(ref).Flags & FlagNested
	p.attachStepsTarget(op)
	p.g.Op(ref).Flags |= FlagLaterUsed
	p.appendUpdate(op)
	frame.lastOp = op
}

func (p *Parser) appendUpdate(op OpRef) {
	f := p.top()
	switch f.listKind {
	case listGraph:
		ev := p.g.Event(f.curEvent)
		ev.UpdateOps = append(ev.UpdateOps, op)
	case listFMod, listPMod, listAMod, listBind:
		f.bindOps = append(f.bindOps, op)
	}
}

func (p *Parser) appendNew(op OpRef) {
	f := p.top()
	switch f.listKind {
	case listGraph:
		ev := p.g.Event(f.curEvent)
		ev.NewOps = append(ev.NewOps, op)
	case listFMod, listPMod, listAMod, listBind:
		f.bindOps = append(f.bindOps, op)
	}
}

func (p *Parser) parseBind() {
	frame := p.top()
	p.pushScope(scopeBind, frame.curEvent, listBind)
	p.parseEventSeq(endBracket)
	bf := p.popScope()
	if len(bf.bindOps) == 0 {
		p.sc.Warningf("empty bind scope")
		return
	}
	op := p.g.newOp(frame.curEvent, p.g.Op(bf.bindOps[0]).Wave)
	o := p.g.Op(op)
	o.Flags |= FlagMultiple
	o.Members = bf.bindOps
	p.appendNew(op)
	p.top().lastOp = op
}

func (p *Parser) parseBlock() {
	frame := p.top()
	p.pushScope(scopeBlock, frame.curEvent, frame.listKind)
	p.parseEventSeq(endBracket)
	bf := p.popScope()
	if bf.lastOp != NoOp {
		p.top().lastOp = bf.lastOp
	}
}

func (p *Parser) parseOperator() {
	waveID, ok := p.sc.GetSymstr()
	if !ok {
		p.sc.Warningf("expected wave type after 'O'")
		return
	}
	wave, ok := parseWaveName(p.syms.String(waveID))
	if !ok {
		p.sc.Warningf("unknown wave type %q", p.syms.String(waveID))
		wave = program.WaveSin
	}
	frame := p.top()
	op := p.g.newOp(frame.curEvent, wave)
	o := p.g.Op(op)
	if frame.kind == scopeNest {
		o.Flags |= FlagNested
	}
	if p.havePendingLabel {
		o.Label = p.pendingLabel
		o.HasLabel = true
		p.g.Labels[p.pendingLabel] = op
		p.havePendingLabel = false
	}
	p.appendNew(op)
	frame.lastOp = op
	if frame.listKind == listGraph {
		frame.groupMembers = append(frame.groupMembers, op)
	}
	p.parseSteps(op, 0)
}

// parseSteps parses the step* suffix following an operator definition or
// label reference, including chained composites ("; step*").
func (p *Parser) parseSteps(op OpRef, compIdx int) {
	for {
		c, ok := p.sc.Getc()
		if !ok {
			return
		}
		switch c {
		case 'a':
			p.parseAmpSpec(op)
		case 'f':
			p.parseFreqSpec(op, false)
		case 'r':
			p.parseFreqSpec(op, true)
		case 'p':
			p.parsePhaseSpec(op)
		case 'c':
			p.parseOpChanMix(op)
		case 't':
			p.parseTimeSpec(op)
		case 's':
			p.parseSilenceSpec(op)
		case 'w':
			p.parseWaveSet(op)
		case ';':
			next := p.g.newOp(p.g.Op(op).Event, p.g.Op(op).Wave)
			no := p.g.Op(next)
			no.Flags |= p.g.Op(op).Flags & FlagNested
			no.Flags |= FlagIsUpdate
			no.RefOp = p.g.Op(op).RefOp
			no.CompositeIndex = compIdx + 1
			p.g.Op(op).CompositeNext = next
			p.top().lastOp = next
			p.parseSteps(next, compIdx+1)
			return
		default:
			p.sc.Ungetc()
			return
		}
	}
}

// attachStepsTarget parses the step* suffix for a label-reference update
// node (grammar: label_ref := '@' NAME step*).
func (p *Parser) attachStepsTarget(op OpRef) { p.parseSteps(op, 0) }

func (p *Parser) parseAmpSpec(op OpRef) {
	r, ok := p.parseRamp(false)
	if !ok {
		p.sc.Warningf("expected ramp value after 'a'")
		return
	}
	o := p.g.Op(op)
	o.Amp, o.AmpSet = r, true
	if p.sc.Tryc(',') {
		if r2, ok := p.parseRamp(false); ok {
			o.Amp2, o.Amp2Set = r2, true
		}
	}
	if p.sc.Tryc('~') {
		if p.sc.Tryc('[') {
			mods := p.parseModulators(endBracket)
			p.g.Op(op).AMod = mods
		}
	}
}

func (p *Parser) parseFreqSpec(op OpRef, ratio bool) {
	r, ok := p.parseRamp(false)
	if !ok {
		p.sc.Warningf("expected ramp value after freq spec")
		return
	}
	if ratio {
		r.Flags |= program.FlagStateRatio
	}
	o := p.g.Op(op)
	o.Freq, o.FreqSet = r, true
	if ratio {
		o.Flags |= FlagRelFreq
	}
	if p.sc.Tryc(',') {
		if r2, ok := p.parseRamp(false); ok {
			if ratio {
				r2.Flags |= program.FlagGoalRatio
			}
			o.Freq2, o.Freq2Set = r2, true
		}
	}
	if p.sc.Tryc('~') {
		if p.sc.Tryc('[') {
			mods := p.parseModulators(endBracket)
			p.g.Op(op).FMod = mods
		}
	}
}

func (p *Parser) parsePhaseSpec(op OpRef) {
	// A bare "p+[...]" (no number before the modulator list) is valid:
	// the worked FM-rumble example (spec 8, scenario 3) omits it,
	// meaning "start from phase 0".
	v, ok := p.sc.Getd(nil)
	if !ok {
		v = 0
	}
	o := p.g.Op(op)
	o.Phase, o.PhaseSet = v-floorToInt(v), true
	if p.sc.Tryc('+') {
		if p.sc.Tryc('[') {
			mods := p.parseModulators(endBracket)
			p.g.Op(op).PMod = mods
		}
	}
}

func floorToInt(v float64) float64 {
	i := float64(int(v))
	if v < 0 && i != v {
		i -= 1
	}
	return i
}

func (p *Parser) parseOpChanMix(op OpRef) {
	ev := p.g.Event(p.g.Op(op).Event)
	p.parseChanMixToken(&ev.ChanMix, &ev.ChanMixSet)
}

func (p *Parser) parseChanMixToken(dst *program.ChanMix, setFlag *bool) {
	if p.sc.Tryc('l') {
		*dst = program.ChanLeft
	} else if p.sc.Tryc('r') {
		*dst = program.ChanRight
	} else if p.sc.Tryc('c') {
		*dst = program.ChanCenter
	} else if _, ok := p.sc.Getd(nil); ok {
		*dst = program.ChanCenter // the numeric pan value is read and discarded
	} else {
		return
	}
	if setFlag != nil {
		*setFlag = true
	}
}

func (p *Parser) parseTimeSpec(op OpRef) {
	o := p.g.Op(op)
	if p.sc.Tryc('*') {
		o.Flags &^= FlagTimeSet
		o.TimeMS = 0
		return
	}
	if p.sc.Tryc('i') {
		if o.Flags&FlagNested == 0 {
			p.sc.Warningf("'ti' used on a non-nested operator")
			return
		}
		o.Flags |= FlagInfiniteTime
		return
	}
	v, ok := p.sc.Getd(nil)
	if !ok {
		p.sc.Warningf("expected time value after 't'")
		return
	}
	if v < 0 {
		p.sc.Warningf("negative time value discarded")
		return
	}
	o.TimeMS = msFromSeconds(v)
	o.Flags |= FlagTimeSet
}

func (p *Parser) parseSilenceSpec(op OpRef) {
	v, ok := p.sc.Getd(nil)
	if !ok {
		p.sc.Warningf("expected time value after 's'")
		return
	}
	if v < 0 {
		p.sc.Warningf("negative silence value discarded")
		return
	}
	p.g.Op(op).Silence = msFromSeconds(v)
}

func (p *Parser) parseWaveSet(op OpRef) {
	id, ok := p.sc.GetSymstr()
	if !ok {
		p.sc.Warningf("expected wave type after 'w'")
		return
	}
	wave, ok := parseWaveName(p.syms.String(id))
	if !ok {
		p.sc.Warningf("unknown wave type %q", p.syms.String(id))
		return
	}
	p.g.Op(op).Wave = wave
}

// parseModulators parses the event_seq inside a "~[...]" / "+[...]" nest
// scope and returns the operators it created, each flagged Nested.
func (p *Parser) parseModulators(term terminator) []OpRef {
	frame := p.top()
	p.pushScope(scopeNest, frame.curEvent, listFMod)
	p.parseEventSeq(term)
	nf := p.popScope()
	return nf.bindOps
}

// parseRamp parses the "ramp" grammar production: a plain number (a
// state-only value) or a "{ ramp_body }" block describing a timed
// transition (spec 4.2 grammar).
func (p *Parser) parseRamp(ratio bool) (program.Ramp, bool) {
	if p.sc.Tryc('{') {
		var r program.Ramp
		r.Flags |= program.FlagState
		haveV0 := false
		for {
			c, ok := p.sc.Getc()
			if !ok {
				p.sc.Warningf("unclosed '{'")
				return r, haveV0
			}
			if c == '}' {
				break
			}
			switch c {
			case 'v':
				if v, ok := p.sc.Getd(nil); ok {
					r.Vt = v
					r.Flags |= program.FlagGoal
				}
			case 't':
				if v, ok := p.sc.Getd(nil); ok {
					r.TimeMS = msFromSeconds(v)
					r.Flags |= program.FlagTimeExplicit
				}
			case 'c':
				if shapeID, ok := p.sc.GetSymstr(); ok {
					r.Shape = parseShapeName(p.syms.String(shapeID))
				}
			default:
				if isDigitByte(c) || c == '-' || c == '+' || c == '.' {
					p.sc.Ungetc()
					if v, ok := p.sc.Getd(nil); ok {
						r.V0 = v
						haveV0 = true
					}
				}
			}
		}
		if haveV0 {
			r.Flags |= program.FlagState
		}
		return r, true
	}
	if v, ok := tryParseNote(p.sc, p.g.Defaults.A4Freq); ok {
		return program.Ramp{V0: v, Shape: program.ShapeState, Flags: program.FlagState}, true
	}
	v, ok := p.sc.Getd(nil)
	if !ok {
		return program.Ramp{}, false
	}
	return program.Ramp{V0: v, Shape: program.ShapeState, Flags: program.FlagState}, true
}

func isDigitByte(b byte) bool { return b >= '0' && b <= '9' }

func (p *Parser) readNoteOrNumber() (float64, bool) {
	if v, ok := tryParseNote(p.sc, p.g.Defaults.A4Freq); ok {
		return v, true
	}
	return p.sc.Getd(nil)
}

func parseWaveName(s string) (program.Wave, bool) {
	switch s {
	case "sin":
		return program.WaveSin, true
	case "tri":
		return program.WaveTri, true
	case "sqr":
		return program.WaveSqr, true
	case "saw":
		return program.WaveSaw, true
	default:
		return program.WaveSin, false
	}
}

func parseShapeName(s string) program.RampShape {
	switch s {
	case "l", "lin":
		return program.ShapeLin
	case "e", "exp":
		return program.ShapeExp
	case "g", "log":
		return program.ShapeLog
	default:
		return program.ShapeState
	}
}

func msFromSeconds(v float64) int { return int(math.Round(v * 1000)) }
