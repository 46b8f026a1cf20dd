// Package parse implements the recursive-descent parser that turns SAU
// script source into a ParseGraph: an arena of events and operator
// references addressed by stable index, ready for lowering.
package parse

import (
	"github.com/sauaudio/sau/internal/program"
	"github.com/sauaudio/sau/internal/scanner"
)

// EventID and OpRef are stable indices into a Graph's arenas. Representing
// relationships as indices (rather than pointers) keeps the arena
// relocatable and trivially copyable, and lets lowering record back-edges
// without needing the graph to escape to the heap pointer-by-pointer.
type EventID int
type OpRef int

const NoEvent EventID = -1
const NoOp OpRef = -1

// OpFlag mirrors the attribute bits used throughout parsing and lowering.
type OpFlag uint16

const (
	FlagNested OpFlag = 1 << iota
	FlagMultiple
	FlagTimeSet
	FlagInfiniteTime
	FlagSilenceAdded
	FlagRelFreq
	FlagIgnored
	FlagLaterUsed
	FlagNewCarrier
	FlagIsUpdate
	FlagLinked
)

// Op is one parsed operator reference: either the first definition of an
// operator (via "O<wave>") or a later update to one (via a label
// reference or a composite step).
type Op struct {
	ID    OpRef
	Event EventID

	Wave  program.Wave
	Flags OpFlag

	Label    scanner.SymbolID
	HasLabel bool

	// RefOp, for an update node (FlagIsUpdate set), is the operator
	// being updated; for a first-definition node it equals ID.
	RefOp OpRef

	Members []OpRef // bind-scope (Multiple) constituent operators

	TimeMS   int
	Silence  int
	Freq     program.Ramp
	FreqSet  bool
	Freq2    program.Ramp
	Freq2Set bool
	Amp      program.Ramp
	AmpSet   bool
	Amp2     program.Ramp
	Amp2Set  bool
	Phase    float64
	PhaseSet bool
	ChanMix  program.ChanMix
	ChanMixSet bool

	FMod []OpRef
	PMod []OpRef
	AMod []OpRef

	// CompositeNext chains this operator's next composite step (";"),
	// in declaration order. CompositeIndex is that order (1 for the first
	// step); lowering's flatten pass recomputes the same order as its
	// tie-break at equal wait times.
	CompositeNext  OpRef
	CompositeIndex int

	// AddWaitDuration is set by "\t" referencing this operator: its
	// resolved time_ms should be folded into the following event's wait.
	AddWaitDuration bool
}

// Event is one parsed event: a wait plus the operators it creates or
// updates.
type Event struct {
	ID     EventID
	WaitMS int
	// WaitIsPrevDur marks a "\t" wait: the actual delay is filled in
	// during the time pass from the referenced operator's duration.
	WaitIsPrevDur bool

	NewOps    []OpRef // operators first defined at this event
	UpdateOps []OpRef // existing operators referenced/updated at this event

	ChanMix    program.ChanMix
	ChanMixSet bool
	Pan        program.Ramp
	PanSet     bool
}

// Graph is the full parsed-but-unlowered form of one script.
type Graph struct {
	Syms   *scanner.SymbolTable
	Events []Event
	Ops    []Op
	Labels map[scanner.SymbolID]OpRef
	Groups []Group

	Defaults program.Defaults
}

func NewGraph(syms *scanner.SymbolTable) *Graph {
	return &Graph{
		Syms:     syms,
		Labels:   make(map[scanner.SymbolID]OpRef),
		Defaults: program.DefaultDefaults(),
	}
}

func (g *Graph) newEvent() EventID {
	id := EventID(len(g.Events))
	g.Events = append(g.Events, Event{ID: id})
	return id
}

func (g *Graph) newOp(ev EventID, wave program.Wave) OpRef {
	id := OpRef(len(g.Ops))
	g.Ops = append(g.Ops, Op{ID: id, Event: ev, Wave: wave, RefOp: id, CompositeNext: NoOp})
	return id
}

func (g *Graph) Op(r OpRef) *Op       { return &g.Ops[r] }
func (g *Graph) Event(e EventID) *Event { return &g.Events[e] }
