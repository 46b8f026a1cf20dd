// Package program defines the linear, immutable event stream produced by
// lowering: the form the generator actually interprets.
package program

// OpID and VoiceID are stable indices into the Program's flat operator and
// voice state arrays.
type OpID int
type VoiceID int

const NoOp OpID = -1
const NoVoice VoiceID = -1

// Wave selects a named periodic function (see internal/wavetable).
type Wave int

const (
	WaveSin Wave = iota
	WaveTri
	WaveSqr
	WaveSaw
)

func (w Wave) String() string {
	switch w {
	case WaveSin:
		return "sin"
	case WaveTri:
		return "tri"
	case WaveSqr:
		return "sqr"
	case WaveSaw:
		return "saw"
	default:
		return "?"
	}
}

// ChanMix selects how a voice's output is placed in the stereo field.
type ChanMix int

const (
	ChanCenter ChanMix = iota
	ChanLeft
	ChanRight
)

// OpAttr holds boolean attribute bits for an operator.
type OpAttr uint8

const (
	AttrFreqRatio OpAttr = 1 << iota // freq is a multiplier on the parent's frequency
	AttrTimeLinked                   // duration inherited from the enclosing carrier
	AttrTimeSet                      // time was explicitly authored
	AttrSilenceAdded                 // silence_ms has already been folded into time_ms
)

// ParamMask marks which fields of an OpUpdate are meaningful.
type ParamMask uint16

const (
	ParamWave ParamMask = 1 << iota
	ParamTime
	ParamSilence
	ParamFreq
	ParamFreq2
	ParamPhase
	ParamAmp
	ParamAmp2
	ParamAttr
	ParamFMod
	ParamPMod
	ParamAMod
)

// OpUpdate is the set of per-operator fields an event may change.
type OpUpdate struct {
	Op      OpID
	Params  ParamMask
	Wave    Wave
	TimeMS  int
	Silence int
	Freq    Ramp
	Freq2   Ramp
	Phase   float64
	Amp     Ramp
	Amp2    Ramp
	Attr    OpAttr

	FMod []OpID
	PMod []OpID
	AMod []OpID
}

// VoiceParamMask marks which fields of a VoiceUpdate are meaningful.
type VoiceParamMask uint8

const (
	VoiceParamPan VoiceParamMask = 1 << iota
	VoiceParamChanMix
)

// VoiceUpdate is the set of per-voice fields an event may change.
type VoiceUpdate struct {
	Voice    VoiceID
	Params   VoiceParamMask
	Pan      Ramp
	ChanMix  ChanMix
	Carriers []OpID
}

// Event is one entry in the flat, time-ordered program.
type Event struct {
	WaitMS int
	Voice  *VoiceUpdate
	Ops    []OpUpdate

	// PrevForVoice/PrevForOp give, for each touched voice/operator, the
	// index of the previous event in Events that touched it, or -1.
	PrevForVoice int
	PrevForOp    map[OpID]int
}

// Defaults mirrors the script-level "S" statement fields (spec 3.1).
type Defaults struct {
	AmpMul   float64
	Freq     float64
	A4Freq   float64
	RelFreq  float64
	TimeMS   int
	ChanMix  ChanMix
}

func DefaultDefaults() Defaults {
	return Defaults{
		AmpMul:  1,
		Freq:    444,
		A4Freq:  444,
		RelFreq: 1,
		TimeMS:  1000,
		ChanMix: ChanCenter,
	}
}

// Program is the immutable, linear compiled form of a script.
type Program struct {
	Name      string
	Defaults  Defaults
	Events    []Event
	NumOps    int
	NumVoices int
}

// DurationMS returns the program's total nominal duration, the sum of
// every event's wait time.
func (p *Program) DurationMS() int {
	total := 0
	for _, e := range p.Events {
		total += e.WaitMS
	}
	return total
}
