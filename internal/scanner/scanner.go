// Package scanner implements the byte-level lexical collaborator used by
// the script parser: a pushback byte stream with symbol interning,
// numeric-literal reading, and line/column-tagged diagnostics.
package scanner

import (
	"fmt"
	"strconv"
)

// WhitespaceMode controls whether Getc skips runs of space/tab/linebreak.
type WhitespaceMode int

const (
	WSSkip WhitespaceMode = iota
	WSNone
)

// SymbolID is an interned-string handle.
type SymbolID int

// SymbolTable interns identifier strings (label names, wave-type names)
// to small integer handles.
type SymbolTable struct {
	ids  map[string]SymbolID
	strs []string
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{ids: make(map[string]SymbolID)}
}

func (t *SymbolTable) Intern(s string) SymbolID {
	if id, ok := t.ids[s]; ok {
		return id
	}
	id := SymbolID(len(t.strs))
	t.strs = append(t.strs, s)
	t.ids[s] = id
	return id
}

func (t *SymbolTable) String(id SymbolID) string {
	if int(id) < 0 || int(id) >= len(t.strs) {
		return ""
	}
	return t.strs[id]
}

// Diagnostic is a non-fatal warning tagged with source position.
type Diagnostic struct {
	Line, Col int
	Message   string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%d:%d: %s", d.Line, d.Col, d.Message)
}

// Scanner reads a script source buffer byte by byte with one-byte pushback.
type Scanner struct {
	src  []byte
	pos  int
	line int
	col  int

	ungot    bool
	ungotPos int
	ungotLn  int
	ungotCol int

	mode WhitespaceMode
	syms *SymbolTable

	diags []Diagnostic
	quit  bool
}

func New(src []byte, syms *SymbolTable) *Scanner {
	return &Scanner{src: src, line: 1, col: 1, syms: syms}
}

func (s *Scanner) Quit() bool { return s.quit }

func (s *Scanner) Diagnostics() []Diagnostic { return s.diags }

func (s *Scanner) Pos() (line, col int) { return s.line, s.col }

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\r' }
func isBreak(b byte) bool { return b == '\n' }
func isDigit(b byte) bool { return b >= '0' && b <= '9' }
func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b == '_'
}

// Getc returns the next byte, advancing position, or (0, false) at EOF.
// It transparently consumes "#!" line comments and detects "#Q" end of
// input at top level, and in WSSkip mode silently consumes space, tab, CR
// and linebreak bytes.
func (s *Scanner) Getc() (byte, bool) {
	// Ungetc has already rewound pos, so a pushed-back byte is simply
	// read again (under the current whitespace mode).
	s.ungot = false
	for {
		if s.pos >= len(s.src) {
			return 0, false
		}
		b := s.src[s.pos]
		if b == '#' && s.pos+1 < len(s.src) {
			switch s.src[s.pos+1] {
			case '!':
				s.skipLineComment()
				continue
			case 'Q':
				s.quit = true
				s.pos = len(s.src)
				return 0, false
			}
		}
		if s.mode == WSSkip && (isSpace(b) || isBreak(b)) {
			s.advance(b)
			continue
		}
		s.advance(b)
		return b, true
	}
}

func (s *Scanner) skipLineComment() {
	for s.pos < len(s.src) && s.src[s.pos] != '\n' {
		s.pos++
	}
}

func (s *Scanner) advance(b byte) {
	s.ungotPos = s.pos
	s.ungotLn = s.line
	s.ungotCol = s.col
	s.pos++
	if b == '\n' {
		s.line++
		s.col = 1
	} else {
		s.col++
	}
}

// Ungetc pushes the most recently read byte back onto the stream. Only one
// level of pushback is supported, matching the collaborator contract.
func (s *Scanner) Ungetc() {
	s.ungot = true
	s.pos = s.ungotPos
	s.line = s.ungotLn
	s.col = s.ungotCol
}

// Tryc consumes the next byte iff it equals b, reporting whether it did.
func (s *Scanner) Tryc(b byte) bool {
	c, ok := s.Getc()
	if !ok {
		return false
	}
	if c == b {
		return true
	}
	s.Ungetc()
	return false
}

// SetWhitespaceMode toggles whether Getc silently skips space/linebreak.
func (s *Scanner) SetWhitespaceMode(m WhitespaceMode) { s.mode = m }

// GetSymstr reads an identifier ([A-Za-z_][A-Za-z0-9_]*) and interns it.
func (s *Scanner) GetSymstr() (SymbolID, bool) {
	c, ok := s.Getc()
	if !ok || !isAlpha(c) {
		if ok {
			s.Ungetc()
		}
		return 0, false
	}
	start := s.ungotPos
	mode := s.mode
	s.mode = WSNone
	defer func() { s.mode = mode }()
	for {
		c, ok := s.Getc()
		if !ok {
			break
		}
		if !isAlpha(c) && !isDigit(c) {
			s.Ungetc()
			break
		}
	}
	end := s.pos
	if s.ungot {
		end = s.ungotPos
	}
	return s.syms.Intern(string(s.src[start:end])), true
}

// Getd reads a numeric literal. If parseConst is non-nil and the next
// token is not a digit/sign/dot, parseConst is tried first against a
// following identifier (for named constants); ok is false if nothing
// could be parsed.
func (s *Scanner) Getd(parseConst func(string) (float64, bool)) (float64, bool) {
	neg := false
	c, ok := s.Getc()
	if !ok {
		return 0, false
	}
	start, startLn, startCol := s.ungotPos, s.ungotLn, s.ungotCol
	mode := s.mode
	s.mode = WSNone
	defer func() { s.mode = mode }()
	if c == '+' || c == '-' {
		neg = c == '-'
		c, ok = s.Getc()
		if !ok {
			s.Ungetc()
			return 0, false
		}
	}
	if isAlpha(c) && parseConst != nil {
		s.Ungetc()
		id, ok := s.GetSymstr()
		if !ok {
			return 0, false
		}
		v, ok := parseConst(s.syms.String(id))
		if !ok {
			return 0, false
		}
		if neg {
			v = -v
		}
		return v, true
	}
	if !isDigit(c) && c != '.' {
		// Put back a leading sign too, so e.g. "p+[" keeps its '+'.
		s.Ungetc()
		s.pos, s.line, s.col = start, startLn, startCol
		return 0, false
	}
	for {
		c, ok := s.Getc()
		if !ok {
			break
		}
		if !isDigit(c) && c != '.' && c != 'e' && c != 'E' {
			s.Ungetc()
			break
		}
	}
	end := s.pos
	if s.ungot {
		end = s.ungotPos
	}
	lit := string(s.src[start:end])
	v, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (s *Scanner) Warningf(format string, args ...any) {
	s.diags = append(s.diags, Diagnostic{Line: s.line, Col: s.col, Message: fmt.Sprintf(format, args...)})
}

func (s *Scanner) Errorf(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	s.diags = append(s.diags, Diagnostic{Line: s.line, Col: s.col, Message: msg})
	return fmt.Errorf("%d:%d: %s", s.line, s.col, msg)
}
