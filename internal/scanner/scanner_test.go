package scanner

import "testing"

func TestGetcUngetc(t *testing.T) {
	s := New([]byte("ab"), NewSymbolTable())
	c, ok := s.Getc()
	if !ok || c != 'a' {
		t.Fatalf("Getc() = %c, %v, want a, true", c, ok)
	}
	s.Ungetc()
	c, ok = s.Getc()
	if !ok || c != 'a' {
		t.Fatalf("Getc() after Ungetc = %c, %v, want a, true", c, ok)
	}
	c, ok = s.Getc()
	if !ok || c != 'b' {
		t.Fatalf("Getc() = %c, %v, want b, true", c, ok)
	}
	if _, ok := s.Getc(); ok {
		t.Fatalf("Getc() at EOF should fail")
	}
}

func TestTryc(t *testing.T) {
	s := New([]byte("x"), NewSymbolTable())
	if s.Tryc('y') {
		t.Fatalf("Tryc('y') should fail on 'x'")
	}
	if !s.Tryc('x') {
		t.Fatalf("Tryc('x') should succeed on 'x'")
	}
}

func TestLineCommentSkipped(t *testing.T) {
	s := New([]byte("a#!comment\nb"), NewSymbolTable())
	s.SetWhitespaceMode(WSSkip)
	var got []byte
	for {
		c, ok := s.Getc()
		if !ok {
			break
		}
		got = append(got, c)
	}
	if string(got) != "ab" {
		t.Fatalf("got %q, want %q", got, "ab")
	}
}

func TestQuitMarker(t *testing.T) {
	s := New([]byte("a#Qb"), NewSymbolTable())
	c, ok := s.Getc()
	if !ok || c != 'a' {
		t.Fatalf("Getc() = %c,%v", c, ok)
	}
	if _, ok := s.Getc(); ok {
		t.Fatalf("Getc() after #Q should report EOF")
	}
	if !s.Quit() {
		t.Fatalf("Quit() should be true after #Q")
	}
}

func TestGetSymstr(t *testing.T) {
	syms := NewSymbolTable()
	s := New([]byte("foo42 bar"), syms)
	id, ok := s.GetSymstr()
	if !ok || syms.String(id) != "foo42" {
		t.Fatalf("GetSymstr() = %v,%v, want foo42,true", syms.String(id), ok)
	}
}

func TestGetdNumeric(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"440", 440},
		{"-3.5", -3.5},
		{"+0.25", 0.25},
	}
	for _, c := range cases {
		s := New([]byte(c.in), NewSymbolTable())
		v, ok := s.Getd(nil)
		if !ok || v != c.want {
			t.Errorf("Getd(%q) = %v,%v, want %v,true", c.in, v, ok, c.want)
		}
	}
}

func TestGetdConst(t *testing.T) {
	s := New([]byte("pi"), NewSymbolTable())
	v, ok := s.Getd(func(name string) (float64, bool) {
		if name == "pi" {
			return 3.25, true
		}
		return 0, false
	})
	if !ok || v != 3.25 {
		t.Fatalf("Getd with const parser = %v,%v, want 3.25,true", v, ok)
	}
}

func TestWarningfRecordsDiagnostic(t *testing.T) {
	s := New([]byte("x"), NewSymbolTable())
	s.Warningf("unexpected %q", "x")
	if len(s.Diagnostics()) != 1 {
		t.Fatalf("Diagnostics() len = %d, want 1", len(s.Diagnostics()))
	}
}
