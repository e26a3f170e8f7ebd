package term

import (
	"strings"
	"testing"
)

func TestScreen_PlainText(t *testing.T) {
	s := NewScreen(80, 24)
	s.Feed("hello\nworld")

	lines := s.Display()
	if lines[0] != "hello" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != "world" {
		t.Errorf("line 1 = %q", lines[1])
	}
	if s.CursorRow() != 1 {
		t.Errorf("cursor row = %d, want 1", s.CursorRow())
	}
}

func TestScreen_StripsSGR(t *testing.T) {
	s := NewScreen(80, 24)
	s.Feed("\x1b[1;31mred text\x1b[0m plain")

	if got := s.Display()[0]; got != "red text plain" {
		t.Errorf("line = %q, want 'red text plain'", got)
	}
}

func TestScreen_CarriageReturnOverwrite(t *testing.T) {
	s := NewScreen(80, 24)
	s.Feed("aaaa\rbb")

	if got := s.Display()[0]; got != "bbaa" {
		t.Errorf("line = %q, want 'bbaa'", got)
	}
}

func TestScreen_CursorPosition(t *testing.T) {
	s := NewScreen(80, 24)
	s.Feed("\x1b[3;5Hx")

	lines := s.Display()
	if lines[2] != "    x" {
		t.Errorf("line 2 = %q, want '    x'", lines[2])
	}
}

func TestScreen_CursorMovementCounts(t *testing.T) {
	s := NewScreen(80, 24)
	s.Feed("abc\x1b[2D!")
	if got := s.Display()[0]; got != "a!c" {
		t.Errorf("line = %q, want 'a!c' after CSI 2 D", got)
	}

	// Missing parameter defaults to 1.
	s.Reset()
	s.Feed("x\x1b[B\x1b[Dy")
	lines := s.Display()
	if lines[0] != "x" || lines[1] != "y" {
		t.Errorf("lines = %q, %q; want 'x', 'y'", lines[0], lines[1])
	}
}

func TestScreen_EraseLine(t *testing.T) {
	s := NewScreen(80, 24)
	s.Feed("abcdef\r\x1b[K")
	if got := s.Display()[0]; got != "" {
		t.Errorf("line = %q, want empty after EL", got)
	}
}

func TestScreen_EraseDisplay(t *testing.T) {
	s := NewScreen(80, 24)
	s.Feed("one\ntwo\nthree\x1b[2J")
	for i, line := range s.Display() {
		if line != "" {
			t.Errorf("line %d = %q, want empty after ED 2", i, line)
		}
	}
}

func TestScreen_ScrollAtBottom(t *testing.T) {
	s := NewScreen(20, 3)
	s.Feed("a\nb\nc\nd")

	lines := s.Display()
	if lines[0] != "b" || lines[1] != "c" || lines[2] != "d" {
		t.Errorf("lines = %v, want [b c d]", lines)
	}
}

func TestScreen_LineWrap(t *testing.T) {
	s := NewScreen(4, 5)
	s.Feed("abcdef")

	lines := s.Display()
	if lines[0] != "abcd" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != "ef" {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestScreen_Reset(t *testing.T) {
	s := NewScreen(80, 24)
	s.Feed("content")
	s.Reset()

	if got := strings.Join(s.Display(), ""); got != "" {
		t.Errorf("display after reset = %q", got)
	}
	if s.CursorRow() != 0 {
		t.Errorf("cursor row = %d, want 0", s.CursorRow())
	}
}

func TestScreen_IgnoresOSC(t *testing.T) {
	s := NewScreen(80, 24)
	s.Feed("\x1b]0;Working: ✦\x07visible")

	if got := s.Display()[0]; got != "visible" {
		t.Errorf("line = %q, want 'visible'", got)
	}
}

func TestScreen_DefaultDimensions(t *testing.T) {
	s := NewScreen(0, 0)
	if s.Cols() != DefaultCols || s.Rows() != DefaultRows {
		t.Errorf("dims = %dx%d", s.Cols(), s.Rows())
	}
}
