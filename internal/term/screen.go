package term

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Default emulated screen size. Matches the capture geometry requested from tmux.
const (
	DefaultCols = 200
	DefaultRows = 50
)

// Screen is a small fixed-size terminal emulator. Raw pane captures
// (including ANSI escape sequences) are fed in and rendered into a plain
// line grid. Only cursor movement, erase, and line wrap are interpreted;
// colors and other SGR attributes are dropped.
type Screen struct {
	cols, rows int
	cells      [][]rune
	row, col   int
	parser     *ansi.Parser
	state      byte
}

// NewScreen creates an emulator with the given dimensions.
func NewScreen(cols, rows int) *Screen {
	if cols <= 0 {
		cols = DefaultCols
	}
	if rows <= 0 {
		rows = DefaultRows
	}
	s := &Screen{
		cols:   cols,
		rows:   rows,
		parser: ansi.NewParser(),
	}
	s.Reset()
	return s
}

// Cols returns the screen width.
func (s *Screen) Cols() int { return s.cols }

// Rows returns the screen height.
func (s *Screen) Rows() int { return s.rows }

// CursorRow returns the current cursor row (0-based).
func (s *Screen) CursorRow() int { return s.row }

// Reset clears the grid and homes the cursor.
func (s *Screen) Reset() {
	s.cells = make([][]rune, s.rows)
	for i := range s.cells {
		s.cells[i] = blankLine(s.cols)
	}
	s.row, s.col = 0, 0
	s.state = 0
}

func blankLine(cols int) []rune {
	line := make([]rune, cols)
	for i := range line {
		line[i] = ' '
	}
	return line
}

// Feed processes raw terminal output, updating the grid.
func (s *Screen) Feed(raw string) {
	data := raw
	for len(data) > 0 {
		seq, width, n, newState := ansi.DecodeSequence(data, s.state, s.parser)
		if n == 0 {
			break
		}
		s.state = newState
		if width > 0 {
			s.writeGrapheme(seq, width)
		} else {
			s.handleSequence(seq)
		}
		data = data[n:]
	}
}

// writeGrapheme places a printable grapheme at the cursor and advances it.
func (s *Screen) writeGrapheme(seq string, width int) {
	if s.col+width > s.cols {
		s.lineFeed()
		s.col = 0
	}
	r := []rune(seq)[0]
	s.cells[s.row][s.col] = r
	for i := 1; i < width && s.col+i < s.cols; i++ {
		s.cells[s.row][s.col+i] = ' '
	}
	s.col += width
	if s.col >= s.cols {
		s.col = s.cols - 1
	}
}

func (s *Screen) handleSequence(seq string) {
	if seq == "" {
		return
	}
	if len(seq) == 1 {
		switch seq[0] {
		case '\n':
			s.lineFeed()
			s.col = 0
		case '\r':
			s.col = 0
		case '\b':
			if s.col > 0 {
				s.col--
			}
		case '\t':
			s.col = (s.col/8 + 1) * 8
			if s.col >= s.cols {
				s.col = s.cols - 1
			}
		}
		return
	}
	if ansi.HasCsiPrefix(seq) {
		s.handleCSI(seq)
	}
	// OSC (titles), DCS, and bare ESC sequences are ignored.
}

func (s *Screen) handleCSI(seq string) {
	final := seq[len(seq)-1]
	switch final {
	case 'A': // cursor up
		s.row = clamp(s.row-s.param(0, 1), 0, s.rows-1)
	case 'B': // cursor down
		s.row = clamp(s.row+s.param(0, 1), 0, s.rows-1)
	case 'C': // cursor forward
		s.col = clamp(s.col+s.param(0, 1), 0, s.cols-1)
	case 'D': // cursor back
		s.col = clamp(s.col-s.param(0, 1), 0, s.cols-1)
	case 'G': // cursor horizontal absolute
		s.col = clamp(s.param(0, 1)-1, 0, s.cols-1)
	case 'd': // vertical position absolute
		s.row = clamp(s.param(0, 1)-1, 0, s.rows-1)
	case 'H', 'f': // cursor position
		s.row = clamp(s.param(0, 1)-1, 0, s.rows-1)
		s.col = clamp(s.param(1, 1)-1, 0, s.cols-1)
	case 'J':
		s.eraseDisplay(s.param(0, 0))
	case 'K':
		s.eraseLine(s.param(0, 0))
	}
}

// param reads CSI parameter i from the last decoded sequence, falling back
// to def when the parameter is missing or out of range.
func (s *Screen) param(i, def int) int {
	v, ok := s.parser.Param(i, def)
	if !ok {
		return def
	}
	return v
}

func (s *Screen) eraseDisplay(mode int) {
	switch mode {
	case 0: // cursor to end of screen
		s.eraseLine(0)
		for r := s.row + 1; r < s.rows; r++ {
			s.cells[r] = blankLine(s.cols)
		}
	case 1: // start of screen to cursor
		for r := 0; r < s.row; r++ {
			s.cells[r] = blankLine(s.cols)
		}
		s.eraseLine(1)
	case 2, 3:
		for r := range s.cells {
			s.cells[r] = blankLine(s.cols)
		}
	}
}

func (s *Screen) eraseLine(mode int) {
	line := s.cells[s.row]
	switch mode {
	case 0: // cursor to end
		for c := s.col; c < s.cols; c++ {
			line[c] = ' '
		}
	case 1: // start to cursor
		for c := 0; c <= s.col && c < s.cols; c++ {
			line[c] = ' '
		}
	case 2:
		s.cells[s.row] = blankLine(s.cols)
	}
}

func (s *Screen) lineFeed() {
	if s.row < s.rows-1 {
		s.row++
		return
	}
	// Scroll up one row.
	copy(s.cells, s.cells[1:])
	s.cells[s.rows-1] = blankLine(s.cols)
}

// Display returns the rendered lines with trailing spaces stripped.
func (s *Screen) Display() []string {
	lines := make([]string, s.rows)
	for i, row := range s.cells {
		lines[i] = strings.TrimRight(string(row), " ")
	}
	return lines
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
