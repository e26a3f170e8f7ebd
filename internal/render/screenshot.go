package render

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/width"
)

// Terminal colors for pane rendering.
var (
	paneBG = color.RGBA{30, 30, 30, 255}
	paneFG = color.RGBA{212, 212, 212, 255}
)

// The standard and bright halves of the 16-color ANSI palette.
var ansiPalette = [16]color.RGBA{
	{0, 0, 0, 255}, {205, 49, 49, 255}, {13, 188, 121, 255}, {229, 229, 16, 255},
	{36, 114, 200, 255}, {188, 63, 188, 255}, {17, 168, 205, 255}, {229, 229, 229, 255},
	{102, 102, 102, 255}, {241, 76, 76, 255}, {35, 209, 139, 255}, {245, 245, 67, 255},
	{59, 142, 234, 255}, {214, 112, 214, 255}, {41, 184, 219, 255}, {255, 255, 255, 255},
}

var sgrSeq = regexp.MustCompile(`\x1b\[([0-9;]*)m`)

// pen is the graphic state carried across SGR sequences within a line.
type pen struct {
	fg, bg color.RGBA
	bold   bool
}

func newPen() pen { return pen{fg: paneFG, bg: paneBG} }

// run is a stretch of characters sharing one pen state.
type run struct {
	text string
	pen  pen
}

const (
	cellPx    = 7 // basicfont.Face7x13 advance
	panePad   = 16
	minImageW = 100
	minImageH = 50
)

// PanePNG renders a raw pane capture (with SGR escapes) to a PNG image.
func PanePNG(paneText string) ([]byte, error) {
	var grid [][]run
	for _, line := range strings.Split(paneText, "\n") {
		grid = append(grid, styleLine(line))
	}

	face := basicfont.Face7x13
	lineH := face.Metrics().Height.Ceil() + 2

	cols := 0
	for _, runs := range grid {
		if n := lineCells(runs); n > cols {
			cols = n
		}
	}

	imgW := cols*cellPx + panePad*2
	imgH := len(grid)*lineH + panePad*2
	if imgW < minImageW {
		imgW = minImageW
	}
	if imgH < minImageH {
		imgH = minImageH
	}

	img := image.NewRGBA(image.Rect(0, 0, imgW, imgH))
	draw.Draw(img, img.Bounds(), image.NewUniform(paneBG), image.Point{}, draw.Src)

	for row, runs := range grid {
		x := panePad
		top := panePad + row*lineH
		baseline := top + lineH - 3

		for _, r := range runs {
			cells := 0
			for _, ch := range r.text {
				cells += cellWidth(ch)
			}
			if r.pen.bg != paneBG {
				rect := image.Rect(x, top, x+cells*cellPx, top+lineH)
				draw.Draw(img, rect.Intersect(img.Bounds()), image.NewUniform(r.pen.bg), image.Point{}, draw.Src)
			}

			d := &font.Drawer{
				Dst:  img,
				Src:  image.NewUniform(r.pen.fg),
				Face: face,
				Dot:  fixed.P(x, baseline),
			}
			for _, ch := range r.text {
				d.DrawString(string(ch))
				x += cellWidth(ch) * cellPx
				d.Dot = fixed.P(x, baseline)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// styleLine splits a line on SGR escapes into styled runs.
func styleLine(line string) []run {
	p := newPen()
	var runs []run
	last := 0

	for _, loc := range sgrSeq.FindAllStringSubmatchIndex(line, -1) {
		if loc[0] > last {
			runs = append(runs, run{text: line[last:loc[0]], pen: p})
		}
		p.apply(line[loc[2]:loc[3]])
		last = loc[1]
	}
	if last < len(line) {
		runs = append(runs, run{text: line[last:], pen: p})
	}
	if len(runs) == 0 {
		runs = append(runs, run{pen: p})
	}
	return runs
}

// apply updates the pen from one SGR parameter string.
func (p *pen) apply(params string) {
	if params == "" || params == "0" {
		*p = newPen()
		return
	}

	parts := strings.Split(params, ";")
	for i := 0; i < len(parts); i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			continue
		}
		switch {
		case n == 0:
			*p = newPen()
		case n == 1:
			p.bold = true
		case n == 38 || n == 48:
			c, skip, ok := extendedColor(parts[i+1:])
			i += skip
			if !ok {
				continue
			}
			if n == 38 {
				p.fg = c
			} else {
				p.bg = c
			}
		case n == 39:
			p.fg = paneFG
		case n == 49:
			p.bg = paneBG
		case n >= 30 && n <= 37:
			idx := n - 30
			if p.bold {
				idx += 8
			}
			p.fg = ansiPalette[idx]
		case n >= 40 && n <= 47:
			p.bg = ansiPalette[n-40]
		case n >= 90 && n <= 97:
			p.fg = ansiPalette[n-90+8]
		case n >= 100 && n <= 107:
			p.bg = ansiPalette[n-100+8]
		}
	}
}

// extendedColor parses the tail of a 38;5;n / 38;2;r;g;b sequence. Returns
// the color, how many parameters were consumed, and whether it parsed.
func extendedColor(rest []string) (color.RGBA, int, bool) {
	if len(rest) == 0 {
		return color.RGBA{}, 0, false
	}
	mode, _ := strconv.Atoi(rest[0])
	switch {
	case mode == 5 && len(rest) >= 2:
		idx, _ := strconv.Atoi(rest[1])
		return xterm256(idx), 2, true
	case mode == 2 && len(rest) >= 4:
		r, _ := strconv.Atoi(rest[1])
		g, _ := strconv.Atoi(rest[2])
		b, _ := strconv.Atoi(rest[3])
		return color.RGBA{uint8(r), uint8(g), uint8(b), 255}, 4, true
	}
	return color.RGBA{}, 0, false
}

// xterm256 maps a 256-color index to RGB.
func xterm256(idx int) color.RGBA {
	switch {
	case idx < 0 || idx > 255:
		return paneFG
	case idx < 16:
		return ansiPalette[idx]
	case idx < 232:
		idx -= 16
		b := idx % 6
		g := (idx / 6) % 6
		r := idx / 36
		return color.RGBA{uint8(r * 51), uint8(g * 51), uint8(b * 51), 255}
	default:
		gray := uint8((idx-232)*10 + 8)
		return color.RGBA{gray, gray, gray, 255}
	}
}

func lineCells(runs []run) int {
	n := 0
	for _, r := range runs {
		for _, ch := range r.text {
			n += cellWidth(ch)
		}
	}
	return n
}

// cellWidth is the number of terminal cells a rune occupies; East Asian
// wide and fullwidth characters take two.
func cellWidth(r rune) int {
	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth:
		return 2
	}
	return 1
}
