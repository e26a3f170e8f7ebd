package render

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	gmtext "github.com/yuin/goldmark/text"
)

// walker renders a goldmark AST either as Telegram MarkdownV2 or as plain
// text. One instance per conversion; it recurses over the tree directly
// instead of going through goldmark's renderer registry, which keeps the
// two output modes in one place.
type walker struct {
	out   strings.Builder
	src   []byte
	plain bool
	quote int // blockquote nesting depth
}

func renderTree(src string, plain bool) string {
	if src == "" {
		return ""
	}
	source := []byte(src)
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(gmtext.NewReader(source))

	w := &walker{src: source, plain: plain}
	w.blocks(doc)
	return strings.TrimRight(w.out.String(), "\n")
}

func (w *walker) blocks(parent ast.Node) {
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		w.block(n)
	}
}

func (w *walker) block(n ast.Node) {
	switch n := n.(type) {
	case *ast.Heading:
		w.mark("*")
		w.inlines(n)
		w.mark("*")
		w.newline()
	case *ast.Paragraph:
		w.quoteLead()
		w.inlines(n)
		w.newline()
	case *ast.TextBlock:
		w.quoteLead()
		w.inlines(n)
		w.newline()
	case *ast.ThematicBreak:
		if w.plain {
			w.out.WriteString("———\n")
		} else {
			w.out.WriteString("\\—\\—\\—\n")
		}
	case *ast.FencedCodeBlock:
		w.fencedCode(n)
	case *ast.CodeBlock:
		w.rawLines(n, !w.plain)
		w.newline()
	case *ast.HTMLBlock:
		w.rawLines(n, !w.plain)
	case *ast.Blockquote:
		w.quote++
		w.blocks(n)
		w.quote--
	case *ast.List:
		w.list(n)
	case *east.Table:
		w.table(n)
	default:
		w.blocks(n)
	}
}

func (w *walker) fencedCode(n *ast.FencedCodeBlock) {
	if w.plain {
		w.rawLines(n, false)
		return
	}
	w.out.WriteString("```")
	if lang := n.Language(w.src); lang != nil {
		w.out.Write(lang)
	}
	w.out.WriteByte('\n')
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		w.out.WriteString(escapeCode(string(seg.Value(w.src))))
	}
	w.out.WriteString("```\n")
}

// rawLines emits a block node's source lines, escaped for V2 when asked.
func (w *walker) rawLines(n ast.Node, escape bool) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		s := string(seg.Value(w.src))
		if escape {
			s = escapeV2(s)
		}
		w.out.WriteString(s)
	}
}

func (w *walker) list(n *ast.List) {
	num := n.Start
	if num == 0 {
		num = 1
	}
	for item := n.FirstChild(); item != nil; item = item.NextSibling() {
		w.quoteLead()
		if n.IsOrdered() {
			if w.plain {
				fmt.Fprintf(&w.out, "%d. ", num)
			} else {
				fmt.Fprintf(&w.out, "%d\\. ", num)
			}
			num++
		} else {
			w.mark("\\")
			w.out.WriteString("- ")
		}
		w.listItem(item)
	}
	if n.NextSibling() != nil {
		w.newline()
	}
}

// listItem renders an item's first block inline after the bullet and any
// remaining blocks (loose items, nested lists) as their own lines.
func (w *walker) listItem(item ast.Node) {
	child := item.FirstChild()
	if child == nil {
		w.newline()
		return
	}
	w.inlines(child)
	w.newline()
	for rest := child.NextSibling(); rest != nil; rest = rest.NextSibling() {
		w.block(rest)
	}
}

func (w *walker) inlines(parent ast.Node) {
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		w.inline(n)
	}
}

func (w *walker) inline(n ast.Node) {
	switch n := n.(type) {
	case *ast.Text:
		w.text(string(n.Segment.Value(w.src)))
		if n.SoftLineBreak() || n.HardLineBreak() {
			w.newline()
			w.quoteLead()
		}
	case *ast.String:
		w.text(string(n.Value))
	case *ast.CodeSpan:
		code := rawChildText(n, w.src)
		if w.plain {
			w.out.WriteString(code)
		} else {
			w.out.WriteString("`")
			w.out.WriteString(escapeCode(code))
			w.out.WriteString("`")
		}
	case *ast.Emphasis:
		m := "_"
		if n.Level == 2 {
			m = "*"
		}
		w.mark(m)
		w.inlines(n)
		w.mark(m)
	case *ast.Link:
		w.linkish(n, string(n.Destination))
	case *ast.Image:
		w.linkish(n, string(n.Destination))
	case *ast.AutoLink:
		w.text(string(n.URL(w.src)))
	case *ast.RawHTML:
		for i := 0; i < n.Segments.Len(); i++ {
			seg := n.Segments.At(i)
			w.text(string(seg.Value(w.src)))
		}
	case *east.Strikethrough:
		w.mark("~")
		w.inlines(n)
		w.mark("~")
	case *east.TaskCheckBox:
		if n.IsChecked {
			w.text("[x] ")
		} else {
			w.text("[ ] ")
		}
	default:
		w.inlines(n)
	}
}

// linkish renders links and images: "[label](url)" in V2, "label (url)" in
// plain text.
func (w *walker) linkish(n ast.Node, dest string) {
	if w.plain {
		w.inlines(n)
		w.out.WriteString(" (")
		w.out.WriteString(dest)
		w.out.WriteString(")")
		return
	}
	w.out.WriteString("[")
	w.inlines(n)
	w.out.WriteString("](")
	w.out.WriteString(escapeLinkDest(dest))
	w.out.WriteString(")")
}

func (w *walker) table(n ast.Node) {
	var rows [][]string
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		k := child.Kind()
		if k != east.KindTableHeader && k != east.KindTableRow {
			continue
		}
		var cells []string
		for cell := child.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, strings.TrimSpace(rawChildText(cell, w.src)))
		}
		rows = append(rows, cells)
	}
	if len(rows) == 0 {
		return
	}

	widths := columnWidths(rows)
	if !w.plain {
		w.out.WriteString("```\n")
	}
	for i, row := range rows {
		w.tableRow(row, widths)
		if i == 0 && len(rows) > 1 {
			sep := make([]string, len(widths))
			for j, width := range widths {
				sep[j] = strings.Repeat("-", width)
			}
			w.tableRow(sep, widths)
		}
	}
	if !w.plain {
		w.out.WriteString("```")
	}
	w.out.WriteByte('\n')
}

func (w *walker) tableRow(cells []string, widths []int) {
	w.out.WriteString("| ")
	for j, width := range widths {
		cell := ""
		if j < len(cells) {
			cell = cells[j]
		}
		w.out.WriteString(cell)
		w.out.WriteString(strings.Repeat(" ", width-len(cell)))
		w.out.WriteString(" | ")
	}
	w.out.WriteByte('\n')
}

func columnWidths(rows [][]string) []int {
	cols := 0
	for _, row := range rows {
		if len(row) > cols {
			cols = len(row)
		}
	}
	widths := make([]int, cols)
	for _, row := range rows {
		for j, cell := range row {
			if len(cell) > widths[j] {
				widths[j] = len(cell)
			}
		}
	}
	return widths
}

// text writes inline text, escaping it in V2 mode and carrying blockquote
// prefixes across embedded newlines.
func (w *walker) text(s string) {
	if w.plain {
		w.out.WriteString(s)
		return
	}
	s = escapeV2(s)
	if w.quote > 0 {
		s = strings.ReplaceAll(s, "\n", "\n"+strings.Repeat(">", w.quote))
	}
	w.out.WriteString(s)
}

// mark writes a formatting marker, dropped entirely in plain mode.
func (w *walker) mark(s string) {
	if !w.plain {
		w.out.WriteString(s)
	}
}

func (w *walker) newline() {
	w.out.WriteByte('\n')
}

// quoteLead writes the ">" prefix for the current blockquote depth.
func (w *walker) quoteLead() {
	if w.quote > 0 && !w.plain {
		w.out.WriteString(strings.Repeat(">", w.quote))
	}
}

// rawChildText collects the unformatted text under a node, used for code
// spans and table cells.
func rawChildText(node ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n := n.(type) {
		case *ast.Text:
			b.Write(n.Segment.Value(src))
		case *ast.String:
			b.Write(n.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}
