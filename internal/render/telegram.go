package render

import (
	"regexp"
	"strings"
)

// Sentinels bracketing text that should become a Telegram expandable
// blockquote. They pass through markdown conversion untouched and are
// resolved here.
const (
	quoteOpen  = "\x02XQ[\x02"
	quoteClose = "\x02]XQ\x02"
)

const quoteBodyLimit = 3800

var quoteRegion = regexp.MustCompile(regexp.QuoteMeta(quoteOpen) + `([\s\S]*?)` + regexp.QuoteMeta(quoteClose))

// Collapsible marks text for rendering as an expandable blockquote.
func Collapsible(text string) string {
	return quoteOpen + text + quoteClose
}

// TelegramV2 converts standard Markdown to Telegram MarkdownV2. Collapsible
// regions are cut out first and rendered with the expandable-quote syntax;
// everything between them goes through the goldmark pipeline.
func TelegramV2(text string) string {
	var parts []string
	last := 0
	for _, loc := range quoteRegion.FindAllStringSubmatchIndex(text, -1) {
		if head := renderTree(text[last:loc[0]], false); head != "" {
			parts = append(parts, head)
		}
		parts = append(parts, expandableQuote(text[loc[2]:loc[3]]))
		last = loc[1]
	}
	if tail := renderTree(text[last:], false); tail != "" {
		parts = append(parts, tail)
	}
	return strings.Join(parts, "\n")
}

// Plain strips all markdown formatting, for the plaintext fallback when
// Telegram rejects the V2 form.
func Plain(text string) string {
	text = strings.ReplaceAll(text, quoteOpen, "")
	text = strings.ReplaceAll(text, quoteClose, "")
	return renderTree(text, true)
}

// expandableQuote renders one collapsible region: every line prefixed with
// ">", the last line suffixed with "||".
func expandableQuote(body string) string {
	if len(body) > quoteBodyLimit {
		body = body[:quoteBodyLimit] + "\n... (truncated)"
	}
	lines := strings.Split(escapeV2(body), "\n")
	var b strings.Builder
	for i, line := range lines {
		b.WriteString(">")
		b.WriteString(line)
		if i == len(lines)-1 {
			b.WriteString("||")
		} else {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Split breaks text into chunks of at most max bytes, preferring newline
// boundaries. Text containing a collapsible region is never split: the
// expandable-quote syntax does not survive being cut in half.
func Split(text string, max int) []string {
	if len(text) <= max || strings.Contains(text, quoteOpen) {
		return []string{text}
	}

	var parts []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
		}
	}

	for _, line := range strings.Split(text, "\n") {
		if cur.Len() > 0 && cur.Len()+1+len(line) > max {
			flush()
		}
		if len(line) > max {
			flush()
			for len(line) > max {
				parts = append(parts, line[:max])
				line = line[max:]
			}
			if line != "" {
				cur.WriteString(line)
			}
			continue
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}
	flush()
	return parts
}
