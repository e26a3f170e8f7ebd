package render

import "strings"

// Characters Telegram requires escaped in MarkdownV2 outside of code spans.
const v2Reserved = "_*[]()~`>#+-=|{}.!\\"

func escapeV2(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/4)
	for _, r := range s {
		if r < 128 && strings.ContainsRune(v2Reserved, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// escapeCode escapes the only two characters that are special inside
// MarkdownV2 code spans and fenced blocks.
func escapeCode(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "`", "\\`")
}

// escapeLinkDest escapes a URL for the (...) part of a MarkdownV2 link.
func escapeLinkDest(url string) string {
	url = strings.ReplaceAll(url, `\`, `\\`)
	return strings.ReplaceAll(url, ")", "\\)")
}
