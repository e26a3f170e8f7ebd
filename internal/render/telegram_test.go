package render

import (
	"strings"
	"testing"
)

func TestTelegramV2_PlainText(t *testing.T) {
	if got := TelegramV2("hello world"); got != "hello world" {
		t.Errorf("got %q", got)
	}
}

func TestTelegramV2_Bold(t *testing.T) {
	if got := TelegramV2("**bold** move"); got != "*bold* move" {
		t.Errorf("got %q", got)
	}
}

func TestTelegramV2_Italic(t *testing.T) {
	if got := TelegramV2("an *aside* here"); got != "an _aside_ here" {
		t.Errorf("got %q", got)
	}
}

func TestTelegramV2_EscapesReserved(t *testing.T) {
	got := TelegramV2("a_b c.d e!f")
	for _, want := range []string{`a\_b`, `c\.d`, `e\!f`} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}
}

func TestTelegramV2_Heading(t *testing.T) {
	got := TelegramV2("# Deploy\n\nready")
	if got != "*Deploy*\nready" {
		t.Errorf("got %q", got)
	}
}

func TestTelegramV2_CodeSpan(t *testing.T) {
	if got := TelegramV2("run `go test` now"); got != "run `go test` now" {
		t.Errorf("got %q", got)
	}
}

func TestTelegramV2_FencedCode(t *testing.T) {
	got := TelegramV2("```go\nx := 1\n```")
	if got != "```go\nx := 1\n```" {
		t.Errorf("got %q", got)
	}
}

func TestTelegramV2_FencedCodeMultiline(t *testing.T) {
	got := TelegramV2("```\nline one\nline two\n```")
	if got != "```\nline one\nline two\n```" {
		t.Errorf("got %q", got)
	}
}

func TestTelegramV2_FencedCodeEscapesBackticks(t *testing.T) {
	got := TelegramV2("```\na `b` c\n```")
	if !strings.Contains(got, "a \\`b\\` c") {
		t.Errorf("got %q", got)
	}
}

func TestTelegramV2_BulletList(t *testing.T) {
	got := TelegramV2("- one\n- two")
	if got != "\\- one\n\\- two" {
		t.Errorf("got %q", got)
	}
}

func TestTelegramV2_OrderedList(t *testing.T) {
	got := TelegramV2("1. first\n2. second")
	if got != "1\\. first\n2\\. second" {
		t.Errorf("got %q", got)
	}
}

func TestTelegramV2_OrderedListStart(t *testing.T) {
	got := TelegramV2("3. third\n4. fourth")
	if !strings.HasPrefix(got, "3\\.") {
		t.Errorf("should honor list start: got %q", got)
	}
}

func TestTelegramV2_Link(t *testing.T) {
	got := TelegramV2("[site](https://x.dev)")
	if got != "[site](https://x.dev)" {
		t.Errorf("got %q", got)
	}
}

func TestTelegramV2_Blockquote(t *testing.T) {
	got := TelegramV2("> quoted line")
	if got != ">quoted line" {
		t.Errorf("got %q", got)
	}
}

func TestTelegramV2_Strikethrough(t *testing.T) {
	if got := TelegramV2("~~gone~~"); got != "~gone~" {
		t.Errorf("got %q", got)
	}
}

func TestTelegramV2_TableAsCodeBlock(t *testing.T) {
	got := TelegramV2("| a | b |\n|---|---|\n| 1 | 2 |")
	if !strings.Contains(got, "```") {
		t.Errorf("table should render inside a code fence: got %q", got)
	}
	if !strings.Contains(got, "| a | b |") {
		t.Errorf("missing header row: got %q", got)
	}
	if !strings.Contains(got, "| - | - |") {
		t.Errorf("missing separator row: got %q", got)
	}
}

func TestTelegramV2_CollapsibleRegion(t *testing.T) {
	got := TelegramV2("Summary\n" + Collapsible("line1\nline2"))
	if !strings.Contains(got, ">line1\n>line2||") {
		t.Errorf("expandable quote malformed: got %q", got)
	}
	if !strings.HasPrefix(got, "Summary\n") {
		t.Errorf("text before quote lost: got %q", got)
	}
}

func TestTelegramV2_CollapsibleTruncated(t *testing.T) {
	got := TelegramV2(Collapsible(strings.Repeat("x", 5000)))
	if !strings.Contains(got, "truncated") {
		t.Errorf("oversized quote not truncated")
	}
}

func TestPlain_StripsFormatting(t *testing.T) {
	if got := Plain("**hello** world"); got != "hello world" {
		t.Errorf("got %q", got)
	}
}

func TestPlain_Heading(t *testing.T) {
	if got := Plain("# Head"); got != "Head" {
		t.Errorf("got %q", got)
	}
}

func TestPlain_Link(t *testing.T) {
	got := Plain("[site](https://x.dev)")
	if got != "site (https://x.dev)" {
		t.Errorf("got %q", got)
	}
}

func TestPlain_CodeSpan(t *testing.T) {
	if got := Plain("run `go test` now"); got != "run go test now" {
		t.Errorf("got %q", got)
	}
}

func TestPlain_DropsQuoteSentinels(t *testing.T) {
	got := Plain("head " + Collapsible("body") + " tail")
	if strings.Contains(got, quoteOpen) || strings.Contains(got, quoteClose) {
		t.Errorf("sentinels leaked: got %q", got)
	}
	if !strings.Contains(got, "body") {
		t.Errorf("quote body lost: got %q", got)
	}
}

func TestSplit_Short(t *testing.T) {
	parts := Split("short", 100)
	if len(parts) != 1 || parts[0] != "short" {
		t.Errorf("got %v", parts)
	}
}

func TestSplit_OnNewlines(t *testing.T) {
	parts := Split("aaa\nbbb\nccc", 7)
	if len(parts) != 2 || parts[0] != "aaa\nbbb" || parts[1] != "ccc" {
		t.Errorf("got %v", parts)
	}
}

func TestSplit_ForceSplitsLongLine(t *testing.T) {
	parts := Split(strings.Repeat("x", 10), 4)
	want := []string{"xxxx", "xxxx", "xx"}
	if len(parts) != len(want) {
		t.Fatalf("got %v", parts)
	}
	for i := range want {
		if parts[i] != want[i] {
			t.Errorf("part %d: got %q want %q", i, parts[i], want[i])
		}
	}
}

func TestSplit_KeepsCollapsibleAtomic(t *testing.T) {
	text := "summary\n" + Collapsible(strings.Repeat("y\n", 300))
	parts := Split(text, 100)
	if len(parts) != 1 {
		t.Errorf("collapsible message must not be split: got %d parts", len(parts))
	}
}

func TestEscapeV2(t *testing.T) {
	got := escapeV2("a_b *c* [d]")
	for _, want := range []string{`\_`, `\*`, `\[`, `\]`} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in %q", want, got)
		}
	}
}

func TestEscapeCode(t *testing.T) {
	if got := escapeCode("a`b\\c"); got != "a\\`b\\\\c" {
		t.Errorf("got %q", got)
	}
}
