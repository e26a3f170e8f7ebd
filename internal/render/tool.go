package render

import (
	"fmt"
	"strings"
)

const toolBodyLimit = 3000

// ToolCall formats a tool_use entry as a one-line summary.
func ToolCall(name, input string) string {
	return fmt.Sprintf("**%s**(%s)", name, input)
}

// ToolResult summarizes a tool_result for Telegram: a short per-tool count
// line, with the raw output attached as a collapsible quote for tools whose
// output is worth expanding.
func ToolResult(tool, content string, isError bool) string {
	if isError {
		return errorResult(content)
	}

	lines := strings.Split(content, "\n")
	total := len(lines)
	if total > 0 && lines[total-1] == "" {
		total--
	}

	var summary string
	withBody := true
	switch tool {
	case "Read":
		summary = fmt.Sprintf("Read %d lines", total)
		withBody = false
	case "Write":
		summary = fmt.Sprintf("Wrote %d lines", total)
		withBody = false
	case "Bash":
		summary = fmt.Sprintf("Output %d lines", total)
	case "Grep":
		summary = fmt.Sprintf("Found %d matches", countNonBlank(lines))
	case "Glob":
		summary = fmt.Sprintf("Found %d files", countNonBlank(lines))
	case "Edit":
		added, removed := diffCounts(content)
		summary = fmt.Sprintf("Added %d, removed %d", added, removed)
	case "Task":
		summary = fmt.Sprintf("Agent output %d lines", total)
	case "WebFetch":
		summary = fmt.Sprintf("Fetched %d characters", len(content))
	case "WebSearch":
		summary = fmt.Sprintf("%d search results", countListItems(content))
	default:
		summary = fmt.Sprintf("%d lines", total)
	}

	if withBody && content != "" {
		summary += "\n" + Collapsible(clip(content, toolBodyLimit))
	}
	return summary
}

// Thinking renders a thinking block as a short collapsible quote.
func Thinking(text string) string {
	if len(text) > 500 {
		text = text[:500] + "..."
	}
	return Collapsible(text)
}

// errorResult shows the first error line inline and the full output behind
// a collapsible quote.
func errorResult(content string) string {
	head, rest, multiline := strings.Cut(content, "\n")
	if len(head) > 100 {
		head = head[:100] + "..."
	}
	out := "Error: " + head
	if multiline && rest != "" {
		out += "\n" + Collapsible(clip(content, toolBodyLimit))
	}
	return out
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... (truncated)"
}

func countNonBlank(lines []string) int {
	n := 0
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

// diffCounts counts +/- lines in diff-shaped content, ignoring file headers.
func diffCounts(content string) (added, removed int) {
	for _, line := range strings.Split(content, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return
}

// countListItems counts lines that look like numbered or bulleted results.
func countListItems(content string) int {
	n := 0
	for _, line := range strings.Split(content, "\n") {
		t := strings.TrimSpace(line)
		if t == "" {
			continue
		}
		if (t[0] >= '1' && t[0] <= '9') || t[0] == '-' || t[0] == '*' {
			n++
		}
	}
	if n == 0 {
		n = 1
	}
	return n
}
