package term

import (
	"regexp"
	"strings"
	"unicode"
)

// UIContent holds a region of pane text recognized as an interactive UI.
type UIContent struct {
	Name    string
	Content string
}

// UIPattern delimits an interactive UI region with top/bottom line regexes.
//
// Extraction scans lines top-down: the first line matching any Top regex
// marks the start, the first subsequent line matching any Bottom regex marks
// the end. Both boundary lines are included. An empty Bottom set means the
// region extends to the last non-empty line. ContextAbove pulls in up to
// that many preceding lines so structural patterns still show the question
// text above the selection area.
type UIPattern struct {
	Name         string
	Top          []*regexp.Regexp
	Bottom       []*regexp.Regexp
	MinGap       int // minimum lines between top and bottom
	ContextAbove int
}

// ClaudeUIPatterns are the interactive prompts Claude Code renders.
// Order matters: first match wins, and the structural catch-all must be
// last or it would shadow the specific patterns.
var ClaudeUIPatterns = []UIPattern{
	{
		Name: "ExitPlanMode",
		Top: []*regexp.Regexp{
			regexp.MustCompile(`^\s*Would you like to proceed\?`),
			regexp.MustCompile(`^\s*Claude has written up a plan`),
		},
		Bottom: []*regexp.Regexp{
			regexp.MustCompile(`^\s*ctrl-g to edit in `),
			regexp.MustCompile(`^\s*Esc to (cancel|exit)`),
		},
		MinGap: 2,
	},
	{
		// Multi-tab question: the tab arrow plus a checkbox, no fixed bottom.
		Name:   "AskUserQuestion",
		Top:    []*regexp.Regexp{regexp.MustCompile(`^\s*←\s+[☐✔☒]`)},
		MinGap: 1,
	},
	{
		Name:   "AskUserQuestion",
		Top:    []*regexp.Regexp{regexp.MustCompile(`^\s*[☐✔☒]`)},
		Bottom: []*regexp.Regexp{regexp.MustCompile(`^\s*Enter to select`)},
		MinGap: 1,
	},
	{
		Name:   "PermissionPrompt",
		Top:    []*regexp.Regexp{regexp.MustCompile(`^\s*Do you want to proceed\?`)},
		Bottom: []*regexp.Regexp{regexp.MustCompile(`^\s*Esc to cancel`)},
		MinGap: 2,
	},
	{
		Name:   "RestoreCheckpoint",
		Top:    []*regexp.Regexp{regexp.MustCompile(`^\s*Restore the code`)},
		Bottom: []*regexp.Regexp{regexp.MustCompile(`^\s*Enter to continue`)},
		MinGap: 2,
	},
	{
		Name: "Settings",
		Top:  []*regexp.Regexp{regexp.MustCompile(`^\s*Settings:`)},
		Bottom: []*regexp.Regexp{
			regexp.MustCompile(`Esc to cancel`),
			regexp.MustCompile(`^\s*Type to filter`),
		},
		MinGap: 2,
	},
	{
		Name:   "SelectModel",
		Top:    []*regexp.Regexp{regexp.MustCompile(`^\s*Select model`)},
		Bottom: []*regexp.Regexp{regexp.MustCompile(`Enter to confirm`)},
		MinGap: 2,
	},
	{
		// Structural catch-all: Ink renders ❯ as the selection cursor.
		// Combined with a bottom action hint this catches any selection UI
		// regardless of the question wording above it.
		Name: "SelectionUI",
		Top:  []*regexp.Regexp{regexp.MustCompile(`^\s*❯\s`)},
		Bottom: []*regexp.Regexp{
			regexp.MustCompile(`^\s*Esc to (cancel|exit)`),
			regexp.MustCompile(`^\s*Enter to (select|confirm|continue)`),
			regexp.MustCompile(`^\s*ctrl-g to edit`),
		},
		MinGap:       1,
		ContextAbove: 10,
	},
}

const (
	// Minimum ─ run length to recognize a line as a chrome separator.
	minSeparatorWidth = 20
	// Lines longer than this between separators are real output, not chrome.
	maxChromeLineLength = 80
)

var longDashRe = regexp.MustCompile(`^─{5,}$`)

// ShortenSeparators replaces runs of 5+ ─ characters with exactly five.
func ShortenSeparators(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if longDashRe.MatchString(line) {
			lines[i] = "─────"
		}
	}
	return strings.Join(lines, "\n")
}

// ExtractInteractive tries each UI pattern in order against rendered lines.
func ExtractInteractive(lines []string, patterns []UIPattern) (UIContent, bool) {
	for _, p := range patterns {
		if content, ok := tryExtract(lines, p); ok {
			return content, true
		}
	}
	return UIContent{}, false
}

// ExtractInteractiveFromScreen trims trailing blank lines (never past the
// cursor row) and runs interactive UI detection on the remainder.
func ExtractInteractiveFromScreen(s *Screen, patterns []UIPattern) (UIContent, bool) {
	lines := s.Display()
	end := s.CursorRow() + 1
	if end < 1 {
		end = 1
	}
	for i := len(lines) - 1; i > s.CursorRow(); i-- {
		if strings.TrimSpace(lines[i]) != "" {
			end = i + 1
			break
		}
	}
	if end > len(lines) {
		end = len(lines)
	}
	return ExtractInteractive(lines[:end], patterns)
}

func tryExtract(lines []string, pattern UIPattern) (UIContent, bool) {
	topIdx, botIdx := -1, -1

	for i, line := range lines {
		if topIdx < 0 {
			if matchesAny(line, pattern.Top) {
				topIdx = i
			}
		} else if len(pattern.Bottom) > 0 && matchesAny(line, pattern.Bottom) {
			botIdx = i
			break
		}
	}
	if topIdx < 0 {
		return UIContent{}, false
	}

	// No bottom set: region runs to the last non-empty line.
	if len(pattern.Bottom) == 0 {
		for i := len(lines) - 1; i > topIdx; i-- {
			if strings.TrimSpace(lines[i]) != "" {
				botIdx = i
				break
			}
		}
	}
	if botIdx < 0 || botIdx-topIdx < pattern.MinGap {
		return UIContent{}, false
	}

	start := contextStart(lines, topIdx, pattern.ContextAbove)
	content := strings.TrimRight(strings.Join(lines[start:botIdx+1], "\n"), " \n")
	return UIContent{Name: pattern.Name, Content: ShortenSeparators(content)}, true
}

func matchesAny(line string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// contextStart finds the first non-blank line within contextAbove lines above topIdx.
func contextStart(lines []string, topIdx, contextAbove int) int {
	if contextAbove <= 0 {
		return topIdx
	}
	from := topIdx - contextAbove
	if from < 0 {
		from = 0
	}
	for k := from; k < topIdx; k++ {
		if strings.TrimSpace(lines[k]) != "" {
			return k
		}
	}
	return topIdx
}

// Spinner characters the agents use in their status line (fast path).
const statusSpinners = "·✻✽✶✳✢"

// Known non-spinner symbols that fall in symbol categories.
const nonSpinnerChars = "─│┌┐└┘├┤┬┴┼═║╔╗╚╝╠╣╦╩╬>|+<=~"

// IsLikelySpinner reports whether a rune looks like a status spinner glyph.
// Beyond the known set, Braille patterns and the So/Sm Unicode categories
// qualify, excluding box-drawing characters.
func IsLikelySpinner(r rune) bool {
	if strings.ContainsRune(statusSpinners, r) {
		return true
	}
	if strings.ContainsRune(nonSpinnerChars, r) {
		return false
	}
	if r >= 0x2500 && r <= 0x257F { // box drawing
		return false
	}
	if r >= 0x2800 && r <= 0x28FF { // Braille patterns
		return true
	}
	return unicode.Is(unicode.So, r) || unicode.Is(unicode.Sm, r)
}

// ParseStatusLine extracts the agent's status line from pane text.
//
// The status line sits above a chrome separator. Separators are scanned
// bottom-up; the one or two lines above each (skipping blanks) are checked
// for a leading spinner glyph. When paneRows > 0, the scan is limited to
// the bottom 40% of the screen.
func ParseStatusLine(paneText string, paneRows int) (string, bool) {
	if paneText == "" {
		return "", false
	}
	lines := strings.Split(strings.TrimSpace(paneText), "\n")

	scanStart := 0
	if paneRows > 0 {
		scanLimit := int(float64(paneRows) * 0.4)
		if scanLimit < 16 {
			scanLimit = 16
		}
		if scanStart = len(lines) - scanLimit; scanStart < 0 {
			scanStart = 0
		}
	}

	for i := len(lines) - 1; i >= scanStart; i-- {
		if !isSeparator(lines[i]) {
			continue
		}
		// Up to 2 lines above the separator, skipping blanks. Some agent
		// versions render a blank line between the spinner and separator.
		for offset := 1; offset <= 2; offset++ {
			j := i - offset
			if j < scanStart {
				break
			}
			candidate := strings.TrimSpace(lines[j])
			if candidate == "" {
				continue
			}
			runes := []rune(candidate)
			if IsLikelySpinner(runes[0]) {
				return strings.TrimSpace(string(runes[1:])), true
			}
			break // non-blank, non-spinner: stop looking above this separator
		}
	}
	return "", false
}

// StatusFromScreen runs status-line detection on rendered screen lines.
func StatusFromScreen(s *Screen) (string, bool) {
	lines := s.Display()
	last := len(lines) - 1
	for last >= 0 && strings.TrimSpace(lines[last]) == "" {
		last--
	}
	if last < 0 {
		return "", false
	}
	return ParseStatusLine(strings.Join(lines[:last+1], "\n"), s.Rows())
}

// statusKeywords maps status-text stems to short display labels.
// First match wins; the first word is checked before the whole string.
var statusKeywords = []struct{ stem, label string }{
	{"think", "…thinking"},
	{"reason", "…thinking"},
	{"test", "…testing"},
	{"read", "…reading"},
	{"edit", "…editing"},
	{"writ", "…writing"},
	{"search", "…searching"},
	{"grep", "…searching"},
	{"glob", "…searching"},
	{"install", "…installing"},
	{"runn", "…running"},
	{"bash", "…running"},
	{"execut", "…running"},
	{"compil", "…building"},
	{"build", "…building"},
	{"lint", "…linting"},
	{"format", "…formatting"},
	{"deploy", "…deploying"},
	{"fetch", "…fetching"},
	{"download", "…downloading"},
	{"upload", "…uploading"},
	{"commit", "…committing"},
	{"push", "…pushing"},
	{"pull", "…pulling"},
	{"clone", "…cloning"},
	{"debug", "…debugging"},
	{"delet", "…deleting"},
	{"creat", "…creating"},
	{"check", "…checking"},
	{"updat", "…updating"},
	{"analyz", "…analyzing"},
	{"analys", "…analyzing"},
	{"pars", "…parsing"},
	{"verif", "…verifying"},
}

// FormatStatusDisplay converts a raw status line to a short display label.
// The first word is matched first so "Writing tests" maps to "…writing",
// not "…testing". Falls back to "…working".
func FormatStatusDisplay(raw string) string {
	lower := strings.ToLower(raw)
	firstWord := lower
	if idx := strings.IndexAny(lower, " \t"); idx >= 0 {
		firstWord = lower[:idx]
	}
	for _, kw := range statusKeywords {
		if strings.Contains(firstWord, kw.stem) {
			return kw.label
		}
	}
	for _, kw := range statusKeywords {
		if strings.Contains(lower, kw.stem) {
			return kw.label
		}
	}
	return "…working"
}

// isSeparator checks if a line is a chrome separator (all ─, wide enough).
func isSeparator(line string) bool {
	trimmed := strings.TrimSpace(line)
	if len([]rune(trimmed)) < minSeparatorWidth {
		return false
	}
	for _, r := range trimmed {
		if r != '─' {
			return false
		}
	}
	return true
}

// FindChromeBoundary finds the topmost separator of the agent's bottom
// chrome block (separators around the prompt line plus the status bar).
// Returns -1 if no chrome is present.
func FindChromeBoundary(lines []string) int {
	var seps []int
	for i := len(lines) - 1; i >= 0; i-- {
		if isSeparator(lines[i]) {
			seps = append(seps, i)
		}
	}
	if len(seps) == 0 {
		return -1
	}

	// Walk separators bottom-up; extend the boundary upward while everything
	// between consecutive separators looks like chrome (blank or short lines).
	boundary := seps[0]
	for _, idx := range seps[1:] {
		gapIsChrome := true
		for j := idx + 1; j < boundary; j++ {
			line := strings.TrimSpace(lines[j])
			if line == "" {
				continue
			}
			if len(line) > maxChromeLineLength {
				gapIsChrome = false
				break
			}
		}
		if !gapIsChrome {
			break
		}
		boundary = idx
	}
	return boundary
}

// StripPaneChrome removes the agent's bottom chrome (prompt area + status bar).
func StripPaneChrome(lines []string) []string {
	if boundary := FindChromeBoundary(lines); boundary >= 0 {
		return lines[:boundary]
	}
	return lines
}

// ExtractBashOutput extracts "!" command output from a captured pane.
// Searches from the bottom for the "! <command>" echo line and returns it
// plus everything below, with trailing blanks removed. The match uses the
// first 10 characters of the command since the echo line may be truncated.
func ExtractBashOutput(paneText, command string) (string, bool) {
	lines := StripPaneChrome(strings.Split(paneText, "\n"))

	matchPrefix := command
	if len(matchPrefix) > 10 {
		matchPrefix = matchPrefix[:10]
	}

	cmdIdx := -1
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, "! "+matchPrefix) || strings.HasPrefix(trimmed, "!"+matchPrefix) {
			cmdIdx = i
			break
		}
	}
	if cmdIdx < 0 {
		return "", false
	}

	out := lines[cmdIdx:]
	for len(out) > 0 && strings.TrimSpace(out[len(out)-1]) == "" {
		out = out[:len(out)-1]
	}
	if len(out) == 0 {
		return "", false
	}
	return strings.TrimSpace(strings.Join(out, "\n")), true
}
