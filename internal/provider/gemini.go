package provider

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/otaviocarvalho/ccbot/internal/term"
)

// Gemini CLI known slash commands.
var geminiBuiltins = []DiscoveredCommand{
	{Name: "clear", Description: "Clear screen and chat context", Source: "builtin"},
	{Name: "model", Description: "Switch model mid-session", Source: "builtin"},
	{Name: "compress", Description: "Summarize chat context to save tokens", Source: "builtin"},
	{Name: "copy", Description: "Copy last response to clipboard", Source: "builtin"},
	{Name: "help", Description: "Display available commands", Source: "builtin"},
	{Name: "commands", Description: "Manage custom commands", Source: "builtin"},
	{Name: "mcp", Description: "List MCP servers and tools", Source: "builtin"},
	{Name: "stats", Description: "Show session statistics", Source: "builtin"},
	{Name: "resume", Description: "Browse and select previous sessions", Source: "builtin"},
	{Name: "bug", Description: "File issue or bug report", Source: "builtin"},
	{Name: "directories", Description: "Manage accessible directories", Source: "builtin"},
}

// Gemini permission prompts come from @inquirer/select:
//
//	Action Required
//	? Shell <command> [current working directory <path>]
//	Allow execution of: '<tools>'?
//	● 1. Allow once
//	  2. Allow for this session
//	  4. No, suggest changes (esc
//
// Matching is structural, not word-exact, so prompt rewording survives.
var geminiUIPatterns = []term.UIPattern{
	{
		Name: "PermissionPrompt",
		Top:  []*regexp.Regexp{regexp.MustCompile(`^\s*Action Required`)},
		Bottom: []*regexp.Regexp{
			regexp.MustCompile(`\(esc`),
			regexp.MustCompile(`^\s*\d+\.\s+No\b`),
		},
		MinGap: 2,
	},
}

// Pane-title glyphs Gemini CLI sets via OSC escape sequences.
// A third glyph, ◇, marks "Ready"; its absence of status needs no handling.
const (
	geminiTitleWorking = "✦"
	geminiTitleAction  = "✋"
)

// Gemini implements Provider for the Google Gemini CLI.
//
// Session files are whole JSON documents, not JSONL: the monitor re-reads
// the full file and tracks progress by message count.
type Gemini struct {
	caps Capabilities
}

// NewGemini builds the Gemini provider.
func NewGemini() *Gemini {
	return &Gemini{caps: Capabilities{
		Name:               "gemini",
		LaunchCommand:      "gemini",
		SupportsResume:     true,
		UsesPaneTitle:      true,
		ProjectsDir:        "~/.gemini/tmp",
		TerminalUIPatterns: geminiUIPatterns,
		BuiltinCommands:    geminiBuiltins,
	}}
}

func (g *Gemini) Capabilities() Capabilities { return g.caps }

// MakeLaunchArgs builds Gemini CLI args: --resume <id> or --resume latest.
func (g *Gemini) MakeLaunchArgs(resumeID string, useContinue bool) (string, error) {
	if resumeID != "" {
		if !validateResumeID(resumeID) {
			return "", errInvalidResumeID(resumeID)
		}
		return "--resume " + resumeID, nil
	}
	if useContinue {
		return "--resume latest", nil
	}
	return "", nil
}

// ParseHookPayload always returns nil: Gemini has no SessionStart hook.
func (g *Gemini) ParseHookPayload(payload []byte) *SessionStartEvent { return nil }

// geminiFile is the whole-file session document.
type geminiFile struct {
	SessionID string            `json:"sessionId"`
	Messages  []json.RawMessage `json:"messages"`
}

type geminiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Thought string `json:"thought"`
}

// ParseTranscriptLine treats the input as a whole session document and
// returns it unchanged when it parses as a JSON object.
func (g *Gemini) ParseTranscriptLine(line []byte) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return nil, false
	}
	return json.RawMessage(trimmed), true
}

// SplitSessionFile parses a whole Gemini session document into its message
// entries. Returns false when the top-level parse fails, in which case the
// caller must not advance its message-count tracker.
func (g *Gemini) SplitSessionFile(data []byte) ([]json.RawMessage, bool) {
	var f geminiFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, false
	}
	return f.Messages, true
}

// ParseTranscriptEntries lowers Gemini message objects to AgentMessages.
// The "model" role maps to assistant; thought content becomes thinking.
func (g *Gemini) ParseTranscriptEntries(entries []json.RawMessage, pending map[string]PendingTool) []AgentMessage {
	var out []AgentMessage
	for _, raw := range entries {
		var m geminiMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		role := geminiRole(m.Role)
		if role == "" {
			continue
		}
		if m.Thought != "" {
			out = append(out, AgentMessage{Text: m.Thought, Role: RoleAssistant, ContentType: ContentThinking})
		}
		if m.Content != "" {
			out = append(out, AgentMessage{Text: m.Content, Role: role, ContentType: ContentText})
		}
	}
	return out
}

// ParseTerminalStatus inspects the pane title first (most reliable), then
// scans the pane for the permission prompt UI.
func (g *Gemini) ParseTerminalStatus(paneText, paneTitle string) (StatusUpdate, bool) {
	if strings.Contains(paneTitle, geminiTitleWorking) {
		return StatusUpdate{RawText: "working", DisplayLabel: "…working"}, true
	}
	actionRequired := strings.Contains(paneTitle, geminiTitleAction)

	if ui, ok := term.ExtractInteractive(strings.Split(paneText, "\n"), geminiUIPatterns); ok {
		return StatusUpdate{
			RawText:       ui.Content,
			DisplayLabel:  ui.Name,
			IsInteractive: true,
			UIType:        ui.Name,
		}, true
	}

	// Title says action required but the content didn't match the patterns.
	if actionRequired {
		return StatusUpdate{
			RawText:       "Action Required",
			DisplayLabel:  "PermissionPrompt",
			IsInteractive: true,
			UIType:        "PermissionPrompt",
		}, true
	}
	return StatusUpdate{}, false
}

// IsUserTranscriptEntry reports whether the entry is a human turn.
func (g *Gemini) IsUserTranscriptEntry(entry json.RawMessage) bool {
	var m geminiMessage
	if err := json.Unmarshal(entry, &m); err != nil {
		return false
	}
	return m.Role == "user" && m.Content != ""
}

// ParseHistoryEntry renders one Gemini message for /history display.
func (g *Gemini) ParseHistoryEntry(entry json.RawMessage) (AgentMessage, bool) {
	var m geminiMessage
	if err := json.Unmarshal(entry, &m); err != nil {
		return AgentMessage{}, false
	}
	role := geminiRole(m.Role)
	if role == "" || m.Content == "" {
		return AgentMessage{}, false
	}
	return AgentMessage{Text: m.Content, Role: role, ContentType: ContentText}, true
}

// DiscoverCommands returns the static builtin set.
func (g *Gemini) DiscoverCommands(baseDir string) []DiscoveredCommand {
	cmds := make([]DiscoveredCommand, len(geminiBuiltins))
	copy(cmds, geminiBuiltins)
	return cmds
}

func geminiRole(role string) string {
	switch role {
	case "user":
		return RoleUser
	case "model", "assistant":
		return RoleAssistant
	}
	return ""
}
