package provider

import (
	"encoding/json"
	"strings"

	"github.com/otaviocarvalho/ccbot/internal/term"
)

// Codex CLI known slash commands.
// /new is excluded: it collides with the bot-native /new command.
var codexBuiltins = []DiscoveredCommand{
	{Name: "model", Description: "Switch model", Source: "builtin"},
	{Name: "mode", Description: "Switch approval mode (suggest/auto-edit/full-auto)", Source: "builtin"},
	{Name: "status", Description: "Show session config and token usage", Source: "builtin"},
	{Name: "permissions", Description: "Adjust approval requirements", Source: "builtin"},
	{Name: "diff", Description: "Show git changes", Source: "builtin"},
	{Name: "compact", Description: "Summarize context to save tokens", Source: "builtin"},
	{Name: "mcp", Description: "List MCP tools", Source: "builtin"},
	{Name: "mention", Description: "Attach files to conversation", Source: "builtin"},
}

// Codex implements Provider for the OpenAI Codex CLI.
//
// Transcript entries are {timestamp, type, payload}. Entry types:
// session_meta, response_item, input_item, event_msg, turn_context.
// Content blocks: input_text (user), output_text (assistant),
// function_call / function_call_output (tool use).
type Codex struct {
	caps Capabilities
}

// NewCodex builds the Codex provider.
func NewCodex() *Codex {
	return &Codex{caps: Capabilities{
		Name:                "codex",
		LaunchCommand:       "codex",
		SupportsResume:      true,
		SupportsContinue:    true,
		SupportsIncremental: true,
		ProjectsDir:         "~/.codex/sessions",
		BuiltinCommands:     codexBuiltins,
	}}
}

func (c *Codex) Capabilities() Capabilities { return c.caps }

// MakeLaunchArgs builds Codex CLI args. Resume uses the "resume <id>"
// subcommand syntax; continue uses "resume --last".
func (c *Codex) MakeLaunchArgs(resumeID string, useContinue bool) (string, error) {
	if resumeID != "" {
		if !validateResumeID(resumeID) {
			return "", errInvalidResumeID(resumeID)
		}
		return "resume " + resumeID, nil
	}
	if useContinue {
		return "resume --last", nil
	}
	return "", nil
}

// ParseHookPayload always returns nil: Codex has no SessionStart hook.
func (c *Codex) ParseHookPayload(payload []byte) *SessionStartEvent { return nil }

func (c *Codex) ParseTranscriptLine(line []byte) (json.RawMessage, bool) {
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

type codexEntry struct {
	Type    string `json:"type"`
	Payload struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"payload"`
}

type codexBlock struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	CallID string `json:"call_id"`
	Name   string `json:"name"`
}

// ParseTranscriptEntries maps response_item user/assistant turns and
// input_item user turns to messages. Developer (system prompt) and
// event_msg entries are skipped.
func (c *Codex) ParseTranscriptEntries(entries []json.RawMessage, pending map[string]PendingTool) []AgentMessage {
	var out []AgentMessage
	for _, raw := range entries {
		var entry codexEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		switch entry.Type {
		case "response_item":
			role := entry.Payload.Role
			if role != RoleUser && role != RoleAssistant {
				continue
			}
			text, contentType := codexContent(entry.Payload.Content, pending)
			if text != "" {
				out = append(out, AgentMessage{Text: text, Role: role, ContentType: contentType})
			}
		case "input_item":
			if entry.Payload.Role != RoleUser {
				continue
			}
			var text string
			if err := json.Unmarshal(entry.Payload.Content, &text); err == nil && text != "" {
				out = append(out, AgentMessage{Text: text, Role: RoleUser, ContentType: ContentText})
			}
		}
	}
	return out
}

// codexContent extracts text and tracks tool calls from a content field.
func codexContent(content json.RawMessage, pending map[string]PendingTool) (string, string) {
	if content == nil {
		return "", ContentText
	}
	var text string
	if err := json.Unmarshal(content, &text); err == nil {
		return text, ContentText
	}
	var blocks []codexBlock
	if err := json.Unmarshal(content, &blocks); err != nil {
		return "", ContentText
	}
	var b strings.Builder
	contentType := ContentText
	for _, block := range blocks {
		switch block.Type {
		case "output_text", "input_text":
			b.WriteString(block.Text)
		case "function_call":
			if block.CallID != "" {
				name := block.Name
				if name == "" {
					name = "unknown"
				}
				pending[block.CallID] = PendingTool{Name: name, Summary: FormatToolUseSummary(name, "")}
				contentType = ContentToolUse
			}
		case "function_call_output":
			if block.CallID != "" {
				delete(pending, block.CallID)
			}
			contentType = ContentToolResult
		}
	}
	return b.String(), contentType
}

// ParseTerminalStatus: Codex has no interactive UI patterns; only the
// spinner status line applies.
func (c *Codex) ParseTerminalStatus(paneText, paneTitle string) (StatusUpdate, bool) {
	if raw, ok := term.ParseStatusLine(paneText, 0); ok {
		return StatusUpdate{RawText: raw, DisplayLabel: term.FormatStatusDisplay(raw)}, true
	}
	return StatusUpdate{}, false
}

// IsUserTranscriptEntry reports whether the entry is a human turn.
// System messages injected as user content (<permissions…>,
// <environment_context…> prefixes) are excluded.
func (c *Codex) IsUserTranscriptEntry(entry json.RawMessage) bool {
	var e codexEntry
	if err := json.Unmarshal(entry, &e); err != nil {
		return false
	}
	if e.Type == "response_item" && e.Payload.Role == RoleUser {
		var blocks []codexBlock
		if err := json.Unmarshal(e.Payload.Content, &blocks); err == nil {
			for _, block := range blocks {
				if block.Type == "input_text" &&
					(strings.HasPrefix(block.Text, "<permissions") ||
						strings.HasPrefix(block.Text, "<environment_context")) {
					return false
				}
			}
		}
		return true
	}
	return e.Type == "input_item" && e.Payload.Role == RoleUser
}

// ParseHistoryEntry renders one Codex entry for /history display.
func (c *Codex) ParseHistoryEntry(entry json.RawMessage) (AgentMessage, bool) {
	var e codexEntry
	if err := json.Unmarshal(entry, &e); err != nil {
		return AgentMessage{}, false
	}
	switch e.Type {
	case "response_item":
		role := e.Payload.Role
		if role != RoleUser && role != RoleAssistant {
			return AgentMessage{}, false
		}
		text, _ := codexContent(e.Payload.Content, map[string]PendingTool{})
		if text == "" {
			return AgentMessage{}, false
		}
		return AgentMessage{Text: text, Role: role, ContentType: ContentText}, true
	case "input_item":
		if e.Payload.Role != RoleUser {
			return AgentMessage{}, false
		}
		var text string
		if err := json.Unmarshal(e.Payload.Content, &text); err != nil || text == "" {
			return AgentMessage{}, false
		}
		return AgentMessage{Text: text, Role: RoleUser, ContentType: ContentText}, true
	}
	return AgentMessage{}, false
}

// DiscoverCommands returns the static builtin set; Codex has no
// user-defined command directory the bot understands.
func (c *Codex) DiscoverCommands(baseDir string) []DiscoveredCommand {
	cmds := make([]DiscoveredCommand, len(codexBuiltins))
	copy(cmds, codexBuiltins)
	return cmds
}
