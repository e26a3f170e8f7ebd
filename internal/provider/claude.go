package provider

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/otaviocarvalho/ccbot/internal/term"
)

// Claude Code built-in slash commands the bot forwards as keystrokes.
var claudeBuiltins = []DiscoveredCommand{
	{Name: "clear", Description: "Clear conversation history", Source: "builtin"},
	{Name: "compact", Description: "Compact conversation context", Source: "builtin"},
	{Name: "cost", Description: "Show token usage and cost", Source: "builtin"},
	{Name: "help", Description: "Show available commands", Source: "builtin"},
	{Name: "memory", Description: "Edit memory files", Source: "builtin"},
}

// System tags stripped from user-visible transcript text.
var reSystemTags = regexp.MustCompile(`<(?:bash-input|bash-stdout|bash-stderr|local-command-caveat|system-reminder)[^>]*>[\s\S]*?</(?:bash-input|bash-stdout|bash-stderr|local-command-caveat|system-reminder)>`)

var claudeHookEvents = map[string]bool{
	"SessionStart":  true,
	"Notification":  true,
	"Stop":          true,
	"SubagentStart": true,
	"SubagentStop":  true,
	"TeammateIdle":  true,
	"TaskCompleted": true,
}

// Claude implements Provider for the Claude Code CLI.
type Claude struct {
	caps Capabilities
}

// NewClaude builds the Claude Code provider.
func NewClaude() *Claude {
	return &Claude{caps: Capabilities{
		Name:                "claude",
		LaunchCommand:       "claude",
		SupportsHook:        true,
		SupportsResume:      true,
		SupportsContinue:    true,
		SupportsIncremental: true,
		ProjectsDir:         "~/.claude/projects",
		TerminalUIPatterns:  term.ClaudeUIPatterns,
		BuiltinCommands:     claudeBuiltins,
	}}
}

func (c *Claude) Capabilities() Capabilities { return c.caps }

// MakeLaunchArgs builds Claude CLI args: --resume <id> or --continue.
func (c *Claude) MakeLaunchArgs(resumeID string, useContinue bool) (string, error) {
	if resumeID != "" {
		if !validateResumeID(resumeID) {
			return "", errInvalidResumeID(resumeID)
		}
		return "--resume " + resumeID, nil
	}
	if useContinue {
		return "--continue", nil
	}
	return "", nil
}

// ParseHookPayload validates a Claude hook payload: UUIDv4 session_id,
// absolute cwd, known hook_event_name. Invalid payloads return nil.
func (c *Claude) ParseHookPayload(payload []byte) *SessionStartEvent {
	var p struct {
		SessionID      string `json:"session_id"`
		CWD            string `json:"cwd"`
		HookEventName  string `json:"hook_event_name"`
		TranscriptPath string `json:"transcript_path"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil
	}
	if _, err := uuid.Parse(p.SessionID); err != nil {
		return nil
	}
	if !filepath.IsAbs(p.CWD) {
		return nil
	}
	if !claudeHookEvents[p.HookEventName] {
		return nil
	}
	return &SessionStartEvent{
		SessionID:      p.SessionID,
		CWD:            p.CWD,
		TranscriptPath: p.TranscriptPath,
	}
}

// ParseTranscriptLine accepts one JSONL line if it is a JSON object.
func (c *Claude) ParseTranscriptLine(line []byte) (json.RawMessage, bool) {
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

// claudeEntry is the subset of a transcript entry the bot renders.
type claudeEntry struct {
	Type    string `json:"type"`
	Message struct {
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type claudeBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	IsError   bool            `json:"is_error"`
	Content   json.RawMessage `json:"content"`
}

// ParseTranscriptEntries lowers raw entries to AgentMessages. tool_use
// blocks are remembered in pending; a tool_result consumes its pending
// entry, and unmatched non-error results (e.g. after a restart) are skipped.
func (c *Claude) ParseTranscriptEntries(entries []json.RawMessage, pending map[string]PendingTool) []AgentMessage {
	var out []AgentMessage
	for _, raw := range entries {
		var entry claudeEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		if entry.Type != "user" && entry.Type != "assistant" {
			continue
		}
		for _, block := range parseClaudeBlocks(entry.Message.Content) {
			switch block.Type {
			case "text":
				if text := cleanClaudeText(block.Text); text != "" {
					out = append(out, AgentMessage{
						Role:        entry.Type,
						ContentType: ContentText,
						Text:        text,
					})
				}
			case "thinking":
				if block.Thinking != "" {
					out = append(out, AgentMessage{
						Role:        RoleAssistant,
						ContentType: ContentThinking,
						Text:        block.Thinking,
					})
				}
			case "tool_use":
				input := claudeToolInput(block.Name, block.Input)
				summary := FormatToolUseSummary(block.Name, input)
				pending[block.ID] = PendingTool{Name: block.Name, Input: input, Summary: summary}
				out = append(out, AgentMessage{
					Role:        RoleAssistant,
					ContentType: ContentToolUse,
					Text:        summary,
					ToolUseID:   block.ID,
					ToolName:    block.Name,
					ToolInput:   input,
				})
			case "tool_result":
				msg := AgentMessage{
					Role:        RoleUser,
					ContentType: ContentToolResult,
					ToolUseID:   block.ToolUseID,
					Text:        claudeToolResultText(block.Content),
					IsError:     block.IsError,
				}
				if pt, ok := pending[block.ToolUseID]; ok {
					msg.ToolName = pt.Name
					msg.ToolInput = pt.Input
					delete(pending, block.ToolUseID)
				} else if !block.IsError {
					continue
				} else {
					msg.ToolName = "unknown"
				}
				out = append(out, msg)
			}
		}
	}
	return out
}

// ParseTerminalStatus falls back to separator/spinner scanning when the
// screen-buffer path found nothing.
func (c *Claude) ParseTerminalStatus(paneText, paneTitle string) (StatusUpdate, bool) {
	if ui, ok := term.ExtractInteractive(strings.Split(paneText, "\n"), c.caps.TerminalUIPatterns); ok {
		return StatusUpdate{
			RawText:       ui.Content,
			DisplayLabel:  ui.Name,
			IsInteractive: true,
			UIType:        ui.Name,
		}, true
	}
	if raw, ok := term.ParseStatusLine(paneText, 0); ok {
		return StatusUpdate{RawText: raw, DisplayLabel: term.FormatStatusDisplay(raw)}, true
	}
	return StatusUpdate{}, false
}

// IsUserTranscriptEntry reports whether an entry is a human text turn.
func (c *Claude) IsUserTranscriptEntry(entry json.RawMessage) bool {
	var e claudeEntry
	if err := json.Unmarshal(entry, &e); err != nil || e.Type != "user" {
		return false
	}
	for _, block := range parseClaudeBlocks(e.Message.Content) {
		if block.Type == "text" && cleanClaudeText(block.Text) != "" {
			return true
		}
		if block.Type == "tool_result" {
			return false
		}
	}
	return false
}

// ParseHistoryEntry renders one entry for /history display.
func (c *Claude) ParseHistoryEntry(entry json.RawMessage) (AgentMessage, bool) {
	var e claudeEntry
	if err := json.Unmarshal(entry, &e); err != nil {
		return AgentMessage{}, false
	}
	if e.Type != "user" && e.Type != "assistant" {
		return AgentMessage{}, false
	}
	var parts []string
	for _, block := range parseClaudeBlocks(e.Message.Content) {
		if block.Type == "text" {
			if text := cleanClaudeText(block.Text); text != "" {
				parts = append(parts, text)
			}
		}
	}
	if len(parts) == 0 {
		return AgentMessage{}, false
	}
	return AgentMessage{
		Role:        e.Type,
		ContentType: ContentText,
		Text:        strings.Join(parts, "\n"),
	}, true
}

// DiscoverCommands returns builtins plus skills and custom commands found
// under baseDir (typically ~/.claude): skills/*/SKILL.md and commands/*.md
// with YAML frontmatter supplying name and description.
func (c *Claude) DiscoverCommands(baseDir string) []DiscoveredCommand {
	cmds := make([]DiscoveredCommand, len(claudeBuiltins))
	copy(cmds, claudeBuiltins)

	skillFiles, _ := filepath.Glob(filepath.Join(baseDir, "skills", "*", "SKILL.md"))
	sort.Strings(skillFiles)
	for _, path := range skillFiles {
		name, desc := parseFrontmatter(path)
		if name == "" {
			name = filepath.Base(filepath.Dir(path))
		}
		cmds = append(cmds, DiscoveredCommand{Name: name, Description: desc, Source: "skill"})
	}

	cmdFiles, _ := filepath.Glob(filepath.Join(baseDir, "commands", "*.md"))
	sort.Strings(cmdFiles)
	for _, path := range cmdFiles {
		name, desc := parseFrontmatter(path)
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(path), ".md")
		}
		cmds = append(cmds, DiscoveredCommand{Name: name, Description: desc, Source: "command"})
	}
	return cmds
}

// parseFrontmatter reads the YAML frontmatter block of a markdown file.
func parseFrontmatter(path string) (name, description string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", ""
	}
	content := string(data)
	if !strings.HasPrefix(content, "---\n") {
		return "", ""
	}
	rest := content[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return "", ""
	}
	var fm struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	}
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return "", ""
	}
	return fm.Name, fm.Description
}

// parseClaudeBlocks parses a message content field, which is either a bare
// string or an array of typed blocks.
func parseClaudeBlocks(content json.RawMessage) []claudeBlock {
	if content == nil {
		return nil
	}
	var text string
	if err := json.Unmarshal(content, &text); err == nil {
		if text == "" {
			return nil
		}
		return []claudeBlock{{Type: "text", Text: text}}
	}
	var blocks []claudeBlock
	if err := json.Unmarshal(content, &blocks); err != nil {
		return nil
	}
	return blocks
}

// claudeToolInput extracts a short human-readable summary of a tool input.
func claudeToolInput(toolName string, input json.RawMessage) string {
	if input == nil {
		return ""
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(input, &fields); err != nil {
		return ""
	}
	switch toolName {
	case "Read", "Write", "Edit":
		return jsonString(fields["file_path"])
	case "Bash":
		cmd := jsonString(fields["command"])
		if len(cmd) > 100 {
			cmd = cmd[:100] + "..."
		}
		return cmd
	case "Grep", "Glob":
		return jsonString(fields["pattern"])
	case "Task":
		return jsonString(fields["description"])
	case "WebFetch":
		return jsonString(fields["url"])
	case "WebSearch":
		return jsonString(fields["query"])
	case "AskUserQuestion":
		return "interactive"
	case "ExitPlanMode":
		return "plan"
	case "Skill":
		return jsonString(fields["skill"])
	default:
		return ""
	}
}

// claudeToolResultText extracts text from a tool_result content field.
func claudeToolResultText(content json.RawMessage) string {
	if content == nil {
		return ""
	}
	var text string
	if err := json.Unmarshal(content, &text); err == nil {
		return text
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(content, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// cleanClaudeText strips system tags from user-visible text.
func cleanClaudeText(text string) string {
	return strings.TrimSpace(reSystemTags.ReplaceAllString(text, ""))
}
