// Package provider normalizes the agent CLIs (Claude Code, Codex, Gemini)
// behind one interface: launch arguments, transcript parsing, terminal
// status detection, and command discovery.
package provider

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/otaviocarvalho/ccbot/internal/term"
)

// Message roles and content types used in AgentMessage.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	ContentText       = "text"
	ContentThinking   = "thinking"
	ContentToolUse    = "tool_use"
	ContentToolResult = "tool_result"
)

// resumeIDRe validates resume IDs passed back to a CLI command line.
var resumeIDRe = regexp.MustCompile(`^[\w-]+$`)

// SessionStartEvent is emitted when a provider session starts via hook.
type SessionStartEvent struct {
	SessionID      string
	CWD            string
	TranscriptPath string
}

// AgentMessage is a single parsed message from an agent transcript.
type AgentMessage struct {
	Text        string
	Role        string // RoleUser or RoleAssistant
	ContentType string // ContentText, ContentThinking, ContentToolUse, ContentToolResult
	ToolUseID   string
	ToolName    string
	ToolInput   string
	IsError     bool
}

// StatusUpdate is a parsed terminal status from the agent's pane.
type StatusUpdate struct {
	RawText       string
	DisplayLabel  string // short label like "…reading", or the UI name
	IsInteractive bool
	UIType        string
}

// PendingTool tracks a tool_use block awaiting its tool_result.
// The map is carried across monitor poll cycles, keyed by tool_use_id.
type PendingTool struct {
	Name    string
	Input   string
	Summary string
}

// DiscoveredCommand is a provider command surfaced as a Telegram command.
type DiscoveredCommand struct {
	Name        string // original form, e.g. "spec:work"
	Description string
	Source      string // "builtin", "skill", or "command"
}

// Capabilities declares what a provider supports. Immutable per provider.
type Capabilities struct {
	Name                string
	LaunchCommand       string
	SupportsHook        bool
	SupportsResume      bool
	SupportsContinue    bool
	SupportsIncremental bool // false: whole-file JSON, progress by message count
	UsesPaneTitle       bool
	ProjectsDir         string // transcript location, ~ expands to home
	TerminalUIPatterns  []term.UIPattern
	BuiltinCommands     []DiscoveredCommand
}

// Provider is the interface every agent CLI backend implements.
type Provider interface {
	Capabilities() Capabilities

	// MakeLaunchArgs builds the CLI argument string for launching or
	// resuming a session. Empty for a fresh session.
	MakeLaunchArgs(resumeID string, useContinue bool) (string, error)

	// ParseHookPayload converts hook stdin JSON into a SessionStartEvent.
	// Returns nil for invalid payloads or providers without hooks.
	ParseHookPayload(payload []byte) *SessionStartEvent

	// ParseTranscriptLine parses one raw transcript line. Returns false
	// for empty, partial, or non-object lines.
	ParseTranscriptLine(line []byte) (json.RawMessage, bool)

	// ParseTranscriptEntries lowers raw entries to AgentMessages, pairing
	// tool uses with results through the carried pending map.
	ParseTranscriptEntries(entries []json.RawMessage, pending map[string]PendingTool) []AgentMessage

	// ParseTerminalStatus inspects rendered pane text (and the tmux pane
	// title where the CLI sets one) for a status or interactive UI.
	ParseTerminalStatus(paneText, paneTitle string) (StatusUpdate, bool)

	// IsUserTranscriptEntry reports whether an entry is a human turn.
	IsUserTranscriptEntry(entry json.RawMessage) bool

	// ParseHistoryEntry renders one entry for /history display.
	ParseHistoryEntry(entry json.RawMessage) (AgentMessage, bool)

	// DiscoverCommands returns the provider commands available to forward,
	// including any found under baseDir (skills, custom commands).
	DiscoverCommands(baseDir string) []DiscoveredCommand
}

// WholeFileParser is implemented by providers whose transcript is a
// single JSON document rewritten in place rather than an appended log.
type WholeFileParser interface {
	// SplitSessionFile parses the whole document into its messages.
	// Returns false when the document doesn't parse, so read progress is
	// held until the write completes.
	SplitSessionFile(data []byte) ([]json.RawMessage, bool)
}

// Registry maps provider names to instances.
type Registry struct {
	providers map[string]Provider
	fallback  string
}

// NewRegistry returns a registry with all known providers registered.
func NewRegistry() *Registry {
	r := &Registry{providers: make(map[string]Provider), fallback: "claude"}
	r.Register(NewClaude())
	r.Register(NewCodex())
	r.Register(NewGemini())
	return r
}

// Register adds a provider under its capability name.
func (r *Registry) Register(p Provider) {
	r.providers[p.Capabilities().Name] = p
}

// IsValid reports whether name is a registered provider.
func (r *Registry) IsValid(name string) bool {
	_, ok := r.providers[name]
	return ok
}

// Get returns the provider for name, falling back to claude for unknown names.
func (r *Registry) Get(name string) Provider {
	if p, ok := r.providers[name]; ok {
		return p
	}
	return r.providers[r.fallback]
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// DetectFromCommand detects a provider name from a tmux pane's running
// process. Matches the command basename against known names so paths like
// /home/claude/bin/vim don't false-positive. Returns "" when unrecognized.
func DetectFromCommand(paneCurrentCommand string) string {
	cmd := strings.ToLower(strings.TrimSpace(paneCurrentCommand))
	if cmd == "" {
		return ""
	}
	basename := filepath.Base(strings.Fields(cmd)[0])
	for _, name := range []string{"claude", "codex", "gemini"} {
		if basename == name || strings.HasPrefix(basename, name+"-") {
			return name
		}
	}
	return ""
}

// FormatToolUseSummary formats a tool_use into a one-line summary.
func FormatToolUseSummary(name, input string) string {
	return "**" + name + "**(" + input + ")"
}

func validateResumeID(resumeID string) bool {
	return resumeIDRe.MatchString(resumeID)
}

func errInvalidResumeID(resumeID string) error {
	return fmt.Errorf("invalid resume id %q", resumeID)
}

func jsonString(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
