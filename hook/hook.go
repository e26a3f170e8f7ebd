package hook

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/otaviocarvalho/ccbot/internal/state"
	"github.com/otaviocarvalho/ccbot/internal/tmux"
)

// hookInput is the JSON structure read from stdin by the hook.
type hookInput struct {
	SessionID      string `json:"session_id"`
	CWD            string `json:"cwd"`
	HookEventName  string `json:"hook_event_name"`
	TranscriptPath string `json:"transcript_path"`

	// Event-specific fields, present depending on the event.
	ToolName    string `json:"tool_name"`
	Message     string `json:"message"`
	StopReason  string `json:"stop_reason"`
	NumTurns    int    `json:"num_turns"`
	SubagentID  string `json:"subagent_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// Events the bot reacts to. Subagent events run async so they don't
// block the agent's tool loop.
var hookEvents = []string{
	"SessionStart",
	"Notification",
	"Stop",
	"SubagentStart",
	"SubagentStop",
	"TeammateIdle",
	"TaskCompleted",
}

var asyncEvents = map[string]bool{
	"SubagentStart": true,
	"SubagentStop":  true,
}

// Run executes the hook: reads the event JSON from stdin, resolves the
// tmux window it ran in, updates session_map.json on SessionStart, and
// appends the event to events.jsonl. Exits silently outside tmux so
// agents run fine without the bot, and never fails the agent's hook
// pipeline over malformed input.
func Run() error {
	input, ok := readInput(os.Stdin)
	if !ok {
		return nil
	}

	paneID := os.Getenv("TMUX_PANE")
	if paneID == "" {
		return nil // not in tmux, exit silently
	}

	// Tab-separated so window names containing ":" survive the split.
	info, err := tmux.DisplayMessage(paneID, "#{session_name}\t#{window_id}\t#{window_name}")
	if err != nil {
		return fmt.Errorf("getting tmux info: %w", err)
	}
	sessionName, windowID, windowName, ok := parseWindowInfo(info)
	if !ok {
		return fmt.Errorf("unexpected tmux display-message output: %q", info)
	}
	key := sessionName + ":" + windowID

	dir := dataDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating ccbot dir: %w", err)
	}

	if input.HookEventName == "SessionStart" {
		entry := state.SessionMapEntry{
			SessionID:      input.SessionID,
			CWD:            input.CWD,
			WindowName:     windowName,
			TranscriptPath: input.TranscriptPath,
			ProviderName:   providerName(),
		}
		path := filepath.Join(dir, "session_map.json")
		if err := state.UpsertSessionMapEntry(path, key, entry); err != nil {
			return err
		}
	}

	ev := state.HookEvent{
		TS:        float64(time.Now().UnixNano()) / 1e9,
		Event:     input.HookEventName,
		WindowKey: key,
		SessionID: input.SessionID,
		Data:      eventData(input),
	}
	return state.AppendEvent(filepath.Join(dir, "events.jsonl"), ev)
}

// readInput decodes and validates the event payload. Anything invalid is
// logged and dropped: a hook that exits non-zero would surface an error
// inside the agent, so bad input is rejected silently instead.
func readInput(r io.Reader) (hookInput, bool) {
	var input hookInput
	if err := json.NewDecoder(r).Decode(&input); err != nil {
		log.Printf("hook: ignoring malformed input: %v", err)
		return input, false
	}
	if !knownEvent(input.HookEventName) {
		return input, false
	}
	if !uuidRegex.MatchString(input.SessionID) {
		log.Printf("hook: ignoring event with invalid session_id %q", input.SessionID)
		return input, false
	}
	if !filepath.IsAbs(input.CWD) {
		log.Printf("hook: ignoring event with non-absolute cwd %q", input.CWD)
		return input, false
	}
	return input, true
}

// parseWindowInfo splits the tab-separated display-message reply into
// session name, window ID, and window name.
func parseWindowInfo(info string) (sessionName, windowID, windowName string, ok bool) {
	parts := strings.SplitN(info, "\t", 3)
	if len(parts) < 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// eventData extracts the event-specific payload fields worth forwarding.
func eventData(in hookInput) map[string]interface{} {
	data := make(map[string]interface{})
	switch in.HookEventName {
	case "Notification":
		if in.ToolName != "" {
			data["tool_name"] = in.ToolName
		}
		if in.Message != "" {
			data["message"] = in.Message
		}
	case "Stop":
		if in.StopReason != "" {
			data["stop_reason"] = in.StopReason
		}
		if in.NumTurns > 0 {
			data["num_turns"] = in.NumTurns
		}
	case "SubagentStart", "SubagentStop":
		if in.SubagentID != "" {
			data["subagent_id"] = in.SubagentID
		}
		if in.Name != "" {
			data["name"] = in.Name
		}
		if in.Description != "" {
			data["description"] = in.Description
		}
	}
	if len(data) == 0 {
		return nil
	}
	return data
}

func knownEvent(name string) bool {
	for _, ev := range hookEvents {
		if ev == name {
			return true
		}
	}
	return false
}

// dataDir resolves the ccbot data directory without importing config:
// the hook must work with just CCBOT_DIR or the default.
func dataDir() string {
	if dir := os.Getenv("CCBOT_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ccbot"
	}
	return filepath.Join(home, ".ccbot")
}

func providerName() string {
	if p := os.Getenv("CCBOT_PROVIDER"); p != "" {
		return p
	}
	return "claude"
}

// hookMarker identifies entries installed by us inside settings.json.
const hookMarker = "ccbot hook"

// Install adds the ccbot hook to ~/.claude/settings.json for every event
// the bot listens to.
func Install() error {
	settingsPath, settings, err := readSettings()
	if err != nil {
		return err
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("getting executable path: %w", err)
	}
	exePath, err = filepath.Abs(exePath)
	if err != nil {
		return fmt.Errorf("resolving executable path: %w", err)
	}
	hookCommand := exePath + " hook"

	hooks, _ := settings["hooks"].(map[string]any)
	if hooks == nil {
		hooks = make(map[string]any)
	}

	added := 0
	for _, event := range hookEvents {
		entries, _ := hooks[event].([]any)
		if containsMarker(entries) {
			continue
		}
		entry := map[string]any{
			"type":    "command",
			"command": hookCommand,
			"timeout": 5,
		}
		if asyncEvents[event] {
			entry["async"] = true
		}
		hooks[event] = append(entries, entry)
		added++
	}
	settings["hooks"] = hooks

	if added == 0 {
		fmt.Println("Hook already installed.")
		return nil
	}
	if err := writeSettings(settingsPath, settings); err != nil {
		return err
	}
	fmt.Printf("Hook installed for %d event(s).\n", added)
	return nil
}

// Uninstall removes all ccbot hook entries from ~/.claude/settings.json.
func Uninstall() error {
	settingsPath, settings, err := readSettings()
	if err != nil {
		return err
	}

	hooks, _ := settings["hooks"].(map[string]any)
	if hooks == nil {
		fmt.Println("No hooks installed.")
		return nil
	}

	removed := 0
	for event, raw := range hooks {
		entries, _ := raw.([]any)
		var kept []any
		for _, e := range entries {
			if entryHasMarker(e) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(hooks, event)
		} else {
			hooks[event] = kept
		}
	}

	if removed == 0 {
		fmt.Println("No hooks installed.")
		return nil
	}
	if err := writeSettings(settingsPath, settings); err != nil {
		return err
	}
	fmt.Printf("Removed %d hook entry(ies).\n", removed)
	return nil
}

// Status prints which events have the ccbot hook installed.
func Status() error {
	_, settings, err := readSettings()
	if err != nil {
		return err
	}
	hooks, _ := settings["hooks"].(map[string]any)

	installed := make([]string, 0, len(hookEvents))
	missing := make([]string, 0, len(hookEvents))
	for _, event := range hookEvents {
		entries, _ := hooks[event].([]any)
		if containsMarker(entries) {
			installed = append(installed, event)
		} else {
			missing = append(missing, event)
		}
	}
	sort.Strings(installed)
	sort.Strings(missing)

	if len(installed) > 0 {
		fmt.Printf("Installed: %s\n", strings.Join(installed, ", "))
	}
	if len(missing) > 0 {
		fmt.Printf("Missing:   %s\n", strings.Join(missing, ", "))
	}
	return nil
}

func readSettings() (string, map[string]any, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", nil, fmt.Errorf("getting home dir: %w", err)
	}
	settingsPath := filepath.Join(home, ".claude", "settings.json")

	var settings map[string]any
	data, err := os.ReadFile(settingsPath)
	if os.IsNotExist(err) {
		settings = make(map[string]any)
	} else if err != nil {
		return "", nil, fmt.Errorf("reading settings: %w", err)
	} else if err := json.Unmarshal(data, &settings); err != nil {
		return "", nil, fmt.Errorf("parsing settings: %w", err)
	}
	return settingsPath, settings, nil
}

func writeSettings(path string, settings map[string]any) error {
	out, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating settings dir: %w", err)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	return nil
}

func containsMarker(entries []any) bool {
	for _, e := range entries {
		if entryHasMarker(e) {
			return true
		}
	}
	return false
}

func entryHasMarker(entry any) bool {
	m, _ := entry.(map[string]any)
	if m == nil {
		return false
	}
	cmd, _ := m["command"].(string)
	return strings.Contains(cmd, hookMarker)
}
