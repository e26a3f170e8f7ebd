package bot

import (
	"testing"
	"time"

	"github.com/otaviocarvalho/ccbot/internal/state"
	"github.com/otaviocarvalho/ccbot/internal/term"
)

func TestIsPromptHint(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"esc to interrupt", true},
		{"Esc to interrupt", true},
		{"Enter to select", true},
		{"enter to confirm", true},
		{"ctrl-c to quit", true},
		{"Pondering... (3s)", false},
		{"Reading files", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := isPromptHint(tt.text); got != tt.want {
				t.Errorf("isPromptHint(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Second, "Brewed for 5s"},
		{59 * time.Second, "Brewed for 59s"},
		{60 * time.Second, "Brewed for 1m 0s"},
		{125 * time.Second, "Brewed for 2m 5s"},
		{0, "Brewed for 0s"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatDuration(tt.d); got != tt.want {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}

func TestShellCommands(t *testing.T) {
	for _, sh := range []string{"bash", "zsh", "fish", "sh", "dash"} {
		if !shellCommands[sh] {
			t.Errorf("%q should be a shell command", sh)
		}
	}
	for _, cmd := range []string{"claude", "codex", "node", "python", ""} {
		if shellCommands[cmd] {
			t.Errorf("%q should not be a shell command", cmd)
		}
	}
}

func TestDeadNotices_OncePerBinding(t *testing.T) {
	b := newTestBot(t)

	if !b.deadNotices.mark("900", "1", "@9") {
		t.Fatal("first mark should report true")
	}
	if b.deadNotices.mark("900", "1", "@9") {
		t.Error("second mark should report false")
	}

	b.clearDeadNotification("900", "1", "@9")
	if !b.deadNotices.mark("900", "1", "@9") {
		t.Error("mark after clear should report true again")
	}
}

// permissionPromptScreen renders a pane showing an in-terminal permission
// prompt.
func permissionPromptScreen() *term.Screen {
	s := term.NewScreen(80, 24)
	s.Feed("Do you want to proceed?\r\n❯ 1. Yes\r\n  2. No\r\nEsc to cancel")
	return s
}

func TestSyncInteractive_ClearsStaleMirror(t *testing.T) {
	sp := NewStatusPoller(newTestBot(t), nil, nil)
	sp.bot.interactive.set(100, 7, "@4")

	users := []state.UserThread{{UserID: "100", ThreadID: "7"}}
	if sp.syncInteractive("@4", term.NewScreen(80, 24), users) {
		t.Error("empty screen should not report an active mirror")
	}
	if sp.bot.interactive.active(100, 7) {
		t.Error("mirror should be dropped once the prompt leaves the screen")
	}
}

func TestSyncInteractive_KeepsLiveMirror(t *testing.T) {
	sp := NewStatusPoller(newTestBot(t), nil, nil)
	sp.bot.interactive.set(100, 7, "@4")

	users := []state.UserThread{{UserID: "100", ThreadID: "7"}}
	if !sp.syncInteractive("@4", permissionPromptScreen(), users) {
		t.Error("prompt on screen should keep the mirror active")
	}
	if !sp.bot.interactive.active(100, 7) {
		t.Error("live mirror should survive the poll")
	}
}

func TestSyncInteractive_LeavesOtherWindowMirror(t *testing.T) {
	sp := NewStatusPoller(newTestBot(t), nil, nil)
	sp.bot.interactive.set(100, 7, "@9")

	users := []state.UserThread{{UserID: "100", ThreadID: "7"}}
	sp.syncInteractive("@4", term.NewScreen(80, 24), users)
	if !sp.bot.interactive.active(100, 7) {
		t.Error("mirror bound to another window must not be cleared")
	}
}

func TestSyncInteractive_SkipsUnresolvedChat(t *testing.T) {
	sp := NewStatusPoller(newTestBot(t), nil, nil)

	users := []state.UserThread{{UserID: "100", ThreadID: "7"}}
	if sp.syncInteractive("@4", permissionPromptScreen(), users) {
		t.Error("nothing should be mirrored without a chat to post into")
	}
	if sp.bot.interactive.active(100, 7) {
		t.Error("no mirror should be registered without a chat")
	}
}

func TestTrackSubagent(t *testing.T) {
	sp := NewStatusPoller(nil, nil, nil)

	if n := sp.subagentCount("@1"); n != 0 {
		t.Fatalf("fresh poller should have 0 subagents, got %d", n)
	}

	sp.trackSubagent("@1", "a", true)
	sp.trackSubagent("@1", "b", true)
	sp.trackSubagent("@2", "c", true)
	if n := sp.subagentCount("@1"); n != 2 {
		t.Errorf("expected 2 subagents on @1, got %d", n)
	}
	if n := sp.subagentCount("@2"); n != 1 {
		t.Errorf("expected 1 subagent on @2, got %d", n)
	}

	sp.trackSubagent("@1", "a", false)
	if n := sp.subagentCount("@1"); n != 1 {
		t.Errorf("expected 1 subagent after stop, got %d", n)
	}

	// Stopping an unknown subagent is a no-op
	sp.trackSubagent("@1", "zzz", false)
	if n := sp.subagentCount("@1"); n != 1 {
		t.Errorf("expected count unchanged, got %d", n)
	}
}

func TestStateEmoji_CoversAllStates(t *testing.T) {
	for _, s := range []string{stateActive, stateIdle, stateDone, stateDead} {
		if stateEmoji[s] == "" {
			t.Errorf("state %q has no emoji", s)
		}
	}
}
