package bot

import (
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/otaviocarvalho/ccbot/internal/state"
)

// stubThread points a message ID at a forum thread on one bot instance.
func stubThread(b *Bot, messageID, threadID int) {
	b.forum.mu.Lock()
	b.forum.threads[messageID] = threadID
	b.forum.mu.Unlock()
}

func TestResolveWindow(t *testing.T) {
	b := newTestBot(t)
	b.state.BindThread("100", "42", "@5")
	stubThread(b, 1001, 42)
	stubThread(b, 1002, 99)

	msg := &tgbotapi.Message{MessageID: 1001, From: &tgbotapi.User{ID: 100}}
	windowID, bound := b.resolveWindow(msg)
	if !bound || windowID != "@5" {
		t.Errorf("bound thread: got (%q, %v), want (@5, true)", windowID, bound)
	}

	other := &tgbotapi.Message{MessageID: 1002, From: &tgbotapi.User{ID: 100}}
	if _, bound := b.resolveWindow(other); bound {
		t.Error("thread 99 has no binding and must resolve unbound")
	}
}

func TestWindowIDFromKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"agents:@5", "@5"},
		{"session:@12", "@12"},
		{"nocolon", "nocolon"},
		{"a:b:@3", "@3"},
	}
	for _, tt := range tests {
		if got := windowIDFromKey(tt.key); got != tt.want {
			t.Errorf("windowIDFromKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestSanitizeCommandName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"clear", "clear"},
		{"My Command", "my_command"},
		{"review-pr", "review_pr"},
		{"  weird!!name  ", "weird__name"},
		{"___", ""},
		{"x:y/z", "x_y_z"},
	}
	for _, tt := range tests {
		if got := sanitizeCommandName(tt.in); got != tt.want {
			t.Errorf("sanitizeCommandName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeCommandName_CapsLength(t *testing.T) {
	got := sanitizeCommandName(strings.Repeat("abcdefghij", 5))
	if len(got) != maxCommandLen {
		t.Errorf("len = %d, want %d", len(got), maxCommandLen)
	}
}

func TestTopicClose_CleansUpState(t *testing.T) {
	s := state.NewState()
	s.BindThread("100", "42", "@5")
	s.SetWindowState("@5", state.WindowState{SessionID: "abc", CWD: "/tmp", WindowName: "test"})
	s.SetWindowDisplayName("@5", "test")
	s.SetGroupChatID("100", "42", -1001234)

	// The same sequence handleTopicClose runs.
	s.UnbindThread("100", "42")
	s.RemoveWindowState("@5")
	s.RemoveGroupChatID("100", "42")

	if _, ok := s.GetWindowForThread("100", "42"); ok {
		t.Error("binding should be removed")
	}
	if _, ok := s.GetWindowState("@5"); ok {
		t.Error("window state should be removed")
	}
	if _, ok := s.GetWindowDisplayName("@5"); ok {
		t.Error("display name should be removed")
	}
	if _, ok := s.GetGroupChatID("100", "42"); ok {
		t.Error("group chat ID should be removed")
	}
}

func TestAllUserIDs(t *testing.T) {
	s := state.NewState()
	if ids := s.AllUserIDs(); len(ids) != 0 {
		t.Errorf("fresh state should have no user IDs, got %v", ids)
	}

	s.BindThread("100", "1", "@1")
	s.BindThread("200", "2", "@2")

	found := make(map[string]bool)
	for _, id := range s.AllUserIDs() {
		found[id] = true
	}
	if len(found) != 2 || !found["100"] || !found["200"] {
		t.Errorf("want users 100 and 200, got %v", found)
	}
}
