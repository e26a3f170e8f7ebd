package bot

import (
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/otaviocarvalho/ccbot/internal/provider"
	"github.com/otaviocarvalho/ccbot/internal/state"
	"github.com/otaviocarvalho/ccbot/internal/tmux"
)

// Telegram command names: lowercase, digits, underscore, max 32 chars.
const maxCommandLen = 32

var commandSanitizeRe = regexp.MustCompile(`[^a-z0-9_]`)

// nativeCommands are handled by the bot itself and never shadowed by
// discovered provider commands.
var nativeCommands = map[string]bool{
	"new": true, "sessions": true, "resume": true, "history": true,
	"screenshot": true, "esc": true, "get": true, "start": true,
}

// builtinAgentCommands are agent-side slash commands forwarded as
// keystrokes even when command discovery finds nothing.
var builtinAgentCommands = map[string]bool{
	"clear": true, "compact": true, "cost": true, "help": true, "memory": true,
}

// handleCommand routes slash commands.
func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.reply(msg.Chat.ID, b.threadID(msg), "Send a message in a forum topic to start a session, or use /new.")
	case "new":
		b.handleNew(msg)
	case "sessions":
		b.handleSessions(msg)
	case "resume":
		b.handleResume(msg)
	case "history":
		b.handleHistory(msg)
	case "screenshot":
		b.handleScreenshotCommand(msg)
	case "esc":
		b.handleEsc(msg)
	case "get":
		b.handleGet(msg)
	default:
		if builtinAgentCommands[msg.Command()] {
			b.forwardAgentCommand(msg, msg.Command())
			return
		}
		if cmd, ok := b.commandIndex[msg.Command()]; ok {
			b.forwardAgentCommand(msg, cmd.Name)
			return
		}
		b.reply(msg.Chat.ID, b.threadID(msg), "Unknown command: /"+msg.Command())
	}
}

// buildCommandIndex discovers provider commands and indexes them by their
// sanitized Telegram-safe names. Native bot commands win collisions.
func (b *Bot) buildCommandIndex() map[string]provider.DiscoveredCommand {
	index := make(map[string]provider.DiscoveredCommand)
	home, _ := os.UserHomeDir()

	p := b.registry.Get(b.config.DefaultProvider)
	for _, cmd := range p.DiscoverCommands(home) {
		name := sanitizeCommandName(cmd.Name)
		if name == "" || nativeCommands[name] {
			continue
		}
		if _, taken := index[name]; taken {
			continue
		}
		index[name] = cmd
	}
	return index
}

// sanitizeCommandName maps a provider command name to a valid Telegram
// command: lowercase, non-[a-z0-9_] runs become underscores, 32-char cap.
func sanitizeCommandName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = commandSanitizeRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > maxCommandLen {
		s = s[:maxCommandLen]
	}
	return s
}

// forwardAgentCommand sends a slash command to the bound window as
// keystrokes. Discovered commands pass their original (pre-sanitized)
// name here.
func (b *Bot) forwardAgentCommand(msg *tgbotapi.Message, name string) {
	windowID, bound := b.resolveWindow(msg)
	if !bound {
		b.reply(msg.Chat.ID, b.threadID(msg), "Topic not bound to a session. Send a message to bind.")
		return
	}

	text := "/" + name
	if args := msg.CommandArguments(); args != "" {
		text += " " + args
	}
	if err := tmux.SendKeysWithDelay(b.config.TmuxSessionName, windowID, text, 500); err != nil {
		log.Printf("Error forwarding command %s to %s: %v", text, windowID, err)
		b.reply(msg.Chat.ID, b.threadID(msg), "Error: failed to send command.")
		return
	}

	// /clear starts a fresh transcript; drop the old tracking state.
	if name == "clear" {
		b.resetSessionTracking(windowID)
	}
}

// resolveWindow returns the window ID for the user's thread, or empty string if unbound.
func (b *Bot) resolveWindow(msg *tgbotapi.Message) (string, bool) {
	userID := strconv.FormatInt(msg.From.ID, 10)
	threadID := strconv.Itoa(b.threadID(msg))
	return b.state.GetWindowForThread(userID, threadID)
}

// userOwnsWindow reports whether the user has a binding to the window.
func (b *Bot) userOwnsWindow(userID int64, windowID string) bool {
	uid := strconv.FormatInt(userID, 10)
	for _, ut := range b.state.FindUsersForWindow(windowID) {
		if ut.UserID == uid {
			return true
		}
	}
	return false
}

// resetSessionTracking clears session monitor state for a window after /clear.
func (b *Bot) resetSessionTracking(windowID string) {
	if b.monitorState == nil {
		return
	}
	sm := state.ReadSessionMap(b.config.SessionMapPath())
	for key, entry := range sm {
		if windowIDFromKey(key) == windowID && entry.SessionID != "" {
			b.monitorState.RemoveSession(entry.SessionID)
		}
	}
}

// handleNew opens the directory browser to create a fresh session.
func (b *Bot) handleNew(msg *tgbotapi.Message) {
	threadID := b.threadID(msg)
	if threadID == 0 {
		b.reply(msg.Chat.ID, threadID, "Use /new inside a forum topic.")
		return
	}
	userID := strconv.FormatInt(msg.From.ID, 10)
	b.state.SetGroupChatID(userID, strconv.Itoa(threadID), msg.Chat.ID)
	b.saveState()
	b.showDirectoryBrowser(msg.Chat.ID, threadID, msg.From.ID, "")
}

// handleEsc sends Escape key to tmux.
func (b *Bot) handleEsc(msg *tgbotapi.Message) {
	windowID, bound := b.resolveWindow(msg)
	if !bound {
		b.reply(msg.Chat.ID, b.threadID(msg), "Topic not bound to a session.")
		return
	}

	if err := tmux.SendSpecialKey(b.config.TmuxSessionName, windowID, "Escape"); err != nil {
		log.Printf("Error sending Escape to %s: %v", windowID, err)
		b.reply(msg.Chat.ID, b.threadID(msg), "Error: failed to send Escape.")
	}
}

// handleGet starts the file browser for sending files via Telegram.
func (b *Bot) handleGet(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	threadID := b.threadID(msg)
	userID := msg.From.ID

	// Try to start from the bound session's CWD
	startPath := ""
	windowID, bound := b.resolveWindow(msg)
	if bound {
		if ws, ok := b.state.GetWindowState(windowID); ok && ws.CWD != "" {
			startPath = ws.CWD
		}
	}

	// Fall back to home directory
	if startPath == "" {
		home, _ := os.UserHomeDir()
		startPath = home
	}

	b.showFileBrowser(chatID, threadID, userID, startPath)
}

// handleTopicClose handles forum topic close events.
// It kills the tmux window and cleans up all related state.
func (b *Bot) handleTopicClose(msg *tgbotapi.Message) {
	threadID := b.threadID(msg)
	threadIDStr := strconv.Itoa(threadID)

	// Find all users bound to this thread and clean up each binding
	cleaned := false
	for _, userID := range b.state.AllUserIDs() {
		windowID, bound := b.state.GetWindowForThread(userID, threadIDStr)
		if !bound {
			continue
		}

		cleaned = true

		// Kill tmux window (ignore errors — may already be dead)
		tmux.KillWindow(b.config.TmuxSessionName, windowID)

		// Clean up state
		b.state.UnbindThread(userID, threadIDStr)
		b.state.RemoveWindowState(windowID)
		b.state.RemoveGroupChatID(userID, threadIDStr)

		if uid, err := strconv.ParseInt(userID, 10, 64); err == nil {
			b.cancelBashCapture(uid, threadID)
			b.interactive.clear(uid, threadID)
			if b.msgQueue != nil {
				b.msgQueue.ForgetStatusMessage(uid, threadID)
			}
		}

		b.removeSessionTrackingForWindow(windowID)
	}

	if cleaned {
		b.saveState()
		log.Printf("Topic %d closed: cleaned up bindings and killed window", threadID)
	}
}

// removeSessionTrackingForWindow drops session_map entries and monitor
// tracking for every session recorded against a window.
func (b *Bot) removeSessionTrackingForWindow(windowID string) {
	path := b.config.SessionMapPath()
	sm := state.ReadSessionMap(path)
	for key, entry := range sm {
		if windowIDFromKey(key) != windowID {
			continue
		}
		if b.monitorState != nil && entry.SessionID != "" {
			b.monitorState.RemoveSession(entry.SessionID)
		}
		if err := state.RemoveSessionMapEntry(path, key); err != nil {
			log.Printf("Error removing session map entry %s: %v", key, err)
		}
	}
}

// windowIDFromKey extracts the window ID from a session map key ("session:@N" → "@N").
func windowIDFromKey(key string) string {
	if idx := strings.LastIndex(key, ":"); idx >= 0 {
		return key[idx+1:]
	}
	return key
}
