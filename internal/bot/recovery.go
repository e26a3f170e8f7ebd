package bot

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/otaviocarvalho/ccbot/internal/state"
	"github.com/otaviocarvalho/ccbot/internal/tmux"
)

// ReconcileState cleans up stale bindings by checking against live tmux windows.
// Called on startup to handle bot restarts where windows may have died.
func (b *Bot) ReconcileState() int {
	session := b.config.TmuxSessionName

	windows, err := tmux.ListWindows(session)
	if err != nil {
		log.Printf("Recovery: cannot list windows: %v", err)
		return 0
	}

	liveIDs := make(map[string]bool)
	nameToID := make(map[string]string) // window_name → window_id
	for _, w := range windows {
		liveIDs[w.ID] = true
		nameToID[w.Name] = w.ID
	}

	var dropped, reresolved int

	for windowID := range b.state.AllBoundWindowIDs() {
		if liveIDs[windowID] {
			continue // alive, no action needed
		}

		// Try to re-resolve by matching display name against live window
		// names: tmux renumbers window IDs across server restarts.
		displayName, hasName := b.state.GetWindowDisplayName(windowID)
		if hasName && displayName != "" {
			if newID, ok := nameToID[displayName]; ok && newID != windowID {
				reResolveWindow(b.state, windowID, newID)
				reresolved++
				continue
			}
		}

		// Unresolvable: clean up everything for this window
		b.cleanupDeadWindow(windowID)
		dropped++
	}

	// Drop session_map entries for windows that no longer exist
	if err := state.PruneSessionMap(b.config.SessionMapPath(), liveIDs); err != nil {
		log.Printf("Recovery: cannot prune session map: %v", err)
	}

	if dropped > 0 || reresolved > 0 {
		b.saveState()
	}

	total := len(b.state.AllBoundWindowIDs())
	log.Printf("Recovery: %d live bindings, %d re-resolved, %d dropped",
		total, reresolved, dropped)

	return total
}

// reResolveWindow updates all references from oldID to newID.
func reResolveWindow(s *state.State, oldID, newID string) {
	// Save values that RemoveWindowState will delete
	savedWS, hasWS := s.GetWindowState(oldID)
	savedName, hasName := s.GetWindowDisplayName(oldID)
	savedProvider := s.GetWindowProvider(oldID)

	// Save offsets before removal
	savedOffsets := make(map[string]int64)
	for _, userID := range s.AllUserIDs() {
		offset := s.GetUserWindowOffset(userID, oldID)
		if offset > 0 {
			savedOffsets[userID] = offset
		}
	}

	// Update thread bindings
	for _, ut := range s.FindUsersForWindow(oldID) {
		s.UnbindThread(ut.UserID, ut.ThreadID)
		s.BindThread(ut.UserID, ut.ThreadID, newID)
	}

	// Remove old window state (this also removes display name and offsets)
	s.RemoveWindowState(oldID)

	// Restore to new ID
	if hasWS {
		s.SetWindowState(newID, savedWS)
	}
	if hasName {
		s.SetWindowDisplayName(newID, savedName)
	}
	if savedProvider != "" {
		s.SetWindowProvider(newID, savedProvider)
	}
	for userID, offset := range savedOffsets {
		s.SetUserWindowOffset(userID, newID, offset)
	}
}

// announceDeadWindow tells a user their session ended and offers recovery.
func (b *Bot) announceDeadWindow(userID, threadID, windowID string) {
	chatID := b.state.ResolveChatID(userID, threadID)
	if chatID == 0 {
		return
	}
	tid, _ := strconv.Atoi(threadID)

	display, _ := b.state.GetWindowDisplayName(windowID)
	if display == "" {
		display = windowID
	}

	ws, hasWS := b.state.GetWindowState(windowID)
	if !hasWS || ws.CWD == "" {
		b.reply(chatID, tid, fmt.Sprintf("⚠ Session %s ended.", display))
		return
	}

	text := fmt.Sprintf("⚠ Session %s ended.\n📂 %s\n\nTap a button or send a message to recover.",
		display, shortenPath(ws.CWD))

	keyboard := buildRecoveryKeyboard(windowID, ws.SessionID != "")
	if _, err := b.sendMessageWithKeyboard(chatID, tid, text, keyboard); err != nil {
		log.Printf("Error sending recovery offer: %v", err)
	}
}

func buildRecoveryKeyboard(windowID string, canResume bool) tgbotapi.InlineKeyboardMarkup {
	var first []tgbotapi.InlineKeyboardButton
	if canResume {
		first = append(first, tgbotapi.NewInlineKeyboardButtonData("▶ Resume", "rec_resume:"+windowID))
	}
	first = append(first, tgbotapi.NewInlineKeyboardButtonData("🔄 Restart", "rec_restart:"+windowID))

	return tgbotapi.NewInlineKeyboardMarkup(
		first,
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🆕 New session", "rec_new:"+windowID),
			tgbotapi.NewInlineKeyboardButtonData("🗑 Close", "rec_kill:"+windowID),
		),
	)
}

// processRecoveryCallback handles the dead-session recovery keyboard.
func (b *Bot) processRecoveryCallback(cq *tgbotapi.CallbackQuery) {
	data := cq.Data
	idx := strings.Index(data, ":")
	if idx < 0 {
		return
	}
	action := data[:idx]
	windowID := data[idx+1:]

	userID := cq.From.ID
	chatID := cq.Message.Chat.ID
	threadID := b.threadID(cq.Message)

	if !b.userOwnsWindow(userID, windowID) {
		return
	}

	switch action {
	case "rec_resume":
		b.recoverWindow(userID, chatID, threadID, windowID, true, "")
	case "rec_restart":
		b.recoverWindow(userID, chatID, threadID, windowID, false, "")
	case "rec_new":
		b.cleanupDeadWindow(windowID)
		b.saveState()
		b.showDirectoryBrowser(chatID, threadID, userID, "")
	case "rec_kill":
		b.cleanupDeadWindow(windowID)
		b.saveState()
		if err := b.closeForumTopic(chatID, threadID); err != nil {
			log.Printf("Error closing topic %d: %v", threadID, err)
			b.reply(chatID, threadID, "Session closed.")
		}
	}
}

// offerRecoveryIfDead auto-restarts a dead bound window when the user sends
// text into its topic. The pending text is replayed into the new session.
// Returns true when the message was consumed by recovery.
func (b *Bot) offerRecoveryIfDead(msg *tgbotapi.Message, windowID string) bool {
	if _, err := tmux.GetPaneCommand(b.config.TmuxSessionName, windowID); err == nil || !tmux.IsWindowDead(err) {
		return false
	}

	// The whole tmux session may have died with the window
	if err := tmux.EnsureSession(b.config.TmuxSessionName); err != nil {
		log.Printf("Error re-creating tmux session: %v", err)
	}

	userID := msg.From.ID
	chatID := msg.Chat.ID
	threadID := b.threadID(msg)

	ws, hasWS := b.state.GetWindowState(windowID)
	if !hasWS || ws.CWD == "" {
		log.Printf("Dead window %s: no CWD, falling back to directory browser", windowID)
		b.cleanupDeadWindow(windowID)
		b.saveState()
		b.reply(chatID, threadID, "Session died. Pick a directory to restart.")
		b.handleUnboundTopic(msg)
		return true
	}

	log.Printf("Dead window %s: auto-recreating in %s", windowID, ws.CWD)
	b.reply(chatID, threadID, "Session died. Restarting...")
	b.recoverWindow(userID, chatID, threadID, windowID, false, msg.Text)
	return true
}

// recoverWindow replaces a dead window with a fresh one in the same
// directory, optionally resuming the old agent session.
func (b *Bot) recoverWindow(userID, chatID int64, threadID int, windowID string, resume bool, pendingText string) {
	ws, hasWS := b.state.GetWindowState(windowID)
	if !hasWS || ws.CWD == "" {
		b.reply(chatID, threadID, "No working directory recorded. Use /new instead.")
		return
	}

	providerName := b.state.GetWindowProvider(windowID)
	if providerName == "" {
		providerName = b.config.DefaultProvider
	}

	resumeID := ""
	if resume && ws.SessionID != "" && b.registry.Get(providerName).Capabilities().SupportsResume {
		resumeID = ws.SessionID
	}

	// Save chat routing before cleanup wipes it
	userIDStr := strconv.FormatInt(userID, 10)
	threadIDStr := strconv.Itoa(threadID)

	b.cleanupDeadWindow(windowID)
	b.state.SetGroupChatID(userIDStr, threadIDStr, chatID)

	newID, windowName, err := b.createWindowForDir(userID, threadID, ws.CWD, providerName, resumeID)
	if err != nil {
		log.Printf("Error recovering window in %s: %v", ws.CWD, err)
		b.reply(chatID, threadID, "Failed to restart. Send a message to try again.")
		return
	}

	b.renameForumTopic(chatID, threadID, windowName)

	if pendingText != "" {
		if err := tmux.SendKeysWithDelay(b.config.TmuxSessionName, newID, pendingText, 500); err != nil {
			log.Printf("Error sending pending text after recovery: %v", err)
		}
	}
}

// cleanupDeadWindow removes all state for a dead window.
// Idempotent. Safe to call multiple times or concurrently.
func (b *Bot) cleanupDeadWindow(windowID string) {
	// Find and unbind all threads
	for _, ut := range b.state.FindUsersForWindow(windowID) {
		b.state.UnbindThread(ut.UserID, ut.ThreadID)
		b.state.RemoveGroupChatID(ut.UserID, ut.ThreadID)
		b.clearDeadNotification(ut.UserID, ut.ThreadID, windowID)
	}

	// Remove window state and display name
	b.state.RemoveWindowState(windowID)

	// Remove monitor state and session_map entries
	b.removeSessionTrackingForWindow(windowID)
}
