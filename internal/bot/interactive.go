package bot

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/otaviocarvalho/ccbot/internal/term"
	"github.com/otaviocarvalho/ccbot/internal/tmux"
)

// When an agent throws up an in-terminal prompt (permission dialog, plan
// review, checkpoint restore), the pane content is mirrored into a message
// with a navigation keyboard so the user can drive it from Telegram.
// nav_* callbacks forward keys; Enter and Esc end the session.

type interactiveKey struct {
	UserID   int64
	ThreadID int
}

// interactiveSession is one live mirrored prompt.
type interactiveSession struct {
	WindowID  string
	MessageID int // 0 until the first message is sent
}

// interactiveStore tracks the live mirrored prompts per topic.
type interactiveStore struct {
	mu       sync.RWMutex
	sessions map[interactiveKey]*interactiveSession
}

func newInteractiveStore() *interactiveStore {
	return &interactiveStore{sessions: make(map[interactiveKey]*interactiveSession)}
}

// set marks a user+thread as driving a terminal UI. Set before the first
// render so status polling stands down immediately.
func (st *interactiveStore) set(userID int64, threadID int, windowID string) {
	st.mu.Lock()
	st.sessions[interactiveKey{userID, threadID}] = &interactiveSession{WindowID: windowID}
	st.mu.Unlock()
}

func (st *interactiveStore) active(userID int64, threadID int) bool {
	_, ok := st.window(userID, threadID)
	return ok
}

func (st *interactiveStore) window(userID int64, threadID int) (string, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if s, ok := st.sessions[interactiveKey{userID, threadID}]; ok {
		return s.WindowID, true
	}
	return "", false
}

// clear ends the mirrored session, if any.
func (st *interactiveStore) clear(userID int64, threadID int) {
	st.mu.Lock()
	delete(st.sessions, interactiveKey{userID, threadID})
	st.mu.Unlock()
}

// showInteractiveUI captures the pane and, when an interactive prompt is on
// screen, sends or updates the mirrored message. Returns false when the
// screen shows no prompt.
func (b *Bot) showInteractiveUI(chatID int64, threadID int, userID int64, windowID string) bool {
	raw, err := tmux.CapturePane(b.config.TmuxSessionName, windowID, true)
	if err != nil {
		if tmux.IsWindowDead(err) {
			log.Printf("Interactive UI: window %s is dead", windowID)
			b.interactive.clear(userID, threadID)
		}
		return false
	}

	s := term.NewScreen(screenCols, screenRows)
	s.Feed(raw)

	p := b.providerForWindow(windowID)
	ui, ok := term.ExtractInteractiveFromScreen(s, p.Capabilities().TerminalUIPatterns)
	if !ok {
		return false
	}

	text := interactivePromptText(ui)
	keyboard := interactiveKeyboard(ui.Name)
	key := interactiveKey{userID, threadID}

	b.interactive.mu.RLock()
	sess := b.interactive.sessions[key]
	msgID := 0
	if sess != nil {
		msgID = sess.MessageID
	}
	b.interactive.mu.RUnlock()

	if msgID != 0 {
		if err := b.editMessageWithKeyboard(chatID, msgID, text, keyboard); err != nil {
			log.Printf("Error editing interactive message: %v", err)
		}
		return true
	}

	msg, err := b.sendMessageWithKeyboard(chatID, threadID, text, keyboard)
	if err != nil {
		log.Printf("Error sending interactive message: %v", err)
		return false
	}

	b.interactive.mu.Lock()
	b.interactive.sessions[key] = &interactiveSession{WindowID: windowID, MessageID: msg.MessageID}
	b.interactive.mu.Unlock()
	return true
}

// navKeyName maps a nav_* callback to the tmux key. terminal reports
// whether the action ends the mirrored session.
func navKeyName(data string) (key string, terminal, ok bool) {
	switch data {
	case "nav_up":
		return "Up", false, true
	case "nav_down":
		return "Down", false, true
	case "nav_left":
		return "Left", false, true
	case "nav_right":
		return "Right", false, true
	case "nav_space":
		return "Space", false, true
	case "nav_tab":
		return "Tab", false, true
	case "nav_esc":
		return "Escape", true, true
	case "nav_enter":
		return "Enter", true, true
	case "nav_refresh":
		return "", false, true
	}
	return "", false, false
}

// handleInteractiveCallback forwards a nav keypress and re-mirrors the pane.
func (b *Bot) handleInteractiveCallback(cq *tgbotapi.CallbackQuery) {
	userID := cq.From.ID
	threadID := b.threadID(cq.Message)

	windowID, active := b.interactive.window(userID, threadID)
	if !active {
		return
	}

	key, terminal, ok := navKeyName(cq.Data)
	if !ok {
		return
	}

	if key != "" {
		if err := tmux.SendSpecialKey(b.config.TmuxSessionName, windowID, key); err != nil {
			if tmux.IsWindowDead(err) {
				log.Printf("Interactive callback: window %s is dead", windowID)
				b.interactive.clear(userID, threadID)
			}
			return
		}
	}
	if terminal {
		b.interactive.clear(userID, threadID)
		return
	}

	time.Sleep(500 * time.Millisecond)
	b.showInteractiveUI(cq.Message.Chat.ID, threadID, userID, windowID)
}

// interactiveKeyboard picks the keypad layout for a prompt type. The
// checkpoint restore list only navigates vertically.
func interactiveKeyboard(uiType string) tgbotapi.InlineKeyboardMarkup {
	nav := func(label, action string) tgbotapi.InlineKeyboardButton {
		return tgbotapi.NewInlineKeyboardButtonData(label, action)
	}

	if uiType == "RestoreCheckpoint" {
		return tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(nav("↑", "nav_up"), nav("↓", "nav_down")),
			tgbotapi.NewInlineKeyboardRow(nav("Enter", "nav_enter"), nav("Esc", "nav_esc"), nav("\U0001F504", "nav_refresh")),
		)
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(nav("↑", "nav_up"), nav("↓", "nav_down"), nav("←", "nav_left"), nav("→", "nav_right")),
		tgbotapi.NewInlineKeyboardRow(nav("Space", "nav_space"), nav("Tab", "nav_tab"), nav("Esc", "nav_esc"), nav("Enter", "nav_enter")),
		tgbotapi.NewInlineKeyboardRow(nav("\U0001F504 Refresh", "nav_refresh")),
	)
}

// interactivePromptText renders the prompt content under a short label.
func interactivePromptText(ui term.UIContent) string {
	label := ui.Name
	switch {
	case strings.HasPrefix(label, "AskUserQuestion"):
		label = "Question"
	case label == "ExitPlanMode":
		label = "Plan Review"
	case label == "PermissionPrompt":
		label = "Permission"
	case label == "RestoreCheckpoint":
		label = "Restore"
	case label == "SelectionUI":
		label = "Selection"
	}

	content := term.ShortenSeparators(ui.Content)
	if len(content) > 3000 {
		content = content[:3000] + "\n..."
	}
	return fmt.Sprintf("[%s]\n%s", label, content)
}
