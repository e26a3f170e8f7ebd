package bot

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/otaviocarvalho/ccbot/internal/provider"
	"github.com/otaviocarvalho/ccbot/internal/state"
	"github.com/otaviocarvalho/ccbot/internal/tmux"
)

// windowPickerState is one user's pending "bind this topic to a window"
// interaction, including the message that triggered it.
type windowPickerState struct {
	Windows     []tmux.Window
	PendingText string
	MessageID   int
	ChatID      int64
	ThreadID    int
}

// showWindowPicker offers the unbound windows as an inline keyboard, plus
// a "New Session" escape hatch into the directory browser.
func (b *Bot) showWindowPicker(chatID int64, threadID int, userID int64, windows []tmux.Window, pendingText string) {
	msg, err := b.sendMessageWithKeyboard(chatID, threadID,
		"Select a window to bind to this topic:", windowPickerKeyboard(windows))
	if err != nil {
		log.Printf("Error sending window picker: %v", err)
		return
	}

	b.mu.Lock()
	b.windowPickerStates[userID] = &windowPickerState{
		Windows:     windows,
		PendingText: pendingText,
		MessageID:   msg.MessageID,
		ChatID:      chatID,
		ThreadID:    threadID,
	}
	b.mu.Unlock()
}

func windowButton(w tmux.Window, idx int) tgbotapi.InlineKeyboardButton {
	label := truncateName(fmt.Sprintf("%s (%s)", w.Name, shortenPath(w.CWD)), 30)
	return tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("win_bind:%d", idx))
}

func windowPickerKeyboard(windows []tmux.Window) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for i := 0; i < len(windows); i += 2 {
		row := []tgbotapi.InlineKeyboardButton{windowButton(windows[i], i)}
		if i+1 < len(windows) {
			row = append(row, windowButton(windows[i+1], i+1))
		}
		rows = append(rows, row)
	}
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("New Session", "win_new"),
		tgbotapi.NewInlineKeyboardButtonData("Cancel", "win_cancel"),
	})
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// processWindowCallback demultiplexes win_* callbacks. The picker state is
// dropped on every terminal action.
func (b *Bot) processWindowCallback(cq *tgbotapi.CallbackQuery) {
	userID := cq.From.ID

	b.mu.RLock()
	wps, ok := b.windowPickerStates[userID]
	b.mu.RUnlock()
	if !ok || b.threadID(cq.Message) != wps.ThreadID {
		return
	}

	discard := func() {
		b.mu.Lock()
		delete(b.windowPickerStates, userID)
		b.mu.Unlock()
	}

	data := cq.Data
	switch {
	case strings.HasPrefix(data, "win_bind:"):
		idx, err := strconv.Atoi(strings.TrimPrefix(data, "win_bind:"))
		if err != nil || idx < 0 || idx >= len(wps.Windows) {
			return
		}
		discard()
		b.bindPickedWindow(userID, wps, wps.Windows[idx])
	case data == "win_new":
		discard()
		b.deleteMessage(wps.ChatID, wps.MessageID)
		b.showDirectoryBrowser(wps.ChatID, wps.ThreadID, userID, wps.PendingText)
	case data == "win_cancel":
		discard()
		b.editMessageText(wps.ChatID, wps.MessageID, "Cancelled.")
	}
}

// bindPickedWindow records the binding, names the topic after the window,
// and replays any text the user sent before binding.
func (b *Bot) bindPickedWindow(userID int64, wps *windowPickerState, window tmux.Window) {
	userKey := strconv.FormatInt(userID, 10)
	threadKey := strconv.Itoa(wps.ThreadID)

	b.state.BindThread(userKey, threadKey, window.ID)
	b.state.SetWindowDisplayName(window.ID, window.Name)
	if _, ok := b.state.GetWindowState(window.ID); !ok {
		b.state.SetWindowState(window.ID, state.WindowState{CWD: window.CWD, WindowName: window.Name})
	}
	if name := provider.DetectFromCommand(window.Command); name != "" {
		b.state.SetWindowProvider(window.ID, name)
	}
	b.clearDeadNotification(userKey, threadKey, window.ID)
	b.saveState()

	b.renameForumTopic(wps.ChatID, wps.ThreadID, window.Name)
	b.editMessageText(wps.ChatID, wps.MessageID, fmt.Sprintf("Bound to: %s", window.Name))

	if wps.PendingText != "" {
		if err := tmux.SendKeysWithDelay(b.config.TmuxSessionName, window.ID, wps.PendingText, 500); err != nil {
			log.Printf("Error sending pending text: %v", err)
		}
	}
}
