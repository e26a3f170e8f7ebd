package bot

import (
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/otaviocarvalho/ccbot/internal/tmux"
)

// handleSessions shows the sessions dashboard: every topic the user has
// bound, with a liveness marker per window.
func (b *Bot) handleSessions(msg *tgbotapi.Message) {
	b.showSessionsDashboard(msg.Chat.ID, b.threadID(msg), msg.From.ID, 0)
}

func (b *Bot) showSessionsDashboard(chatID int64, threadID int, userID int64, editMessageID int) {
	text, keyboard := b.buildSessionsDashboard(userID)

	if editMessageID != 0 {
		if err := b.editMessageWithKeyboard(chatID, editMessageID, text, keyboard); err != nil {
			log.Printf("Error updating sessions dashboard: %v", err)
		}
		return
	}
	if _, err := b.sendMessageWithKeyboard(chatID, threadID, text, keyboard); err != nil {
		log.Printf("Error sending sessions dashboard: %v", err)
	}
}

func (b *Bot) buildSessionsDashboard(userID int64) (string, tgbotapi.InlineKeyboardMarkup) {
	live := make(map[string]bool)
	if windows, err := tmux.ListWindows(b.config.TmuxSessionName); err == nil {
		for _, w := range windows {
			live[w.ID] = true
		}
	}

	userIDStr := strconv.FormatInt(userID, 10)
	type row struct {
		display string
		cwd     string
		alive   bool
	}
	var rows []row
	for _, binding := range b.state.IterThreadBindings() {
		if binding.UserID != userIDStr {
			continue
		}
		display, _ := b.state.GetWindowDisplayName(binding.WindowID)
		if display == "" {
			display = binding.WindowID
		}
		cwd := ""
		if ws, ok := b.state.GetWindowState(binding.WindowID); ok {
			cwd = shortenPath(ws.CWD)
		}
		rows = append(rows, row{display, cwd, live[binding.WindowID]})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].display < rows[j].display })

	var sb strings.Builder
	sb.WriteString("Sessions:\n")
	if len(rows) == 0 {
		sb.WriteString("\nNo active sessions. Use /new to start one.")
	}
	for _, r := range rows {
		marker := "⚫"
		if r.alive {
			marker = "🟢"
		}
		fmt.Fprintf(&sb, "\n%s %s", marker, r.display)
		if r.cwd != "" {
			fmt.Fprintf(&sb, " · %s", r.cwd)
		}
	}

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔄 Refresh", "sess_refresh"),
			tgbotapi.NewInlineKeyboardButtonData("➕ New Session", "sess_new"),
		),
	)
	return sb.String(), keyboard
}

// processSessionsCallback handles the sessions dashboard keyboard.
func (b *Bot) processSessionsCallback(cq *tgbotapi.CallbackQuery) {
	chatID := cq.Message.Chat.ID
	threadID := b.threadID(cq.Message)
	userID := cq.From.ID

	switch cq.Data {
	case "sess_refresh":
		b.showSessionsDashboard(chatID, threadID, userID, cq.Message.MessageID)
	case "sess_new":
		b.showDirectoryBrowser(chatID, threadID, userID, "")
	}
}
