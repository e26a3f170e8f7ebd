package bot

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/otaviocarvalho/ccbot/internal/provider"
	"github.com/otaviocarvalho/ccbot/internal/render"
	"github.com/otaviocarvalho/ccbot/internal/state"
	"github.com/otaviocarvalho/ccbot/internal/tmux"
)

const (
	commandHistoryLimit = 20
	historyPerPage      = 5
)

// historyStore keeps the last messages a user sent into each topic so they
// can be recalled from the status keyboard. In-memory only, newest first.
type historyStore struct {
	mu      sync.Mutex
	entries map[statusKey][]string
}

func newHistoryStore() *historyStore {
	return &historyStore{entries: make(map[statusKey][]string)}
}

// record remembers a sent message, deduping consecutive repeats.
func (h *historyStore) record(userID int64, threadID int, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	key := statusKey{userID, threadID}

	h.mu.Lock()
	defer h.mu.Unlock()

	hist := h.entries[key]
	if len(hist) > 0 && hist[0] == text {
		return
	}
	hist = append([]string{text}, hist...)
	if len(hist) > commandHistoryLimit {
		hist = hist[:commandHistoryLimit]
	}
	h.entries[key] = hist
}

// last returns the most recent message for a topic.
func (h *historyStore) last(userID int64, threadID int) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hist := h.entries[statusKey{userID, threadID}]
	if len(hist) == 0 {
		return "", false
	}
	return hist[0], true
}

func (h *historyStore) at(userID int64, threadID int, idx int) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hist := h.entries[statusKey{userID, threadID}]
	if idx < 0 || idx >= len(hist) {
		return "", false
	}
	return hist[idx], true
}

// list copies a topic's history, newest first.
func (h *historyStore) list(userID int64, threadID int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.entries[statusKey{userID, threadID}]...)
}

// recordCommand remembers a sent message for later recall.
func (b *Bot) recordCommand(userID int64, threadID int, text string) {
	b.history.record(userID, threadID, text)
}

// handleHistory shows the transcript tail for the bound session.
func (b *Bot) handleHistory(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	threadID := b.threadID(msg)

	windowID, bound := b.resolveWindow(msg)
	if !bound {
		b.reply(chatID, threadID, "Topic not bound to a session.")
		return
	}

	b.sendHistoryPage(chatID, threadID, msg.From.ID, windowID, 0, 0)
}

// sendHistoryPage renders one page of transcript history, newest page first
// (page 0 is the most recent messages).
func (b *Bot) sendHistoryPage(chatID int64, threadID int, userID int64, windowID string, page, editMessageID int) {
	p := b.providerForWindow(windowID)

	transcript := b.transcriptPathForWindow(windowID)
	if transcript == "" {
		b.reply(chatID, threadID, "No transcript recorded for this session yet.")
		return
	}

	messages := readHistoryMessages(p, transcript)
	if len(messages) == 0 {
		b.reply(chatID, threadID, "Transcript is empty.")
		return
	}

	totalPages := (len(messages) + historyPerPage - 1) / historyPerPage
	if page >= totalPages {
		page = totalPages - 1
	}
	if page < 0 {
		page = 0
	}

	// Page 0 holds the newest entries
	end := len(messages) - page*historyPerPage
	start := end - historyPerPage
	if start < 0 {
		start = 0
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "History (%d/%d):\n", page+1, totalPages)
	for _, m := range messages[start:end] {
		role := "🤖"
		if m.Role == provider.RoleUser {
			role = "👤"
		}
		text := render.Plain(m.Text)
		if len(text) > 500 {
			text = text[:500] + "…"
		}
		fmt.Fprintf(&sb, "\n%s %s\n", role, text)
	}

	var nav []tgbotapi.InlineKeyboardButton
	if page < totalPages-1 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("◀ Older", fmt.Sprintf("hist_page:%d", page+1)))
	}
	if page > 0 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("Newer ▶", fmt.Sprintf("hist_page:%d", page-1)))
	}
	rows := [][]tgbotapi.InlineKeyboardButton{}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Close", "hist_close"),
	))
	keyboard := tgbotapi.NewInlineKeyboardMarkup(rows...)

	if editMessageID != 0 {
		if err := b.editMessageWithKeyboard(chatID, editMessageID, sb.String(), keyboard); err != nil {
			log.Printf("Error updating history page: %v", err)
		}
		return
	}
	if _, err := b.sendMessageWithKeyboard(chatID, threadID, sb.String(), keyboard); err != nil {
		log.Printf("Error sending history: %v", err)
	}
}

// transcriptPathForWindow finds the transcript file for a window, checking
// the window state, the session map, and finally the provider's projects dir.
func (b *Bot) transcriptPathForWindow(windowID string) string {
	sessionID := ""
	if ws, ok := b.state.GetWindowState(windowID); ok {
		if ws.TranscriptPath != "" {
			return ws.TranscriptPath
		}
		sessionID = ws.SessionID
	}

	sm := state.ReadSessionMap(b.config.SessionMapPath())
	for key, entry := range sm {
		if windowIDFromKey(key) != windowID {
			continue
		}
		if entry.TranscriptPath != "" {
			return entry.TranscriptPath
		}
		if sessionID == "" {
			sessionID = entry.SessionID
		}
	}

	if sessionID == "" {
		return ""
	}
	projectsDir := expandHome(b.providerForWindow(windowID).Capabilities().ProjectsDir)
	if projectsDir == "" {
		return ""
	}
	projects, err := os.ReadDir(projectsDir)
	if err != nil {
		return ""
	}
	for _, proj := range projects {
		if !proj.IsDir() {
			continue
		}
		candidate := filepath.Join(projectsDir, proj.Name(), sessionID+".jsonl")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// readHistoryMessages parses a transcript into displayable messages.
func readHistoryMessages(p provider.Provider, path string) []provider.AgentMessage {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var messages []provider.AgentMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 4*1024*1024)
	for scanner.Scan() {
		entry, ok := p.ParseTranscriptLine(scanner.Bytes())
		if !ok {
			continue
		}
		if m, ok := p.ParseHistoryEntry(entry); ok {
			messages = append(messages, m)
		}
	}
	return messages
}

// handleHistoryCB handles hist_* callbacks: transcript paging and command
// recall from the status keyboard.
func (b *Bot) handleHistoryCB(cq *tgbotapi.CallbackQuery) {
	userID := cq.From.ID
	chatID := cq.Message.Chat.ID
	threadID := b.threadID(cq.Message)
	data := cq.Data

	switch {
	case strings.HasPrefix(data, "hist_page:"):
		page, err := strconv.Atoi(strings.TrimPrefix(data, "hist_page:"))
		if err != nil {
			return
		}
		userIDStr := strconv.FormatInt(userID, 10)
		windowID, bound := b.state.GetWindowForThread(userIDStr, strconv.Itoa(threadID))
		if !bound {
			return
		}
		b.sendHistoryPage(chatID, threadID, userID, windowID, page, cq.Message.MessageID)
	case data == "hist_close":
		b.deleteMessage(chatID, cq.Message.MessageID)
	case data == "hist_show":
		b.showCommandRecall(chatID, threadID, userID)
	case strings.HasPrefix(data, "hist_cmd:"):
		idx, err := strconv.Atoi(strings.TrimPrefix(data, "hist_cmd:"))
		if err != nil {
			return
		}
		b.resendCommand(cq, idx)
	case data == "hist_cancel":
		b.deleteMessage(chatID, cq.Message.MessageID)
	}
}

// showCommandRecall lists the recent messages for this topic as buttons.
func (b *Bot) showCommandRecall(chatID int64, threadID int, userID int64) {
	hist := b.history.list(userID, threadID)
	if len(hist) == 0 {
		b.reply(chatID, threadID, "No recent messages to recall.")
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for i, cmd := range hist {
		if i >= 10 {
			break
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(truncateName(cmd, 34), fmt.Sprintf("hist_cmd:%d", i)),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Cancel", "hist_cancel"),
	))

	if _, err := b.sendMessageWithKeyboard(chatID, threadID, "Resend a recent message:", tgbotapi.NewInlineKeyboardMarkup(rows...)); err != nil {
		log.Printf("Error sending command recall: %v", err)
	}
}

// resendCommand sends a recalled history entry back into the session.
func (b *Bot) resendCommand(cq *tgbotapi.CallbackQuery, idx int) {
	userID := cq.From.ID
	threadID := b.threadID(cq.Message)

	cmd, ok := b.history.at(userID, threadID, idx)
	if !ok {
		return
	}

	userIDStr := strconv.FormatInt(userID, 10)
	windowID, bound := b.state.GetWindowForThread(userIDStr, strconv.Itoa(threadID))
	if !bound {
		return
	}

	b.recordCommand(userID, threadID, cmd)
	if err := tmux.SendKeysWithDelay(b.config.TmuxSessionName, windowID, cmd, 500); err != nil {
		log.Printf("Error resending command to %s: %v", windowID, err)
		return
	}
	b.deleteMessage(cq.Message.Chat.ID, cq.Message.MessageID)
}
