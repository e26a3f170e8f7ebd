package bot

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const sessionsPerPage = 6

// resumeSession is one resumable agent session found on disk.
type resumeSession struct {
	SessionID string
	CWD       string
	Summary   string
	ModTime   time.Time
}

// resumeState holds per-user resume picker state.
type resumeState struct {
	Sessions  []resumeSession
	Page      int
	Provider  string
	MessageID int
	ChatID    int64
	ThreadID  int
}

// handleResume shows a paginated picker over past agent sessions.
func (b *Bot) handleResume(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	threadID := b.threadID(msg)
	userID := msg.From.ID

	providerName := b.config.DefaultProvider
	if windowID, bound := b.resolveWindow(msg); bound {
		if name := b.state.GetWindowProvider(windowID); name != "" {
			providerName = name
		}
	}

	p := b.registry.Get(providerName)
	caps := p.Capabilities()
	if !caps.SupportsResume || caps.ProjectsDir == "" {
		b.reply(chatID, threadID, fmt.Sprintf("%s does not support resuming sessions.", caps.Name))
		return
	}

	sessions := scanResumeSessions(expandHome(caps.ProjectsDir))
	if len(sessions) == 0 {
		b.reply(chatID, threadID, "No past sessions found.")
		return
	}

	rs := &resumeState{
		Sessions: sessions,
		Provider: caps.Name,
		ChatID:   chatID,
		ThreadID: threadID,
	}
	text, keyboard := buildResumePicker(rs)

	sent, err := b.sendMessageWithKeyboard(chatID, threadID, text, keyboard)
	if err != nil {
		log.Printf("Error sending resume picker: %v", err)
		return
	}
	rs.MessageID = sent.MessageID

	b.mu.Lock()
	b.resumeStates[userID] = rs
	b.mu.Unlock()
}

// scanResumeSessions walks a provider's projects directory collecting past
// sessions, newest first. Both the legacy sessions-index.json format and
// bare per-session .jsonl transcripts are understood.
func scanResumeSessions(projectsDir string) []resumeSession {
	projects, err := os.ReadDir(projectsDir)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var sessions []resumeSession

	add := func(s resumeSession) {
		if s.SessionID == "" || seen[s.SessionID] {
			return
		}
		seen[s.SessionID] = true
		sessions = append(sessions, s)
	}

	for _, proj := range projects {
		if !proj.IsDir() {
			continue
		}
		dir := filepath.Join(projectsDir, proj.Name())

		// Legacy index takes precedence for its sessions
		for _, s := range readSessionsIndex(filepath.Join(dir, "sessions-index.json")) {
			add(s)
		}

		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
				continue
			}
			path := filepath.Join(dir, f.Name())
			info, err := f.Info()
			if err != nil {
				continue
			}
			s := resumeSession{
				SessionID: strings.TrimSuffix(f.Name(), ".jsonl"),
				ModTime:   info.ModTime(),
			}
			s.CWD, s.Summary = transcriptMeta(path)
			add(s)
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ModTime.After(sessions[j].ModTime)
	})
	return sessions
}

// sessionsIndex mirrors the legacy sessions-index.json layout.
type sessionsIndex struct {
	OriginalPath string `json:"originalPath"`
	Entries      []struct {
		SessionID   string `json:"sessionId"`
		FullPath    string `json:"fullPath"`
		ProjectPath string `json:"projectPath"`
		Summary     string `json:"summary"`
		FirstPrompt string `json:"firstPrompt"`
	} `json:"entries"`
}

func readSessionsIndex(path string) []resumeSession {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var idx sessionsIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil
	}

	var out []resumeSession
	for _, e := range idx.Entries {
		s := resumeSession{
			SessionID: e.SessionID,
			CWD:       e.ProjectPath,
			Summary:   e.Summary,
		}
		if s.CWD == "" {
			s.CWD = idx.OriginalPath
		}
		if s.Summary == "" {
			s.Summary = e.FirstPrompt
		}
		if info, err := os.Stat(e.FullPath); err == nil {
			s.ModTime = info.ModTime()
		}
		out = append(out, s)
	}
	return out
}

// transcriptMeta pulls the working directory and a summary line from the
// head of a transcript file.
func transcriptMeta(path string) (cwd, summary string) {
	f, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)
	for i := 0; i < 20 && scanner.Scan(); i++ {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if cwd == "" {
			if c, ok := entry["cwd"].(string); ok {
				cwd = c
			}
		}
		if summary == "" {
			if entry["type"] == "summary" {
				summary, _ = entry["summary"].(string)
			}
		}
		if cwd != "" && summary != "" {
			break
		}
	}
	return cwd, summary
}

// buildResumePicker renders one page of the resume picker. Project header
// rows break up the list whenever the working directory changes.
func buildResumePicker(rs *resumeState) (string, tgbotapi.InlineKeyboardMarkup) {
	totalPages := (len(rs.Sessions) + sessionsPerPage - 1) / sessionsPerPage
	if totalPages == 0 {
		totalPages = 1
	}
	if rs.Page >= totalPages {
		rs.Page = totalPages - 1
	}
	if rs.Page < 0 {
		rs.Page = 0
	}

	start := rs.Page * sessionsPerPage
	end := start + sessionsPerPage
	if end > len(rs.Sessions) {
		end = len(rs.Sessions)
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	lastCWD := ""
	for i := start; i < end; i++ {
		s := rs.Sessions[i]
		if s.CWD != lastCWD {
			lastCWD = s.CWD
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("📁 "+truncateName(shortenPath(s.CWD), 30), "noop"),
			))
		}
		label := s.Summary
		if label == "" {
			label = s.SessionID
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				truncateName(label, 34),
				fmt.Sprintf("res_pick:%d", i),
			),
		))
	}

	if totalPages > 1 {
		var pagination []tgbotapi.InlineKeyboardButton
		if rs.Page > 0 {
			pagination = append(pagination, tgbotapi.NewInlineKeyboardButtonData("◀", fmt.Sprintf("res_page:%d", rs.Page-1)))
		}
		pagination = append(pagination, tgbotapi.NewInlineKeyboardButtonData(
			fmt.Sprintf("%d/%d", rs.Page+1, totalPages), "noop"))
		if rs.Page < totalPages-1 {
			pagination = append(pagination, tgbotapi.NewInlineKeyboardButtonData("▶", fmt.Sprintf("res_page:%d", rs.Page+1)))
		}
		rows = append(rows, pagination)
	}

	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Cancel", "res_cancel"),
	))

	text := fmt.Sprintf("Resume a session (%d found):", len(rs.Sessions))
	return text, tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// processResumeCallback handles resume picker callbacks.
func (b *Bot) processResumeCallback(cq *tgbotapi.CallbackQuery) {
	userID := cq.From.ID
	data := cq.Data

	b.mu.RLock()
	rs, ok := b.resumeStates[userID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	threadID := b.threadID(cq.Message)
	if threadID != rs.ThreadID {
		return
	}

	switch {
	case strings.HasPrefix(data, "res_page:"):
		page, err := strconv.Atoi(strings.TrimPrefix(data, "res_page:"))
		if err != nil {
			return
		}
		b.mu.Lock()
		rs.Page = page
		b.mu.Unlock()
		text, keyboard := buildResumePicker(rs)
		b.editMessageWithKeyboard(rs.ChatID, rs.MessageID, text, keyboard)
	case strings.HasPrefix(data, "res_pick:"):
		idx, err := strconv.Atoi(strings.TrimPrefix(data, "res_pick:"))
		if err != nil || idx < 0 || idx >= len(rs.Sessions) {
			return
		}
		b.finishResume(rs, userID, rs.Sessions[idx])
	case data == "res_cancel":
		b.mu.Lock()
		delete(b.resumeStates, userID)
		b.mu.Unlock()
		b.editMessageText(rs.ChatID, rs.MessageID, "Cancelled.")
	}
}

// finishResume relaunches the picked session in a fresh window and binds it
// to the topic, replacing any existing binding.
func (b *Bot) finishResume(rs *resumeState, userID int64, session resumeSession) {
	chatID := rs.ChatID
	threadID := rs.ThreadID
	messageID := rs.MessageID

	b.mu.Lock()
	delete(b.resumeStates, userID)
	b.mu.Unlock()

	if session.CWD == "" {
		b.editMessageText(chatID, messageID, "Session has no recorded directory, cannot resume.")
		return
	}

	userIDStr := strconv.FormatInt(userID, 10)
	threadIDStr := strconv.Itoa(threadID)

	// Release any window currently bound to this topic
	if oldID, bound := b.state.GetWindowForThread(userIDStr, threadIDStr); bound {
		b.state.UnbindThread(userIDStr, threadIDStr)
		b.clearDeadNotification(userIDStr, threadIDStr, oldID)
	}
	b.state.SetGroupChatID(userIDStr, threadIDStr, chatID)

	b.editMessageText(chatID, messageID, "Resuming session...")

	_, windowName, err := b.createWindowForDir(userID, threadID, session.CWD, rs.Provider, session.SessionID)
	if err != nil {
		log.Printf("Error resuming session %s: %v", session.SessionID, err)
		b.editMessageText(chatID, messageID, "Error: failed to resume session.")
		return
	}

	b.renameForumTopic(chatID, threadID, windowName)
	b.editMessageText(chatID, messageID, fmt.Sprintf("Resumed: %s", windowName))
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
