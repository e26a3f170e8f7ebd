package bot

import (
	"log"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/otaviocarvalho/ccbot/internal/tmux"
)

// interactiveRefreshDelay gives a terminal prompt time to redraw after
// typed text lands before the mirror is refreshed.
const interactiveRefreshDelay = 1500 * time.Millisecond

// handleTextMessage forwards user text to the bound tmux window.
func (b *Bot) handleTextMessage(msg *tgbotapi.Message) {
	thread := b.threadID(msg)
	userID := strconv.FormatInt(msg.From.ID, 10)
	threadID := strconv.Itoa(thread)
	chatID := msg.Chat.ID

	// Typing text supersedes any in-flight bash capture.
	b.cancelBashCapture(msg.From.ID, thread)

	// Store group chat ID so out-of-band senders can reach the topic
	b.state.SetGroupChatID(userID, threadID, chatID)
	b.saveState()

	// Look up window binding
	windowID, bound := b.state.GetWindowForThread(userID, threadID)
	if !bound {
		b.handleUnboundTopic(msg)
		return
	}

	// A dead binding recovers through the recovery keyboard
	if b.offerRecoveryIfDead(msg, windowID) {
		return
	}

	b.recordCommand(msg.From.ID, thread, msg.Text)

	text := msg.Text

	// Handle ! prefix for bash commands
	if strings.HasPrefix(text, "!") && len(text) > 1 {
		b.handleBashCommand(msg, windowID, text)
		return
	}

	if b.monitor != nil {
		b.monitor.SetTurnStart(windowID)
	}

	// Send text to tmux with 500ms delay before Enter
	if err := tmux.SendKeysWithDelay(b.config.TmuxSessionName, windowID, text, 500); err != nil {
		log.Printf("Error sending keys to %s: %v", windowID, err)
		b.reply(chatID, thread, "Error: failed to send to agent session.")
		return
	}

	// Text typed into an open terminal prompt (e.g. a question's free-form
	// field) keeps the mirror alive; re-render it once the prompt settles.
	if b.shouldRefreshMirror(msg.From.ID, thread, windowID) {
		go func() {
			time.Sleep(interactiveRefreshDelay)
			if !b.showInteractiveUI(chatID, thread, msg.From.ID, windowID) {
				b.interactive.clear(msg.From.ID, thread)
			}
		}()
	}
}

// shouldRefreshMirror reports whether typed text landed in the same window
// the topic's prompt mirror is tracking.
func (b *Bot) shouldRefreshMirror(userID int64, threadID int, windowID string) bool {
	win, active := b.interactive.window(userID, threadID)
	return active && win == windowID
}

// unboundWindows lists windows no topic currently claims.
func (b *Bot) unboundWindows() ([]tmux.Window, error) {
	windows, err := tmux.ListWindows(b.config.TmuxSessionName)
	if err != nil {
		return nil, err
	}
	bound := b.state.AllBoundWindowIDs()
	free := windows[:0]
	for _, w := range windows {
		if !bound[w.ID] {
			free = append(free, w)
		}
	}
	return free, nil
}

// handleUnboundTopic starts the binding flow: pick an existing free window
// or fall straight into the directory browser to create one. The message
// text rides along and is delivered once bound.
func (b *Bot) handleUnboundTopic(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	threadID := b.threadID(msg)

	free, err := b.unboundWindows()
	if err != nil {
		log.Printf("Error listing windows: %v", err)
		b.reply(chatID, threadID, "Error listing tmux windows.")
		return
	}

	if len(free) > 0 {
		b.showWindowPicker(chatID, threadID, msg.From.ID, free, msg.Text)
	} else {
		b.showDirectoryBrowser(chatID, threadID, msg.From.ID, msg.Text)
	}
}

// handleBashCommand runs a "!cmd" through the agent's bash mode: the bare
// "!" switches the TUI into bash mode, then the command follows after the
// mode switch settles.
func (b *Bot) handleBashCommand(msg *tgbotapi.Message, windowID, text string) {
	session := b.config.TmuxSessionName

	if err := tmux.SendKeys(session, windowID, "!"); err != nil {
		log.Printf("Error sending ! to %s: %v", windowID, err)
		return
	}
	time.Sleep(1 * time.Second)

	cmd := text[1:]
	if err := tmux.SendKeysWithDelay(session, windowID, cmd, 500); err != nil {
		log.Printf("Error sending bash command to %s: %v", windowID, err)
		return
	}

	b.startBashCapture(msg.From.ID, msg.Chat.ID, b.threadID(msg), windowID, cmd)
}

// routeCallback routes callback queries to the appropriate handler.
func (b *Bot) routeCallback(cq *tgbotapi.CallbackQuery) {
	data := cq.Data

	// Answer callback to dismiss spinner
	b.answerCallback(cq.ID, "")

	switch {
	case strings.HasPrefix(data, "dir_"):
		b.processDirectoryCallback(cq)
	case strings.HasPrefix(data, "win_"):
		b.processWindowCallback(cq)
	case strings.HasPrefix(data, "hist_"):
		b.handleHistoryCB(cq)
	case strings.HasPrefix(data, "ss_"):
		b.handleScreenshotCB(cq)
	case strings.HasPrefix(data, "nav_"):
		b.handleInteractiveCallback(cq)
	case strings.HasPrefix(data, "get_"):
		b.processFileBrowserCallback(cq)
	case strings.HasPrefix(data, "res_"):
		b.processResumeCallback(cq)
	case strings.HasPrefix(data, "sess_"):
		b.processSessionsCallback(cq)
	case strings.HasPrefix(data, "rec_"):
		b.processRecoveryCallback(cq)
	case strings.HasPrefix(data, "st_"):
		b.processStatusCallback(cq)
	case data == "noop":
		// No-op button (e.g., page counter), already answered above
	default:
		log.Printf("Unknown callback data: %s", data)
	}
}
