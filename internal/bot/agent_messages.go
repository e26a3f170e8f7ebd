package bot

import (
	"log"
	"strconv"

	"github.com/otaviocarvalho/ccbot/internal/provider"
	"github.com/otaviocarvalho/ccbot/internal/queue"
	"github.com/otaviocarvalho/ccbot/internal/render"
	"github.com/otaviocarvalho/ccbot/internal/state"
)

const maxMessageLen = 4000

// HandleAgentMessage fans a transcript message out to every user bound to
// the window. Called by the monitor as it tails transcripts.
func (b *Bot) HandleAgentMessage(windowID string, entry state.SessionMapEntry, msg provider.AgentMessage) {
	mode := b.state.NotificationMode(windowID)
	if mode == state.NotifyMuted {
		return
	}
	if mode == state.NotifyErrorsOnly && !msg.IsError {
		return
	}

	var text, contentType string
	switch msg.ContentType {
	case provider.ContentToolUse:
		text = render.ToolCall(msg.ToolName, msg.ToolInput)
		contentType = queue.KindToolUse
	case provider.ContentToolResult:
		text = render.ToolResult(msg.ToolName, msg.Text, msg.IsError)
		contentType = queue.KindToolResult
	case provider.ContentThinking:
		text = render.Thinking(msg.Text)
		contentType = queue.KindContent
	default:
		text = msg.Text
		contentType = queue.KindContent
	}
	if text == "" {
		return
	}

	parts := render.Split(text, maxMessageLen)

	for _, ut := range b.state.FindUsersForWindow(windowID) {
		userID, _ := strconv.ParseInt(ut.UserID, 10, 64)
		threadID, _ := strconv.Atoi(ut.ThreadID)
		chatID := b.state.ResolveChatID(ut.UserID, ut.ThreadID)
		if chatID == 0 {
			continue
		}
		if b.msgQueue == nil {
			continue
		}
		b.msgQueue.Enqueue(queue.MessageTask{
			UserID:      userID,
			ThreadID:    threadID,
			ChatID:      chatID,
			Parts:       parts,
			ContentType: contentType,
			ToolUseID:   msg.ToolUseID,
			WindowID:    windowID,
		})
	}
}

// HandleNewWindow records session details when the monitor first sees a
// window's session map entry.
func (b *Bot) HandleNewWindow(windowKey string, entry state.SessionMapEntry) {
	windowID := windowIDFromKey(windowKey)
	if windowID == "" {
		return
	}

	ws, _ := b.state.GetWindowState(windowID)
	ws.SessionID = entry.SessionID
	if entry.CWD != "" {
		ws.CWD = entry.CWD
	}
	if entry.WindowName != "" {
		ws.WindowName = entry.WindowName
	}
	if entry.TranscriptPath != "" {
		ws.TranscriptPath = entry.TranscriptPath
	}
	b.state.SetWindowState(windowID, ws)

	if entry.WindowName != "" {
		if _, ok := b.state.GetWindowDisplayName(windowID); !ok {
			b.state.SetWindowDisplayName(windowID, entry.WindowName)
		}
	}
	if entry.ProviderName != "" && b.state.GetWindowProvider(windowID) == "" {
		b.state.SetWindowProvider(windowID, entry.ProviderName)
	}
	b.saveState()
	log.Printf("Tracking session %s in window %s", entry.SessionID, windowID)
}

// HandleSessionReplaced swaps the session recorded for a window, e.g. after
// /clear starts a fresh transcript in the same pane.
func (b *Bot) HandleSessionReplaced(windowKey string, old, fresh state.SessionMapEntry) {
	windowID := windowIDFromKey(windowKey)
	if windowID == "" {
		return
	}
	if b.monitorState != nil && old.SessionID != "" {
		b.monitorState.RemoveSession(old.SessionID)
	}
	b.HandleNewWindow(windowKey, fresh)
}

// HandleWindowRemoved drops monitor tracking when a session map entry goes
// away.
func (b *Bot) HandleWindowRemoved(windowKey string, entry state.SessionMapEntry) {
	if b.monitorState != nil && entry.SessionID != "" {
		b.monitorState.RemoveSession(entry.SessionID)
	}
}
