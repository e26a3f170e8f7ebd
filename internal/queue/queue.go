package queue

import (
	"log"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	maxMergeLen = 3800
	chanBufSize = 100
)

// Task kinds carried in MessageTask.ContentType.
const (
	KindContent     = "content"
	KindToolUse     = "tool_use"
	KindToolResult  = "tool_result"
	KindStatus      = "status_update"
	KindStatusClear = "status_clear"
)

// MessageTask is one unit of outbound Telegram work.
type MessageTask struct {
	UserID      int64
	ThreadID    int
	ChatID      int64
	Parts       []string
	ContentType string
	ToolUseID   string // lets a tool_result edit its tool_use message
	WindowID    string
	ReplyMarkup string // inline keyboard JSON, used by status messages
}

// topicKey identifies one forum topic for one user.
type topicKey struct {
	UserID   int64
	ThreadID int
}

// StatusInfo tracks the single editable status message in a topic.
type StatusInfo struct {
	MessageID int
	WindowID  string
	Text      string
}

// telegramAPI is the slice of tgbotapi.BotAPI the queue needs; tests swap
// in a recorder.
type telegramAPI interface {
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

// messageRef points at a previously sent message so a later task can edit
// it in place.
type messageRef struct {
	ChatID    int64
	MessageID int
	ThreadID  int
}

// Queue fans outbound messages into one FIFO per user, each drained by its
// own goroutine. Consecutive content tasks for the same window are merged
// before sending; sends honor the per-chat rate floor and Telegram's
// flood-control backoff.
type Queue struct {
	mu         sync.RWMutex
	api        telegramAPI
	perUser    map[int64]chan MessageTask
	toolMsgs   map[string]messageRef   // tool_use_id → sent message
	statusMsgs map[topicKey]StatusInfo // topic → status message
	flood      *FloodControl
}

// New creates a Queue sending through api.
func New(api telegramAPI) *Queue {
	return &Queue{
		api:        api,
		perUser:    make(map[int64]chan MessageTask),
		toolMsgs:   make(map[string]messageRef),
		statusMsgs: make(map[topicKey]StatusInfo),
		flood:      NewFloodControl(),
	}
}

// Enqueue appends a task to its user's FIFO, starting the user's worker on
// first use. A full queue drops the task rather than block the caller.
func (q *Queue) Enqueue(task MessageTask) {
	q.mu.Lock()
	ch, ok := q.perUser[task.UserID]
	if !ok {
		ch = make(chan MessageTask, chanBufSize)
		q.perUser[task.UserID] = ch
		go q.drain(ch)
	}
	q.mu.Unlock()

	select {
	case ch <- task:
	default:
		log.Printf("Queue full for user %d, dropping message", task.UserID)
	}
}

// QueueLen returns the number of pending tasks for a user.
func (q *Queue) QueueLen(userID int64) int {
	q.mu.RLock()
	ch, ok := q.perUser[userID]
	q.mu.RUnlock()
	if !ok {
		return 0
	}
	return len(ch)
}

// IsFlooded reports whether a chat is inside a flood-control backoff.
func (q *Queue) IsFlooded(chatID int64) bool {
	return q.flood.IsFlooded(chatID)
}

// HandleFloodError records a backoff when err is a Telegram flood-control
// error. Lets callers that send outside the queue share the backoff window.
func (q *Queue) HandleFloodError(chatID int64, err error) {
	q.flood.HandleError(chatID, err)
}

// GetStatusMessage returns the current status message for a topic.
func (q *Queue) GetStatusMessage(userID int64, threadID int) (StatusInfo, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	info, ok := q.statusMsgs[topicKey{userID, threadID}]
	return info, ok
}

// ForgetStatusMessage drops status tracking for a topic without touching
// Telegram. Used when a topic is closed externally.
func (q *Queue) ForgetStatusMessage(userID int64, threadID int) {
	q.mu.Lock()
	delete(q.statusMsgs, topicKey{userID, threadID})
	q.mu.Unlock()
}

// drain consumes one user's FIFO. A task pulled off the channel during a
// failed merge is carried over to the next iteration so order is never
// disturbed.
func (q *Queue) drain(ch chan MessageTask) {
	var carried *MessageTask
	for {
		var task MessageTask
		if carried != nil {
			task, carried = *carried, nil
		} else {
			t, ok := <-ch
			if !ok {
				return
			}
			task = t
		}

		if task.ContentType == KindContent {
			merged, rest := coalesce(task, ch)
			carried = rest
			q.deliver(merged)
			continue
		}
		q.deliver(task)
	}
}

// coalesce folds immediately queued content tasks for the same window into
// task, in FIFO order, while the combined text stays under maxMergeLen.
// The first task that cannot join is returned so the caller processes it
// next, preserving queue order.
func coalesce(task MessageTask, ch chan MessageTask) (MessageTask, *MessageTask) {
	text := strings.Join(task.Parts, "\n")
	for {
		select {
		case next, ok := <-ch:
			if !ok {
				task.Parts = []string{text}
				return task, nil
			}
			joined := strings.Join(next.Parts, "\n")
			if next.ContentType != KindContent || next.WindowID != task.WindowID ||
				len(text)+1+len(joined) > maxMergeLen {
				task.Parts = []string{text}
				return task, &next
			}
			text += "\n" + joined
		default:
			task.Parts = []string{text}
			return task, nil
		}
	}
}

// deliver routes one task to the right send path.
func (q *Queue) deliver(task MessageTask) {
	if q.flood.IsFlooded(task.ChatID) {
		// Status traffic is disposable; the next poll regenerates it.
		if task.ContentType == KindStatus || task.ContentType == KindStatusClear {
			return
		}
		q.flood.WaitIfFlooded(task.ChatID)
	}

	switch task.ContentType {
	case KindToolUse:
		q.deliverToolUse(task)
	case KindToolResult:
		q.deliverToolResult(task)
	case KindStatus:
		q.deliverStatus(task)
	case KindStatusClear:
		q.deliverStatusClear(task)
	default:
		q.deliverContent(task)
	}
}

func (q *Queue) deliverContent(task MessageTask) {
	text := strings.Join(task.Parts, "\n")

	// If a status message is showing, replace it in place with the first
	// content so the topic does not keep a stale status above new output.
	key := topicKey{task.UserID, task.ThreadID}
	q.mu.Lock()
	status, hadStatus := q.statusMsgs[key]
	delete(q.statusMsgs, key)
	q.mu.Unlock()

	if hadStatus && status.MessageID != 0 {
		if err := q.editMessage(task.ChatID, status.MessageID, text, ""); err == nil {
			return
		}
	}
	q.sendMessage(task.ChatID, task.ThreadID, text, "")
}

func (q *Queue) deliverToolUse(task MessageTask) {
	text := strings.Join(task.Parts, "\n")
	msgID := q.sendMessage(task.ChatID, task.ThreadID, text, "")
	if msgID == 0 || task.ToolUseID == "" {
		return
	}
	q.mu.Lock()
	q.toolMsgs[task.ToolUseID] = messageRef{
		ChatID:    task.ChatID,
		MessageID: msgID,
		ThreadID:  task.ThreadID,
	}
	q.mu.Unlock()
}

func (q *Queue) deliverToolResult(task MessageTask) {
	text := strings.Join(task.Parts, "\n")

	q.mu.Lock()
	ref, ok := q.toolMsgs[task.ToolUseID]
	delete(q.toolMsgs, task.ToolUseID)
	q.mu.Unlock()

	if ok && ref.MessageID != 0 {
		if err := q.editMessage(ref.ChatID, ref.MessageID, text, ""); err == nil {
			return
		}
	}
	q.sendMessage(task.ChatID, task.ThreadID, text, "")
}

func (q *Queue) deliverStatus(task MessageTask) {
	text := strings.Join(task.Parts, "\n")
	key := topicKey{task.UserID, task.ThreadID}

	// An "esc to interrupt" status means the agent is mid-turn; show the
	// typing indicator alongside.
	if strings.Contains(strings.ToLower(text), "esc to interrupt") {
		q.sendTyping(task.ChatID)
	}

	q.mu.RLock()
	existing, hasExisting := q.statusMsgs[key]
	q.mu.RUnlock()

	// When the topic switched to a different window, editing the old
	// status in place would make it look like the previous window's
	// history changed. Drop it and start a fresh message instead.
	if hasExisting && existing.WindowID != "" && task.WindowID != "" &&
		existing.WindowID != task.WindowID {
		if existing.MessageID != 0 {
			q.deleteMessage(task.ChatID, existing.MessageID)
		}
		hasExisting = false
	}

	if hasExisting && existing.Text == text {
		return
	}

	if hasExisting && existing.MessageID != 0 {
		if err := q.editMessage(task.ChatID, existing.MessageID, text, task.ReplyMarkup); err == nil {
			q.rememberStatus(key, existing.MessageID, task.WindowID, text)
			return
		}
	}

	msgID := q.sendMessage(task.ChatID, task.ThreadID, text, task.ReplyMarkup)
	q.rememberStatus(key, msgID, task.WindowID, text)
}

func (q *Queue) rememberStatus(key topicKey, msgID int, windowID, text string) {
	q.mu.Lock()
	q.statusMsgs[key] = StatusInfo{MessageID: msgID, WindowID: windowID, Text: text}
	q.mu.Unlock()
}

func (q *Queue) deliverStatusClear(task MessageTask) {
	key := topicKey{task.UserID, task.ThreadID}

	q.mu.Lock()
	status, ok := q.statusMsgs[key]
	delete(q.statusMsgs, key)
	q.mu.Unlock()

	if ok && status.MessageID != 0 {
		q.deleteMessage(task.ChatID, status.MessageID)
	}
}
