package bot

// go-telegram-bot-api v5.5.1 predates forum topics, so thread IDs and
// topic service messages are pulled out of the raw update JSON and the
// forum-specific methods go through MakeRequest directly.

import (
	"encoding/json"
	"log"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// forumMeta remembers per-message forum fields the library drops:
// message_thread_id and forum_topic_closed service markers.
type forumMeta struct {
	mu      sync.RWMutex
	threads map[int]int  // message_id → thread_id
	closed  map[int]bool // message_id → topic-closed service message
}

func newForumMeta() *forumMeta {
	return &forumMeta{
		threads: make(map[int]int),
		closed:  make(map[int]bool),
	}
}

type rawForumMessage struct {
	MessageID        int              `json:"message_id"`
	MessageThreadID  int              `json:"message_thread_id"`
	ForumTopicClosed *struct{}        `json:"forum_topic_closed"`
}

type rawForumUpdate struct {
	Message       *rawForumMessage `json:"message"`
	CallbackQuery *struct {
		Message *rawForumMessage `json:"message"`
	} `json:"callback_query"`
}

// observe records forum fields from one raw update.
func (f *forumMeta) observe(data []byte) {
	var raw rawForumUpdate
	if err := json.Unmarshal(data, &raw); err != nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if m := raw.Message; m != nil {
		if m.MessageThreadID != 0 {
			f.threads[m.MessageID] = m.MessageThreadID
		}
		if m.ForumTopicClosed != nil {
			f.closed[m.MessageID] = true
		}
	}
	if raw.CallbackQuery != nil && raw.CallbackQuery.Message != nil {
		if m := raw.CallbackQuery.Message; m.MessageThreadID != 0 {
			f.threads[m.MessageID] = m.MessageThreadID
		}
	}
}

// prune drops entries for message IDs below the floor.
func (f *forumMeta) prune(floor int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id := range f.threads {
		if id < floor {
			delete(f.threads, id)
		}
	}
	for id := range f.closed {
		if id < floor {
			delete(f.closed, id)
		}
	}
}

// threadID returns the forum thread a message arrived in, 0 outside
// topics.
func (b *Bot) threadID(msg *tgbotapi.Message) int {
	if msg == nil {
		return 0
	}
	b.forum.mu.RLock()
	defer b.forum.mu.RUnlock()
	return b.forum.threads[msg.MessageID]
}

// isTopicClosed reports whether msg is a topic-closed service message.
func (b *Bot) isTopicClosed(msg *tgbotapi.Message) bool {
	if msg == nil {
		return false
	}
	b.forum.mu.RLock()
	defer b.forum.mu.RUnlock()
	return b.forum.closed[msg.MessageID]
}

// getUpdatesRaw long-polls getUpdates, captures forum fields from the raw
// JSON, then parses the library's update type.
func (b *Bot) getUpdatesRaw(offset, timeout int) ([]tgbotapi.Update, error) {
	params := tgbotapi.Params{}
	params.AddNonZero("offset", offset)
	params.AddNonZero("timeout", timeout)
	params["allowed_updates"] = `["message","callback_query"]`

	resp, err := b.api.MakeRequest("getUpdates", params)
	if err != nil {
		return nil, err
	}

	var rawUpdates []json.RawMessage
	if err := json.Unmarshal(resp.Result, &rawUpdates); err != nil {
		log.Printf("Error parsing raw updates: %v", err)
	} else {
		for _, raw := range rawUpdates {
			b.forum.observe(raw)
		}
	}

	var updates []tgbotapi.Update
	if err := json.Unmarshal(resp.Result, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// threadParams starts a params map addressed at a chat and, when nonzero,
// a forum thread.
func threadParams(chatID int64, threadID int) tgbotapi.Params {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	if threadID != 0 {
		params.AddNonZero("message_thread_id", threadID)
	}
	return params
}

// postMessage is the single send path for this package: optional parse
// mode, optional keyboard.
func (b *Bot) postMessage(chatID int64, threadID int, text, parseMode string, keyboard *tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error) {
	params := threadParams(chatID, threadID)
	params.AddNonEmpty("text", text)
	params.AddNonEmpty("parse_mode", parseMode)
	if keyboard != nil {
		kb, _ := json.Marshal(keyboard)
		params["reply_markup"] = string(kb)
	}

	resp, err := b.api.MakeRequest("sendMessage", params)
	if err != nil {
		return tgbotapi.Message{}, err
	}
	var msg tgbotapi.Message
	json.Unmarshal(resp.Result, &msg)
	return msg, nil
}

func (b *Bot) sendMessageInThread(chatID int64, threadID int, text string) (tgbotapi.Message, error) {
	return b.postMessage(chatID, threadID, text, "", nil)
}

func (b *Bot) sendMessageInThreadMD(chatID int64, threadID int, text string) (tgbotapi.Message, error) {
	return b.postMessage(chatID, threadID, text, "MarkdownV2", nil)
}

func (b *Bot) sendMessageWithKeyboard(chatID int64, threadID int, text string, keyboard tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error) {
	return b.postMessage(chatID, threadID, text, "", &keyboard)
}

// rewriteMessage is the single edit path.
func (b *Bot) rewriteMessage(chatID int64, messageID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) error {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero("message_id", messageID)
	params.AddNonEmpty("text", text)
	if keyboard != nil {
		kb, _ := json.Marshal(keyboard)
		params["reply_markup"] = string(kb)
	}
	_, err := b.api.MakeRequest("editMessageText", params)
	return err
}

func (b *Bot) editMessageText(chatID int64, messageID int, text string) error {
	return b.rewriteMessage(chatID, messageID, text, nil)
}

func (b *Bot) editMessageWithKeyboard(chatID int64, messageID int, text string, keyboard tgbotapi.InlineKeyboardMarkup) error {
	return b.rewriteMessage(chatID, messageID, text, &keyboard)
}

func (b *Bot) deleteMessage(chatID int64, messageID int) error {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero("message_id", messageID)
	_, err := b.api.MakeRequest("deleteMessage", params)
	return err
}

// renameForumTopic renames a Telegram forum topic.
func (b *Bot) renameForumTopic(chatID int64, threadID int, name string) {
	if threadID == 0 {
		return
	}
	params := threadParams(chatID, threadID)
	params.AddNonEmpty("name", name)
	if _, err := b.api.MakeRequest("editForumTopic", params); err != nil {
		log.Printf("Error renaming topic: %v", err)
	}
}

// closeForumTopic closes a forum topic.
func (b *Bot) closeForumTopic(chatID int64, threadID int) error {
	_, err := b.api.MakeRequest("closeForumTopic", threadParams(chatID, threadID))
	return err
}

// probeTopicExists checks whether a forum topic still exists by issuing
// unpinAllForumTopicMessages, which is a silent no-op when the topic has
// no pins. Returns false only when Telegram reports the topic ID invalid.
func (b *Bot) probeTopicExists(chatID int64, threadID int) bool {
	_, err := b.api.MakeRequest("unpinAllForumTopicMessages", threadParams(chatID, threadID))
	if err != nil && strings.Contains(err.Error(), "TOPIC_ID_INVALID") {
		return false
	}
	return true
}

// sendTypingAction shows the "typing..." indicator in a thread.
func (b *Bot) sendTypingAction(chatID int64, threadID int) {
	params := threadParams(chatID, threadID)
	params.AddNonEmpty("action", "typing")
	b.api.MakeRequest("sendChatAction", params)
}

// answerCallback dismisses a callback query spinner, optionally with a
// toast.
func (b *Bot) answerCallback(callbackID, text string) {
	callback := tgbotapi.NewCallback(callbackID, text)
	if _, err := b.api.Request(callback); err != nil {
		log.Printf("Error answering callback: %v", err)
	}
}
