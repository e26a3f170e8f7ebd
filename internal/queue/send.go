package queue

import (
	"encoding/json"
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/otaviocarvalho/ccbot/internal/render"
)

// Telegram caps messages at 4096 chars; splitting below that leaves room
// for the MarkdownV2 escapes added during conversion.
const splitLen = 3000

// sendMessage sends text, split at newline boundaries when it exceeds
// splitLen, numbering the pieces. Returns the message ID of the last piece.
func (q *Queue) sendMessage(chatID int64, threadID int, text, markup string) int {
	parts := render.Split(text, splitLen)

	var lastID int
	for i, part := range parts {
		if len(parts) > 1 {
			part = fmt.Sprintf("%s\n[%d/%d]", part, i+1, len(parts))
		}
		if id := q.sendOne(chatID, threadID, part, markup); id != 0 {
			lastID = id
		}
	}
	return lastID
}

// sendOne sends a single message as MarkdownV2, retrying once as plain
// text when Telegram rejects the parse.
func (q *Queue) sendOne(chatID int64, threadID int, text, markup string) int {
	id, err := q.callSend(chatID, threadID, render.TelegramV2(text), "MarkdownV2", markup)
	if err == nil {
		return id
	}
	// callSend recorded any flood backoff; sleep it out before the retry.
	q.flood.WaitIfFlooded(chatID)

	id, err = q.callSend(chatID, threadID, render.Plain(text), "", markup)
	if err != nil {
		log.Printf("Error sending message: %v", err)
		return 0
	}
	return id
}

func (q *Queue) callSend(chatID int64, threadID int, text, parseMode, markup string) (int, error) {
	q.flood.Throttle(chatID)

	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonEmpty("text", text)
	params.AddNonEmpty("parse_mode", parseMode)
	if threadID != 0 {
		params.AddNonZero("message_thread_id", threadID)
	}
	params.AddNonEmpty("reply_markup", markup)
	params.AddNonEmpty("link_preview_options", `{"is_disabled":true}`)

	resp, err := q.api.MakeRequest("sendMessage", params)
	if err != nil {
		q.flood.HandleError(chatID, err)
		return 0, err
	}

	var msg tgbotapi.Message
	json.Unmarshal(resp.Result, &msg)
	return msg.MessageID, nil
}

// editMessage edits a message in place, MarkdownV2 first then plain.
func (q *Queue) editMessage(chatID int64, messageID int, text, markup string) error {
	if err := q.callEdit(chatID, messageID, render.TelegramV2(text), "MarkdownV2", markup); err == nil {
		return nil
	}
	return q.callEdit(chatID, messageID, render.Plain(text), "", markup)
}

func (q *Queue) callEdit(chatID int64, messageID int, text, parseMode, markup string) error {
	q.flood.Throttle(chatID)

	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero("message_id", messageID)
	params.AddNonEmpty("text", text)
	params.AddNonEmpty("parse_mode", parseMode)
	params.AddNonEmpty("reply_markup", markup)
	params.AddNonEmpty("link_preview_options", `{"is_disabled":true}`)

	_, err := q.api.MakeRequest("editMessageText", params)
	if err != nil {
		q.flood.HandleError(chatID, err)
	}
	return err
}

func (q *Queue) deleteMessage(chatID int64, messageID int) {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero("message_id", messageID)
	q.api.MakeRequest("deleteMessage", params)
}

// sendTyping shows the "typing…" chat action.
func (q *Queue) sendTyping(chatID int64) {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonEmpty("action", "typing")
	q.api.MakeRequest("sendChatAction", params)
}
