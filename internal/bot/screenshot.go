package bot

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/otaviocarvalho/ccbot/internal/render"
	"github.com/otaviocarvalho/ccbot/internal/tmux"
)

// /screenshot renders the bound pane as a PNG document with an inline
// keypad, so a phone user can nudge a TUI (arrow keys, Enter, Esc) and
// watch the screen update in place.

// ssKeyName translates a keypad callback action to the tmux key name.
func ssKeyName(action string) (string, bool) {
	switch action {
	case "up":
		return "Up", true
	case "down":
		return "Down", true
	case "left":
		return "Left", true
	case "right":
		return "Right", true
	case "space":
		return "Space", true
	case "tab":
		return "Tab", true
	case "esc":
		return "Escape", true
	case "enter":
		return "Enter", true
	}
	return "", false
}

// screenshotKeypad is the arrow/key/refresh keyboard attached to every
// screenshot message. Callback data is "ss_<action>:<windowID>".
func screenshotKeypad(windowID string) tgbotapi.InlineKeyboardMarkup {
	btn := func(label, action string) tgbotapi.InlineKeyboardButton {
		data := fmt.Sprintf("ss_%s:%s", action, windowID)
		if len(data) > 64 {
			data = data[:64]
		}
		return tgbotapi.NewInlineKeyboardButtonData(label, data)
	}

	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(btn("↑", "up"), btn("↓", "down"), btn("←", "left"), btn("→", "right")),
		tgbotapi.NewInlineKeyboardRow(btn("Space", "space"), btn("Tab", "tab"), btn("Esc", "esc"), btn("Enter", "enter")),
		tgbotapi.NewInlineKeyboardRow(btn("Refresh", "refresh")),
	)
}

// parseSSCallback splits "ss_<action>:<windowID>" callback data.
func parseSSCallback(data string) (action, windowID string, ok bool) {
	rest, found := strings.CutPrefix(data, "ss_")
	if !found {
		return "", "", false
	}
	action, windowID, ok = strings.Cut(rest, ":")
	return action, windowID, ok
}

func (b *Bot) handleScreenshotCommand(msg *tgbotapi.Message) {
	windowID, bound := b.resolveWindow(msg)
	if !bound {
		b.reply(msg.Chat.ID, b.threadID(msg), "No session bound to this topic.")
		return
	}
	b.sendScreenshot(msg.Chat.ID, b.threadID(msg), msg.From.ID, windowID)
}

// sendScreenshot captures the pane, renders it, and posts the PNG with the
// keypad. Also reached from the status message keyboard.
func (b *Bot) sendScreenshot(chatID int64, threadID int, userID int64, windowID string) {
	if b.msgQueue != nil && b.msgQueue.IsFlooded(chatID) {
		b.reply(chatID, threadID, "Rate limited by Telegram. Try again in a moment.")
		return
	}

	pngData, err := b.capturePanePNG(windowID)
	if err != nil {
		if tmux.IsWindowDead(err) {
			uid := strconv.FormatInt(userID, 10)
			tid := strconv.Itoa(threadID)
			if b.deadNotices.mark(uid, tid, windowID) {
				b.announceDeadWindow(uid, tid, windowID)
			}
			return
		}
		log.Printf("Error building screenshot: %v", err)
		b.reply(chatID, threadID, "Error: failed to capture pane.")
		return
	}

	if _, err := b.sendDocumentInThread(chatID, threadID, pngData, "screenshot.png", screenshotKeypad(windowID)); err != nil {
		log.Printf("Error sending screenshot: %v", err)
		if b.msgQueue != nil {
			b.msgQueue.HandleFloodError(chatID, err)
		}
	}
}

// handleScreenshotCB forwards a keypad press to tmux and refreshes the
// image in place.
func (b *Bot) handleScreenshotCB(cq *tgbotapi.CallbackQuery) {
	action, windowID, ok := parseSSCallback(cq.Data)
	if !ok {
		return
	}
	if b.msgQueue != nil && cq.Message != nil && b.msgQueue.IsFlooded(cq.Message.Chat.ID) {
		return
	}

	if key, isKey := ssKeyName(action); isKey {
		if err := tmux.SendSpecialKey(b.config.TmuxSessionName, windowID, key); err != nil {
			if tmux.IsWindowDead(err) {
				log.Printf("Screenshot keypad: window %s is dead", windowID)
			} else {
				log.Printf("Error sending key %s to %s: %v", key, windowID, err)
			}
			return
		}
		// Give the TUI a beat to repaint before recapturing.
		time.Sleep(500 * time.Millisecond)
	} else if action != "refresh" {
		return
	}

	pngData, err := b.capturePanePNG(windowID)
	if err != nil {
		log.Printf("Screenshot refresh failed for %s: %v", windowID, err)
		return
	}

	chatID := cq.Message.Chat.ID
	if err := b.replaceDocument(chatID, cq.Message.MessageID, pngData, "screenshot.png", screenshotKeypad(windowID)); err != nil {
		log.Printf("Error editing screenshot message: %v", err)
		if b.msgQueue != nil {
			b.msgQueue.HandleFloodError(chatID, err)
		}
	}
}

func (b *Bot) capturePanePNG(windowID string) ([]byte, error) {
	paneText, err := tmux.CapturePane(b.config.TmuxSessionName, windowID, true)
	if err != nil {
		return nil, err
	}
	return render.PanePNG(paneText)
}

// uploadDocument runs a multipart method with data attached under the
// "document" field. The v5 library lacks thread-aware document sends and
// editMessageMedia entirely, so both go through UploadFiles.
func (b *Bot) uploadDocument(method string, params tgbotapi.Params, data []byte, filename string) (*tgbotapi.APIResponse, error) {
	return b.api.UploadFiles(method, params, []tgbotapi.RequestFile{
		{Name: "document", Data: tgbotapi.FileBytes{Name: filename, Bytes: data}},
	})
}

// sendDocumentInThread sends file bytes as a document in a forum thread.
func (b *Bot) sendDocumentInThread(chatID int64, threadID int, data []byte, filename string, keyboard tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error) {
	params := threadParams(chatID, threadID)
	if len(keyboard.InlineKeyboard) > 0 {
		kb, _ := json.Marshal(keyboard)
		params["reply_markup"] = string(kb)
	}

	resp, err := b.uploadDocument("sendDocument", params, data, filename)
	if err != nil {
		return tgbotapi.Message{}, fmt.Errorf("sendDocument: %w", err)
	}
	var msg tgbotapi.Message
	json.Unmarshal(resp.Result, &msg)
	return msg, nil
}

// replaceDocument swaps the media of an existing document message.
func (b *Bot) replaceDocument(chatID int64, messageID int, data []byte, filename string, keyboard tgbotapi.InlineKeyboardMarkup) error {
	kb, _ := json.Marshal(keyboard)

	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero("message_id", messageID)
	params["media"] = `{"type":"document","media":"attach://document"}`
	params["reply_markup"] = string(kb)

	if _, err := b.uploadDocument("editMessageMedia", params, data, filename); err != nil {
		return fmt.Errorf("editMessageMedia: %w", err)
	}
	return nil
}
