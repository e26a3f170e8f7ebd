package queue

import (
	"errors"
	"log"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// sendInterval is the floor between sends to one chat. Telegram allows
// short bursts but sustained streams need spacing.
const sendInterval = 50 * time.Millisecond

// RetryAfterError is a send failure carrying Telegram's requested backoff.
type RetryAfterError struct {
	ChatID int64
	Delay  time.Duration
}

func (e *RetryAfterError) Error() string {
	return "telegram flood control, retry after " + e.Delay.String()
}

// AsRetryAfter extracts the flood-control backoff from a Telegram API
// error, if present.
func AsRetryAfter(chatID int64, err error) (*RetryAfterError, bool) {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return &RetryAfterError{
			ChatID: chatID,
			Delay:  time.Duration(apiErr.RetryAfter) * time.Second,
		}, true
	}
	return nil, false
}

// FloodControl tracks per-chat backoff deadlines and the send-rate floor.
type FloodControl struct {
	mu       sync.Mutex
	until    map[int64]time.Time // chat_id → flood deadline
	lastSend map[int64]time.Time // chat_id → last send
}

// NewFloodControl creates an empty FloodControl.
func NewFloodControl() *FloodControl {
	return &FloodControl{
		until:    make(map[int64]time.Time),
		lastSend: make(map[int64]time.Time),
	}
}

// HandleError records the backoff if err is a flood-control error.
// Returns the typed error when it is.
func (f *FloodControl) HandleError(chatID int64, err error) (*RetryAfterError, bool) {
	ra, ok := AsRetryAfter(chatID, err)
	if !ok {
		return nil, false
	}
	f.mu.Lock()
	f.until[chatID] = time.Now().Add(ra.Delay)
	f.mu.Unlock()
	log.Printf("Flood control for chat %d: backing off %v", chatID, ra.Delay)
	return ra, true
}

// IsFlooded reports whether a chat is inside a backoff window.
func (f *FloodControl) IsFlooded(chatID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return time.Now().Before(f.until[chatID])
}

// WaitIfFlooded sleeps out any active backoff window for a chat.
func (f *FloodControl) WaitIfFlooded(chatID int64) {
	f.mu.Lock()
	deadline := f.until[chatID]
	f.mu.Unlock()
	if wait := time.Until(deadline); wait > 0 {
		time.Sleep(wait)
	}
}

// Throttle enforces the send-rate floor for a chat, sleeping if the
// previous send was too recent.
func (f *FloodControl) Throttle(chatID int64) {
	f.mu.Lock()
	last := f.lastSend[chatID]
	now := time.Now()
	wait := sendInterval - now.Sub(last)
	if wait > 0 {
		f.lastSend[chatID] = now.Add(wait)
	} else {
		f.lastSend[chatID] = now
	}
	f.mu.Unlock()
	if wait > 0 {
		time.Sleep(wait)
	}
}
