package bot

import (
	"fmt"
	"log"
	"time"

	"github.com/otaviocarvalho/ccbot/internal/term"
	"github.com/otaviocarvalho/ccbot/internal/tmux"
)

const (
	bashCaptureTimeout  = 30 * time.Second
	bashCaptureInterval = 1 * time.Second
)

// bashCapture tracks one in-flight ! command whose output we are waiting
// to scrape from the pane.
type bashCapture struct {
	cancel chan struct{}
}

func bashCaptureKey(userID int64, threadID int) string {
	return fmt.Sprintf("%d:%d", userID, threadID)
}

// startBashCapture polls the pane until the bash command's output block
// appears, then posts it to the topic. A newer capture for the same topic
// replaces the old one.
func (b *Bot) startBashCapture(userID, chatID int64, threadID int, windowID, command string) {
	key := bashCaptureKey(userID, threadID)

	b.bashMu.Lock()
	if prev, ok := b.bashCaptures[key]; ok {
		close(prev.cancel)
	}
	cap := &bashCapture{cancel: make(chan struct{})}
	b.bashCaptures[key] = cap
	b.bashMu.Unlock()

	go func() {
		defer func() {
			// Only evict if our capture is still the registered one.
			b.bashMu.Lock()
			if b.bashCaptures[key] == cap {
				delete(b.bashCaptures, key)
			}
			b.bashMu.Unlock()
		}()

		deadline := time.After(bashCaptureTimeout)
		ticker := time.NewTicker(bashCaptureInterval)
		defer ticker.Stop()

		for {
			select {
			case <-cap.cancel:
				return
			case <-deadline:
				return
			case <-ticker.C:
				paneText, err := tmux.CapturePane(b.config.TmuxSessionName, windowID, false)
				if err != nil {
					if tmux.IsWindowDead(err) {
						return
					}
					log.Printf("Error capturing pane for bash output: %v", err)
					continue
				}
				output, done := term.ExtractBashOutput(paneText, command)
				if !done {
					continue
				}
				if output != "" {
					if _, err := b.sendMessageInThreadMD(chatID, threadID, "```\n"+output+"\n```"); err != nil {
						log.Printf("Error sending bash output: %v", err)
					}
				}
				return
			}
		}
	}()
}

// cancelBashCapture stops any in-flight capture for the topic.
func (b *Bot) cancelBashCapture(userID int64, threadID int) {
	key := bashCaptureKey(userID, threadID)
	b.bashMu.Lock()
	defer b.bashMu.Unlock()
	if cap, ok := b.bashCaptures[key]; ok {
		close(cap.cancel)
		delete(b.bashCaptures, key)
	}
}
