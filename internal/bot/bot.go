package bot

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/otaviocarvalho/ccbot/internal/config"
	"github.com/otaviocarvalho/ccbot/internal/monitor"
	"github.com/otaviocarvalho/ccbot/internal/provider"
	"github.com/otaviocarvalho/ccbot/internal/queue"
	"github.com/otaviocarvalho/ccbot/internal/state"
	"github.com/otaviocarvalho/ccbot/internal/tmux"
)

// Bot is the main Telegram bot instance.
type Bot struct {
	api      *tgbotapi.BotAPI
	config   *config.Config
	state    *state.State
	saver    *state.Saver
	registry *provider.Registry
	mu       sync.RWMutex

	// Set by the composition root before Run.
	msgQueue     *queue.Queue
	monitor      *monitor.Monitor
	monitorState *state.MonitorState

	// Forum metadata the library drops from updates
	forum *forumMeta
	// Live mirrored terminal prompts
	interactive *interactiveStore
	// Recent messages per topic, for recall
	history *historyStore
	// Bindings already told their session died
	deadNotices *deadNoticeStore
	// In-flight ! command output captures
	bashMu       sync.Mutex
	bashCaptures map[string]*bashCapture

	// Per-user browse state for directory browser
	browseStates map[int64]*BrowseState
	// Per-user window picker state
	windowPickerStates map[int64]*windowPickerState
	// Per-user file browser state for /get
	fileBrowseStates map[int64]*FileBrowseState
	// Per-user resume picker state
	resumeStates map[int64]*resumeState
	// Sanitized command name → discovered provider command
	commandIndex map[string]provider.DiscoveredCommand
}

// New creates a new Bot instance. The queue and monitor are attached
// separately by the composition root.
func New(cfg *config.Config, st *state.State, registry *provider.Registry) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("creating bot API: %w", err)
	}

	log.Printf("Authorized as @%s", api.Self.UserName)

	if err := tmux.EnsureSession(cfg.TmuxSessionName); err != nil {
		return nil, fmt.Errorf("ensuring tmux session: %w", err)
	}

	b := &Bot{
		api:                api,
		config:             cfg,
		state:              st,
		saver:              state.NewSaver(cfg.StatePath(), st.Save),
		registry:           registry,
		forum:              newForumMeta(),
		interactive:        newInteractiveStore(),
		history:            newHistoryStore(),
		deadNotices:        newDeadNoticeStore(),
		bashCaptures:       make(map[string]*bashCapture),
		browseStates:       make(map[int64]*BrowseState),
		windowPickerStates: make(map[int64]*windowPickerState),
		fileBrowseStates:   make(map[int64]*FileBrowseState),
		resumeStates:       make(map[int64]*resumeState),
	}
	b.commandIndex = b.buildCommandIndex()
	return b, nil
}

// AttachQueue wires the outbound message queue.
func (b *Bot) AttachQueue(q *queue.Queue) {
	b.msgQueue = q
}

// AttachMonitor wires the session monitor and its persistence.
func (b *Bot) AttachMonitor(mon *monitor.Monitor, ms *state.MonitorState) {
	b.monitor = mon
	b.monitorState = ms
}

// Run long-polls Telegram until ctx is cancelled, flushing pending state
// on the way out.
func (b *Bot) Run(ctx context.Context) error {
	log.Println("Bot is running...")

	offset := 0
	for ctx.Err() == nil {
		updates, err := b.getUpdatesRaw(offset, 30)
		if err != nil {
			log.Printf("Error getting updates: %v", err)
			// Don't hammer the API while it's unreachable.
			select {
			case <-ctx.Done():
			case <-time.After(3 * time.Second):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			b.handleUpdate(update)
		}

		if offset > 1000 {
			b.forum.prune(offset - 1000)
		}
	}

	if err := b.saver.Flush(); err != nil {
		log.Printf("Error saving state on shutdown: %v", err)
	}
	log.Println("Bot shutting down.")
	return nil
}

// handleUpdate dispatches one update after the allow-list check.
func (b *Bot) handleUpdate(update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		if b.isAuthorized(update.Message.From.ID, update.Message.Chat.ID) {
			b.handleMessage(update.Message)
		}
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		if b.isAuthorized(cq.From.ID, cq.Message.Chat.ID) {
			b.routeCallback(cq)
		}
	}
}

// isAuthorized applies the user allow-list and, for group chats, the
// configured group restriction.
func (b *Bot) isAuthorized(userID, chatID int64) bool {
	if !b.config.IsAllowedUser(userID) {
		return false
	}
	return chatID >= 0 || b.config.IsAllowedGroup(chatID)
}

// handleMessage splits topic service events, commands, and plain text.
func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	switch {
	case b.isTopicClosed(msg):
		b.handleTopicClose(msg)
	case msg.IsCommand():
		b.handleCommand(msg)
	case msg.Text != "":
		b.handleTextMessage(msg)
	}
}

// saveState schedules a debounced state write.
func (b *Bot) saveState() {
	b.saver.Schedule()
}

// providerForWindow resolves the window's persisted provider, falling back
// to the configured default.
func (b *Bot) providerForWindow(windowID string) provider.Provider {
	name := b.state.GetWindowProvider(windowID)
	if name == "" {
		name = b.config.DefaultProvider
	}
	return b.registry.Get(name)
}

// reply sends a text reply to a message in its thread.
func (b *Bot) reply(chatID int64, threadID int, text string) {
	if _, err := b.sendMessageInThread(chatID, threadID, text); err != nil {
		log.Printf("Error sending reply: %v", err)
	}
}

// API returns the underlying BotAPI for use by other packages.
func (b *Bot) API() *tgbotapi.BotAPI {
	return b.api
}

// State returns the bot's state.
func (b *Bot) State() *state.State {
	return b.state
}

// Config returns the bot's config.
func (b *Bot) Config() *config.Config {
	return b.config
}
