package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/otaviocarvalho/ccbot/internal/monitor"
	"github.com/otaviocarvalho/ccbot/internal/queue"
	"github.com/otaviocarvalho/ccbot/internal/state"
	"github.com/otaviocarvalho/ccbot/internal/term"
	"github.com/otaviocarvalho/ccbot/internal/tmux"
)

const (
	statusPollInterval = 1 * time.Second
	topicCheckInterval = 60 * time.Second
	activityThreshold  = 10 * time.Second
	startupTimeout     = 30 * time.Second
	idleClearDelay     = 10 * time.Second
	typingInterval     = 4 * time.Second
	errBackoffStart    = 2 * time.Second
	errBackoffMax      = 30 * time.Second

	screenCols = 200
	screenRows = 50
)

// Window lifecycle states reflected in the topic title emoji.
const (
	stateActive = "active"
	stateIdle   = "idle"
	stateDone   = "done"
	stateDead   = "dead"
)

var stateEmoji = map[string]string{
	stateActive: "🟢",
	stateIdle:   "💤",
	stateDone:   "✅",
	stateDead:   "💀",
}

// shellCommands are pane commands that mean the agent process has exited
// (or not started yet) and a plain shell is in the foreground.
var shellCommands = map[string]bool{
	"bash": true, "zsh": true, "fish": true, "sh": true,
	"dash": true, "tcsh": true, "csh": true, "ksh": true,
}

// statusKey is a composite key for per-(user, thread) status tracking.
type statusKey struct {
	UserID   int64
	ThreadID int
}

// deadNoticeStore remembers which (user, thread, window) triples were
// already told their session died, so recovery offers are sent once.
type deadNoticeStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newDeadNoticeStore() *deadNoticeStore {
	return &deadNoticeStore{seen: make(map[string]bool)}
}

func deadNotifiedKey(userID, threadID, windowID string) string {
	return userID + ":" + threadID + ":" + windowID
}

// mark records a dead notice and reports whether it is the first for this
// binding.
func (dn *deadNoticeStore) mark(userID, threadID, windowID string) bool {
	key := deadNotifiedKey(userID, threadID, windowID)
	dn.mu.Lock()
	defer dn.mu.Unlock()
	if dn.seen[key] {
		return false
	}
	dn.seen[key] = true
	return true
}

// clearDeadNotification re-arms the dead notice for a binding, called when
// the binding is replaced or the window recovers.
func (b *Bot) clearDeadNotification(userID, threadID, windowID string) {
	b.deadNotices.mu.Lock()
	delete(b.deadNotices.seen, deadNotifiedKey(userID, threadID, windowID))
	b.deadNotices.mu.Unlock()
}

// StatusPoller watches every bound tmux window, mirrors the agent's terminal
// status line into the topic, keeps the topic title emoji in sync with the
// window's lifecycle state, and auto-closes finished or dead sessions.
type StatusPoller struct {
	bot     *Bot
	queue   *queue.Queue
	monitor *monitor.Monitor

	mu            sync.Mutex
	lastStatus    map[statusKey]string
	lastTyping    map[int64]time.Time
	hasSeenStatus map[string]bool
	startupTimes  map[string]time.Time
	idleReadyAt   map[statusKey]time.Time
	idleCleared   map[statusKey]bool
	windowStates  map[string]string
	stateSince    map[string]time.Time
	topicNames    map[statusKey]string
	subagents     map[string]map[string]bool
	unboundSeen   map[string]time.Time
	screens       map[string]*term.Screen

	lastTopicCheck time.Time
}

// NewStatusPoller creates a new StatusPoller.
func NewStatusPoller(bot *Bot, q *queue.Queue, mon *monitor.Monitor) *StatusPoller {
	return &StatusPoller{
		bot:           bot,
		queue:         q,
		monitor:       mon,
		lastStatus:    make(map[statusKey]string),
		lastTyping:    make(map[int64]time.Time),
		hasSeenStatus: make(map[string]bool),
		startupTimes:  make(map[string]time.Time),
		idleReadyAt:   make(map[statusKey]time.Time),
		idleCleared:   make(map[statusKey]bool),
		windowStates:  make(map[string]string),
		stateSince:    make(map[string]time.Time),
		topicNames:    make(map[statusKey]string),
		subagents:     make(map[string]map[string]bool),
		unboundSeen:   make(map[string]time.Time),
		screens:       make(map[string]*term.Screen),
	}
}

// Run starts the status polling loop. Blocks until ctx is cancelled.
func (sp *StatusPoller) Run(ctx context.Context) {
	log.Println("Status poller starting...")

	delay := statusPollInterval
	backoff := errBackoffStart

	for {
		select {
		case <-ctx.Done():
			log.Println("Status poller stopped.")
			return
		case <-time.After(delay):
		}

		if err := sp.poll(); err != nil {
			log.Printf("Status poll error: %v", err)
			delay = backoff
			backoff *= 2
			if backoff > errBackoffMax {
				backoff = errBackoffMax
			}
			continue
		}
		delay = statusPollInterval
		backoff = errBackoffStart

		if time.Since(sp.lastTopicCheck) >= topicCheckInterval {
			sp.lastTopicCheck = time.Now()
			sp.checkTopics()
		}
	}
}

func (sp *StatusPoller) poll() error {
	windows, err := tmux.ListWindows(sp.bot.config.TmuxSessionName)
	if err != nil {
		return err
	}

	byID := make(map[string]tmux.Window, len(windows))
	for _, w := range windows {
		byID[w.ID] = w
	}

	bound := sp.bot.state.AllBoundWindowIDs()

	sp.reapUnboundWindows(windows, bound)

	for windowID := range bound {
		users := sp.bot.state.FindUsersForWindow(windowID)
		if len(users) == 0 {
			continue
		}

		w, alive := byID[windowID]
		if !alive {
			sp.handleDead(windowID, users)
			continue
		}
		sp.pollWindow(w, users)
	}
	return nil
}

// pollWindow evaluates one live bound window and fans updates out to its users.
func (sp *StatusPoller) pollWindow(w tmux.Window, users []state.UserThread) {
	windowID := w.ID
	now := time.Now()

	sp.mu.Lock()
	if _, ok := sp.startupTimes[windowID]; !ok {
		sp.startupTimes[windowID] = now
	}
	startedAt := sp.startupTimes[windowID]
	seen := sp.hasSeenStatus[windowID]
	sp.mu.Unlock()

	// A shell in the foreground after startup means the agent exited.
	if shellCommands[w.Command] {
		if now.Sub(startedAt) > startupTimeout {
			sp.setWindowState(windowID, stateDone, users)
		}
		sp.maybeAutoclose(windowID, users)
		return
	}

	raw, err := tmux.CapturePane(sp.bot.config.TmuxSessionName, windowID, true)
	if err != nil {
		if tmux.IsWindowDead(err) {
			sp.handleDead(windowID, users)
		}
		return
	}

	s := sp.screenFor(windowID, raw)

	// An in-terminal prompt takes over the topic while it is on screen;
	// status noise would just fight the mirrored keyboard.
	if sp.syncInteractive(windowID, s, users) {
		sp.setWindowState(windowID, stateActive, users)
		return
	}

	statusText, hasStatus := sp.extractStatus(windowID, s)

	if hasStatus && isPromptHint(statusText) {
		hasStatus = false
	}

	if hasStatus {
		sp.mu.Lock()
		sp.hasSeenStatus[windowID] = true
		sp.mu.Unlock()
		sp.setWindowState(windowID, stateActive, users)
		sp.broadcastStatus(windowID, users, statusText)
		return
	}

	// No status line. During startup there is nothing to report yet.
	if !seen && now.Sub(startedAt) < startupTimeout {
		return
	}

	// Recent transcript activity keeps the window in the active state even
	// between visible status lines.
	if sp.monitor != nil {
		if last, ok := sp.monitor.LastActivity(windowID); ok && now.Sub(last) < activityThreshold {
			return
		}
	}

	if seen {
		sp.setWindowState(windowID, stateIdle, users)
		sp.broadcastIdle(windowID, users)
	}
	sp.maybeAutoclose(windowID, users)
}

// screenFor replays a pane capture into the window's reusable screen buffer.
func (sp *StatusPoller) screenFor(windowID, raw string) *term.Screen {
	sp.mu.Lock()
	s, ok := sp.screens[windowID]
	if !ok {
		s = term.NewScreen(screenCols, screenRows)
		sp.screens[windowID] = s
	}
	sp.mu.Unlock()

	s.Reset()
	s.Feed(raw)
	return s
}

// syncInteractive reconciles mirrored prompt sessions with what is actually
// on screen: prompts the Notification hook missed get mirrored, and stale
// mirrors whose prompt is gone get dropped so status flows again. Returns
// true while any user has a live mirror for this window.
func (sp *StatusPoller) syncInteractive(windowID string, s *term.Screen, users []state.UserThread) bool {
	p := sp.bot.providerForWindow(windowID)
	_, promptShown := term.ExtractInteractiveFromScreen(s, p.Capabilities().TerminalUIPatterns)

	anyActive := false
	for _, ut := range users {
		userID, _ := strconv.ParseInt(ut.UserID, 10, 64)
		threadID, _ := strconv.Atoi(ut.ThreadID)
		win, active := sp.bot.interactive.window(userID, threadID)
		if active && win != windowID {
			continue
		}

		if !promptShown {
			if active {
				sp.bot.interactive.clear(userID, threadID)
			}
			continue
		}

		if active {
			anyActive = true
			continue
		}
		chatID := sp.bot.state.ResolveChatID(ut.UserID, ut.ThreadID)
		if chatID == 0 {
			continue
		}
		sp.bot.interactive.set(userID, threadID, windowID)
		if sp.bot.showInteractiveUI(chatID, threadID, userID, windowID) {
			anyActive = true
		} else {
			sp.bot.interactive.clear(userID, threadID)
		}
	}
	return anyActive
}

// extractStatus parses the status line from a replayed pane capture. The
// screen buffer parse runs first; provider-specific regexes are the fallback.
func (sp *StatusPoller) extractStatus(windowID string, s *term.Screen) (string, bool) {
	if text, ok := term.StatusFromScreen(s); ok {
		return text, true
	}

	plain := strings.Join(s.Display(), "\n")
	p := sp.bot.providerForWindow(windowID)
	paneTitle := ""
	if p.Capabilities().UsesPaneTitle {
		paneTitle, _ = tmux.GetPaneTitle(sp.bot.config.TmuxSessionName, windowID)
	}
	if update, ok := p.ParseTerminalStatus(plain, paneTitle); ok {
		if update.DisplayLabel != "" {
			return update.DisplayLabel, true
		}
		return update.RawText, true
	}
	return "", false
}

// broadcastStatus delivers a status line update to every user of a window.
func (sp *StatusPoller) broadcastStatus(windowID string, users []state.UserThread, statusText string) {
	display := term.FormatStatusDisplay(statusText)
	if n := sp.subagentCount(windowID); n > 0 {
		display = fmt.Sprintf("%s (+%d subagents)", display, n)
	}

	for _, ut := range users {
		userID, _ := strconv.ParseInt(ut.UserID, 10, 64)
		threadID, _ := strconv.Atoi(ut.ThreadID)
		chatID := sp.bot.state.ResolveChatID(ut.UserID, ut.ThreadID)
		if chatID == 0 {
			continue
		}
		if sp.bot.interactive.active(userID, threadID) {
			continue
		}
		// Content delivery in flight beats status noise.
		if sp.queue != nil && sp.queue.QueueLen(userID) > 0 {
			continue
		}

		key := statusKey{userID, threadID}
		sp.mu.Lock()
		last := sp.lastStatus[key]
		sp.lastStatus[key] = display
		delete(sp.idleReadyAt, key)
		delete(sp.idleCleared, key)
		typeDue := time.Since(sp.lastTyping[chatID]) >= typingInterval
		if typeDue {
			sp.lastTyping[chatID] = time.Now()
		}
		sp.mu.Unlock()

		if typeDue {
			sp.bot.sendTypingAction(chatID, threadID)
		}
		if display == last {
			continue
		}
		if sp.queue != nil {
			sp.queue.Enqueue(queue.MessageTask{
				UserID:      userID,
				ThreadID:    threadID,
				ChatID:      chatID,
				Parts:       []string{display},
				ContentType: queue.KindStatus,
				WindowID:    windowID,
				ReplyMarkup: sp.statusKeyboard(userID, threadID, windowID),
			})
		}
	}
}

// broadcastIdle shows "✓ Ready" once per idle episode, clears it after a
// delay, and reports the turn duration when the monitor timed the turn.
func (sp *StatusPoller) broadcastIdle(windowID string, users []state.UserThread) {
	for _, ut := range users {
		userID, _ := strconv.ParseInt(ut.UserID, 10, 64)
		threadID, _ := strconv.Atoi(ut.ThreadID)
		chatID := sp.bot.state.ResolveChatID(ut.UserID, ut.ThreadID)
		if chatID == 0 {
			continue
		}

		key := statusKey{userID, threadID}
		sp.mu.Lock()
		readyAt, shown := sp.idleReadyAt[key]
		cleared := sp.idleCleared[key]
		sp.mu.Unlock()

		if cleared {
			continue
		}

		if !shown {
			var timingText string
			if sp.monitor != nil {
				if start, ok := sp.monitor.GetAndClearTurnStart(windowID); ok {
					timingText = formatDuration(time.Since(start))
				}
			}
			sp.mu.Lock()
			sp.idleReadyAt[key] = time.Now()
			sp.lastStatus[key] = "✓ Ready"
			sp.mu.Unlock()

			if sp.queue != nil {
				if timingText != "" {
					sp.queue.Enqueue(queue.MessageTask{
						UserID:      userID,
						ThreadID:    threadID,
						ChatID:      chatID,
						Parts:       []string{timingText},
						ContentType: queue.KindContent,
						WindowID:    windowID,
					})
				}
				sp.queue.Enqueue(queue.MessageTask{
					UserID:      userID,
					ThreadID:    threadID,
					ChatID:      chatID,
					Parts:       []string{"✓ Ready"},
					ContentType: queue.KindStatus,
					WindowID:    windowID,
					ReplyMarkup: sp.statusKeyboard(userID, threadID, windowID),
				})
			}
			continue
		}

		if time.Since(readyAt) >= idleClearDelay {
			sp.mu.Lock()
			sp.idleCleared[key] = true
			delete(sp.lastStatus, key)
			sp.mu.Unlock()

			if sp.queue != nil {
				sp.queue.Enqueue(queue.MessageTask{
					UserID:      userID,
					ThreadID:    threadID,
					ChatID:      chatID,
					ContentType: queue.KindStatusClear,
					WindowID:    windowID,
				})
			}
		}
	}
}

// handleDead marks a window dead and offers recovery once per binding.
// The binding itself survives so the user can resume or restart.
func (sp *StatusPoller) handleDead(windowID string, users []state.UserThread) {
	sp.setWindowState(windowID, stateDead, users)

	for _, ut := range users {
		userID, _ := strconv.ParseInt(ut.UserID, 10, 64)
		threadID, _ := strconv.Atoi(ut.ThreadID)
		sp.bot.cancelBashCapture(userID, threadID)
		sp.bot.interactive.clear(userID, threadID)

		sp.mu.Lock()
		delete(sp.lastStatus, statusKey{userID, threadID})
		sp.mu.Unlock()

		if sp.bot.deadNotices.mark(ut.UserID, ut.ThreadID, windowID) {
			sp.bot.announceDeadWindow(ut.UserID, ut.ThreadID, windowID)
		}
	}
	sp.maybeAutoclose(windowID, users)
}

// setWindowState records a lifecycle state change and syncs topic titles.
func (sp *StatusPoller) setWindowState(windowID, newState string, users []state.UserThread) {
	sp.mu.Lock()
	prev := sp.windowStates[windowID]
	if prev != newState {
		sp.windowStates[windowID] = newState
		sp.stateSince[windowID] = time.Now()
	}
	sp.mu.Unlock()

	if prev != newState {
		sp.syncTopicTitles(windowID, newState, users)
	}
}

// syncTopicTitles renames each bound topic to "<emoji> <name>".
func (sp *StatusPoller) syncTopicTitles(windowID, windowState string, users []state.UserThread) {
	name, _ := sp.bot.state.GetWindowDisplayName(windowID)
	if name == "" {
		return
	}

	title := name
	if emoji := stateEmoji[windowState]; emoji != "" {
		title = emoji + " " + name
	}

	for _, ut := range users {
		userID, _ := strconv.ParseInt(ut.UserID, 10, 64)
		threadID, _ := strconv.Atoi(ut.ThreadID)
		chatID := sp.bot.state.ResolveChatID(ut.UserID, ut.ThreadID)
		if chatID == 0 || threadID == 0 {
			continue
		}

		key := statusKey{userID, threadID}
		sp.mu.Lock()
		if sp.topicNames[key] == title {
			sp.mu.Unlock()
			continue
		}
		sp.topicNames[key] = title
		sp.mu.Unlock()

		sp.bot.renameForumTopic(chatID, threadID, title)
	}
}

// maybeAutoclose closes topics whose window has been done or dead long enough.
func (sp *StatusPoller) maybeAutoclose(windowID string, users []state.UserThread) {
	sp.mu.Lock()
	st := sp.windowStates[windowID]
	since := sp.stateSince[windowID]
	sp.mu.Unlock()

	var limit time.Duration
	switch st {
	case stateDone:
		limit = sp.bot.config.AutocloseDone
	case stateDead:
		limit = sp.bot.config.AutocloseDead
	default:
		return
	}
	if limit <= 0 || since.IsZero() || time.Since(since) < limit {
		return
	}

	log.Printf("Auto-closing %s window %s after %v", st, windowID, limit)
	for _, ut := range users {
		threadID, _ := strconv.Atoi(ut.ThreadID)
		chatID := sp.bot.state.ResolveChatID(ut.UserID, ut.ThreadID)
		if chatID != 0 && threadID != 0 {
			if err := sp.bot.closeForumTopic(chatID, threadID); err != nil {
				log.Printf("Error closing topic %d: %v", threadID, err)
			}
		}
	}
	sp.bot.cleanupDeadWindow(windowID)
	sp.forgetWindow(windowID)
}

// reapUnboundWindows kills windows nothing is bound to once they outlive the
// done-autoclose window.
func (sp *StatusPoller) reapUnboundWindows(windows []tmux.Window, bound map[string]bool) {
	limit := sp.bot.config.AutocloseDone
	if limit <= 0 {
		return
	}

	live := make(map[string]bool, len(windows))
	for _, w := range windows {
		live[w.ID] = true
		if bound[w.ID] {
			sp.mu.Lock()
			delete(sp.unboundSeen, w.ID)
			sp.mu.Unlock()
			continue
		}

		sp.mu.Lock()
		first, ok := sp.unboundSeen[w.ID]
		if !ok {
			sp.unboundSeen[w.ID] = time.Now()
			sp.mu.Unlock()
			continue
		}
		sp.mu.Unlock()

		if time.Since(first) > limit {
			log.Printf("Killing unbound window %s (%s) after %v", w.ID, w.Name, limit)
			if err := tmux.KillWindow(sp.bot.config.TmuxSessionName, w.ID); err != nil {
				log.Printf("Error killing unbound window %s: %v", w.ID, err)
			}
			sp.mu.Lock()
			delete(sp.unboundSeen, w.ID)
			sp.mu.Unlock()
		}
	}

	sp.mu.Lock()
	for id := range sp.unboundSeen {
		if !live[id] {
			delete(sp.unboundSeen, id)
		}
	}
	sp.mu.Unlock()
}

// checkTopics probes every bound topic and tears down bindings whose topic
// was deleted on the Telegram side. It also picks up tmux-side window
// renames and mirrors them into topic titles.
func (sp *StatusPoller) checkTopics() {
	sp.syncWindowNames()
	for _, binding := range sp.bot.state.IterThreadBindings() {
		threadID, err := strconv.Atoi(binding.ThreadID)
		if err != nil || threadID == 0 {
			continue
		}
		chatID := sp.bot.state.ResolveChatID(binding.UserID, binding.ThreadID)
		if chatID == 0 {
			continue
		}
		if sp.bot.probeTopicExists(chatID, threadID) {
			continue
		}

		log.Printf("Topic %d is gone, killing window %s", threadID, binding.WindowID)
		tmux.KillWindow(sp.bot.config.TmuxSessionName, binding.WindowID)
		sp.bot.state.UnbindThread(binding.UserID, binding.ThreadID)
		sp.bot.state.RemoveGroupChatID(binding.UserID, binding.ThreadID)
		if len(sp.bot.state.FindUsersForWindow(binding.WindowID)) == 0 {
			sp.bot.cleanupDeadWindow(binding.WindowID)
			sp.forgetWindow(binding.WindowID)
		}
		sp.bot.saveState()
	}
}

// syncWindowNames pulls window renames from tmux into display names and
// re-titles the bound topics.
func (sp *StatusPoller) syncWindowNames() {
	windows, err := tmux.ListWindows(sp.bot.config.TmuxSessionName)
	if err != nil {
		return
	}
	for _, w := range windows {
		name, _ := sp.bot.state.GetWindowDisplayName(w.ID)
		if w.Name == "" || w.Name == name {
			continue
		}
		users := sp.bot.state.FindUsersForWindow(w.ID)
		if len(users) == 0 {
			continue
		}
		sp.bot.state.SetWindowDisplayName(w.ID, w.Name)
		sp.bot.saveState()

		sp.mu.Lock()
		st := sp.windowStates[w.ID]
		sp.mu.Unlock()
		sp.syncTopicTitles(w.ID, st, users)
	}
}

// forgetWindow drops all per-window poller state.
func (sp *StatusPoller) forgetWindow(windowID string) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	delete(sp.hasSeenStatus, windowID)
	delete(sp.startupTimes, windowID)
	delete(sp.windowStates, windowID)
	delete(sp.stateSince, windowID)
	delete(sp.subagents, windowID)
	delete(sp.screens, windowID)
}

func (sp *StatusPoller) subagentCount(windowID string) int {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return len(sp.subagents[windowID])
}

// statusKeyboard builds the inline keyboard attached to status messages.
func (sp *StatusPoller) statusKeyboard(userID int64, threadID int, windowID string) string {
	rows := [][]tgbotapi.InlineKeyboardButton{
		{
			tgbotapi.NewInlineKeyboardButtonData("Esc", "st_esc:"+windowID),
			tgbotapi.NewInlineKeyboardButtonData("📸", "st_shot:"+windowID),
			tgbotapi.NewInlineKeyboardButtonData("🔔 "+sp.bot.state.NotificationMode(windowID), "st_notify:"+windowID),
		},
	}
	if cmd, ok := sp.bot.history.last(userID, threadID); ok {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("↻ "+truncateName(cmd, 28), "hist_show"),
		))
	}
	kb, _ := json.Marshal(tgbotapi.NewInlineKeyboardMarkup(rows...))
	return string(kb)
}

// processStatusCallback handles the status message keyboard.
func (b *Bot) processStatusCallback(cq *tgbotapi.CallbackQuery) {
	data := cq.Data
	userID := cq.From.ID

	switch {
	case strings.HasPrefix(data, "st_esc:"):
		windowID := strings.TrimPrefix(data, "st_esc:")
		if !b.userOwnsWindow(userID, windowID) {
			return
		}
		if err := tmux.SendSpecialKey(b.config.TmuxSessionName, windowID, "Escape"); err != nil {
			log.Printf("Error sending Escape to %s: %v", windowID, err)
		}
	case strings.HasPrefix(data, "st_shot:"):
		windowID := strings.TrimPrefix(data, "st_shot:")
		if !b.userOwnsWindow(userID, windowID) {
			return
		}
		b.sendScreenshot(cq.Message.Chat.ID, b.threadID(cq.Message), userID, windowID)
	case strings.HasPrefix(data, "st_notify:"):
		windowID := strings.TrimPrefix(data, "st_notify:")
		if !b.userOwnsWindow(userID, windowID) {
			return
		}
		mode := b.state.CycleNotificationMode(windowID)
		b.saveState()
		b.answerCallback(cq.ID, "Notifications: "+mode)
	}
}

// HandleHookEvent reacts to agent hook events forwarded by the monitor.
func (sp *StatusPoller) HandleHookEvent(ev state.HookEvent) {
	windowID := windowIDFromKey(ev.WindowKey)
	if windowID == "" {
		return
	}
	users := sp.bot.state.FindUsersForWindow(windowID)

	switch ev.Event {
	case "Notification":
		sp.handleNotificationEvent(windowID, users)
	case "Stop":
		sp.handleStopEvent(windowID, users)
	case "SubagentStart":
		sp.trackSubagent(windowID, ev.SessionID, true)
	case "SubagentStop":
		sp.trackSubagent(windowID, ev.SessionID, false)
	case "TeammateIdle":
		name, _ := ev.Data["teammate_name"].(string)
		sp.broadcastStatus(windowID, users, fmt.Sprintf("💤 Teammate '%s' went idle", name))
	case "TaskCompleted":
		subject, _ := ev.Data["task_subject"].(string)
		name, _ := ev.Data["teammate_name"].(string)
		sp.broadcastStatus(windowID, users, fmt.Sprintf("✅ Task completed: %s (by '%s')", subject, name))
	}
}

// handleNotificationEvent enters interactive mode: the agent is waiting on a
// terminal prompt that needs key-level input.
func (sp *StatusPoller) handleNotificationEvent(windowID string, users []state.UserThread) {
	for _, ut := range users {
		userID, _ := strconv.ParseInt(ut.UserID, 10, 64)
		threadID, _ := strconv.Atoi(ut.ThreadID)
		chatID := sp.bot.state.ResolveChatID(ut.UserID, ut.ThreadID)
		if chatID == 0 {
			continue
		}
		if sp.bot.interactive.active(userID, threadID) {
			continue
		}

		// Mark the mode before rendering so status polling stands down,
		// then give the terminal a moment to settle.
		sp.bot.interactive.set(userID, threadID, windowID)
		time.Sleep(300 * time.Millisecond)
		if !sp.bot.showInteractiveUI(chatID, threadID, userID, windowID) {
			sp.bot.interactive.clear(userID, threadID)
		}
	}
}

// handleStopEvent marks the turn finished.
func (sp *StatusPoller) handleStopEvent(windowID string, users []state.UserThread) {
	sp.mu.Lock()
	delete(sp.hasSeenStatus, windowID)
	sp.mu.Unlock()

	sp.setWindowState(windowID, stateDone, users)

	for _, ut := range users {
		userID, _ := strconv.ParseInt(ut.UserID, 10, 64)
		threadID, _ := strconv.Atoi(ut.ThreadID)
		chatID := sp.bot.state.ResolveChatID(ut.UserID, ut.ThreadID)
		if chatID == 0 {
			continue
		}

		key := statusKey{userID, threadID}
		sp.mu.Lock()
		delete(sp.lastStatus, key)
		delete(sp.idleReadyAt, key)
		delete(sp.idleCleared, key)
		sp.mu.Unlock()

		if sp.queue != nil {
			sp.queue.Enqueue(queue.MessageTask{
				UserID:      userID,
				ThreadID:    threadID,
				ChatID:      chatID,
				ContentType: queue.KindStatusClear,
				WindowID:    windowID,
			})
		}
	}
}

func (sp *StatusPoller) trackSubagent(windowID, id string, start bool) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	set, ok := sp.subagents[windowID]
	if !ok {
		set = make(map[string]bool)
		sp.subagents[windowID] = set
	}
	if start {
		set[id] = true
	} else {
		delete(set, id)
	}
}

// isPromptHint returns true if the status text is just a prompt hint, not a
// real status. e.g. "esc to interrupt", "Enter to select".
func isPromptHint(text string) bool {
	lower := strings.ToLower(text)
	return lower == "esc to interrupt" ||
		strings.HasPrefix(lower, "enter to") ||
		strings.HasPrefix(lower, "ctrl-")
}

// formatDuration formats a duration as "Brewed for Xm Ys" or "Brewed for Ys".
func formatDuration(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 60 {
		return fmt.Sprintf("Brewed for %ds", secs)
	}
	mins := secs / 60
	secs = secs % 60
	return fmt.Sprintf("Brewed for %dm %ds", mins, secs)
}
