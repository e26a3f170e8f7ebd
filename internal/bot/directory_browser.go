package bot

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/otaviocarvalho/ccbot/internal/state"
	"github.com/otaviocarvalho/ccbot/internal/tmux"
)

const (
	dirsPerPage  = 6
	maxFavorites = 4
)

// BrowseState holds per-user directory browser state.
type BrowseState struct {
	CurrentPath string
	Page        int
	Dirs        []string // cached subdirectory names for index-based callbacks
	Favorites   []string // cached favorite paths for index-based callbacks
	PendingText string
	PickingProv bool // true while the provider picker is shown
	MessageID   int
	ChatID      int64
	ThreadID    int
}

// showDirectoryBrowser sends the directory browser keyboard to the user.
func (b *Bot) showDirectoryBrowser(chatID int64, threadID int, userID int64, pendingText string) {
	home, _ := os.UserHomeDir()
	startPath := home

	text, keyboard, dirs, favs := b.buildDirectoryBrowser(userID, startPath, 0)

	msg, err := b.sendMessageWithKeyboard(chatID, threadID, text, keyboard)
	if err != nil {
		log.Printf("Error sending directory browser: %v", err)
		return
	}

	b.mu.Lock()
	b.browseStates[userID] = &BrowseState{
		CurrentPath: startPath,
		Page:        0,
		Dirs:        dirs,
		Favorites:   favs,
		PendingText: pendingText,
		MessageID:   msg.MessageID,
		ChatID:      chatID,
		ThreadID:    threadID,
	}
	b.mu.Unlock()
}

// buildDirectoryBrowser builds the inline keyboard for directory browsing.
// Returns the display text, keyboard markup, cached subdirectory names and
// cached favorite paths.
func (b *Bot) buildDirectoryBrowser(userID int64, currentPath string, page int) (string, tgbotapi.InlineKeyboardMarkup, []string, []string) {
	entries, err := os.ReadDir(currentPath)
	if err != nil {
		return fmt.Sprintf("Error reading %s", currentPath), tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Cancel", "dir_cancel"),
			),
		), nil, nil
	}

	// Filter to non-hidden directories, sorted
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)

	totalPages := (len(dirs) + dirsPerPage - 1) / dirsPerPage
	if totalPages == 0 {
		totalPages = 1
	}
	if page >= totalPages {
		page = totalPages - 1
	}
	if page < 0 {
		page = 0
	}

	var rows [][]tgbotapi.InlineKeyboardButton

	// Starred and recent directories, one per row, jump the browser there
	favs := b.favoritePaths(userID)
	for i, fav := range favs {
		icon := "⭐" // star
		if !b.isStarred(userID, fav) {
			icon = "\U0001f550" // clock
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				icon+" "+truncateName(shortenPath(fav), 30),
				fmt.Sprintf("dir_fav:%d", i),
			),
		))
	}

	// Directory buttons (2 per row)
	start := page * dirsPerPage
	end := start + dirsPerPage
	if end > len(dirs) {
		end = len(dirs)
	}

	for i := start; i < end; i += 2 {
		var row []tgbotapi.InlineKeyboardButton
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(
			truncateName(dirs[i], 13),
			fmt.Sprintf("dir_sel:%d", i),
		))
		if i+1 < end {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(
				truncateName(dirs[i+1], 13),
				fmt.Sprintf("dir_sel:%d", i+1),
			))
		}
		rows = append(rows, row)
	}

	// Pagination row
	if totalPages > 1 {
		var paginationRow []tgbotapi.InlineKeyboardButton
		if page > 0 {
			paginationRow = append(paginationRow, tgbotapi.NewInlineKeyboardButtonData(
				"◀", fmt.Sprintf("dir_page:%d", page-1),
			))
		}
		paginationRow = append(paginationRow, tgbotapi.NewInlineKeyboardButtonData(
			fmt.Sprintf("%d/%d", page+1, totalPages),
			"dir_noop",
		))
		if page < totalPages-1 {
			paginationRow = append(paginationRow, tgbotapi.NewInlineKeyboardButtonData(
				"▶", fmt.Sprintf("dir_page:%d", page+1),
			))
		}
		rows = append(rows, paginationRow)
	}

	// Action row: .. | star | Select | Cancel
	starLabel := "⭐"
	if b.isStarred(userID, currentPath) {
		starLabel = "⭐✕"
	}
	actionRow := []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("..", "dir_up"),
		tgbotapi.NewInlineKeyboardButtonData(starLabel, "dir_star"),
		tgbotapi.NewInlineKeyboardButtonData("Select", "dir_confirm"),
		tgbotapi.NewInlineKeyboardButtonData("Cancel", "dir_cancel"),
	}
	rows = append(rows, actionRow)

	displayPath := shortenPath(currentPath)
	text := fmt.Sprintf("Select directory:\n%s", displayPath)

	return text, tgbotapi.NewInlineKeyboardMarkup(rows...), dirs, favs
}

// favoritePaths returns starred directories followed by recent ones, capped.
func (b *Bot) favoritePaths(userID int64) []string {
	fav := b.state.Favorites(strconv.FormatInt(userID, 10))
	seen := make(map[string]bool)
	var out []string
	for _, p := range fav.Starred {
		if !seen[p] && len(out) < maxFavorites {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range fav.MRU {
		if !seen[p] && len(out) < maxFavorites {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func (b *Bot) isStarred(userID int64, path string) bool {
	fav := b.state.Favorites(strconv.FormatInt(userID, 10))
	for _, p := range fav.Starred {
		if p == path {
			return true
		}
	}
	return false
}

// processDirectoryCallback handles directory browser callback queries.
func (b *Bot) processDirectoryCallback(cq *tgbotapi.CallbackQuery) {
	userID := cq.From.ID
	data := cq.Data

	b.mu.RLock()
	bs, ok := b.browseStates[userID]
	b.mu.RUnlock()

	if !ok {
		return
	}

	// Verify topic match
	threadID := b.threadID(cq.Message)
	if threadID != bs.ThreadID {
		return
	}

	switch {
	case strings.HasPrefix(data, "dir_sel:"):
		b.handleDirSelect(cq, bs, userID)
	case strings.HasPrefix(data, "dir_fav:"):
		b.handleDirFav(cq, bs, userID)
	case strings.HasPrefix(data, "dir_page:"):
		b.handleDirPage(cq, bs, userID)
	case strings.HasPrefix(data, "dir_prov:"):
		b.handleDirProvider(cq, bs, userID)
	case data == "dir_up":
		b.handleDirUp(cq, bs, userID)
	case data == "dir_star":
		b.handleDirStar(cq, bs, userID)
	case data == "dir_confirm":
		b.handleDirConfirm(cq, bs, userID)
	case data == "dir_cancel":
		b.handleDirCancel(cq, bs, userID)
	case data == "dir_noop":
		// Page indicator button
	}
}

// navigateBrowser redraws the browser at path/page and updates cached state.
func (b *Bot) navigateBrowser(bs *BrowseState, userID int64, path string, page int) {
	text, keyboard, dirs, favs := b.buildDirectoryBrowser(userID, path, page)
	b.editMessageWithKeyboard(bs.ChatID, bs.MessageID, text, keyboard)

	b.mu.Lock()
	bs.CurrentPath = path
	bs.Page = page
	bs.Dirs = dirs
	bs.Favorites = favs
	bs.PickingProv = false
	b.mu.Unlock()
}

func (b *Bot) handleDirSelect(cq *tgbotapi.CallbackQuery, bs *BrowseState, userID int64) {
	idxStr := strings.TrimPrefix(cq.Data, "dir_sel:")
	idx, err := strconv.Atoi(idxStr)
	if err != nil || idx < 0 || idx >= len(bs.Dirs) {
		return
	}

	newPath := filepath.Join(bs.CurrentPath, bs.Dirs[idx])
	info, err := os.Stat(newPath)
	if err != nil || !info.IsDir() {
		return
	}

	b.navigateBrowser(bs, userID, newPath, 0)
}

func (b *Bot) handleDirFav(cq *tgbotapi.CallbackQuery, bs *BrowseState, userID int64) {
	idxStr := strings.TrimPrefix(cq.Data, "dir_fav:")
	idx, err := strconv.Atoi(idxStr)
	if err != nil || idx < 0 || idx >= len(bs.Favorites) {
		return
	}

	path := bs.Favorites[idx]
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}

	b.navigateBrowser(bs, userID, path, 0)
}

func (b *Bot) handleDirPage(cq *tgbotapi.CallbackQuery, bs *BrowseState, userID int64) {
	pageStr := strings.TrimPrefix(cq.Data, "dir_page:")
	page, err := strconv.Atoi(pageStr)
	if err != nil {
		return
	}
	b.navigateBrowser(bs, userID, bs.CurrentPath, page)
}

func (b *Bot) handleDirUp(cq *tgbotapi.CallbackQuery, bs *BrowseState, userID int64) {
	parent := filepath.Dir(bs.CurrentPath)
	if parent == bs.CurrentPath {
		return // already at root
	}
	b.navigateBrowser(bs, userID, parent, 0)
}

func (b *Bot) handleDirStar(cq *tgbotapi.CallbackQuery, bs *BrowseState, userID int64) {
	b.state.StarDirectory(strconv.FormatInt(userID, 10), bs.CurrentPath)
	b.saveState()
	b.navigateBrowser(bs, userID, bs.CurrentPath, bs.Page)
}

// handleDirConfirm moves to the provider picker, or creates the session
// directly when only one provider is configured.
func (b *Bot) handleDirConfirm(cq *tgbotapi.CallbackQuery, bs *BrowseState, userID int64) {
	names := b.registry.Names()
	if len(names) <= 1 {
		b.finishDirBrowse(bs, userID, b.config.DefaultProvider)
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, name := range names {
		label := name
		if name == b.config.DefaultProvider {
			label += " (default)"
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, "dir_prov:"+name),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Cancel", "dir_cancel"),
	))

	text := fmt.Sprintf("Select agent for:\n%s", shortenPath(bs.CurrentPath))
	b.editMessageWithKeyboard(bs.ChatID, bs.MessageID, text, tgbotapi.NewInlineKeyboardMarkup(rows...))

	b.mu.Lock()
	bs.PickingProv = true
	b.mu.Unlock()
}

func (b *Bot) handleDirProvider(cq *tgbotapi.CallbackQuery, bs *BrowseState, userID int64) {
	if !bs.PickingProv {
		return
	}
	name := strings.TrimPrefix(cq.Data, "dir_prov:")
	if !b.registry.IsValid(name) {
		return
	}
	b.finishDirBrowse(bs, userID, name)
}

// finishDirBrowse creates the session for the browsed directory and binds it.
func (b *Bot) finishDirBrowse(bs *BrowseState, userID int64, providerName string) {
	selectedPath := bs.CurrentPath
	pendingText := bs.PendingText
	chatID := bs.ChatID
	threadID := bs.ThreadID
	messageID := bs.MessageID

	b.mu.Lock()
	delete(b.browseStates, userID)
	b.mu.Unlock()

	b.editMessageText(chatID, messageID, fmt.Sprintf("Creating session in %s...", shortenPath(selectedPath)))

	windowID, windowName, err := b.createWindowForDir(userID, threadID, selectedPath, providerName, "")
	if err != nil {
		log.Printf("Error creating window: %v", err)
		b.editMessageText(chatID, messageID, "Error: failed to create session.")
		return
	}

	// Rename topic after the agent's working directory
	b.renameForumTopic(chatID, threadID, windowName)
	b.editMessageText(chatID, messageID, fmt.Sprintf("Bound to: %s", windowName))

	// Send pending text
	if pendingText != "" {
		if err := tmux.SendKeysWithDelay(b.config.TmuxSessionName, windowID, pendingText, 500); err != nil {
			log.Printf("Error sending pending text: %v", err)
		}
	}
}

// createWindowForDir launches an agent in a new tmux window rooted at dir and
// binds it to the user's topic. resumeID, when set, resumes an existing agent
// session instead of starting fresh. Returns the window ID and display name.
func (b *Bot) createWindowForDir(userID int64, threadID int, dir, providerName, resumeID string) (string, string, error) {
	p := b.registry.Get(providerName)
	caps := p.Capabilities()

	launchCmd, err := p.MakeLaunchArgs(resumeID, false)
	if err != nil {
		return "", "", err
	}
	if custom := b.config.ProviderCommand(providerName); custom != "" && resumeID == "" {
		launchCmd = custom
	}

	env := map[string]string{"CCBOT_PROVIDER": caps.Name}

	windowID, err := tmux.NewWindow(b.config.TmuxSessionName, "", dir, launchCmd, env)
	if err != nil {
		return "", "", err
	}

	windowName := filepath.Base(dir)

	// Hook-capable agents report their session through the session map;
	// wait briefly so the binding lands with a known session ID.
	if caps.SupportsHook {
		for i := 0; i < 10; i++ {
			time.Sleep(500 * time.Millisecond)
			sm := state.ReadSessionMap(b.config.SessionMapPath())
			found := false
			for key, entry := range sm {
				if windowIDFromKey(key) != windowID {
					continue
				}
				b.state.SetWindowState(windowID, state.WindowState{
					SessionID:  entry.SessionID,
					CWD:        entry.CWD,
					WindowName: entry.WindowName,
				})
				if entry.WindowName != "" {
					windowName = entry.WindowName
				}
				found = true
				break
			}
			if found {
				break
			}
		}
	}

	if _, ok := b.state.GetWindowState(windowID); !ok {
		b.state.SetWindowState(windowID, state.WindowState{CWD: dir, WindowName: windowName})
	}

	userIDStr := strconv.FormatInt(userID, 10)
	threadIDStr := strconv.Itoa(threadID)
	b.state.SetWindowProvider(windowID, caps.Name)
	b.state.SetWindowDisplayName(windowID, windowName)
	b.state.BindThread(userIDStr, threadIDStr, windowID)
	b.state.TouchDirectory(userIDStr, dir)
	b.clearDeadNotification(userIDStr, threadIDStr, windowID)
	b.saveState()

	return windowID, windowName, nil
}

func (b *Bot) handleDirCancel(cq *tgbotapi.CallbackQuery, bs *BrowseState, userID int64) {
	b.mu.Lock()
	delete(b.browseStates, userID)
	b.mu.Unlock()

	b.editMessageText(bs.ChatID, bs.MessageID, "Cancelled.")
}

// truncateName truncates a name to maxLen chars, adding ellipsis if needed.
func truncateName(name string, maxLen int) string {
	if len(name) <= maxLen {
		return name
	}
	return name[:maxLen-1] + "…"
}

// shortenPath replaces the home directory with ~ in a path.
func shortenPath(path string) string {
	home, _ := os.UserHomeDir()
	if home != "" && strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
