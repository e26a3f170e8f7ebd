package bot

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// /get lets a user pull a file out of the window's working directory as a
// Telegram document. Callbacks are index-based against a cached listing so
// arbitrary filenames never travel through callback data.

const (
	filesPerPage = 8
	maxFetchSize = 50 * 1024 * 1024
)

type fileEntry struct {
	Name  string
	IsDir bool
}

// FileBrowseState is one user's position in the /get file picker.
type FileBrowseState struct {
	CurrentPath string
	Page        int
	Entries     []fileEntry
	MessageID   int
	ChatID      int64
	ThreadID    int
}

// showFileBrowser opens the picker at startPath.
func (b *Bot) showFileBrowser(chatID int64, threadID int, userID int64, startPath string) {
	view := buildFilePicker(startPath, 0)

	msg, err := b.sendMessageWithKeyboard(chatID, threadID, view.text, view.keyboard)
	if err != nil {
		log.Printf("Error sending file browser: %v", err)
		return
	}

	b.mu.Lock()
	b.fileBrowseStates[userID] = &FileBrowseState{
		CurrentPath: startPath,
		Entries:     view.entries,
		MessageID:   msg.MessageID,
		ChatID:      chatID,
		ThreadID:    threadID,
	}
	b.mu.Unlock()
}

// filePickerView is one rendered page of the picker.
type filePickerView struct {
	text     string
	keyboard tgbotapi.InlineKeyboardMarkup
	entries  []fileEntry
	page     int
}

func buildFilePicker(dir string, page int) filePickerView {
	entries, dirCount, err := listDirEntries(dir)
	if err != nil {
		return filePickerView{
			text:     fmt.Sprintf("Error reading %s", shortenPath(dir)),
			keyboard: tgbotapi.NewInlineKeyboardMarkup(filePickerActionRow()),
		}
	}

	totalPages := (len(entries) + filesPerPage - 1) / filesPerPage
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
	start := page * filesPerPage
	end := min(start+filesPerPage, len(entries))

	// Two entries per row.
	for i := start; i < end; i += 2 {
		row := []tgbotapi.InlineKeyboardButton{fileEntryButton(entries[i], i)}
		if i+1 < end {
			row = append(row, fileEntryButton(entries[i+1], i+1))
		}
		rows = append(rows, row)
	}

	if totalPages > 1 {
		rows = append(rows, pagerRow("get_page", page, totalPages, "get_noop"))
	}
	rows = append(rows, filePickerActionRow())

	header := fmt.Sprintf("Browse files:\n%s (%d dirs, %d files)",
		shortenPath(dir), dirCount, len(entries)-dirCount)
	if len(entries) == 0 {
		header = fmt.Sprintf("Browse files:\n%s (empty directory)", shortenPath(dir))
	}

	return filePickerView{
		text:     header,
		keyboard: tgbotapi.NewInlineKeyboardMarkup(rows...),
		entries:  entries,
		page:     page,
	}
}

// listDirEntries returns visible entries, directories first, each group
// sorted by name. Symlinks are resolved to classify their targets.
func listDirEntries(dir string) ([]fileEntry, int, error) {
	raw, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, err
	}

	var dirs, files []fileEntry
	for _, e := range raw {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := os.Stat(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		if info.IsDir() {
			dirs = append(dirs, fileEntry{Name: e.Name(), IsDir: true})
		} else {
			files = append(files, fileEntry{Name: e.Name()})
		}
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return append(dirs, files...), len(dirs), nil
}

func fileEntryButton(e fileEntry, idx int) tgbotapi.InlineKeyboardButton {
	label := truncateName(e.Name, 13)
	if e.IsDir {
		label = "\U0001F4C1 " + truncateName(e.Name, 11)
	}
	return tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("get_sel:%d", idx))
}

func filePickerActionRow() []tgbotapi.InlineKeyboardButton {
	return []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("..", "get_up"),
		tgbotapi.NewInlineKeyboardButtonData("Cancel", "get_cancel"),
	}
}

// pagerRow builds a ◀ n/m ▶ pagination row with the given callback prefix.
func pagerRow(prefix string, page, totalPages int, noop string) []tgbotapi.InlineKeyboardButton {
	var row []tgbotapi.InlineKeyboardButton
	if page > 0 {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("◀", fmt.Sprintf("%s:%d", prefix, page-1)))
	}
	row = append(row, tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%d/%d", page+1, totalPages), noop))
	if page < totalPages-1 {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("▶", fmt.Sprintf("%s:%d", prefix, page+1)))
	}
	return row
}

// processFileBrowserCallback demultiplexes get_* callbacks.
func (b *Bot) processFileBrowserCallback(cq *tgbotapi.CallbackQuery) {
	userID := cq.From.ID

	b.mu.RLock()
	fs, ok := b.fileBrowseStates[userID]
	b.mu.RUnlock()
	if !ok || b.threadID(cq.Message) != fs.ThreadID {
		return
	}

	data := cq.Data
	switch {
	case strings.HasPrefix(data, "get_sel:"):
		idx, err := strconv.Atoi(strings.TrimPrefix(data, "get_sel:"))
		if err != nil || idx < 0 || idx >= len(fs.Entries) {
			return
		}
		b.pickEntry(fs, userID, fs.Entries[idx])
	case strings.HasPrefix(data, "get_page:"):
		page, err := strconv.Atoi(strings.TrimPrefix(data, "get_page:"))
		if err != nil {
			return
		}
		b.repaintFilePicker(fs, fs.CurrentPath, page)
	case data == "get_up":
		parent := filepath.Dir(fs.CurrentPath)
		if parent != fs.CurrentPath {
			b.repaintFilePicker(fs, parent, 0)
		}
	case data == "get_cancel":
		b.mu.Lock()
		delete(b.fileBrowseStates, userID)
		b.mu.Unlock()
		b.editMessageText(fs.ChatID, fs.MessageID, "Cancelled.")
	case data == "get_noop":
	}
}

// pickEntry descends into a directory or uploads a file.
func (b *Bot) pickEntry(fs *FileBrowseState, userID int64, entry fileEntry) {
	fullPath := filepath.Join(fs.CurrentPath, entry.Name)

	if entry.IsDir {
		b.repaintFilePicker(fs, fullPath, 0)
		return
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		b.filePickerError(fs, fmt.Sprintf("Error: %v", err))
		return
	}
	if info.Size() > maxFetchSize {
		b.filePickerError(fs, fmt.Sprintf("File too large: %s (%d MB, limit is 50 MB)",
			entry.Name, info.Size()/(1024*1024)))
		return
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		b.filePickerError(fs, fmt.Sprintf("Error reading file: %v", err))
		return
	}

	if _, err := b.sendDocumentInThread(fs.ChatID, fs.ThreadID, data, entry.Name, tgbotapi.InlineKeyboardMarkup{}); err != nil {
		b.filePickerError(fs, fmt.Sprintf("Error sending file: %v", err))
		return
	}

	b.editMessageText(fs.ChatID, fs.MessageID, fmt.Sprintf("Sent: %s", entry.Name))
	b.mu.Lock()
	delete(b.fileBrowseStates, userID)
	b.mu.Unlock()
}

// repaintFilePicker redraws the picker message for a new directory or page.
func (b *Bot) repaintFilePicker(fs *FileBrowseState, dir string, page int) {
	view := buildFilePicker(dir, page)
	b.editMessageWithKeyboard(fs.ChatID, fs.MessageID, view.text, view.keyboard)

	b.mu.Lock()
	fs.CurrentPath = dir
	fs.Page = view.page
	fs.Entries = view.entries
	b.mu.Unlock()
}

// filePickerError redraws the current page with an error line on top,
// keeping the picker alive.
func (b *Bot) filePickerError(fs *FileBrowseState, errMsg string) {
	view := buildFilePicker(fs.CurrentPath, fs.Page)
	b.editMessageWithKeyboard(fs.ChatID, fs.MessageID, errMsg+"\n\n"+view.text, view.keyboard)

	b.mu.Lock()
	fs.Entries = view.entries
	b.mu.Unlock()
}
