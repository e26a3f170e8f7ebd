package bot

import (
	"os"
	"path/filepath"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// keyboardHasCallback reports whether any button in kb carries data.
func keyboardHasCallback(kb tgbotapi.InlineKeyboardMarkup, data string) bool {
	for _, row := range kb.InlineKeyboard {
		for _, btn := range row {
			if btn.CallbackData != nil && *btn.CallbackData == data {
				return true
			}
		}
	}
	return false
}

func TestBuildDirectoryBrowser_ListsDirs(t *testing.T) {
	b := newTestBot(t)
	dir := t.TempDir()
	os.Mkdir(filepath.Join(dir, "alpha"), 0o755)
	os.Mkdir(filepath.Join(dir, "beta"), 0o755)
	os.Mkdir(filepath.Join(dir, ".hidden"), 0o755) // should be excluded
	os.WriteFile(filepath.Join(dir, "file.txt"), []byte("hi"), 0o644)

	text, kb, dirs, _ := b.buildDirectoryBrowser(100, dir, 0)

	if len(dirs) != 2 {
		t.Fatalf("expected 2 dirs, got %d: %v", len(dirs), dirs)
	}
	if dirs[0] != "alpha" || dirs[1] != "beta" {
		t.Errorf("dirs should be [alpha, beta], got %v", dirs)
	}
	if text == "" {
		t.Error("text should not be empty")
	}
	if len(kb.InlineKeyboard) == 0 {
		t.Error("keyboard should have rows")
	}
}

func TestBuildDirectoryBrowser_Pagination(t *testing.T) {
	b := newTestBot(t)
	dir := t.TempDir()
	// Create 8 directories to trigger pagination (dirsPerPage = 6)
	for i := 0; i < 8; i++ {
		os.Mkdir(filepath.Join(dir, "dir"+string(rune('a'+i))), 0o755)
	}

	_, kb, dirs, _ := b.buildDirectoryBrowser(100, dir, 0)
	if len(dirs) != 8 {
		t.Fatalf("expected 8 dirs, got %d", len(dirs))
	}
	if !keyboardHasCallback(kb, "dir_page:1") {
		t.Error("page 1 should offer a forward button")
	}

	_, kb2, _, _ := b.buildDirectoryBrowser(100, dir, 1)
	if !keyboardHasCallback(kb2, "dir_page:0") {
		t.Error("page 2 should offer a back button")
	}
}

func TestBuildDirectoryBrowser_EmptyDir(t *testing.T) {
	b := newTestBot(t)
	dir := t.TempDir()

	text, kb, dirs, _ := b.buildDirectoryBrowser(100, dir, 0)
	if len(dirs) != 0 {
		t.Errorf("expected 0 dirs, got %d", len(dirs))
	}
	if text == "" {
		t.Error("text should not be empty")
	}
	// Should still have action row (.. | star | Select | Cancel)
	if len(kb.InlineKeyboard) == 0 {
		t.Error("keyboard should have action row")
	}
}

func TestBuildDirectoryBrowser_InvalidPath(t *testing.T) {
	b := newTestBot(t)
	text, _, dirs, _ := b.buildDirectoryBrowser(100, "/nonexistent/path/that/does/not/exist", 0)
	if dirs != nil {
		t.Error("dirs should be nil for invalid path")
	}
	if text == "" {
		t.Error("should return error text")
	}
}

func TestBuildDirectoryBrowser_ActionRow(t *testing.T) {
	b := newTestBot(t)
	dir := t.TempDir()
	os.Mkdir(filepath.Join(dir, "sub"), 0o755)

	_, kb, _, _ := b.buildDirectoryBrowser(100, dir, 0)

	// Last row should be the action row
	lastRow := kb.InlineKeyboard[len(kb.InlineKeyboard)-1]
	if len(lastRow) != 4 {
		t.Fatalf("action row should have 4 buttons, got %d", len(lastRow))
	}

	expected := []string{"dir_up", "dir_star", "dir_confirm", "dir_cancel"}
	for i, btn := range lastRow {
		if btn.CallbackData == nil || *btn.CallbackData != expected[i] {
			t.Errorf("action button %d: got %v, want %s", i, btn.CallbackData, expected[i])
		}
	}
}

func TestBuildDirectoryBrowser_FavoriteRows(t *testing.T) {
	b := newTestBot(t)
	dir := t.TempDir()
	starred := t.TempDir()
	recent := t.TempDir()

	b.state.StarDirectory("100", starred)
	b.state.TouchDirectory("100", recent)

	_, kb, _, favs := b.buildDirectoryBrowser(100, dir, 0)
	if len(favs) != 2 {
		t.Fatalf("expected 2 favorites, got %d: %v", len(favs), favs)
	}
	if favs[0] != starred {
		t.Errorf("starred dir should come first, got %v", favs)
	}

	// First two keyboard rows should be favorite jump buttons
	for i := 0; i < 2; i++ {
		row := kb.InlineKeyboard[i]
		if len(row) != 1 {
			t.Fatalf("favorite row %d should have 1 button, got %d", i, len(row))
		}
		want := "dir_fav:" + string(rune('0'+i))
		if row[0].CallbackData == nil || *row[0].CallbackData != want {
			t.Errorf("favorite row %d: got %v, want %s", i, row[0].CallbackData, want)
		}
	}
}

func TestFavoritePaths_CapAndDedupe(t *testing.T) {
	b := newTestBot(t)

	// Same path starred and touched should appear once
	b.state.StarDirectory("100", "/p/one")
	b.state.TouchDirectory("100", "/p/one")
	b.state.TouchDirectory("100", "/p/two")
	b.state.TouchDirectory("100", "/p/three")
	b.state.TouchDirectory("100", "/p/four")
	b.state.TouchDirectory("100", "/p/five")

	favs := b.favoritePaths(100)
	if len(favs) != maxFavorites {
		t.Fatalf("expected %d favorites, got %d: %v", maxFavorites, len(favs), favs)
	}
	seen := make(map[string]bool)
	for _, p := range favs {
		if seen[p] {
			t.Errorf("duplicate favorite %q", p)
		}
		seen[p] = true
	}
	if favs[0] != "/p/one" {
		t.Errorf("starred path should lead, got %v", favs)
	}
}

func TestIsStarred_Toggle(t *testing.T) {
	b := newTestBot(t)

	if b.isStarred(100, "/p/x") {
		t.Error("fresh state should have nothing starred")
	}
	b.state.StarDirectory("100", "/p/x")
	if !b.isStarred(100, "/p/x") {
		t.Error("path should be starred after StarDirectory")
	}
	b.state.StarDirectory("100", "/p/x") // toggle off
	if b.isStarred(100, "/p/x") {
		t.Error("second StarDirectory should unstar")
	}
}

func TestTruncateName(t *testing.T) {
	tests := []struct {
		name   string
		maxLen int
		want   string
	}{
		{"short", 13, "short"},
		{"exactly13char", 13, "exactly13char"},
		{"this-is-a-very-long-name", 13, "this-is-a-ve…"},
		{"ab", 3, "ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateName(tt.name, tt.maxLen)
			if got != tt.want {
				t.Errorf("truncateName(%q, %d) = %q, want %q", tt.name, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestShortenPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		path string
		want string
	}{
		{home + "/code/project", "~/code/project"},
		{"/tmp/foo", "/tmp/foo"},
		{home, "~"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := shortenPath(tt.path)
			if got != tt.want {
				t.Errorf("shortenPath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestBuildDirectoryBrowser_SortedAlphabetically(t *testing.T) {
	b := newTestBot(t)
	dir := t.TempDir()
	for _, name := range []string{"zebra", "apple", "mango"} {
		os.Mkdir(filepath.Join(dir, name), 0o755)
	}

	_, _, dirs, _ := b.buildDirectoryBrowser(100, dir, 0)
	want := []string{"apple", "mango", "zebra"}
	if len(dirs) != 3 || dirs[0] != want[0] || dirs[1] != want[1] || dirs[2] != want[2] {
		t.Errorf("dirs = %v, want %v", dirs, want)
	}
}

func TestBuildDirectoryBrowser_PageBounds(t *testing.T) {
	b := newTestBot(t)
	dir := t.TempDir()
	os.Mkdir(filepath.Join(dir, "a"), 0o755)

	for _, page := range []int{-1, 999} {
		if _, _, dirs, _ := b.buildDirectoryBrowser(100, dir, page); len(dirs) != 1 {
			t.Errorf("page %d should clamp and list 1 dir, got %d", page, len(dirs))
		}
	}
}
