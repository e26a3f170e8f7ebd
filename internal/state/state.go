package state

import (
	"fmt"
	"strconv"
	"sync"
)

// Notification modes for a window's topic.
const (
	NotifyAll        = "all"
	NotifyErrorsOnly = "errors_only"
	NotifyMuted      = "muted"
)

const mruLimit = 10

// WindowState holds session info for a bound window.
type WindowState struct {
	SessionID        string `json:"session_id"`
	CWD              string `json:"cwd"`
	WindowName       string `json:"window_name"`
	TranscriptPath   string `json:"transcript_path,omitempty"`
	ProviderName     string `json:"provider_name,omitempty"`
	NotificationMode string `json:"notification_mode,omitempty"`
}

// DirFavorites holds a user's starred and recently used directories.
type DirFavorites struct {
	Starred []string `json:"starred"`
	MRU     []string `json:"mru"`
}

// UserThread identifies a user+thread binding.
type UserThread struct {
	UserID   string
	ThreadID string
}

// State is the main application state, persisted as state.json.
// User and thread IDs are string keys so the JSON form is stable.
type State struct {
	mu                 sync.RWMutex
	ThreadBindings     map[string]map[string]string `json:"thread_bindings"`      // user_id → thread_id → window_id
	WindowStates       map[string]WindowState       `json:"window_states"`        // window_id → state
	WindowDisplayNames map[string]string            `json:"window_display_names"` // window_id → display_name
	UserWindowOffsets  map[string]map[string]int64  `json:"user_window_offsets"`  // user_id → window_id → byte_offset
	GroupChatIDs       map[string]int64             `json:"group_chat_ids"`       // "user_id:thread_id" → chat_id
	UserDirFavorites   map[string]*DirFavorites     `json:"user_dir_favorites"`   // user_id → favorites
}

// NewState creates a new empty state.
func NewState() *State {
	return &State{
		ThreadBindings:     make(map[string]map[string]string),
		WindowStates:       make(map[string]WindowState),
		WindowDisplayNames: make(map[string]string),
		UserWindowOffsets:  make(map[string]map[string]int64),
		GroupChatIDs:       make(map[string]int64),
		UserDirFavorites:   make(map[string]*DirFavorites),
	}
}

// Load reads state from a JSON file. Returns empty state if file doesn't exist.
func Load(path string) (*State, error) {
	s := NewState()
	if err := loadJSON(path, s); err != nil {
		return nil, err
	}
	if s.ThreadBindings == nil {
		s.ThreadBindings = make(map[string]map[string]string)
	}
	if s.WindowStates == nil {
		s.WindowStates = make(map[string]WindowState)
	}
	if s.WindowDisplayNames == nil {
		s.WindowDisplayNames = make(map[string]string)
	}
	if s.UserWindowOffsets == nil {
		s.UserWindowOffsets = make(map[string]map[string]int64)
	}
	if s.GroupChatIDs == nil {
		s.GroupChatIDs = make(map[string]int64)
	}
	if s.UserDirFavorites == nil {
		s.UserDirFavorites = make(map[string]*DirFavorites)
	}
	return s, nil
}

// Save writes state to a JSON file atomically.
func (s *State) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return atomicWriteJSON(path, s)
}

// BindThread binds a thread to a window for a user. Replaces any existing
// binding for that thread; the previous window is left alive.
func (s *State) BindThread(userID, threadID, windowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ThreadBindings[userID] == nil {
		s.ThreadBindings[userID] = make(map[string]string)
	}
	s.ThreadBindings[userID][threadID] = windowID
}

// UnbindThread removes a thread binding for a user.
func (s *State) UnbindThread(userID, threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.ThreadBindings[userID]; m != nil {
		delete(m, threadID)
		if len(m) == 0 {
			delete(s.ThreadBindings, userID)
		}
	}
}

// GetWindowForThread returns the window ID bound to a thread, if any.
func (s *State) GetWindowForThread(userID, threadID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m := s.ThreadBindings[userID]; m != nil {
		wid, ok := m[threadID]
		return wid, ok
	}
	return "", false
}

// FindUsersForWindow returns all (userID, threadID) pairs bound to a window.
func (s *State) FindUsersForWindow(windowID string) []UserThread {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []UserThread
	for uid, threads := range s.ThreadBindings {
		for tid, wid := range threads {
			if wid == windowID {
				result = append(result, UserThread{UserID: uid, ThreadID: tid})
			}
		}
	}
	return result
}

// IterThreadBindings returns a snapshot of all bindings.
func (s *State) IterThreadBindings() []struct {
	UserID, ThreadID, WindowID string
} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []struct{ UserID, ThreadID, WindowID string }
	for uid, threads := range s.ThreadBindings {
		for tid, wid := range threads {
			out = append(out, struct{ UserID, ThreadID, WindowID string }{uid, tid, wid})
		}
	}
	return out
}

// AllUserIDs returns all user IDs with at least one binding.
func (s *State) AllUserIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.ThreadBindings))
	for uid := range s.ThreadBindings {
		ids = append(ids, uid)
	}
	return ids
}

// SetWindowState sets the state for a window.
func (s *State) SetWindowState(windowID string, ws WindowState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WindowStates[windowID] = ws
}

// GetWindowState returns the state for a window.
func (s *State) GetWindowState(windowID string) (WindowState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.WindowStates[windowID]
	return ws, ok
}

// RemoveWindowState removes all state for a window.
func (s *State) RemoveWindowState(windowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.WindowStates, windowID)
	delete(s.WindowDisplayNames, windowID)
	for uid := range s.UserWindowOffsets {
		delete(s.UserWindowOffsets[uid], windowID)
		if len(s.UserWindowOffsets[uid]) == 0 {
			delete(s.UserWindowOffsets, uid)
		}
	}
}

// SetWindowProvider records the provider running in a window.
func (s *State) SetWindowProvider(windowID, providerName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws := s.WindowStates[windowID]
	ws.ProviderName = providerName
	s.WindowStates[windowID] = ws
}

// GetWindowProvider returns the provider name for a window ("" if unset).
func (s *State) GetWindowProvider(windowID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.WindowStates[windowID].ProviderName
}

// NotificationMode returns the window's notification mode (default all).
func (s *State) NotificationMode(windowID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if mode := s.WindowStates[windowID].NotificationMode; mode != "" {
		return mode
	}
	return NotifyAll
}

// CycleNotificationMode advances all → errors_only → muted → all and
// returns the new mode.
func (s *State) CycleNotificationMode(windowID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws := s.WindowStates[windowID]
	switch ws.NotificationMode {
	case NotifyAll, "":
		ws.NotificationMode = NotifyErrorsOnly
	case NotifyErrorsOnly:
		ws.NotificationMode = NotifyMuted
	default:
		ws.NotificationMode = NotifyAll
	}
	s.WindowStates[windowID] = ws
	return ws.NotificationMode
}

// SetGroupChatID stores the group chat ID for a user+thread.
func (s *State) SetGroupChatID(userID, threadID string, chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GroupChatIDs[groupKey(userID, threadID)] = chatID
}

// GetGroupChatID returns the group chat ID for a user+thread.
func (s *State) GetGroupChatID(userID, threadID string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.GroupChatIDs[groupKey(userID, threadID)]
	return id, ok
}

// RemoveGroupChatID removes the group chat ID for a user+thread.
func (s *State) RemoveGroupChatID(userID, threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.GroupChatIDs, groupKey(userID, threadID))
}

// ResolveChatID returns the chat to send to for a user+thread: the stored
// group chat if the topic lives in a group, otherwise the user's own chat.
func (s *State) ResolveChatID(userID, threadID string) int64 {
	if id, ok := s.GetGroupChatID(userID, threadID); ok {
		return id
	}
	uid, _ := strconv.ParseInt(userID, 10, 64)
	return uid
}

// SetWindowDisplayName sets the display name for a window.
func (s *State) SetWindowDisplayName(windowID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WindowDisplayNames[windowID] = name
}

// GetWindowDisplayName returns the display name for a window.
func (s *State) GetWindowDisplayName(windowID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.WindowDisplayNames[windowID]
	return n, ok
}

// SetUserWindowOffset sets the /history byte offset for a user+window.
func (s *State) SetUserWindowOffset(userID, windowID string, offset int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UserWindowOffsets[userID] == nil {
		s.UserWindowOffsets[userID] = make(map[string]int64)
	}
	s.UserWindowOffsets[userID][windowID] = offset
}

// GetUserWindowOffset returns the /history byte offset for a user+window.
func (s *State) GetUserWindowOffset(userID, windowID string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m := s.UserWindowOffsets[userID]; m != nil {
		return m[windowID]
	}
	return 0
}

// AllBoundWindowIDs returns all window IDs currently bound to any thread.
func (s *State) AllBoundWindowIDs() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]bool)
	for _, threads := range s.ThreadBindings {
		for _, wid := range threads {
			result[wid] = true
		}
	}
	return result
}

// StarDirectory toggles a directory in the user's starred list. Returns
// true when the directory is starred after the call.
func (s *State) StarDirectory(userID, path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	fav := s.favorites(userID)
	for i, p := range fav.Starred {
		if p == path {
			fav.Starred = append(fav.Starred[:i], fav.Starred[i+1:]...)
			return false
		}
	}
	fav.Starred = append(fav.Starred, path)
	return true
}

// TouchDirectory records a directory at the front of the user's MRU list.
func (s *State) TouchDirectory(userID, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fav := s.favorites(userID)
	mru := []string{path}
	for _, p := range fav.MRU {
		if p != path && len(mru) < mruLimit {
			mru = append(mru, p)
		}
	}
	fav.MRU = mru
}

// Favorites returns a copy of the user's directory favorites.
func (s *State) Favorites(userID string) DirFavorites {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fav, ok := s.UserDirFavorites[userID]
	if !ok {
		return DirFavorites{}
	}
	out := DirFavorites{
		Starred: append([]string(nil), fav.Starred...),
		MRU:     append([]string(nil), fav.MRU...),
	}
	return out
}

// favorites returns the mutable favorites entry for a user. Callers hold mu.
func (s *State) favorites(userID string) *DirFavorites {
	fav, ok := s.UserDirFavorites[userID]
	if !ok {
		fav = &DirFavorites{}
		s.UserDirFavorites[userID] = fav
	}
	return fav
}

func groupKey(userID, threadID string) string {
	return fmt.Sprintf("%s:%s", userID, threadID)
}
