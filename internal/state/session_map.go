package state

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gofrs/flock"
)

// SessionMapEntry is the per-window record written by the hook binary and
// read by the monitor. Keys in the map are "<tmux_session>:<window_id>".
type SessionMapEntry struct {
	SessionID      string `json:"session_id"`
	CWD            string `json:"cwd"`
	WindowName     string `json:"window_name"`
	TranscriptPath string `json:"transcript_path,omitempty"`
	ProviderName   string `json:"provider_name,omitempty"`
}

// WindowKey builds a session map key from a tmux session and window ID.
func WindowKey(tmuxSession, windowID string) string {
	return fmt.Sprintf("%s:%s", tmuxSession, windowID)
}

// ReadSessionMap reads the session map file. Returns an empty map if the
// file doesn't exist or can't be parsed.
func ReadSessionMap(path string) map[string]SessionMapEntry {
	m := make(map[string]SessionMapEntry)
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return m
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return make(map[string]SessionMapEntry)
	}
	return m
}

// ReadModifyWriteSessionMap applies modify to the session map under an
// exclusive file lock, then writes it back atomically. The hook binary and
// the bot both go through this, so the lock spans the whole cycle.
func ReadModifyWriteSessionMap(path string, modify func(map[string]SessionMapEntry)) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking session map: %w", err)
	}
	defer lock.Unlock()

	m := ReadSessionMap(path)
	modify(m)
	return atomicWriteJSON(path, m)
}

// UpsertSessionMapEntry inserts or updates one window's entry.
func UpsertSessionMapEntry(path, key string, entry SessionMapEntry) error {
	return ReadModifyWriteSessionMap(path, func(m map[string]SessionMapEntry) {
		m[key] = entry
	})
}

// RemoveSessionMapEntry removes an entry by key. No-op if absent.
func RemoveSessionMapEntry(path, key string) error {
	return ReadModifyWriteSessionMap(path, func(m map[string]SessionMapEntry) {
		delete(m, key)
	})
}

// PruneSessionMap drops entries whose window key is not in live. Used at
// startup to reconcile with windows that died while the bot was down.
func PruneSessionMap(path string, live map[string]bool) error {
	return ReadModifyWriteSessionMap(path, func(m map[string]SessionMapEntry) {
		for key := range m {
			if !live[key] {
				delete(m, key)
			}
		}
	})
}
