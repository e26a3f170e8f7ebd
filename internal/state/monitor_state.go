package state

import (
	"sync"
)

// eventsKey is the reserved pseudo-session key that tracks the read
// offset into events.jsonl. Real session IDs are UUIDs, so it can't
// collide.
const eventsKey = "_events"

// TrackedSession records how far into a transcript file the monitor has
// read. For whole-file providers the offset counts messages, not bytes.
type TrackedSession struct {
	FilePath       string `json:"file_path"`
	LastByteOffset int64  `json:"last_byte_offset"`
}

// MonitorState persists per-session read offsets across restarts. The
// file is a flat map keyed by session ID.
type MonitorState struct {
	mu       sync.Mutex
	sessions map[string]TrackedSession
	dirty    bool
}

// NewMonitorState creates a new empty MonitorState.
func NewMonitorState() *MonitorState {
	return &MonitorState{
		sessions: make(map[string]TrackedSession),
	}
}

// LoadMonitorState reads monitor state from a JSON file.
func LoadMonitorState(path string) (*MonitorState, error) {
	ms := NewMonitorState()
	if err := loadJSON(path, &ms.sessions); err != nil {
		return nil, err
	}
	if ms.sessions == nil {
		ms.sessions = make(map[string]TrackedSession)
	}
	return ms, nil
}

// SaveIfDirty saves the monitor state only if it has been modified.
func (ms *MonitorState) SaveIfDirty(path string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if !ms.dirty {
		return nil
	}
	if err := atomicWriteJSON(path, ms.sessions); err != nil {
		return err
	}
	ms.dirty = false
	return nil
}

// ForceSave saves the monitor state regardless of dirty flag.
func (ms *MonitorState) ForceSave(path string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := atomicWriteJSON(path, ms.sessions); err != nil {
		return err
	}
	ms.dirty = false
	return nil
}

// UpdateOffset updates the read offset for a session.
func (ms *MonitorState) UpdateOffset(sessionID, filePath string, offset int64) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.sessions[sessionID] = TrackedSession{
		FilePath:       filePath,
		LastByteOffset: offset,
	}
	ms.dirty = true
}

// GetTracked returns a tracked session by ID.
func (ms *MonitorState) GetTracked(sessionID string) (TrackedSession, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ts, ok := ms.sessions[sessionID]
	return ts, ok
}

// RemoveSession removes a tracked session.
func (ms *MonitorState) RemoveSession(sessionID string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.sessions[sessionID]; ok {
		delete(ms.sessions, sessionID)
		ms.dirty = true
	}
}

// AllSessionIDs returns all tracked session IDs, excluding the events key.
func (ms *MonitorState) AllSessionIDs() []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ids := make([]string, 0, len(ms.sessions))
	for id := range ms.sessions {
		if id != eventsKey {
			ids = append(ids, id)
		}
	}
	return ids
}

// EventsOffset returns the persisted read offset into events.jsonl.
func (ms *MonitorState) EventsOffset() int64 {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.sessions[eventsKey].LastByteOffset
}

// SetEventsOffset records the read offset into events.jsonl.
func (ms *MonitorState) SetEventsOffset(path string, offset int64) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.sessions[eventsKey] = TrackedSession{FilePath: path, LastByteOffset: offset}
	ms.dirty = true
}

// IsDirty returns whether the state has been modified since last save.
func (ms *MonitorState) IsDirty() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.dirty
}
