package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestMonitorState_NewEmpty(t *testing.T) {
	ms := NewMonitorState()
	if ms.IsDirty() {
		t.Error("new state should not be dirty")
	}
	if len(ms.AllSessionIDs()) != 0 {
		t.Error("new state should track nothing")
	}
}

func TestMonitorState_UpdateAndSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "monitor_state.json")

	ms := NewMonitorState()
	ms.UpdateOffset("sess1", "/path/to/file.jsonl", 1024)

	if !ms.IsDirty() {
		t.Error("should be dirty after update")
	}

	ts, ok := ms.GetTracked("sess1")
	if !ok {
		t.Fatal("sess1 not found")
	}
	if ts.FilePath != "/path/to/file.jsonl" || ts.LastByteOffset != 1024 {
		t.Errorf("unexpected: %+v", ts)
	}

	if err := ms.SaveIfDirty(path); err != nil {
		t.Fatalf("SaveIfDirty: %v", err)
	}

	if ms.IsDirty() {
		t.Error("should not be dirty after save")
	}

	// SaveIfDirty again should be a no-op
	if err := ms.SaveIfDirty(path); err != nil {
		t.Fatalf("SaveIfDirty (no-op): %v", err)
	}
}

func TestMonitorState_FileIsFlatMap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "monitor_state.json")

	ms := NewMonitorState()
	ms.UpdateOffset("sess1", "/file.jsonl", 512)
	if err := ms.ForceSave(path); err != nil {
		t.Fatalf("ForceSave: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]struct {
		FilePath       string `json:"file_path"`
		LastByteOffset int64  `json:"last_byte_offset"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("file should be a flat session map: %v", err)
	}
	if doc["sess1"].LastByteOffset != 512 {
		t.Errorf("doc = %+v", doc)
	}
}

func TestMonitorState_LoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "monitor_state.json")

	ms := NewMonitorState()
	ms.UpdateOffset("sess1", "/file.jsonl", 2048)
	ms.ForceSave(path)

	loaded, err := LoadMonitorState(path)
	if err != nil {
		t.Fatalf("LoadMonitorState: %v", err)
	}

	ts, ok := loaded.GetTracked("sess1")
	if !ok || ts.LastByteOffset != 2048 {
		t.Errorf("expected 2048, got %+v", ts)
	}
}

func TestMonitorState_RemoveSession(t *testing.T) {
	ms := NewMonitorState()
	ms.UpdateOffset("sess1", "/f.jsonl", 100)
	ms.dirty = false // reset

	ms.RemoveSession("sess1")
	if !ms.IsDirty() {
		t.Error("should be dirty after remove")
	}

	_, ok := ms.GetTracked("sess1")
	if ok {
		t.Error("sess1 should be removed")
	}

	// Remove non-existent should not mark dirty again
	ms.dirty = false
	ms.RemoveSession("nonexistent")
	if ms.IsDirty() {
		t.Error("should not be dirty after removing non-existent")
	}
}

func TestMonitorState_EventsOffset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "monitor_state.json")

	ms := NewMonitorState()
	if ms.EventsOffset() != 0 {
		t.Error("events offset should start at zero")
	}
	ms.UpdateOffset("sess1", "/a.jsonl", 10)
	ms.SetEventsOffset("/events.jsonl", 333)

	ids := ms.AllSessionIDs()
	if len(ids) != 1 || ids[0] != "sess1" {
		t.Errorf("events key must not appear as a session: %v", ids)
	}

	ms.ForceSave(path)
	loaded, err := LoadMonitorState(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.EventsOffset() != 333 {
		t.Errorf("events offset = %d, want 333", loaded.EventsOffset())
	}
}

func TestMonitorState_LoadMissing(t *testing.T) {
	ms, err := LoadMonitorState("/nonexistent/monitor_state.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms.IsDirty() {
		t.Error("fresh state should not be dirty")
	}
}
