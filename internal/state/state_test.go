package state

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewState(t *testing.T) {
	s := NewState()
	if s.ThreadBindings == nil || s.WindowStates == nil || s.GroupChatIDs == nil {
		t.Error("NewState should initialize all maps")
	}
}

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	s := NewState()
	s.BindThread("user1", "thread1", "@1")
	s.SetWindowState("@1", WindowState{
		SessionID:      "sess1",
		CWD:            "/tmp",
		WindowName:     "win1",
		TranscriptPath: "/tmp/t.jsonl",
		ProviderName:   "claude",
	})
	s.SetGroupChatID("user1", "thread1", -100123)
	s.SetWindowDisplayName("@1", "My Window")
	s.SetUserWindowOffset("user1", "@1", 42)
	s.StarDirectory("user1", "/tmp/proj")
	s.TouchDirectory("user1", "/tmp/other")

	if err := s.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	wid, ok := loaded.GetWindowForThread("user1", "thread1")
	if !ok || wid != "@1" {
		t.Errorf("GetWindowForThread = %q, %v", wid, ok)
	}

	ws, ok := loaded.GetWindowState("@1")
	if !ok || ws.SessionID != "sess1" {
		t.Errorf("GetWindowState = %v, %v", ws, ok)
	}
	if ws.TranscriptPath != "/tmp/t.jsonl" || ws.ProviderName != "claude" {
		t.Errorf("session fields lost: %+v", ws)
	}

	chatID, ok := loaded.GetGroupChatID("user1", "thread1")
	if !ok || chatID != -100123 {
		t.Errorf("GetGroupChatID = %d, %v", chatID, ok)
	}

	name, ok := loaded.GetWindowDisplayName("@1")
	if !ok || name != "My Window" {
		t.Errorf("GetWindowDisplayName = %q, %v", name, ok)
	}

	offset := loaded.GetUserWindowOffset("user1", "@1")
	if offset != 42 {
		t.Errorf("GetUserWindowOffset = %d, want 42", offset)
	}

	fav := loaded.Favorites("user1")
	if len(fav.Starred) != 1 || fav.Starred[0] != "/tmp/proj" {
		t.Errorf("Starred = %v", fav.Starred)
	}
	if len(fav.MRU) != 1 || fav.MRU[0] != "/tmp/other" {
		t.Errorf("MRU = %v", fav.MRU)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	s, err := Load("/nonexistent/path/state.json")
	if err != nil {
		t.Fatalf("Load non-existent: %v", err)
	}
	if s.ThreadBindings == nil {
		t.Error("maps should be initialized even from missing file")
	}
}

func TestBindUnbindThread(t *testing.T) {
	s := NewState()
	s.BindThread("u1", "t1", "@1")
	s.BindThread("u1", "t2", "@2")
	s.BindThread("u2", "t1", "@1")

	if wid, ok := s.GetWindowForThread("u1", "t1"); !ok || wid != "@1" {
		t.Errorf("u1/t1 = %q, %v", wid, ok)
	}
	if users := s.FindUsersForWindow("@1"); len(users) != 2 {
		t.Errorf("@1 should have 2 users, got %v", users)
	}

	s.UnbindThread("u1", "t1")

	if _, ok := s.GetWindowForThread("u1", "t1"); ok {
		t.Error("u1/t1 should be unbound")
	}
	if wid, _ := s.GetWindowForThread("u1", "t2"); wid != "@2" {
		t.Error("unbinding t1 must not touch u1's other threads")
	}
}

func TestBindThread_ReplacesExisting(t *testing.T) {
	s := NewState()
	s.BindThread("u1", "t1", "@1")
	s.BindThread("u1", "t1", "@2")

	wid, _ := s.GetWindowForThread("u1", "t1")
	if wid != "@2" {
		t.Errorf("rebinding should replace, got %q", wid)
	}
}

func TestRemoveWindowState_DropsAllWindowData(t *testing.T) {
	s := NewState()
	s.SetWindowState("@1", WindowState{SessionID: "s1"})
	s.SetWindowDisplayName("@1", "name")
	s.SetUserWindowOffset("u1", "@1", 100)

	s.RemoveWindowState("@1")

	if _, ok := s.GetWindowState("@1"); ok {
		t.Error("window state should be removed")
	}
	if _, ok := s.GetWindowDisplayName("@1"); ok {
		t.Error("display name should be removed")
	}
	if s.GetUserWindowOffset("u1", "@1") != 0 {
		t.Error("offset should be removed")
	}
}

func TestGroupChatIDs(t *testing.T) {
	s := NewState()
	s.SetGroupChatID("u1", "t1", -100)

	if id, ok := s.GetGroupChatID("u1", "t1"); !ok || id != -100 {
		t.Errorf("got %d, %v", id, ok)
	}

	s.RemoveGroupChatID("u1", "t1")
	if _, ok := s.GetGroupChatID("u1", "t1"); ok {
		t.Error("should be removed")
	}
}

func TestResolveChatID(t *testing.T) {
	s := NewState()
	if got := s.ResolveChatID("12345", "t1"); got != 12345 {
		t.Errorf("private chat fallback = %d, want 12345", got)
	}

	s.SetGroupChatID("12345", "t1", -100999)
	if got := s.ResolveChatID("12345", "t1"); got != -100999 {
		t.Errorf("group chat = %d, want -100999", got)
	}
}

func TestNotificationMode_Cycle(t *testing.T) {
	s := NewState()
	s.SetWindowState("@1", WindowState{SessionID: "s1"})

	if got := s.NotificationMode("@1"); got != NotifyAll {
		t.Errorf("default mode = %q, want %q", got, NotifyAll)
	}

	want := []string{NotifyErrorsOnly, NotifyMuted, NotifyAll, NotifyErrorsOnly}
	for _, w := range want {
		if got := s.CycleNotificationMode("@1"); got != w {
			t.Errorf("cycle = %q, want %q", got, w)
		}
	}
}

func TestAllBoundWindowIDs(t *testing.T) {
	s := NewState()
	s.BindThread("u1", "t1", "@1")
	s.BindThread("u2", "t2", "@2")
	s.BindThread("u1", "t3", "@1") // same window twice

	bound := s.AllBoundWindowIDs()
	if len(bound) != 2 || !bound["@1"] || !bound["@2"] {
		t.Errorf("want {@1,@2}, got %v", bound)
	}
}

func TestStarDirectory_Toggle(t *testing.T) {
	s := NewState()
	if !s.StarDirectory("u1", "/a") {
		t.Error("first call should star")
	}
	if s.StarDirectory("u1", "/a") {
		t.Error("second call should unstar")
	}
	if fav := s.Favorites("u1"); len(fav.Starred) != 0 {
		t.Errorf("Starred = %v", fav.Starred)
	}
}

func TestTouchDirectory_MRU(t *testing.T) {
	s := NewState()
	for i := 0; i < 15; i++ {
		s.TouchDirectory("u1", filepath.Join("/d", string(rune('a'+i))))
	}
	fav := s.Favorites("u1")
	if len(fav.MRU) != 10 {
		t.Fatalf("MRU should cap at 10, got %d", len(fav.MRU))
	}
	if fav.MRU[0] != "/d/o" {
		t.Errorf("most recent first, got %q", fav.MRU[0])
	}

	// Re-touching moves to front without duplicating.
	s.TouchDirectory("u1", fav.MRU[3])
	fav2 := s.Favorites("u1")
	if len(fav2.MRU) != 10 || fav2.MRU[0] != fav.MRU[3] {
		t.Errorf("MRU after re-touch = %v", fav2.MRU)
	}
}

func TestAtomicWriteJSON_ReplacesAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.json")

	if err := atomicWriteJSON(path, map[string]string{"key": "old"}); err != nil {
		t.Fatalf("atomicWriteJSON: %v", err)
	}
	if err := atomicWriteJSON(path, map[string]string{"key": "new"}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	var got map[string]string
	if err := loadJSON(path, &got); err != nil {
		t.Fatalf("loadJSON: %v", err)
	}
	if got["key"] != "new" {
		t.Errorf("got %v", got)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}
