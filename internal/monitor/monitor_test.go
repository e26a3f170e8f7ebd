package monitor

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/otaviocarvalho/ccbot/internal/provider"
	"github.com/otaviocarvalho/ccbot/internal/state"
)

type captured struct {
	messages     []provider.AgentMessage
	windows      []string
	added        []string
	addedEntries []state.SessionMapEntry
	replaced     []string
	removed      []string
	events       []state.HookEvent
}

func newTestMonitor(t *testing.T) (*Monitor, *captured, string) {
	t.Helper()
	dir := t.TempDir()
	cap := &captured{}

	m := New(Options{
		SessionMapPath:   filepath.Join(dir, "session_map.json"),
		EventsPath:       filepath.Join(dir, "events.jsonl"),
		MonitorStatePath: filepath.Join(dir, "monitor_state.json"),
		MonitorState:     state.NewMonitorState(),
		Registry:         provider.NewRegistry(),
		Callbacks: Callbacks{
			OnAgentMessage: func(windowID string, _ state.SessionMapEntry, msg provider.AgentMessage) {
				cap.messages = append(cap.messages, msg)
				cap.windows = append(cap.windows, windowID)
			},
			OnNewWindow: func(key string, entry state.SessionMapEntry) {
				cap.added = append(cap.added, key)
				cap.addedEntries = append(cap.addedEntries, entry)
			},
			OnSessionReplaced: func(key string, _, _ state.SessionMapEntry) {
				cap.replaced = append(cap.replaced, key)
			},
			OnWindowRemoved: func(key string, _ state.SessionMapEntry) {
				cap.removed = append(cap.removed, key)
			},
			OnHookEvent: func(ev state.HookEvent) {
				cap.events = append(cap.events, ev)
			},
		},
	})
	return m, cap, dir
}

func writeSessionMap(t *testing.T, dir string, entries map[string]state.SessionMapEntry) {
	t.Helper()
	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "session_map.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		t.Fatal(err)
	}
}

func TestPoll_IncrementalTranscript(t *testing.T) {
	m, cap, dir := newTestMonitor(t)

	transcript := filepath.Join(dir, "t.jsonl")
	appendLine(t, transcript, `{"type":"assistant","message":{"content":[{"type":"text","text":"first"}]}}`)

	writeSessionMap(t, dir, map[string]state.SessionMapEntry{
		"ccbot:@1": {SessionID: "s1", CWD: "/tmp", ProviderName: "claude", TranscriptPath: transcript},
	})

	// The first poll adopts the session at its current size; content
	// already on disk is history and stays out of the topic.
	m.poll()
	if len(cap.messages) != 0 {
		t.Fatalf("history replayed: %+v", cap.messages)
	}
	if len(cap.added) != 1 || cap.added[0] != "ccbot:@1" {
		t.Errorf("added = %v", cap.added)
	}

	// Appended line is picked up. Force an mtime change in case the
	// filesystem's resolution is coarse.
	appendLine(t, transcript, `{"type":"assistant","message":{"content":[{"type":"text","text":"second"}]}}`)
	future := time.Now().Add(2 * time.Second)
	os.Chtimes(transcript, future, future)
	m.poll()
	if len(cap.messages) != 1 || cap.messages[0].Text != "second" {
		t.Fatalf("messages = %+v", cap.messages)
	}
	if cap.windows[0] != "@1" {
		t.Errorf("window = %q", cap.windows[0])
	}

	// Another poll with no change delivers nothing.
	cap.messages = nil
	m.poll()
	if len(cap.messages) != 0 {
		t.Errorf("no new content expected, got %+v", cap.messages)
	}
}

func TestPoll_ResumedTranscriptHistorySkipped(t *testing.T) {
	m, cap, dir := newTestMonitor(t)

	transcript := filepath.Join(dir, "t.jsonl")
	appendLine(t, transcript, `{"type":"assistant","message":{"content":[{"type":"text","text":"earlier one"}]}}`)
	appendLine(t, transcript, `{"type":"assistant","message":{"content":[{"type":"text","text":"earlier two"}]}}`)

	writeSessionMap(t, dir, map[string]state.SessionMapEntry{
		"ccbot:@1": {SessionID: "s1", ProviderName: "claude", TranscriptPath: transcript},
	})

	m.poll()
	if len(cap.messages) != 0 {
		t.Fatalf("resumed history replayed: %+v", cap.messages)
	}
	tracked, ok := m.monitorState.GetTracked("s1")
	if !ok || tracked.LastByteOffset == 0 {
		t.Fatalf("offset not pinned at file size: %+v (ok=%v)", tracked, ok)
	}

	appendLine(t, transcript, `{"type":"assistant","message":{"content":[{"type":"text","text":"fresh"}]}}`)
	future := time.Now().Add(2 * time.Second)
	os.Chtimes(transcript, future, future)
	m.poll()
	if len(cap.messages) != 1 || cap.messages[0].Text != "fresh" {
		t.Errorf("messages = %+v", cap.messages)
	}
}

func TestPoll_PartialLineRetried(t *testing.T) {
	m, cap, dir := newTestMonitor(t)

	transcript := filepath.Join(dir, "t.jsonl")
	if err := os.WriteFile(transcript, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	writeSessionMap(t, dir, map[string]state.SessionMapEntry{
		"ccbot:@1": {SessionID: "s1", ProviderName: "claude", TranscriptPath: transcript},
	})
	m.poll() // adopt the empty transcript

	full := `{"type":"assistant","message":{"content":[{"type":"text","text":"done"}]}}` + "\n"
	partial := `{"type":"assistant","mess`
	if err := os.WriteFile(transcript, []byte(full+partial), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(2 * time.Second)
	os.Chtimes(transcript, future, future)

	m.poll()
	if len(cap.messages) != 1 || cap.messages[0].Text != "done" {
		t.Fatalf("messages = %+v", cap.messages)
	}
	tracked, _ := m.monitorState.GetTracked("s1")
	if tracked.LastByteOffset != int64(len(full)) {
		t.Errorf("offset = %d, want %d (partial line held back)", tracked.LastByteOffset, len(full))
	}

	// Completing the line delivers it.
	cap.messages = nil
	rest := `age":{"content":[{"type":"text","text":"late"}]}}` + "\n"
	if err := os.WriteFile(transcript, []byte(full+partial+rest), 0o644); err != nil {
		t.Fatal(err)
	}
	future = time.Now().Add(4 * time.Second)
	os.Chtimes(transcript, future, future)
	m.poll()
	if len(cap.messages) != 1 || cap.messages[0].Text != "late" {
		t.Errorf("messages = %+v", cap.messages)
	}
}

func TestPoll_TruncationResetsOffset(t *testing.T) {
	m, cap, dir := newTestMonitor(t)

	transcript := filepath.Join(dir, "t.jsonl")
	if err := os.WriteFile(transcript, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	writeSessionMap(t, dir, map[string]state.SessionMapEntry{
		"ccbot:@1": {SessionID: "s1", ProviderName: "claude", TranscriptPath: transcript},
	})
	m.poll() // adopt the empty transcript

	appendLine(t, transcript, `{"type":"assistant","message":{"content":[{"type":"text","text":"a long original answer"}]}}`)
	future := time.Now().Add(2 * time.Second)
	os.Chtimes(transcript, future, future)
	m.poll()
	if len(cap.messages) != 1 {
		t.Fatalf("messages = %+v", cap.messages)
	}

	// Shrink the file (as /clear does) and write fresh content.
	cap.messages = nil
	if err := os.WriteFile(transcript, []byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"new"}]}}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	future = time.Now().Add(4 * time.Second)
	os.Chtimes(transcript, future, future)

	m.poll()
	if len(cap.messages) != 1 || cap.messages[0].Text != "new" {
		t.Errorf("messages = %+v", cap.messages)
	}
}

func TestPoll_WholeFileProvider(t *testing.T) {
	m, cap, dir := newTestMonitor(t)

	transcript := filepath.Join(dir, "session.json")
	doc := `{"sessionId":"s1","messages":[{"role":"user","content":"hi"},{"role":"model","content":"hello"}]}`
	if err := os.WriteFile(transcript, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	writeSessionMap(t, dir, map[string]state.SessionMapEntry{
		"ccbot:@1": {SessionID: "s1", ProviderName: "gemini", TranscriptPath: transcript},
	})

	// First sighting adopts the document as history.
	m.poll()
	if len(cap.messages) != 0 {
		t.Fatalf("history replayed: %+v", cap.messages)
	}

	// The document grows by one message; only the new one is delivered.
	doc = `{"sessionId":"s1","messages":[{"role":"user","content":"hi"},{"role":"model","content":"hello"},{"role":"model","content":"more"}]}`
	if err := os.WriteFile(transcript, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(2 * time.Second)
	os.Chtimes(transcript, future, future)

	m.poll()
	if len(cap.messages) != 1 || cap.messages[0].Text != "more" {
		t.Errorf("messages = %+v", cap.messages)
	}
}

func TestPoll_WholeFileMalformedHoldsOffset(t *testing.T) {
	m, cap, dir := newTestMonitor(t)

	transcript := filepath.Join(dir, "session.json")
	doc := `{"sessionId":"s1","messages":[{"role":"model","content":"hello"}]}`
	if err := os.WriteFile(transcript, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	writeSessionMap(t, dir, map[string]state.SessionMapEntry{
		"ccbot:@1": {SessionID: "s1", ProviderName: "gemini", TranscriptPath: transcript},
	})
	m.poll() // adopt the one-message document

	doc = `{"sessionId":"s1","messages":[{"role":"model","content":"hello"},{"role":"model","content":"second"}]}`
	if err := os.WriteFile(transcript, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(2 * time.Second)
	os.Chtimes(transcript, future, future)
	m.poll()
	if len(cap.messages) != 1 || cap.messages[0].Text != "second" {
		t.Fatalf("messages = %+v", cap.messages)
	}

	// A torn write parses as nothing and must not advance the counter.
	cap.messages = nil
	if err := os.WriteFile(transcript, []byte(`{"messages":[trunc`), 0o644); err != nil {
		t.Fatal(err)
	}
	future = time.Now().Add(4 * time.Second)
	os.Chtimes(transcript, future, future)
	m.poll()
	if len(cap.messages) != 0 {
		t.Fatalf("messages = %+v", cap.messages)
	}

	// Once the write completes, only the genuinely new message lands.
	doc = `{"sessionId":"s1","messages":[{"role":"model","content":"hello"},{"role":"model","content":"second"},{"role":"model","content":"third"}]}`
	if err := os.WriteFile(transcript, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	future = time.Now().Add(6 * time.Second)
	os.Chtimes(transcript, future, future)

	m.poll()
	if len(cap.messages) != 1 || cap.messages[0].Text != "third" {
		t.Errorf("messages = %+v", cap.messages)
	}
}

func TestPoll_PrunesDeadWindowEntries(t *testing.T) {
	m, cap, dir := newTestMonitor(t)
	m.sessionName = "ccbot"
	live := []string{"@1"}
	m.listWindows = func() ([]string, error) { return live, nil }

	writeSessionMap(t, dir, map[string]state.SessionMapEntry{
		"ccbot:@1": {SessionID: "s1"},
		"ccbot:@2": {SessionID: "s2"},
	})

	// @2's window is already gone: its entry is pruned before it is ever
	// reported as new.
	m.poll()
	if len(cap.added) != 1 || cap.added[0] != "ccbot:@1" {
		t.Fatalf("added = %v", cap.added)
	}
	sm := state.ReadSessionMap(filepath.Join(dir, "session_map.json"))
	if len(sm) != 1 {
		t.Errorf("session map = %v, want only ccbot:@1", sm)
	}

	// @1's window dies next: entry pruned, removal reported.
	live = nil
	m.poll()
	if len(cap.removed) != 1 || cap.removed[0] != "ccbot:@1" {
		t.Errorf("removed = %v", cap.removed)
	}
	sm = state.ReadSessionMap(filepath.Join(dir, "session_map.json"))
	if len(sm) != 0 {
		t.Errorf("session map = %v, want empty", sm)
	}
}

func TestPoll_AnnouncesUnmappedLiveWindowOnce(t *testing.T) {
	m, cap, _ := newTestMonitor(t)
	m.sessionName = "ccbot"
	m.listWindows = func() ([]string, error) { return []string{"@7"}, nil }

	m.poll()
	m.poll()
	if len(cap.added) != 1 || cap.added[0] != "ccbot:@7" {
		t.Fatalf("added = %v", cap.added)
	}
	if cap.addedEntries[0].SessionID != "" {
		t.Errorf("unmapped window must carry no session, got %q", cap.addedEntries[0].SessionID)
	}
}

func TestPoll_SessionMapDiffing(t *testing.T) {
	m, cap, dir := newTestMonitor(t)

	writeSessionMap(t, dir, map[string]state.SessionMapEntry{
		"ccbot:@1": {SessionID: "s1"},
		"ccbot:@2": {SessionID: "s2"},
	})
	m.poll()
	if len(cap.added) != 2 {
		t.Fatalf("added = %v", cap.added)
	}

	// @1 gets a new session, @2 disappears.
	writeSessionMap(t, dir, map[string]state.SessionMapEntry{
		"ccbot:@1": {SessionID: "s1-new"},
	})
	m.poll()
	if len(cap.replaced) != 1 || cap.replaced[0] != "ccbot:@1" {
		t.Errorf("replaced = %v", cap.replaced)
	}
	if len(cap.removed) != 1 || cap.removed[0] != "ccbot:@2" {
		t.Errorf("removed = %v", cap.removed)
	}
}

func TestPoll_HookEvents(t *testing.T) {
	m, cap, dir := newTestMonitor(t)

	events := filepath.Join(dir, "events.jsonl")
	state.AppendEvent(events, state.HookEvent{TS: 1, Event: "SessionStart", WindowKey: "ccbot:@1", SessionID: "s1"})
	state.AppendEvent(events, state.HookEvent{TS: 2, Event: "Stop", WindowKey: "ccbot:@1", SessionID: "s1"})

	m.poll()
	if len(cap.events) != 2 || cap.events[1].Event != "Stop" {
		t.Fatalf("events = %+v", cap.events)
	}

	// Re-polling doesn't replay already-delivered events.
	cap.events = nil
	m.poll()
	if len(cap.events) != 0 {
		t.Errorf("events replayed: %+v", cap.events)
	}
}

func TestWindowIDFromSessionKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"ccbot:@5", "@5"},
		{"my:session:@12", "@12"},
		{"nodelimiter", ""},
	}
	for _, tt := range tests {
		if got := windowIDFromSessionKey(tt.key); got != tt.want {
			t.Errorf("windowIDFromSessionKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestTurnStarts(t *testing.T) {
	m, _, _ := newTestMonitor(t)

	if _, ok := m.GetAndClearTurnStart("@1"); ok {
		t.Error("no turn start recorded yet")
	}
	m.SetTurnStart("@1")
	start, ok := m.GetAndClearTurnStart("@1")
	if !ok || time.Since(start) > time.Minute {
		t.Errorf("start = %v ok = %v", start, ok)
	}
	if _, ok := m.GetAndClearTurnStart("@1"); ok {
		t.Error("turn start should be cleared after read")
	}
}
