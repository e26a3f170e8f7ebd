package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/otaviocarvalho/ccbot/internal/provider"
	"github.com/otaviocarvalho/ccbot/internal/state"
)

// Callbacks are invoked from the poll loop as transcript content and hook
// events arrive. Nil callbacks are skipped. All calls happen on the
// monitor goroutine.
type Callbacks struct {
	// OnAgentMessage fires for each new transcript message in a window.
	OnAgentMessage func(windowID string, entry state.SessionMapEntry, msg provider.AgentMessage)
	// OnNewWindow fires when a window key appears in the session map.
	OnNewWindow func(windowKey string, entry state.SessionMapEntry)
	// OnSessionReplaced fires when a window's session ID changes in place.
	OnSessionReplaced func(windowKey string, old, new state.SessionMapEntry)
	// OnWindowRemoved fires when a window key disappears from the session map.
	OnWindowRemoved func(windowKey string, entry state.SessionMapEntry)
	// OnHookEvent fires for each new line in events.jsonl.
	OnHookEvent func(ev state.HookEvent)
}

// Monitor polls agent transcript files and the hook event log, emitting
// typed callbacks for new content.
type Monitor struct {
	sessionMapPath   string
	eventsPath       string
	monitorStatePath string
	monitorState     *state.MonitorState
	registry         *provider.Registry
	callbacks        Callbacks
	pollInterval     time.Duration
	sessionName      string
	listWindows      func() ([]string, error)

	pendingTools   map[string]map[string]provider.PendingTool // sessionID → tool_use_id → tool
	fileMtimes     map[string]time.Time
	lastSessionMap map[string]state.SessionMapEntry
	announced      map[string]bool // unmapped live windows already reported

	activityMu   sync.Mutex
	lastActivity map[string]time.Time // windowID → last transcript write
	turnStarts   sync.Map             // windowID → time.Time
}

// Options configures a Monitor.
type Options struct {
	SessionMapPath   string
	EventsPath       string
	MonitorStatePath string
	MonitorState     *state.MonitorState
	Registry         *provider.Registry
	PollInterval     time.Duration
	Callbacks        Callbacks

	// SessionName and ListWindows let the monitor reconcile the session
	// map against live tmux windows. A nil ListWindows skips that step.
	SessionName string
	ListWindows func() ([]string, error)
}

// New creates a new Monitor.
func New(opts Options) *Monitor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	return &Monitor{
		sessionMapPath:   opts.SessionMapPath,
		eventsPath:       opts.EventsPath,
		monitorStatePath: opts.MonitorStatePath,
		monitorState:     opts.MonitorState,
		registry:         opts.Registry,
		callbacks:        opts.Callbacks,
		pollInterval:     opts.PollInterval,
		sessionName:      opts.SessionName,
		listWindows:      opts.ListWindows,
		pendingTools:     make(map[string]map[string]provider.PendingTool),
		fileMtimes:       make(map[string]time.Time),
		lastSessionMap:   make(map[string]state.SessionMapEntry),
		announced:        make(map[string]bool),
		lastActivity:     make(map[string]time.Time),
	}
}

// Run starts the monitor poll loop. Blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	log.Println("Session monitor starting...")
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.monitorState.ForceSave(m.monitorStatePath)
			log.Println("Session monitor stopped.")
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

func (m *Monitor) poll() {
	m.pollEvents()

	sm := state.ReadSessionMap(m.sessionMapPath)
	m.reconcileWindows(sm)
	m.detectChanges(sm)

	for key, entry := range sm {
		windowID := windowIDFromSessionKey(key)
		if windowID == "" || entry.SessionID == "" {
			continue
		}
		m.processSession(key, windowID, entry)
	}

	m.lastSessionMap = sm
	m.monitorState.SaveIfDirty(m.monitorStatePath)
}

func (m *Monitor) pollEvents() {
	events, offset, err := state.ReadEvents(m.eventsPath, m.monitorState.EventsOffset())
	if err != nil {
		log.Printf("Error reading event log: %v", err)
		return
	}
	if offset != m.monitorState.EventsOffset() {
		m.monitorState.SetEventsOffset(m.eventsPath, offset)
	}
	if m.callbacks.OnHookEvent == nil {
		return
	}
	for _, ev := range events {
		m.callbacks.OnHookEvent(ev)
	}
}

// reconcileWindows squares the session map with the live tmux windows:
// entries whose window is gone are pruned from the map file, and live
// windows the hook has not reported yet surface once as new windows with
// no session attached.
func (m *Monitor) reconcileWindows(sm map[string]state.SessionMapEntry) {
	if m.listWindows == nil {
		return
	}
	ids, err := m.listWindows()
	if err != nil {
		return
	}
	live := make(map[string]bool, len(ids))
	for _, id := range ids {
		live[id] = true
	}

	mapped := make(map[string]bool, len(sm))
	for key := range sm {
		windowID := windowIDFromSessionKey(key)
		if windowID == "" {
			continue
		}
		if live[windowID] {
			mapped[windowID] = true
			continue
		}
		if err := state.RemoveSessionMapEntry(m.sessionMapPath, key); err != nil {
			log.Printf("Error pruning session map entry %s: %v", key, err)
			continue
		}
		// detectChanges reports the removal against lastSessionMap.
		delete(sm, key)
	}

	for id := range live {
		if mapped[id] || m.announced[id] {
			continue
		}
		m.announced[id] = true
		if m.callbacks.OnNewWindow != nil {
			m.callbacks.OnNewWindow(m.sessionName+":"+id, state.SessionMapEntry{})
		}
	}
	for id := range m.announced {
		if !live[id] || mapped[id] {
			delete(m.announced, id)
		}
	}
}

func (m *Monitor) detectChanges(newMap map[string]state.SessionMapEntry) {
	for key, old := range m.lastSessionMap {
		cur, ok := newMap[key]
		switch {
		case !ok:
			m.forgetSession(old.SessionID)
			if m.callbacks.OnWindowRemoved != nil {
				m.callbacks.OnWindowRemoved(key, old)
			}
		case cur.SessionID != old.SessionID:
			m.forgetSession(old.SessionID)
			if m.callbacks.OnSessionReplaced != nil {
				m.callbacks.OnSessionReplaced(key, old, cur)
			}
		}
	}
	for key, cur := range newMap {
		if _, ok := m.lastSessionMap[key]; !ok {
			if m.callbacks.OnNewWindow != nil {
				m.callbacks.OnNewWindow(key, cur)
			}
		}
	}
}

func (m *Monitor) forgetSession(sessionID string) {
	m.monitorState.RemoveSession(sessionID)
	delete(m.pendingTools, sessionID)
}

func (m *Monitor) processSession(key, windowID string, entry state.SessionMapEntry) {
	p := m.registry.Get(entry.ProviderName)

	path := m.findTranscript(entry, p)
	if path == "" {
		return
	}
	if !m.hasFileChanged(path) {
		return
	}
	m.touchActivity(windowID)

	var msgs []provider.AgentMessage
	if p.Capabilities().SupportsIncremental {
		msgs = m.readIncremental(entry.SessionID, path, p)
	} else {
		msgs = m.readWholeFile(entry.SessionID, path, p)
	}

	if m.callbacks.OnAgentMessage == nil {
		return
	}
	for _, msg := range msgs {
		m.callbacks.OnAgentMessage(windowID, entry, msg)
	}
}

// readIncremental reads new complete lines from a JSONL transcript. The
// offset only advances past lines ending in a newline; a trailing partial
// write is retried on the next poll. The first time a session is seen its
// offset is pinned at the current file size, so a resumed transcript's
// history is never replayed into the topic.
func (m *Monitor) readIncremental(sessionID, path string, p provider.Provider) []provider.AgentMessage {
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}

	tracked, known := m.monitorState.GetTracked(sessionID)
	if !known {
		m.monitorState.UpdateOffset(sessionID, path, info.Size())
		return nil
	}
	offset := tracked.LastByteOffset
	if offset > info.Size() {
		offset = 0 // file was truncated (e.g. /clear)
	}
	if offset == info.Size() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, 0); err != nil {
			return nil
		}
	}
	data := make([]byte, info.Size()-offset)
	n, err := f.Read(data)
	if err != nil && n == 0 {
		return nil
	}
	data = data[:n]

	var entries []json.RawMessage
	for len(data) > 0 {
		nl := bytes.IndexByte(data, '\n')
		if nl < 0 {
			break // partial line, retry next poll
		}
		line := data[:nl]
		data = data[nl+1:]
		offset += int64(nl + 1)

		if entry, ok := p.ParseTranscriptLine(line); ok {
			entries = append(entries, entry)
		}
	}

	m.monitorState.UpdateOffset(sessionID, path, offset)
	if len(entries) == 0 {
		return nil
	}
	return p.ParseTranscriptEntries(entries, m.pending(sessionID))
}

// readWholeFile handles providers that rewrite a single JSON document per
// session. The offset counts messages already delivered. A document that
// fails to parse leaves the offset alone so nothing is skipped once the
// write completes.
func (m *Monitor) readWholeFile(sessionID, path string, p provider.Provider) []provider.AgentMessage {
	wf, ok := p.(provider.WholeFileParser)
	if !ok {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	entries, ok := wf.SplitSessionFile(data)
	if !ok {
		return nil
	}

	tracked, known := m.monitorState.GetTracked(sessionID)
	if !known {
		// First sighting: everything already in the document is history.
		m.monitorState.UpdateOffset(sessionID, path, int64(len(entries)))
		return nil
	}
	seen := tracked.LastByteOffset
	if seen > int64(len(entries)) {
		seen = 0 // session file was replaced
	}
	if seen == int64(len(entries)) {
		return nil
	}

	fresh := entries[seen:]
	m.monitorState.UpdateOffset(sessionID, path, int64(len(entries)))
	return p.ParseTranscriptEntries(fresh, m.pending(sessionID))
}

func (m *Monitor) pending(sessionID string) map[string]provider.PendingTool {
	if m.pendingTools[sessionID] == nil {
		m.pendingTools[sessionID] = make(map[string]provider.PendingTool)
	}
	return m.pendingTools[sessionID]
}

func (m *Monitor) hasFileChanged(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	mtime := info.ModTime()
	last, ok := m.fileMtimes[path]
	if ok && mtime.Equal(last) {
		return false
	}
	m.fileMtimes[path] = mtime
	return true
}

func (m *Monitor) touchActivity(windowID string) {
	m.activityMu.Lock()
	m.lastActivity[windowID] = time.Now()
	m.activityMu.Unlock()
}

// LastActivity returns when a window's transcript last changed.
func (m *Monitor) LastActivity(windowID string) (time.Time, bool) {
	m.activityMu.Lock()
	defer m.activityMu.Unlock()
	t, ok := m.lastActivity[windowID]
	return t, ok
}

// SetTurnStart records the start time of a user turn for a window.
func (m *Monitor) SetTurnStart(windowID string) {
	m.turnStarts.Store(windowID, time.Now())
}

// GetAndClearTurnStart returns the turn start time and clears it.
func (m *Monitor) GetAndClearTurnStart(windowID string) (time.Time, bool) {
	v, ok := m.turnStarts.LoadAndDelete(windowID)
	if !ok {
		return time.Time{}, false
	}
	return v.(time.Time), true
}

// findTranscript locates the transcript file for a session: the path the
// hook reported, then the cached path, then a scan of the provider's
// projects directory.
func (m *Monitor) findTranscript(entry state.SessionMapEntry, p provider.Provider) string {
	if entry.TranscriptPath != "" {
		if _, err := os.Stat(entry.TranscriptPath); err == nil {
			return entry.TranscriptPath
		}
	}

	if tracked, ok := m.monitorState.GetTracked(entry.SessionID); ok && tracked.FilePath != "" {
		if _, err := os.Stat(tracked.FilePath); err == nil {
			return tracked.FilePath
		}
	}

	return m.scanProjectsDir(entry.SessionID, p)
}

// scanProjectsDir searches the provider's projects directory for a
// transcript named after the session.
func (m *Monitor) scanProjectsDir(sessionID string, p provider.Provider) string {
	root := expandHome(p.Capabilities().ProjectsDir)
	if root == "" {
		return ""
	}
	dirs, err := os.ReadDir(root)
	if err != nil {
		return ""
	}

	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		projectDir := filepath.Join(root, dir.Name())

		if path := searchSessionsIndex(projectDir, sessionID); path != "" {
			return path
		}
		if path := searchTranscriptFiles(projectDir, sessionID); path != "" {
			return path
		}
	}
	return ""
}

func searchSessionsIndex(projectDir, sessionID string) string {
	data, err := os.ReadFile(filepath.Join(projectDir, "sessions-index.json"))
	if err != nil {
		return ""
	}
	var index map[string]json.RawMessage
	if err := json.Unmarshal(data, &index); err != nil {
		return ""
	}
	if _, ok := index[sessionID]; !ok {
		return ""
	}
	path := filepath.Join(projectDir, sessionID+".jsonl")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func searchTranscriptFiles(projectDir, sessionID string) string {
	for _, ext := range []string{".jsonl", ".json"} {
		matches, err := filepath.Glob(filepath.Join(projectDir, "*"+ext))
		if err != nil {
			continue
		}
		for _, match := range matches {
			base := filepath.Base(match)
			if strings.TrimSuffix(base, ext) == sessionID {
				return match
			}
		}
	}
	return ""
}

// windowIDFromSessionKey extracts window ID from session key ("sessionName:@N" → "@N").
func windowIDFromSessionKey(key string) string {
	idx := strings.LastIndex(key, ":")
	if idx < 0 {
		return ""
	}
	return key[idx+1:]
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
