package hook

import (
	"strings"
	"testing"
)

func TestReadInput_RejectsBadPayloads(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"malformed json", `{"session_id": `},
		{"unknown event", `{"session_id":"550e8400-e29b-41d4-a716-446655440000","cwd":"/work","hook_event_name":"PreToolUse"}`},
		{"invalid session id", `{"session_id":"nope","cwd":"/work","hook_event_name":"Stop"}`},
		{"relative cwd", `{"session_id":"550e8400-e29b-41d4-a716-446655440000","cwd":"work","hook_event_name":"Stop"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := readInput(strings.NewReader(tt.in)); ok {
				t.Error("input should be rejected")
			}
		})
	}
}

func TestReadInput_AcceptsValidEvent(t *testing.T) {
	in := `{"session_id":"550e8400-e29b-41d4-a716-446655440000","cwd":"/work/proj","hook_event_name":"SessionStart","transcript_path":"/tmp/t.jsonl"}`
	input, ok := readInput(strings.NewReader(in))
	if !ok {
		t.Fatal("valid input rejected")
	}
	if input.HookEventName != "SessionStart" || input.CWD != "/work/proj" {
		t.Errorf("input = %+v", input)
	}
}

func TestParseWindowInfo(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		session  string
		windowID string
		winName  string
		ok       bool
	}{
		{"plain", "ccbot\t@3\tbuild", "ccbot", "@3", "build", true},
		{"name with colon", "ccbot\t@3\tfeat: retry", "ccbot", "@3", "feat: retry", true},
		{"missing fields", "ccbot\t@3", "", "", "", false},
		{"empty", "", "", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, windowID, winName, ok := parseWindowInfo(tt.in)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if session != tt.session || windowID != tt.windowID || winName != tt.winName {
				t.Errorf("parsed %q/%q/%q", session, windowID, winName)
			}
		})
	}
}

func TestContainsMarker(t *testing.T) {
	tests := []struct {
		name    string
		entries []any
		want    bool
	}{
		{
			name:    "empty",
			entries: nil,
			want:    false,
		},
		{
			name: "installed",
			entries: []any{
				map[string]any{
					"type":    "command",
					"command": "/usr/bin/ccbot hook",
					"timeout": 5,
				},
			},
			want: true,
		},
		{
			name: "different hook",
			entries: []any{
				map[string]any{
					"type":    "command",
					"command": "some-other-hook",
				},
			},
			want: false,
		},
		{
			name: "mixed",
			entries: []any{
				map[string]any{"command": "some-other-hook"},
				map[string]any{"command": "/opt/bin/ccbot hook"},
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := containsMarker(tt.entries); got != tt.want {
				t.Errorf("containsMarker = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEventData(t *testing.T) {
	tests := []struct {
		name string
		in   hookInput
		want map[string]interface{}
	}{
		{
			name: "notification",
			in:   hookInput{HookEventName: "Notification", ToolName: "Bash", Message: "needs approval"},
			want: map[string]interface{}{"tool_name": "Bash", "message": "needs approval"},
		},
		{
			name: "stop",
			in:   hookInput{HookEventName: "Stop", StopReason: "end_turn", NumTurns: 4},
			want: map[string]interface{}{"stop_reason": "end_turn", "num_turns": 4},
		},
		{
			name: "subagent",
			in:   hookInput{HookEventName: "SubagentStart", SubagentID: "a1", Name: "explorer"},
			want: map[string]interface{}{"subagent_id": "a1", "name": "explorer"},
		},
		{
			name: "session start carries nothing",
			in:   hookInput{HookEventName: "SessionStart"},
			want: nil,
		},
		{
			name: "empty fields omitted",
			in:   hookInput{HookEventName: "Notification"},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := eventData(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("eventData = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("data[%q] = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestKnownEvent(t *testing.T) {
	for _, ev := range hookEvents {
		if !knownEvent(ev) {
			t.Errorf("%s should be known", ev)
		}
	}
	for _, ev := range []string{"PreToolUse", "PostToolUse", ""} {
		if knownEvent(ev) {
			t.Errorf("%s should not be known", ev)
		}
	}
}

func TestAsyncEvents(t *testing.T) {
	if !asyncEvents["SubagentStart"] || !asyncEvents["SubagentStop"] {
		t.Error("subagent events must run async")
	}
	if asyncEvents["Stop"] || asyncEvents["SessionStart"] {
		t.Error("only subagent events run async")
	}
}

func TestUUIDRegex(t *testing.T) {
	valid := []string{
		"550e8400-e29b-41d4-a716-446655440000",
		"00000000-0000-0000-0000-000000000000",
	}
	invalid := []string{
		"not-a-uuid",
		"550e8400-e29b-41d4-a716",
		"",
	}

	for _, s := range valid {
		if !uuidRegex.MatchString(s) {
			t.Errorf("%q should match UUID regex", s)
		}
	}
	for _, s := range invalid {
		if uuidRegex.MatchString(s) {
			t.Errorf("%q should not match UUID regex", s)
		}
	}
}

func TestDataDirDefault(t *testing.T) {
	t.Setenv("CCBOT_DIR", "/custom/dir")
	if got := dataDir(); got != "/custom/dir" {
		t.Errorf("dataDir = %q", got)
	}

	t.Setenv("CCBOT_DIR", "")
	t.Setenv("HOME", "/home/u")
	if got := dataDir(); got != "/home/u/.ccbot" {
		t.Errorf("dataDir = %q", got)
	}
}
