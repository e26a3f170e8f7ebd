package provider

import (
	"strings"
	"testing"
)

func TestGemini_PaneTitleStatus(t *testing.T) {
	g := NewGemini()

	status, ok := g.ParseTerminalStatus("plain output", "Working: ✦")
	if !ok || status.DisplayLabel != "…working" || status.IsInteractive {
		t.Errorf("working title: %+v ok=%v", status, ok)
	}

	if _, ok := g.ParseTerminalStatus("plain output", "Ready: ◇"); ok {
		t.Error("ready title should yield no status")
	}
}

func TestGemini_ActionRequiredFallback(t *testing.T) {
	g := NewGemini()
	// Title indicates action required but pane content matches no pattern.
	status, ok := g.ParseTerminalStatus("unrelated content", "Action Required: ✋")
	if !ok || !status.IsInteractive || status.UIType != "PermissionPrompt" {
		t.Errorf("status = %+v ok=%v", status, ok)
	}
}

func TestGemini_PermissionPromptContent(t *testing.T) {
	g := NewGemini()
	pane := strings.Join([]string{
		"Action Required",
		"? Shell rm -rf build [current working directory /tmp/proj]",
		"Allow execution of: 'run_shell_command'?",
		"● 1. Allow once",
		"  2. Allow for this session",
		"  4. No, suggest changes (esc",
	}, "\n")

	status, ok := g.ParseTerminalStatus(pane, "")
	if !ok || !status.IsInteractive {
		t.Fatalf("status = %+v ok=%v", status, ok)
	}
	if !strings.Contains(status.RawText, "Allow execution") {
		t.Errorf("raw text should contain prompt body: %q", status.RawText)
	}
}

func TestGemini_WholeFileParsing(t *testing.T) {
	g := NewGemini()
	if g.Capabilities().SupportsIncremental {
		t.Fatal("gemini must be a whole-file provider")
	}

	doc := `{"sessionId":"abc","messages":[
		{"role":"user","content":"hello"},
		{"role":"model","content":"hi there"},
		{"role":"model","thought":"planning","content":""}
	]}`
	entries, ok := g.SplitSessionFile([]byte(doc))
	if !ok {
		t.Fatal("document should parse")
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries", len(entries))
	}

	msgs := g.ParseTranscriptEntries(entries, map[string]PendingTool{})
	if len(msgs) != 3 {
		t.Fatalf("got %d messages: %+v", len(msgs), msgs)
	}
	if msgs[1].Role != RoleAssistant {
		t.Errorf("model role should map to assistant: %+v", msgs[1])
	}
	if msgs[2].ContentType != ContentThinking {
		t.Errorf("thought should map to thinking: %+v", msgs[2])
	}
}

func TestGemini_SplitSessionFile_Malformed(t *testing.T) {
	g := NewGemini()
	if _, ok := g.SplitSessionFile([]byte(`{"messages": [truncated`)); ok {
		t.Error("malformed document must not parse (tracker must not advance)")
	}
}
