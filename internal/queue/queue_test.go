package queue

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type apiCall struct {
	Endpoint string
	Params   tgbotapi.Params
	At       time.Time
}

type fakeAPI struct {
	mu     sync.Mutex
	calls  []apiCall
	nextID int
}

func (f *fakeAPI) MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, apiCall{Endpoint: endpoint, Params: params, At: time.Now()})
	f.nextID++
	result, _ := json.Marshal(map[string]any{"message_id": f.nextID})
	return &tgbotapi.APIResponse{Ok: true, Result: result}, nil
}

func (f *fakeAPI) snapshot() []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]apiCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeAPI) waitCalls(t *testing.T, n int) []apiCall {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if calls := f.snapshot(); len(calls) >= n {
			return calls
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d API calls, have %d", n, len(f.snapshot()))
	return nil
}

func contentTask(window, text string) MessageTask {
	return MessageTask{
		UserID:      1,
		ThreadID:    10,
		ChatID:      100,
		Parts:       []string{text},
		ContentType: KindContent,
		WindowID:    window,
	}
}

func TestCoalesce_MergesSameWindowContent(t *testing.T) {
	ch := make(chan MessageTask, 10)
	ch <- contentTask("@1", "second")
	ch <- contentTask("@1", "third")

	merged, rest := coalesce(contentTask("@1", "first"), ch)
	if rest != nil {
		t.Fatalf("unexpected leftover task: %+v", rest)
	}
	if got := strings.Join(merged.Parts, "\n"); got != "first\nsecond\nthird" {
		t.Errorf("got %q", got)
	}
}

func TestCoalesce_StopsAtOtherWindow(t *testing.T) {
	ch := make(chan MessageTask, 10)
	ch <- contentTask("@2", "other")

	merged, rest := coalesce(contentTask("@1", "first"), ch)
	if strings.Join(merged.Parts, "\n") != "first" {
		t.Errorf("merged across windows: %v", merged.Parts)
	}
	if rest == nil || rest.WindowID != "@2" {
		t.Errorf("leftover task lost: %+v", rest)
	}
}

func TestCoalesce_ToolUseBreaksChain(t *testing.T) {
	ch := make(chan MessageTask, 10)
	tool := contentTask("@1", "Bash(ls)")
	tool.ContentType = KindToolUse
	ch <- tool
	ch <- contentTask("@1", "after")

	merged, rest := coalesce(contentTask("@1", "first"), ch)
	if strings.Join(merged.Parts, "\n") != "first" {
		t.Errorf("merged past tool_use: %v", merged.Parts)
	}
	if rest == nil || rest.ContentType != KindToolUse {
		t.Fatalf("tool_use not carried: %+v", rest)
	}
	if len(ch) != 1 {
		t.Errorf("queue should still hold the trailing content task")
	}
}

func TestCoalesce_RespectsLengthCap(t *testing.T) {
	ch := make(chan MessageTask, 10)
	ch <- contentTask("@1", strings.Repeat("b", maxMergeLen))

	merged, rest := coalesce(contentTask("@1", "a"), ch)
	if strings.Join(merged.Parts, "\n") != "a" {
		t.Errorf("merge exceeded cap")
	}
	if rest == nil {
		t.Errorf("oversized task must be carried, not dropped")
	}
}

func TestDrain_PreservesFIFOAcrossCarriedTask(t *testing.T) {
	api := &fakeAPI{}
	q := New(api)

	q.Enqueue(contentTask("@1", "one"))
	tool := contentTask("@1", "Bash(ls)")
	tool.ContentType = KindToolUse
	q.Enqueue(tool)
	q.Enqueue(contentTask("@1", "two"))

	calls := api.waitCalls(t, 3)
	var texts []string
	for _, c := range calls {
		if c.Endpoint == "sendMessage" {
			texts = append(texts, c.Params["text"])
		}
	}
	if len(texts) != 3 {
		t.Fatalf("got %d sends: %v", len(texts), texts)
	}
	for i, want := range []string{"one", "Bash"} {
		if !strings.Contains(texts[i], want) {
			t.Errorf("send %d out of order: got %q", i, texts[i])
		}
	}
	if !strings.Contains(texts[2], "two") {
		t.Errorf("carried task lost: %v", texts)
	}
}

func TestRateFloor(t *testing.T) {
	api := &fakeAPI{}
	q := New(api)

	for i := 0; i < 3; i++ {
		task := contentTask("@1", "msg")
		task.ContentType = KindToolUse // never merged
		q.Enqueue(task)
	}

	calls := api.waitCalls(t, 3)
	for i := 1; i < len(calls); i++ {
		if gap := calls[i].At.Sub(calls[i-1].At); gap < sendInterval-5*time.Millisecond {
			t.Errorf("sends %d and %d only %v apart", i-1, i, gap)
		}
	}
}

func TestStatus_EditInsteadOfResend(t *testing.T) {
	api := &fakeAPI{}
	q := New(api)

	status := contentTask("@1", "✢ Thinking")
	status.ContentType = KindStatus
	q.deliver(status)

	update := contentTask("@1", "✻ Running")
	update.ContentType = KindStatus
	q.deliver(update)

	calls := api.snapshot()
	if len(calls) != 2 {
		t.Fatalf("got %d calls", len(calls))
	}
	if calls[0].Endpoint != "sendMessage" || calls[1].Endpoint != "editMessageText" {
		t.Errorf("second status should edit, got %s then %s", calls[0].Endpoint, calls[1].Endpoint)
	}
}

func TestStatus_DeduplicatesSameText(t *testing.T) {
	api := &fakeAPI{}
	q := New(api)

	status := contentTask("@1", "✢ Thinking")
	status.ContentType = KindStatus
	q.deliver(status)
	q.deliver(status)

	if calls := api.snapshot(); len(calls) != 1 {
		t.Errorf("duplicate status should be skipped, got %d calls", len(calls))
	}
}

func TestStatus_WindowSwitchForcesFreshMessage(t *testing.T) {
	api := &fakeAPI{}
	q := New(api)

	status := contentTask("@1", "✢ Thinking")
	status.ContentType = KindStatus
	q.deliver(status)

	other := contentTask("@2", "✻ Running")
	other.ContentType = KindStatus
	q.deliver(other)

	calls := api.snapshot()
	if len(calls) != 3 {
		t.Fatalf("got %d calls: %v", len(calls), calls)
	}
	if calls[1].Endpoint != "deleteMessage" || calls[2].Endpoint != "sendMessage" {
		t.Errorf("window switch should delete and resend, got %s then %s",
			calls[1].Endpoint, calls[2].Endpoint)
	}
	info, ok := q.GetStatusMessage(1, 10)
	if !ok || info.WindowID != "@2" {
		t.Errorf("tracked status = %+v, want window @2", info)
	}
}

func TestStatusClear_DeletesMessage(t *testing.T) {
	api := &fakeAPI{}
	q := New(api)

	status := contentTask("@1", "✢ Thinking")
	status.ContentType = KindStatus
	q.deliver(status)

	clear := contentTask("@1", "")
	clear.ContentType = KindStatusClear
	q.deliver(clear)

	calls := api.snapshot()
	if calls[len(calls)-1].Endpoint != "deleteMessage" {
		t.Errorf("expected deleteMessage, got %s", calls[len(calls)-1].Endpoint)
	}
	if _, ok := q.GetStatusMessage(1, 10); ok {
		t.Errorf("status tracking should be dropped after clear")
	}
}

func TestContent_ReplacesStatusMessage(t *testing.T) {
	api := &fakeAPI{}
	q := New(api)

	status := contentTask("@1", "✢ Thinking")
	status.ContentType = KindStatus
	q.deliver(status)

	q.deliver(contentTask("@1", "result text"))

	calls := api.snapshot()
	last := calls[len(calls)-1]
	if last.Endpoint != "editMessageText" {
		t.Errorf("content should edit the status message in place, got %s", last.Endpoint)
	}
	if _, ok := q.GetStatusMessage(1, 10); ok {
		t.Errorf("status tracking should be dropped once content lands")
	}
}

func TestToolResult_EditsToolUseMessage(t *testing.T) {
	api := &fakeAPI{}
	q := New(api)

	use := contentTask("@1", "**Bash**(ls)")
	use.ContentType = KindToolUse
	use.ToolUseID = "tu_1"
	q.deliver(use)

	res := contentTask("@1", "Output 3 lines")
	res.ContentType = KindToolResult
	res.ToolUseID = "tu_1"
	q.deliver(res)

	calls := api.snapshot()
	if calls[len(calls)-1].Endpoint != "editMessageText" {
		t.Errorf("tool result should edit its tool_use message")
	}
}
