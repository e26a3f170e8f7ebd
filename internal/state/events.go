package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/gofrs/flock"
)

// HookEvent is one line of events.jsonl, appended by the hook binary and
// consumed by the monitor.
type HookEvent struct {
	TS        float64                `json:"ts"`
	Event     string                 `json:"event"`
	WindowKey string                 `json:"window_key"`
	SessionID string                 `json:"session_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// AppendEvent appends one event line under an exclusive file lock so
// concurrent hook invocations don't interleave partial lines.
func AppendEvent(path string, ev HookEvent) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking event log: %w", err)
	}
	defer lock.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	return nil
}

// ReadEvents reads complete event lines starting at offset and returns
// them with the new offset. If the file shrank (rotated or truncated),
// reading restarts from zero. Malformed lines are skipped but still
// advance the offset; a trailing partial line without a newline does not.
func ReadEvents(path string, offset int64) ([]HookEvent, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, offset, err
	}
	if info.Size() < offset {
		offset = 0
	}
	if info.Size() == offset {
		return nil, offset, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, offset, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, 0); err != nil {
		return nil, offset, err
	}
	data := make([]byte, info.Size()-offset)
	n, err := f.Read(data)
	if err != nil && n == 0 {
		return nil, offset, err
	}
	data = data[:n]

	var events []HookEvent
	for len(data) > 0 {
		nl := bytes.IndexByte(data, '\n')
		if nl < 0 {
			break
		}
		line := data[:nl]
		data = data[nl+1:]
		offset += int64(nl + 1)

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var ev HookEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, offset, nil
}
