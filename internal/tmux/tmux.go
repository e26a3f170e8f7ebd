// Package tmux shells out to the tmux CLI. Every agent session lives in
// one window of a single server-managed tmux session, addressed by its
// stable window ID ("@12").
package tmux

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Window is one row of list-windows output.
type Window struct {
	ID      string // e.g. "@12"
	Name    string
	CWD     string
	Command string // pane_current_command, e.g. "claude" or "zsh"
}

// run executes a tmux command, folding stderr into the error.
func run(args ...string) error {
	out, err := exec.Command("tmux", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("tmux %s: %s: %w", args[0], strings.TrimSpace(string(out)), err)
	}
	return nil
}

// output executes a tmux command and returns trimmed stdout.
func output(args ...string) (string, error) {
	out, err := exec.Command("tmux", args...).Output()
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w", args[0], err)
	}
	return strings.TrimSpace(string(out)), nil
}

func target(session, windowID string) string {
	return session + ":" + windowID
}

// SessionExists checks if a tmux session exists.
func SessionExists(name string) bool {
	return exec.Command("tmux", "has-session", "-t", name).Run() == nil
}

// EnsureSession creates the session if it doesn't exist yet.
func EnsureSession(name string) error {
	if SessionExists(name) {
		return nil
	}
	if err := run("new-session", "-d", "-s", name); err != nil {
		return fmt.Errorf("creating session %s: %w", name, err)
	}
	return nil
}

// ListWindows returns all windows in a session.
func ListWindows(session string) ([]Window, error) {
	out, err := output("list-windows", "-t", session,
		"-F", "#{window_id}\t#{window_name}\t#{pane_current_path}\t#{pane_current_command}")
	if err != nil {
		return nil, fmt.Errorf("listing windows in %s: %w", session, err)
	}

	var windows []Window
	for _, line := range strings.Split(out, "\n") {
		fields := strings.SplitN(line, "\t", 4)
		if len(fields) < 3 {
			continue
		}
		w := Window{ID: fields[0], Name: fields[1], CWD: fields[2]}
		if len(fields) == 4 {
			w.Command = fields[3]
		}
		windows = append(windows, w)
	}
	return windows, nil
}

// NewWindow creates a window in dir, exports env inside it, and starts
// launchCmd. Returns the new window ID.
func NewWindow(session, name, dir, launchCmd string, env map[string]string) (string, error) {
	cmd := exec.Command("tmux", "new-window", "-t", session, "-n", name, "-c", dir, "-P", "-F", "#{window_id}")
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("creating window %s in %s: %w", name, session, err)
	}
	windowID := strings.TrimSpace(string(out))

	// The shell inside the window doesn't inherit cmd.Env, so export
	// each variable explicitly before launching.
	for k, v := range env {
		run("send-keys", "-t", target(session, windowID), fmt.Sprintf("export %s=%q", k, v), "Enter")
	}

	if launchCmd != "" {
		time.Sleep(200 * time.Millisecond)
		if err := run("send-keys", "-t", target(session, windowID), launchCmd, "Enter"); err != nil {
			return windowID, fmt.Errorf("starting agent in %s: %w", windowID, err)
		}
	}
	return windowID, nil
}

// RespawnWindow replaces whatever runs in a window with a fresh shell and
// starts launchCmd in it. Used for restarting a dead agent in place.
func RespawnWindow(session, windowID, launchCmd string) error {
	t := target(session, windowID)
	if err := run("respawn-window", "-k", "-t", t); err != nil {
		return fmt.Errorf("respawning window %s: %w", t, err)
	}
	if launchCmd != "" {
		time.Sleep(200 * time.Millisecond)
		if err := run("send-keys", "-t", t, launchCmd, "Enter"); err != nil {
			return fmt.Errorf("starting agent in %s: %w", windowID, err)
		}
	}
	return nil
}

// SendKeys sends literal text to a window. The -l flag keeps tmux from
// interpreting the text as key names.
func SendKeys(session, windowID, keys string) error {
	return run("send-keys", "-t", target(session, windowID), "-l", keys)
}

// SendEnter sends the Enter key to a window.
func SendEnter(session, windowID string) error {
	return run("send-keys", "-t", target(session, windowID), "Enter")
}

// SendKeysWithDelay sends text, waits delayMs, then sends Enter. TUI agents
// need the gap so bracketed paste settles before the submit key arrives.
func SendKeysWithDelay(session, windowID, text string, delayMs int) error {
	if err := SendKeys(session, windowID, text); err != nil {
		return err
	}
	time.Sleep(time.Duration(delayMs) * time.Millisecond)
	return SendEnter(session, windowID)
}

// SendSpecialKey sends a named key ("Escape", "Up", ...) to a window.
func SendSpecialKey(session, windowID, key string) error {
	return run("send-keys", "-t", target(session, windowID), key)
}

// CapturePane captures visible pane content. With withAnsi the escape
// codes are kept (-e) for screenshot rendering.
func CapturePane(session, windowID string, withAnsi bool) (string, error) {
	args := []string{"capture-pane", "-t", target(session, windowID), "-p"}
	if withAnsi {
		args = append(args, "-e")
	}
	out, err := exec.Command("tmux", args...).Output()
	if err != nil {
		return "", fmt.Errorf("capturing pane %s: %w", target(session, windowID), err)
	}
	return string(out), nil
}

// GetPaneTitle returns the pane title of a window. Some agents publish
// their state there via OSC escape sequences.
func GetPaneTitle(session, windowID string) (string, error) {
	return DisplayMessage(target(session, windowID), "#{pane_title}")
}

// GetPaneCommand returns the foreground command of a window's pane.
func GetPaneCommand(session, windowID string) (string, error) {
	return DisplayMessage(target(session, windowID), "#{pane_current_command}")
}

// DisplayMessage runs tmux display-message and returns the output.
func DisplayMessage(target, format string) (string, error) {
	out, err := output("display-message", "-t", target, "-p", format)
	if err != nil {
		return "", fmt.Errorf("display-message for %s: %w", target, err)
	}
	return out, nil
}

// IsWindowDead reports whether err means the target window or session no
// longer exists.
func IsWindowDead(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") ||
		strings.Contains(msg, "no such") ||
		strings.Contains(msg, "can't find")
}

// KillWindow kills a window. An already-gone window is not an error.
func KillWindow(session, windowID string) error {
	if err := run("kill-window", "-t", target(session, windowID)); err != nil && !IsWindowDead(err) {
		return fmt.Errorf("killing window %s: %w", windowID, err)
	}
	return nil
}

// RenameWindow renames a window.
func RenameWindow(session, windowID, newName string) error {
	return run("rename-window", "-t", target(session, windowID), newName)
}

// WaitForReady polls the pane until the agent's TUI chrome separator shows
// up, meaning the input box is drawn. Returns false on timeout.
func WaitForReady(session, windowID string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		text, err := CapturePane(session, windowID, false)
		if err == nil && hasChromeSeparator(text) {
			return true
		}
		time.Sleep(500 * time.Millisecond)
	}
	return false
}

// hasChromeSeparator looks for a line with at least 20 box-drawing dashes,
// the horizontal rule every supported TUI draws around its input box.
func hasChromeSeparator(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		dashes := 0
		for _, r := range line {
			if r == '─' || r == '━' {
				dashes++
			}
		}
		if dashes >= 20 {
			return true
		}
	}
	return false
}
