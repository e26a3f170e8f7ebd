// Package config loads bot configuration from the environment, with
// optional .env files via godotenv.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	TelegramBotToken    string
	AllowedUsers        []int64
	AllowedGroups       []int64
	GroupID             int64 // preferred forum group for new topics, 0 if unset
	CcbotDir            string
	TmuxSessionName     string
	DefaultProvider     string
	ProviderCommands    map[string]string // provider name → launch command override
	MonitorPollInterval float64
	AutocloseDone       time.Duration
	AutocloseDead       time.Duration
}

func getenv(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func Load(envFile ...string) (*Config, error) {
	for _, f := range envFile {
		_ = godotenv.Load(f)
	}
	_ = godotenv.Load() // default .env, ignore if missing

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	users, err := parseIntList(os.Getenv("ALLOWED_USERS"))
	if err != nil {
		return nil, fmt.Errorf("invalid ALLOWED_USERS: %w", err)
	}

	var groups []int64
	if g := os.Getenv("ALLOWED_GROUPS"); g != "" {
		if groups, err = parseIntList(g); err != nil {
			return nil, fmt.Errorf("invalid ALLOWED_GROUPS: %w", err)
		}
	}

	var groupID int64
	if g := os.Getenv("CCBOT_GROUP_ID"); g != "" {
		if groupID, err = strconv.ParseInt(g, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid CCBOT_GROUP_ID: %w", err)
		}
	}

	dir := Dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating ccbot dir: %w", err)
	}

	pollInterval := 2.0
	if p := os.Getenv("MONITOR_POLL_INTERVAL"); p != "" {
		if pollInterval, err = strconv.ParseFloat(p, 64); err != nil {
			return nil, fmt.Errorf("invalid MONITOR_POLL_INTERVAL: %w", err)
		}
	}

	autocloseDone, err := minutesEnv("AUTOCLOSE_DONE_MINUTES", 30)
	if err != nil {
		return nil, err
	}
	autocloseDead, err := minutesEnv("AUTOCLOSE_DEAD_MINUTES", 10)
	if err != nil {
		return nil, err
	}

	return &Config{
		TelegramBotToken:    token,
		AllowedUsers:        users,
		AllowedGroups:       groups,
		GroupID:             groupID,
		CcbotDir:            dir,
		TmuxSessionName:     getenv("TMUX_SESSION_NAME", "ccbot"),
		DefaultProvider:     getenv("CCBOT_PROVIDER", "claude"),
		ProviderCommands:    providerCommands(),
		MonitorPollInterval: pollInterval,
		AutocloseDone:       autocloseDone,
		AutocloseDead:       autocloseDead,
	}, nil
}

// Dir returns the ccbot data directory (CCBOT_DIR or ~/.ccbot), without
// creating it. The hook binary uses this too, so it can't depend on the
// rest of Load succeeding.
func Dir() string {
	return expandHome(getenv("CCBOT_DIR", "~/.ccbot"))
}

// ProviderCommand returns the launch command for a provider, honoring
// CCBOT_<NAME>_COMMAND overrides. Defaults to the provider name itself.
func (c *Config) ProviderCommand(name string) string {
	if cmd, ok := c.ProviderCommands[name]; ok {
		return cmd
	}
	return name
}

// PollInterval converts the configured monitor interval (seconds, possibly
// fractional) into a time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.MonitorPollInterval * float64(time.Second))
}

func (c *Config) IsAllowedUser(userID int64) bool {
	return slices.Contains(c.AllowedUsers, userID)
}

// IsAllowedGroup is permissive when no group list is configured.
func (c *Config) IsAllowedGroup(groupID int64) bool {
	return len(c.AllowedGroups) == 0 || slices.Contains(c.AllowedGroups, groupID)
}

// SessionMapPath, EventsPath, StatePath, and MonitorStatePath name the
// files shared between the bot and the hook binary.
func (c *Config) SessionMapPath() string   { return filepath.Join(c.CcbotDir, "session_map.json") }
func (c *Config) EventsPath() string       { return filepath.Join(c.CcbotDir, "events.jsonl") }
func (c *Config) StatePath() string        { return filepath.Join(c.CcbotDir, "state.json") }
func (c *Config) MonitorStatePath() string { return filepath.Join(c.CcbotDir, "monitor_state.json") }

func providerCommands(providers ...string) map[string]string {
	if len(providers) == 0 {
		providers = []string{"claude", "codex", "gemini"}
	}
	cmds := make(map[string]string)
	for _, name := range providers {
		envVar := "CCBOT_" + strings.ToUpper(name) + "_COMMAND"
		if cmd := os.Getenv(envVar); cmd != "" {
			cmds[name] = cmd
		}
	}
	return cmds
}

func minutesEnv(name string, def int) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return time.Duration(def) * time.Minute, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return time.Duration(n) * time.Minute, nil
}

func parseIntList(s string) ([]int64, error) {
	var result []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", part, err)
		}
		result = append(result, n)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("empty list")
	}
	return result, nil
}

func expandHome(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}
