package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/otaviocarvalho/ccbot/hook"
	"github.com/otaviocarvalho/ccbot/internal/bot"
	"github.com/otaviocarvalho/ccbot/internal/config"
	"github.com/otaviocarvalho/ccbot/internal/monitor"
	"github.com/otaviocarvalho/ccbot/internal/provider"
	"github.com/otaviocarvalho/ccbot/internal/queue"
	"github.com/otaviocarvalho/ccbot/internal/state"
	"github.com/otaviocarvalho/ccbot/internal/tmux"
	"github.com/spf13/cobra"
)

var (
	version = "v0.1.0"
	cfgPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ccbot",
		Short: "Bridge Telegram group topics to terminal agent sessions via tmux",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	serveCmd.Flags().StringVar(&cfgPath, "config", "", "path to .env config file")

	hookCmd := &cobra.Command{
		Use:   "hook",
		Short: "Run the agent SessionStart hook",
		RunE: func(cmd *cobra.Command, args []string) error {
			return hook.Run()
		},
	}
	hookCmd.AddCommand(
		&cobra.Command{
			Use:   "install",
			Short: "Install the hook into the agent's settings",
			RunE:  func(cmd *cobra.Command, args []string) error { return hook.Install() },
		},
		&cobra.Command{
			Use:   "uninstall",
			Short: "Remove the hook from the agent's settings",
			RunE:  func(cmd *cobra.Command, args []string) error { return hook.Uninstall() },
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show hook installation status",
			RunE:  func(cmd *cobra.Command, args []string) error { return hook.Status() },
		},
	)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ccbot %s\n", version)
		},
	}

	rootCmd.AddCommand(serveCmd, hookCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe() error {
	var cfg *config.Config
	var err error
	if cfgPath != "" {
		cfg, err = config.Load(cfgPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := state.Load(cfg.StatePath())
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}

	registry := provider.NewRegistry()
	registry.Register(provider.NewClaude())
	registry.Register(provider.NewCodex())
	registry.Register(provider.NewGemini())

	b, err := bot.New(cfg, st, registry)
	if err != nil {
		return fmt.Errorf("creating bot: %w", err)
	}

	ms, err := state.LoadMonitorState(cfg.MonitorStatePath())
	if err != nil {
		log.Printf("Warning: loading monitor state: %v (starting fresh)", err)
		ms = state.NewMonitorState()
	}

	// Startup recovery: reconcile state with live tmux windows
	liveBindings := b.ReconcileState()
	log.Printf("Startup: %d live bindings recovered", liveBindings)

	q := queue.New(b.API())
	b.AttachQueue(q)

	var sp *bot.StatusPoller

	mon := monitor.New(monitor.Options{
		SessionMapPath:   cfg.SessionMapPath(),
		EventsPath:       cfg.EventsPath(),
		MonitorStatePath: cfg.MonitorStatePath(),
		MonitorState:     ms,
		Registry:         registry,
		PollInterval:     cfg.PollInterval(),
		SessionName:      cfg.TmuxSessionName,
		ListWindows: func() ([]string, error) {
			windows, err := tmux.ListWindows(cfg.TmuxSessionName)
			if err != nil {
				return nil, err
			}
			ids := make([]string, len(windows))
			for i, w := range windows {
				ids[i] = w.ID
			}
			return ids, nil
		},
		Callbacks: monitor.Callbacks{
			OnAgentMessage:    b.HandleAgentMessage,
			OnNewWindow:       b.HandleNewWindow,
			OnSessionReplaced: b.HandleSessionReplaced,
			OnWindowRemoved:   b.HandleWindowRemoved,
			OnHookEvent: func(ev state.HookEvent) {
				if sp != nil {
					sp.HandleHookEvent(ev)
				}
			},
		},
	})
	b.AttachMonitor(mon, ms)

	sp = bot.NewStatusPoller(b, q, mon)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go mon.Run(ctx)
	go sp.Run(ctx)

	// Blocks until ctx is cancelled
	err = b.Run(ctx)

	log.Println("Saving state...")
	if saveErr := ms.ForceSave(cfg.MonitorStatePath()); saveErr != nil {
		log.Printf("Error saving monitor state: %v", saveErr)
	}

	return err
}
