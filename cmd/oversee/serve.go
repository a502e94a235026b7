package main

import (
	"context"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oversee-dev/oversee/internal/autofix"
	"github.com/oversee-dev/oversee/internal/bridge"
	"github.com/oversee-dev/oversee/internal/completion"
	"github.com/oversee-dev/oversee/internal/config"
	clierrors "github.com/oversee-dev/oversee/internal/errors"
	"github.com/oversee-dev/oversee/internal/hookevent"
	"github.com/oversee-dev/oversee/internal/hookserver"
	"github.com/oversee-dev/oversee/internal/observability"
	"github.com/oversee-dev/oversee/internal/output"
	"github.com/oversee-dev/oversee/internal/session"
)

const shutdownGrace = 5 * time.Second

func newServeCmd() *cobra.Command {
	var (
		bridgeAddr string
		hookPort   int
		shell      string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge and hook listener",
		Long: `Start the session core: the websocket bridge the desktop consumer
connects to, and the loopback HTTP listener coding agents POST hook
events to. Runs until interrupted.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			if bridgeAddr != "" {
				cfg.Set("bridge.listen", bridgeAddr)
			}
			if hookPort > 0 {
				cfg.Set("hook.port", hookPort)
			}
			if shell != "" {
				cfg.Set("shell", shell)
			}

			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&bridgeAddr, "bridge-addr", "", "Bridge listen address (default from config)")
	cmd.Flags().IntVar(&hookPort, "hook-port", 0, "Hook listener port (default from config)")
	cmd.Flags().StringVar(&shell, "shell", "", "Shell binary for sessions (default from config)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := observability.FromContext(ctx)
	out := output.FromContext(ctx)

	if _, lookErr := exec.LookPath(cfg.Shell()); lookErr != nil {
		return clierrors.ShellNotFound(cfg.Shell(), lookErr)
	}

	scenarios, err := cfg.Scenarios()
	if err != nil {
		return &clierrors.CLIError{
			Message: "Invalid scenario table: " + err.Error(),
			Hint:    "Fix the file referenced by autofix.scenarios_file or unset it to use the built-in table",
			Code:    clierrors.ExitConfig,
		}
	}

	notifier := bridge.NewNotifier(logger)
	defer notifier.Close()

	registry := session.NewRegistry(cfg.Shell(), logger)

	watcher := completion.NewWatcher(notifier.CommandCallback, logger)
	watcher.Start()
	defer watcher.Stop()

	coalescer := session.NewCoalescer(session.DefaultCoalesceInterval, notifier.Output)
	defer coalescer.Close()

	runs := autofix.NewManager(registry, notifier, notifier, logger)
	defer runs.Close()

	core := bridge.NewCore(registry, watcher, coalescer, runs, notifier, bridge.CoreOptions{
		RunDefaults: autofix.RunConfig{
			MaxCycles:    cfg.MaxCycles(),
			StageTimeout: cfg.StageTimeout(),
			InitTimeout:  cfg.InitTimeout(),
			Scenarios:    scenarios,
		},
	}, logger)

	router := hookevent.NewRouter(registry, runs, notifier, logger)

	bridgeSrv := bridge.NewServer(cfg.BridgeAddr(), core, notifier, logger)
	hookSrv := hookserver.New(cfg.HookPort(), router, logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)

	go func() { errCh <- bridgeSrv.ListenAndServe() }()
	go func() { errCh <- hookSrv.ListenAndServe() }()

	out.Success("oversee serving (bridge %s, hooks 127.0.0.1:%d)", cfg.BridgeAddr(), cfg.HookPort())
	logger.Info("serve started",
		"bridge_addr", cfg.BridgeAddr(), "hook_port", cfg.HookPort(), "shell", cfg.Shell())

	select {
	case err = <-errCh:
	case <-ctx.Done():
		out.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if serr := bridgeSrv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("bridge shutdown failed", "error", serr)
	}
	if serr := hookSrv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("hook listener shutdown failed", "error", serr)
	}

	for _, sess := range registry.All() {
		sess.Kill()
	}

	return err
}
