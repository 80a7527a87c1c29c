package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/joelhooks/scoped-secrets/internal/config"
	"github.com/joelhooks/scoped-secrets/internal/daemon"
	"github.com/joelhooks/scoped-secrets/internal/output"
	"github.com/joelhooks/scoped-secrets/internal/types"
)

var serveBackground bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the secrets daemon",
	Long: `Start the scoped-secrets daemon in the foreground. The daemon listens on a Unix
socket and handles every secret, access and form operation.

Use --background to start a detached daemon and return once it answers.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fail(fmt.Errorf("failed to load config: %w", err))
		}

		if serveBackground {
			return serveDetached(cfg)
		}

		d, err := daemon.NewDaemon(cfg, newLogger(cfg))
		if err != nil {
			return fail(fmt.Errorf("failed to create daemon: %w", err))
		}

		if err := d.Start(); err != nil {
			return fail(fmt.Errorf("failed to start daemon: %w", err))
		}

		output.Print(output.Success(
			"Daemon running",
			map[string]interface{}{
				"socket": cfg.SocketPath,
				"agent":  cfg.AgentID,
				"pid":    os.Getpid(),
			},
		))

		// Wait for interrupt signal
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		if err := d.Stop(); err != nil {
			return fail(fmt.Errorf("shutdown error: %w", err))
		}
		output.Print(output.Success("Daemon stopped", nil))
		return nil
	},
}

// newLogger builds the daemon's structured logger from config.
func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// serveDetached re-executes this binary as a detached daemon and waits
// until its socket answers.
func serveDetached(cfg *config.Config) error {
	execPath, err := os.Executable()
	if err != nil {
		return fail(fmt.Errorf("failed to locate executable: %w", err))
	}

	var args []string
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if socketPath != "" {
		args = append(args, "--socket", socketPath)
	}

	proc, err := startDaemonDetached(execPath, args...)
	if err != nil {
		return fail(fmt.Errorf("failed to start daemon: %w", err))
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		var status types.DaemonStatus
		err := dial(cfg.SocketPath, daemon.MethodStatus, nil, &status)
		if err == nil {
			output.Print(output.Success(
				"Daemon started",
				map[string]interface{}{
					"socket": cfg.SocketPath,
					"pid":    proc.Process.Pid,
				},
				output.ActionStatus(),
			))
			return proc.Process.Release()
		}
		if time.Now().After(deadline) {
			return fail(fmt.Errorf("daemon did not come up: %w", err))
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func init() {
	serveCmd.Flags().BoolVar(&serveBackground, "background", false, "Run daemon in background")
	rootCmd.AddCommand(serveCmd)
}
