package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/yeet"
	"github.com/loykin/yeet/internal/config"
	"github.com/loykin/yeet/internal/logger"
	"github.com/loykin/yeet/internal/presenter"
)

// command holds what every user-facing mode needs
type command struct {
	app *yeet.App
	cfg config.Config
	out io.Writer
	log *slog.Logger
	// live is true when out is an interactive terminal
	live bool
}

func loadConfig(cmd *cobra.Command, flags *RootFlags) (config.Config, error) {
	return config.Load(flags.ConfigPath, cmd.Flags())
}

func newCommand(cmd *cobra.Command, flags *RootFlags) (*command, error) {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = flags.Port
	}
	log := logger.New(os.Stderr, logger.Config{Level: cfg.Log.Level, Color: presenter.IsTerminal(os.Stderr)})
	slog.SetDefault(log)

	out := cmd.OutOrStdout()
	live := out == io.Writer(os.Stdout) && presenter.IsTerminal(os.Stdout)

	app, err := yeet.New(cfg, yeet.Options{Logger: log, DaemonArgs: daemonArgs(cmd, flags, cfg)})
	if err != nil {
		return nil, err
	}
	return &command{app: app, cfg: cfg, out: out, log: log, live: live}, nil
}

// daemonArgs are appended to "daemon --path P --port N" so the daemon
// resolves the same configuration as the launcher.
func daemonArgs(cmd *cobra.Command, flags *RootFlags, cfg config.Config) []string {
	args := []string{"--state-dir", cfg.StateDir}
	if flags.ConfigPath != "" {
		args = append(args, "--config", flags.ConfigPath)
	}
	if cmd.Flags().Changed("tunnel-bin") {
		args = append(args, "--tunnel-bin", flags.TunnelBin)
	}
	if cmd.Flags().Changed("history-dsn") {
		args = append(args, "--history-dsn", flags.HistoryDSN)
	}
	return args
}

func (c *command) close() { _ = c.app.Close() }

func (c *command) printf(format string, a ...any) {
	_, _ = fmt.Fprintf(c.out, format, a...)
}

// interruptContext is cancelled on ctrl-c. The daemon is in its own session
// and does not see the signal.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (c *command) Share(path string, replace bool) error {
	ctx, stop := interruptContext()
	defer stop()

	if !c.live {
		c.printf("Starting tunnel on port %d...\n", c.cfg.Port)
	}
	res, err := c.app.Share(ctx, path, c.cfg.Port, replace)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			c.printf("Interrupted; the daemon may still come up. Check with yeet --status.\n")
			return nil
		}
		return err
	}
	if res.Reused {
		c.log.Info("reusing running tunnel", "pid", res.Record.PID, "port", res.Record.Port)
		if !c.live {
			c.printf("Reusing the tunnel already running on port %d (%s).\n", res.Record.Port, res.Record.ResourcePath)
		}
	}
	if err := c.app.Present(ctx, c.out, c.live); err != nil {
		return err
	}
	if c.live && ctx.Err() != nil {
		c.printf("\nThe tunnel is still running. Stop it with: yeet --kill\n")
	}
	return nil
}

func (c *command) Status() error {
	st, err := c.app.Status(context.Background())
	if errors.Is(err, yeet.ErrNoRecord) {
		c.printf("No active tunnel.\n")
		return nil
	}
	if err != nil {
		return err
	}
	th := presenter.PlainTheme()
	if c.live {
		th = presenter.DefaultTheme()
	}
	presenter.Render(c.out, presenter.StatusView(st), th)
	if !st.Alive {
		c.printf("The tunnel process is gone; its stale state was removed.\n")
	}
	return nil
}

func (c *command) Kill() error {
	res, err := c.app.Kill(context.Background())
	if err != nil {
		return err
	}
	switch {
	case !res.Found:
		c.printf("No active tunnel.\n")
	case !res.WasAlive:
		c.printf("Warning: tunnel process %d had already exited; state cleaned up.\n", res.Record.PID)
	case res.SignalErr != nil:
		c.printf("Warning: could not stop process %d: %v; state cleaned up.\n", res.Record.PID, res.SignalErr)
	default:
		c.printf("Tunnel stopped (pid %d).\n", res.Record.PID)
	}
	return nil
}

func (c *command) History(limit int) error {
	events, err := c.app.History(context.Background(), limit)
	if err != nil {
		return err
	}
	th := presenter.PlainTheme()
	if c.live {
		th = presenter.DefaultTheme()
	}
	presenter.RenderHistory(c.out, events, th)
	return nil
}
