package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loykin/yeet/internal/daemon"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	flags := &RootFlags{}
	root := createRootCommand(flags)
	root.AddCommand(createDaemonCommand(flags))
	return root
}

// createRootCommand creates the user-facing command
func createRootCommand(flags *RootFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "yeet [path]",
		Short: "Share a file or directory through a public tunnel",
		Long: `yeet serves a local file or directory from a background daemon and
publishes it through a cloudflared quick tunnel. The daemon keeps running
after the terminal closes; run yeet again to see it, or stop it with --kill.

Examples:
  yeet ./cat.jpg              # share one file
  yeet ./build -p 9000        # share a directory on port 9000
  yeet --status               # show the running tunnel
  yeet --kill                 # stop it
  yeet --history              # recent tunnel events`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newCommand(cmd, flags)
			if err != nil {
				return err
			}
			defer c.close()
			switch {
			case flags.Status:
				return c.Status()
			case flags.Kill:
				return c.Kill()
			case flags.History:
				return c.History(flags.HistoryLimit)
			}
			if len(args) == 0 {
				return fmt.Errorf("a path to share is required (see --help)")
			}
			return c.Share(args[0], flags.Replace)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (default <state-dir>/config.toml)")
	pf.StringVar(&flags.StateDir, "state-dir", "", "directory holding the tunnel state (default ~/.yeet)")
	pf.StringVar(&flags.LogLevel, "log-level", "", "log level: debug|info|warn|error")
	pf.StringVar(&flags.TunnelBin, "tunnel-bin", "", "tunnel client binary (default cloudflared)")
	pf.StringVar(&flags.HistoryDSN, "history-dsn", "", "job history sink DSN, or \"off\"")

	f := root.Flags()
	f.IntVarP(&flags.Port, "port", "p", 8000, "local port to serve on")
	f.BoolVar(&flags.Status, "status", false, "show the running tunnel")
	f.BoolVar(&flags.Kill, "kill", false, "stop the running tunnel")
	f.BoolVar(&flags.Replace, "replace", false, "stop a tunnel running on another port before sharing")
	f.BoolVar(&flags.History, "history", false, "show recent tunnel events")
	f.IntVar(&flags.HistoryLimit, "limit", 20, "number of history events to show")
	root.MarkFlagsMutuallyExclusive("status", "kill", "history")
	root.MarkFlagsMutuallyExclusive("status", "replace")
	root.MarkFlagsMutuallyExclusive("kill", "replace")

	return root
}

// createDaemonCommand creates the hidden command the launcher re-executes
func createDaemonCommand(rootFlags *RootFlags) *cobra.Command {
	flags := &DaemonFlags{}
	cmd := &cobra.Command{
		Use:    daemon.Command,
		Short:  "Run the tunnel daemon in the foreground (internal)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, rootFlags, flags)
		},
	}
	cmd.Flags().StringVar(&flags.Path, "path", "", "file or directory to serve (required)")
	cmd.Flags().IntVar(&flags.Port, "port", 8000, "local port to serve on")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}
