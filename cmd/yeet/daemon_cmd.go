package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/loykin/yeet"
	"github.com/loykin/yeet/internal/logger"
)

// runDaemon is what the detached child runs. Its standard streams are the
// null device, so everything goes to the rotating daemon log.
func runDaemon(cmd *cobra.Command, rootFlags *RootFlags, flags *DaemonFlags) error {
	cfg, err := loadConfig(cmd, rootFlags)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return err
	}
	lc := cfg.DaemonLogConfig()
	w := lc.File.Writer()
	defer func() { _ = w.Close() }()
	log := logger.New(w, lc).With("component", "daemon")

	gin.SetMode(gin.ReleaseMode)
	// the launcher's terminal may close under us
	signal.Ignore(syscall.SIGHUP)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("daemon starting", "pid", os.Getpid(), "path", flags.Path, "port", flags.Port)
	if err := yeet.RunDaemon(ctx, cfg, flags.Path, flags.Port, log); err != nil {
		log.Error("daemon stopped", "error", err)
		return err
	}
	return nil
}
