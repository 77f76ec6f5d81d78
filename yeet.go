// Package yeet shares a local file or directory through a public tunnel run
// by a detached background daemon. The App type wires configuration, the
// state record, job history and the launcher for embedding and for the CLI.
package yeet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/yeet/internal/config"
	"github.com/loykin/yeet/internal/daemon"
	"github.com/loykin/yeet/internal/history"
	"github.com/loykin/yeet/internal/history/factory"
	"github.com/loykin/yeet/internal/launcher"
	"github.com/loykin/yeet/internal/presenter"
	"github.com/loykin/yeet/internal/state"
	"github.com/loykin/yeet/internal/tunnel"
)

// Re-export the types callers see.

type Config = config.Config

type Record = state.Record

type Status = launcher.Status

type ShareResult = launcher.Result

type KillResult = launcher.KillResult

type Event = history.Event

var (
	ErrHandshakeTimeout = launcher.ErrHandshakeTimeout
	ErrDaemonExited     = launcher.ErrDaemonExited
	ErrPortBusy         = launcher.ErrPortBusy
	ErrNoRecord         = launcher.ErrNoRecord
	ErrNoHistory        = errors.New("history is disabled or its sink cannot list events")
)

// Options tune an App beyond its Config.
type Options struct {
	Logger *slog.Logger
	// Spawner starts the daemon. Nil re-executes the running binary with
	// DaemonArgs appended.
	Spawner    daemon.Spawner
	DaemonArgs []string
}

type App struct {
	cfg      Config
	log      *slog.Logger
	store    *state.Store
	recorder *history.Recorder
	launcher *launcher.Launcher
}

func New(cfg Config, opts Options) (*App, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	store := state.New(cfg.StatePath())
	rec := OpenHistory(cfg, log)
	sp := opts.Spawner
	if sp == nil {
		sp = daemon.Exec{ExtraArgs: opts.DaemonArgs}
	}
	l, err := launcher.New(launcher.Config{
		Store:            store,
		Spawner:          sp,
		History:          rec,
		Logger:           log,
		HandshakeTimeout: cfg.Launcher.HandshakeTimeout,
		PollInterval:     cfg.Launcher.PollInterval,
		TunnelBinary:     cfg.Tunnel.Binary,
		LogPath:          cfg.LogPath(),
	})
	if err != nil {
		_ = rec.Close()
		return nil, err
	}
	return &App{cfg: cfg, log: log, store: store, recorder: rec, launcher: l}, nil
}

// OpenHistory builds the recorder for cfg's history DSN. A sink that cannot
// be opened is logged and left out.
func OpenHistory(cfg Config, log *slog.Logger) *history.Recorder {
	dsn := cfg.HistoryDSN()
	if dsn == "" {
		return history.NewRecorder(log)
	}
	sink, err := factory.NewSinkFromDSN(dsn)
	if err != nil {
		log.Warn("history disabled", "error", err)
		return history.NewRecorder(log)
	}
	return history.NewRecorder(log, sink)
}

func (a *App) Config() Config { return a.cfg }

func (a *App) Store() *state.Store { return a.store }

// ResolvePath returns the absolute path of an existing file or directory.
func ResolvePath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}
	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("path does not exist: %s", p)
		}
		return "", err
	}
	return abs, nil
}

// Share publishes path on port, reusing a live job on the same port.
func (a *App) Share(ctx context.Context, path string, port int, replace bool) (ShareResult, error) {
	abs, err := ResolvePath(path)
	if err != nil {
		return ShareResult{}, err
	}
	if port == 0 {
		port = a.cfg.Port
	}
	return a.launcher.Share(ctx, daemon.Job{ResourcePath: abs, Port: port}, replace)
}

func (a *App) Status(ctx context.Context) (Status, error) { return a.launcher.Status(ctx) }

func (a *App) Kill(ctx context.Context) (KillResult, error) { return a.launcher.Kill(ctx) }

// History lists the latest job events, newest first.
func (a *App) History(ctx context.Context, limit int) ([]Event, error) {
	r, ok := a.recorder.Reader()
	if !ok {
		return nil, ErrNoHistory
	}
	return r.Recent(ctx, limit)
}

// Present shows the current job on out. With live set it keeps redrawing
// until ctx is done or the job goes away.
func (a *App) Present(ctx context.Context, out io.Writer, live bool) error {
	th := presenter.PlainTheme()
	if live {
		th = presenter.DefaultTheme()
	}
	return presenter.New(presenter.Config{
		Store:     a.store,
		StatePath: a.store.Path(),
		Out:       out,
		Theme:     th,
		Refresh:   a.cfg.Presenter.Refresh,
		Live:      live,
		Logger:    a.log,
	}).Run(ctx)
}

func (a *App) Close() error { return a.recorder.Close() }

// RunDaemon is the body of the detached daemon: it serves path on port and
// runs the tunnel client until ctx is cancelled or the client exits.
func RunDaemon(ctx context.Context, cfg Config, path string, port int, log *slog.Logger) error {
	abs, err := ResolvePath(path)
	if err != nil {
		return err
	}
	ex, err := tunnel.NewExtractor(cfg.Tunnel.Pattern)
	if err != nil {
		return err
	}
	rec := OpenHistory(cfg, log)
	defer func() { _ = rec.Close() }()

	return daemon.Run(ctx, daemon.Config{
		Job:   daemon.Job{ResourcePath: abs, Port: port},
		Store: state.New(cfg.StatePath()),
		Tunnel: daemon.TunnelConfig{
			Binary:    cfg.Tunnel.Binary,
			Args:      cfg.Tunnel.Args,
			Extractor: ex,
		},
		Logger:          log,
		History:         rec,
		Metrics:         cfg.Metrics.Enabled,
		ShutdownTimeout: 5 * time.Second,
	})
}
