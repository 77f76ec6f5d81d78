// Package launcher reconciles a share request with the persisted job record:
// it reuses a live job, reclaims a stale one, or spawns a new daemon and waits
// for it to publish its public URL.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loykin/yeet/internal/daemon"
	"github.com/loykin/yeet/internal/history"
	"github.com/loykin/yeet/internal/process"
	"github.com/loykin/yeet/internal/state"
)

const (
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultPollInterval     = 500 * time.Millisecond
)

var (
	// ErrHandshakeTimeout means no record appeared before the handshake deadline.
	ErrHandshakeTimeout = errors.New("timed out waiting for the tunnel to come up")
	// ErrDaemonExited means the spawned daemon died before publishing.
	ErrDaemonExited = errors.New("daemon exited before publishing a url")
	// ErrPortBusy means a live job already serves a different port.
	ErrPortBusy = errors.New("another job is running on a different port")
	// ErrNoRecord means there is no job to report on.
	ErrNoRecord = errors.New("no active tunnel")
)

// Store is the part of the state store the launcher needs.
type Store interface {
	Load() (state.Record, bool)
	Delete() error
}

// Config wires a Launcher. Zero values fall back to the defaults above and
// the process package.
type Config struct {
	Store   Store
	Spawner daemon.Spawner
	History *history.Recorder
	Logger  *slog.Logger

	HandshakeTimeout time.Duration
	PollInterval     time.Duration
	KillGrace        time.Duration

	// TunnelBinary and LogPath only feed the remediation hints.
	TunnelBinary string
	LogPath      string

	Alive     func(pid int) bool
	Terminate func(pid int, grace time.Duration) error
	Inspect   func(pid int) (process.Info, error)
	Now       func() time.Time
}

type Launcher struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config) (*Launcher, error) {
	if cfg.Store == nil {
		return nil, errors.New("launcher: store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = process.DefaultGrace
	}
	if cfg.Alive == nil {
		cfg.Alive = process.Exists
	}
	if cfg.Terminate == nil {
		cfg.Terminate = process.TerminateGroup
	}
	if cfg.Inspect == nil {
		cfg.Inspect = process.Inspect
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Launcher{cfg: cfg, log: cfg.Logger}, nil
}

// Result is the outcome of Share.
type Result struct {
	Record   state.Record
	Decision Decision
	// Reused is true when no daemon was spawned.
	Reused bool
}

// Share makes sure a job for job.ResourcePath is published on job.Port.
// With replace set, a live job on another port is killed first instead of
// failing with ErrPortBusy.
func (l *Launcher) Share(ctx context.Context, job daemon.Job, replace bool) (Result, error) {
	rec, found := l.cfg.Store.Load()
	alive := found && l.cfg.Alive(rec.PID)
	d := Decide(rec, found, alive, job.Port)
	l.log.Debug("reconcile", "decision", d, "found", found, "alive", alive, "port", job.Port)

	switch d {
	case Reuse:
		l.cfg.History.Record(ctx, history.EventReused, rec, "")
		return Result{Record: rec, Decision: d, Reused: true}, nil
	case Conflict:
		if !replace {
			return Result{Record: rec, Decision: d}, fmt.Errorf("%w: port %d (%s, pid %d); use --kill or --replace",
				ErrPortBusy, rec.Port, urlOrPending(rec.URL), rec.PID)
		}
		if _, err := l.kill(ctx, rec, true); err != nil {
			return Result{Decision: d}, err
		}
	case Reclaim:
		l.log.Info("removing stale record", "pid", rec.PID, "port", rec.Port)
		if err := l.cfg.Store.Delete(); err != nil {
			return Result{Decision: d}, fmt.Errorf("remove stale record: %w", err)
		}
		l.cfg.History.Record(ctx, history.EventReaped, rec, "stale")
	}

	pid, err := l.cfg.Spawner.Spawn(job)
	if err != nil {
		return Result{Decision: d}, fmt.Errorf("spawn daemon: %w", err)
	}
	l.log.Info("daemon spawned", "pid", pid, "port", job.Port, "path", job.ResourcePath)
	l.cfg.History.Record(ctx, history.EventSpawned, state.Record{
		PID: pid, Port: job.Port, ResourcePath: job.ResourcePath, CreatedAt: l.cfg.Now().Unix(),
	}, "")

	got, err := l.WaitForRecord(ctx, pid, job.Port)
	if err != nil {
		return Result{Decision: d}, err
	}
	return Result{Record: got, Decision: d}, nil
}

// WaitForRecord polls the store until the daemon pid publishes a record,
// the handshake timeout passes, the daemon dies, or ctx is done.
func (l *Launcher) WaitForRecord(ctx context.Context, pid, port int) (state.Record, error) {
	deadline := time.NewTimer(l.cfg.HandshakeTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(l.cfg.PollInterval)
	defer tick.Stop()

	for {
		if rec, ok := l.cfg.Store.Load(); ok && rec.PID == pid && rec.URL != "" {
			return rec, nil
		}
		if !l.cfg.Alive(pid) {
			return state.Record{}, fmt.Errorf("%w (pid %d)\n%s", ErrDaemonExited, pid, l.hints(port))
		}
		select {
		case <-ctx.Done():
			return state.Record{}, ctx.Err()
		case <-deadline.C:
			return state.Record{}, fmt.Errorf("%w after %s\n%s", ErrHandshakeTimeout, l.cfg.HandshakeTimeout, l.hints(port))
		case <-tick.C:
		}
	}
}

func (l *Launcher) hints(port int) string {
	bin := l.cfg.TunnelBinary
	if bin == "" {
		bin = "cloudflared"
	}
	var b strings.Builder
	b.WriteString("Check that:\n")
	fmt.Fprintf(&b, "  - %s is installed and on PATH\n", bin)
	b.WriteString("  - outbound connections to Cloudflare are not blocked\n")
	fmt.Fprintf(&b, "  - port %d is not used by another program (try --port)\n", port)
	if l.cfg.LogPath != "" {
		fmt.Fprintf(&b, "Daemon log: %s", l.cfg.LogPath)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Status describes the current job.
type Status struct {
	Record   state.Record
	Alive    bool
	AgeHours float64
	// Info is best effort and nil when the process could not be inspected.
	Info *process.Info
}

// Status reports on the recorded job. A dead job's record is removed and
// reported with Alive false. Without a record it returns ErrNoRecord.
func (l *Launcher) Status(ctx context.Context) (Status, error) {
	rec, ok := l.cfg.Store.Load()
	if !ok {
		return Status{}, ErrNoRecord
	}
	st := Status{Record: rec, AgeHours: rec.AgeHoursAt(l.cfg.Now())}
	if !l.cfg.Alive(rec.PID) {
		l.log.Info("removing stale record", "pid", rec.PID)
		if err := l.cfg.Store.Delete(); err != nil {
			return st, fmt.Errorf("remove stale record: %w", err)
		}
		l.cfg.History.Record(ctx, history.EventReaped, rec, "status")
		return st, nil
	}
	st.Alive = true
	if info, err := l.cfg.Inspect(rec.PID); err == nil {
		st.Info = &info
	} else {
		l.log.Debug("inspect daemon", "pid", rec.PID, "error", err)
	}
	return st, nil
}

// KillResult reports what Kill found.
type KillResult struct {
	Record state.Record
	Found  bool
	// WasAlive is false when the recorded daemon had already exited.
	WasAlive bool
	// SignalErr is a termination failure; the record is removed regardless.
	SignalErr error
}

// Kill terminates the recorded job's process group and removes the record.
// Killing when nothing is recorded is not an error.
func (l *Launcher) Kill(ctx context.Context) (KillResult, error) {
	rec, ok := l.cfg.Store.Load()
	if !ok {
		return KillResult{}, nil
	}
	return l.kill(ctx, rec, l.cfg.Alive(rec.PID))
}

func (l *Launcher) kill(ctx context.Context, rec state.Record, alive bool) (KillResult, error) {
	res := KillResult{Record: rec, Found: true, WasAlive: alive}
	if alive {
		if err := l.cfg.Terminate(rec.PID, l.cfg.KillGrace); err != nil {
			res.SignalErr = err
			l.log.Warn("terminate daemon", "pid", rec.PID, "error", err)
		}
	} else {
		l.log.Warn("daemon already exited", "pid", rec.PID)
	}
	if err := l.cfg.Store.Delete(); err != nil {
		return res, fmt.Errorf("remove record: %w", err)
	}
	detail := ""
	if !alive {
		detail = "already dead"
	}
	l.cfg.History.Record(ctx, history.EventKilled, rec, detail)
	return res, nil
}

func urlOrPending(u string) string {
	if u == "" {
		return "url pending"
	}
	return u
}
