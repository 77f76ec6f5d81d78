// Package presenter shows the current job in the terminal. It only reads the
// state record and the daemon's stats endpoint; it never changes the job.
package presenter

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/fsnotify/fsnotify"

	"github.com/loykin/yeet/internal/process"
	"github.com/loykin/yeet/internal/state"
	"github.com/loykin/yeet/pkg/client"
)

const (
	DefaultRefresh = 3 * time.Second
	clearScreen    = "\x1b[H\x1b[2J"
	// state writes arrive as create+rename; coalesce them into one redraw
	debounce = 50 * time.Millisecond
)

// Loader is the read side of the state store.
type Loader interface {
	Load() (state.Record, bool)
}

// StatsFunc fetches traffic stats for the daemon on port.
type StatsFunc func(ctx context.Context, port int) (*client.Stats, error)

type Config struct {
	Store Loader
	// StatePath is the record file; its directory is watched for changes.
	StatePath string
	Out       io.Writer
	Theme     Theme
	Refresh   time.Duration
	// Live redraws until ctx is done or the record goes away. Otherwise
	// one frame is written.
	Live   bool
	Alive  func(pid int) bool
	Stats  StatsFunc
	Logger *slog.Logger
	Now    func() time.Time
}

type Presenter struct {
	cfg Config
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool { return term.IsTerminal(f.Fd()) }

func New(cfg Config) *Presenter {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Refresh <= 0 {
		cfg.Refresh = DefaultRefresh
	}
	if cfg.Alive == nil {
		cfg.Alive = process.Exists
	}
	if cfg.Stats == nil {
		cfg.Stats = fetchStats
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Presenter{cfg: cfg}
}

func fetchStats(ctx context.Context, port int) (*client.Stats, error) {
	s, err := client.New(client.ForPort(port)).Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Frame builds the current view. ok is false when there is no record.
func (p *Presenter) Frame(ctx context.Context) (View, bool) {
	rec, ok := p.cfg.Store.Load()
	if !ok {
		return View{}, false
	}
	v := NewView(rec, p.cfg.Alive(rec.PID), p.cfg.Now())
	if v.Alive {
		if s, err := p.cfg.Stats(ctx, rec.Port); err == nil {
			v.Stats = s
		} else {
			p.cfg.Logger.Debug("fetch stats", "port", rec.Port, "error", err)
		}
	}
	return v, true
}

// Run draws frames until ctx is done or the job disappears. Leaving Run
// never touches the daemon.
func (p *Presenter) Run(ctx context.Context) error {
	if !p.draw(ctx) || !p.cfg.Live {
		return nil
	}

	var events <-chan fsnotify.Event
	var errs <-chan error
	if p.cfg.StatePath != "" {
		w, err := fsnotify.NewWatcher()
		if err == nil {
			defer func() { _ = w.Close() }()
			if addErr := w.Add(filepath.Dir(p.cfg.StatePath)); addErr != nil {
				p.cfg.Logger.Debug("watch state dir, polling only", "error", addErr)
			} else {
				events, errs = w.Events, w.Errors
			}
		} else {
			p.cfg.Logger.Debug("fsnotify unavailable, polling only", "error", err)
		}
	}

	ticker := time.NewTicker(p.cfg.Refresh)
	defer ticker.Stop()
	var pending <-chan time.Time
	name := filepath.Base(p.cfg.StatePath)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if pending == nil {
				pending = time.After(debounce)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			p.cfg.Logger.Debug("state watch", "error", err)
		case <-pending:
			pending = nil
			if !p.draw(ctx) {
				return nil
			}
		case <-ticker.C:
			if !p.draw(ctx) {
				return nil
			}
		}
	}
}

func (p *Presenter) draw(ctx context.Context) bool {
	v, ok := p.Frame(ctx)
	if p.cfg.Live {
		_, _ = io.WriteString(p.cfg.Out, clearScreen)
	}
	if !ok {
		_, _ = io.WriteString(p.cfg.Out, p.cfg.Theme.Dim.Render("tunnel stopped")+"\n")
		return false
	}
	Render(p.cfg.Out, v, p.cfg.Theme)
	if p.cfg.Live {
		_, _ = io.WriteString(p.cfg.Out, "\n"+p.cfg.Theme.Dim.Render("ctrl-c to exit; the tunnel keeps running (yeet --kill stops it)")+"\n")
	}
	return true
}
