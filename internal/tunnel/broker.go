// Package tunnel runs the external tunnel client and publishes the public
// URL it reports.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/yeet/internal/state"
)

// ErrNoURL is returned when the tunnel client exits before reporting a
// public URL.
var ErrNoURL = errors.New("tunnel client exited without reporting a public url")

// DefaultWaitDelay bounds how long Run waits for the client's output pipes
// to close after the client itself has exited or been killed.
const DefaultWaitDelay = 2 * time.Second

// Saver persists the published record.
type Saver interface {
	Save(state.Record) error
}

// Config describes one tunnel job.
type Config struct {
	Binary       string
	Args         []string // placed before the local URL
	Port         int
	ResourcePath string
	IsDir        bool
	PID          int // pid recorded as the job owner
	Store        Saver
	Extractor    Extractor
	Logger       *slog.Logger
	// OnPublish runs once, after the record has been saved.
	OnPublish func(state.Record)
	Now       func() time.Time
	WaitDelay time.Duration
}

// Broker owns the tunnel client process for one job.
type Broker struct {
	cfg Config

	published atomic.Bool
	mu        sync.Mutex
	rec       state.Record
}

// LocalURL is the address the tunnel client forwards to.
func LocalURL(port int) string { return "http://localhost:" + strconv.Itoa(port) }

func New(cfg Config) *Broker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = DefaultWaitDelay
	}
	if cfg.Extractor == nil {
		cfg.Extractor, _ = NewExtractor("")
	}
	return &Broker{cfg: cfg}
}

// Published returns the saved record once the URL is known.
func (b *Broker) Published() (state.Record, bool) {
	if !b.published.Load() {
		return state.Record{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rec, b.rec.URL != ""
}

// Run starts the tunnel client and blocks until it exits or ctx is done.
// A start failure is returned immediately. If the client exits before a URL
// was published the error wraps ErrNoURL.
func (b *Broker) Run(ctx context.Context) error {
	if b.cfg.Store == nil {
		return errors.New("tunnel: no store configured")
	}
	args := append(append([]string(nil), b.cfg.Args...), LocalURL(b.cfg.Port))
	cmd := exec.CommandContext(ctx, b.cfg.Binary, args...)
	cmd.WaitDelay = b.cfg.WaitDelay
	outW := newLineWriter(func(l string) { b.handleLine("stdout", l) })
	errW := newLineWriter(func(l string) { b.handleLine("stderr", l) })
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start tunnel client %s: %w", b.cfg.Binary, err)
	}
	b.cfg.Logger.Info("tunnel client started", "binary", b.cfg.Binary, "pid", cmd.Process.Pid, "local", LocalURL(b.cfg.Port))

	werr := cmd.Wait()
	outW.Flush()
	errW.Flush()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if _, ok := b.Published(); !ok {
		if werr != nil {
			return fmt.Errorf("%w: %v", ErrNoURL, werr)
		}
		return ErrNoURL
	}
	if werr != nil {
		return fmt.Errorf("tunnel client exited: %w", werr)
	}
	b.cfg.Logger.Info("tunnel client exited")
	return nil
}

func (b *Broker) handleLine(stream, line string) {
	b.cfg.Logger.Debug("tunnel client", "stream", stream, "line", line)
	if b.published.Load() {
		return
	}
	base, ok := b.cfg.Extractor.Extract(line)
	if !ok {
		return
	}
	if !b.published.CompareAndSwap(false, true) {
		return
	}
	rec := state.Record{
		URL:          PublicURL(base, b.cfg.ResourcePath, b.cfg.IsDir),
		PID:          b.cfg.PID,
		Port:         b.cfg.Port,
		ResourcePath: b.cfg.ResourcePath,
		CreatedAt:    b.cfg.Now().Unix(),
	}
	b.mu.Lock()
	err := b.cfg.Store.Save(rec)
	if err == nil {
		b.rec = rec
	}
	b.mu.Unlock()
	if err != nil {
		// let a later line retry
		b.published.Store(false)
		b.cfg.Logger.Error("save tunnel record", "error", err)
		return
	}
	b.cfg.Logger.Info("tunnel published", "url", rec.URL)
	if b.cfg.OnPublish != nil {
		b.cfg.OnPublish(rec)
	}
}
