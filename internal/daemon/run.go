// Package daemon turns the launcher into a detached background job and runs
// the resource server and tunnel broker inside it.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/loykin/yeet/internal/history"
	"github.com/loykin/yeet/internal/metrics"
	"github.com/loykin/yeet/internal/server"
	"github.com/loykin/yeet/internal/state"
	"github.com/loykin/yeet/internal/tunnel"
)

// DefaultShutdownTimeout bounds the HTTP server shutdown on exit.
const DefaultShutdownTimeout = 5 * time.Second

// Store is the part of the state store the daemon needs.
type Store interface {
	Save(state.Record) error
	Load() (state.Record, bool)
	Delete() error
}

// TunnelConfig selects the tunnel client.
type TunnelConfig struct {
	Binary    string
	Args      []string
	Extractor tunnel.Extractor
}

// Config describes one daemon run.
type Config struct {
	Job    Job
	PID    int // recorded owner pid; defaults to os.Getpid()
	Store  Store
	Tunnel TunnelConfig
	Logger *slog.Logger

	History *history.Recorder
	// Metrics enables /_yeet/metrics backed by a fresh registry.
	Metrics         bool
	ShutdownTimeout time.Duration
	// Ready, if set, is called once the listener is bound.
	Ready func(addr string)
}

// Run serves cfg.Job until the tunnel client exits or ctx is cancelled.
// Bind and tunnel start failures are returned; nothing is written to the
// store in that case.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PID == 0 {
		cfg.PID = os.Getpid()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Store == nil {
		return errors.New("daemon: no store configured")
	}
	log := cfg.Logger.With("pid", cfg.PID, "port", cfg.Job.Port)
	m := NewMachine(log)
	pending := state.Record{PID: cfg.PID, Port: cfg.Job.Port, ResourcePath: cfg.Job.ResourcePath}

	// sinks may be remote; keep them off the tunnel output path
	var recording sync.WaitGroup
	defer recording.Wait()

	fail := func(err error) error {
		_ = m.To(PhaseFailed)
		_ = m.To(PhaseExited)
		cfg.History.Record(context.Background(), history.EventFailed, pending, err.Error())
		log.Error("daemon failed", "error", err)
		return err
	}

	var (
		reg      *prometheus.Registry
		gatherer prometheus.Gatherer
	)
	if cfg.Metrics {
		reg = prometheus.NewRegistry()
		gatherer = reg
	}

	srv, err := server.New(server.Config{
		Root:     cfg.Job.ResourcePath,
		Port:     cfg.Job.Port,
		Logger:   log,
		Phase:    func() string { return string(m.Current()) },
		Gatherer: gatherer,
	})
	if err != nil {
		return fail(err)
	}
	if reg != nil {
		if err := registerCollectors(reg, srv, cfg.PID, log); err != nil {
			log.Warn("register metrics", "error", err)
		}
	}
	if err := srv.Listen(); err != nil {
		return fail(err)
	}
	if err := m.To(PhaseServing); err != nil {
		return fail(err)
	}
	if cfg.Ready != nil {
		cfg.Ready(srv.Addr())
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	tctx, cancelTunnel := context.WithCancel(ctx)
	defer cancelTunnel()
	started := time.Now()
	broker := tunnel.New(tunnel.Config{
		Binary:       cfg.Tunnel.Binary,
		Args:         cfg.Tunnel.Args,
		Port:         cfg.Job.Port,
		ResourcePath: cfg.Job.ResourcePath,
		IsDir:        srv.IsDir(),
		PID:          cfg.PID,
		Store:        cfg.Store,
		Extractor:    cfg.Tunnel.Extractor,
		Logger:       log,
		OnPublish: func(rec state.Record) {
			_ = m.To(PhaseURLKnown)
			metrics.ObservePublish(time.Since(started).Seconds())
			recording.Add(1)
			go func() {
				defer recording.Done()
				cfg.History.Record(context.Background(), history.EventPublished, rec, "")
			}()
		},
	})
	tunnelErr := make(chan error, 1)
	go func() { tunnelErr <- broker.Run(tctx) }()

	var runErr error
	select {
	case err := <-tunnelErr:
		runErr = err
	case err := <-serveErr:
		if err == nil {
			err = errors.New("http server stopped")
		}
		runErr = fmt.Errorf("http server: %w", err)
		cancelTunnel()
		<-tunnelErr
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn("http shutdown", "error", err)
	}

	if rec, ok := cfg.Store.Load(); ok && rec.PID == cfg.PID {
		if err := cfg.Store.Delete(); err != nil {
			log.Warn("remove own record", "error", err)
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fail(runErr)
	}
	_ = m.To(PhaseExited)
	log.Info("daemon exited")
	return nil
}

func registerCollectors(reg *prometheus.Registry, srv *server.Server, pid int, log *slog.Logger) error {
	if err := metrics.Register(reg); err != nil {
		return err
	}
	return errors.Join(
		reg.Register(srv.Stats()),
		reg.Register(metrics.NewProcessCollector(pid, nil, log)),
		reg.Register(collectors.NewGoCollector()),
	)
}
