// Package history records the lifecycle of tunnel jobs to an external sink.
// Recording is best effort: a failing sink never blocks or fails a job.
package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/loykin/yeet/internal/metrics"
	"github.com/loykin/yeet/internal/state"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventSpawned   EventType = "spawned"
	EventPublished EventType = "published"
	EventReused    EventType = "reused"
	EventKilled    EventType = "killed"
	EventReaped    EventType = "reaped"
	EventFailed    EventType = "failed"
)

// Event represents a lifecycle event of one job.
type Event struct {
	Type       EventType    `json:"type"`
	OccurredAt time.Time    `json:"occurred_at"`
	Record     state.Record `json:"record"`
	Detail     string       `json:"detail,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Reader is implemented by sinks that can list what they stored.
type Reader interface {
	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]Event, error)
}

// DefaultSendTimeout bounds a single Send.
const DefaultSendTimeout = 3 * time.Second

// Recorder fans events out to sinks and swallows their errors after
// logging them. A nil *Recorder is valid and records nothing.
type Recorder struct {
	sinks   []Sink
	log     *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewRecorder(log *slog.Logger, sinks ...Sink) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{sinks: sinks, log: log, timeout: DefaultSendTimeout, now: time.Now}
}

// Record sends one event to every sink.
func (r *Recorder) Record(ctx context.Context, typ EventType, rec state.Record, detail string) {
	if r == nil || len(r.sinks) == 0 {
		return
	}
	e := Event{Type: typ, OccurredAt: r.now().UTC(), Record: rec, Detail: detail}
	for _, s := range r.sinks {
		sctx, cancel := context.WithTimeout(ctx, r.timeout)
		err := s.Send(sctx, e)
		cancel()
		metrics.IncHistoryEvent(string(typ), err == nil)
		if err != nil {
			r.log.Warn("history sink", "event", typ, "error", err)
		}
	}
}

// Reader returns the first sink able to list events.
func (r *Recorder) Reader() (Reader, bool) {
	if r == nil {
		return nil, false
	}
	for _, s := range r.sinks {
		if rd, ok := s.(Reader); ok {
			return rd, true
		}
	}
	return nil, false
}

// Close closes every sink that holds resources.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, s := range r.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
