package launcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/yeet/internal/daemon"
	"github.com/loykin/yeet/internal/history"
	"github.com/loykin/yeet/internal/logger"
	"github.com/loykin/yeet/internal/process"
	"github.com/loykin/yeet/internal/state"
)

type memStore struct {
	mu      sync.Mutex
	rec     state.Record
	has     bool
	deletes int
}

func (s *memStore) Load() (state.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec, s.has
}

func (s *memStore) Save(r state.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec, s.has = r, true
	return nil
}

func (s *memStore) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec, s.has = state.Record{}, false
	s.deletes++
	return nil
}

type memSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memSink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memSink) types() []history.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]history.EventType, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

type harness struct {
	store   *memStore
	sink    *memSink
	alive   map[int]bool
	spawned []daemon.Job
	killed  []int
	// publish, when set, saves a record for the spawned pid.
	publish bool
	nextPID int
	l       *Launcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: &memStore{}, sink: &memSink{}, alive: map[int]bool{}, publish: true, nextPID: 5000}
	var mu sync.Mutex
	l, err := New(Config{
		Store:   h.store,
		History: history.NewRecorder(logger.Discard(), h.sink),
		Logger:  logger.Discard(),
		Spawner: daemon.SpawnFunc(func(job daemon.Job) (int, error) {
			mu.Lock()
			defer mu.Unlock()
			h.spawned = append(h.spawned, job)
			pid := h.nextPID
			h.nextPID++
			h.alive[pid] = true
			if h.publish {
				_ = h.store.Save(state.Record{URL: "https://new.trycloudflare.com", PID: pid, Port: job.Port, ResourcePath: job.ResourcePath, CreatedAt: time.Now().Unix()})
			}
			return pid, nil
		}),
		HandshakeTimeout: 200 * time.Millisecond,
		PollInterval:     10 * time.Millisecond,
		Alive: func(pid int) bool {
			mu.Lock()
			defer mu.Unlock()
			return h.alive[pid]
		},
		Terminate: func(pid int, _ time.Duration) error {
			mu.Lock()
			defer mu.Unlock()
			h.killed = append(h.killed, pid)
			delete(h.alive, pid)
			return nil
		},
		Inspect: func(pid int) (process.Info, error) { return process.Info{PID: pid, RSSBytes: 1024}, nil },
	})
	require.NoError(t, err)
	h.l = l
	return h
}

func TestDecide(t *testing.T) {
	live := state.Record{PID: 1, Port: 8000}
	tests := []struct {
		name         string
		found, alive bool
		port         int
		want         Decision
	}{
		{"no record", false, false, 8000, Spawn},
		{"stale same port", true, false, 8000, Reclaim},
		{"stale other port", true, false, 9000, Reclaim},
		{"live same port", true, true, 8000, Reuse},
		{"live other port", true, true, 9000, Conflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(live, tt.found, tt.alive, tt.port))
		})
	}
}

func TestShareSpawnsWhenNoRecord(t *testing.T) {
	h := newHarness(t)
	res, err := h.l.Share(context.Background(), daemon.Job{ResourcePath: "/tmp/cat.jpg", Port: 8000}, false)
	require.NoError(t, err)
	assert.Equal(t, Spawn, res.Decision)
	assert.False(t, res.Reused)
	assert.Equal(t, 5000, res.Record.PID)
	assert.Len(t, h.spawned, 1)
	assert.Equal(t, []history.EventType{history.EventSpawned}, h.sink.types())
}

func TestShareReusesLiveSamePort(t *testing.T) {
	h := newHarness(t)
	existing := state.Record{URL: "https://old.trycloudflare.com", PID: 42, Port: 8000, ResourcePath: "/srv"}
	_ = h.store.Save(existing)
	h.alive[42] = true

	res, err := h.l.Share(context.Background(), daemon.Job{ResourcePath: "/other", Port: 8000}, false)
	require.NoError(t, err)
	assert.True(t, res.Reused)
	assert.Equal(t, existing, res.Record)
	assert.Empty(t, h.spawned, "reuse must not spawn")
	assert.Equal(t, []history.EventType{history.EventReused}, h.sink.types())
}

func TestShareReclaimsStaleRecord(t *testing.T) {
	for _, port := range []int{8000, 9000} {
		h := newHarness(t)
		_ = h.store.Save(state.Record{URL: "https://old.trycloudflare.com", PID: 42, Port: 8000})

		res, err := h.l.Share(context.Background(), daemon.Job{ResourcePath: "/srv", Port: port}, false)
		require.NoError(t, err)
		assert.Equal(t, Reclaim, res.Decision)
		assert.Equal(t, 1, h.store.deletes, "stale record deleted before spawn")
		assert.Len(t, h.spawned, 1)
		assert.Equal(t, port, res.Record.Port)
		assert.Equal(t, []history.EventType{history.EventReaped, history.EventSpawned}, h.sink.types())
	}
}

func TestShareRefusesOtherPort(t *testing.T) {
	h := newHarness(t)
	_ = h.store.Save(state.Record{URL: "https://old.trycloudflare.com", PID: 42, Port: 8000})
	h.alive[42] = true

	res, err := h.l.Share(context.Background(), daemon.Job{ResourcePath: "/srv", Port: 9000}, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPortBusy))
	assert.Contains(t, err.Error(), "https://old.trycloudflare.com")
	assert.Equal(t, Conflict, res.Decision)
	assert.Empty(t, h.spawned)
	assert.Empty(t, h.killed)
	rec, ok := h.store.Load()
	assert.True(t, ok)
	assert.Equal(t, 42, rec.PID)
}

func TestShareReplaceKillsOtherPort(t *testing.T) {
	h := newHarness(t)
	_ = h.store.Save(state.Record{URL: "https://old.trycloudflare.com", PID: 42, Port: 8000})
	h.alive[42] = true

	res, err := h.l.Share(context.Background(), daemon.Job{ResourcePath: "/srv", Port: 9000}, true)
	require.NoError(t, err)
	assert.Equal(t, []int{42}, h.killed)
	assert.Equal(t, 9000, res.Record.Port)
	assert.Equal(t, []history.EventType{history.EventKilled, history.EventSpawned}, h.sink.types())
}

func TestShareHandshakeTimeout(t *testing.T) {
	h := newHarness(t)
	h.publish = false
	h.l.cfg.LogPath = "/home/u/.yeet/daemon.log"

	_, err := h.l.Share(context.Background(), daemon.Job{ResourcePath: "/srv", Port: 8000}, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHandshakeTimeout))
	assert.Contains(t, err.Error(), "cloudflared is installed")
	assert.Contains(t, err.Error(), "port 8000")
	assert.Contains(t, err.Error(), "/home/u/.yeet/daemon.log")
}

func TestWaitForRecordDaemonDied(t *testing.T) {
	h := newHarness(t)
	_, err := h.l.WaitForRecord(context.Background(), 777, 8000)
	assert.True(t, errors.Is(err, ErrDaemonExited), "got %v", err)
}

func TestWaitForRecordIgnoresOtherPID(t *testing.T) {
	h := newHarness(t)
	h.alive[10] = true
	_ = h.store.Save(state.Record{URL: "https://old.trycloudflare.com", PID: 11, Port: 8000})

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = h.store.Save(state.Record{URL: "https://new.trycloudflare.com", PID: 10, Port: 8000})
	}()
	rec, err := h.l.WaitForRecord(context.Background(), 10, 8000)
	require.NoError(t, err)
	assert.Equal(t, "https://new.trycloudflare.com", rec.URL)
}

func TestWaitForRecordContextCancel(t *testing.T) {
	h := newHarness(t)
	h.alive[10] = true
	h.l.cfg.HandshakeTimeout = time.Minute
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := h.l.WaitForRecord(ctx, 10, 8000)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestKillTwice(t *testing.T) {
	h := newHarness(t)
	_ = h.store.Save(state.Record{URL: "https://x.trycloudflare.com", PID: 42, Port: 8000})
	h.alive[42] = true

	res, err := h.l.Kill(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.True(t, res.WasAlive)
	assert.Equal(t, []int{42}, h.killed)

	res, err = h.l.Kill(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Found)
	_, ok := h.store.Load()
	assert.False(t, ok)
}

func TestKillDeadDaemonStillDeletes(t *testing.T) {
	h := newHarness(t)
	_ = h.store.Save(state.Record{PID: 42, Port: 8000})

	res, err := h.l.Kill(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.False(t, res.WasAlive)
	assert.Empty(t, h.killed)
	_, ok := h.store.Load()
	assert.False(t, ok)
}

func TestKillSignalFailureStillDeletes(t *testing.T) {
	h := newHarness(t)
	_ = h.store.Save(state.Record{PID: 42, Port: 8000})
	h.alive[42] = true
	h.l.cfg.Terminate = func(int, time.Duration) error { return errors.New("operation not permitted") }

	res, err := h.l.Kill(context.Background())
	require.NoError(t, err)
	assert.Error(t, res.SignalErr)
	_, ok := h.store.Load()
	assert.False(t, ok)
}

func TestStatus(t *testing.T) {
	t.Run("no record", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.l.Status(context.Background())
		assert.True(t, errors.Is(err, ErrNoRecord))
	})
	t.Run("live", func(t *testing.T) {
		h := newHarness(t)
		now := time.Unix(1_700_007_200, 0)
		h.l.cfg.Now = func() time.Time { return now }
		_ = h.store.Save(state.Record{PID: 42, Port: 8000, CreatedAt: 1_700_000_000})
		h.alive[42] = true

		st, err := h.l.Status(context.Background())
		require.NoError(t, err)
		assert.True(t, st.Alive)
		assert.InDelta(t, 2.0, st.AgeHours, 1e-9)
		require.NotNil(t, st.Info)
		assert.Equal(t, uint64(1024), st.Info.RSSBytes)
		_, ok := h.store.Load()
		assert.True(t, ok)
	})
	t.Run("dead is removed", func(t *testing.T) {
		h := newHarness(t)
		_ = h.store.Save(state.Record{PID: 42, Port: 8000})

		st, err := h.l.Status(context.Background())
		require.NoError(t, err)
		assert.False(t, st.Alive)
		assert.Equal(t, 42, st.Record.PID)
		_, ok := h.store.Load()
		assert.False(t, ok)
		assert.Equal(t, []history.EventType{history.EventReaped}, h.sink.types())
	})
}
