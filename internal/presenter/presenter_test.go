package presenter

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/yeet/internal/history"
	"github.com/loykin/yeet/internal/launcher"
	"github.com/loykin/yeet/internal/logger"
	"github.com/loykin/yeet/internal/process"
	"github.com/loykin/yeet/internal/state"
	"github.com/loykin/yeet/pkg/client"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func tenByteFile(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cat.jpg")
	require.NoError(t, os.WriteFile(p, []byte("0123456789"), 0o644))
	return p
}

func TestRenderFile(t *testing.T) {
	rec := state.Record{URL: "https://abc.trycloudflare.com/cat.jpg", PID: 4242, Port: 8000, ResourcePath: tenByteFile(t), CreatedAt: 1_700_000_000}
	v := NewView(rec, true, time.Unix(1_700_000_000+90*60, 0))
	v.Stats = &client.Stats{TotalRequests: 1200, TotalBytesSent: 2048, ActiveConnections: 1, UniqueIPs: 3, RequestsPerMinute: 4}

	var buf bytes.Buffer
	Render(&buf, v, PlainTheme())
	out := buf.String()
	for _, want := range []string{
		"YEET // cat.jpg",
		"https://abc.trycloudflare.com/cat.jpg",
		"(10 B)",
		"8000",
		"4242 running",
		"1h30m0s",
		"1,200 requests, 2.0 KiB sent",
		"1 active, 3 unique, 4 req/min",
	} {
		assert.Contains(t, out, want)
	}
}

func TestRenderStates(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	Render(&buf, NewView(state.Record{PID: 1, ResourcePath: dir}, false, time.Now()), PlainTheme())
	out := buf.String()
	assert.Contains(t, out, "waiting for tunnel")
	assert.Contains(t, out, "(directory)")
	assert.Contains(t, out, "1 dead")

	buf.Reset()
	Render(&buf, NewView(state.Record{PID: 1, ResourcePath: filepath.Join(dir, "gone")}, true, time.Now()), PlainTheme())
	assert.Contains(t, buf.String(), "(missing)")
}

func TestStatusViewIncludesProcessInfo(t *testing.T) {
	st := launcher.Status{
		Record:   state.Record{PID: 7, Port: 8000, ResourcePath: tenByteFile(t)},
		Alive:    true,
		AgeHours: 2,
		Info:     &process.Info{PID: 7, RSSBytes: 3 << 20, CPUPercent: 1.5, Children: []int{8}},
	}
	var buf bytes.Buffer
	Render(&buf, StatusView(st), PlainTheme())
	out := buf.String()
	assert.Contains(t, out, "3.0 MiB rss, 1.5% cpu")
	assert.Contains(t, out, "children 1")
	assert.Contains(t, out, "2h0m0s")
}

func TestRenderHistory(t *testing.T) {
	var buf bytes.Buffer
	RenderHistory(&buf, nil, PlainTheme())
	assert.Contains(t, buf.String(), "no history")

	buf.Reset()
	RenderHistory(&buf, []history.Event{
		{Type: history.EventPublished, OccurredAt: time.Now(), Record: state.Record{PID: 9, Port: 8000, URL: "https://x.trycloudflare.com"}},
		{Type: history.EventKilled, OccurredAt: time.Now(), Record: state.Record{PID: 9, Port: 8000}, Detail: "already dead"},
	}, PlainTheme())
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "published")
	assert.Contains(t, lines[0], "https://x.trycloudflare.com")
	assert.Contains(t, lines[1], "(already dead)")
}

func TestRunOnceWhenNotLive(t *testing.T) {
	store := state.New(filepath.Join(t.TempDir(), state.FileName))
	require.NoError(t, store.Save(state.Record{URL: "https://abc.trycloudflare.com", PID: 1, Port: 8000, ResourcePath: t.TempDir()}))

	var out syncBuffer
	calls := 0
	p := New(Config{
		Store:  store,
		Out:    &out,
		Theme:  PlainTheme(),
		Alive:  func(int) bool { return true },
		Stats:  func(context.Context, int) (*client.Stats, error) { calls++; return nil, errors.New("down") },
		Logger: logger.Discard(),
	})
	require.NoError(t, p.Run(context.Background()))
	assert.Contains(t, out.String(), "https://abc.trycloudflare.com")
	assert.NotContains(t, out.String(), clearScreen)
	assert.Equal(t, 1, calls)
}

func TestRunNoRecord(t *testing.T) {
	var out syncBuffer
	p := New(Config{Store: state.New(filepath.Join(t.TempDir(), state.FileName)), Out: &out, Live: true, Logger: logger.Discard()})
	require.NoError(t, p.Run(context.Background()))
	assert.Contains(t, out.String(), "tunnel stopped")
}

func TestRunLiveStopsWhenRecordRemoved(t *testing.T) {
	path := filepath.Join(t.TempDir(), state.FileName)
	store := state.New(path)
	require.NoError(t, store.Save(state.Record{PID: 1, Port: 8000, ResourcePath: t.TempDir()}))

	var out syncBuffer
	p := New(Config{
		Store:     store,
		StatePath: path,
		Out:       &out,
		Theme:     PlainTheme(),
		Refresh:   50 * time.Millisecond,
		Live:      true,
		Alive:     func(int) bool { return true },
		Stats:     func(context.Context, int) (*client.Stats, error) { return &client.Stats{}, nil },
		Logger:    logger.Discard(),
	})

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, store.Save(state.Record{URL: "https://late.trycloudflare.com", PID: 1, Port: 8000, ResourcePath: t.TempDir()}))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "https://late.trycloudflare.com")
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, store.Delete())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("presenter did not stop after the record was removed")
	}
	assert.Contains(t, out.String(), "tunnel stopped")
	assert.Contains(t, out.String(), clearScreen)
}

func TestRunLiveContextCancel(t *testing.T) {
	store := state.New(filepath.Join(t.TempDir(), state.FileName))
	require.NoError(t, store.Save(state.Record{PID: 1, Port: 8000, ResourcePath: t.TempDir()}))
	p := New(Config{Store: store, Out: &syncBuffer{}, Live: true, Refresh: time.Hour,
		Alive: func(int) bool { return false }, Logger: logger.Discard()})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))
}
