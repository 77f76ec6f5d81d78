package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/yeet/internal/history"
	"github.com/loykin/yeet/internal/state"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "history.db")

	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	rec := state.Record{
		PID:          12345,
		Port:         8000,
		ResourcePath: "/tmp/cat.jpg",
		CreatedAt:    time.Now().Unix(),
	}
	base := time.Now().UTC().Truncate(time.Millisecond)

	if err := sink.Send(ctx, history.Event{Type: history.EventSpawned, OccurredAt: base, Record: rec}); err != nil {
		t.Fatalf("Failed to send spawned event: %v", err)
	}
	rec.URL = "https://abc.trycloudflare.com/cat.jpg"
	if err := sink.Send(ctx, history.Event{Type: history.EventPublished, OccurredAt: base.Add(time.Second), Record: rec}); err != nil {
		t.Fatalf("Failed to send published event: %v", err)
	}
	if err := sink.Send(ctx, history.Event{Type: history.EventKilled, OccurredAt: base.Add(2 * time.Second), Record: rec, Detail: "SIGTERM"}); err != nil {
		t.Fatalf("Failed to send killed event: %v", err)
	}

	var count int
	if err := sink.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM yeet_history WHERE pid = ?", rec.PID).Scan(&count); err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	if count != 3 {
		t.Fatalf("Expected 3 events in history, got %d", count)
	}

	got, err := sink.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 recent events, got %d", len(got))
	}
	if got[0].Type != history.EventKilled || got[0].Detail != "SIGTERM" {
		t.Errorf("Newest event should be killed, got %+v", got[0])
	}
	if got[1].Type != history.EventPublished || got[1].Record.URL != rec.URL {
		t.Errorf("Second event should be published, got %+v", got[1])
	}
	if !got[1].OccurredAt.Equal(base.Add(time.Second)) {
		t.Errorf("Timestamp mismatch: %v vs %v", got[1].OccurredAt, base.Add(time.Second))
	}
	if got[0].Record.ResourcePath != "/tmp/cat.jpg" || got[0].Record.Port != 8000 {
		t.Errorf("Record fields lost: %+v", got[0].Record)
	}
}

func TestSQLiteSink_Memory(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	if err := sink.Send(ctx, history.Event{Type: history.EventReaped, OccurredAt: time.Now(), Record: state.Record{PID: 1}}); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := sink.Recent(ctx, 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("Recent = %v, %v", got, err)
	}
}

func TestSQLiteSink_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "h.db")
	s1, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.Send(context.Background(), history.Event{Type: history.EventSpawned, OccurredAt: time.Now(), Record: state.Record{PID: 2}}); err != nil {
		t.Fatal(err)
	}
	_ = s1.Close()

	s2, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s2.Close() }()
	got, err := s2.Recent(context.Background(), 5)
	if err != nil || len(got) != 1 || got[0].Record.PID != 2 {
		t.Fatalf("Recent after reopen = %+v, %v", got, err)
	}
}

func TestNew_EmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
	if _, err := New("sqlite://"); err == nil {
		t.Fatal("expected error for bare scheme")
	}
}
