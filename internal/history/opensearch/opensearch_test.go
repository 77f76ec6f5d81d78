package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loykin/yeet/internal/history"
	"github.com/loykin/yeet/internal/state"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var (
		receivedBody   []byte
		receivedURL    string
		receivedMethod string
		contentType    string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedURL = r.URL.Path
		contentType = r.Header.Get("Content-Type")
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_id":"test","_index":"test-index","result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL+"/", "test-index")
	event := history.Event{
		Type:       history.EventPublished,
		OccurredAt: time.Now().UTC(),
		Record:     state.Record{URL: "https://os.trycloudflare.com", PID: 12345, Port: 8000, ResourcePath: "/srv"},
		Detail:     "dir",
	}
	if err := sink.Send(context.Background(), event); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if receivedMethod != http.MethodPost {
		t.Errorf("Expected POST method, got: %s", receivedMethod)
	}
	if receivedURL != "/test-index/_doc" {
		t.Errorf("Expected URL /test-index/_doc, got: %s", receivedURL)
	}
	if contentType != "application/json" {
		t.Errorf("Expected JSON content type, got: %s", contentType)
	}

	var doc map[string]any
	if err := json.Unmarshal(receivedBody, &doc); err != nil {
		t.Fatalf("Failed to unmarshal body: %v", err)
	}
	if doc["type"] != "published" || doc["detail"] != "dir" {
		t.Errorf("Unexpected document: %v", doc)
	}
	rec, ok := doc["record"].(map[string]any)
	if !ok {
		t.Fatalf("missing record in payload: %v", doc)
	}
	if rec["url"] != "https://os.trycloudflare.com" || rec["file_path"] != "/srv" {
		t.Errorf("Unexpected record: %v", rec)
	}
}

func TestOpenSearchSink_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	sink := New(server.URL, "")
	err := sink.Send(context.Background(), history.Event{Type: history.EventFailed, OccurredAt: time.Now()})
	if err == nil {
		t.Fatal("Expected error for 400 response")
	}
}

func TestOpenSearchSink_DefaultIndex(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	if err := New(server.URL, "").Send(context.Background(), history.Event{Type: history.EventSpawned}); err != nil {
		t.Fatal(err)
	}
	if path != "/"+DefaultIndex+"/_doc" {
		t.Errorf("unexpected path %s", path)
	}
}

func TestOpenSearchSink_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := New(server.URL, "idx").Send(ctx, history.Event{Type: history.EventSpawned}); err == nil {
		t.Fatal("expected error with cancelled context")
	}
}
