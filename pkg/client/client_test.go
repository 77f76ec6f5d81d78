package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/yeet/internal/logger"
	"github.com/loykin/yeet/internal/server"
)

func newDaemonServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))
	srv, err := server.New(server.Config{
		Root:   dir,
		Logger: logger.Discard(),
		Phase:  func() string { return "url_known" },
	})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestClientAgainstServer(t *testing.T) {
	ts := newDaemonServer(t)
	resp, err := http.Get(ts.URL + "/a.txt")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	c := New(Config{BaseURL: ts.URL + server.InternalPrefix, Logger: logger.Discard()})
	ctx := context.Background()

	assert.True(t, c.IsReachable(ctx))

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "url_known", h.Phase)

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.TotalRequests)
	assert.Equal(t, uint64(5), st.TotalBytesSent)

	files, err := c.Files(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "/a.txt", files[0].Name)

	logs, err := c.Logs(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, "/a.txt", logs[0].Path)
	assert.Equal(t, http.StatusOK, logs[0].Status)
}

func TestClientErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/_yeet/stats" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"boom"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL + "/_yeet", Logger: logger.Discard()})
	_, err := c.Stats(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	_, err = c.Logs(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
	assert.False(t, c.IsReachable(context.Background()))
}

func TestClientUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := New(Config{BaseURL: url + "/_yeet", Logger: logger.Discard()})
	_, err := c.Stats(context.Background())
	assert.Error(t, err)
}

func TestForPort(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:9001/_yeet", ForPort(9001).BaseURL)
	c := New(Config{})
	assert.Equal(t, DefaultConfig().BaseURL, c.baseURL)
}
