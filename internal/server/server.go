// Package server serves the shared file or directory on the loopback
// interface, plus a few read-only endpoints under /_yeet/ describing the
// traffic it has seen.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/yeet/internal/metrics"
)

// InternalPrefix holds yeet's own endpoints. Requests below it are not
// counted as traffic.
const InternalPrefix = "/_yeet"

// Config describes what to serve and where.
type Config struct {
	Root   string // file or directory to share
	Port   int
	Logger *slog.Logger
	// Phase reports the daemon phase for the health endpoint.
	Phase func() string
	// Gatherer backs /_yeet/metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Now      func() time.Time
	LogSize  int
}

// Server is the resource HTTP server.
type Server struct {
	cfg   Config
	root  string // absolute, symlinks resolved
	name  string // base name of the resource
	isDir bool

	stats  *Stats
	reqLog *RequestLog
	engine *gin.Engine

	http *http.Server
	ln   net.Listener
}

// New validates the resource and builds the handler. It does not bind.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	abs, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, err
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", cfg.Root, err)
	}
	fi, err := os.Stat(real)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:    cfg,
		root:   real,
		name:   filepath.Base(abs),
		isDir:  fi.IsDir(),
		stats:  NewStats(cfg.Now),
		reqLog: NewRequestLog(cfg.LogSize),
	}
	s.engine = s.buildEngine()
	return s, nil
}

func (s *Server) buildEngine() *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery(), s.track())
	api := g.Group(InternalPrefix)
	api.GET("/stats", s.handleStats)
	api.GET("/files", s.handleFiles)
	api.GET("/logs", s.handleLogs)
	api.GET("/health", s.handleHealth)
	if s.cfg.Gatherer != nil {
		h := metrics.HandlerFor(s.cfg.Gatherer)
		api.GET("/metrics", gin.WrapH(h))
	}
	g.NoRoute(s.serveResource)
	return g
}

// Handler returns the gin engine as an http.Handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) Stats() *Stats { return s.stats }

func (s *Server) IsDir() bool { return s.isDir }

// Listen binds 127.0.0.1:<port>. It never binds a public interface.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.cfg.Port, err)
	}
	s.ln = ln
	s.http = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Serve blocks until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve() error {
	if s.ln == nil {
		return errors.New("server: Serve called before Listen")
	}
	s.cfg.Logger.Info("serving", "addr", s.Addr(), "root", s.root, "dir", s.isDir)
	if err := s.http.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// --- middleware ---

func internalPath(p string) bool {
	return p == InternalPrefix || strings.HasPrefix(p, InternalPrefix+"/")
}

// track feeds Stats and the request log for resource requests.
func (s *Server) track() gin.HandlerFunc {
	return func(c *gin.Context) {
		if internalPath(path.Clean("/" + c.Request.URL.Path)) {
			c.Next()
			return
		}
		ip := c.ClientIP()
		s.stats.Begin(ip)
		cw := &countingWriter{ResponseWriter: c.Writer, stats: s.stats}
		c.Writer = cw
		defer func() {
			served := ""
			if cw.Status() < http.StatusBadRequest {
				served = path.Clean("/" + c.Request.URL.Path)
			}
			s.stats.End(served, cw.n)
			s.reqLog.Add(RequestEntry{
				Timestamp: s.cfg.Now().Unix(),
				Method:    c.Request.Method,
				Path:      c.Request.URL.Path,
				Status:    cw.Status(),
				SizeBytes: cw.n,
				UserAgent: c.Request.UserAgent(),
				IP:        ip,
			})
		}()
		c.Next()
	}
}

type countingWriter struct {
	gin.ResponseWriter
	stats *Stats
	n     uint64
}

func (w *countingWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.count(n)
	return n, err
}

func (w *countingWriter) WriteString(str string) (int, error) {
	n, err := w.ResponseWriter.WriteString(str)
	w.count(n)
	return n, err
}

func (w *countingWriter) count(n int) {
	if n > 0 {
		w.n += uint64(n)
		w.stats.AddBytes(n)
	}
}

// --- handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type healthResp struct {
	OK    bool   `json:"ok"`
	Phase string `json:"phase,omitempty"`
}

func (s *Server) handleStats(c *gin.Context) { writeJSON(c, http.StatusOK, s.stats.Snapshot()) }

func (s *Server) handleFiles(c *gin.Context) {
	files := s.stats.Files()
	if files == nil {
		files = []FileStats{}
	}
	writeJSON(c, http.StatusOK, files)
}

func (s *Server) handleLogs(c *gin.Context) { writeJSON(c, http.StatusOK, s.reqLog.Recent()) }

func (s *Server) handleHealth(c *gin.Context) {
	resp := healthResp{OK: true}
	if s.cfg.Phase != nil {
		resp.Phase = s.cfg.Phase()
	}
	writeJSON(c, http.StatusOK, resp)
}

func (s *Server) serveResource(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.Header("Allow", "GET, HEAD")
		writeJSON(c, http.StatusMethodNotAllowed, errorResp{Error: "method not allowed"})
		return
	}
	reqPath := path.Clean("/" + c.Request.URL.Path)
	if !s.isDir {
		if reqPath != "/" && reqPath != "/"+s.name {
			s.notFound(c)
			return
		}
		s.serveFile(c, s.root, s.name)
		return
	}

	real, fi, err := resolve(s.root, reqPath)
	if err != nil {
		s.notFound(c)
		return
	}
	if !fi.IsDir() {
		// a symlinked entry downloads under the name it was requested by
		s.serveFile(c, real, path.Base(reqPath))
		return
	}
	entries, err := listDir(s.root, real)
	if err != nil {
		s.cfg.Logger.Warn("list directory", "path", reqPath, "error", err)
		s.notFound(c)
		return
	}
	title := s.name
	if reqPath != "/" {
		title = s.name + reqPath
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if c.Request.Method == http.MethodHead {
		return
	}
	if err := renderIndex(c.Writer, title, reqPath, entries); err != nil {
		s.cfg.Logger.Warn("render index", "path", reqPath, "error", err)
	}
}

func (s *Server) serveFile(c *gin.Context, p, name string) {
	f, err := os.Open(p)
	if err != nil {
		s.notFound(c)
		return
	}
	defer func() { _ = f.Close() }()
	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		s.notFound(c)
		return
	}
	c.Header("Content-Type", "application/octet-stream")
	c.Header("Content-Disposition", contentDisposition(name))
	http.ServeContent(c.Writer, c.Request, name, fi.ModTime(), f)
}

func (s *Server) notFound(c *gin.Context) {
	c.String(http.StatusNotFound, "File not found")
}

// contentDisposition builds an attachment header value for filename.
func contentDisposition(name string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\r", "", "\n", "")
	return `attachment; filename="` + r.Replace(name) + `"`
}
