// Package gateway implements the WebSocket Gateway: the single duplex
// endpoint that accepts run/abort frames, multiplexes agent output and
// watcher events back to the originating socket, and manages client
// attach/detach.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/agentgateway/internal/agentrunner"
	"github.com/nextlevelbuilder/agentgateway/internal/apierr"
	"github.com/nextlevelbuilder/agentgateway/internal/pathsandbox"
	"github.com/nextlevelbuilder/agentgateway/internal/projects"
	"github.com/nextlevelbuilder/agentgateway/internal/watch"
	"github.com/nextlevelbuilder/agentgateway/pkg/protocol"
)

// Config holds the gateway's own bind/policy knobs. Config loading
// (flags, .env) lives in internal/config; the gateway only needs the
// resolved values.
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string
	// RateLimitRPM caps WebSocket upgrade requests per minute across
	// all clients (one server-wide limiter); 0 disables it. Frames on
	// an already-open socket are not rate-limited.
	RateLimitRPM int
}

// Server owns the listener, the attached client set, and the
// sub-components it fans frames in from and out to.
type Server struct {
	cfg         Config
	registry    *projects.Registry
	runner      *agentrunner.Runner
	broadcaster *watch.Broadcaster

	upgrader websocket.Upgrader
	limiter  *rate.Limiter

	mu      sync.RWMutex
	clients map[string]*Client

	ctx        context.Context
	cancel     context.CancelFunc
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer wires a gateway over an already-constructed registry,
// runner, and watch broadcaster — explicit owned fields rather than
// module-global singletons, with a defined startup/shutdown lifecycle.
func NewServer(cfg Config, registry *projects.Registry, runner *agentrunner.Runner, broadcaster *watch.Broadcaster) *Server {
	s := &Server{
		cfg:         cfg,
		registry:    registry,
		runner:      runner,
		broadcaster: broadcaster,
		clients:     make(map[string]*Client),
		ctx:         context.Background(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	if cfg.RateLimitRPM > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RateLimitRPM)/60.0), cfg.RateLimitRPM)
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range s.cfg.AllowedOrigins {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("security.cors_rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux. The sibling HTTP surface
// (env/project/session CRUD and sandboxed file access) is mounted onto
// the same mux, via Mux(), before Start.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	s.mux = mux
	return mux
}

// Mux exposes the built mux so the sibling HTTP layer can register its
// own routes before Start.
func (s *Server) Mux() *http.ServeMux { return s.BuildMux() }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.ProtocolVersion)
}

// Start begins serving and blocks until the context is cancelled and
// shutdown completes.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("gateway starting", "addr", addr)

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		s.shutdown()
		close(shutdownDone)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	<-shutdownDone
	return nil
}

// shutdown sends SIGTERM to every live child, closes attached sockets,
// and then stops accepting connections.
func (s *Server) shutdown() {
	s.cancel()
	s.runner.AbortAll()

	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()
	for _, c := range clients {
		c.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("gateway: websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, s)
	s.registerClient(client)
	watchID := s.broadcaster.Register(client)

	defer func() {
		s.broadcaster.Unregister(watchID)
		s.unregisterClient(client)
		client.Close()
	}()

	client.Run()
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c
	slog.Info("gateway: client connected", "id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	slog.Info("gateway: client disconnected", "id", c.id)
}

// resolveRunOptions resolves the project a run targets: a non-absolute
// projectPath/cwd is treated as a project alias and resolved through
// the registry; an already-absolute value (the common case once the UI
// has looked a project up) is taken as the real path directly. Either
// way the result is re-validated through the absolute-mode path
// sandbox before it's handed to the runner as cmd.Dir.
func (s *Server) resolveRunOptions(opts protocol.RunOptions) (protocol.RunOptions, error) {
	ref := opts.ProjectPath
	if ref == "" {
		ref = opts.Cwd
	}
	if ref == "" {
		return opts, apierr.New(apierr.InvalidArgument, "projectPath or cwd is required")
	}

	if !filepath.IsAbs(ref) {
		ref = s.registry.ResolveAlias(ref)
	}

	realCwd, err := pathsandbox.ResolveAbsolute(ref)
	if err != nil {
		return opts, err
	}

	opts.Cwd = realCwd
	opts.ProjectPath = realCwd
	return opts, nil
}
