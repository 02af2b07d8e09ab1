package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/joe/internal/metrics"
	"github.com/harun/joe/pkg/chat"
	"github.com/harun/joe/pkg/commandqueue"
	"github.com/rs/zerolog"
)

const (
	defaultCookieTTL   = 24 * time.Hour
	defaultAvatarURL   = "https://api.heygen.com/v1/streaming.create_token"
	maxRequestBodySize = 1 << 20
	shutdownTimeout    = 30 * time.Second
)

// DefaultAllowPaths are reachable without logging in
var DefaultAllowPaths = []string{"/login", "/health", "/metrics"}

// Options configures the HTTP surface
type Options struct {
	Addr string
	// LoginPassword enables the login gate. Empty disables it.
	LoginPassword string
	// CookieSecret signs session cookies; required with LoginPassword
	CookieSecret string
	CookieTTL    time.Duration
	AllowPaths   []string

	AvatarAPIKey   string
	AvatarTokenURL string

	Logger zerolog.Logger
}

// Deps are the collaborators the handlers call into
type Deps struct {
	Generator chat.Generator
	Queue     *commandqueue.Queue
	Metrics   *metrics.Metrics
	// HTTPClient is used for the avatar token call
	HTTPClient *http.Client
}

// Server serves the chat surface
type Server struct {
	opts    Options
	gen     chat.Generator
	queue   *commandqueue.Queue
	metrics *metrics.Metrics
	client  *http.Client
	logger  zerolog.Logger

	gate     *AuthGate
	upgrader websocket.Upgrader
	server   *http.Server
	addr     string

	shutdownMu     sync.RWMutex
	isShuttingDown bool
	conns          sync.WaitGroup
	connCtx        context.Context
	connCancel     context.CancelFunc
}

// NewServer creates a new Server
func NewServer(opts Options, deps Deps) (*Server, error) {
	if deps.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if deps.Queue == nil {
		return nil, fmt.Errorf("command queue is required")
	}
	if opts.LoginPassword != "" && opts.CookieSecret == "" {
		return nil, fmt.Errorf("cookie secret is required when a login password is set")
	}
	if opts.CookieTTL <= 0 {
		opts.CookieTTL = defaultCookieTTL
	}
	if len(opts.AllowPaths) == 0 {
		opts.AllowPaths = DefaultAllowPaths
	}
	if opts.AvatarTokenURL == "" {
		opts.AvatarTokenURL = defaultAvatarURL
	}
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	logger := opts.Logger.With().Str("component", "server").Logger()
	if opts.LoginPassword == "" {
		logger.Warn().Msg("No login password configured, the chat surface is open")
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	return &Server{
		opts:    opts,
		gen:     deps.Generator,
		queue:   deps.Queue,
		metrics: deps.Metrics,
		client:  client,
		logger:  logger,
		gate: &AuthGate{
			allow:  opts.AllowPaths,
			tokens: newTokenIssuer(opts.CookieSecret, opts.CookieTTL),
			open:   opts.LoginPassword == "",
		},
		upgrader: websocket.Upgrader{
			CheckOrigin: sameOrigin,
		},
		connCtx:    connCtx,
		connCancel: connCancel,
	}, nil
}

// Handler returns the routes wrapped in the auth gate
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", s.handleLoginPage)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/chat", http.StatusSeeOther)
	})
	mux.HandleFunc("GET /chat", s.handleChatPage)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/avatar-token", s.handleAvatarToken)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", s.metricsHandler())

	return s.instrument(s.gate.Wrap(mux))
}

func (s *Server) metricsHandler() http.Handler {
	if s.metrics == nil {
		return http.NotFoundHandler()
	}
	return s.metrics.Handler()
}

// Start listens in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.shutdownMu.Lock()
	s.addr = ln.Addr().String()
	s.shutdownMu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Server error")
		}
	}()
	return nil
}

// Stop closes WebSocket sessions and shuts the HTTP server down
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down server")

	// WebSocket connections are hijacked, so Shutdown does not wait for them
	s.connCancel()
	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	case <-ctx.Done():
	}

	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	s.logger.Info().Msg("Server stopped")
	return nil
}

// Addr returns the bound listen address once started, else the configured one
func (s *Server) Addr() string {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	if s.addr != "" {
		return s.addr
	}
	return s.opts.Addr
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

// instrument counts requests by route pattern
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordHTTPRequest(route, rec.status)
	})
}
