// Package server provides the HTTP server that wires all services together.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chongkelv123/prism-sub004/internal/bus"
	"github.com/chongkelv123/prism-sub004/internal/connection"
	"github.com/chongkelv123/prism-sub004/internal/metrics"
	"github.com/chongkelv123/prism-sub004/internal/pkg/logger"
	"github.com/chongkelv123/prism-sub004/internal/pkg/middleware"
	"github.com/chongkelv123/prism-sub004/internal/platform"
	"github.com/chongkelv123/prism-sub004/internal/report"
	"github.com/chongkelv123/prism-sub004/internal/secrets"
	"github.com/chongkelv123/prism-sub004/internal/verify"
)

// Config configures the server.
type Config struct {
	// Host is the address to bind to.
	Host string

	// Port is the HTTP port.
	Port int

	// Version is the application version.
	Version string

	// ReadTimeout is the HTTP read timeout.
	ReadTimeout time.Duration

	// WriteTimeout is the HTTP write timeout.
	WriteTimeout time.Duration

	// ShutdownTimeout is the graceful shutdown timeout.
	ShutdownTimeout time.Duration

	// RateLimit optionally overrides the request rate limit.
	RateLimit middleware.RateLimiterConfig
}

// DefaultConfig returns sensible server defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		Version:         "dev",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		RateLimit:       middleware.DefaultRateLimiterConfig(),
	}
}

// Services holds the collaborators the server exposes over HTTP.
type Services struct {
	Bus         bus.Bus
	Connections *connection.Service
	Factory     *platform.Factory
	Verifier    *verify.Verifier
	Reports     *report.Service
	Codec       secrets.Codec
	Metrics     *metrics.Metrics
}

// Server is the HTTP front of the platform service.
type Server struct {
	cfg        Config
	log        *logger.Logger
	httpServer *http.Server

	svcs        Services
	rateLimiter *middleware.RateLimiter

	mu      sync.RWMutex
	started bool
}

// New creates a new server over the given services.
func New(cfg Config, svcs Services, log *logger.Logger) *Server {
	if cfg.Port == 0 {
		cfg = DefaultConfig()
	}
	if svcs.Metrics == nil {
		svcs.Metrics = metrics.New()
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 {
		cfg.RateLimit = middleware.DefaultRateLimiterConfig()
	}
	return &Server{
		cfg:         cfg,
		log:         log,
		svcs:        svcs,
		rateLimiter: middleware.NewRateLimiter(cfg.RateLimit),
	}
}

// Start starts the HTTP server. Blocks until the listener closes.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.started = true
	s.mu.Unlock()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info("Starting HTTP server", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("HTTP shutdown error", "error", err)
	}

	s.started = false
	s.log.Info("Server stopped")
	return nil
}

// Handler builds the full middleware-wrapped route tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", metrics.Handler(s.svcs.Metrics))

	mux.HandleFunc("POST /test-connection", s.handleTestConnection)

	mux.HandleFunc("POST /connections", s.handleRegisterConnection)
	mux.HandleFunc("GET /connections", s.handleListConnections)
	mux.HandleFunc("GET /connections/{id}", s.handleGetConnection)
	mux.HandleFunc("DELETE /connections/{id}", s.handleDeleteConnection)
	mux.HandleFunc("POST /connections/{id}/test", s.handleRequestTest)
	mux.HandleFunc("POST /connections/{id}/sync", s.handleRequestSync)
	mux.HandleFunc("POST /connections/{id}/report", s.handleRequestReport)

	var handler http.Handler = mux
	handler = metrics.HTTPMiddleware(s.svcs.Metrics, handler)
	handler = s.rateLimiter.Middleware(handler)
	return s.wrapWithLogging(handler)
}

func (s *Server) wrapWithLogging(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		handler.ServeHTTP(wrapped, r)

		s.log.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Health reports whether the server has started.
func (s *Server) Health() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
