// Package server provides the HTTP compile service for Bifrost.
// It exposes compilation, explain, view listing, and catalog reload
// endpoints over JSON.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/orneryd/bifrost/pkg/bifrost"
	"github.com/orneryd/bifrost/pkg/compiler"
	"github.com/orneryd/bifrost/pkg/cypher"
)

// Errors for HTTP operations.
var (
	ErrServerClosed  = fmt.Errorf("server closed")
	ErrInternalError = fmt.Errorf("internal server error")
)

// Config holds HTTP server configuration.
type Config struct {
	// Address to bind to (default: "0.0.0.0")
	Address string
	// Port to listen on (default: 8480)
	Port int
	// ReadTimeout for requests
	ReadTimeout time.Duration
	// WriteTimeout for responses
	WriteTimeout time.Duration
	// IdleTimeout for keep-alive connections
	IdleTimeout time.Duration
	// MaxRequestSize in bytes (default: 1MB)
	MaxRequestSize int64
	// ReloadEnabled exposes POST /views/reload
	ReloadEnabled bool
	// CatalogDir reloaded by POST /views/reload
	CatalogDir string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:        "0.0.0.0",
		Port:           8480,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxRequestSize: 1 << 20,
		ReloadEnabled:  true,
	}
}

// Server is the HTTP compile service.
type Server struct {
	config *Config
	svc    *bifrost.Service

	httpServer *http.Server
	listener   net.Listener

	closed  atomic.Bool
	started time.Time

	// Metrics
	requestCount   atomic.Int64
	errorCount     atomic.Int64
	activeRequests atomic.Int64
}

// New creates a new HTTP server around a compile service.
func New(svc *bifrost.Service, config *Config) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if svc == nil {
		return nil, fmt.Errorf("compile service required")
	}
	return &Server{config: config, svc: svc}, nil
}

// Start begins listening and serving in the background.
func (s *Server) Start() error {
	if s.closed.Load() {
		return ErrServerClosed
	}

	addr := fmt.Sprintf("%s:%d", s.config.Address, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.started = time.Now()

	s.httpServer = &http.Server{
		Handler:      s.buildRouter(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			fmt.Printf("HTTP server error: %v\n", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Stats returns server statistics.
func (s *Server) Stats() ServerStats {
	return ServerStats{
		Uptime:         time.Since(s.started),
		RequestCount:   s.requestCount.Load(),
		ErrorCount:     s.errorCount.Load(),
		ActiveRequests: s.activeRequests.Load(),
	}
}

// ServerStats holds server metrics.
type ServerStats struct {
	Uptime         time.Duration `json:"uptime"`
	RequestCount   int64         `json:"request_count"`
	ErrorCount     int64         `json:"error_count"`
	ActiveRequests int64         `json:"active_requests"`
}

func (s *Server) buildRouter() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/compile", s.handleCompile)
	mux.HandleFunc("/explain", s.handleExplain)
	mux.HandleFunc("/views", s.handleViews)
	mux.HandleFunc("/views/reload", s.handleReload)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)

	var handler http.Handler = mux
	handler = s.metricsMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.requestIDMiddleware(handler)
	handler = s.recoveryMiddleware(handler)
	return handler
}

// =============================================================================
// Middleware
// =============================================================================

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		// Health checks are noise
		if r.URL.Path != "/health" {
			fmt.Printf("[HTTP] %s %s %d %v\n", r.Method, r.URL.Path, wrapped.status, time.Since(start))
		}
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				fmt.Printf("PANIC: %v\n%s\n", err, buf[:n])

				s.errorCount.Add(1)
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requestCount.Add(1)
		s.activeRequests.Add(1)
		defer s.activeRequests.Add(-1)

		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// =============================================================================
// Handlers
// =============================================================================

// compileRequest is the body of POST /compile and POST /explain.
type compileRequest struct {
	View     string            `json:"view"`
	Query    string            `json:"query"`
	Params   map[string]any    `json:"params,omitempty"`
	ViewArgs map[string]string `json:"view_args,omitempty"`
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readCompileRequest(w, r)
	if !ok {
		return
	}

	out, err := s.svc.Compile(req.View, req.Query, req.Params, req.ViewArgs)
	if err != nil {
		s.writeCompileError(w, req.View, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readCompileRequest(w, r)
	if !ok {
		return
	}

	plan, err := s.svc.Explain(req.View, req.Query, req.Params, req.ViewArgs)
	if err != nil {
		s.writeCompileError(w, req.View, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"view": req.View,
		"plan": plan,
	})
}

func (s *Server) readCompileRequest(w http.ResponseWriter, r *http.Request) (*compileRequest, bool) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return nil, false
	}

	var req compileRequest
	body := http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return nil, false
	}
	if req.View == "" {
		s.writeError(w, http.StatusBadRequest, "view is required")
		return nil, false
	}
	if req.Query == "" {
		s.writeError(w, http.StatusBadRequest, "query is required")
		return nil, false
	}
	return &req, true
}

// writeCompileError maps the compiler error taxonomy to HTTP statuses:
// malformed or unresolvable queries are 400, a missing view is 404,
// and everything else is 500.
func (s *Server) writeCompileError(w http.ResponseWriter, view string, err error) {
	var syntaxErr *cypher.SyntaxError
	var analyzerErr *compiler.AnalyzerError
	var planningErr *compiler.PlanningError

	switch {
	case errors.As(err, &syntaxErr), errors.As(err, &planningErr):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &analyzerErr):
		if analyzerErr.Identifier == view {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleViews(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"views": s.svc.Views(),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.config.ReloadEnabled || s.config.CatalogDir == "" {
		s.writeError(w, http.StatusForbidden, "catalog reload is disabled")
		return
	}

	if err := s.svc.Registry().LoadDir(s.config.CatalogDir); err != nil {
		// The active snapshot is untouched on failure.
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("catalog reload failed: %v", err))
		return
	}
	snap := s.svc.Registry().Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"views":   snap.ViewNames(),
		"version": snap.Version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"server": s.Stats(),
		"cache":  s.svc.CacheStats(),
	})
}

// =============================================================================
// Response helpers
// =============================================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.errorCount.Add(1)
	s.writeJSON(w, status, map[string]interface{}{
		"error":   true,
		"message": message,
		"code":    status,
	})
}
