// Package server implements the relay's HTTP front door. It routes
// forwarding endpoints, health checks, and the admin API, and manages
// server lifecycle.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llmrelay/llm-relay/internal/admin"
	"github.com/llmrelay/llm-relay/internal/config"
	"github.com/llmrelay/llm-relay/internal/forward"
	"github.com/llmrelay/llm-relay/internal/resolver"
	"github.com/llmrelay/llm-relay/internal/store"
)

// Version is the application version, following semantic versioning.
const Version = "0.1.0"

type ctxKey string

const ctxKeyRequestID ctxKey = "request_id"

// Forwarded endpoints. Anything else under /v1 is rejected rather than
// relayed.
var forwardPaths = map[string]struct{}{
	"/v1/chat/completions": {},
	"/v1/completions":      {},
	"/v1/embeddings":       {},
}

// Preflight grants for browser callers of both the relay endpoints and
// the admin API.
const (
	allowedMethods = "GET, POST, PUT, DELETE, OPTIONS"
	allowedHeaders = "Content-Type, Authorization, x-target-api-url, x-target-api-key, x-target-profile"
)

// Server is the HTTP server for the relay. It owns the listener and
// dispatches to the forwarding engine and the admin API.
type Server struct {
	server *http.Server
	config *config.Config
	store  store.Store
	engine *forward.Engine
	admin  http.Handler
	logger *zap.Logger
}

// HealthResponse is the response body for the health check endpoint.
type HealthResponse struct {
	Status    string    `json:"status"`    // "ok" for a healthy system
	Message   string    `json:"message"`   // Human-readable service banner
	Timestamp time.Time `json:"timestamp"` // Current server time
	Version   string    `json:"version"`   // Application version number
}

// New wires the relay together: resolver, forwarding engine, admin
// API, and the HTTP server itself. The server is not started until
// Start is called.
func New(cfg *config.Config, s store.Store, profiles *config.TargetProfiles, logger *zap.Logger) (*Server, error) {
	res := resolver.New(s, profiles, cfg.DefaultAPIURL, cfg.DefaultAPIKey, logger)
	engine := forward.New(res, s, cfg.RequestTimeout, logger)

	var auth admin.Authenticator
	switch cfg.AdminAuth {
	case config.AdminAuthNone:
		auth = admin.AllowAll{}
	default:
		auth = admin.NewBearerAuth(s, cfg.AdminToken)
	}
	adminAPI := admin.New(s, auth, cfg.DefaultAPIURL, cfg.AdminConsolePath, logger)

	srv := &Server{
		config: cfg,
		store:  s,
		engine: engine,
		admin:  adminAPI.Router(),
		logger: logger,
	}
	srv.server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
		// WriteTimeout would cut off long streamed completions, so only
		// header reads and idle connections are bounded here.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * cfg.RequestTimeout,
	}
	return srv, nil
}

// Handler returns the fully assembled root handler.
func (s *Server) Handler() http.Handler {
	return s.recoverMiddleware(s.logRequestMiddleware(s.requireHTTPSMiddleware(s.route)))
}

// route is the top-level dispatcher.
func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		s.handlePreflight(w, r)
		return
	}

	path := r.URL.Path
	switch {
	case path == "/" || path == "/health":
		s.requireMethod(w, r, http.MethodGet, s.handleHealth)
	case path == "/admin" || strings.HasPrefix(path, "/admin/"):
		s.admin.ServeHTTP(w, r)
	case strings.HasPrefix(path, "/v1/"):
		s.handleForward(w, r)
	default:
		s.handleNotFound(w, r)
	}
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", allowedMethods)
	// Echo the requested headers when the browser names them.
	if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
		h.Set("Access-Control-Allow-Headers", requested)
	} else {
		h.Set("Access-Control-Allow-Headers", allowedHeaders)
	}
	h.Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Message:   "LLM Relay is running",
		Timestamp: time.Now().UTC(),
		Version:   Version,
	})
}

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	if _, ok := forwardPaths[r.URL.Path]; !ok {
		s.handleNotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.engine.ServeHTTP(w, r)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("route not found",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("remote_addr", r.RemoteAddr),
	)
	s.writeError(w, http.StatusNotFound, "not found")
}

// requireMethod rejects everything but the given method with a 405.
func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string, next http.HandlerFunc) {
	if r.Method != method {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	next(w, r)
}

// requireHTTPSMiddleware enforces HTTPS in production. The relay
// usually sits behind a TLS-terminating proxy, so the forwarded
// protocol header counts as well as a direct TLS connection.
func (s *Server) requireHTTPSMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.IsProduction() && r.TLS == nil &&
			!strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
			s.writeError(w, http.StatusForbidden, "HTTPS is required")
			return
		}
		next(w, r)
	}
}

// logRequestMiddleware logs all incoming requests with timing
// information.
func (s *Server) logRequestMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		requestID := uuid.New().String()
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		s.logger.Info("request started",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
		)

		next(rw, r.WithContext(ctx))

		duration := time.Since(startTime)
		s.logger.Info("request completed",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status_code", rw.statusCode),
			zap.Duration("duration", duration),
		)
	}
}

// recoverMiddleware turns panics into 500 responses instead of
// dropping the connection.
func (s *Server) recoverMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panicked",
					zap.Any("panic", rec),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				)
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next(w, r)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, admin.ErrorResponse{Error: message})
}

// Start begins serving. It blocks until the server is shut down or an
// unrecoverable error occurs.
func (s *Server) Start() error {
	s.logger.Info("server starting",
		zap.String("addr", s.config.ListenAddr),
		zap.String("env", s.config.AppEnv),
		zap.String("store", s.config.StoreBackend),
	)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server without interrupting
// in-flight requests, then closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	return s.store.Close()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwarding keeps streamed responses unbuffered through the
// middleware chain.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
