// ABOUTME: MCP SSE transport: one long-lived event stream per agent plus a POST endpoint.
// ABOUTME: Posted JSON-RPC messages are handled by the connection's engine and answered on its stream.

package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/creatio-gateway/internal/auth"
	"github.com/2389/creatio-gateway/internal/tools"
)

// MaxRequestBodySize is the maximum allowed size for posted messages (1MB).
const MaxRequestBodySize = 1 << 20

// DefaultKeepaliveInterval is used when Config.KeepaliveInterval is zero.
const DefaultKeepaliveInterval = 30 * time.Second

// Route paths.
const (
	PathSSE      = "/mcp/sse"
	PathMessages = "/mcp/messages"
	PathHealth   = "/mcp/health"
)

// Config holds configuration for the MCP server.
type Config struct {
	Dispatcher *tools.Dispatcher
	Registry   *Registry
	Logger     *slog.Logger
	// Name and Version are advertised in the initialize handshake.
	Name    string
	Version string
	// KeepaliveInterval is the gap between ": ping" comments on idle streams.
	KeepaliveInterval time.Duration
	// Protect wraps the stream and message endpoints, typically with auth.Middleware.
	Protect func(http.Handler) http.Handler
}

// Server implements the MCP SSE transport.
type Server struct {
	dispatcher *tools.Dispatcher
	registry   *Registry
	logger     *slog.Logger
	name       string
	version    string
	keepalive  time.Duration
	protect    func(http.Handler) http.Handler
	now        func() time.Time
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry(RegistryConfig{Logger: logger})
	}
	keepalive := cfg.KeepaliveInterval
	if keepalive <= 0 {
		keepalive = DefaultKeepaliveInterval
	}
	name := cfg.Name
	if name == "" {
		name = "creatio-gateway"
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	protect := cfg.Protect
	if protect == nil {
		protect = func(h http.Handler) http.Handler { return h }
	}

	return &Server{
		dispatcher: cfg.Dispatcher,
		registry:   registry,
		logger:     logger.With("component", "mcp"),
		name:       name,
		version:    version,
		keepalive:  keepalive,
		protect:    protect,
		now:        time.Now,
	}, nil
}

// Registry exposes the connection registry.
func (s *Server) Registry() *Registry { return s.registry }

// Close unregisters every connection and stops the sweeper.
func (s *Server) Close() { s.registry.Close() }

// RegisterRoutes registers the MCP endpoints on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle(PathSSE, withCORS(s.protect(http.HandlerFunc(s.handleSSE)), http.MethodGet))
	mux.Handle(PathMessages, withCORS(s.protect(http.HandlerFunc(s.handleMessages)), http.MethodPost))
	mux.Handle(PathHealth, withCORS(http.HandlerFunc(s.handleHealth), http.MethodGet))
}

// withCORS answers preflight requests and rejects other methods.
func withCORS(next http.Handler, method string) http.Handler {
	allow := method + ", OPTIONS"
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		switch r.Method {
		case http.MethodOptions:
			w.Header().Set("Access-Control-Allow-Methods", allow)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
		case method:
			next.ServeHTTP(w, r)
		default:
			w.Header().Set("Allow", allow)
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		}
	})
}

// endpointURL is the POST target announced to a new stream.
func endpointURL(sessionID string) string {
	return PathMessages + "?sessionId=" + sessionID
}

// handleSSE opens an event stream and keeps it alive until the client goes away.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	slot := tools.NewClientSlot()
	sess := newSession(s.dispatcher.MCPServer(slot, s.name, s.version), slot, auth.SubjectFromContext(r.Context()))
	if !s.registry.register(sess) {
		http.Error(w, "session handle collision", http.StatusInternalServerError)
		return
	}
	defer func() {
		s.registry.Remove(sess.id)
		s.logger.Info("MCP stream closed",
			"session_id", sess.id,
			"duration", time.Since(sess.createdAt).Round(time.Second),
		)
	}()

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "endpoint", []byte(endpointURL(sess.id))); err != nil {
		return
	}
	flusher.Flush()

	s.logger.Info("MCP stream opened",
		"session_id", sess.id,
		"principal", sess.principal,
		"remote_addr", r.RemoteAddr,
	)

	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sess.done:
			return
		case frame := <-sess.out:
			if err := writeEvent(w, "message", frame); err != nil {
				s.logger.Debug("stream write failed", "session_id", sess.id, "error", err)
				return
			}
			flusher.Flush()
			sess.touch()
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
			sess.touch()
		}
	}
}

func writeEvent(w io.Writer, event string, data []byte) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// handleMessages routes a posted JSON-RPC message to its connection.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "Bad Request: missing sessionId", http.StatusBadRequest)
		return
	}
	sess, ok := s.registry.get(sessionID)
	if !ok || sess.closed() {
		http.Error(w, "Not Found: unknown session", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		http.Error(w, "Bad Request: failed to read body", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
		return
	}
	if !json.Valid(body) {
		http.Error(w, "Bad Request: invalid JSON", http.StatusBadRequest)
		return
	}

	frame, err := s.handle(r, sess, body)
	if err != nil {
		s.logger.Error("MCP message handling failed", "session_id", sess.id, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	sess.touch()

	if frame != nil {
		if err := sess.enqueue(frame); err != nil {
			if errors.Is(err, errSessionClosed) {
				http.Error(w, "Not Found: session closed", http.StatusNotFound)
				return
			}
			s.logger.Warn("could not queue MCP response", "session_id", sess.id, "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	}

	w.WriteHeader(http.StatusAccepted)
	_, _ = io.WriteString(w, "Accepted")
}

// handle runs one message through the session engine under its lock.
// A nil frame means there is nothing to send back.
func (s *Server) handle(r *http.Request, sess *session, body []byte) (frame []byte, err error) {
	sess.handleMu.Lock()
	defer sess.handleMu.Unlock()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	resp := sess.engine.HandleMessage(r.Context(), json.RawMessage(body))
	if resp == nil {
		return nil, nil
	}
	return json.Marshal(resp)
}

// HealthResponse is the body of GET /mcp/health.
type HealthResponse struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"activeSessions"`
	Timestamp      string `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(HealthResponse{
		Status:         "ok",
		ActiveSessions: s.registry.Count(),
		Timestamp:      s.now().UTC().Format(time.RFC3339),
	}); err != nil {
		s.logger.Warn("failed to encode health response", "error", err)
	}
}
