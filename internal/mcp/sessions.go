// ABOUTME: In-memory registry of live SSE connections keyed by session handle.
// ABOUTME: A background sweep evicts connections that closed or went idle.

package mcp

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"

	"github.com/2389/creatio-gateway/internal/tools"
)

// streamBuffer is the number of outbound frames a connection can queue.
const streamBuffer = 64

var (
	errSessionClosed = errors.New("mcp session closed")
	errStreamFull    = errors.New("mcp session outbound queue full")
)

// session is one SSE connection and the state routed messages share.
type session struct {
	id        string
	slot      *tools.ClientSlot
	engine    *server.MCPServer
	principal string
	createdAt time.Time

	handleMu sync.Mutex // serialises message handling for in-order replies
	out      chan []byte
	done     chan struct{}
	once     sync.Once
	lastSeen atomic.Int64
}

func newSession(engine *server.MCPServer, slot *tools.ClientSlot, principal string) *session {
	s := &session{
		id:        uuid.New().String(),
		slot:      slot,
		engine:    engine,
		principal: principal,
		createdAt: time.Now(),
		out:       make(chan []byte, streamBuffer),
		done:      make(chan struct{}),
	}
	s.touch()
	return s
}

func (s *session) touch() { s.lastSeen.Store(time.Now().UnixNano()) }

func (s *session) idleSince() time.Time { return time.Unix(0, s.lastSeen.Load()) }

func (s *session) close() { s.once.Do(func() { close(s.done) }) }

func (s *session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// enqueue places a frame on the outbound queue without blocking.
func (s *session) enqueue(frame []byte) error {
	if s.closed() {
		return errSessionClosed
	}
	select {
	case s.out <- frame:
		return nil
	case <-s.done:
		return errSessionClosed
	default:
		return errStreamFull
	}
}

// RegistryConfig holds registry settings.
type RegistryConfig struct {
	// SweepInterval is how often dead connections are collected. Zero disables the sweeper.
	SweepInterval time.Duration
	// IdleTimeout evicts connections with no activity for this long. Zero disables idle eviction.
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

// Registry tracks live connections.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session

	idleTimeout time.Duration
	logger      *slog.Logger
	stop        chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// NewRegistry creates a registry and starts its sweeper.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		sessions:    make(map[string]*session),
		idleTimeout: cfg.IdleTimeout,
		logger:      logger.With("component", "mcp-sessions"),
		stop:        make(chan struct{}),
	}
	if cfg.SweepInterval > 0 {
		r.wg.Add(1)
		go r.sweepLoop(cfg.SweepInterval)
	}
	return r
}

func (r *Registry) register(s *session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.id]; exists {
		return false
	}
	r.sessions[s.id] = s
	return true
}

// Remove unregisters a connection and closes its stream. It reports
// whether the handle was registered.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		s.close()
	}
	return ok
}

func (r *Registry) get(id string) (*session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	return s, ok
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep evicts closed and idle connections and returns how many it removed.
func (r *Registry) Sweep(now time.Time) int {
	var stale []string
	r.mu.RLock()
	for id, s := range r.sessions {
		if s.closed() || (r.idleTimeout > 0 && now.Sub(s.idleSince()) > r.idleTimeout) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	removed := 0
	for _, id := range stale {
		if r.Remove(id) {
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info("swept MCP sessions", "removed", removed, "remaining", r.Count())
	}
	return removed
}

func (r *Registry) sweepLoop(interval time.Duration) {
	defer r.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.Sweep(now)
		}
	}
}

// Close stops the sweeper and closes every connection. Safe to call more than once.
func (r *Registry) Close() {
	r.stopOnce.Do(func() {
		close(r.stop)
		r.wg.Wait()

		r.mu.Lock()
		all := r.sessions
		r.sessions = make(map[string]*session)
		r.mu.Unlock()
		for _, s := range all {
			s.close()
		}
	})
}
