// ABOUTME: ClientSlot holds the active Creatio client for one caller scope.
// ABOUTME: Each SSE session and each dashboard browser session owns its own slot.

package tools

import (
	"context"
	"sync"
	"time"

	"github.com/2389/creatio-gateway/internal/creatio"
)

// Records is the part of *creatio.Client the dispatcher drives.
type Records interface {
	TestConnection(ctx context.Context) error
	QueryAccounts(ctx context.Context, opts creatio.QueryOptions) (*creatio.QueryResult, error)
	GetAccount(ctx context.Context, id string) (*creatio.Account, error)
	CreateAccount(ctx context.Context, fields creatio.AccountFields) (*creatio.Account, error)
	UpdateAccount(ctx context.Context, id string, fields creatio.AccountFields) error
	DeleteAccount(ctx context.Context, id string) error
}

// ClientSlot is a replaceable reference to an authenticated client. It is
// set by a successful connection test and cleared on explicit disconnect.
type ClientSlot struct {
	mu          sync.RWMutex
	client      Records
	baseURL     string
	connectedAt time.Time
}

// NewClientSlot creates an empty slot.
func NewClientSlot() *ClientSlot {
	return &ClientSlot{}
}

// Get returns the active client, if any.
func (s *ClientSlot) Get() (Records, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client, s.client != nil
}

// Set promotes client to active.
func (s *ClientSlot) Set(client Records, baseURL string) {
	s.mu.Lock()
	s.client = client
	s.baseURL = baseURL
	s.connectedAt = time.Now()
	s.mu.Unlock()
}

// Clear drops the active client.
func (s *ClientSlot) Clear() {
	s.mu.Lock()
	s.client = nil
	s.baseURL = ""
	s.connectedAt = time.Time{}
	s.mu.Unlock()
}

// Info reports where the slot is connected, for logging and the dashboard.
func (s *ClientSlot) Info() (baseURL string, connectedAt time.Time, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseURL, s.connectedAt, s.client != nil
}
