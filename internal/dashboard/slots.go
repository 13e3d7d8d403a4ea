// ABOUTME: Thread-safe TTL store of per-browser client slots for the dashboard.
// ABOUTME: Size-limited with oldest-first eviction and periodic cleanup of idle entries.

package dashboard

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/creatio-gateway/internal/tools"
)

// slotEntry stores the slot, its last use and its list element.
type slotEntry struct {
	slot     *tools.ClientSlot
	lastUsed time.Time
	element  *list.Element
}

// SlotStore keeps one ClientSlot per dashboard browser session. Entries
// expire after ttl without use. Uses a doubly-linked list ordered by last
// use for O(1) eviction.
type SlotStore struct {
	mu      sync.Mutex
	entries map[string]*slotEntry
	order   *list.List // ids, least recently used at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// NewSlotStore creates a store with the given TTL and maximum size.
// A background goroutine periodically removes expired entries.
func NewSlotStore(ttl time.Duration, maxSize int) *SlotStore {
	if maxSize <= 0 {
		maxSize = 1
	}
	s := &SlotStore{
		entries: make(map[string]*slotEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go s.cleanup(cleanupInterval(ttl))
	return s
}

func cleanupInterval(ttl time.Duration) time.Duration {
	if ttl > 0 && ttl < time.Minute {
		return ttl
	}
	return time.Minute
}

// Get returns the slot for id and refreshes its expiry.
func (s *SlotStore) Get(id string) (*tools.ClientSlot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	now := s.now()
	if s.expired(entry, now) {
		s.removeLocked(id, entry)
		return nil, false
	}
	entry.lastUsed = now
	s.order.MoveToBack(entry.element)
	return entry.slot, true
}

// Create allocates a fresh slot under a new id. If the store is at
// capacity the least recently used entry is evicted to make room.
func (s *SlotStore) Create() (string, *tools.ClientSlot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	id := uuid.New().String()
	slot := tools.NewClientSlot()
	s.entries[id] = &slotEntry{
		slot:     slot,
		lastUsed: s.now(),
		element:  s.order.PushBack(id),
	}
	return id, slot
}

// Remove drops id and clears its slot.
func (s *SlotStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if ok {
		s.removeLocked(id, entry)
	}
	return ok
}

// Len returns the number of stored slots.
func (s *SlotStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *SlotStore) expired(e *slotEntry, now time.Time) bool {
	return s.ttl > 0 && now.Sub(e.lastUsed) > s.ttl
}

// removeLocked must be called with mu held.
func (s *SlotStore) removeLocked(id string, e *slotEntry) {
	s.order.Remove(e.element)
	delete(s.entries, id)
	e.slot.Clear()
}

// evictOldest must be called with mu held.
func (s *SlotStore) evictOldest() {
	front := s.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	if e, ok := s.entries[id]; ok {
		s.removeLocked(id, e)
	}
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (s *SlotStore) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runCleanup()
		case <-s.done:
			return
		}
	}
}

// runCleanup removes all expired entries and returns how many it dropped.
func (s *SlotStore) runCleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, entry := range s.entries {
		if s.expired(entry, now) {
			s.removeLocked(id, entry)
			removed++
		}
	}
	return removed
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (s *SlotStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.done)
		s.closed = true
	}
}
