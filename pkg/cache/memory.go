package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultTTL is the fallback TTL when Put is called without one.
const DefaultTTL = 5 * time.Minute

// memoryEntry is a single cached value plus its position in the LRU list.
type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// MemoryStore is a bounded in-process cache with per-entry TTL and LRU
// eviction. All operations are O(1) and safe for concurrent use.
type MemoryStore struct {
	mu         sync.Mutex
	maxSize    int
	defaultTTL time.Duration
	order      *list.List // front = most recently used
	items      map[string]*list.Element
}

// NewMemoryStore creates a memory store holding at most maxSize entries.
// Entries written without an explicit TTL expire after defaultTTL.
func NewMemoryStore(maxSize int, defaultTTL time.Duration) *MemoryStore {
	if maxSize <= 0 {
		panic("cache: maxSize must be positive")
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &MemoryStore{
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		order:      list.New(),
		items:      make(map[string]*list.Element, maxSize),
	}
}

// Get returns the cached value for key and refreshes its recency.
// An expired entry is removed and reported as a miss.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		cacheMisses.Inc()
		return nil, false
	}

	entry := el.Value.(*memoryEntry)
	if !time.Now().Before(entry.expiresAt) {
		s.removeElement(el)
		cacheMisses.Inc()
		cacheExpirations.Inc()
		return nil, false
	}

	s.order.MoveToFront(el)
	cacheHits.WithLabelValues("memory").Inc()
	return entry.value, true
}

// Put stores value under key with the given TTL, evicting the least
// recently used entry first when the store is at capacity. Writing an
// existing key replaces its value and TTL and refreshes its recency.
func (s *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	expiresAt := time.Now().Add(ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		s.order.MoveToFront(el)
		return
	}

	if s.order.Len() >= s.maxSize {
		if oldest := s.order.Back(); oldest != nil {
			s.removeElement(oldest)
			cacheEvictions.Inc()
		}
	}

	el := s.order.PushFront(&memoryEntry{key: key, value: value, expiresAt: expiresAt})
	s.items[key] = el
	cacheSize.WithLabelValues("memory").Set(float64(s.order.Len()))
}

// Invalidate removes key from the store.
func (s *MemoryStore) Invalidate(_ context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		s.removeElement(el)
	}
}

// Len returns the number of entries currently held, including entries that
// have expired but not yet been lazily removed.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// removeElement deletes an entry from both the map and the LRU list.
// Callers must hold s.mu.
func (s *MemoryStore) removeElement(el *list.Element) {
	entry := el.Value.(*memoryEntry)
	s.order.Remove(el)
	delete(s.items, entry.key)
	cacheSize.WithLabelValues("memory").Set(float64(s.order.Len()))
}
