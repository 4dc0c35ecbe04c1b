package auth

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	createdAt time.Time
}

// expiringStore is a mutex-guarded map whose entries stop being visible once
// they are older than ttl, whether or not they have been swept yet.
type expiringStore[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	ttl     time.Duration
	now     func() time.Time
}

func newExpiringStore[V any](ttl time.Duration) *expiringStore[V] {
	return &expiringStore[V]{
		entries: make(map[string]entry[V]),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *expiringStore[V]) expired(e entry[V], now time.Time) bool {
	return now.Sub(e.createdAt) > s.ttl
}

func (s *expiringStore[V]) put(key string, v V) time.Time {
	now := s.now()
	s.mu.Lock()
	s.entries[key] = entry[V]{value: v, createdAt: now}
	s.mu.Unlock()
	return now
}

func (s *expiringStore[V]) get(key string) (V, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || s.expired(e, s.now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// take removes key and returns its value if it was present and live.
// Concurrent callers for the same key get ok=true at most once.
func (s *expiringStore[V]) take(key string) (V, bool) {
	s.mu.Lock()
	e, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()
	if !ok || s.expired(e, s.now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (s *expiringStore[V]) delete(key string) (V, bool) {
	s.mu.Lock()
	e, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()
	return e.value, ok
}

// cleanup removes expired entries and returns their values.
func (s *expiringStore[V]) cleanup() []V {
	now := s.now()
	var evicted []V
	s.mu.Lock()
	for key, e := range s.entries {
		if s.expired(e, now) {
			evicted = append(evicted, e.value)
			delete(s.entries, key)
		}
	}
	s.mu.Unlock()
	return evicted
}

func (s *expiringStore[V]) values() []V {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]V, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.value)
	}
	return out
}

func (s *expiringStore[V]) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
