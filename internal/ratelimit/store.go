package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Store holds the sliding windows. Implementations must serialize writers
// of a single key.
type Store interface {
	// Admit prunes the window for key and records now if fewer than limit
	// timestamps remain. It reports whether the request was admitted.
	Admit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (bool, error)
	// Compact removes keys whose windows are fully expired and returns how
	// many were removed.
	Compact(ctx context.Context, now time.Time, window time.Duration) (int, error)
	// Len returns the number of live keys.
	Len() int
}

type windowEntry struct {
	mu     sync.Mutex
	stamps []time.Time
	// dead is set once compaction unlinked the entry from the map.
	dead bool
}

func (w *windowEntry) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// MemoryStore keeps windows in process memory with one lock per key.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*windowEntry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*windowEntry)}
}

func (s *MemoryStore) entry(key string) *windowEntry {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[key]; ok {
		return e
	}
	e = &windowEntry{}
	s.entries[key] = e
	return e
}

func (s *MemoryStore) Admit(_ context.Context, key string, now time.Time, window time.Duration, limit int) (bool, error) {
	for {
		e := s.entry(key)
		e.mu.Lock()
		if e.dead {
			// Lost a race with Compact; pick up the fresh entry.
			e.mu.Unlock()
			continue
		}
		e.prune(now, window)
		if len(e.stamps) >= limit {
			e.mu.Unlock()
			return false, nil
		}
		e.stamps = append(e.stamps, now)
		e.mu.Unlock()
		return true, nil
	}
}

func (s *MemoryStore) Compact(_ context.Context, now time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		e.mu.Lock()
		e.prune(now, window)
		if len(e.stamps) == 0 {
			e.dead = true
			delete(s.entries, key)
			removed++
		}
		e.mu.Unlock()
	}
	return removed, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
