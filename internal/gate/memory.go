package gate

import (
	"context"
	"sync"
)

type memoryWindow struct {
	start int64
	count int
}

// MemoryWindowStore keeps windows in process memory. Counters are lost on restart.
type MemoryWindowStore struct {
	mu      sync.Mutex
	windows map[string]memoryWindow
}

func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{windows: make(map[string]memoryWindow)}
}

// Admit implements WindowStore.
func (s *MemoryWindowStore) Admit(_ context.Context, keyID string, windowStart int64, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[keyID]
	if ok && w.start == windowStart {
		if w.count >= limit {
			return false, nil
		}
		w.count++
		s.windows[keyID] = w
		return true, nil
	}
	s.windows[keyID] = memoryWindow{start: windowStart, count: 1}
	return true, nil
}

// Count returns the stored counter of a key and the window it belongs to.
func (s *MemoryWindowStore) Count(keyID string) (windowStart int64, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.windows[keyID]
	return w.start, w.count
}

// Purge drops windows that started before the given epoch second and returns how many were removed.
func (s *MemoryWindowStore) Purge(before int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, w := range s.windows {
		if w.start < before {
			delete(s.windows, id)
			n++
		}
	}
	return n
}
