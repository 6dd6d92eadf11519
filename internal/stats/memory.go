package stats

import (
	"context"
	"sync"

	"lompapi/internal/gate"
)

// MemoryRecorder keeps counters in process memory. Nothing expires.
type MemoryRecorder struct {
	mu    sync.Mutex
	total Counters
	byKey map[string]Counters
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{byKey: make(map[string]Counters)}
}

// Record implements gate.Recorder.
func (s *MemoryRecorder) Record(_ context.Context, ev gate.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev)
	if ev.KeyID != "" {
		c := s.byKey[ev.KeyID]
		c.add(ev)
		s.byKey[ev.KeyID] = c
	}
	return nil
}

func (s *MemoryRecorder) Totals(context.Context) (Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total.clone(), nil
}

func (s *MemoryRecorder) ForKey(_ context.Context, keyID string) (Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byKey[keyID].clone(), nil
}
