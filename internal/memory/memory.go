package memory

import (
	"context"
	"sync"

	"whatsbot/internal/domain"
)

// InMemoryStore keeps conversation windows in a process-local map. Contents
// are lost on restart.
type InMemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string][]domain.Turn
	window    int
	pinSystem bool
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore(window int, pinSystem bool) *InMemoryStore {
	if window <= 0 {
		window = DefaultWindow
	}
	return &InMemoryStore{
		sessions:  make(map[string][]domain.Turn),
		window:    window,
		pinSystem: pinSystem,
	}
}

// Get returns a copy of the stored turns; mutating it does not affect the store.
func (s *InMemoryStore) Get(ctx context.Context, key string) ([]domain.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := s.sessions[key]
	out := make([]domain.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *InMemoryStore) Append(ctx context.Context, key string, turns ...domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	combined := append(append([]domain.Turn{}, s.sessions[key]...), turns...)
	s.sessions[key] = Trim(combined, s.window, s.pinSystem)
	return nil
}

func (s *InMemoryStore) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}

// Len returns the number of users with stored history.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string][]domain.Turn)
	return nil
}
