package task

import (
	"context"
	"sync"
)

// Store persists task snapshots beyond the lifetime of the process. Load returns an error
// matching ErrUnknownTask when id was never saved.
type Store interface {
	Save(ctx context.Context, t *Task) error
	Load(ctx context.Context, id string) (*Task, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// MemoryStore is a Store backed by a map. It is mostly useful in tests and as the default when no
// durable backend is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

func (s *MemoryStore) Save(ctx context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t.Clone()
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, &UnknownTaskError{ID: id}
	}
	return t.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

func (s *MemoryStore) Close() error { return nil }
