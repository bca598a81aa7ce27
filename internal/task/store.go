package task

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	// ErrNotFound indicates an unknown task id.
	ErrNotFound = errors.New("task not found")

	// ErrInvalidTransition indicates a state-machine violation.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Filter selects tasks for listing.
type Filter struct {
	Status Status
	Type   Type
	Limit  int
	Offset int
}

// Store holds task records keyed by id. The orchestration logic depends only
// on this interface; MemoryStore serves tests and single-instance deployments,
// and a durable keyed store can back multi-instance deployments.
type Store interface {
	// Put inserts or replaces a record.
	Put(ctx context.Context, t *Task) error

	// Get returns a snapshot of the record. The snapshot is a deep copy;
	// callers never observe concurrent pipeline mutations.
	Get(ctx context.Context, id string) (*Task, error)

	// Update applies fn to the canonical record under the store's lock.
	// Returns a snapshot of the updated record.
	Update(ctx context.Context, id string, fn func(*Task) error) (*Task, error)

	// List returns summaries matching the filter, newest first.
	List(ctx context.Context, f Filter) ([]Summary, error)
}

// MemoryStore is a process-lifetime, mutex-guarded Store.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

// Put inserts or replaces a record.
func (s *MemoryStore) Put(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t.Clone()
	return nil
}

// Get returns a deep-copied snapshot of the record.
func (s *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

// Update applies fn to the canonical record under the write lock. If fn
// returns an error the record is left unchanged.
func (s *MemoryStore) Update(_ context.Context, id string, fn func(*Task) error) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	scratch := t.Clone()
	if err := fn(scratch); err != nil {
		return nil, err
	}
	s.tasks[id] = scratch
	return scratch.Clone(), nil
}

// List returns summaries matching the filter, newest first.
func (s *MemoryStore) List(_ context.Context, f Filter) ([]Summary, error) {
	s.mu.RLock()
	matched := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		matched = append(matched, t)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return []Summary{}, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}

	out := make([]Summary, 0, len(matched))
	for _, t := range matched {
		out = append(out, t.Summarize())
	}
	return out, nil
}
