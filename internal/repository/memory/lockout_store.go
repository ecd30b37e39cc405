package memory

import (
	"context"
	"sync"
	"time"

	"github.com/maypok86/otter"

	"mealzee-auth/internal/models"
	"mealzee-auth/internal/repository"
)

// LockoutStore tracks failure windows per phone.
type LockoutStore struct {
	mu      sync.Mutex
	entries otter.CacheWithVariableTTL[string, models.LockoutEntry]
}

func NewLockoutStore(capacity int) (*LockoutStore, error) {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	entries, err := otter.MustBuilder[string, models.LockoutEntry](capacity).WithVariableTTL().Build()
	if err != nil {
		return nil, err
	}
	return &LockoutStore{entries: entries}, nil
}

func (s *LockoutStore) Get(_ context.Context, phone string) (*models.LockoutEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries.Get(phone)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &entry, nil
}

func (s *LockoutStore) RecordFailure(_ context.Context, phone string, now time.Time, policy repository.LockoutPolicy) (*models.LockoutEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *models.LockoutEntry
	if entry, ok := s.entries.Get(phone); ok {
		current = &entry
	}
	next := repository.ApplyFailure(current, phone, now, policy)
	// Any window or lock is over within one window from now.
	s.entries.Set(phone, *next, policy.Window)

	out := *next
	return &out, nil
}

func (s *LockoutStore) Clear(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries.Delete(phone)
	return nil
}

func (s *LockoutStore) Count(_ context.Context) (int, error) {
	return s.entries.Size(), nil
}

func (s *LockoutStore) Close() {
	s.entries.Close()
}

var _ repository.LockoutStore = (*LockoutStore)(nil)
